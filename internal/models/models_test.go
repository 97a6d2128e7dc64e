package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(StatusAwaitingSignature))
	assert.False(t, IsTerminal(StatusPending))
	assert.True(t, IsTerminal(StatusExecuted))
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusExpired))
	assert.False(t, IsTerminal("UNKNOWN"))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("inputAmount", "must be greater than 0")
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "inputAmount")

	wrapped := fmt.Errorf("create failed: %w", err)
	assert.True(t, IsValidation(wrapped))

	assert.False(t, IsValidation(errors.New("other")))
	assert.False(t, IsValidation(ErrOrderNotFound))
}

func TestSentinelErrors(t *testing.T) {
	wrapped := fmt.Errorf("order abc is EXECUTED: %w", ErrInvalidState)
	assert.True(t, errors.Is(wrapped, ErrInvalidState))
	assert.False(t, errors.Is(wrapped, ErrOrderNotFound))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/orderflow")
	t.Setenv("RPC_URL", "wss://localhost:8546")
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("COSIGNER_PRIVATE_KEY", "0xabc123")
	t.Setenv("REACTOR_ADDRESS", "0x00000011F84B9aa48e5f8aA8B9897600006289Be")
	t.Setenv("PERMIT2_ADDRESS", "0x000000000022D473030F116dDEE9F6B43aC78BA3")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, time.Hour, cfg.Protocol.OrderTTL)
	assert.Equal(t, 5*time.Minute, cfg.Protocol.DecayWindow)
	assert.Equal(t, int64(9000), cfg.Protocol.DecayFloorBps)
	assert.True(t, cfg.Protocol.VerifySigs)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, time.Minute, cfg.ReapInterval)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ORDER_TTL_SEC", "7200")
	t.Setenv("DECAY_WINDOW_SEC", "600")
	t.Setenv("DECAY_FLOOR_BPS", "9500")
	t.Setenv("VERIFY_ORDER_SIGNATURES", "false")
	t.Setenv("REAPER_INTERVAL_SEC", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Protocol.OrderTTL)
	assert.Equal(t, 10*time.Minute, cfg.Protocol.DecayWindow)
	assert.Equal(t, int64(9500), cfg.Protocol.DecayFloorBps)
	assert.False(t, cfg.Protocol.VerifySigs)
	assert.Equal(t, time.Duration(0), cfg.ReapInterval)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{"Missing Database URL", "DATABASE_URL"},
		{"Missing RPC URL", "RPC_URL"},
		{"Missing Cosigner Key", "COSIGNER_PRIVATE_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_RejectsBadDecayPolicy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DECAY_FLOOR_BPS", "20000")
	_, err := Load()
	assert.Error(t, err)

	setRequiredEnv(t)
	t.Setenv("DECAY_FLOOR_BPS", "9000")
	t.Setenv("ORDER_TTL_SEC", "60")
	t.Setenv("DECAY_WINDOW_SEC", "120")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadChainID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CHAIN_ID", "-5")
	_, err := Load()
	assert.Error(t, err)
}

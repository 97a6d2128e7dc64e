package dutch

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"orderflow/internal/models"
)

// Input is the token the swapper sells. For a Dutch order the input is
// fixed; only the output decays.
type Input struct {
	Token       common.Address
	StartAmount *big.Int
	EndAmount   *big.Int
}

// Output is a token the swapper receives, decaying from StartAmount down to
// EndAmount between the decay window bounds.
type Output struct {
	Token       common.Address
	StartAmount *big.Int
	EndAmount   *big.Int
	Recipient   common.Address
}

// CosignerData is the decay commitment the cosigner endorses: the decay
// window plus the worst-case amount overrides. The cosigner signs this, not
// the full order, so the endorsement can happen before the swapper signs.
type CosignerData struct {
	DecayStartTime         uint64
	DecayEndTime           uint64
	ExclusiveFiller        common.Address
	ExclusivityOverrideBps *big.Int
	InputOverride          *big.Int
	OutputOverrides        []*big.Int
}

// Order is the full cosigned Dutch order as committed to the swapper.
type Order struct {
	Reactor      common.Address
	Swapper      common.Address
	Nonce        *big.Int
	Deadline     uint64
	Cosigner     common.Address
	Input        Input
	Outputs      []Output
	CosignerData CosignerData
	Cosignature  []byte
}

// Intent is a client request to build an order. Amounts are base units of
// the respective tokens.
type Intent struct {
	Swapper      string
	InputToken   string
	InputAmount  *big.Int
	OutputToken  string
	OutputAmount *big.Int
	Nonce        *big.Int
}

// Validate checks the intent against the order invariants: well-formed
// addresses, strictly positive amounts, distinct tokens.
func (in *Intent) Validate() error {
	if err := validateAddress(in.Swapper, "swapper"); err != nil {
		return err
	}
	if err := validateAddress(in.InputToken, "inputToken"); err != nil {
		return err
	}
	if err := validateAddress(in.OutputToken, "outputToken"); err != nil {
		return err
	}
	if err := validateAmount(in.InputAmount, "inputAmount"); err != nil {
		return err
	}
	if err := validateAmount(in.OutputAmount, "outputAmount"); err != nil {
		return err
	}
	if strings.EqualFold(in.InputToken, in.OutputToken) {
		return models.NewValidationError("outputToken", "input and output tokens cannot be the same")
	}
	if in.Nonce == nil || in.Nonce.Sign() < 0 {
		return models.NewValidationError("nonce", "must be a non-negative integer")
	}
	return nil
}

func validateAddress(addr, param string) error {
	if addr == "" {
		return models.NewValidationError(param, "must not be empty")
	}
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return models.NewValidationError(param, "must be a 0x-prefixed 20-byte hex address")
	}
	if !common.IsHexAddress(addr) {
		return models.NewValidationError(param, "invalid address")
	}
	return nil
}

func validateAmount(amount *big.Int, param string) error {
	if amount == nil || amount.Sign() <= 0 {
		return models.NewValidationError(param, "must be greater than 0")
	}
	return nil
}

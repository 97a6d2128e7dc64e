package dutch

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignablePayload is the typed-data triple the swapper signs out-of-band
// (eth_signTypedData_v4). The service never holds the swapper's key.
type SignablePayload struct {
	Domain      apitypes.TypedDataDomain  `json:"domain"`
	Types       apitypes.Types            `json:"types"`
	PrimaryType string                    `json:"primaryType"`
	Values      apitypes.TypedDataMessage `json:"values"`
}

var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"PermitWitnessTransferFrom": []apitypes.Type{
		{Name: "permitted", Type: "TokenPermissions"},
		{Name: "spender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "witness", Type: "ExclusiveDutchOrder"},
	},
	"TokenPermissions": []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	},
	"ExclusiveDutchOrder": []apitypes.Type{
		{Name: "info", Type: "OrderInfo"},
		{Name: "cosigner", Type: "address"},
		{Name: "inputToken", Type: "address"},
		{Name: "inputStartAmount", Type: "uint256"},
		{Name: "inputEndAmount", Type: "uint256"},
		{Name: "outputs", Type: "DutchOutput[]"},
	},
	"OrderInfo": []apitypes.Type{
		{Name: "reactor", Type: "address"},
		{Name: "swapper", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
	"DutchOutput": []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "startAmount", Type: "uint256"},
		{Name: "endAmount", Type: "uint256"},
		{Name: "recipient", Type: "address"},
	},
}

// typedData assembles the full permit typed data for an order. The permit
// spends the order input through the reactor, carrying the Dutch order as
// witness data.
func (p *Protocol) typedData(order *Order) apitypes.TypedData {
	outputs := make([]interface{}, len(order.Outputs))
	for i, out := range order.Outputs {
		outputs[i] = map[string]interface{}{
			"token":       out.Token.Hex(),
			"startAmount": out.StartAmount.String(),
			"endAmount":   out.EndAmount.String(),
			"recipient":   out.Recipient.Hex(),
		}
	}

	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "PermitWitnessTransferFrom",
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(p.chainID)),
			VerifyingContract: p.permit2.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]interface{}{
				"token":  order.Input.Token.Hex(),
				"amount": order.Input.StartAmount.String(),
			},
			"spender":  order.Reactor.Hex(),
			"nonce":    order.Nonce.String(),
			"deadline": new(big.Int).SetUint64(order.Deadline).String(),
			"witness": map[string]interface{}{
				"info": map[string]interface{}{
					"reactor":  order.Reactor.Hex(),
					"swapper":  order.Swapper.Hex(),
					"nonce":    order.Nonce.String(),
					"deadline": new(big.Int).SetUint64(order.Deadline).String(),
				},
				"cosigner":         order.Cosigner.Hex(),
				"inputToken":       order.Input.Token.Hex(),
				"inputStartAmount": order.Input.StartAmount.String(),
				"inputEndAmount":   order.Input.EndAmount.String(),
				"outputs":          outputs,
			},
		},
	}
}

// HashOrder computes the EIP-712 digest of the order typed data. This is
// the protocol-level order hash: the value the swapper signs and the value
// the settlement contract indexes fill events by.
func (p *Protocol) HashOrder(order *Order) (common.Hash, error) {
	typedData := p.typedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	// digest = keccak256("\x19\x01" || domainSeparator || messageHash)
	return crypto.Keccak256Hash([]byte("\x19\x01"), domainSeparator, messageHash), nil
}

// SignablePayload builds the {domain, types, values} triple for the order.
func (p *Protocol) SignablePayload(order *Order) *SignablePayload {
	typedData := p.typedData(order)
	return &SignablePayload{
		Domain:      typedData.Domain,
		Types:       typedData.Types,
		PrimaryType: typedData.PrimaryType,
		Values:      typedData.Message,
	}
}

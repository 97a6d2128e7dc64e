package dutch

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wire shapes for ABI encoding. Field order must match the tuple components.

type abiInput struct {
	Token       common.Address
	StartAmount *big.Int
	EndAmount   *big.Int
}

type abiOutput struct {
	Token       common.Address
	StartAmount *big.Int
	EndAmount   *big.Int
	Recipient   common.Address
}

type abiCosignerData struct {
	DecayStartTime         *big.Int
	DecayEndTime           *big.Int
	ExclusiveFiller        common.Address
	ExclusivityOverrideBps *big.Int
	InputOverride          *big.Int
	OutputOverrides        []*big.Int
}

type abiOrder struct {
	Reactor      common.Address
	Swapper      common.Address
	Nonce        *big.Int
	Deadline     *big.Int
	Cosigner     common.Address
	Input        abiInput
	Outputs      []abiOutput
	CosignerData abiCosignerData
	Cosignature  []byte
}

var (
	orderArgsOnce sync.Once
	orderArgs     abi.Arguments
	orderArgsErr  error
)

func orderArguments() (abi.Arguments, error) {
	orderArgsOnce.Do(func() {
		tuple, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
			{Name: "reactor", Type: "address"},
			{Name: "swapper", Type: "address"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
			{Name: "cosigner", Type: "address"},
			{Name: "input", Type: "tuple", Components: []abi.ArgumentMarshaling{
				{Name: "token", Type: "address"},
				{Name: "startAmount", Type: "uint256"},
				{Name: "endAmount", Type: "uint256"},
			}},
			{Name: "outputs", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
				{Name: "token", Type: "address"},
				{Name: "startAmount", Type: "uint256"},
				{Name: "endAmount", Type: "uint256"},
				{Name: "recipient", Type: "address"},
			}},
			{Name: "cosignerData", Type: "tuple", Components: []abi.ArgumentMarshaling{
				{Name: "decayStartTime", Type: "uint256"},
				{Name: "decayEndTime", Type: "uint256"},
				{Name: "exclusiveFiller", Type: "address"},
				{Name: "exclusivityOverrideBps", Type: "uint256"},
				{Name: "inputOverride", Type: "uint256"},
				{Name: "outputOverrides", Type: "uint256[]"},
			}},
			{Name: "cosignature", Type: "bytes"},
		})
		if err != nil {
			orderArgsErr = err
			return
		}
		orderArgs = abi.Arguments{{Type: tuple}}
	})
	return orderArgs, orderArgsErr
}

// Serialize ABI-encodes the full cosigned order as a 0x-prefixed hex
// string. This is the payload fillers pass to the reactor's execute call.
func Serialize(order *Order) (string, error) {
	args, err := orderArguments()
	if err != nil {
		return "", fmt.Errorf("failed to build order type: %w", err)
	}

	outputs := make([]abiOutput, len(order.Outputs))
	for i, out := range order.Outputs {
		outputs[i] = abiOutput{
			Token:       out.Token,
			StartAmount: out.StartAmount,
			EndAmount:   out.EndAmount,
			Recipient:   out.Recipient,
		}
	}

	cosignature := order.Cosignature
	if cosignature == nil {
		cosignature = []byte{}
	}

	encoded, err := args.Pack(abiOrder{
		Reactor:  order.Reactor,
		Swapper:  order.Swapper,
		Nonce:    order.Nonce,
		Deadline: new(big.Int).SetUint64(order.Deadline),
		Cosigner: order.Cosigner,
		Input: abiInput{
			Token:       order.Input.Token,
			StartAmount: order.Input.StartAmount,
			EndAmount:   order.Input.EndAmount,
		},
		Outputs: outputs,
		CosignerData: abiCosignerData{
			DecayStartTime:         new(big.Int).SetUint64(order.CosignerData.DecayStartTime),
			DecayEndTime:           new(big.Int).SetUint64(order.CosignerData.DecayEndTime),
			ExclusiveFiller:        order.CosignerData.ExclusiveFiller,
			ExclusivityOverrideBps: order.CosignerData.ExclusivityOverrideBps,
			InputOverride:          order.CosignerData.InputOverride,
			OutputOverrides:        order.CosignerData.OutputOverrides,
		},
		Cosignature: cosignature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode order: %w", err)
	}

	return hexutil.Encode(encoded), nil
}

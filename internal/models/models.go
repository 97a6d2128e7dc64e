package models

import "time"

// Order statuses. Transitions are one-directional:
// AWAITING_SIGNATURE -> PENDING -> EXECUTED | FAILED | EXPIRED.
const (
	StatusAwaitingSignature = "AWAITING_SIGNATURE"
	StatusPending           = "PENDING"
	StatusExecuted          = "EXECUTED"
	StatusFailed            = "FAILED"
	StatusExpired           = "EXPIRED"
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusExecuted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Order is the persisted record of a cosigned Dutch order. Addresses are
// stored lower-cased; uint256-ranged values (amounts, nonce, gas) are kept
// as decimal strings.
type Order struct {
	ID              string `json:"id"`
	ChainID         int64  `json:"chain_id"`
	SwapperAddress  string `json:"swapper_address"`
	ReactorAddress  string `json:"reactor_address"`
	CosignerAddress string `json:"cosigner_address"`
	ExclusiveFiller string `json:"exclusive_filler"`

	InputToken      string `json:"input_token"`
	InputAmount     string `json:"input_amount"`
	OutputToken     string `json:"output_token"`
	OutputAmount    string `json:"output_amount"`
	MinOutputAmount string `json:"min_output_amount"`

	SerializedOrder string `json:"serialized_order"`
	OrderHash       string `json:"order_hash"`
	Nonce           string `json:"nonce"`

	Deadline       int64 `json:"deadline"` // Unix seconds
	DecayStartTime int64 `json:"decay_start_time"`
	DecayEndTime   int64 `json:"decay_end_time"`

	Status            string  `json:"status"`
	OrderSignature    *string `json:"order_signature,omitempty"`
	CosignerSignature string  `json:"cosigner_signature"`

	// Execution detail, populated only on EXECUTED.
	TxHash            *string `json:"tx_hash,omitempty"`
	GasUsed           *string `json:"gas_used,omitempty"`
	EffectiveGasPrice *string `json:"effective_gas_price,omitempty"`
	BlockNumber       *int64  `json:"block_number,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Execution carries the on-chain settlement detail recorded when a fill
// event is observed for an order.
type Execution struct {
	TxHash            string
	GasUsed           string
	EffectiveGasPrice string
	BlockNumber       int64
}

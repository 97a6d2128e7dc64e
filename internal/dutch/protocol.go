package dutch

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"orderflow/internal/models"
)

// Params configures a Protocol instance.
type Params struct {
	ChainID        int64
	ReactorAddress string
	Permit2Address string
	Cosigner       *Signer
	OrderTTL       time.Duration // deadline relative to build time
	DecayWindow    time.Duration // decayStartTime = deadline - DecayWindow
	DecayFloorBps  int64         // worst-case output floor, bps of requested
}

// Protocol builds cosigned decaying order commitments. Deterministic given
// inputs and the clock, except for the cosigner signature.
type Protocol struct {
	chainID     *big.Int
	reactor     common.Address
	permit2     common.Address
	cosigner    *Signer
	ttl         time.Duration
	decayWindow time.Duration
	floorBps    int64

	now func() time.Time // test hook
}

// NewProtocol validates params and constructs a Protocol.
func NewProtocol(p Params) (*Protocol, error) {
	if err := validateAddress(p.ReactorAddress, "reactorAddress"); err != nil {
		return nil, err
	}
	if err := validateAddress(p.Permit2Address, "permit2Address"); err != nil {
		return nil, err
	}
	if p.ChainID <= 0 {
		return nil, models.NewValidationError("chainId", "must be a positive integer")
	}
	if p.Cosigner == nil {
		return nil, fmt.Errorf("cosigner key is required")
	}
	if p.OrderTTL <= 0 || p.DecayWindow <= 0 || p.DecayWindow >= p.OrderTTL {
		return nil, fmt.Errorf("decay window must be positive and shorter than order TTL")
	}
	if p.DecayFloorBps <= 0 || p.DecayFloorBps > 10000 {
		return nil, fmt.Errorf("decay floor must be in (0, 10000] bps")
	}

	return &Protocol{
		chainID:     big.NewInt(p.ChainID),
		reactor:     common.HexToAddress(p.ReactorAddress),
		permit2:     common.HexToAddress(p.Permit2Address),
		cosigner:    p.Cosigner,
		ttl:         p.OrderTTL,
		decayWindow: p.DecayWindow,
		floorBps:    p.DecayFloorBps,
		now:         time.Now,
	}, nil
}

// CosignerAddress returns the address the protocol endorses orders with.
func (p *Protocol) CosignerAddress() common.Address {
	return p.cosigner.Address()
}

// ChainID returns the settlement chain identifier.
func (p *Protocol) ChainID() int64 {
	return p.chainID.Int64()
}

// ReactorAddress returns the settlement contract address.
func (p *Protocol) ReactorAddress() common.Address {
	return p.reactor
}

// Commitment is the result of building an order: the cosigned order, its
// protocol hash, the serialized payload fillers execute, and the typed data
// the swapper must still sign.
type Commitment struct {
	Order           *Order
	OrderHash       common.Hash
	SerializedOrder string
	SignablePayload *SignablePayload
}

// BuildCommitment constructs the decaying order for an intent, endorses its
// worst-case economics with the cosigner key, and returns everything the
// client needs to sign and everything the service needs to persist.
//
// Decay policy: decayEndTime = deadline, decayStartTime = deadline minus the
// configured window. The output decays from the requested amount down to
// floorBps/10000 of it; the input does not decay.
func (p *Protocol) BuildCommitment(intent *Intent) (*Commitment, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	deadline := uint64(p.now().Add(p.ttl).Unix())
	decayStart := deadline - uint64(p.decayWindow/time.Second)

	minOutput := new(big.Int).Mul(intent.OutputAmount, big.NewInt(p.floorBps))
	minOutput.Div(minOutput, big.NewInt(10000))

	swapper := common.HexToAddress(intent.Swapper)
	order := &Order{
		Reactor:  p.reactor,
		Swapper:  swapper,
		Nonce:    new(big.Int).Set(intent.Nonce),
		Deadline: deadline,
		Cosigner: p.cosigner.Address(),
		Input: Input{
			Token:       common.HexToAddress(intent.InputToken),
			StartAmount: new(big.Int).Set(intent.InputAmount),
			EndAmount:   new(big.Int).Set(intent.InputAmount),
		},
		Outputs: []Output{{
			Token:       common.HexToAddress(intent.OutputToken),
			StartAmount: new(big.Int).Set(intent.OutputAmount),
			EndAmount:   minOutput,
			Recipient:   swapper,
		}},
		CosignerData: CosignerData{
			DecayStartTime:         decayStart,
			DecayEndTime:           deadline,
			ExclusiveFiller:        common.Address{},
			ExclusivityOverrideBps: big.NewInt(0),
			InputOverride:          new(big.Int).Set(intent.InputAmount),
			OutputOverrides:        []*big.Int{new(big.Int).Set(intent.OutputAmount)},
		},
	}

	cosignature, err := p.cosigner.SignDigest(CosignatureDigest(order))
	if err != nil {
		return nil, fmt.Errorf("failed to cosign order: %w", err)
	}
	order.Cosignature = cosignature

	orderHash, err := p.HashOrder(order)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	serialized, err := Serialize(order)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize order: %w", err)
	}

	return &Commitment{
		Order:           order,
		OrderHash:       orderHash,
		SerializedOrder: serialized,
		SignablePayload: p.SignablePayload(order),
	}, nil
}

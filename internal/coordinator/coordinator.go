package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"orderflow/internal/dutch"
	"orderflow/internal/models"
)

// Store is the persistence gateway the coordinator drives transitions
// through. Implemented by *db.DB.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) (string, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	SubmitSignature(ctx context.Context, id, signature string) error
	ListAvailable(ctx context.Context, limit, offset int) ([]models.Order, int, error)
	ListBySwapper(ctx context.Context, swapper string, limit, offset int) ([]models.Order, error)
	ExpireOverdue(ctx context.Context, now int64) (int64, error)
}

// NonceSource provides the swapper's next nonce. *ethclient.Client
// satisfies it.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Armer starts a per-order fill watch after submission.
type Armer interface {
	Arm(ctx context.Context, orderID string, orderHash common.Hash, deadline int64) error
}

// Notifier publishes status updates for an order.
type Notifier interface {
	Broadcast(orderID string, payload interface{})
}

// Coordinator owns the order state machine: it validates requests, invokes
// the cosigner protocol, persists transitions and arms the chain watcher.
type Coordinator struct {
	watchCtx   context.Context
	store      Store
	protocol   *dutch.Protocol
	nonces     NonceSource
	watcher    Armer
	notifier   Notifier
	log        *zap.Logger
	verifySigs bool
}

// New wires a coordinator. watchCtx bounds the lifetime of the fill watches
// it arms; it must outlive individual requests, or watches die with them.
func New(watchCtx context.Context, store Store, protocol *dutch.Protocol, nonces NonceSource, watcher Armer, notifier Notifier, log *zap.Logger, verifySigs bool) *Coordinator {
	return &Coordinator{
		watchCtx:   watchCtx,
		store:      store,
		protocol:   protocol,
		nonces:     nonces,
		watcher:    watcher,
		notifier:   notifier,
		log:        log,
		verifySigs: verifySigs,
	}
}

// CreateRequest is a client intent to build an order. Amounts are decimal
// strings in token base units.
type CreateRequest struct {
	Swapper      string `json:"userAddress"`
	InputToken   string `json:"inputToken"`
	InputAmount  string `json:"inputAmount"`
	OutputToken  string `json:"outputToken"`
	OutputAmount string `json:"outputAmount"`
}

// CreateResult is everything the client needs to sign the order.
type CreateResult struct {
	OrderID         string                 `json:"orderId"`
	SerializedOrder string                 `json:"serializedOrder"`
	SignData        *dutch.SignablePayload `json:"signData"`
}

// Create validates the request, fetches the swapper's nonce, builds the
// cosigned commitment and persists a new record in AWAITING_SIGNATURE.
func (c *Coordinator) Create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	inputAmount, err := parseAmount(req.InputAmount, "inputAmount")
	if err != nil {
		return nil, err
	}
	outputAmount, err := parseAmount(req.OutputAmount, "outputAmount")
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(req.Swapper) {
		return nil, models.NewValidationError("userAddress", "must be a 20-byte hex address")
	}

	nonce, err := c.nonces.PendingNonceAt(ctx, common.HexToAddress(req.Swapper))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	commitment, err := c.protocol.BuildCommitment(&dutch.Intent{
		Swapper:      req.Swapper,
		InputToken:   req.InputToken,
		InputAmount:  inputAmount,
		OutputToken:  req.OutputToken,
		OutputAmount: outputAmount,
		Nonce:        new(big.Int).SetUint64(nonce),
	})
	if err != nil {
		return nil, err
	}

	order := commitment.Order
	record := &models.Order{
		ChainID:           c.protocol.ChainID(),
		SwapperAddress:    order.Swapper.Hex(),
		ReactorAddress:    order.Reactor.Hex(),
		CosignerAddress:   order.Cosigner.Hex(),
		ExclusiveFiller:   order.CosignerData.ExclusiveFiller.Hex(),
		InputToken:        order.Input.Token.Hex(),
		InputAmount:       order.Input.StartAmount.String(),
		OutputToken:       order.Outputs[0].Token.Hex(),
		OutputAmount:      order.Outputs[0].StartAmount.String(),
		MinOutputAmount:   order.Outputs[0].EndAmount.String(),
		SerializedOrder:   commitment.SerializedOrder,
		OrderHash:         commitment.OrderHash.Hex(),
		Nonce:             order.Nonce.String(),
		Deadline:          int64(order.Deadline),
		DecayStartTime:    int64(order.CosignerData.DecayStartTime),
		DecayEndTime:      int64(order.CosignerData.DecayEndTime),
		CosignerSignature: hexutil.Encode(order.Cosignature),
	}

	orderID, err := c.store.CreateOrder(ctx, record)
	if err != nil {
		return nil, err
	}

	c.log.Info("order created",
		zap.String("order_id", orderID),
		zap.String("order_hash", record.OrderHash),
		zap.String("swapper", record.SwapperAddress))

	return &CreateResult{
		OrderID:         orderID,
		SerializedOrder: commitment.SerializedOrder,
		SignData:        commitment.SignablePayload,
	}, nil
}

// StatusNotification is pushed to subscribers on a lifecycle transition.
type StatusNotification struct {
	Status    string `json:"status"`
	ExpiresAt int64  `json:"expiresAt"`
}

// SubmitResult tells the client where to follow the order.
type SubmitResult struct {
	OrderID           string `json:"orderId"`
	Status            string `json:"status"`
	WebsocketEndpoint string `json:"websocketEndpoint"`
	ExpiresAt         int64  `json:"expiresAt"`
}

// Submit attaches the swapper signature, transitions the order to PENDING,
// arms the fill watcher and notifies subscribers. The store's conditional
// update guarantees exactly one of two concurrent submissions succeeds.
func (c *Coordinator) Submit(ctx context.Context, orderID, signature string) (*SubmitResult, error) {
	if orderID == "" {
		return nil, models.NewValidationError("orderId", "must not be empty")
	}
	sigBytes, err := parseSignature(signature)
	if err != nil {
		return nil, err
	}

	order, err := c.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if c.verifySigs {
		recovered, err := dutch.RecoverSigner(common.HexToHash(order.OrderHash), sigBytes)
		if err != nil {
			return nil, models.NewValidationError("orderSignature", "failed to recover signer")
		}
		if !strings.EqualFold(recovered.Hex(), order.SwapperAddress) {
			c.log.Warn("signature does not recover to swapper",
				zap.String("order_id", orderID),
				zap.String("expected", order.SwapperAddress),
				zap.String("recovered", recovered.Hex()))
			return nil, models.NewValidationError("orderSignature", "signature does not match swapper")
		}
	}

	if err := c.store.SubmitSignature(ctx, orderID, signature); err != nil {
		return nil, err
	}

	// PENDING goes out before the watch is armed so a fill observed right
	// away cannot reach subscribers ahead of it.
	c.notifier.Broadcast(orderID, StatusNotification{
		Status:    models.StatusPending,
		ExpiresAt: order.Deadline,
	})

	// Armed on the watch context, not the request context: the watch has to
	// survive the HTTP response. The order is live for fillers regardless of
	// the outcome; a subscription failure is logged, not surfaced.
	if err := c.watcher.Arm(c.watchCtx, orderID, common.HexToHash(order.OrderHash), order.Deadline); err != nil {
		c.log.Error("failed to arm fill watcher",
			zap.String("order_id", orderID), zap.Error(err))
	}

	c.log.Info("order submitted",
		zap.String("order_id", orderID),
		zap.String("order_hash", order.OrderHash))

	return &SubmitResult{
		OrderID:           orderID,
		Status:            models.StatusPending,
		WebsocketEndpoint: "/ws/orders/" + orderID,
		ExpiresAt:         order.Deadline,
	}, nil
}

// ListAvailable returns PENDING, unexpired orders oldest-first for fillers.
func (c *Coordinator) ListAvailable(ctx context.Context, limit, offset int) ([]models.Order, int, error) {
	if err := validatePagination(limit, offset); err != nil {
		return nil, 0, err
	}
	return c.store.ListAvailable(ctx, limit, offset)
}

// ListBySwapper returns a swapper's orders, newest first.
func (c *Coordinator) ListBySwapper(ctx context.Context, swapper string, limit, offset int) ([]models.Order, error) {
	if !common.IsHexAddress(swapper) {
		return nil, models.NewValidationError("swapperAddress", "must be a 20-byte hex address")
	}
	if err := validatePagination(limit, offset); err != nil {
		return nil, err
	}
	return c.store.ListBySwapper(ctx, swapper, limit, offset)
}

// Status returns the current projection of an order record.
func (c *Coordinator) Status(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == "" {
		return nil, models.NewValidationError("orderId", "must not be empty")
	}
	return c.store.GetOrderByID(ctx, orderID)
}

func parseAmount(value, param string) (*big.Int, error) {
	if value == "" {
		return nil, models.NewValidationError(param, "must not be empty")
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, models.NewValidationError(param, "must be a decimal integer")
	}
	if amount.Sign() <= 0 {
		return nil, models.NewValidationError(param, "must be greater than 0")
	}
	return amount, nil
}

func parseSignature(signature string) ([]byte, error) {
	if len(signature) < 2 || !strings.HasPrefix(signature, "0x") {
		return nil, models.NewValidationError("orderSignature", "must be 0x-prefixed hex")
	}
	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return nil, models.NewValidationError("orderSignature", "must be valid hex")
	}
	if len(sigBytes) != 65 {
		return nil, models.NewValidationError("orderSignature", "must be 65 bytes")
	}
	return sigBytes, nil
}

func validatePagination(limit, offset int) error {
	if limit < 1 || limit > 100 {
		return models.NewValidationError("limit", "must be between 1 and 100")
	}
	if offset < 0 {
		return models.NewValidationError("offset", "must be non-negative")
	}
	return nil
}

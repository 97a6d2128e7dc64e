package watcher

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"orderflow/internal/models"
	"orderflow/pkg/retry"
)

// FillTopic is the event signature topic of the reactor's fill log:
// Fill(bytes32 indexed orderHash, address indexed filler,
// address indexed swapper, uint256 nonce).
var FillTopic = crypto.Keccak256Hash([]byte("Fill(bytes32,address,address,uint256)"))

// receiptGrace extends the per-order watch past the deadline so a fill
// mined just before expiry is still observed.
const receiptGrace = 2 * time.Minute

// Backend is the chain RPC surface the watcher needs. *ethclient.Client
// satisfies it.
type Backend interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Store is the slice of the persistence gateway the watcher folds events
// into.
type Store interface {
	GetOrderByHash(ctx context.Context, orderHash string) (*models.Order, error)
	RecordExecution(ctx context.Context, id string, exec models.Execution) error
}

// Notifier publishes status updates for an order.
type Notifier interface {
	Broadcast(orderID string, payload interface{})
}

// FillNotification is the payload pushed to subscribers when a fill is
// observed.
type FillNotification struct {
	Status          string `json:"status"`
	Filler          string `json:"filler"`
	TransactionHash string `json:"transactionHash"`
}

// Watcher subscribes to the settlement contract's fill events and applies
// the terminal transition for the owning order exactly once.
//
// Known gap: the underlying stream offers no reorg safety. A fill observed
// on a block that is later reorged away is not retracted.
type Watcher struct {
	backend  Backend
	store    Store
	notifier Notifier
	reactor  common.Address
	log      *zap.Logger
	retryCfg retry.Config
}

// New creates a watcher for the given reactor address.
func New(backend Backend, store Store, notifier Notifier, reactor common.Address, log *zap.Logger) *Watcher {
	return &Watcher{
		backend:  backend,
		store:    store,
		notifier: notifier,
		reactor:  reactor,
		log:      log,
		retryCfg: retry.DefaultConfig(),
	}
}

// Arm starts watching for the order's fill in the background. The watch
// stops on ctx cancellation, on the order reaching a terminal state, or
// shortly after the deadline passes. A subscription failure is returned so
// the caller can log it; the order itself stays fillable either way.
func (w *Watcher) Arm(ctx context.Context, orderID string, orderHash common.Hash, deadline int64) error {
	logs := make(chan types.Log, 16)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.reactor},
		Topics:    [][]common.Hash{{FillTopic}, {orderHash}},
	}

	sub, err := w.backend.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return err
	}

	go w.run(ctx, sub, logs, orderID, orderHash, deadline)
	return nil
}

func (w *Watcher) run(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log, orderID string, orderHash common.Hash, deadline int64) {
	defer sub.Unsubscribe()

	expiry := time.Until(time.Unix(deadline, 0).Add(receiptGrace))
	timer := time.NewTimer(expiry)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.log.Info("fill watch expired", zap.String("order_id", orderID))
			return
		case err := <-sub.Err():
			if err != nil {
				w.log.Error("fill subscription failed",
					zap.String("order_id", orderID), zap.Error(err))
			}
			return
		case lg := <-logs:
			if w.handleFill(ctx, orderID, orderHash, lg) {
				return
			}
		}
	}
}

// handleFill folds one fill log into order state. Returns true once the
// order is settled (or discovered terminal) and the watch can stop. Any
// error while processing a single event is logged and the watch keeps
// running; a bad event never tears down the subscription.
func (w *Watcher) handleFill(ctx context.Context, orderID string, orderHash common.Hash, lg types.Log) bool {
	if len(lg.Topics) != 4 || lg.Topics[0] != FillTopic {
		w.log.Warn("skipping malformed fill log",
			zap.String("order_id", orderID),
			zap.String("tx", lg.TxHash.Hex()))
		return false
	}
	if lg.Topics[1] != orderHash {
		// Cross-order leakage on a shared stream; not ours.
		fillsIgnored.Inc()
		return false
	}
	filler := common.BytesToAddress(lg.Topics[2].Bytes())

	order, err := w.store.GetOrderByHash(ctx, orderHash.Hex())
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			w.log.Warn("fill event for unknown order hash",
				zap.String("order_hash", orderHash.Hex()))
			fillsIgnored.Inc()
			return false
		}
		w.log.Error("failed to resolve order for fill",
			zap.String("order_hash", orderHash.Hex()), zap.Error(err))
		return false
	}
	if order.ID != orderID {
		// Resolved order belongs to another listener instance.
		fillsIgnored.Inc()
		return false
	}
	if models.IsTerminal(order.Status) {
		// Redelivered event after settlement; nothing to do.
		fillsIgnored.Inc()
		return true
	}

	var receipt *types.Receipt
	err = retry.Do(ctx, w.retryCfg, func(ctx context.Context) error {
		var rerr error
		receipt, rerr = w.backend.TransactionReceipt(ctx, lg.TxHash)
		return rerr
	})
	if err != nil {
		w.log.Error("failed to fetch fill receipt",
			zap.String("order_id", orderID),
			zap.String("tx", lg.TxHash.Hex()), zap.Error(err))
		return false
	}

	exec := models.Execution{
		TxHash:      lg.TxHash.Hex(),
		GasUsed:     strconv.FormatUint(receipt.GasUsed, 10),
		BlockNumber: receipt.BlockNumber.Int64(),
	}
	if receipt.EffectiveGasPrice != nil {
		exec.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}

	if err := w.store.RecordExecution(ctx, orderID, exec); err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			// Lost the race to another observation of the same fill; the
			// transition already happened exactly once.
			fillsIgnored.Inc()
			return true
		}
		w.log.Error("failed to record execution",
			zap.String("order_id", orderID), zap.Error(err))
		return false
	}

	fillsObserved.Inc()
	w.log.Info("order executed",
		zap.String("order_id", orderID),
		zap.String("tx", lg.TxHash.Hex()),
		zap.String("filler", filler.Hex()))

	w.notifier.Broadcast(orderID, FillNotification{
		Status:          models.StatusExecuted,
		Filler:          filler.Hex(),
		TransactionHash: lg.TxHash.Hex(),
	})
	return true
}

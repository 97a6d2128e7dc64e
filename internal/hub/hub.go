package hub

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Conn is a live subscriber connection. Implementations must be safe for
// concurrent Send calls.
type Conn interface {
	// IsOpen reports whether the connection can still accept writes.
	IsOpen() bool
	// Send delivers one serialized message. Implementations mark the
	// connection not-open on a fatal send failure; the hub only evicts
	// connections that report closed.
	Send(data []byte) error
	// Close tears the connection down.
	Close() error
}

// Hub maintains the registry from order id to the set of live connections
// observing it, and delivers status payloads to all of them. The registry
// is the only shared mutable state: client connects/disconnects and
// coordinator broadcasts both mutate it, so every access holds the mutex.
type Hub struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[string]map[Conn]struct{}
}

// NewHub creates an empty hub. Callers own the instance and pass it by
// reference to whichever component needs to publish.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[string]map[Conn]struct{}),
	}
}

// Subscribe registers a connection as an observer of the given order.
func (h *Hub) Subscribe(orderID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[Conn]struct{})
		h.subs[orderID] = set
	}
	set[conn] = struct{}{}

	h.log.Info("subscriber added",
		zap.String("order_id", orderID),
		zap.Int("subscribers", len(set)))
}

// Unsubscribe removes a connection. The order's entry is dropped once its
// set is empty so the registry does not grow without bound.
func (h *Hub) Unsubscribe(orderID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(orderID, conn)
}

func (h *Hub) removeLocked(orderID string, conn Conn) {
	set, ok := h.subs[orderID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.subs, orderID)
	}
}

// SubscriberCount returns the number of live connections for an order.
func (h *Hub) SubscriberCount(orderID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orderID])
}

// Broadcast serializes payload once and delivers it to every connection
// observing the order. Connections that are not open are skipped and
// removed; a failed send is logged and never blocks delivery to others.
// Broadcasting to an order with no subscribers is a no-op.
func (h *Hub) Broadcast(orderID string, payload interface{}) {
	message, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("failed to marshal broadcast payload",
			zap.String("order_id", orderID), zap.Error(err))
		return
	}

	// Snapshot under the lock, send outside it: a slow socket write must
	// not block connects/disconnects or broadcasts for other orders.
	h.mu.Lock()
	set := h.subs[orderID]
	conns := make([]Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	if len(conns) == 0 {
		return
	}

	var stale []Conn
	for _, conn := range conns {
		if !conn.IsOpen() {
			stale = append(stale, conn)
			continue
		}
		if err := conn.Send(message); err != nil {
			h.log.Warn("failed to send order update",
				zap.String("order_id", orderID), zap.Error(err))
			stale = append(stale, conn)
		}
	}

	if len(stale) > 0 {
		h.mu.Lock()
		for _, conn := range stale {
			// Re-check under the lock: a connection that failed transiently
			// but still reports open keeps its registration.
			if !conn.IsOpen() {
				h.removeLocked(orderID, conn)
			}
		}
		h.mu.Unlock()
	}
}

// Sweep evicts connections that are no longer open, bounding memory from
// clients that dropped without a clean close.
func (h *Hub) Sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	evicted := 0
	for orderID, set := range h.subs {
		for conn := range set {
			if !conn.IsOpen() {
				delete(set, conn)
				evicted++
			}
		}
		if len(set) == 0 {
			delete(h.subs, orderID)
		}
	}

	if evicted > 0 {
		h.log.Info("swept stale subscribers", zap.Int("evicted", evicted))
	}
}

// Run sweeps the registry at the given interval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Shutdown closes every tracked connection and clears the registry. Used on
// process termination.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for orderID, set := range h.subs {
		for conn := range set {
			if err := conn.Close(); err != nil {
				h.log.Warn("failed to close subscriber",
					zap.String("order_id", orderID), zap.Error(err))
			}
		}
	}
	h.subs = make(map[string]map[Conn]struct{})
}

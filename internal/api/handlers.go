package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"orderflow/internal/coordinator"
	"orderflow/internal/hub"
	"orderflow/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is handled by the router middleware.
		return true
	},
}

// Pinger checks store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Coordinator *coordinator.Coordinator
	Hub         *hub.Hub
	Log         *zap.Logger
	Pinger      Pinger
}

// NewHandler creates a new handler.
func NewHandler(coord *coordinator.Coordinator, h *hub.Hub, log *zap.Logger) *Handler {
	return &Handler{Coordinator: coord, Hub: h, Log: log}
}

// writeError maps the error taxonomy onto HTTP statuses: validation -> 400,
// unknown order -> 404, invalid transition -> 409, everything else -> 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Order not found"})
	case errors.Is(err, models.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// CreateOrder builds a new cosigned order and returns the typed data the
// swapper must sign.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	result, err := h.Coordinator.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ordersCreated.Inc()
	writeJSON(w, http.StatusOK, result)
}

// SubmitOrder attaches the swapper signature and makes the order available
// to fillers.
func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID        string `json:"orderId"`
		OrderSignature string `json:"orderSignature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	result, err := h.Coordinator.Submit(r.Context(), req.OrderID, req.OrderSignature)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ordersSubmitted.Inc()
	writeJSON(w, http.StatusOK, result)
}

// GetAvailableOrders lists fillable orders with bounded pagination.
func (h *Handler) GetAvailableOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)

	orders, total, err := h.Coordinator.ListAvailable(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetSwapperOrders lists a swapper's orders, newest first.
func (h *Handler) GetSwapperOrders(w http.ResponseWriter, r *http.Request) {
	swapper := chi.URLParam(r, "address")
	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)

	orders, err := h.Coordinator.ListBySwapper(r.Context(), swapper, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"limit":  limit,
		"offset": offset,
	})
}

// GetOrderStatus returns the current lifecycle projection of an order.
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	order, err := h.Coordinator.Status(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"status":    order.Status,
		"createdAt": order.CreatedAt,
		"expiresAt": order.Deadline,
	}
	if order.TxHash != nil {
		response["txHash"] = *order.TxHash
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleOrderSocket upgrades the connection and registers it with the hub
// as an observer of one order. The read loop exists only to detect the
// peer going away.
func (h *Handler) HandleOrderSocket(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, `{"error": "Order ID required"}`, http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := hub.NewWSConn(wsConn)
	h.Hub.Subscribe(orderID, conn)
	wsConnections.Inc()

	go func() {
		defer func() {
			conn.MarkClosed()
			h.Hub.Unsubscribe(orderID, conn)
			wsConnections.Dec()
			wsConn.Close()
		}()
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Health reports process liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

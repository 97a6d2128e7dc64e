package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderflow/internal/coordinator"
	"orderflow/internal/dutch"
	"orderflow/internal/hub"
	"orderflow/internal/models"
	"orderflow/internal/watcher"
)

const (
	testCosignerKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	testReactor     = "0x00000011F84B9aa48e5f8aA8B9897600006289Be"
	testPermit2     = "0x000000000022D473030F116dDEE9F6B43aC78BA3"
	testSwapper     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testTokenIn     = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	testTokenOut    = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
)

// memStore backs the coordinator with in-memory state for handler tests.
type memStore struct {
	mu     sync.Mutex
	nextID int
	orders map[string]*models.Order
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*models.Order)}
}

func (s *memStore) CreateOrder(ctx context.Context, order *models.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("order-%d", s.nextID)
	copied := *order
	copied.ID = id
	copied.Status = models.StatusAwaitingSignature
	copied.CreatedAt = time.Now()
	s.orders[id] = &copied
	return id, nil
}

func (s *memStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *memStore) SubmitSignature(ctx context.Context, id, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	if order.Status != models.StatusAwaitingSignature {
		return fmt.Errorf("order %s is %s: %w", id, order.Status, models.ErrInvalidState)
	}
	order.Status = models.StatusPending
	order.OrderSignature = &signature
	return nil
}

func (s *memStore) GetOrderByHash(ctx context.Context, orderHash string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if strings.EqualFold(order.OrderHash, orderHash) {
			copied := *order
			return &copied, nil
		}
	}
	return nil, models.ErrOrderNotFound
}

func (s *memStore) RecordExecution(ctx context.Context, id string, exec models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	if order.Status != models.StatusPending {
		return fmt.Errorf("order %s is %s: %w", id, order.Status, models.ErrInvalidState)
	}
	order.Status = models.StatusExecuted
	order.TxHash = &exec.TxHash
	return nil
}

func (s *memStore) ListAvailable(ctx context.Context, limit, offset int) ([]models.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, order := range s.orders {
		if order.Status == models.StatusPending {
			out = append(out, *order)
		}
	}
	return out, len(out), nil
}

func (s *memStore) ListBySwapper(ctx context.Context, swapper string, limit, offset int) ([]models.Order, error) {
	return nil, nil
}

func (s *memStore) ExpireOverdue(ctx context.Context, now int64) (int64, error) {
	return 0, nil
}

type fakeNonces struct{}

func (fakeNonces) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 1, nil
}

type fakeArmer struct{}

func (fakeArmer) Arm(ctx context.Context, orderID string, orderHash common.Hash, deadline int64) error {
	return nil
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func newTestRouter(t *testing.T) (*chi.Mux, *memStore) {
	t.Helper()

	cosigner, err := dutch.NewSignerFromHex(testCosignerKey)
	require.NoError(t, err)

	protocol, err := dutch.NewProtocol(dutch.Params{
		ChainID:        1,
		ReactorAddress: testReactor,
		Permit2Address: testPermit2,
		Cosigner:       cosigner,
		OrderTTL:       time.Hour,
		DecayWindow:    5 * time.Minute,
		DecayFloorBps:  9000,
	})
	require.NoError(t, err)

	store := newMemStore()
	notificationHub := hub.NewHub(zap.NewNop())
	coord := coordinator.New(context.Background(), store, protocol, fakeNonces{}, fakeArmer{}, notificationHub, zap.NewNop(), false)
	handler := NewHandler(coord, notificationHub, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/health", handler.Health)
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/create", handler.CreateOrder)
		r.Post("/submit", handler.SubmitOrder)
		r.Get("/available", handler.GetAvailableOrders)
		r.Get("/swapper/{address}", handler.GetSwapperOrders)
		r.Get("/{id}/status", handler.GetOrderStatus)
	})
	return r, store
}

func createTestOrder(t *testing.T, router *chi.Mux) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"userAddress":  testSwapper,
		"inputToken":   testTokenIn,
		"inputAmount":  "1000000",
		"outputToken":  testTokenOut,
		"outputAmount": "995000",
	})
	req := httptest.NewRequest("POST", "/api/orders/create", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	orderID, ok := response["orderId"].(string)
	require.True(t, ok)
	return orderID
}

func TestHandler_CreateOrder(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
	}{
		{
			name: "Success",
			requestBody: map[string]interface{}{
				"userAddress":  testSwapper,
				"inputToken":   testTokenIn,
				"inputAmount":  "1000000",
				"outputToken":  testTokenOut,
				"outputAmount": "995000",
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "Missing Amount",
			requestBody: map[string]interface{}{
				"userAddress": testSwapper,
				"inputToken":  testTokenIn,
				"outputToken": testTokenOut,
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "Bad Address",
			requestBody: map[string]interface{}{
				"userAddress":  "nope",
				"inputToken":   testTokenIn,
				"inputAmount":  "1000000",
				"outputToken":  testTokenOut,
				"outputAmount": "995000",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.requestBody)
			req := httptest.NewRequest("POST", "/api/orders/create", bytes.NewReader(body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

			if tt.expectedStatus == http.StatusOK {
				assert.NotEmpty(t, response["orderId"])
				assert.NotEmpty(t, response["serializedOrder"])
				assert.Contains(t, response, "signData")
			} else {
				assert.Contains(t, response, "error")
			}
		})
	}
}

func TestHandler_CreateOrder_InvalidBody(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/api/orders/create", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SubmitOrder(t *testing.T) {
	router, _ := newTestRouter(t)
	orderID := createTestOrder(t, router)

	signature := "0x" + repeatHex("ab", 65)
	body, _ := json.Marshal(map[string]string{
		"orderId":        orderID,
		"orderSignature": signature,
	})
	req := httptest.NewRequest("POST", "/api/orders/submit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, models.StatusPending, response["status"])
	assert.Equal(t, "/ws/orders/"+orderID, response["websocketEndpoint"])

	// Second submission conflicts.
	req = httptest.NewRequest("POST", "/api/orders/submit", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_SubmitOrder_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name           string
		requestBody    map[string]string
		expectedStatus int
	}{
		{
			name: "Unknown Order",
			requestBody: map[string]string{
				"orderId":        "missing",
				"orderSignature": "0x" + repeatHex("ab", 65),
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "Short Signature",
			requestBody: map[string]string{
				"orderId":        "order-1",
				"orderSignature": "0xabcd",
			},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.requestBody)
			req := httptest.NewRequest("POST", "/api/orders/submit", bytes.NewReader(body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestHandler_GetAvailableOrders(t *testing.T) {
	router, store := newTestRouter(t)

	// Empty store returns an empty array, not null.
	req := httptest.NewRequest("GET", "/api/orders/available", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	orders, ok := response["orders"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, orders)
	assert.Equal(t, float64(0), response["total"])
	assert.Equal(t, float64(10), response["limit"])
	assert.Equal(t, float64(0), response["offset"])

	// A submitted order shows up.
	orderID := createTestOrder(t, router)
	require.NoError(t, store.SubmitSignature(context.Background(), orderID, "0xsig"))

	req = httptest.NewRequest("GET", "/api/orders/available", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	orders, ok = response["orders"].([]interface{})
	require.True(t, ok)
	assert.Len(t, orders, 1)
}

func TestHandler_GetAvailableOrders_BadPagination(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/orders/available?limit=500", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetSwapperOrders_BadAddress(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/orders/swapper/nothex", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetOrderStatus(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/orders/missing/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	orderID := createTestOrder(t, router)
	req = httptest.NewRequest("GET", "/api/orders/"+orderID+"/status", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, models.StatusAwaitingSignature, response["status"])
	assert.Contains(t, response, "createdAt")
	assert.Contains(t, response, "expiresAt")
	assert.NotContains(t, response, "txHash")
}

func TestHandler_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestHandler_Health_StoreDown(t *testing.T) {
	handler := &Handler{Log: zap.NewNop(), Pinger: failingPinger{}}

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.Health(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "unhealthy", response["status"])
}

// watchBackend captures the subscription context and log channel so a test
// can observe the watch lifetime and inject fill events. It doubles as its
// own subscription.
type watchBackend struct {
	mu    sync.Mutex
	ctx   context.Context
	logs  chan<- types.Log
	errCh chan error
}

func (b *watchBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx = ctx
	b.logs = ch
	return b, nil
}

func (b *watchBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{
		GasUsed:           100_000,
		BlockNumber:       big.NewInt(19_000_000),
		EffectiveGasPrice: big.NewInt(12_000_000_000),
	}, nil
}

func (b *watchBackend) Unsubscribe()      {}
func (b *watchBackend) Err() <-chan error { return b.errCh }

func TestHandler_SubmitWatchSurvivesResponse(t *testing.T) {
	cosigner, err := dutch.NewSignerFromHex(testCosignerKey)
	require.NoError(t, err)

	protocol, err := dutch.NewProtocol(dutch.Params{
		ChainID:        1,
		ReactorAddress: testReactor,
		Permit2Address: testPermit2,
		Cosigner:       cosigner,
		OrderTTL:       time.Hour,
		DecayWindow:    5 * time.Minute,
		DecayFloorBps:  9000,
	})
	require.NoError(t, err)

	store := newMemStore()
	notificationHub := hub.NewHub(zap.NewNop())
	backend := &watchBackend{errCh: make(chan error, 1)}
	fillWatcher := watcher.New(backend, store, notificationHub, common.HexToAddress(testReactor), zap.NewNop())
	coord := coordinator.New(context.Background(), store, protocol, fakeNonces{}, fillWatcher, notificationHub, zap.NewNop(), false)
	handler := NewHandler(coord, notificationHub, zap.NewNop())

	router := chi.NewRouter()
	router.Post("/api/orders/create", handler.CreateOrder)
	router.Post("/api/orders/submit", handler.SubmitOrder)

	srv := httptest.NewServer(router)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{
		"userAddress":  testSwapper,
		"inputToken":   testTokenIn,
		"inputAmount":  "1000000",
		"outputToken":  testTokenOut,
		"outputAmount": "995000",
	})
	resp, err := http.Post(srv.URL+"/api/orders/create", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var created map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orderID := created["orderId"].(string)

	body, _ = json.Marshal(map[string]string{
		"orderId":        orderID,
		"orderSignature": "0x" + repeatHex("ab", 65),
	})
	resp, err = http.Post(srv.URL+"/api/orders/submit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The request is over; the per-order watch must not die with it.
	time.Sleep(50 * time.Millisecond)
	backend.mu.Lock()
	subCtx := backend.ctx
	logs := backend.logs
	backend.mu.Unlock()
	require.NotNil(t, subCtx, "watch was never armed")
	require.NotNil(t, logs)
	assert.NoError(t, subCtx.Err(), "watch context canceled with the request")

	// A fill arriving after the response is still folded into state.
	order, err := store.GetOrderByID(context.Background(), orderID)
	require.NoError(t, err)
	logs <- types.Log{
		Address: common.HexToAddress(testReactor),
		Topics: []common.Hash{
			watcher.FillTopic,
			common.HexToHash(order.OrderHash),
			common.BytesToHash(common.HexToAddress(testSwapper).Bytes()),
			common.BytesToHash(common.HexToAddress(testSwapper).Bytes()),
		},
		TxHash: common.HexToHash("0xbbbb000000000000000000000000000000000000000000000000000000000002"),
	}

	require.Eventually(t, func() bool {
		order, err := store.GetOrderByID(context.Background(), orderID)
		return err == nil && order.Status == models.StatusExecuted
	}, 2*time.Second, 10*time.Millisecond, "fill after response never recorded")
}

func repeatHex(unit string, n int) string {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.WriteString(unit)
	}
	return buf.String()
}

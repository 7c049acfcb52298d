package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockengine/internal/inventory/memory"
	"github.com/odyssey-erp/stockengine/internal/observability"
	_ "github.com/odyssey-erp/stockengine/testing"
)

const cardBoxID = 3

type testServer struct {
	handler  http.Handler
	store    *memory.Store
	mu       sync.Mutex
	received [][]int64
}

func newTestServer(t *testing.T, health map[string]HealthCheck) *testServer {
	t.Helper()
	cfg := defaultConfig(t)
	cfg.StoreDriver = StoreDriverMemory
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()

	ts := &testServer{store: memory.NewSeeded()}
	services := NewServices(&cfg, ServiceDeps{Store: ts.store, Metrics: metrics, Logger: logger})
	params := services.RouterParams(&cfg, logger, metrics, func(_ *http.Request, ids []int64) {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.received = append(ts.received, ids)
	})
	params.Health = health
	ts.handler = NewRouter(params)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

func TestPurchaseToCheckoutFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	actor := http.Header{ActorHeader: []string{"7"}}

	rec := ts.do(t, http.MethodPost, "/api/v1/purchase-orders/", map[string]any{
		"number":   "PO-100",
		"currency": "usd",
		"lines":    []map[string]any{{"product_id": cardBoxID, "quantity": 2, "unit_cost": "40.00"}},
	}, actor)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered struct {
		Order struct {
			ID       int64
			Status   string
			Currency string
		} `json:"order"`
		UnitsCreated int `json:"units_created"`
	}
	decodeBody(t, rec, &registered)
	assert.Equal(t, 2, registered.UnitsCreated)
	assert.Equal(t, "ordered", registered.Order.Status)
	assert.Equal(t, "USD", registered.Order.Currency)

	rec = ts.do(t, http.MethodGet, "/api/v1/inventory/products/3/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		Counts map[string]int `json:"counts"`
	}
	decodeBody(t, rec, &summary)
	assert.Equal(t, 2, summary.Counts["in_transit"])

	rec = ts.do(t, http.MethodPost, "/api/v1/purchase-orders/"+strconv.FormatInt(registered.Order.ID, 10)+"/receive", nil, actor)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var received struct {
		UnitsReceived int     `json:"units_received"`
		ProductIDs    []int64 `json:"product_ids"`
	}
	decodeBody(t, rec, &received)
	assert.Equal(t, 2, received.UnitsReceived)
	assert.Equal(t, []int64{cardBoxID}, received.ProductIDs)
	assert.Equal(t, [][]int64{{cardBoxID}}, ts.received)

	rec = ts.do(t, http.MethodPost, "/api/v1/checkout/", map[string]any{
		"party_id": 42,
		"lines":    []map[string]any{{"product_id": cardBoxID, "quantity": 2}},
		"shipping_address": map[string]any{
			"recipient": "Ana", "line1": "1 Main St", "city": "Lisbon", "country": "PT",
		},
		"shipping_method": "pickup",
		"payment_method":  "bank_transfer",
	}, http.Header{"Idempotency-Key": []string{"chk-1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var checkout struct {
		ReservedUnitIDs []int64 `json:"reserved_unit_ids"`
		Replayed        bool    `json:"replayed"`
	}
	decodeBody(t, rec, &checkout)
	assert.Len(t, checkout.ReservedUnitIDs, 2)
	assert.False(t, checkout.Replayed)

	rec = ts.do(t, http.MethodGet, "/api/v1/inventory/products/3/summary", nil, nil)
	decodeBody(t, rec, &summary)
	assert.Equal(t, 2, summary.Counts["reserved"])
	assert.Zero(t, summary.Counts["available"])
}

func TestReceiveUnknownPurchaseOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/v1/purchase-orders/9999/receive", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, ts.received)
}

func TestActorHeaderRejectsMalformedValue(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/v1/inventory/products/3/summary", nil, http.Header{ActorHeader: []string{"abc"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzReportsDegradedDependency(t *testing.T) {
	ts := newTestServer(t, map[string]HealthCheck{
		"postgres": func(*http.Request) error { return nil },
		"redis":    func(*http.Request) error { return errors.New("connection refused") },
	})
	rec := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status map[string]string
	decodeBody(t, rec, &status)
	assert.Equal(t, "degraded", status["status"])
	assert.Equal(t, "ok", status["postgres"])
	assert.Equal(t, "connection refused", status["redis"])
}

func TestMetricsEndpointServesEngineCounters(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/healthz", nil, nil)
	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stockengine_http_requests_total{code="200",route="/healthz"} 1`)
}

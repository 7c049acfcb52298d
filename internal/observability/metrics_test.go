package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestHandlerExposesEngineCounters(t *testing.T) {
	m := NewMetrics()
	m.Engine().UnitsReserved("checkout", 2)
	m.Engine().CheckoutOutcome("created")
	m.Engine().SweepRows("reconcile", "updated", 4)

	body := scrape(t, m)
	assert.Contains(t, body, `stockengine_units_reserved_total{source="checkout"} 2`)
	assert.Contains(t, body, `stockengine_checkouts_total{outcome="created"} 1`)
	assert.Contains(t, body, `stockengine_sweep_rows_total{result="updated",sweep="reconcile"} 4`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rc := chi.NewRouteContext()
	rc.RoutePatterns = append(rc.RoutePatterns, "/api/v1/checkout")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)

	body := scrape(t, m)
	assert.Contains(t, body, `stockengine_http_requests_total{code="409",route="/api/v1/checkout"} 1`)
	assert.Contains(t, body, `stockengine_http_request_duration_seconds_bucket{route="/api/v1/checkout"`)
}

func TestMiddlewareFallsBackForUnroutedRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.NotFoundHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Contains(t, scrape(t, m), `stockengine_http_requests_total{code="404",route="unmatched"} 1`)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var engine *EngineMetrics
	engine.UnitsReserved("checkout", 1)
	engine.CheckoutOutcome("created")
	engine.SweepRows("reconcile", "updated", 3)

	var m *Metrics
	assert.Nil(t, m.Engine())
	assert.Nil(t, m.Registerer())

	next := http.NotFoundHandler()
	rr := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

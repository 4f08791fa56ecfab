package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tuition-engine/billing"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/schools/{id}")
	req := httptest.NewRequest(http.MethodGet, "/api/schools/s1", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/schools/{id}", "418")))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `tuition_http_request_duration_seconds_bucket{route="/api/schools/{id}"`)
}

func TestRecorder_EngineEvents(t *testing.T) {
	m := New()

	m.PeriodsGenerated("school-1", 3)
	m.TransactionRecorded(billing.TxPayment, billing.NewMoney(1500))
	m.TransactionRecorded(billing.TxPayment, billing.NewMoney(500))
	m.SeasonClosed(billing.NewMoney(1000))
	m.SeasonClosed(billing.ZeroMoney())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.periodsGenerated.WithLabelValues("school-1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsRecorded.WithLabelValues("payment")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.transactionAmount.WithLabelValues("payment")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.seasonsClosed))
	assert.Equal(t, 1000.0, testutil.ToFloat64(m.writtenOff))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware(next))
	m.SchedulerPair("generated")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

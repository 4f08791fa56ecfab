/*
handlers_test.go - HTTP tests for the billing API

Tests for:
- School, season and student management
- Period generation, transactions, balance, roster and closure endpoints
- Error mapping (400/404/409) and request validation
- Rate limiting and the operations endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/billing/store"
	"github.com/warp/tuition-engine/metrics"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testNow lies in period 1 of a cycle starting 2026-01-05.
var testNow = time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)

type testAPI struct {
	router  *chi.Mux
	handler *Handler
	store   *store.Memory
	engine  *billing.Engine
	metrics *metrics.Metrics
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()
	mem := store.NewMemory()

	var seq int64
	engine := billing.NewEngine(mem)
	engine.Now = func() time.Time { return testNow }
	engine.NewID = func() string { return fmt.Sprintf("id-%d", atomic.AddInt64(&seq, 1)) }

	logger := zaptest.NewLogger(t)
	h := NewHandler(engine, mem, logger)
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	engine.Recorder = opts.Metrics
	opts.Logger = logger
	return &testAPI{
		router:  NewRouter(h, opts),
		handler: h,
		store:   mem,
		engine:  engine,
		metrics: opts.Metrics,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

// seedPair creates school-1 (cycle 2026-01-05, price 1000), season-1 and
// students ana (normal) and cleo (50% off).
func (a *testAPI) seedPair(t *testing.T) {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/api/schools", CreateSchoolRequest{
		ID: "school-1", Name: "Music School", CycleStartDate: "2026-01-05", DefaultPrice: "1000",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/api/seasons", CreateSeasonRequest{ID: "season-1", Name: "2026", IsActive: true})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/api/schools/school-1/students", CreateStudentRequest{
		ID: "ana", Name: "Ana", JoinedDate: "2025-09-01",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	half := "50"
	rr = a.do(t, http.MethodPost, "/api/schools/school-1/students", CreateStudentRequest{
		ID: "cleo", Name: "Cleo", JoinedDate: "2025-09-01", PaymentStatus: "discounted", DiscountPercentage: &half,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

const pairPath = "/api/schools/school-1/seasons/season-1"

// =============================================================================
// SCHOOL / SEASON / STUDENT TESTS
// =============================================================================

func TestHandlers_CreateAndGetSchool(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)

	rr := a.do(t, http.MethodGet, "/api/schools/school-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	school := decodeBody[SchoolDTO](t, rr)
	assert.Equal(t, "2026-01-05", school.CycleStartDate)
	assert.Equal(t, "1000", school.DefaultPrice)
	assert.Empty(t, school.Closures)

	rr = a.do(t, http.MethodGet, "/api/schools", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]SchoolDTO](t, rr), 1)

	rr = a.do(t, http.MethodGet, "/api/schools/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlers_CreateSchool_Validation(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	tests := []struct {
		name string
		body any
	}{
		{"missing name", CreateSchoolRequest{DefaultPrice: "100"}},
		{"bad price", CreateSchoolRequest{Name: "X", DefaultPrice: "lots"}},
		{"negative price", CreateSchoolRequest{Name: "X", DefaultPrice: "-5"}},
		{"bad date", CreateSchoolRequest{Name: "X", DefaultPrice: "100", CycleStartDate: "05/01/2026"}},
		{"unknown field", `{"name":"X","default_price":"100","colour":"red"}`},
		{"not json", `{name`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := a.do(t, http.MethodPost, "/api/schools", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rr).Error)
		})
	}
}

func TestHandlers_ValidationUsesJSONFieldNames(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rr := a.do(t, http.MethodPost, "/api/schools", CreateSchoolRequest{Name: "X"})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rr).Details, "default_price failed required")
}

func TestHandlers_CycleStartFixedOncePeriodsExist(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)

	rr := a.do(t, http.MethodPost, pairPath+"/periods/ensure", EnsurePeriodsRequest{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = a.do(t, http.MethodPost, "/api/schools", CreateSchoolRequest{
		ID: "school-1", Name: "Music School", CycleStartDate: "2026-01-12", DefaultPrice: "1000",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
}

func TestHandlers_Students(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)

	rr := a.do(t, http.MethodGet, "/api/schools/school-1/students", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	students := decodeBody[[]StudentDTO](t, rr)
	require.Len(t, students, 2)
	assert.Equal(t, "Active", students[0].Status)
	assert.Equal(t, "normal", students[0].PaymentStatus)
	require.NotNil(t, students[1].DiscountPercentage)
	assert.Equal(t, "50", *students[1].DiscountPercentage)

	bad := "120"
	rr = a.do(t, http.MethodPost, "/api/schools/school-1/students", CreateStudentRequest{
		Name: "Dan", PaymentStatus: "discounted", DiscountPercentage: &bad,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/schools/school-1/students", CreateStudentRequest{Name: "Dan", Status: "Gone"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/schools/nope/students", CreateStudentRequest{Name: "Dan"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlers_ClaimPayment(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)

	rr := a.do(t, http.MethodPost, "/api/students/ana/claim", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "claimed", decodeBody[StudentDTO](t, rr).LastPaymentStatus)

	rr = a.do(t, http.MethodPost, "/api/students/ghost/claim", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlers_Calendar(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)

	rr := a.do(t, http.MethodGet, "/api/schools/school-1/calendar", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	cal := decodeBody[CalendarDTO](t, rr)
	assert.Equal(t, 1, cal.CurrentIndex)
	assert.Equal(t, "2026-02-02", cal.Start)
	assert.Equal(t, "2026-03-01", cal.End)
	assert.Equal(t, "2026-02-10", cal.Today)

	rr = a.do(t, http.MethodGet, "/api/schools/school-1/calendar?offset=-2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	cal = decodeBody[CalendarDTO](t, rr)
	assert.Equal(t, -1, cal.Index)
	assert.Equal(t, "2025-12-08", cal.Start)

	rr = a.do(t, http.MethodGet, "/api/schools/school-1/calendar?offset=x", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestHandlers_EnsurePeriods_DefaultsToCurrentPeriod(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)

	rr := a.do(t, http.MethodPost, pairPath+"/periods/ensure", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	periods := decodeBody[[]PeriodDTO](t, rr)
	require.Len(t, periods, 2)
	assert.Equal(t, "2026-01-05", periods[0].Start)
	assert.Equal(t, "2026-03-01", periods[1].End)
	assert.Equal(t, "1500", periods[1].ExpectedAmount)
	assert.Equal(t, 2, periods[1].StudentCountSnapshot)

	rr = a.do(t, http.MethodGet, pairPath+"/periods", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]PeriodDTO](t, rr), 2)
}

func TestHandlers_EnsurePeriods_Errors(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)

	negative := -1
	rr := a.do(t, http.MethodPost, pairPath+"/periods/ensure", EnsurePeriodsRequest{Target: &negative})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rr).Details, "target failed min")

	for _, future := range []int{2, 2000} {
		target := future
		rr = a.do(t, http.MethodPost, pairPath+"/periods/ensure", EnsurePeriodsRequest{Target: &target})
		assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	}
	rr = a.do(t, http.MethodGet, pairPath+"/periods", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[[]PeriodDTO](t, rr))

	rr = a.do(t, http.MethodPost, "/api/schools/school-1/seasons/nope/periods/ensure", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = a.do(t, http.MethodPost, "/api/schools", CreateSchoolRequest{ID: "school-2", Name: "No Cycle", DefaultPrice: "10"})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = a.do(t, http.MethodPost, "/api/schools/school-2/seasons/season-1/periods/ensure", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlers_RecordTransaction(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, pairPath+"/periods/ensure", nil).Code)

	zero := 0
	rr := a.do(t, http.MethodPost, pairPath+"/transactions", RecordTransactionRequest{
		StudentID: "ana", Amount: "1000", Type: "payment", Date: "2026-02-12", PeriodNumber: &zero,
		IdempotencyKey: "bank-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	tx := decodeBody[TransactionDTO](t, rr)
	assert.Equal(t, "season-1", tx.SeasonID)
	assert.NotEmpty(t, tx.PeriodID)
	assert.Equal(t, "1000", tx.Amount)

	// The pinned payment counts for period 0 only.
	rr = a.do(t, http.MethodGet, pairPath+"/transactions?period=0", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rr), 1)
	rr = a.do(t, http.MethodGet, pairPath+"/transactions?period=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[[]TransactionDTO](t, rr))

	rr = a.do(t, http.MethodGet, pairPath+"/transactions?student_id=cleo", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[[]TransactionDTO](t, rr))
}

func TestHandlers_RecordTransaction_Errors(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, pairPath+"/periods/ensure", nil).Code)

	first := a.do(t, http.MethodPost, pairPath+"/transactions", RecordTransactionRequest{
		StudentID: "ana", Amount: "1000", Type: "payment", Date: "2026-02-12", IdempotencyKey: "bank-1",
	})
	require.Equal(t, http.StatusCreated, first.Code)

	five := 5
	tests := []struct {
		name string
		body RecordTransactionRequest
		want int
	}{
		{"duplicate key", RecordTransactionRequest{StudentID: "ana", Amount: "1000", Type: "payment", Date: "2026-02-12", IdempotencyKey: "bank-1"}, http.StatusConflict},
		{"unknown type", RecordTransactionRequest{Amount: "10", Type: "refund", Date: "2026-02-12"}, http.StatusBadRequest},
		{"missing date", RecordTransactionRequest{Amount: "10", Type: "payment"}, http.StatusBadRequest},
		{"non numeric amount", RecordTransactionRequest{Amount: "ten", Type: "payment", Date: "2026-02-12"}, http.StatusBadRequest},
		{"zero amount", RecordTransactionRequest{Amount: "0", Type: "payment", Date: "2026-02-12"}, http.StatusBadRequest},
		{"negative amount", RecordTransactionRequest{Amount: "-10", Type: "payment", Date: "2026-02-12"}, http.StatusBadRequest},
		{"unknown period number", RecordTransactionRequest{Amount: "10", Type: "payment", Date: "2026-02-12", PeriodNumber: &five}, http.StatusNotFound},
		{"unknown period id", RecordTransactionRequest{Amount: "10", Type: "payment", Date: "2026-02-12", PeriodID: "nope"}, http.StatusNotFound},
		{"unknown student", RecordTransactionRequest{StudentID: "ghost", Amount: "10", Type: "payment", Date: "2026-02-12"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := a.do(t, http.MethodPost, pairPath+"/transactions", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}

	rr := a.do(t, http.MethodGet, pairPath+"/transactions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rr), 1)
}

func TestHandlers_Roster(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, pairPath+"/periods/ensure", nil).Code)

	for _, body := range []RecordTransactionRequest{
		{StudentID: "ana", Amount: "1000", Type: "payment", Date: "2026-01-10"},
		{StudentID: "ana", Amount: "1000", Type: "payment", Date: "2026-02-05"},
	} {
		require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, pairPath+"/transactions", body).Code)
	}
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/students/cleo/claim", nil).Code)

	rr := a.do(t, http.MethodGet, pairPath+"/periods/1/roster", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	roster := decodeBody[RosterDTO](t, rr)

	assert.Equal(t, 1, roster.Period.Number)
	require.Len(t, roster.Lines, 2)
	assert.Equal(t, "ana", roster.Lines[0].Student.ID)
	assert.Equal(t, "paid", roster.Lines[0].State)
	assert.False(t, roster.Lines[0].HasPastDebt)
	assert.Equal(t, "cleo", roster.Lines[1].Student.ID)
	assert.Equal(t, "claimed", roster.Lines[1].State)
	assert.Equal(t, "500", roster.Lines[1].Charge)
	assert.True(t, roster.Lines[1].HasPastDebt)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, pairPath+"/periods/9/roster", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, pairPath+"/periods/x/roster", nil).Code)
}

// =============================================================================
// BALANCE AND CLOSURE TESTS
// =============================================================================

func TestHandlers_BalanceAndClosure(t *testing.T) {
	// GIVEN: Two periods at 1500 and one 1000 payment
	// WHEN: Closing the season
	// THEN: 2000 is written off, the balance reads 0 and the pair refuses writes

	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, pairPath+"/periods/ensure", nil).Code)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, pairPath+"/transactions", RecordTransactionRequest{
		StudentID: "ana", Amount: "1000", Type: "payment", Date: "2026-01-10",
	}).Code)

	rr := a.do(t, http.MethodGet, pairPath+"/balance", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	balance := decodeBody[BalanceDTO](t, rr)
	assert.Equal(t, "3000", balance.TotalDebt)
	assert.Equal(t, "1000", balance.TotalPaid)
	assert.Equal(t, "2000", balance.Outstanding)
	assert.False(t, balance.Closed)

	rr = a.do(t, http.MethodPost, pairPath+"/close", CloseSeasonRequest{Reason: "term ended", ClosedBy: "admin"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	closure := decodeBody[ClosureDTO](t, rr)
	assert.Equal(t, "2000", closure.Balance)
	assert.NotEmpty(t, closure.WriteOffID)
	assert.Equal(t, "term ended", closure.Reason)

	rr = a.do(t, http.MethodGet, pairPath+"/balance", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	balance = decodeBody[BalanceDTO](t, rr)
	assert.Equal(t, "2000", balance.TotalForgiven)
	assert.Equal(t, "0", balance.Outstanding)
	assert.True(t, balance.Closed)

	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, pairPath+"/close", nil).Code)
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, pairPath+"/periods/ensure", nil).Code)
	assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, pairPath+"/transactions", RecordTransactionRequest{
		StudentID: "ana", Amount: "1000", Type: "payment", Date: "2026-02-10",
	}).Code)

	rr = a.do(t, http.MethodGet, "/api/schools/school-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[SchoolDTO](t, rr).Closures, 1)
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestWriteEngineError(t *testing.T) {
	h := NewHandler(nil, nil, zaptest.NewLogger(t))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", billing.NotFound("school", "x"), http.StatusNotFound},
		{"invalid cycle", &billing.InvalidCycleError{SchoolID: "x", Reason: "r"}, http.StatusBadRequest},
		{"invalid transaction", &billing.TransactionError{Field: "amount", Message: "m"}, http.StatusBadRequest},
		{"season closed", &billing.SeasonClosedError{SchoolID: "x", SeasonID: "y"}, http.StatusConflict},
		{"already closed", &billing.AlreadyClosedError{}, http.StatusConflict},
		{"duplicate key", billing.ErrDuplicateIdempotencyKey, http.StatusConflict},
		{"lock timeout", fmt.Errorf("%w: k", billing.ErrLockTimeout), http.StatusServiceUnavailable},
		{"anything else", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.writeEngineError(rr, tt.err)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestWriteEngineError_InternalDetailsWithheld(t *testing.T) {
	h := NewHandler(nil, nil, zaptest.NewLogger(t))
	rr := httptest.NewRecorder()

	h.writeEngineError(rr, fmt.Errorf("connection to 10.0.0.5 refused"))

	resp := decodeBody[ErrorResponse](t, rr)
	assert.Empty(t, resp.Details)
}

// =============================================================================
// OPERATIONS TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rr := a.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rr)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	a.seedPair(t)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, pairPath+"/periods/ensure", nil).Code)

	rr := a.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `tuition_periods_generated_total{school_id="school-1"} 2`)
	assert.Contains(t, rr.Body.String(), `tuition_http_requests_total`)
}

func TestSecurityHeaders(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rr := a.do(t, http.MethodGet, "/api/schools", nil)

	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, RouterOptions{RateLimit: 2})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/schools", nil).Code)
	}
	rr := a.do(t, http.MethodGet, "/api/schools", nil)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "Too many requests", decodeBody[ErrorResponse](t, rr).Error)

	// Operations endpoints are outside the limited group.
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/healthz", nil).Code)
}

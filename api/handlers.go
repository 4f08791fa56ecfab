/*
handlers.go - HTTP API handlers for the tuition billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the billing package.

ENDPOINTS:
  Schools:
    GET    /api/schools                          List schools
    POST   /api/schools                          Create or update a school
    GET    /api/schools/{id}                     School details + closures
    GET    /api/schools/{id}/calendar?offset=n   Period window relative to today

  Seasons:
    GET    /api/seasons                          List seasons
    POST   /api/seasons                          Create or update a season

  Students:
    GET    /api/schools/{id}/students            List students
    POST   /api/schools/{id}/students            Enroll or update a student
    POST   /api/students/{id}/claim              Mark a payment as claimed

  Ledger (per school and season):
    POST   .../periods/ensure                    Materialize periods up to a target
    GET    .../periods                           List materialized periods
    GET    .../periods/{number}/roster           Per-student status for a period
    POST   .../transactions                      Record a payment or write-off
    GET    .../transactions                      List transactions
    GET    .../balance                           Aggregate balance
    POST   .../close                             Close the season

ERROR HANDLING:
  Engine errors are mapped by classification:
  - 400: Invalid input, invalid cycle
  - 404: Unknown school, season, student or period
  - 409: Closed season, already closed, duplicate idempotency key
  - 503: Pair lock not acquired in time
  - 500: Everything else (logged, details withheld)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is everything the HTTP layer needs from storage.
type Backend interface {
	billing.TxStore
	billing.Directory
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *billing.Engine
	Store  Backend
	Logger *zap.Logger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. The engine must be built on the same store.
func NewHandler(engine *billing.Engine, store Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Engine:   engine,
		Store:    store,
		Logger:   logger,
		validate: v,
	}
}

func (h *Handler) now() time.Time {
	if h.Engine != nil && h.Engine.Now != nil {
		return h.Engine.Now()
	}
	return time.Now()
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if pinger, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCHOOL HANDLERS
// =============================================================================

func (h *Handler) ListSchools(w http.ResponseWriter, r *http.Request) {
	schools, err := h.Store.ListSchools(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]SchoolDTO, len(schools))
	for i, s := range schools {
		dtos[i] = toSchoolDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetSchool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	school, err := h.Store.GetSchool(ctx, billing.SchoolID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	closures, err := h.Store.ListClosures(ctx, school.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	dto := toSchoolDTO(school)
	for _, c := range closures {
		dto.Closures = append(dto.Closures, toClosureDTO(c))
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateSchool creates a school, or updates it when the id exists. Moving
// the cycle start of a school with periods is rejected by the store.
func (h *Handler) CreateSchool(w http.ResponseWriter, r *http.Request) {
	var req CreateSchoolRequest
	if !h.decode(w, r, &req) {
		return
	}

	price, err := billing.ParseMoney(req.DefaultPrice)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "Invalid default_price", err)
		return
	}
	var cycleStart billing.Date
	if req.CycleStartDate != "" {
		if cycleStart, err = billing.ParseDate(req.CycleStartDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cycle_start_date", err)
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	school := billing.School{
		ID:             billing.SchoolID(req.ID),
		Name:           req.Name,
		CycleStartDate: cycleStart,
		DefaultPrice:   price,
		CreatedAt:      h.now().UTC(),
	}
	if existing, err := h.Store.GetSchool(r.Context(), school.ID); err == nil {
		school.CreatedAt = existing.CreatedAt
	}
	if err := h.Store.SaveSchool(r.Context(), school); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSchoolDTO(school))
}

// Calendar returns the window at offset periods from the current one.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	school, err := h.Store.GetSchool(r.Context(), billing.SchoolID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if school.CycleStartDate.IsZero() {
		h.writeEngineError(w, &billing.InvalidCycleError{SchoolID: school.ID, Reason: "cycle start date is not set"})
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid offset", err)
			return
		}
	}

	now := h.now()
	current := billing.CurrentPeriodIndex(school.CycleStartDate, now)
	window := billing.PeriodWindow(school.CycleStartDate, current+offset)
	writeJSON(w, http.StatusOK, CalendarDTO{
		SchoolID:       string(school.ID),
		CycleStartDate: school.CycleStartDate.String(),
		Today:          billing.DateOf(now).String(),
		CurrentIndex:   current,
		Index:          current + offset,
		Start:          window.Start.String(),
		End:            window.End.String(),
	})
}

// =============================================================================
// SEASON HANDLERS
// =============================================================================

func (h *Handler) ListSeasons(w http.ResponseWriter, r *http.Request) {
	seasons, err := h.Store.ListSeasons(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]SeasonDTO, len(seasons))
	for i, s := range seasons {
		dtos[i] = toSeasonDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSeason(w http.ResponseWriter, r *http.Request) {
	var req CreateSeasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	season := billing.Season{
		ID:        billing.SeasonID(req.ID),
		Name:      req.Name,
		IsActive:  req.IsActive,
		CreatedAt: h.now().UTC(),
	}
	if err := h.Store.SaveSeason(r.Context(), season); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSeasonDTO(season))
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	school, err := h.Store.GetSchool(ctx, billing.SchoolID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	students, err := h.Store.ListStudents(ctx, school.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent enrolls a student. Enrollment changes never touch periods
// that already exist; they only affect periods generated afterwards.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	school, err := h.Store.GetSchool(ctx, billing.SchoolID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	var req CreateStudentRequest
	if !h.decode(w, r, &req) {
		return
	}

	st := billing.Student{
		ID:            billing.StudentID(req.ID),
		SchoolID:      school.ID,
		Name:          req.Name,
		Status:        billing.StudentStatus(req.Status),
		PaymentStatus: billing.PaymentPlan(req.PaymentStatus),
		CreatedAt:     h.now().UTC(),
	}
	if st.ID == "" {
		st.ID = billing.StudentID(uuid.NewString())
	}
	if st.Status == "" {
		st.Status = billing.StudentActive
	}
	if st.PaymentStatus == "" {
		st.PaymentStatus = billing.PlanNormal
	}
	if req.JoinedDate != "" {
		if st.JoinedDate, err = billing.ParseDate(req.JoinedDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid joined_date", err)
			return
		}
	}
	if req.DiscountPercentage != nil {
		pct, err := decimal.NewFromString(*req.DiscountPercentage)
		if err != nil || pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			writeError(w, http.StatusBadRequest, "discount_percentage must be between 0 and 100", err)
			return
		}
		st.DiscountPercentage = &pct
	}

	if existing, err := h.Store.GetStudent(ctx, st.ID); err == nil {
		if existing.SchoolID != school.ID {
			writeError(w, http.StatusConflict, "Student belongs to another school", nil)
			return
		}
		st.CreatedAt = existing.CreatedAt
		st.LastPaymentStatus = existing.LastPaymentStatus
	}

	if err := h.Store.SaveStudent(ctx, st); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(st))
}

func (h *Handler) ClaimPayment(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.ClaimPayment(r.Context(), billing.StudentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// pair loads the school and season named in the URL.
func (h *Handler) pair(w http.ResponseWriter, r *http.Request) (billing.School, billing.Season, bool) {
	ctx := r.Context()
	school, err := h.Store.GetSchool(ctx, billing.SchoolID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, err)
		return billing.School{}, billing.Season{}, false
	}
	season, err := h.Store.GetSeason(ctx, billing.SeasonID(chi.URLParam(r, "seasonID")))
	if err != nil {
		h.writeEngineError(w, err)
		return billing.School{}, billing.Season{}, false
	}
	return school, season, true
}

// EnsurePeriods materializes periods up to the requested target, or up to
// the period containing today when the body omits it.
func (h *Handler) EnsurePeriods(w http.ResponseWriter, r *http.Request) {
	school, season, ok := h.pair(w, r)
	if !ok {
		return
	}

	var req EnsurePeriodsRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	var target int
	if req.Target != nil {
		target = *req.Target
	} else {
		if school.CycleStartDate.IsZero() {
			h.writeEngineError(w, &billing.InvalidCycleError{SchoolID: school.ID, Reason: "cycle start date is not set"})
			return
		}
		target = billing.CurrentPeriodIndex(school.CycleStartDate, h.now())
	}

	periods, err := h.Engine.EnsurePeriodsUpTo(r.Context(), school, season, target)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(periods))
}

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	school, season, ok := h.pair(w, r)
	if !ok {
		return
	}
	periods, err := h.Store.ListPeriods(r.Context(), school.ID, season.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(periods))
}

func (h *Handler) Roster(w http.ResponseWriter, r *http.Request) {
	school, season, ok := h.pair(w, r)
	if !ok {
		return
	}
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period number", err)
		return
	}
	roster, err := h.Engine.Roster(r.Context(), school, season, number)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRosterDTO(roster))
}

func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	school, season, ok := h.pair(w, r)
	if !ok {
		return
	}

	var req RecordTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := billing.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date, err := billing.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	periodID := billing.PeriodID(req.PeriodID)
	if periodID == "" && req.PeriodNumber != nil {
		periods, err := h.Store.ListPeriods(r.Context(), school.ID, season.ID)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		p, found := billing.FindPeriod(periods, *req.PeriodNumber)
		if !found {
			h.writeEngineError(w, billing.NotFound("period", *req.PeriodNumber))
			return
		}
		periodID = p.ID
	}

	tx, err := h.Engine.RecordTransaction(r.Context(), school, season, billing.TransactionInput{
		StudentID:      billing.StudentID(req.StudentID),
		PeriodID:       periodID,
		Amount:         amount,
		Type:           billing.TransactionType(req.Type),
		Date:           date,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ListTransactions accepts optional student_id and period (number) filters.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	school, season, ok := h.pair(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	var period *billing.Period
	if raw := q.Get("period"); raw != "" {
		number, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		periods, err := h.Store.ListPeriods(ctx, school.ID, season.ID)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		p, found := billing.FindPeriod(periods, number)
		if !found {
			h.writeEngineError(w, billing.NotFound("period", number))
			return
		}
		period = &p
	}

	txs, err := h.Engine.Transactions(ctx, school.ID, season.ID, billing.StudentID(q.Get("student_id")), period)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	school, season, ok := h.pair(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	balance, err := h.Engine.Balance(ctx, school.ID, season.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	closed, err := h.Engine.IsClosed(ctx, school.ID, season.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance, closed))
}

func (h *Handler) CloseSeason(w http.ResponseWriter, r *http.Request) {
	school, season, ok := h.pair(w, r)
	if !ok {
		return
	}

	var req CloseSeasonRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	closure, err := h.Engine.CloseSeason(r.Context(), school, season, billing.CloseInput{
		Reason:   req.Reason,
		ClosedBy: req.ClosedBy,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosureDTO(closure))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps billing errors to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case billing.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case billing.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "Busy, retry later", err)
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// decode reads a JSON body into dst and validates it. On failure it writes
// a 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			writeError(w, http.StatusBadRequest, "Validation failed", errors.New(strings.Join(fields, "; ")))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

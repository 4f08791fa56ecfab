/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates a school, a season, students,
	generates periods up to today and records some payments.

AVAILABLE SCENARIOS:

	music-school:    Mixed payment plans, one skipped period (past debt)
	late-joiner:     A student who joined mid-season isn't in arrears
	season-closure:  Partially paid season closed with a write-off

HOW SCENARIOS WORK:
 1. Save the school (cycle start relative to today), season and students
 2. EnsurePeriodsUpTo the current period
 3. Record payments pinned by date or by period id
 4. Optionally close the season

Loading is repeatable: ids are fixed, payments carry idempotency keys and
a school that already has periods keeps its original cycle start.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "music-school"}

SEE ALSO:
  - handlers.go: Engine-backed handlers the scenarios exercise
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "music-school",
		Name:        "Music School",
		Description: "Normal, free and discounted students; one skipped period shows past debt",
	},
	{
		ID:          "late-joiner",
		Name:        "Late Joiner",
		Description: "A student who enrolled mid-season is not flagged for periods before joining",
	},
	{
		ID:          "season-closure",
		Name:        "Season Closure",
		Description: "Partially paid season closed; the remainder is written off",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.writeEngineError(w, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var errUnknownScenario = errors.New("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	switch id {
	case "music-school":
		return h.loadMusicSchoolScenario(ctx)
	case "late-joiner":
		return h.loadLateJoinerScenario(ctx)
	case "season-closure":
		return h.loadSeasonClosureScenario(ctx)
	default:
		return fmt.Errorf("%w: %q", errUnknownScenario, id)
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMusicSchoolScenario(ctx context.Context) error {
	// Cycle started three periods and a few days ago, so today is in period 3.
	school, err := h.seedSchool(ctx, "demo-music", "Maple Grove Music School", 3, 1200)
	if err != nil {
		return err
	}
	season, err := h.seedSeason(ctx, "demo-music-2026", "2026 Lessons", true)
	if err != nil {
		return err
	}

	quarter := decimal.NewFromInt(25)
	start := school.CycleStartDate
	students := []billing.Student{
		{ID: "demo-music-ana", Name: "Ana Souza", JoinedDate: start, PaymentStatus: billing.PlanNormal},
		{ID: "demo-music-ben", Name: "Ben Okafor", JoinedDate: start, PaymentStatus: billing.PlanFree},
		{ID: "demo-music-carla", Name: "Carla Ruiz", JoinedDate: start, PaymentStatus: billing.PlanDiscounted, DiscountPercentage: &quarter},
		{ID: "demo-music-eli", Name: "Eli Novak", JoinedDate: start, Status: billing.StudentLeft, PaymentStatus: billing.PlanNormal},
	}
	if err := h.seedStudents(ctx, school, students); err != nil {
		return err
	}

	periods, err := h.ensureCurrent(ctx, school, season)
	if err != nil {
		return err
	}

	for _, p := range periods {
		// Ana pays every period on its third day.
		if err := h.seedPayment(ctx, school, season, "music-ana", p, "demo-music-ana", billing.NewMoney(1200), false); err != nil {
			return err
		}
		// Carla skips period 2 and hasn't paid the current one yet.
		if p.Number == 2 || p.Number == len(periods)-1 {
			continue
		}
		if err := h.seedPayment(ctx, school, season, "music-carla", p, "demo-music-carla", billing.NewMoney(900), false); err != nil {
			return err
		}
	}

	// Carla says she paid the current period; nothing is recorded yet.
	_, err = h.Engine.ClaimPayment(ctx, "demo-music-carla")
	return err
}

func (h *Handler) loadLateJoinerScenario(ctx context.Context) error {
	school, err := h.seedSchool(ctx, "demo-late", "Riverside Dance Studio", 4, 800)
	if err != nil {
		return err
	}
	season, err := h.seedSeason(ctx, "demo-late-2026", "2026 Classes", true)
	if err != nil {
		return err
	}

	start := school.CycleStartDate
	joined := billing.PeriodWindow(start, 3).Start.AddDays(2)
	students := []billing.Student{
		{ID: "demo-late-fay", Name: "Fay Lindqvist", JoinedDate: joined, PaymentStatus: billing.PlanNormal},
		{ID: "demo-late-gus", Name: "Gus Moreau", JoinedDate: start, PaymentStatus: billing.PlanNormal},
	}
	if err := h.seedStudents(ctx, school, students); err != nil {
		return err
	}

	periods, err := h.ensureCurrent(ctx, school, season)
	if err != nil {
		return err
	}

	for _, p := range periods {
		if p.Number >= 3 {
			// Fay pays from her first period, pinned to it explicitly.
			if err := h.seedPayment(ctx, school, season, "late-fay", p, "demo-late-fay", billing.NewMoney(800), true); err != nil {
				return err
			}
		}
		if p.Number == 1 {
			continue
		}
		if err := h.seedPayment(ctx, school, season, "late-gus", p, "demo-late-gus", billing.NewMoney(800), false); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSeasonClosureScenario(ctx context.Context) error {
	school, err := h.seedSchool(ctx, "demo-harbor", "Harbor Language School", 2, 1000)
	if err != nil {
		return err
	}
	season, err := h.seedSeason(ctx, "demo-harbor-2025", "2025 Term", false)
	if err != nil {
		return err
	}

	closed, err := h.Engine.IsClosed(ctx, school.ID, season.ID)
	if err != nil || closed {
		return err
	}

	start := school.CycleStartDate
	students := []billing.Student{
		{ID: "demo-harbor-hana", Name: "Hana Sato", JoinedDate: start, PaymentStatus: billing.PlanNormal},
		{ID: "demo-harbor-ivan", Name: "Ivan Petrov", JoinedDate: start, PaymentStatus: billing.PlanNormal},
		{ID: "demo-harbor-june", Name: "June Park", JoinedDate: start, PaymentStatus: billing.PlanNormal},
	}
	if err := h.seedStudents(ctx, school, students); err != nil {
		return err
	}

	periods, err := h.ensureCurrent(ctx, school, season)
	if err != nil {
		return err
	}

	for _, p := range periods {
		if err := h.seedPayment(ctx, school, season, "harbor-hana", p, "demo-harbor-hana", billing.NewMoney(1000), false); err != nil {
			return err
		}
		if p.Number == 0 {
			if err := h.seedPayment(ctx, school, season, "harbor-ivan", p, "demo-harbor-ivan", billing.NewMoney(1000), false); err != nil {
				return err
			}
		}
	}

	// A hardship waiver for June's first period, recorded by hand.
	if len(periods) > 0 {
		_, err := h.Engine.RecordTransaction(ctx, school, season, billing.TransactionInput{
			StudentID:      "demo-harbor-june",
			PeriodID:       periods[0].ID,
			Amount:         billing.NewMoney(500),
			Type:           billing.TxWriteOff,
			Date:           periods[0].Start.AddDays(10),
			Note:           "hardship waiver",
			IdempotencyKey: "scenario:harbor-june:waiver",
			CreatedBy:      "scenario",
		})
		if err != nil && !errors.Is(err, billing.ErrDuplicateIdempotencyKey) {
			return err
		}
	}

	_, err = h.Engine.CloseSeason(ctx, school, season, billing.CloseInput{
		Reason:   "term ended",
		ClosedBy: "scenario",
	})
	if errors.Is(err, billing.ErrAlreadyClosed) {
		return nil
	}
	return err
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// seedSchool saves a school whose current period is currentIndex. An existing
// school keeps its cycle start, which may no longer move.
func (h *Handler) seedSchool(ctx context.Context, id billing.SchoolID, name string, currentIndex int, price int64) (billing.School, error) {
	today := billing.DateOf(h.now())
	school := billing.School{
		ID:             id,
		Name:           name,
		CycleStartDate: today.AddDays(-(currentIndex*billing.PeriodLength + 5)),
		DefaultPrice:   billing.NewMoney(price),
		CreatedAt:      h.now().UTC(),
	}
	if existing, err := h.Store.GetSchool(ctx, id); err == nil {
		school.CycleStartDate = existing.CycleStartDate
		school.CreatedAt = existing.CreatedAt
	} else if !billing.IsNotFound(err) {
		return billing.School{}, err
	}
	if err := h.Store.SaveSchool(ctx, school); err != nil {
		return billing.School{}, err
	}
	return school, nil
}

func (h *Handler) seedSeason(ctx context.Context, id billing.SeasonID, name string, active bool) (billing.Season, error) {
	season := billing.Season{ID: id, Name: name, IsActive: active, CreatedAt: h.now().UTC()}
	if existing, err := h.Store.GetSeason(ctx, id); err == nil {
		season.CreatedAt = existing.CreatedAt
	}
	return season, h.Store.SaveSeason(ctx, season)
}

func (h *Handler) seedStudents(ctx context.Context, school billing.School, students []billing.Student) error {
	for _, st := range students {
		st.SchoolID = school.ID
		if st.Status == "" {
			st.Status = billing.StudentActive
		}
		st.CreatedAt = h.now().UTC()
		if existing, err := h.Store.GetStudent(ctx, st.ID); err == nil {
			st.CreatedAt = existing.CreatedAt
			st.LastPaymentStatus = existing.LastPaymentStatus
		}
		if err := h.Store.SaveStudent(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) ensureCurrent(ctx context.Context, school billing.School, season billing.Season) ([]billing.Period, error) {
	target := billing.CurrentPeriodIndex(school.CycleStartDate, h.now())
	return h.Engine.EnsurePeriodsUpTo(ctx, school, season, target)
}

// seedPayment records one payment for the period, dated on its third day.
// Replays of the same scenario hit the idempotency key and are ignored.
func (h *Handler) seedPayment(ctx context.Context, school billing.School, season billing.Season, key string, p billing.Period, studentID billing.StudentID, amount billing.Money, pin bool) error {
	in := billing.TransactionInput{
		StudentID:      studentID,
		Amount:         amount,
		Type:           billing.TxPayment,
		Date:           p.Start.AddDays(2),
		IdempotencyKey: fmt.Sprintf("scenario:%s:%d", key, p.Number),
		CreatedBy:      "scenario",
	}
	if pin {
		in.PeriodID = p.ID
	}
	_, err := h.Engine.RecordTransaction(ctx, school, season, in)
	if errors.Is(err, billing.ErrDuplicateIdempotencyKey) {
		return nil
	}
	return err
}

/*
ledger.go - Append-only period ledger

PURPOSE:
  Materializes billing periods for a (school, season) pair and freezes what
  each one is expected to collect. A period's ExpectedAmount is computed once,
  from the students enrolled when the row is created, and never again.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Periods are inserted, never updated or deleted
  2. IDEMPOTENT: Asking for the same or a lower target writes nothing
  3. CONTIGUOUS: Period numbers run 0..n with no gaps
  4. NO NEGATIVES: Index -1 and below are never materialized
  5. NO FUTURE: Nothing past the period containing today is materialized
  6. CLOSED IS FINAL: A closed pair refuses generation

EXAMPLE FLOW:
  cycle start 2026-01-05, 3 students at 1000, one of them free

  EnsurePeriodsUpTo(1)  -> creates #0 [01-05, 02-01] 2000, #1 [02-02, 03-01] 2000
  a 4th student enrolls
  EnsurePeriodsUpTo(1)  -> no writes, #0 and #1 still 2000
  EnsurePeriodsUpTo(2)  -> InvalidCycle until 03-02, then creates #2 [03-02, 03-29] 3000

SEE ALSO:
  - period.go: Window arithmetic
  - charge.go: Per-student charge
*/
package billing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// EnsurePeriodsUpTo creates every missing period in [0, target] for the pair
// and returns the pair's periods numbered <= target in ascending order.
//
// target may not pass the period containing today: periods only exist once
// their time has come. The school is re-read under the pair lock, so the
// cycle anchor and price are the stored ones, not the caller's copy.
func (e *Engine) EnsurePeriodsUpTo(ctx context.Context, school School, season Season, target int) ([]Period, error) {
	if school.CycleStartDate.IsZero() {
		return nil, &InvalidCycleError{SchoolID: school.ID, Reason: "cycle start date is not set"}
	}
	if target < 0 {
		return nil, &InvalidCycleError{
			SchoolID: school.ID,
			Reason:   fmt.Sprintf("target period %d is before the cycle start %s", target, school.CycleStartDate),
		}
	}

	unlock, err := e.lockPair(ctx, school.ID, season.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result, created []Period
	err = e.Store.WithTx(ctx, func(s Store) error {
		if err := ensureOpen(ctx, s, school.ID, season.ID); err != nil {
			return err
		}
		current, err := s.GetSchool(ctx, school.ID)
		if err != nil {
			return err
		}
		school = current
		if err := checkTarget(school, target, e.Now()); err != nil {
			return err
		}
		existing, err := s.ListPeriods(ctx, school.ID, season.ID)
		if err != nil {
			return err
		}
		if len(missingNumbers(existing, target)) == 0 {
			result = periodsUpTo(existing, target)
			return nil
		}

		students, err := s.ListStudents(ctx, school.ID)
		if err != nil {
			return err
		}
		created = PlanPeriods(school, season, existing, students, target, e.Now(), e.NewID)
		if err := s.InsertPeriods(ctx, created); err != nil {
			return err
		}
		result = periodsUpTo(append(existing, created...), target)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 {
		e.recorder().PeriodsGenerated(school.ID, len(created))
		e.log().Info("periods generated",
			zap.String("school_id", string(school.ID)),
			zap.String("season_id", string(season.ID)),
			zap.Int("from", created[0].Number),
			zap.Int("to", created[len(created)-1].Number),
		)
	}
	return result, nil
}

// checkTarget rejects a target on a school without a cycle start, or one
// past the period containing now.
func checkTarget(school School, target int, now time.Time) error {
	if school.CycleStartDate.IsZero() {
		return &InvalidCycleError{SchoolID: school.ID, Reason: "cycle start date is not set"}
	}
	if current := CurrentPeriodIndex(school.CycleStartDate, now); target > current {
		return &InvalidCycleError{
			SchoolID: school.ID,
			Reason:   fmt.Sprintf("target period %d is after the current period %d", target, current),
		}
	}
	return nil
}

// PlanPeriods builds (without persisting) the periods missing from existing
// in [0, target]. Each one is priced from the students billable for its own
// window, so a student who joins in March isn't charged for January even when
// January is generated late.
func PlanPeriods(school School, season Season, existing []Period, students []Student, target int, now time.Time, newID func() string) []Period {
	missing := missingNumbers(existing, target)
	planned := make([]Period, 0, len(missing))
	for _, n := range missing {
		w := PeriodWindow(school.CycleStartDate, n)
		expected, count := ExpectedCharge(students, school.DefaultPrice, w)
		planned = append(planned, Period{
			ID:                   PeriodID(newID()),
			SchoolID:             school.ID,
			SeasonID:             season.ID,
			Number:               n,
			Start:                w.Start,
			End:                  w.End,
			ExpectedAmount:       expected,
			StudentCountSnapshot: count,
			CreatedAt:            now.UTC(),
		})
	}
	return planned
}

func missingNumbers(existing []Period, target int) []int {
	have := make(map[int]bool, len(existing))
	for _, p := range existing {
		have[p.Number] = true
	}
	var missing []int
	for n := 0; n <= target; n++ {
		if !have[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

func periodsUpTo(periods []Period, target int) []Period {
	out := make([]Period, 0, len(periods))
	for _, p := range periods {
		if p.Number <= target {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// FindPeriod returns the period with the given number, if materialized.
func FindPeriod(periods []Period, number int) (Period, bool) {
	for _, p := range periods {
		if p.Number == number {
			return p, true
		}
	}
	return Period{}, false
}

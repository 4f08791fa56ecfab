package billing

import "time"

// =============================================================================
// WINDOW - The core concept for billing
// =============================================================================

// PeriodLength is the number of days in every billing period.
const PeriodLength = 28

// Window is an inclusive date range [Start, End].
type Window struct {
	Start Date
	End   Date
}

// Contains returns true if the date is within [Start, End].
func (w Window) Contains(d Date) bool {
	return d.AfterOrEqual(w.Start) && d.BeforeOrEqual(w.End)
}

// Days returns every day in the window.
func (w Window) Days() []Date {
	var days []Date
	for current := w.Start; current.BeforeOrEqual(w.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (w Window) String() string {
	return "[" + w.Start.String() + ", " + w.End.String() + "]"
}

// Next returns the window immediately after this one, same length.
func (w Window) Next() Window {
	length := DaysBetween(w.Start, w.End)
	start := w.End.AddDays(1)
	return Window{Start: start, End: start.AddDays(length)}
}

// Previous returns the window immediately before this one, same length.
func (w Window) Previous() Window {
	length := DaysBetween(w.Start, w.End)
	end := w.Start.AddDays(-1)
	return Window{Start: end.AddDays(-length), End: end}
}

// =============================================================================
// PERIOD CALCULATOR
// =============================================================================

// PeriodWindow returns the window of period index for a school anchored at
// cycleStart. Negative indices are valid and lie before the anchor.
func PeriodWindow(cycleStart Date, index int) Window {
	start := cycleStart.AddDays(PeriodLength * index)
	return Window{Start: start, End: start.AddDays(PeriodLength - 1)}
}

// CurrentPeriodIndex returns the index of the period containing now.
// Time of day is dropped before counting days.
func CurrentPeriodIndex(cycleStart Date, now time.Time) int {
	return PeriodIndexOf(cycleStart, DateOf(now))
}

// PeriodIndexOf returns the index of the period containing d.
func PeriodIndexOf(cycleStart, d Date) int {
	return floorDiv(DaysBetween(cycleStart, d), PeriodLength)
}

// floorDiv rounds toward negative infinity; Go's / truncates toward zero.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

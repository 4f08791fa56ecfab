package billing

import (
	"context"
	"sort"
)

// RosterLine is one student's view of a period.
type RosterLine struct {
	Student     Student
	Charge      Money
	Paid        Money
	State       PaymentState
	HasPastDebt bool
}

// Roster is the per-student status of one period.
type Roster struct {
	Period Period
	Lines  []RosterLine
}

// Roster computes every billable student's status for period number. The
// period must already exist in the ledger. Transactions are loaded once,
// scoped to the period and its lookback window.
func (e *Engine) Roster(ctx context.Context, school School, season Season, number int) (Roster, error) {
	periods, err := e.Store.ListPeriods(ctx, school.ID, season.ID)
	if err != nil {
		return Roster{}, err
	}
	current, ok := FindPeriod(periods, number)
	if !ok {
		return Roster{}, NotFound("period", number)
	}

	var scope []Period
	for _, p := range periods {
		if p.Number <= number && p.Number >= number-LookbackPeriods {
			scope = append(scope, p)
		}
	}
	txs, err := e.Store.ListTransactions(ctx, TransactionFilter{
		SchoolID: school.ID,
		SeasonID: season.ID,
		Types:    []TransactionType{TxPayment},
	}.ForPeriods(scope))
	if err != nil {
		return Roster{}, err
	}

	students, err := e.Store.ListStudents(ctx, school.ID)
	if err != nil {
		return Roster{}, err
	}
	return BuildRoster(current, periods, students, txs, school.DefaultPrice), nil
}

// BuildRoster is the pure part of Roster. Students who aren't billable for
// the period are listed only if they have a payment in it.
func BuildRoster(current Period, periods []Period, students []Student, txs []Transaction, price Money) Roster {
	r := Roster{Period: current}
	for _, st := range students {
		billable := Billable(st, current.End)
		paid := PaidAmount(st, current, txs)
		if !billable && paid.IsZero() {
			continue
		}
		line := RosterLine{
			Student:     st,
			Charge:      ZeroMoney(),
			Paid:        paid,
			State:       CurrentStatus(st, current, txs),
			HasPastDebt: HasPastDebt(st, current, periods, txs),
		}
		if billable {
			line.Charge = PerStudentCharge(st, price)
		}
		r.Lines = append(r.Lines, line)
	}
	sort.Slice(r.Lines, func(i, j int) bool {
		if r.Lines[i].Student.Name != r.Lines[j].Student.Name {
			return r.Lines[i].Student.Name < r.Lines[j].Student.Name
		}
		return r.Lines[i].Student.ID < r.Lines[j].Student.ID
	})
	return r
}

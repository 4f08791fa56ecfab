/*
matcher.go - Transaction-to-period matching and student status

PURPOSE:
  Answers "which transactions pay for this period?" and, per student,
  "is this period paid?" and "did they skip a recent period?". Every function
  here is pure over already-fetched data and safe to call concurrently.

MATCHING RULE:
  A transaction belongs to a period when
    tx.PeriodID == period.ID
  or, when the transaction has no PeriodID at all,
    period.Start <= tx.Date <= period.End  AND  tx.SeasonID == period.SeasonID

  The explicit id wins. A late settlement can be pinned to an older period
  without the date fallback also counting it in the period it was paid in.

ARREARS:
  HasPastDebt looks back at most LookbackPeriods periods, newest first, and
  stops at the first one the student didn't pay. It flags recent arrears; it
  is not a total of what is owed (see Balance for that).
*/
package billing

// LookbackPeriods bounds how far HasPastDebt scans backwards.
const LookbackPeriods = 6

// PaymentState is a student's status for one period.
type PaymentState string

const (
	StatePaid    PaymentState = "paid"
	StateUnpaid  PaymentState = "unpaid"
	StateClaimed PaymentState = "claimed"
)

// Matches reports whether tx counts toward period p.
func Matches(tx Transaction, p Period) bool {
	if tx.PeriodID != "" {
		return tx.PeriodID == p.ID
	}
	return tx.SeasonID == p.SeasonID && p.Window().Contains(tx.Date)
}

// MatchPeriod selects the transactions that count toward p.
func MatchPeriod(txs []Transaction, p Period) []Transaction {
	var matched []Transaction
	for _, tx := range txs {
		if Matches(tx, p) {
			matched = append(matched, tx)
		}
	}
	return matched
}

// PaidInPeriod reports whether a payment for the student matches p.
func PaidInPeriod(student Student, p Period, txs []Transaction) bool {
	for _, tx := range txs {
		if tx.Type == TxPayment && tx.StudentID == student.ID && Matches(tx, p) {
			return true
		}
	}
	return false
}

// CurrentStatus returns the student's state for period p.
//
//	paid     free students, or a matching payment exists
//	claimed  the family reported a payment that isn't recorded yet
//	unpaid   otherwise
func CurrentStatus(student Student, p Period, txs []Transaction) PaymentState {
	if student.IsFree() || PaidInPeriod(student, p, txs) {
		return StatePaid
	}
	if student.LastPaymentStatus == LastPaymentClaimed {
		return StateClaimed
	}
	return StateUnpaid
}

// HasPastDebt reports whether one of the up to LookbackPeriods periods
// preceding current went unpaid by the student. periods is the pair's
// ledger; numbers that were never materialized are skipped, as are periods
// that ended before the student joined.
func HasPastDebt(student Student, current Period, periods []Period, txs []Transaction) bool {
	if student.IsFree() {
		return false
	}
	byNumber := make(map[int]Period, len(periods))
	for _, p := range periods {
		if p.SchoolID == current.SchoolID && p.SeasonID == current.SeasonID {
			byNumber[p.Number] = p
		}
	}
	for n := current.Number - 1; n >= current.Number-LookbackPeriods && n >= 0; n-- {
		p, ok := byNumber[n]
		if !ok {
			continue
		}
		if !student.JoinedDate.IsZero() && p.End.Before(student.JoinedDate) {
			continue
		}
		if !PaidInPeriod(student, p, txs) {
			return true
		}
	}
	return false
}

// PaidAmount sums the student's payments matching p.
func PaidAmount(student Student, p Period, txs []Transaction) Money {
	total := ZeroMoney()
	for _, tx := range txs {
		if tx.Type == TxPayment && tx.StudentID == student.ID && Matches(tx, p) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

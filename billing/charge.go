package billing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PerStudentCharge returns what one student owes for one period at price.
//
//	free        -> 0
//	discounted  -> price * (100 - discount) / 100
//	normal      -> price
//
// A discounted student without a percentage pays full price. Percentages are
// clamped to [0, 100] so a bad row can never produce a negative charge.
func PerStudentCharge(s Student, price Money) Money {
	switch s.PaymentStatus {
	case PlanFree:
		return ZeroMoney()
	case PlanDiscounted:
		if s.DiscountPercentage == nil {
			return price
		}
		pct := decimal.Max(decimal.Zero, decimal.Min(hundred, *s.DiscountPercentage))
		return price.Mul(hundred.Sub(pct).Div(hundred))
	default:
		return price
	}
}

// Billable reports whether s is charged for a period ending on end: the
// student is active and joined on or before end.
func Billable(s Student, end Date) bool {
	if !s.IsActive() {
		return false
	}
	return s.JoinedDate.IsZero() || s.JoinedDate.BeforeOrEqual(end)
}

// ExpectedCharge sums PerStudentCharge over the students billable for w and
// returns the number of students counted.
func ExpectedCharge(students []Student, price Money, w Window) (Money, int) {
	total := ZeroMoney()
	count := 0
	for _, s := range students {
		if !Billable(s, w.End) {
			continue
		}
		total = total.Add(PerStudentCharge(s, price))
		count++
	}
	return total, count
}

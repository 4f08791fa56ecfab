package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func pct(v int64) *decimal.Decimal {
	p := decimal.NewFromInt(v)
	return &p
}

func TestPerStudentCharge(t *testing.T) {
	price := NewMoney(1000)

	tests := []struct {
		name    string
		student Student
		want    Money
	}{
		{"normal pays full price", Student{PaymentStatus: PlanNormal}, NewMoney(1000)},
		{"free pays nothing", Student{PaymentStatus: PlanFree}, NewMoney(0)},
		{"half discount", Student{PaymentStatus: PlanDiscounted, DiscountPercentage: pct(50)}, NewMoney(500)},
		{"discount without percentage", Student{PaymentStatus: PlanDiscounted}, NewMoney(1000)},
		{"full discount", Student{PaymentStatus: PlanDiscounted, DiscountPercentage: pct(100)}, NewMoney(0)},
		{"discount above 100 clamps", Student{PaymentStatus: PlanDiscounted, DiscountPercentage: pct(150)}, NewMoney(0)},
		{"negative discount clamps", Student{PaymentStatus: PlanDiscounted, DiscountPercentage: pct(-20)}, NewMoney(1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PerStudentCharge(tt.student, price)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestPerStudentCharge_FractionalDiscount(t *testing.T) {
	p := decimal.RequireFromString("33.5")
	s := Student{PaymentStatus: PlanDiscounted, DiscountPercentage: &p}

	got := PerStudentCharge(s, NewMoney(200))

	assert.Equal(t, "133", got.String())
}

func TestBillable(t *testing.T) {
	end := d(2026, 2, 1)

	assert.True(t, Billable(Student{Status: StudentActive, JoinedDate: d(2026, 2, 1)}, end), "joined on the last day")
	assert.True(t, Billable(Student{Status: StudentActive}, end), "no join date")
	assert.False(t, Billable(Student{Status: StudentActive, JoinedDate: d(2026, 2, 2)}, end), "joined after the window")
	assert.False(t, Billable(Student{Status: StudentLeft, JoinedDate: d(2025, 1, 1)}, end), "left")
}

func TestExpectedCharge(t *testing.T) {
	// GIVEN: Three active students at 1000 (normal, free, 50% off),
	//        one who left and one joining after the window
	// WHEN: Computing the expected charge for [01-05, 02-01]
	// THEN: 1500 from 3 counted students

	students := []Student{
		{ID: "a", Status: StudentActive, PaymentStatus: PlanNormal, JoinedDate: d(2025, 9, 1)},
		{ID: "b", Status: StudentActive, PaymentStatus: PlanFree, JoinedDate: d(2025, 9, 1)},
		{ID: "c", Status: StudentActive, PaymentStatus: PlanDiscounted, DiscountPercentage: pct(50), JoinedDate: d(2025, 9, 1)},
		{ID: "d", Status: StudentLeft, PaymentStatus: PlanNormal, JoinedDate: d(2025, 9, 1)},
		{ID: "e", Status: StudentActive, PaymentStatus: PlanNormal, JoinedDate: d(2026, 3, 1)},
	}

	total, count := ExpectedCharge(students, NewMoney(1000), PeriodWindow(d(2026, 1, 5), 0))

	assert.Equal(t, "1500", total.String())
	assert.Equal(t, 3, count)
}

func TestExpectedCharge_NoStudents(t *testing.T) {
	total, count := ExpectedCharge(nil, NewMoney(1000), PeriodWindow(d(2026, 1, 5), 0))

	assert.True(t, total.IsZero())
	assert.Zero(t, count)
}

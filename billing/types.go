/*
Package billing provides the periodic tuition billing and reconciliation engine.

PURPOSE:
  This package partitions time into fixed 28-day billing periods anchored per
  school, snapshots the expected charge of each period, matches settled
  transactions to periods, and closes seasons with a balancing write-off.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount (never float)
  - School, Season, Student: The entities the engine reads
  - Period: A frozen snapshot of one billing window's expected charge
  - Transaction: An immutable settlement record (payment or write-off)

DESIGN PRINCIPLES:
  1. Immutability: Periods and transactions are append-only
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing school/season IDs
  4. Explicit inputs: Every function takes the entities it needs, no global store

USAGE:
  window := billing.PeriodWindow(school.CycleStartDate, 3)
  periods, err := engine.EnsurePeriodsUpTo(ctx, school, season, 3)

SEE ALSO:
  - period.go: Calendar math
  - ledger.go: Period generation
  - matcher.go: Payment matching and student status
  - closure.go: Season closure
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a monetary amount in the school's currency.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value int64) Money { return Money{Value: decimal.NewFromInt(value)} }

// ParseMoney parses a decimal string such as "1500.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d}, nil
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) IsZero() bool { return m.Value.IsZero() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) String() string { return m.Value.String() }
func (m Money) StringFixed(places int32) string { return m.Value.StringFixed(places) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SchoolID string
type SeasonID string
type PeriodID string
type StudentID string
type TransactionID string

// =============================================================================
// ENTITIES
// =============================================================================

// School is the partition key for every computation in this package.
// CycleStartDate anchors period 0 and must not change once periods exist.
type School struct {
	ID             SchoolID
	Name           string
	CycleStartDate Date
	DefaultPrice   Money
	CreatedAt      time.Time
}

// Season groups periods. Whether a season is closed is tracked per school
// through SeasonClosure records, not on the season itself.
type Season struct {
	ID        SeasonID
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type StudentStatus string

const (
	StudentActive StudentStatus = "Active"
	StudentLeft   StudentStatus = "Left"
)

type PaymentPlan string

const (
	PlanNormal     PaymentPlan = "normal"
	PlanFree       PaymentPlan = "free"
	PlanDiscounted PaymentPlan = "discounted"
)

// LastPaymentStatus is what the client last reported about a student's
// payment. "claimed" means the family says they paid but nothing is recorded.
type LastPaymentStatus string

const (
	LastPaymentUnset   LastPaymentStatus = ""
	LastPaymentClaimed LastPaymentStatus = "claimed"
	LastPaymentPaid    LastPaymentStatus = "paid"
)

type Student struct {
	ID                 StudentID
	SchoolID           SchoolID
	Name               string
	JoinedDate         Date
	Status             StudentStatus
	PaymentStatus      PaymentPlan
	DiscountPercentage *decimal.Decimal
	LastPaymentStatus  LastPaymentStatus
	CreatedAt          time.Time
}

func (s Student) IsFree() bool   { return s.PaymentStatus == PlanFree }
func (s Student) IsActive() bool { return s.Status == StudentActive }

// =============================================================================
// PERIOD - Frozen snapshot of one billing window
// =============================================================================

// Period is created once by the ledger and never recomputed. ExpectedAmount
// and StudentCountSnapshot describe enrollment at generation time.
type Period struct {
	ID                   PeriodID
	SchoolID             SchoolID
	SeasonID             SeasonID
	Number               int
	Start                Date
	End                  Date
	ExpectedAmount       Money
	StudentCountSnapshot int
	CreatedAt            time.Time
}

func (p Period) Window() Window { return Window{Start: p.Start, End: p.End} }

// =============================================================================
// TRANSACTION - Immutable settlement record
// =============================================================================

type TransactionType string

const (
	TxPayment  TransactionType = "payment"
	TxWriteOff TransactionType = "write_off"
)

func (t TransactionType) Valid() bool { return t == TxPayment || t == TxWriteOff }

// Transaction records money that has already settled. SeasonID, PeriodID and
// StudentID are optional. When PeriodID is empty the transaction is matched
// to a period by Date.
type Transaction struct {
	ID             TransactionID
	SchoolID       SchoolID
	SeasonID       SeasonID
	PeriodID       PeriodID
	StudentID      StudentID
	Amount         Money
	Type           TransactionType
	Date           Date
	Note           string
	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// =============================================================================
// SEASON CLOSURE
// =============================================================================

// SeasonClosure marks a (school, season) pair closed. Its existence is the
// closed flag; there is no way back to open.
type SeasonClosure struct {
	SchoolID   SchoolID
	SeasonID   SeasonID
	ClosedAt   time.Time
	Reason     string
	ClosedBy   string
	Balance    Money
	WriteOffID TransactionID
}

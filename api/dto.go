/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract:
  - Money travels as a decimal string ("1500.50"), never a float
  - Dates travel as YYYY-MM-DD

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode, which rejects malformed JSON and failed tags with 400.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateSchoolRequest struct {
	ID             string `json:"id" validate:"omitempty,max=64"`
	Name           string `json:"name" validate:"required,max=200"`
	CycleStartDate string `json:"cycle_start_date" validate:"omitempty,datetime=2006-01-02"`
	DefaultPrice   string `json:"default_price" validate:"required,numeric"`
}

type CreateSeasonRequest struct {
	ID       string `json:"id" validate:"omitempty,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	IsActive bool   `json:"is_active"`
}

type CreateStudentRequest struct {
	ID                 string  `json:"id" validate:"omitempty,max=64"`
	Name               string  `json:"name" validate:"required,max=200"`
	JoinedDate         string  `json:"joined_date" validate:"omitempty,datetime=2006-01-02"`
	Status             string  `json:"status" validate:"omitempty,oneof=Active Left"`
	PaymentStatus      string  `json:"payment_status" validate:"omitempty,oneof=normal free discounted"`
	DiscountPercentage *string `json:"discount_percentage" validate:"omitempty,numeric"`
}

// EnsurePeriodsRequest defaults Target to the school's current period index.
type EnsurePeriodsRequest struct {
	Target *int `json:"target" validate:"omitempty,min=0"`
}

// RecordTransactionRequest pins the transaction to a period by id or by
// number; with neither it is matched by date.
type RecordTransactionRequest struct {
	StudentID      string `json:"student_id" validate:"omitempty,max=64"`
	PeriodID       string `json:"period_id" validate:"omitempty,max=64"`
	PeriodNumber   *int   `json:"period_number" validate:"omitempty,min=0"`
	Amount         string `json:"amount" validate:"required,numeric"`
	Type           string `json:"type" validate:"required,oneof=payment write_off"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	Note           string `json:"note" validate:"max=500"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
	CreatedBy      string `json:"created_by" validate:"max=128"`
}

type CloseSeasonRequest struct {
	Reason   string `json:"reason" validate:"max=500"`
	ClosedBy string `json:"closed_by" validate:"max=128"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type SchoolDTO struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	CycleStartDate string       `json:"cycle_start_date,omitempty"`
	DefaultPrice   string       `json:"default_price"`
	CreatedAt      string       `json:"created_at,omitempty"`
	Closures       []ClosureDTO `json:"closures,omitempty"`
}

type SeasonDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at,omitempty"`
}

type StudentDTO struct {
	ID                 string  `json:"id"`
	SchoolID           string  `json:"school_id"`
	Name               string  `json:"name"`
	JoinedDate         string  `json:"joined_date,omitempty"`
	Status             string  `json:"status"`
	PaymentStatus      string  `json:"payment_status"`
	DiscountPercentage *string `json:"discount_percentage,omitempty"`
	LastPaymentStatus  string  `json:"last_payment_status,omitempty"`
}

type PeriodDTO struct {
	ID                   string `json:"id"`
	SchoolID             string `json:"school_id"`
	SeasonID             string `json:"season_id"`
	Number               int    `json:"number"`
	Start                string `json:"start"`
	End                  string `json:"end"`
	ExpectedAmount       string `json:"expected_amount"`
	StudentCountSnapshot int    `json:"student_count_snapshot"`
	CreatedAt            string `json:"created_at,omitempty"`
}

type TransactionDTO struct {
	ID             string `json:"id"`
	SchoolID       string `json:"school_id"`
	SeasonID       string `json:"season_id,omitempty"`
	PeriodID       string `json:"period_id,omitempty"`
	StudentID      string `json:"student_id,omitempty"`
	Amount         string `json:"amount"`
	Type           string `json:"type"`
	Date           string `json:"date"`
	Note           string `json:"note,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedBy      string `json:"created_by,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

type BalanceDTO struct {
	SchoolID      string `json:"school_id"`
	SeasonID      string `json:"season_id"`
	TotalDebt     string `json:"total_debt"`
	TotalPaid     string `json:"total_paid"`
	TotalForgiven string `json:"total_forgiven"`
	Outstanding   string `json:"outstanding"`
	Periods       int    `json:"periods"`
	Closed        bool   `json:"closed"`
}

type ClosureDTO struct {
	SchoolID   string `json:"school_id"`
	SeasonID   string `json:"season_id"`
	ClosedAt   string `json:"closed_at"`
	Reason     string `json:"reason"`
	ClosedBy   string `json:"closed_by,omitempty"`
	Balance    string `json:"balance"`
	WriteOffID string `json:"write_off_id,omitempty"`
}

type RosterLineDTO struct {
	Student     StudentDTO `json:"student"`
	Charge      string     `json:"charge"`
	Paid        string     `json:"paid"`
	State       string     `json:"state"`
	HasPastDebt bool       `json:"has_past_debt"`
}

type RosterDTO struct {
	Period PeriodDTO       `json:"period"`
	Lines  []RosterLineDTO `json:"lines"`
}

// CalendarDTO describes one period window relative to today.
type CalendarDTO struct {
	SchoolID       string `json:"school_id"`
	CycleStartDate string `json:"cycle_start_date"`
	Today          string `json:"today"`
	CurrentIndex   int    `json:"current_index"`
	Index          int    `json:"index"`
	Start          string `json:"start"`
	End            string `json:"end"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toSchoolDTO(s billing.School) SchoolDTO {
	return SchoolDTO{
		ID:             string(s.ID),
		Name:           s.Name,
		CycleStartDate: s.CycleStartDate.String(),
		DefaultPrice:   s.DefaultPrice.String(),
		CreatedAt:      formatTime(s.CreatedAt),
	}
}

func toSeasonDTO(s billing.Season) SeasonDTO {
	return SeasonDTO{
		ID:        string(s.ID),
		Name:      s.Name,
		IsActive:  s.IsActive,
		CreatedAt: formatTime(s.CreatedAt),
	}
}

func toStudentDTO(s billing.Student) StudentDTO {
	dto := StudentDTO{
		ID:                string(s.ID),
		SchoolID:          string(s.SchoolID),
		Name:              s.Name,
		JoinedDate:        s.JoinedDate.String(),
		Status:            string(s.Status),
		PaymentStatus:     string(s.PaymentStatus),
		LastPaymentStatus: string(s.LastPaymentStatus),
	}
	if s.DiscountPercentage != nil {
		pct := s.DiscountPercentage.String()
		dto.DiscountPercentage = &pct
	}
	return dto
}

func toPeriodDTO(p billing.Period) PeriodDTO {
	return PeriodDTO{
		ID:                   string(p.ID),
		SchoolID:             string(p.SchoolID),
		SeasonID:             string(p.SeasonID),
		Number:               p.Number,
		Start:                p.Start.String(),
		End:                  p.End.String(),
		ExpectedAmount:       p.ExpectedAmount.String(),
		StudentCountSnapshot: p.StudentCountSnapshot,
		CreatedAt:            formatTime(p.CreatedAt),
	}
}

func toPeriodDTOs(periods []billing.Period) []PeriodDTO {
	out := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		out[i] = toPeriodDTO(p)
	}
	return out
}

func toTransactionDTO(tx billing.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		SchoolID:       string(tx.SchoolID),
		SeasonID:       string(tx.SeasonID),
		PeriodID:       string(tx.PeriodID),
		StudentID:      string(tx.StudentID),
		Amount:         tx.Amount.String(),
		Type:           string(tx.Type),
		Date:           tx.Date.String(),
		Note:           tx.Note,
		IdempotencyKey: tx.IdempotencyKey,
		CreatedBy:      tx.CreatedBy,
		CreatedAt:      formatTime(tx.CreatedAt),
	}
}

func toBalanceDTO(b billing.Balance, closed bool) BalanceDTO {
	return BalanceDTO{
		SchoolID:      string(b.SchoolID),
		SeasonID:      string(b.SeasonID),
		TotalDebt:     b.TotalDebt.String(),
		TotalPaid:     b.TotalPaid.String(),
		TotalForgiven: b.TotalForgiven.String(),
		Outstanding:   b.Outstanding().String(),
		Periods:       b.Periods,
		Closed:        closed,
	}
}

func toClosureDTO(c billing.SeasonClosure) ClosureDTO {
	return ClosureDTO{
		SchoolID:   string(c.SchoolID),
		SeasonID:   string(c.SeasonID),
		ClosedAt:   formatTime(c.ClosedAt),
		Reason:     c.Reason,
		ClosedBy:   c.ClosedBy,
		Balance:    c.Balance.String(),
		WriteOffID: string(c.WriteOffID),
	}
}

func toRosterDTO(r billing.Roster) RosterDTO {
	dto := RosterDTO{Period: toPeriodDTO(r.Period), Lines: make([]RosterLineDTO, len(r.Lines))}
	for i, l := range r.Lines {
		dto.Lines[i] = RosterLineDTO{
			Student:     toStudentDTO(l.Student),
			Charge:      l.Charge.String(),
			Paid:        l.Paid.String(),
			State:       string(l.State),
			HasPastDebt: l.HasPastDebt,
		}
	}
	return dto
}

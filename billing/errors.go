/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure the engine can report is locally detectable from input state,
  so none of them is retryable except lock contention.

ERROR CATEGORIES:
  1. Input errors - InvalidCycle, InvalidTransaction
  2. State errors - SeasonClosed, AlreadyClosed, InvalidTransition
  3. Lookup errors - NotFound
  4. Store errors - DuplicateIdempotencyKey, PeriodExists, LockTimeout

USAGE:
  if errors.Is(err, billing.ErrSeasonClosed) {
      // show "season is closed" to the user
  }

  var nf *billing.NotFoundError
  if errors.As(err, &nf) {
      log.Printf("missing %s %s", nf.Kind, nf.ID)
  }

SEE ALSO:
  - ledger.go, closure.go, matcher.go: Return these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCycle is returned when a school has no cycle start date or a
	// generation target lies before period 0.
	ErrInvalidCycle = errors.New("invalid billing cycle")

	// ErrSeasonClosed is returned for period generation or transaction
	// recording against a closed (school, season) pair.
	ErrSeasonClosed = errors.New("season is closed")

	// ErrAlreadyClosed is returned by a second closure of the same pair.
	ErrAlreadyClosed = errors.New("season already closed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransaction is returned for non-positive amounts or unknown types.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected for client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransition is returned for any season state change other than Open -> Closed.
	ErrInvalidTransition = errors.New("invalid season transition")

	// ErrPeriodExists is returned when a period number is inserted twice for
	// the same pair.
	ErrPeriodExists = errors.New("period already exists")

	// ErrLockTimeout is returned when the per-pair lock could not be acquired
	// before the context ended.
	ErrLockTimeout = errors.New("lock not acquired")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidCycleError explains why a school's cycle can't be used.
type InvalidCycleError struct {
	SchoolID SchoolID
	Reason   string
}

func (e *InvalidCycleError) Error() string {
	return fmt.Sprintf("invalid billing cycle for school %s: %s", e.SchoolID, e.Reason)
}

func (e *InvalidCycleError) Unwrap() error { return ErrInvalidCycle }

type SeasonClosedError struct {
	SchoolID SchoolID
	SeasonID SeasonID
}

func (e *SeasonClosedError) Error() string {
	return fmt.Sprintf("season %s is closed for school %s", e.SeasonID, e.SchoolID)
}

func (e *SeasonClosedError) Unwrap() error { return ErrSeasonClosed }

// AlreadyClosedError carries the existing closure so callers can show when
// and by whom the season was closed.
type AlreadyClosedError struct {
	Closure SeasonClosure
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("season %s already closed for school %s at %s",
		e.Closure.SeasonID, e.Closure.SchoolID, e.Closure.ClosedAt.Format("2006-01-02T15:04:05Z07:00"))
}

func (e *AlreadyClosedError) Unwrap() error { return ErrAlreadyClosed }

// NotFoundError names the kind of record that is missing.
type NotFoundError struct {
	Kind string // "school", "season", "period", "student", "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// PeriodExistsError is raised by stores guarding (school, season, number).
type PeriodExistsError struct {
	SchoolID SchoolID
	SeasonID SeasonID
	Number   int
}

func (e *PeriodExistsError) Error() string {
	return fmt.Sprintf("period %d already exists for school %s season %s", e.Number, e.SchoolID, e.SeasonID)
}

func (e *PeriodExistsError) Unwrap() error { return ErrPeriodExists }

// TransactionError describes a rejected transaction input.
type TransactionError struct {
	Field   string
	Message string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Message)
}

func (e *TransactionError) Unwrap() error { return ErrInvalidTransaction }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCycle) ||
		errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsConflict returns true if the request clashes with the pair's state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSeasonClosed) ||
		errors.Is(err, ErrAlreadyClosed) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrPeriodExists)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

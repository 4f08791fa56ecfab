/*
store.go - Persistence interface for the billing engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never loads broad row sets and filters in memory: every read is scoped by
  school, season and (for transactions) a date range at the storage boundary.

KEY INTERFACES:
  Store:     Reads plus the append-only writes the engine performs
  TxStore:   Store + atomic multi-write (period batches, closure + write-off)
  Directory: Admin writes for schools, seasons and students (outside the engine)

APPEND-ONLY CONTRACT:
  Periods and transactions have insert methods only. There is no update or
  delete for either; corrections are new offsetting transactions.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - billing/store/memory.go: In-memory for testing
*/
package billing

import "context"

// =============================================================================
// STORE - Engine-facing persistence
// =============================================================================

type Store interface {
	GetSchool(ctx context.Context, id SchoolID) (School, error)
	GetSeason(ctx context.Context, id SeasonID) (Season, error)

	GetStudent(ctx context.Context, id StudentID) (Student, error)
	// ListStudents returns every student of the school, any status.
	ListStudents(ctx context.Context, schoolID SchoolID) ([]Student, error)
	SetLastPaymentStatus(ctx context.Context, id StudentID, status LastPaymentStatus) error

	// ListPeriods returns the pair's periods ordered by Number.
	ListPeriods(ctx context.Context, schoolID SchoolID, seasonID SeasonID) ([]Period, error)
	GetPeriod(ctx context.Context, id PeriodID) (Period, error)
	// InsertPeriods appends periods. Fails if any (school, season, number) exists.
	InsertPeriods(ctx context.Context, periods []Period) error

	// AppendTransaction persists a transaction. Returns
	// ErrDuplicateIdempotencyKey if the key is already used.
	AppendTransaction(ctx context.Context, tx Transaction) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// GetClosure returns nil when the pair is open.
	GetClosure(ctx context.Context, schoolID SchoolID, seasonID SeasonID) (*SeasonClosure, error)
	// InsertClosure fails with ErrAlreadyClosed if the pair is already closed.
	InsertClosure(ctx context.Context, closure SeasonClosure) error
}

// TxStore wraps Store with transaction support.
// If fn returns error, every write made through the passed Store is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Directory manages the records the engine only reads.
type Directory interface {
	SaveSchool(ctx context.Context, school School) error
	ListSchools(ctx context.Context) ([]School, error)
	SaveSeason(ctx context.Context, season Season) error
	ListSeasons(ctx context.Context) ([]Season, error)
	SaveStudent(ctx context.Context, student Student) error
	ListClosures(ctx context.Context, schoolID SchoolID) ([]SeasonClosure, error)
}

// =============================================================================
// TRANSACTION FILTER
// =============================================================================

// TransactionFilter scopes a transaction query. SchoolID is required.
//
// When PeriodIDs or a date range is set the result is narrowed to rows that
// are either explicitly assigned to one of PeriodIDs, or carry no period and
// are dated inside [From, To]. This is a superset of what MatchPeriod keeps,
// so callers still run the matcher on the result.
type TransactionFilter struct {
	SchoolID  SchoolID
	SeasonID  SeasonID
	StudentID StudentID
	Types     []TransactionType
	PeriodIDs []PeriodID
	From      Date
	To        Date
}

// ForPeriods narrows the filter to candidates for the given periods.
func (f TransactionFilter) ForPeriods(periods []Period) TransactionFilter {
	f.PeriodIDs = nil
	f.From, f.To = Date{}, Date{}
	for i, p := range periods {
		f.PeriodIDs = append(f.PeriodIDs, p.ID)
		if i == 0 || p.Start.Before(f.From) {
			f.From = p.Start
		}
		if i == 0 || p.End.After(f.To) {
			f.To = p.End
		}
	}
	return f
}

// Narrowed reports whether the filter restricts by period or date.
func (f TransactionFilter) Narrowed() bool {
	return len(f.PeriodIDs) > 0 || !f.From.IsZero() || !f.To.IsZero()
}

// Matches applies the filter to a single transaction. Stores that can't
// express the filter natively use it after loading.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if tx.SchoolID != f.SchoolID {
		return false
	}
	if f.SeasonID != "" && tx.SeasonID != f.SeasonID {
		return false
	}
	if f.StudentID != "" && tx.StudentID != f.StudentID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if tx.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Narrowed() {
		return true
	}
	if tx.PeriodID != "" {
		for _, id := range f.PeriodIDs {
			if tx.PeriodID == id {
				return true
			}
		}
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To) {
		return false
	}
	return true
}

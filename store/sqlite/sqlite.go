/*
Package sqlite provides a SQLite-backed implementation of the billing storage interfaces.

PURPOSE:
  Implements billing.TxStore and billing.Directory on SQLite through sqlx.
  The schema itself guards the ledger: the uniqueness and append-only rules
  hold even if two processes share one database file.

INTERFACES IMPLEMENTED:
  billing.Store:     Engine reads and appends
  billing.TxStore:   Atomic period batches and closure + write-off
  billing.Directory: Schools, seasons, students

APPEND-ONLY ENFORCEMENT:
  - periods and transactions have no UPDATE or DELETE path in this package
  - triggers abort any UPDATE or DELETE issued from outside

KEY TABLES:
  periods:         One row per (school, season, number), frozen on insert
  transactions:    Immutable payments and write-offs
  season_closures: Existence of a row means the pair is closed

INDEXES:
  - idx_periods_pair_number: Enforces contiguous, unique period numbers
  - idx_transactions_pair_date: Balance and date-fallback matching (hot path)
  - idx_transactions_period: Explicit period assignment lookups
  - transactions.idempotency_key UNIQUE: Client retries

CONCURRENCY:
  A single connection is kept open (required for ":memory:", and SQLite
  allows one writer anyway). WithTx takes the write lock for its whole
  duration; queries inside fn go through the *sqlx.Tx only.

USAGE:
  store, err := sqlite.New("./data/tuition.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := billing.NewEngine(store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/tuition-engine/billing"
)

const timestampLayout = time.RFC3339Nano

// Store implements the billing storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an already-open database without migrating it.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cycle_start_date TEXT,
		default_price TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS seasons (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		name TEXT NOT NULL,
		joined_date TEXT,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		discount_percentage TEXT,
		last_payment_status TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_students_school
		ON students(school_id);

	-- Periods (append-only, frozen on insert)
	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		season_id TEXT NOT NULL REFERENCES seasons(id),
		number INTEGER NOT NULL CHECK (number >= 0),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		expected_amount TEXT NOT NULL,
		student_count_snapshot INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_pair_number
		ON periods(school_id, season_id, number);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		season_id TEXT,
		period_id TEXT,
		student_id TEXT,
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('payment', 'write_off')),
		tx_date TEXT NOT NULL,
		note TEXT,
		idempotency_key TEXT UNIQUE,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_pair_date
		ON transactions(school_id, season_id, tx_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_period
		ON transactions(period_id) WHERE period_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_student
		ON transactions(student_id) WHERE student_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS season_closures (
		school_id TEXT NOT NULL REFERENCES schools(id),
		season_id TEXT NOT NULL REFERENCES seasons(id),
		closed_at TEXT NOT NULL,
		reason TEXT NOT NULL,
		closed_by TEXT,
		balance TEXT NOT NULL,
		write_off_id TEXT,
		PRIMARY KEY (school_id, season_id)
	);

	CREATE TRIGGER IF NOT EXISTS periods_no_update BEFORE UPDATE ON periods
	BEGIN SELECT RAISE(ABORT, 'periods are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS periods_no_delete BEFORE DELETE ON periods
	BEGIN SELECT RAISE(ABORT, 'periods are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS transactions_no_update BEFORE UPDATE ON transactions
	BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS transactions_no_delete BEFORE DELETE ON transactions
	BEGIN SELECT RAISE(ABORT, 'transactions are append-only'); END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW TYPES
// =============================================================================

type schoolRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	CycleStartDate sql.NullString `db:"cycle_start_date"`
	DefaultPrice   string         `db:"default_price"`
	CreatedAt      string         `db:"created_at"`
}

func (r schoolRow) toSchool() (billing.School, error) {
	start, err := parseNullDate(r.CycleStartDate)
	if err != nil {
		return billing.School{}, fmt.Errorf("school %s cycle_start_date: %w", r.ID, err)
	}
	price, err := billing.ParseMoney(r.DefaultPrice)
	if err != nil {
		return billing.School{}, fmt.Errorf("school %s default_price: %w", r.ID, err)
	}
	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return billing.School{}, fmt.Errorf("school %s created_at: %w", r.ID, err)
	}
	return billing.School{
		ID:             billing.SchoolID(r.ID),
		Name:           r.Name,
		CycleStartDate: start,
		DefaultPrice:   price,
		CreatedAt:      createdAt,
	}, nil
}

type seasonRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	IsActive  bool   `db:"is_active"`
	CreatedAt string `db:"created_at"`
}

func (r seasonRow) toSeason() (billing.Season, error) {
	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return billing.Season{}, fmt.Errorf("season %s created_at: %w", r.ID, err)
	}
	return billing.Season{
		ID:        billing.SeasonID(r.ID),
		Name:      r.Name,
		IsActive:  r.IsActive,
		CreatedAt: createdAt,
	}, nil
}

type studentRow struct {
	ID                 string         `db:"id"`
	SchoolID           string         `db:"school_id"`
	Name               string         `db:"name"`
	JoinedDate         sql.NullString `db:"joined_date"`
	Status             string         `db:"status"`
	PaymentStatus      string         `db:"payment_status"`
	DiscountPercentage sql.NullString `db:"discount_percentage"`
	LastPaymentStatus  string         `db:"last_payment_status"`
	CreatedAt          string         `db:"created_at"`
}

func (r studentRow) toStudent() (billing.Student, error) {
	joined, err := parseNullDate(r.JoinedDate)
	if err != nil {
		return billing.Student{}, fmt.Errorf("student %s joined_date: %w", r.ID, err)
	}
	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return billing.Student{}, fmt.Errorf("student %s created_at: %w", r.ID, err)
	}
	st := billing.Student{
		ID:                billing.StudentID(r.ID),
		SchoolID:          billing.SchoolID(r.SchoolID),
		Name:              r.Name,
		JoinedDate:        joined,
		Status:            billing.StudentStatus(r.Status),
		PaymentStatus:     billing.PaymentPlan(r.PaymentStatus),
		LastPaymentStatus: billing.LastPaymentStatus(r.LastPaymentStatus),
		CreatedAt:         createdAt,
	}
	if r.DiscountPercentage.Valid && r.DiscountPercentage.String != "" {
		pct, err := decimal.NewFromString(r.DiscountPercentage.String)
		if err != nil {
			return billing.Student{}, fmt.Errorf("student %s discount_percentage: %w", r.ID, err)
		}
		st.DiscountPercentage = &pct
	}
	return st, nil
}

type periodRow struct {
	ID                   string `db:"id"`
	SchoolID             string `db:"school_id"`
	SeasonID             string `db:"season_id"`
	Number               int    `db:"number"`
	StartDate            string `db:"start_date"`
	EndDate              string `db:"end_date"`
	ExpectedAmount       string `db:"expected_amount"`
	StudentCountSnapshot int    `db:"student_count_snapshot"`
	CreatedAt            string `db:"created_at"`
}

func (r periodRow) toPeriod() (billing.Period, error) {
	start, err := billing.ParseDate(r.StartDate)
	if err != nil {
		return billing.Period{}, fmt.Errorf("period %s start_date: %w", r.ID, err)
	}
	end, err := billing.ParseDate(r.EndDate)
	if err != nil {
		return billing.Period{}, fmt.Errorf("period %s end_date: %w", r.ID, err)
	}
	amount, err := billing.ParseMoney(r.ExpectedAmount)
	if err != nil {
		return billing.Period{}, fmt.Errorf("period %s expected_amount: %w", r.ID, err)
	}
	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return billing.Period{}, fmt.Errorf("period %s created_at: %w", r.ID, err)
	}
	return billing.Period{
		ID:                   billing.PeriodID(r.ID),
		SchoolID:             billing.SchoolID(r.SchoolID),
		SeasonID:             billing.SeasonID(r.SeasonID),
		Number:               r.Number,
		Start:                start,
		End:                  end,
		ExpectedAmount:       amount,
		StudentCountSnapshot: r.StudentCountSnapshot,
		CreatedAt:            createdAt,
	}, nil
}

type transactionRow struct {
	ID             string         `db:"id"`
	SchoolID       string         `db:"school_id"`
	SeasonID       sql.NullString `db:"season_id"`
	PeriodID       sql.NullString `db:"period_id"`
	StudentID      sql.NullString `db:"student_id"`
	Amount         string         `db:"amount"`
	Type           string         `db:"tx_type"`
	Date           string         `db:"tx_date"`
	Note           sql.NullString `db:"note"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	CreatedBy      sql.NullString `db:"created_by"`
	CreatedAt      string         `db:"created_at"`
}

func (r transactionRow) toTransaction() (billing.Transaction, error) {
	amount, err := billing.ParseMoney(r.Amount)
	if err != nil {
		return billing.Transaction{}, fmt.Errorf("transaction %s amount: %w", r.ID, err)
	}
	date, err := billing.ParseDate(r.Date)
	if err != nil {
		return billing.Transaction{}, fmt.Errorf("transaction %s tx_date: %w", r.ID, err)
	}
	createdAt, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return billing.Transaction{}, fmt.Errorf("transaction %s created_at: %w", r.ID, err)
	}
	return billing.Transaction{
		ID:             billing.TransactionID(r.ID),
		SchoolID:       billing.SchoolID(r.SchoolID),
		SeasonID:       billing.SeasonID(r.SeasonID.String),
		PeriodID:       billing.PeriodID(r.PeriodID.String),
		StudentID:      billing.StudentID(r.StudentID.String),
		Amount:         amount,
		Type:           billing.TransactionType(r.Type),
		Date:           date,
		Note:           r.Note.String,
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedBy:      r.CreatedBy.String,
		CreatedAt:      createdAt,
	}, nil
}

type closureRow struct {
	SchoolID   string         `db:"school_id"`
	SeasonID   string         `db:"season_id"`
	ClosedAt   string         `db:"closed_at"`
	Reason     string         `db:"reason"`
	ClosedBy   sql.NullString `db:"closed_by"`
	Balance    string         `db:"balance"`
	WriteOffID sql.NullString `db:"write_off_id"`
}

func (r closureRow) toClosure() (billing.SeasonClosure, error) {
	balance, err := billing.ParseMoney(r.Balance)
	if err != nil {
		return billing.SeasonClosure{}, fmt.Errorf("closure %s/%s balance: %w", r.SchoolID, r.SeasonID, err)
	}
	closedAt, err := parseTimestamp(r.ClosedAt)
	if err != nil {
		return billing.SeasonClosure{}, fmt.Errorf("closure %s/%s closed_at: %w", r.SchoolID, r.SeasonID, err)
	}
	return billing.SeasonClosure{
		SchoolID:   billing.SchoolID(r.SchoolID),
		SeasonID:   billing.SeasonID(r.SeasonID),
		ClosedAt:   closedAt,
		Reason:     r.Reason,
		ClosedBy:   r.ClosedBy.String,
		Balance:    balance,
		WriteOffID: billing.TransactionID(r.WriteOffID.String),
	}, nil
}

const (
	schoolColumns      = `id, name, cycle_start_date, default_price, created_at`
	seasonColumns      = `id, name, is_active, created_at`
	studentColumns     = `id, school_id, name, joined_date, status, payment_status, discount_percentage, last_payment_status, created_at`
	periodColumns      = `id, school_id, season_id, number, start_date, end_date, expected_amount, student_count_snapshot, created_at`
	transactionColumns = `id, school_id, season_id, period_id, student_id, amount, tx_type, tx_date, note, idempotency_key, created_by, created_at`
	closureColumns     = `school_id, season_id, closed_at, reason, closed_by, balance, write_off_id`
)

// =============================================================================
// STORE (billing.Store interface)
// =============================================================================

func (s *Store) GetSchool(ctx context.Context, id billing.SchoolID) (billing.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSchool(ctx, s.db, id)
}

func (s *Store) GetSeason(ctx context.Context, id billing.SeasonID) (billing.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSeason(ctx, s.db, id)
}

func (s *Store) GetStudent(ctx context.Context, id billing.StudentID) (billing.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStudent(ctx, s.db, id)
}

func (s *Store) ListStudents(ctx context.Context, schoolID billing.SchoolID) ([]billing.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStudents(ctx, s.db, schoolID)
}

func (s *Store) SetLastPaymentStatus(ctx context.Context, id billing.StudentID, status billing.LastPaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setLastPaymentStatus(ctx, s.db, id, status)
}

func (s *Store) ListPeriods(ctx context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) ([]billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPeriods(ctx, s.db, schoolID, seasonID)
}

func (s *Store) GetPeriod(ctx context.Context, id billing.PeriodID) (billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPeriod(ctx, s.db, id)
}

// InsertPeriods adds a batch of periods atomically.
func (s *Store) InsertPeriods(ctx context.Context, periods []billing.Period) error {
	return s.WithTx(ctx, func(ts billing.Store) error {
		return ts.InsertPeriods(ctx, periods)
	})
}

func (s *Store) AppendTransaction(ctx context.Context, tx billing.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTx(ctx, s.db, tx)
}

func (s *Store) ListTransactions(ctx context.Context, filter billing.TransactionFilter) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db, filter)
}

func (s *Store) GetClosure(ctx context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) (*billing.SeasonClosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClosure(ctx, s.db, schoolID, seasonID)
}

func (s *Store) InsertClosure(ctx context.Context, closure billing.SeasonClosure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertClosure(ctx, s.db, closure)
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

func getSchool(ctx context.Context, q querier, id billing.SchoolID) (billing.School, error) {
	var row schoolRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+schoolColumns+` FROM schools WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.School{}, billing.NotFound("school", id)
	}
	if err != nil {
		return billing.School{}, fmt.Errorf("failed to get school: %w", err)
	}
	return row.toSchool()
}

func getSeason(ctx context.Context, q querier, id billing.SeasonID) (billing.Season, error) {
	var row seasonRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+seasonColumns+` FROM seasons WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Season{}, billing.NotFound("season", id)
	}
	if err != nil {
		return billing.Season{}, fmt.Errorf("failed to get season: %w", err)
	}
	return row.toSeason()
}

func getStudent(ctx context.Context, q querier, id billing.StudentID) (billing.Student, error) {
	var row studentRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+studentColumns+` FROM students WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Student{}, billing.NotFound("student", id)
	}
	if err != nil {
		return billing.Student{}, fmt.Errorf("failed to get student: %w", err)
	}
	return row.toStudent()
}

func listStudents(ctx context.Context, q querier, schoolID billing.SchoolID) ([]billing.Student, error) {
	var rows []studentRow
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT `+studentColumns+` FROM students WHERE school_id = ? ORDER BY id`, string(schoolID))
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	out := make([]billing.Student, 0, len(rows))
	for _, r := range rows {
		st, err := r.toStudent()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func setLastPaymentStatus(ctx context.Context, q querier, id billing.StudentID, status billing.LastPaymentStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE students SET last_payment_status = ? WHERE id = ?`, string(status), string(id))
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.NotFound("student", id)
	}
	return nil
}

func listPeriods(ctx context.Context, q querier, schoolID billing.SchoolID, seasonID billing.SeasonID) ([]billing.Period, error) {
	var rows []periodRow
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT `+periodColumns+` FROM periods WHERE school_id = ? AND season_id = ? ORDER BY number ASC`,
		string(schoolID), string(seasonID))
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	out := make([]billing.Period, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPeriod()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func getPeriod(ctx context.Context, q querier, id billing.PeriodID) (billing.Period, error) {
	var row periodRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+periodColumns+` FROM periods WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Period{}, billing.NotFound("period", id)
	}
	if err != nil {
		return billing.Period{}, fmt.Errorf("failed to get period: %w", err)
	}
	return row.toPeriod()
}

func insertPeriod(ctx context.Context, q querier, p billing.Period) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO periods (`+periodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID),
		string(p.SchoolID),
		string(p.SeasonID),
		p.Number,
		p.Start.String(),
		p.End.String(),
		p.ExpectedAmount.String(),
		p.StudentCountSnapshot,
		formatTimestamp(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &billing.PeriodExistsError{SchoolID: p.SchoolID, SeasonID: p.SeasonID, Number: p.Number}
		}
		return fmt.Errorf("failed to insert period: %w", err)
	}
	return nil
}

func appendTx(ctx context.Context, q querier, tx billing.Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(tx.ID),
		string(tx.SchoolID),
		nullString(string(tx.SeasonID)),
		nullString(string(tx.PeriodID)),
		nullString(string(tx.StudentID)),
		tx.Amount.String(),
		string(tx.Type),
		tx.Date.String(),
		nullString(tx.Note),
		nullString(tx.IdempotencyKey),
		nullString(tx.CreatedBy),
		formatTimestamp(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintOn(err, "transactions.idempotency_key") {
			return billing.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction %s: %w", tx.ID, err)
	}
	return nil
}

// listTransactions translates the filter into SQL so that only the pair's
// candidate rows leave the database. Results are ordered by settlement date.
func listTransactions(ctx context.Context, q querier, filter billing.TransactionFilter) ([]billing.Transaction, error) {
	conditions := []string{"school_id = ?"}
	args := []any{string(filter.SchoolID)}

	if filter.SeasonID != "" {
		conditions = append(conditions, "season_id = ?")
		args = append(args, string(filter.SeasonID))
	}
	if filter.StudentID != "" {
		conditions = append(conditions, "student_id = ?")
		args = append(args, string(filter.StudentID))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		clause, inArgs, err := sqlx.In("tx_type IN (?)", types)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, clause)
		args = append(args, inArgs...)
	}

	if filter.Narrowed() {
		var alternatives []string
		if len(filter.PeriodIDs) > 0 {
			ids := make([]string, len(filter.PeriodIDs))
			for i, id := range filter.PeriodIDs {
				ids[i] = string(id)
			}
			clause, inArgs, err := sqlx.In("period_id IN (?)", ids)
			if err != nil {
				return nil, err
			}
			alternatives = append(alternatives, clause)
			args = append(args, inArgs...)
		}
		if !filter.From.IsZero() || !filter.To.IsZero() {
			dated := []string{"period_id IS NULL"}
			if !filter.From.IsZero() {
				dated = append(dated, "tx_date >= ?")
				args = append(args, filter.From.String())
			}
			if !filter.To.IsZero() {
				dated = append(dated, "tx_date <= ?")
				args = append(args, filter.To.String())
			}
			alternatives = append(alternatives, "("+strings.Join(dated, " AND ")+")")
		}
		conditions = append(conditions, "("+strings.Join(alternatives, " OR ")+")")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY tx_date ASC, created_at ASC`

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	out := make([]billing.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := r.toTransaction()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func getClosure(ctx context.Context, q querier, schoolID billing.SchoolID, seasonID billing.SeasonID) (*billing.SeasonClosure, error) {
	var row closureRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT `+closureColumns+` FROM season_closures WHERE school_id = ? AND season_id = ?`,
		string(schoolID), string(seasonID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get closure: %w", err)
	}
	c, err := row.toClosure()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func insertClosure(ctx context.Context, q querier, c billing.SeasonClosure) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO season_closures (`+closureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(c.SchoolID),
		string(c.SeasonID),
		formatTimestamp(c.ClosedAt),
		c.Reason,
		nullString(c.ClosedBy),
		c.Balance.String(),
		nullString(string(c.WriteOffID)),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			existing, getErr := getClosure(ctx, q, c.SchoolID, c.SeasonID)
			if getErr != nil || existing == nil {
				return billing.ErrAlreadyClosed
			}
			return &billing.AlreadyClosedError{Closure: *existing}
		}
		return fmt.Errorf("failed to insert closure: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every query on the open transaction. It must not touch the
// parent Store, whose lock WithTx is holding.
type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) GetSchool(ctx context.Context, id billing.SchoolID) (billing.School, error) {
	return getSchool(ctx, ts.tx, id)
}

func (ts *txStore) GetSeason(ctx context.Context, id billing.SeasonID) (billing.Season, error) {
	return getSeason(ctx, ts.tx, id)
}

func (ts *txStore) GetStudent(ctx context.Context, id billing.StudentID) (billing.Student, error) {
	return getStudent(ctx, ts.tx, id)
}

func (ts *txStore) ListStudents(ctx context.Context, schoolID billing.SchoolID) ([]billing.Student, error) {
	return listStudents(ctx, ts.tx, schoolID)
}

func (ts *txStore) SetLastPaymentStatus(ctx context.Context, id billing.StudentID, status billing.LastPaymentStatus) error {
	return setLastPaymentStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) ListPeriods(ctx context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) ([]billing.Period, error) {
	return listPeriods(ctx, ts.tx, schoolID, seasonID)
}

func (ts *txStore) GetPeriod(ctx context.Context, id billing.PeriodID) (billing.Period, error) {
	return getPeriod(ctx, ts.tx, id)
}

func (ts *txStore) InsertPeriods(ctx context.Context, periods []billing.Period) error {
	for _, p := range periods {
		if err := insertPeriod(ctx, ts.tx, p); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) AppendTransaction(ctx context.Context, tx billing.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) ListTransactions(ctx context.Context, filter billing.TransactionFilter) ([]billing.Transaction, error) {
	return listTransactions(ctx, ts.tx, filter)
}

func (ts *txStore) GetClosure(ctx context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) (*billing.SeasonClosure, error) {
	return getClosure(ctx, ts.tx, schoolID, seasonID)
}

func (ts *txStore) InsertClosure(ctx context.Context, closure billing.SeasonClosure) error {
	return insertClosure(ctx, ts.tx, closure)
}

// =============================================================================
// DIRECTORY (billing.Directory interface)
// =============================================================================

// SaveSchool upserts a school. Moving the cycle start of a school that
// already has periods is rejected.
func (s *Store) SaveSchool(ctx context.Context, school billing.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	existing, err := getSchool(ctx, sqlTx, school.ID)
	switch {
	case err == nil:
		if !existing.CycleStartDate.Equal(school.CycleStartDate) {
			var count int
			if err := sqlx.GetContext(ctx, sqlTx, &count,
				`SELECT COUNT(*) FROM periods WHERE school_id = ?`, string(school.ID)); err != nil {
				return fmt.Errorf("failed to count periods: %w", err)
			}
			if count > 0 {
				return &billing.InvalidCycleError{SchoolID: school.ID, Reason: "cycle start date is fixed once periods exist"}
			}
		}
	case billing.IsNotFound(err):
	default:
		return err
	}

	createdAt := school.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO schools (`+schoolColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cycle_start_date = excluded.cycle_start_date,
			default_price = excluded.default_price`,
		string(school.ID),
		school.Name,
		nullString(school.CycleStartDate.String()),
		school.DefaultPrice.String(),
		formatTimestamp(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save school: %w", err)
	}
	return sqlTx.Commit()
}

func (s *Store) ListSchools(ctx context.Context) ([]billing.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []schoolRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+schoolColumns+` FROM schools ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list schools: %w", err)
	}
	out := make([]billing.School, 0, len(rows))
	for _, r := range rows {
		school, err := r.toSchool()
		if err != nil {
			return nil, err
		}
		out = append(out, school)
	}
	return out, nil
}

func (s *Store) SaveSeason(ctx context.Context, season billing.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := season.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seasons (`+seasonColumns+`)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active`,
		string(season.ID), season.Name, season.IsActive, formatTimestamp(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save season: %w", err)
	}
	return nil
}

func (s *Store) ListSeasons(ctx context.Context) ([]billing.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []seasonRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+seasonColumns+` FROM seasons ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	out := make([]billing.Season, 0, len(rows))
	for _, r := range rows {
		season, err := r.toSeason()
		if err != nil {
			return nil, err
		}
		out = append(out, season)
	}
	return out, nil
}

func (s *Store) SaveStudent(ctx context.Context, st billing.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var discount sql.NullString
	if st.DiscountPercentage != nil {
		discount = sql.NullString{String: st.DiscountPercentage.String(), Valid: true}
	}
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (`+studentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			joined_date = excluded.joined_date,
			status = excluded.status,
			payment_status = excluded.payment_status,
			discount_percentage = excluded.discount_percentage,
			last_payment_status = excluded.last_payment_status`,
		string(st.ID),
		string(st.SchoolID),
		st.Name,
		nullString(st.JoinedDate.String()),
		string(st.Status),
		string(st.PaymentStatus),
		discount,
		string(st.LastPaymentStatus),
		formatTimestamp(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save student: %w", err)
	}
	return nil
}

func (s *Store) ListClosures(ctx context.Context, schoolID billing.SchoolID) ([]billing.SeasonClosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []closureRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+closureColumns+` FROM season_closures WHERE school_id = ? ORDER BY closed_at`,
		string(schoolID)); err != nil {
		return nil, fmt.Errorf("failed to list closures: %w", err)
	}
	out := make([]billing.SeasonClosure, 0, len(rows))
	for _, r := range rows {
		c, err := r.toClosure()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseNullDate(s sql.NullString) (billing.Date, error) {
	if !s.Valid || s.String == "" {
		return billing.Date{}, nil
	}
	return billing.ParseDate(s.String)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp reads a stored timestamp. An empty column is the zero time.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timestampLayout, s)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isUniqueConstraintOn reports a unique violation naming table.column, so a
// primary key collision is not mistaken for a duplicate on another column.
func isUniqueConstraintOn(err error, column string) bool {
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), column)
}

// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tuition-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	schools      map[billing.SchoolID]billing.School
	seasons      map[billing.SeasonID]billing.Season
	students     map[billing.StudentID]billing.Student
	periods      map[pairKey][]billing.Period
	periodByID   map[billing.PeriodID]billing.Period
	transactions []billing.Transaction
	idempotency  map[string]bool
	closures     map[pairKey]billing.SeasonClosure
}

type pairKey struct {
	SchoolID billing.SchoolID
	SeasonID billing.SeasonID
}

func NewMemory() *Memory {
	return &Memory{
		schools:     make(map[billing.SchoolID]billing.School),
		seasons:     make(map[billing.SeasonID]billing.Season),
		students:    make(map[billing.StudentID]billing.Student),
		periods:     make(map[pairKey][]billing.Period),
		periodByID:  make(map[billing.PeriodID]billing.Period),
		idempotency: make(map[string]bool),
		closures:    make(map[pairKey]billing.SeasonClosure),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

// SaveSchool inserts or updates a school. The cycle start can't move once
// the school has periods.
func (m *Memory) SaveSchool(_ context.Context, school billing.School) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.schools[school.ID]; ok && !old.CycleStartDate.Equal(school.CycleStartDate) {
		for k, ps := range m.periods {
			if k.SchoolID == school.ID && len(ps) > 0 {
				return &billing.InvalidCycleError{SchoolID: school.ID, Reason: "cycle start date is fixed once periods exist"}
			}
		}
	}
	m.schools[school.ID] = school
	return nil
}

func (m *Memory) ListSchools(_ context.Context) ([]billing.School, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]billing.School, 0, len(m.schools))
	for _, s := range m.schools {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveSeason(_ context.Context, season billing.Season) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seasons[season.ID] = season
	return nil
}

func (m *Memory) ListSeasons(_ context.Context) ([]billing.Season, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]billing.Season, 0, len(m.seasons))
	for _, s := range m.seasons {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveStudent(_ context.Context, student billing.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[student.ID] = student
	return nil
}

func (m *Memory) ListClosures(_ context.Context, schoolID billing.SchoolID) ([]billing.SeasonClosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []billing.SeasonClosure
	for k, c := range m.closures {
		if k.SchoolID == schoolID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	return out, nil
}

// =============================================================================
// STORE (billing.Store interface)
// =============================================================================

func (m *Memory) GetSchool(_ context.Context, id billing.SchoolID) (billing.School, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSchoolLocked(id)
}

func (m *Memory) GetSeason(_ context.Context, id billing.SeasonID) (billing.Season, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSeasonLocked(id)
}

func (m *Memory) GetStudent(_ context.Context, id billing.StudentID) (billing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getStudentLocked(id)
}

func (m *Memory) ListStudents(_ context.Context, schoolID billing.SchoolID) ([]billing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listStudentsLocked(schoolID), nil
}

func (m *Memory) SetLastPaymentStatus(_ context.Context, id billing.StudentID, status billing.LastPaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLastPaymentStatusLocked(id, status)
}

func (m *Memory) ListPeriods(_ context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) ([]billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPeriodsLocked(schoolID, seasonID), nil
}

func (m *Memory) GetPeriod(_ context.Context, id billing.PeriodID) (billing.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPeriodLocked(id)
}

func (m *Memory) InsertPeriods(_ context.Context, periods []billing.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPeriodsLocked(periods)
}

func (m *Memory) AppendTransaction(_ context.Context, tx billing.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) ListTransactions(_ context.Context, filter billing.TransactionFilter) ([]billing.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(filter), nil
}

func (m *Memory) GetClosure(_ context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) (*billing.SeasonClosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClosureLocked(schoolID, seasonID), nil
}

func (m *Memory) InsertClosure(_ context.Context, closure billing.SeasonClosure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertClosureLocked(closure)
}

// =============================================================================
// LOCKED HELPERS - Caller holds m.mu
// =============================================================================

func (m *Memory) getSchoolLocked(id billing.SchoolID) (billing.School, error) {
	s, ok := m.schools[id]
	if !ok {
		return billing.School{}, billing.NotFound("school", id)
	}
	return s, nil
}

func (m *Memory) getSeasonLocked(id billing.SeasonID) (billing.Season, error) {
	s, ok := m.seasons[id]
	if !ok {
		return billing.Season{}, billing.NotFound("season", id)
	}
	return s, nil
}

func (m *Memory) getStudentLocked(id billing.StudentID) (billing.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return billing.Student{}, billing.NotFound("student", id)
	}
	return s, nil
}

func (m *Memory) listStudentsLocked(schoolID billing.SchoolID) []billing.Student {
	var out []billing.Student
	for _, s := range m.students {
		if s.SchoolID == schoolID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) setLastPaymentStatusLocked(id billing.StudentID, status billing.LastPaymentStatus) error {
	s, ok := m.students[id]
	if !ok {
		return billing.NotFound("student", id)
	}
	s.LastPaymentStatus = status
	m.students[id] = s
	return nil
}

func (m *Memory) listPeriodsLocked(schoolID billing.SchoolID, seasonID billing.SeasonID) []billing.Period {
	ps := m.periods[pairKey{SchoolID: schoolID, SeasonID: seasonID}]
	out := make([]billing.Period, len(ps))
	copy(out, ps)
	return out
}

func (m *Memory) getPeriodLocked(id billing.PeriodID) (billing.Period, error) {
	p, ok := m.periodByID[id]
	if !ok {
		return billing.Period{}, billing.NotFound("period", id)
	}
	return p, nil
}

func (m *Memory) insertPeriodsLocked(periods []billing.Period) error {
	// Check the whole batch before writing any of it.
	seen := make(map[pairKey]map[int]bool)
	for _, p := range periods {
		k := pairKey{SchoolID: p.SchoolID, SeasonID: p.SeasonID}
		if seen[k] == nil {
			seen[k] = make(map[int]bool)
			for _, existing := range m.periods[k] {
				seen[k][existing.Number] = true
			}
		}
		if seen[k][p.Number] {
			return &billing.PeriodExistsError{SchoolID: p.SchoolID, SeasonID: p.SeasonID, Number: p.Number}
		}
		seen[k][p.Number] = true
	}

	for _, p := range periods {
		k := pairKey{SchoolID: p.SchoolID, SeasonID: p.SeasonID}
		ps := append(m.periods[k], p)
		sort.Slice(ps, func(i, j int) bool { return ps[i].Number < ps[j].Number })
		m.periods[k] = ps
		m.periodByID[p.ID] = p
	}
	return nil
}

func (m *Memory) appendLocked(tx billing.Transaction) error {
	if tx.IdempotencyKey != "" {
		if m.idempotency[tx.IdempotencyKey] {
			return billing.ErrDuplicateIdempotencyKey
		}
		m.idempotency[tx.IdempotencyKey] = true
	}

	// Keep transactions ordered by settlement date, insertion order on ties.
	i := sort.Search(len(m.transactions), func(i int) bool {
		return m.transactions[i].Date.After(tx.Date)
	})
	m.transactions = append(m.transactions, billing.Transaction{})
	copy(m.transactions[i+1:], m.transactions[i:])
	m.transactions[i] = tx
	return nil
}

func (m *Memory) listTransactionsLocked(filter billing.TransactionFilter) []billing.Transaction {
	var out []billing.Transaction
	for _, tx := range m.transactions {
		if filter.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out
}

func (m *Memory) getClosureLocked(schoolID billing.SchoolID, seasonID billing.SeasonID) *billing.SeasonClosure {
	c, ok := m.closures[pairKey{SchoolID: schoolID, SeasonID: seasonID}]
	if !ok {
		return nil
	}
	return &c
}

func (m *Memory) insertClosureLocked(closure billing.SeasonClosure) error {
	k := pairKey{SchoolID: closure.SchoolID, SeasonID: closure.SeasonID}
	if existing, ok := m.closures[k]; ok {
		return &billing.AlreadyClosedError{Closure: existing}
	}
	m.closures[k] = closure
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn with exclusive access to the store.
// Writes go straight to the maps; on error the pre-call snapshot is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	students     map[billing.StudentID]billing.Student
	periods      map[pairKey][]billing.Period
	periodByID   map[billing.PeriodID]billing.Period
	transactions []billing.Transaction
	idempotency  map[string]bool
	closures     map[pairKey]billing.SeasonClosure
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		students:     make(map[billing.StudentID]billing.Student, len(m.students)),
		periods:      make(map[pairKey][]billing.Period, len(m.periods)),
		periodByID:   make(map[billing.PeriodID]billing.Period, len(m.periodByID)),
		transactions: append([]billing.Transaction{}, m.transactions...),
		idempotency:  make(map[string]bool, len(m.idempotency)),
		closures:     make(map[pairKey]billing.SeasonClosure, len(m.closures)),
	}
	for k, v := range m.students {
		s.students[k] = v
	}
	for k, v := range m.periods {
		s.periods[k] = append([]billing.Period{}, v...)
	}
	for k, v := range m.periodByID {
		s.periodByID[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.closures {
		s.closures[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.students = s.students
	m.periods = s.periods
	m.periodByID = s.periodByID
	m.transactions = s.transactions
	m.idempotency = s.idempotency
	m.closures = s.closures
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it calls the locked helpers directly.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetSchool(_ context.Context, id billing.SchoolID) (billing.School, error) {
	return tv.parent.getSchoolLocked(id)
}

func (tv *txMemoryView) GetSeason(_ context.Context, id billing.SeasonID) (billing.Season, error) {
	return tv.parent.getSeasonLocked(id)
}

func (tv *txMemoryView) GetStudent(_ context.Context, id billing.StudentID) (billing.Student, error) {
	return tv.parent.getStudentLocked(id)
}

func (tv *txMemoryView) ListStudents(_ context.Context, schoolID billing.SchoolID) ([]billing.Student, error) {
	return tv.parent.listStudentsLocked(schoolID), nil
}

func (tv *txMemoryView) SetLastPaymentStatus(_ context.Context, id billing.StudentID, status billing.LastPaymentStatus) error {
	return tv.parent.setLastPaymentStatusLocked(id, status)
}

func (tv *txMemoryView) ListPeriods(_ context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) ([]billing.Period, error) {
	return tv.parent.listPeriodsLocked(schoolID, seasonID), nil
}

func (tv *txMemoryView) GetPeriod(_ context.Context, id billing.PeriodID) (billing.Period, error) {
	return tv.parent.getPeriodLocked(id)
}

func (tv *txMemoryView) InsertPeriods(_ context.Context, periods []billing.Period) error {
	return tv.parent.insertPeriodsLocked(periods)
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx billing.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) ListTransactions(_ context.Context, filter billing.TransactionFilter) ([]billing.Transaction, error) {
	return tv.parent.listTransactionsLocked(filter), nil
}

func (tv *txMemoryView) GetClosure(_ context.Context, schoolID billing.SchoolID, seasonID billing.SeasonID) (*billing.SeasonClosure, error) {
	return tv.parent.getClosureLocked(schoolID, seasonID), nil
}

func (tv *txMemoryView) InsertClosure(_ context.Context, closure billing.SeasonClosure) error {
	return tv.parent.insertClosureLocked(closure)
}

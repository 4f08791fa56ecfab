package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE - Mutating operations over a TxStore
// =============================================================================

// Engine runs the operations that write: period generation, transaction
// recording and season closure. Each of them holds the pair's lock and does
// all of its writes inside one store transaction.
//
// Fields may be replaced after NewEngine (tests swap Now and NewID).
type Engine struct {
	Store    TxStore
	Locker   Locker
	Logger   *zap.Logger
	Recorder Recorder
	Now      func() time.Time
	NewID    func() string
}

// Recorder receives engine events for metrics.
type Recorder interface {
	PeriodsGenerated(schoolID SchoolID, count int)
	TransactionRecorded(txType TransactionType, amount Money)
	SeasonClosed(writeOff Money)
}

type nopRecorder struct{}

func (nopRecorder) PeriodsGenerated(SchoolID, int) {}
func (nopRecorder) TransactionRecorded(TransactionType, Money) {}
func (nopRecorder) SeasonClosed(Money) {}

// NewEngine creates an engine with an in-process locker, no-op logging and
// metrics, the wall clock and UUID ids.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:    store,
		Locker:   NewKeyedMutex(),
		Logger:   zap.NewNop(),
		Recorder: nopRecorder{},
		Now:      time.Now,
		NewID:    func() string { return uuid.NewString() },
	}
}

func (e *Engine) lockPair(ctx context.Context, schoolID SchoolID, seasonID SeasonID) (func(), error) {
	return e.Locker.Lock(ctx, PairKey(schoolID, seasonID))
}

func (e *Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Engine) recorder() Recorder {
	if e.Recorder == nil {
		return nopRecorder{}
	}
	return e.Recorder
}

// ensureOpen fails with SeasonClosedError when the pair has a closure.
func ensureOpen(ctx context.Context, s Store, schoolID SchoolID, seasonID SeasonID) error {
	closure, err := s.GetClosure(ctx, schoolID, seasonID)
	if err != nil {
		return err
	}
	if closure != nil {
		return &SeasonClosedError{SchoolID: schoolID, SeasonID: seasonID}
	}
	return nil
}

// IsClosed reports whether the pair has been closed.
func (e *Engine) IsClosed(ctx context.Context, schoolID SchoolID, seasonID SeasonID) (bool, error) {
	closure, err := e.Store.GetClosure(ctx, schoolID, seasonID)
	if err != nil {
		return false, err
	}
	return closure != nil, nil
}

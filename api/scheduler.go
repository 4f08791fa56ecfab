/*
scheduler.go - Automated period generation

PURPOSE:
  Periods are generated lazily: nothing exists until somebody asks for it.
  The scheduler asks on a timer so that every open (school, season) pair has
  its periods up to today without a human calling /periods/ensure.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run visits every school x active season pair
  - Pairs are processed concurrently, at most Concurrency at a time
  - Closed pairs and schools without a cycle start are skipped
  - A failing pair is logged and counted; it never stops the others

USAGE:
  scheduler := NewPeriodScheduler(engine, store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: EnsurePeriods endpoint (manual generation)
  - billing/ledger.go: EnsurePeriodsUpTo
*/
package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/metrics"
)

// SchedulerStore lists what the scheduler iterates over.
type SchedulerStore interface {
	ListSchools(ctx context.Context) ([]billing.School, error)
	ListSeasons(ctx context.Context) ([]billing.Season, error)
}

// PeriodScheduler keeps every open pair generated up to its current period.
type PeriodScheduler struct {
	Engine        *billing.Engine
	Store         SchedulerStore
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	CheckInterval time.Duration
	Concurrency   int
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SchedulerResult counts pair outcomes of one run.
type SchedulerResult struct {
	Generated int
	Skipped   int
	Failed    int
}

// NewPeriodScheduler creates a scheduler with a one hour interval.
func NewPeriodScheduler(engine *billing.Engine, store SchedulerStore, logger *zap.Logger) *PeriodScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodScheduler{
		Engine:        engine,
		Store:         store,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Concurrency:   4,
		Enabled:       true,
	}
}

// Start begins the scheduler. It runs once immediately.
func (ps *PeriodScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.Logger.Info("scheduler disabled, not starting")
		return
	}
	if ps.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps.cancel = cancel
	ps.stop = make(chan struct{})
	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run(ctx)

	ps.Logger.Info("scheduler started", zap.Duration("interval", ps.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (ps *PeriodScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker == nil {
		return
	}
	ps.ticker.Stop()
	ps.cancel()
	close(ps.stop)
	ps.wg.Wait()
	ps.ticker = nil
	ps.Logger.Info("scheduler stopped")
}

func (ps *PeriodScheduler) run(ctx context.Context) {
	defer ps.wg.Done()

	ps.RunOnce(ctx)

	for {
		select {
		case <-ps.ticker.C:
			ps.RunOnce(ctx)
		case <-ps.stop:
			return
		}
	}
}

// RunOnce processes every school x active season pair once.
func (ps *PeriodScheduler) RunOnce(ctx context.Context) SchedulerResult {
	now := ps.Engine.Now()

	schools, err := ps.Store.ListSchools(ctx)
	if err != nil {
		ps.Logger.Error("scheduler: list schools", zap.Error(err))
		return SchedulerResult{}
	}
	seasons, err := ps.Store.ListSeasons(ctx)
	if err != nil {
		ps.Logger.Error("scheduler: list seasons", zap.Error(err))
		return SchedulerResult{}
	}

	var generated, skipped, failed int64
	limit := ps.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for _, school := range schools {
		for _, season := range seasons {
			if !season.IsActive {
				continue
			}
			school, season := school, season
			g.Go(func() error {
				switch ps.ensurePair(ctx, school, season, now) {
				case "generated":
					atomic.AddInt64(&generated, 1)
				case "skipped":
					atomic.AddInt64(&skipped, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	result := SchedulerResult{Generated: int(generated), Skipped: int(skipped), Failed: int(failed)}
	ps.Logger.Info("scheduler run complete",
		zap.Int("generated", result.Generated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result
}

// ensurePair returns the outcome label recorded in metrics.
func (ps *PeriodScheduler) ensurePair(ctx context.Context, school billing.School, season billing.Season, now time.Time) (outcome string) {
	defer func() { ps.Metrics.SchedulerPair(outcome) }()

	if ctx.Err() != nil {
		return "skipped"
	}
	if school.CycleStartDate.IsZero() {
		return "skipped"
	}
	target := billing.CurrentPeriodIndex(school.CycleStartDate, now)
	if target < 0 {
		return "skipped"
	}
	closed, err := ps.Engine.IsClosed(ctx, school.ID, season.ID)
	if err != nil {
		ps.Logger.Warn("scheduler: closure lookup failed",
			zap.String("school_id", string(school.ID)),
			zap.String("season_id", string(season.ID)),
			zap.Error(err),
		)
		return "failed"
	}
	if closed {
		return "skipped"
	}

	if _, err := ps.Engine.EnsurePeriodsUpTo(ctx, school, season, target); err != nil {
		if billing.IsConflict(err) {
			// Closed between the check and the lock.
			return "skipped"
		}
		ps.Logger.Warn("scheduler: period generation failed",
			zap.String("school_id", string(school.ID)),
			zap.String("season_id", string(season.ID)),
			zap.Int("target", target),
			zap.Error(err),
		)
		return "failed"
	}
	return "generated"
}

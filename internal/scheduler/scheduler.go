package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evanofslack/dns-prefix-sync/internal/metrics"
	"github.com/evanofslack/dns-prefix-sync/internal/reconcile"
)

const trigger = "timer"

// Scheduler triggers a background run on every tick. Runs are not awaited
// by the loop; Wait blocks until every dispatched run has returned.
type Scheduler struct {
	engine     reconcile.Engine
	metrics    *metrics.Metrics
	interval   time.Duration
	runOnStart bool

	wg sync.WaitGroup
}

func New(engine reconcile.Engine, metrics *metrics.Metrics, interval time.Duration, runOnStart bool) *Scheduler {
	return &Scheduler{
		engine:     engine,
		metrics:    metrics,
		interval:   interval,
		runOnStart: runOnStart,
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Starting scheduler", "interval", s.interval, "runOnStart", s.runOnStart)
	if s.runOnStart {
		s.dispatch(ctx)
	}

	for {
		select {
		case <-ticker.C:
			s.dispatch(ctx)
		case <-ctx.Done():
			slog.Info("Stopping scheduler")
			return
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// runs already started are allowed to finish after shutdown
		results, err := reconcile.Observe(context.WithoutCancel(ctx), s.engine, s.metrics, trigger)
		if err != nil {
			slog.Error("Scheduled run failed", "error", err)
			return
		}
		slog.Info("Scheduled run completed",
			"deleted", results.Deleted,
			"updated", results.Updated,
			"created", results.Created,
			"errors", len(results.Errors))
	}()
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

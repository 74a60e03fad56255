package consolidation

import (
	"context"
	"sync"
	"time"

	"mnemo-backend/internal/domain"

	"go.uber.org/zap"
)

// Worker drives the engine in the background: it evaluates the automatic
// triggers on a fixed tick and applies the retention policy once per
// retention sweep interval.
type Worker struct {
	engine    *Engine
	policy    domain.RetentionPolicy
	tick      time.Duration
	sweepTick time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a background worker. tick controls how often triggers
// are evaluated; the retention sweep runs on its own slower cadence.
func NewWorker(engine *Engine, policy domain.RetentionPolicy, tick, sweepTick time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		engine:    engine,
		policy:    policy,
		tick:      tick,
		sweepTick: sweepTick,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker goroutines. The provided context bounds each
// individual run, not the worker lifetime; use Stop to shut down.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(2)

	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.tick)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.runOnce(ctx)
			}
		}
	}()

	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.sweepTick)
		defer ticker.Stop()

		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				if purged, err := w.engine.PurgeExpired(ctx, w.policy); err != nil {
					w.logger.Error("retention sweep failed", zap.Error(err))
				} else if purged > 0 {
					w.logger.Info("retention sweep purged entries", zap.Int("purged", purged))
				}
			}
		}
	}()
}

// runOnce evaluates triggers and consolidates when one fires.
func (w *Worker) runOnce(ctx context.Context) {
	trigger, fire, err := w.engine.ShouldRun(ctx)
	if err != nil {
		w.logger.Error("trigger evaluation failed", zap.Error(err))
		return
	}
	if !fire {
		return
	}

	if _, err := w.engine.Consolidate(ctx, trigger); err != nil {
		w.logger.Error("background consolidation failed",
			zap.String("trigger", string(trigger)),
			zap.Error(err),
		)
	}
}

// Stop halts the worker and waits for in-flight runs to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
}

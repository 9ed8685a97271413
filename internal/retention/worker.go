// Package retention periodically trims delivered outbox rows and idle
// deduplication windows.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner removes outbox rows of records delivered before a cutoff.
type Pruner interface {
	PruneDelivered(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper drops deduplication windows that have returned to idle.
type Sweeper interface {
	Sweep(now time.Time) int
}

type Observer interface {
	PrunedRows(n int64)
}

type Config struct {
	Interval     time.Duration // Tick interval (default: 1 hour)
	DeliveredTTL time.Duration // Keep delivered outbox rows this long (default: 30 days)
}

// Worker performs periodic cleanup
type Worker struct {
	pruner   Pruner
	sweeper  Sweeper
	observer Observer
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker creates a new retention worker. observer may be nil.
func NewWorker(pruner Pruner, sweeper Sweeper, observer Observer, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.DeliveredTTL <= 0 {
		cfg.DeliveredTTL = 30 * 24 * time.Hour
	}

	return &Worker{
		pruner:   pruner,
		sweeper:  sweeper,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start runs cleanup on every tick until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Info("retention worker started",
		"interval", w.cfg.Interval,
		"delivered_ttl", w.cfg.DeliveredTTL,
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention worker stopped")
			return
		case <-w.done:
			w.logger.Info("retention worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// RunOnce performs a single cleanup pass. Attendance records themselves are
// kept as the audit trail; only their delivered outbox rows are removed.
func (w *Worker) RunOnce(ctx context.Context) {
	now := w.now()

	if w.pruner != nil {
		deleted, err := w.pruner.PruneDelivered(ctx, now.Add(-w.cfg.DeliveredTTL))
		if err != nil {
			w.logger.Error("failed to prune delivered outbox rows", "error", err)
		} else if deleted > 0 {
			w.logger.Info("pruned delivered outbox rows", "count", deleted)
			if w.observer != nil {
				w.observer.PrunedRows(deleted)
			}
		}
	}

	if w.sweeper != nil {
		if removed := w.sweeper.Sweep(now); removed > 0 {
			w.logger.Debug("swept idle deduplication windows", "count", removed)
		}
	}
}

// Package sweeper purges unpaid online holds on a fixed interval.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

type Sweeper interface {
	SweepExpiredPending(ctx context.Context) (int, error)
}

type Worker struct {
	sweeper  Sweeper
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

type WorkerConfig struct {
	Interval time.Duration
	// Timeout bounds a single sweep.
	Timeout time.Duration
}

func NewWorker(s Sweeper, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		sweeper:  s,
		logger:   logger,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("sweeper started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			_, _ = w.RunOnce(ctx)
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	n, err := w.sweeper.SweepExpiredPending(ctx)
	if err != nil {
		w.logger.Error("sweep failed", "err", err)
		return 0, err
	}
	w.logger.Debug("sweep finished", "deleted", n)
	return n, nil
}

package chunkstore

import (
	"context"
	"log/slog"
	"time"

	"sportello/internal/platform/metrics"
)

// Sweeper reclaims abandoned upload sessions in the background. The
// ticker interval is the sole trigger, so the scratch root is scanned at
// most once per interval rather than on every request.
type Sweeper struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	cancel context.CancelFunc
}

// NewSweeper builds a Sweeper. maxAge is the abandonment window (24h in
// the reference deployment); interval is how often the scratch root is
// scanned.
func NewSweeper(store *Store, maxAge, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start launches the background goroutine. Call once at startup.
func (sw *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel

	go sw.run(runCtx)

	sw.logger.Info("sweeper started",
		slog.String("interval", sw.interval.String()),
		slog.String("max_age", sw.maxAge.String()),
	)
}

// Stop terminates the background goroutine.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.logger.Info("sweeper stopped")
}

func (sw *Sweeper) run(ctx context.Context) {
	// First pass right after startup to reclaim sessions abandoned
	// across a restart.
	sw.RunOnce()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce()
		}
	}
}

// RunOnce executes a single sweep pass.
func (sw *Sweeper) RunOnce() {
	start := time.Now()
	removed, err := sw.store.Sweep(sw.maxAge)
	if err != nil {
		sw.logger.Error("sweep failed", slog.String("error", err.Error()))
		return
	}

	if sw.metrics != nil {
		sw.metrics.SweepRuns.Inc()
		sw.metrics.SweepRemoved.Add(float64(removed))
	}

	sw.logger.Info("sweep finished",
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
}

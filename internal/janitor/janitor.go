// Package janitor runs periodic housekeeping: evicting idle rate-limiter
// identities and pruning execution history past its retention window.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nextvibe/nextvibe/internal/ratelimit"
	"github.com/nextvibe/nextvibe/internal/storage"
)

// Config controls the sweep cadence and what each sweep removes.
type Config struct {
	Schedule         string        // Cron spec, e.g. "@every 5m".
	IdleEvictAge     time.Duration // Evict identities idle at least this long.
	HistoryRetention time.Duration // 0 = keep history forever.
}

// Each scheduled sweep gets its own deadline instead of the serve context's.
const sweepTimeout = time.Minute

// Janitor owns the cron runner. Store is optional (nil = no history pruning).
type Janitor struct {
	limiter *ratelimit.Limiter
	store   storage.Store
	logger  *slog.Logger
	config  Config

	runner *cron.Cron
	base   context.Context // serve context minus cancellation
}

// New creates a janitor. Call Start to begin sweeping.
func New(limiter *ratelimit.Limiter, store storage.Store, logger *slog.Logger, cfg Config) *Janitor {
	return &Janitor{
		limiter: limiter,
		store:   store,
		logger:  logger,
		config:  cfg,
	}
}

// Start schedules the sweep and returns a stop function.
func (j *Janitor) Start(ctx context.Context) (func(), error) {
	j.runner = cron.New()
	// A sweep that fires during shutdown must not inherit the serve
	// context's cancellation, or Prune fails with a spurious error. The
	// stop function already waits for a running sweep to finish.
	j.base = context.WithoutCancel(ctx)
	if _, err := j.runner.AddFunc(j.config.Schedule, j.scheduledSweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", j.config.Schedule, err)
	}
	j.runner.Start()

	j.logger.InfoContext(ctx, "janitor started",
		slog.String("schedule", j.config.Schedule),
		slog.Duration("idle_evict_age", j.config.IdleEvictAge),
		slog.Duration("history_retention", j.config.HistoryRetention),
	)

	return func() {
		stopCtx := j.runner.Stop()
		<-stopCtx.Done() // Wait for a running sweep to finish.
		j.logger.Info("janitor stopped")
	}, nil
}

// scheduledSweep is the cron entry point: one sweep on its own deadline.
func (j *Janitor) scheduledSweep() {
	ctx, cancel := context.WithTimeout(j.base, sweepTimeout)
	defer cancel()
	j.Sweep(ctx)
}

// Sweep performs one housekeeping pass. Exported so a shutdown hook or test
// can run it directly.
func (j *Janitor) Sweep(ctx context.Context) {
	evicted := j.limiter.EvictIdle(j.config.IdleEvictAge)

	var pruned int64
	if j.store != nil && j.config.HistoryRetention > 0 {
		cutoff := time.Now().UTC().Add(-j.config.HistoryRetention)
		n, err := j.store.Prune(ctx, cutoff)
		if err != nil {
			j.logger.ErrorContext(ctx, "history prune failed",
				slog.String("error", err.Error()),
			)
		} else {
			pruned = n
		}
	}

	j.logger.DebugContext(ctx, "janitor sweep complete",
		slog.Int("identities_evicted", evicted),
		slog.Int64("results_pruned", pruned),
		slog.Int("identities_tracked", j.limiter.Size()),
	)
}

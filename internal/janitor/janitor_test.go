package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/ratelimit"
	"github.com/nextvibe/nextvibe/internal/storage"
)

// pruneRecorder is a storage.Store stub that records Prune calls.
type pruneRecorder struct {
	mu      sync.Mutex
	cutoffs []time.Time
	ctxErrs []error
	pruned  int64
	err     error
}

func (p *pruneRecorder) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, olderThan)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return p.pruned, p.err
}

func (p *pruneRecorder) SaveResult(context.Context, *domain.TaskResult) error { return nil }
func (p *pruneRecorder) Result(context.Context, uuid.UUID) (*domain.TaskResult, error) {
	return nil, storage.ErrNotFound
}
func (p *pruneRecorder) History(context.Context, string, int) ([]*domain.TaskResult, error) {
	return nil, nil
}
func (p *pruneRecorder) Migrate(context.Context) error { return nil }
func (p *pruneRecorder) Ping(context.Context) error    { return nil }
func (p *pruneRecorder) Close() error                  { return nil }
func (p *pruneRecorder) Driver() string                { return "stub" }

func (p *pruneRecorder) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSweep_PrunesWithRetentionCutoff(t *testing.T) {
	store := &pruneRecorder{pruned: 3}
	j := New(ratelimit.NewLimiter(ratelimit.Config{}), store, discardLogger(), Config{
		Schedule:         "@every 5m",
		IdleEvictAge:     time.Hour,
		HistoryRetention: 24 * time.Hour,
	})

	before := time.Now().UTC().Add(-24 * time.Hour)
	j.Sweep(context.Background())
	after := time.Now().UTC().Add(-24 * time.Hour)

	calls := store.calls()
	if len(calls) != 1 {
		t.Fatalf("prune calls = %d, want 1", len(calls))
	}
	if calls[0].Before(before) || calls[0].After(after) {
		t.Errorf("cutoff = %v, want ~24h ago", calls[0])
	}
}

func TestSweep_ZeroRetentionKeepsHistory(t *testing.T) {
	store := &pruneRecorder{}
	j := New(ratelimit.NewLimiter(ratelimit.Config{}), store, discardLogger(), Config{
		Schedule:     "@every 5m",
		IdleEvictAge: time.Hour,
	})

	j.Sweep(context.Background())
	if n := len(store.calls()); n != 0 {
		t.Errorf("prune calls = %d, want 0 with zero retention", n)
	}
}

func TestSweep_PruneFailureIsNonFatal(t *testing.T) {
	store := &pruneRecorder{err: errors.New("db gone")}
	j := New(ratelimit.NewLimiter(ratelimit.Config{}), store, discardLogger(), Config{
		Schedule:         "@every 5m",
		HistoryRetention: time.Hour,
	})

	// Must not panic or return; the next sweep will retry.
	j.Sweep(context.Background())
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	j := New(ratelimit.NewLimiter(ratelimit.Config{}), nil, discardLogger(), Config{
		Schedule: "not a schedule",
	})
	if _, err := j.Start(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}

func TestScheduledSweep_RunsAfterServeContextCancel(t *testing.T) {
	store := &pruneRecorder{}
	j := New(ratelimit.NewLimiter(ratelimit.Config{}), store, discardLogger(), Config{
		Schedule:         "@every 1h",
		HistoryRetention: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stop, err := j.Start(ctx)
	if err != nil {
		t.Fatalf("starting janitor: %v", err)
	}
	defer stop()

	// A sweep firing mid-shutdown sees the serve context already canceled;
	// it must still prune on its own deadline.
	cancel()
	j.scheduledSweep()

	calls := store.calls()
	if len(calls) != 1 {
		t.Fatalf("prune calls = %d, want 1", len(calls))
	}
	store.mu.Lock()
	ctxErr := store.ctxErrs[0]
	store.mu.Unlock()
	if ctxErr != nil {
		t.Errorf("prune context error = %v, want nil", ctxErr)
	}
}

func TestStartAndStop(t *testing.T) {
	store := &pruneRecorder{}
	j := New(ratelimit.NewLimiter(ratelimit.Config{}), store, discardLogger(), Config{
		Schedule:         "@every 1s",
		HistoryRetention: time.Hour,
	})

	stop, err := j.Start(context.Background())
	if err != nil {
		t.Fatalf("starting janitor: %v", err)
	}
	stop() // Must return promptly with no sweep in flight.
}

//go:build integration

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/storage"
)

func testDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := Open(Config{DSN: dsn}, logger)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return s
}

func TestResultRoundTrip(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	want := &domain.TaskResult{
		TaskID:    domain.NewID(),
		Identity:  "it-user",
		Category:  domain.CategoryFeature,
		Narrative: "added the flag",
		Execution: &domain.ExecutionOutcome{
			Status:   domain.ExecNonZeroExit,
			Stderr:   "assertion failed",
			ExitCode: 1,
			Duration: 1200 * time.Millisecond,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.SaveResult(ctx, want); err != nil {
		t.Fatalf("saving result: %v", err)
	}

	got, err := s.Result(ctx, want.TaskID)
	if err != nil {
		t.Fatalf("loading result: %v", err)
	}
	if got.Execution == nil || got.Execution.Status != domain.ExecNonZeroExit {
		t.Errorf("execution = %+v", got.Execution)
	}
	if got.Execution.ExitCode != 1 || got.Execution.Stderr != "assertion failed" {
		t.Errorf("exit/stderr = %d/%q", got.Execution.ExitCode, got.Execution.Stderr)
	}
}

func TestHistoryAndPrune(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	identity := "it-prune-" + domain.NewID().String()[:8]
	now := time.Now().UTC()
	old := &domain.TaskResult{
		TaskID:    domain.NewID(),
		Identity:  identity,
		Category:  domain.CategoryGeneral,
		CreatedAt: now.Add(-72 * time.Hour),
	}
	fresh := &domain.TaskResult{
		TaskID:    domain.NewID(),
		Identity:  identity,
		Category:  domain.CategoryGeneral,
		CreatedAt: now,
	}
	for _, r := range []*domain.TaskResult{old, fresh} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("saving result: %v", err)
		}
	}

	history, err := s.History(ctx, identity, 10)
	if err != nil {
		t.Fatalf("querying history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].TaskID != fresh.TaskID {
		t.Errorf("newest first: got %s", history[0].TaskID)
	}

	if _, err := s.Prune(ctx, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if _, err := s.Result(ctx, old.TaskID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old result should be pruned, err = %v", err)
	}
}

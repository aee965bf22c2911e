package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(Config{Path: path}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return s
}

func sampleResult(identity string, createdAt time.Time) *domain.TaskResult {
	return &domain.TaskResult{
		TaskID:    domain.NewID(),
		Identity:  identity,
		Category:  domain.CategoryBugFix,
		Narrative: "fixed the off-by-one",
		Execution: &domain.ExecutionOutcome{
			Status:   domain.ExecSuccess,
			Stdout:   "42\n",
			ExitCode: 0,
			Duration: 340 * time.Millisecond,
		},
		CreatedAt: createdAt,
	}
}

func TestSaveAndLoadResult(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := sampleResult("user-1", time.Now().UTC().Truncate(time.Millisecond))
	if err := s.SaveResult(ctx, want); err != nil {
		t.Fatalf("saving result: %v", err)
	}

	got, err := s.Result(ctx, want.TaskID)
	if err != nil {
		t.Fatalf("loading result: %v", err)
	}
	if got.TaskID != want.TaskID {
		t.Errorf("task id = %s, want %s", got.TaskID, want.TaskID)
	}
	if got.Identity != "user-1" || got.Category != domain.CategoryBugFix {
		t.Errorf("identity/category = %q/%q", got.Identity, got.Category)
	}
	if got.Narrative != want.Narrative {
		t.Errorf("narrative = %q, want %q", got.Narrative, want.Narrative)
	}
	if got.Execution == nil {
		t.Fatal("execution outcome was dropped")
	}
	if got.Execution.Status != domain.ExecSuccess || got.Execution.Stdout != "42\n" {
		t.Errorf("execution = %+v", got.Execution)
	}
	if got.Execution.Duration != 340*time.Millisecond {
		t.Errorf("duration = %v, want 340ms", got.Execution.Duration)
	}
	if got.Error != nil {
		t.Errorf("error should be nil, got %+v", got.Error)
	}
}

func TestResult_NotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.Result(context.Background(), domain.NewID())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveResult_ErrorOnly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := &domain.TaskResult{
		TaskID:   domain.NewID(),
		Identity: "user-1",
		Category: domain.CategoryGeneral,
		Error: &domain.ErrorInfo{
			Code:       domain.ErrCodeAdmissionDenied,
			Message:    "too many requests, slow down",
			RetryAfter: 30 * time.Second,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveResult(ctx, want); err != nil {
		t.Fatalf("saving result: %v", err)
	}

	got, err := s.Result(ctx, want.TaskID)
	if err != nil {
		t.Fatalf("loading result: %v", err)
	}
	if got.Execution != nil {
		t.Errorf("execution should be nil, got %+v", got.Execution)
	}
	if got.Error == nil {
		t.Fatal("error info was dropped")
	}
	if got.Error.Code != domain.ErrCodeAdmissionDenied {
		t.Errorf("error code = %q", got.Error.Code)
	}
	if got.Error.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", got.Error.RetryAfter)
	}
	if !got.Failed() {
		t.Error("result with an error must report Failed")
	}
}

func TestHistory_NewestFirstAndScoped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		res := sampleResult("alice", base.Add(time.Duration(i)*time.Minute))
		res.Narrative = fmt.Sprintf("task %d", i)
		if err := s.SaveResult(ctx, res); err != nil {
			t.Fatalf("saving result %d: %v", i, err)
		}
	}
	if err := s.SaveResult(ctx, sampleResult("bob", base)); err != nil {
		t.Fatalf("saving other identity: %v", err)
	}

	got, err := s.History(ctx, "alice", 3)
	if err != nil {
		t.Fatalf("querying history: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("history length = %d, want 3", len(got))
	}
	if got[0].Narrative != "task 4" || got[2].Narrative != "task 2" {
		t.Errorf("unexpected order: %q .. %q", got[0].Narrative, got[2].Narrative)
	}
	for _, r := range got {
		if r.Identity != "alice" {
			t.Errorf("leaked identity %q into alice's history", r.Identity)
		}
	}
}

func TestHistory_DefaultLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		if err := s.SaveResult(ctx, sampleResult("alice", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("saving result %d: %v", i, err)
		}
	}

	got, err := s.History(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("querying history: %v", err)
	}
	if len(got) != defaultHistoryLimit {
		t.Errorf("history length = %d, want %d", len(got), defaultHistoryLimit)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := sampleResult("alice", now.Add(-48*time.Hour))
	fresh := sampleResult("alice", now)
	for _, r := range []*domain.TaskResult{old, fresh} {
		if err := s.SaveResult(ctx, r); err != nil {
			t.Fatalf("saving result: %v", err)
		}
	}

	removed, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if removed != 1 {
		t.Errorf("pruned %d rows, want 1", removed)
	}

	if _, err := s.Result(ctx, old.TaskID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old result should be gone, err = %v", err)
	}
	if _, err := s.Result(ctx, fresh.TaskID); err != nil {
		t.Errorf("fresh result should survive, err = %v", err)
	}
}

func TestDriverAndPing(t *testing.T) {
	s := testStore(t)
	if s.Driver() != storage.DriverSQLite {
		t.Errorf("driver = %q, want %q", s.Driver(), storage.DriverSQLite)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

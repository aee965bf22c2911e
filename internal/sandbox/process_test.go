package sandbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
)

func newTestProcessSandbox(t *testing.T) *ProcessSandbox {
	t.Helper()
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	return NewProcessSandbox(ProcessConfig{
		DefaultTimeout: 10 * time.Second,
	}, registry, logger)
}

// leftoverScratchDirs counts sandbox scratch directories still on disk.
func leftoverScratchDirs(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "nextvibe-sbx-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return len(matches)
}

func TestProcessSandbox_RoundTrip(t *testing.T) {
	sbx := newTestProcessSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   `echo "hello"`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecSuccess {
		t.Errorf("status = %s, want %s (stderr: %s)", res.Status, domain.ExecSuccess, res.Stderr)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
}

func TestProcessSandbox_NonZeroExit(t *testing.T) {
	sbx := newTestProcessSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "echo oops >&2\nexit 42",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecNonZeroExit {
		t.Errorf("status = %s, want %s", res.Status, domain.ExecNonZeroExit)
	}
	if res.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr = %q, want captured message", res.Stderr)
	}
}

func TestProcessSandbox_Timeout(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	before := leftoverScratchDirs(t)

	start := time.Now()
	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "sleep 30",
		Timeout:  500 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecTimeout {
		t.Errorf("status = %s, want %s", res.Status, domain.ExecTimeout)
	}
	// Forcible teardown: the call must return promptly, not after the sleep.
	if elapsed > 5*time.Second {
		t.Errorf("execute took %v, sandbox was not torn down on timeout", elapsed)
	}
	// Scratch space is gone before Execute returns.
	if after := leftoverScratchDirs(t); after > before {
		t.Errorf("scratch dirs leaked: before=%d after=%d", before, after)
	}
}

func TestProcessSandbox_OutputTruncatedAtCap(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	const outputCap = 1000

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:         domain.NewID(),
		Language:       "bash",
		Source:         "i=0\nwhile [ $i -lt 500 ]; do echo 0123456789; i=$((i+1)); done",
		MaxOutputBytes: outputCap,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecOutputTruncated {
		t.Errorf("status = %s, want %s", res.Status, domain.ExecOutputTruncated)
	}
	if len(res.Stdout) != outputCap {
		t.Errorf("stdout length = %d, want exactly %d", len(res.Stdout), outputCap)
	}
}

func TestProcessSandbox_UnsupportedLanguage(t *testing.T) {
	sbx := newTestProcessSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "cobol",
		Source:   "DISPLAY 'HELLO'.",
	})
	if err != nil {
		t.Fatalf("start failures must not surface as errors, got: %v", err)
	}
	if res.Status != domain.ExecSandboxError {
		t.Errorf("status = %s, want %s", res.Status, domain.ExecSandboxError)
	}
	if !strings.Contains(res.Stderr, "cobol") {
		t.Errorf("diagnostic %q should name the rejected language", res.Stderr)
	}
}

func TestProcessSandbox_EmptySource(t *testing.T) {
	sbx := newTestProcessSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.ExecSandboxError {
		t.Errorf("status = %s, want %s", res.Status, domain.ExecSandboxError)
	}
}

func TestProcessSandbox_Stdin(t *testing.T) {
	sbx := newTestProcessSandbox(t)

	res, err := sbx.Execute(context.Background(), ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "cat",
		Stdin:    "ping\n",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "ping\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "ping\n")
	}
}

func TestProcessSandbox_CallerCancellation(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	before := leftoverScratchDirs(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := sbx.Execute(ctx, ExecutionRequest{
		TaskID:   domain.NewID(),
		Language: "bash",
		Source:   "sleep 30",
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if elapsed > 5*time.Second {
		t.Errorf("execute took %v after cancel, teardown was not immediate", elapsed)
	}
	if after := leftoverScratchDirs(t); after > before {
		t.Errorf("scratch dirs leaked: before=%d after=%d", before, after)
	}
}

func TestCapWriter_ExactBoundary(t *testing.T) {
	var buf strings.Builder
	cw := newCapWriter(&buf, 5)

	if _, err := cw.Write([]byte("12345")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if cw.Truncated() {
		t.Error("writing exactly the cap must not count as truncation")
	}
	if _, err := cw.Write([]byte("6")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !cw.Truncated() {
		t.Error("writing past the cap must be reported as truncation")
	}
	if buf.String() != "12345" {
		t.Errorf("buffer = %q, want %q", buf.String(), "12345")
	}
}

func TestRegistry_AllowList(t *testing.T) {
	registry, err := NewRegistry([]string{"python", "bash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := registry.Lookup("python"); !ok {
		t.Error("python should be allowed")
	}
	if _, ok := registry.Lookup("go"); ok {
		t.Error("go is off the allow-list and must be rejected")
	}
	if _, err := NewRegistry([]string{"cobol"}); err == nil {
		t.Error("unknown language in allow-list should fail fast at startup")
	}
}

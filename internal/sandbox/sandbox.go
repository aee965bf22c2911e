// Package sandbox provides isolated, resource-bounded execution of untrusted
// code. All candidate code runs through a sandbox — never directly on the host.
package sandbox

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// Sandbox executes source code in an isolated environment.
type Sandbox interface {
	// Execute runs the request and returns a classified result. Failures to
	// even start the sandbox surface as ExecSandboxError results with a
	// diagnostic message, never as a raw error. The only non-nil error is
	// the caller's own context cancellation, after teardown has completed.
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
// Constructed once per execution and never mutated after submission.
type ExecutionRequest struct {
	TaskID   uuid.UUID
	Language string // Must be on the configured allow-list.
	Source   string // The program text to run.
	Stdin    string // Fed to the program's standard input. Empty = none.

	// Overrides. Zero values = sandbox defaults.
	Timeout        time.Duration
	MaxMemoryMB    int
	MaxOutputBytes int
}

// ExecutionResult captures the outcome of a sandboxed run.
//
// Status classification is deterministic:
//   - the wall-clock timeout fired            → ExecTimeout
//   - the process was OOM/ulimit killed       → ExecMemoryExceeded
//   - non-zero exit, no resource violation    → ExecNonZeroExit
//   - exit 0 but output hit the byte cap      → ExecOutputTruncated
//   - exit 0, output within bounds            → ExecSuccess
//   - the sandbox could not start at all      → ExecSandboxError
type ExecutionResult struct {
	Status   domain.ExecStatus
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMemoryMB    = 256
	defaultOutputBytes = 1 << 20 // 1 MB combined cap per stream.
	defaultCPUSeconds  = 60
)

// Limits are the resolved resource bounds for one execution.
type Limits struct {
	Timeout        time.Duration
	MemoryMB       int
	MaxOutputBytes int
}

// resolveLimits merges request-level overrides onto sandbox defaults.
func resolveLimits(defaults Limits, req ExecutionRequest) Limits {
	l := defaults
	if l.Timeout == 0 {
		l.Timeout = defaultTimeout
	}
	if l.MemoryMB == 0 {
		l.MemoryMB = defaultMemoryMB
	}
	if l.MaxOutputBytes == 0 {
		l.MaxOutputBytes = defaultOutputBytes
	}
	if req.Timeout > 0 {
		l.Timeout = req.Timeout
	}
	if req.MaxMemoryMB > 0 {
		l.MemoryMB = req.MaxMemoryMB
	}
	if req.MaxOutputBytes > 0 {
		l.MaxOutputBytes = req.MaxOutputBytes
	}
	return l
}

// startFailure builds the ExecSandboxError result for a sandbox that never
// ran the program. The message is user-visible: no host paths, no stack traces.
func startFailure(msg string) *ExecutionResult {
	return &ExecutionResult{
		Status:   domain.ExecSandboxError,
		Stderr:   msg,
		ExitCode: -1,
	}
}

// capWriter stops writing after a byte limit and remembers that it did.
// Excess data is discarded rather than buffered, so a chatty program cannot
// OOM the host, and the truncation is reported instead of silently dropped.
type capWriter struct {
	w         io.Writer
	remaining int
	truncated bool
}

func newCapWriter(w io.Writer, limit int) *capWriter {
	return &capWriter{w: w, remaining: limit}
}

func (cw *capWriter) Write(p []byte) (int, error) {
	if cw.remaining <= 0 {
		cw.truncated = cw.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > cw.remaining {
		cw.truncated = true
		n, err := cw.w.Write(p[:cw.remaining])
		cw.remaining -= n
		return len(p), err
	}
	n, err := cw.w.Write(p)
	cw.remaining -= n
	return n, err
}

// Truncated reports whether any bytes were dropped.
func (cw *capWriter) Truncated() bool { return cw.truncated }

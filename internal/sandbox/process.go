package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	DefaultTimeout     time.Duration
	DefaultMemoryMB    int
	DefaultOutputBytes int
	CPUSeconds         int    // CPU time limit (ulimit -t). 0 = default.
	ScratchDir         string // Parent for scratch dirs. Empty = system temp.
}

// ProcessSandbox executes code as isolated OS processes.
//
// Security guarantees:
//   - Each execution gets its own scratch directory (removed after)
//   - Process runs in its own process group (Setpgid)
//   - Entire process group killed on timeout/cancel
//   - No environment inheritance from parent — only a minimal safe set
//   - Memory and CPU limits enforced via ulimit
//   - stdout/stderr capped, excess reported as truncation
type ProcessSandbox struct {
	cfg      ProcessConfig
	registry *Registry
	logger   *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, registry *Registry, logger *slog.Logger) *ProcessSandbox {
	if cfg.CPUSeconds == 0 {
		cfg.CPUSeconds = defaultCPUSeconds
	}
	return &ProcessSandbox{cfg: cfg, registry: registry, logger: logger}
}

// memoryFailureMarkers identify allocation failures in stderr. Under
// RLIMIT_AS the runtime sees failed allocations rather than a kill signal,
// so the marker scan is what turns those crashes into ExecMemoryExceeded.
var memoryFailureMarkers = []string{
	"MemoryError",
	"Cannot allocate memory",
	"std::bad_alloc",
	"OutOfMemoryError",
	"out of memory",
	"runtime: out of memory",
}

// Execute runs the request in an isolated process environment.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	spec, ok := s.registry.Lookup(req.Language)
	if !ok {
		return startFailure(fmt.Sprintf("language %q is not supported; allowed: %s",
			req.Language, strings.Join(s.registry.Languages(), ", "))), nil
	}
	if strings.TrimSpace(req.Source) == "" {
		return startFailure("no source code to execute"), nil
	}

	limits := resolveLimits(Limits{
		Timeout:        s.cfg.DefaultTimeout,
		MemoryMB:       s.cfg.DefaultMemoryMB,
		MaxOutputBytes: s.cfg.DefaultOutputBytes,
	}, req)

	// Scratch directory; removed on every exit path before Execute returns.
	scratch, err := os.MkdirTemp(s.cfg.ScratchDir, "nextvibe-sbx-*")
	if err != nil {
		s.logger.ErrorContext(ctx, "creating sandbox scratch dir failed",
			slog.String("error", err.Error()),
		)
		return startFailure("could not allocate sandbox workspace"), nil
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			s.logger.WarnContext(ctx, "failed to remove sandbox scratch dir",
				slog.String("dir", scratch),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	srcPath := filepath.Join(scratch, spec.FileName)
	if err := os.WriteFile(srcPath, []byte(req.Source), 0600); err != nil {
		s.logger.ErrorContext(ctx, "writing sandbox source failed",
			slog.String("error", err.Error()),
		)
		return startFailure("could not stage source code"), nil
	}

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	start := time.Now()

	// Optional compile step shares the same wall clock and limits.
	if len(spec.Compile) > 0 {
		res, err := s.runStep(execCtx, ctx, scratch, spec.Compile, spec.FileName, "", limits, start)
		if err != nil || res != nil && res.Status != domain.ExecSuccess {
			return res, err
		}
	}

	res, err := s.runStep(execCtx, ctx, scratch, spec.Command, spec.FileName, req.Stdin, limits, start)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "sandbox execution completed",
		slog.String("task_id", req.TaskID.String()),
		slog.String("language", spec.Name),
		slog.String("status", string(res.Status)),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// runStep executes one command (compile or run) under the resolved limits and
// classifies its outcome.
func (s *ProcessSandbox) runStep(execCtx, parent context.Context, scratch string, template []string, fileName, stdin string, limits Limits, start time.Time) (*ExecutionResult, error) {
	command := expand(template, filepath.Join(scratch, fileName))

	// ulimit wrapper: exec "$@" with positional parameters so the user's
	// command is never interpolated into the shell string.
	memKB := limits.MemoryMB * 1024
	script := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, s.cfg.CPUSeconds,
	)
	args := make([]string, 0, 3+len(command))
	args = append(args, "-c", script, "_")
	args = append(args, command...)

	cmd := exec.CommandContext(execCtx, "/bin/sh", args...)
	cmd.Dir = scratch
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Negative PID = kill the entire process group, children included.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Sanitized environment — nothing inherited from the host process, so
	// API keys and credentials cannot leak into sandboxed code.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := newCapWriter(&stdoutBuf, limits.MaxOutputBytes)
	stderr := newCapWriter(&stderrBuf, limits.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	// Caller cancellation takes precedence: teardown already happened via
	// cmd.Cancel and the deferred scratch removal.
	if parent.Err() != nil {
		return nil, parent.Err()
	}

	res := &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		res.Status = domain.ExecTimeout
		res.ExitCode = -1
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The process never started (missing runtime, fork failure).
			s.logger.WarnContext(parent, "sandbox start failed",
				slog.String("command", command[0]),
				slog.String("error", runErr.Error()),
			)
			return startFailure(fmt.Sprintf("runtime %q is not available in this sandbox", command[0])), nil
		}
		res.ExitCode = exitErr.ExitCode()
		if isMemoryKill(exitErr, res.Stderr) {
			res.Status = domain.ExecMemoryExceeded
		} else {
			res.Status = domain.ExecNonZeroExit
		}
		return res, nil
	}

	if stdout.Truncated() || stderr.Truncated() {
		res.Status = domain.ExecOutputTruncated
		return res, nil
	}
	res.Status = domain.ExecSuccess
	return res, nil
}

// isMemoryKill reports whether a failed process died from memory exhaustion:
// either SIGKILLed (cgroup/OOM killer) or an allocation failure the runtime
// printed before exiting.
func isMemoryKill(exitErr *exec.ExitError, stderr string) bool {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() && ws.Signal() == syscall.SIGKILL {
			return true
		}
	}
	for _, marker := range memoryFailureMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

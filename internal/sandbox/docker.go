package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0

	// oomExitCode is what Docker reports when the kernel OOM killer
	// terminates the container's main process (128 + SIGKILL).
	oomExitCode = 137
)

// DockerConfig configures the container-based sandbox.
type DockerConfig struct {
	DefaultTimeout     time.Duration
	DefaultMemoryMB    int
	DefaultOutputBytes int
	CPUCores           float64 // --cpus rate limit. 0 = 1 core.
	PIDsLimit          int     // --pids-limit (fork bomb protection). 0 = 64.
	ScratchDir         string  // Parent for scratch dirs. Empty = system temp.
}

// DockerSandbox executes code inside ephemeral per-language containers.
//
// Security guarantees:
//   - Each execution gets its own container (--rm, plus docker rm -f safety net)
//   - ALL Linux capabilities dropped (--cap-drop=ALL)
//   - Read-only root filesystem with tmpfs for writable dirs
//   - Source staged via a read-only bind mount of the scratch dir
//   - Privilege escalation blocked, non-root user, no network stack
//   - Memory hard limit with swap disabled (OOM kill on exceed)
//   - stdout/stderr capped, excess reported as truncation
type DockerSandbox struct {
	cfg      DockerConfig
	registry *Registry
	logger   *slog.Logger
}

// NewDockerSandbox creates a container-based sandbox.
func NewDockerSandbox(cfg DockerConfig, registry *Registry, logger *slog.Logger) *DockerSandbox {
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	return &DockerSandbox{cfg: cfg, registry: registry, logger: logger}
}

// Execute runs the request inside an ephemeral hardened container.
func (s *DockerSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
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

	if err := os.WriteFile(filepath.Join(scratch, spec.FileName), []byte(req.Source), 0644); err != nil {
		s.logger.ErrorContext(ctx, "writing sandbox source failed",
			slog.String("error", err.Error()),
		)
		return startFailure("could not stage source code"), nil
	}

	containerName, err := containerName()
	if err != nil {
		return startFailure("could not allocate sandbox container"), nil
	}

	execCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	args := s.buildDockerArgs(containerName, scratch, spec, limits)
	// Compile-then-run inside a single container via sh so the compiled
	// artifact lands on the writable tmpfs workdir.
	args = append(args, "sh", "-c", launchScript(spec))

	cmd := exec.CommandContext(execCtx, "docker", args...)
	// Killing the docker client disconnects the container; the rm -f safety
	// net below removes it.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := newCapWriter(&stdoutBuf, limits.MaxOutputBytes)
	stderr := newCapWriter(&stderrBuf, limits.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	s.logger.InfoContext(ctx, "docker sandbox executing",
		slog.String("task_id", req.TaskID.String()),
		slog.String("container", containerName),
		slog.String("image", spec.Image),
		slog.String("language", spec.Name),
		slog.Int("memory_mb", limits.MemoryMB),
		slog.Duration("timeout", limits.Timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// Safety net on every exit path: force-remove in case --rm didn't fire
	// (OOM kill, daemon restart, cancellation race).
	s.forceRemove(containerName)

	if ctx.Err() != nil && !errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return nil, ctx.Err()
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
			s.logger.WarnContext(ctx, "docker invocation failed",
				slog.String("error", runErr.Error()),
			)
			return startFailure("container runtime is not available"), nil
		}
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode == oomExitCode {
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

	s.logger.InfoContext(ctx, "docker sandbox completed",
		slog.String("container", containerName),
		slog.String("status", string(res.Status)),
		slog.Duration("duration", duration),
	)
	return res, nil
}

// buildDockerArgs constructs the docker run argument list with all hardening
// flags. The launch command is NOT included — caller appends it.
func (s *DockerSandbox) buildDockerArgs(name, scratch string, spec LangSpec, limits Limits) []string {
	memoryFlag := strconv.Itoa(limits.MemoryMB) + "m"
	cpuFlag := strconv.FormatFloat(s.cfg.CPUCores, 'f', 2, 64)
	pidsFlag := strconv.Itoa(s.cfg.PIDsLimit)

	args := []string{
		"run", "--rm", "-i",
		"--name", name,

		// --- Security hardening ---
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534",
		"--network=none",

		// --- Resource limits ---
		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag, // Same as memory = no swap, OOM kill on exceed.
		"--cpus=" + cpuFlag,
		"--pids-limit=" + pidsFlag,

		// --- Writable tmpfs working dir; source mounted read-only ---
		"--tmpfs", "/work:rw,nosuid,size=64m",
		"--volume", scratch + ":/src:ro",
		"--workdir", "/work",

		// --- Sanitized environment ---
		"--env", "HOME=/work",
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "LANG=en_US.UTF-8",
		"--env", "TERM=dumb",
	}

	args = append(args, spec.Image)
	return args
}

// launchScript builds the in-container command: optional compile step against
// the read-only /src mount, then the run command from the writable workdir.
func launchScript(spec LangSpec) string {
	srcPath := "/src/" + spec.FileName
	run := strings.Join(expand(spec.Command, srcPath), " ")
	if len(spec.Compile) == 0 {
		return "exec " + run
	}
	compile := strings.Join(expand(spec.Compile, srcPath), " ")
	return compile + " && exec " + run
}

// forceRemove removes a container by name, best effort.
func (s *DockerSandbox) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		// "No such container" is expected when --rm already cleaned up.
		if !bytes.Contains(out, []byte("No such container")) {
			s.logger.Warn("docker rm -f failed",
				slog.String("container", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// containerName returns a unique name: nextvibe-sbx-<16 hex chars>.
func containerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "nextvibe-sbx-" + hex.EncodeToString(b), nil
}

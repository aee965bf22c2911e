package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/llm"
	"github.com/nextvibe/nextvibe/internal/router"
	"github.com/nextvibe/nextvibe/internal/sandbox"
)

// ExecLimits carries per-task resource overrides handed to the sandbox.
// Zero values fall through to the sandbox defaults.
type ExecLimits struct {
	Timeout        time.Duration
	MaxMemoryMB    int
	MaxOutputBytes int
}

// TaskHandler runs one classified task end to end: ask the collaborator for
// a solution, execute any produced program in the sandbox, and assemble the
// result. One handler instance serves every category — the category only
// changes the prompt, not the pipeline shape.
type TaskHandler struct {
	generator *llm.Generator
	sandbox   sandbox.Sandbox
	limits    ExecLimits
	logger    *slog.Logger
}

// NewTaskHandler creates the category handler. The generator's provider
// should already be wrapped with retry behavior.
func NewTaskHandler(generator *llm.Generator, sb sandbox.Sandbox, limits ExecLimits, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		generator: generator,
		sandbox:   sb,
		limits:    limits,
		logger:    logger,
	}
}

// Handle produces a TaskResult for the task. Collaborator failures become
// collaborator-unavailable results rather than errors; the only error
// returned is the caller's own context cancellation.
func (h *TaskHandler) Handle(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
	artifact, err := h.generator.Generate(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.logger.ErrorContext(ctx, "collaborator failed after retry",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		return rejection(task, task.Identity, collaboratorInfo()), nil
	}

	if !artifact.HasCode() {
		return Assemble(task, artifact.Narrative, nil), nil
	}

	exec, err := h.sandbox.Execute(ctx, sandbox.ExecutionRequest{
		TaskID:         task.ID,
		Language:       artifact.Language,
		Source:         artifact.Source,
		Timeout:        h.limits.Timeout,
		MaxMemoryMB:    h.limits.MaxMemoryMB,
		MaxOutputBytes: h.limits.MaxOutputBytes,
	})
	if err != nil {
		// Per the sandbox contract this is the caller's own cancellation,
		// surfaced after teardown completed.
		return nil, err
	}
	return Assemble(task, artifact.Narrative, exec), nil
}

// compile-time interface check
var _ router.Handler = (*TaskHandler)(nil)

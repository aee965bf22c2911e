package engine

import (
	"fmt"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/sandbox"
)

// Assemble combines a task, the collaborator's narrative, and an optional
// execution result into the terminal TaskResult. Pure and total: any
// combination of inputs yields a well-formed result, never an error.
func Assemble(task *domain.Task, narrative string, exec *sandbox.ExecutionResult) *domain.TaskResult {
	res := &domain.TaskResult{
		TaskID:    task.ID,
		Identity:  task.Identity,
		Category:  task.Category,
		Narrative: narrative,
		CreatedAt: time.Now().UTC(),
	}
	if exec == nil {
		return res
	}

	res.Execution = &domain.ExecutionOutcome{
		Status:   exec.Status,
		Stdout:   exec.Stdout,
		Stderr:   exec.Stderr,
		ExitCode: exec.ExitCode,
		Duration: exec.Duration,
	}
	res.Error = executionError(exec.Status)
	return res
}

// executionError maps execution statuses to the user-facing error taxonomy.
// A program that ran to completion is not an error, whatever its exit code:
// only resource violations and sandbox failures are terminal errors.
func executionError(status domain.ExecStatus) *domain.ErrorInfo {
	switch status {
	case domain.ExecTimeout:
		return &domain.ErrorInfo{
			Code:    domain.ErrCodeTimeout,
			Message: "execution exceeded the time limit",
		}
	case domain.ExecMemoryExceeded:
		return &domain.ErrorInfo{
			Code:    domain.ErrCodeMemoryExceeded,
			Message: "execution exceeded the memory limit",
		}
	case domain.ExecSandboxError:
		return &domain.ErrorInfo{
			Code:    domain.ErrCodeSandbox,
			Message: "the execution environment failed to run the program",
		}
	default:
		return nil
	}
}

// rejection builds a result for a request turned away before classification
// or execution. The task may be nil (admission denial happens before a task
// exists); identity is always known.
func rejection(task *domain.Task, identity string, info *domain.ErrorInfo) *domain.TaskResult {
	res := &domain.TaskResult{
		TaskID:    domain.NewID(),
		Identity:  identity,
		Category:  domain.CategoryGeneral,
		Error:     info,
		CreatedAt: time.Now().UTC(),
	}
	if task != nil {
		res.TaskID = task.ID
		res.Category = task.Category
	}
	return res
}

func deniedInfo(retryAfter time.Duration) *domain.ErrorInfo {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return &domain.ErrorInfo{
		Code:       domain.ErrCodeAdmissionDenied,
		Message:    fmt.Sprintf("rate limit reached, try again in %ds", seconds),
		RetryAfter: retryAfter,
	}
}

func busyInfo() *domain.ErrorInfo {
	return &domain.ErrorInfo{
		Code:    domain.ErrCodeBusy,
		Message: "a task is already running for you, wait for it to finish",
	}
}

func collaboratorInfo() *domain.ErrorInfo {
	return &domain.ErrorInfo{
		Code:    domain.ErrCodeCollaboratorUnavailable,
		Message: "the assistant is temporarily unavailable, try again shortly",
	}
}

func internalInfo() *domain.ErrorInfo {
	return &domain.ErrorInfo{
		Code:    domain.ErrCodeSandbox,
		Message: "the task failed unexpectedly, try again",
	}
}

// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies what kind of engineering work a task asks for.
type Category string

const (
	CategoryBugFix   Category = "bug_fix"
	CategoryFeature  Category = "feature"
	CategoryAnalysis Category = "analysis"
	CategoryDebug    Category = "debug"
	CategoryGeneral  Category = "general"
)

// CategoryPriority is the fixed tie-break order for equally scored categories.
// Lower index wins.
var CategoryPriority = []Category{
	CategoryBugFix,
	CategoryFeature,
	CategoryDebug,
	CategoryAnalysis,
	CategoryGeneral,
}

// AttachmentKind identifies the origin of an attachment's content.
type AttachmentKind string

const (
	AttachmentText            AttachmentKind = "text"
	AttachmentCode            AttachmentKind = "code"
	AttachmentVoiceTranscript AttachmentKind = "voice_transcript"
)

// Attachment is a piece of supplementary input accompanying a request.
// Order is preserved from the inbound request.
type Attachment struct {
	Kind AttachmentKind
	// Language is the declared language of a code attachment (from the
	// ```lang fence or file extension). Empty when unknown or non-code.
	Language string
	Content  string
}

// Task is the classified representation of a user's request.
// Created by the classifier pipeline; immutable thereafter. Owned exclusively
// by the pipeline instance processing it and never persisted by the core.
type Task struct {
	ID          uuid.UUID
	Identity    string // Opaque user/chat key for rate limiting and concurrency control.
	Category    Category
	RawInput    string
	Attachments []Attachment
	// Confidence in [0,1]. Below the configured threshold the rule stage has
	// no opinion and the collaborator decides.
	Confidence float64
	// Language is the detected programming language, if any.
	Language  string
	CreatedAt time.Time
}

// ErrorCode enumerates the user-facing error taxonomy.
type ErrorCode string

const (
	ErrCodeAdmissionDenied         ErrorCode = "admission_denied"
	ErrCodeBusy                    ErrorCode = "busy"
	ErrCodeSandbox                 ErrorCode = "sandbox_error"
	ErrCodeTimeout                 ErrorCode = "timeout"
	ErrCodeMemoryExceeded          ErrorCode = "memory_exceeded"
	ErrCodeCollaboratorUnavailable ErrorCode = "collaborator_unavailable"
)

// ErrorInfo is the sanitized, user-visible error attached to a TaskResult.
// Message MUST NOT contain host paths or stack traces — internal diagnostics
// go to the structured log, not here.
type ErrorInfo struct {
	Code    ErrorCode
	Message string
	// RetryAfter is set for admission denials: seconds until the window resets.
	RetryAfter time.Duration
}

// ExecStatus classifies the outcome of a sandboxed execution.
type ExecStatus string

const (
	ExecSuccess         ExecStatus = "success"
	ExecNonZeroExit     ExecStatus = "non_zero_exit"
	ExecTimeout         ExecStatus = "timeout"
	ExecMemoryExceeded  ExecStatus = "memory_exceeded"
	ExecOutputTruncated ExecStatus = "output_truncated"
	ExecSandboxError    ExecStatus = "sandbox_error"
)

// ExecutionOutcome is the executor's report, embedded in a TaskResult.
// Produced exclusively by the sandbox; immutable.
type ExecutionOutcome struct {
	Status   ExecStatus
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// TaskResult is the terminal artifact of the core, handed to the external
// formatter. The core relinquishes ownership at this point.
type TaskResult struct {
	TaskID    uuid.UUID
	Identity  string
	Category  Category
	Narrative string
	Execution *ExecutionOutcome // nil when nothing was executed.
	Error     *ErrorInfo        // nil on clean success.
	CreatedAt time.Time
}

// Failed reports whether the result carries a terminal error.
func (r *TaskResult) Failed() bool {
	return r.Error != nil
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}

package postgres

import (
	"time"

	"github.com/google/uuid"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// TaskResultModel maps to the "task_results" table. Execution and error
// details are flattened into nullable columns so a plain success, a failed
// execution, and a rejection all fit one row shape.
type TaskResultModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Identity  string    `gorm:"not null;index:idx_task_results_identity_created,priority:1"`
	Category  string    `gorm:"not null"`
	Narrative string

	// Execution outcome; all NULL when nothing was executed.
	ExecStatus *string
	Stdout     *string
	Stderr     *string
	ExitCode   *int
	DurationMS *int64

	// Terminal error; all NULL on clean success.
	ErrorCode    *string
	ErrorMessage *string
	RetryAfterMS *int64

	CreatedAt time.Time `gorm:"not null;index;index:idx_task_results_identity_created,priority:2"`
}

func (TaskResultModel) TableName() string { return "task_results" }

// ToResultModel converts a domain result to its row representation.
// Exported so the SQLite backend can reuse the same models.
func ToResultModel(res *domain.TaskResult) *TaskResultModel {
	m := &TaskResultModel{
		ID:        res.TaskID,
		Identity:  res.Identity,
		Category:  string(res.Category),
		Narrative: res.Narrative,
		CreatedAt: res.CreatedAt,
	}
	if exec := res.Execution; exec != nil {
		status := string(exec.Status)
		stdout, stderr := exec.Stdout, exec.Stderr
		exitCode := exec.ExitCode
		durationMS := exec.Duration.Milliseconds()
		m.ExecStatus = &status
		m.Stdout = &stdout
		m.Stderr = &stderr
		m.ExitCode = &exitCode
		m.DurationMS = &durationMS
	}
	if e := res.Error; e != nil {
		code := string(e.Code)
		msg := e.Message
		retryMS := e.RetryAfter.Milliseconds()
		m.ErrorCode = &code
		m.ErrorMessage = &msg
		m.RetryAfterMS = &retryMS
	}
	return m
}

// ToResultDomain converts a stored row back to a domain result.
func ToResultDomain(m *TaskResultModel) *domain.TaskResult {
	res := &domain.TaskResult{
		TaskID:    m.ID,
		Identity:  m.Identity,
		Category:  domain.Category(m.Category),
		Narrative: m.Narrative,
		CreatedAt: m.CreatedAt,
	}
	if m.ExecStatus != nil {
		exec := &domain.ExecutionOutcome{Status: domain.ExecStatus(*m.ExecStatus)}
		if m.Stdout != nil {
			exec.Stdout = *m.Stdout
		}
		if m.Stderr != nil {
			exec.Stderr = *m.Stderr
		}
		if m.ExitCode != nil {
			exec.ExitCode = *m.ExitCode
		}
		if m.DurationMS != nil {
			exec.Duration = time.Duration(*m.DurationMS) * time.Millisecond
		}
		res.Execution = exec
	}
	if m.ErrorCode != nil {
		info := &domain.ErrorInfo{Code: domain.ErrorCode(*m.ErrorCode)}
		if m.ErrorMessage != nil {
			info.Message = *m.ErrorMessage
		}
		if m.RetryAfterMS != nil {
			info.RetryAfter = time.Duration(*m.RetryAfterMS) * time.Millisecond
		}
		res.Error = info
	}
	return res
}

// Package engine coordinates the task pipeline: admission, classification,
// dispatch, and persistence of the final result.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextvibe/nextvibe/internal/classify"
	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/observability"
	"github.com/nextvibe/nextvibe/internal/ratelimit"
	"github.com/nextvibe/nextvibe/internal/router"
	"github.com/nextvibe/nextvibe/internal/storage"
)

const defaultTaskTimeout = 3 * time.Minute

// Config bounds a single request's journey through the pipeline.
type Config struct {
	// TaskTimeout caps the whole classify-generate-execute pipeline for one
	// task. Default: 3m.
	TaskTimeout time.Duration
	// MaxInputBytes truncates oversized raw input before classification.
	// 0 = no truncation.
	MaxInputBytes int
}

func (c Config) taskTimeout() time.Duration {
	if c.TaskTimeout > 0 {
		return c.TaskTimeout
	}
	return defaultTaskTimeout
}

// Engine is the entry point every gateway calls. It owns no transport:
// gateways translate their protocol into HandleRequest calls and format the
// returned TaskResult for their medium.
type Engine struct {
	limiter    *ratelimit.Limiter
	classifier *classify.Pipeline
	dispatcher *router.Dispatcher
	store      storage.Store // nil = history disabled
	metrics    *observability.MetricsCollector
	anomaly    *observability.AnomalyDetector
	logger     *slog.Logger
	config     Config
}

// NewEngine assembles the pipeline. Store, metrics, and anomaly detector
// are optional (nil disables them); everything else is required.
func NewEngine(
	limiter *ratelimit.Limiter,
	classifier *classify.Pipeline,
	dispatcher *router.Dispatcher,
	store storage.Store,
	obs *observability.Observability,
	logger *slog.Logger,
	config Config,
) *Engine {
	e := &Engine{
		limiter:    limiter,
		classifier: classifier,
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		config:     config,
	}
	if obs != nil {
		e.metrics = obs.Metrics
		e.anomaly = obs.Anomaly
	}
	if e.metrics != nil {
		classifier.OnClassified = func(category domain.Category, strategy string) {
			e.metrics.ClassificationsTotal.WithLabelValues(string(category), strategy).Inc()
		}
	}
	return e
}

// HandleRequest runs one user request through the full pipeline and returns
// its terminal result. Rejections (rate limit, busy) and failures come back
// as results carrying ErrorInfo, not as errors — the only error returned is
// the caller's own context cancellation, in which case the result is nil.
func (e *Engine) HandleRequest(ctx context.Context, identity, rawInput string, attachments []domain.Attachment) (*domain.TaskResult, error) {
	if e.config.MaxInputBytes > 0 && len(rawInput) > e.config.MaxInputBytes {
		e.logger.WarnContext(ctx, "truncating oversized input",
			slog.String("identity", identity),
			slog.Int("bytes", len(rawInput)),
			slog.Int("limit", e.config.MaxInputBytes),
		)
		rawInput = truncateToRuneBoundary(rawInput, e.config.MaxInputBytes)
	}

	if decision := e.limiter.Admit(identity); !decision.Allowed {
		if e.metrics != nil {
			e.metrics.AdmissionDenials.Inc()
		}
		e.anomaly.RecordDenial(identity)
		e.logger.InfoContext(ctx, "admission denied",
			slog.String("identity", identity),
			slog.Duration("retry_after", decision.RetryAfter),
		)
		return e.finish(ctx, rejection(nil, identity, deniedInfo(decision.RetryAfter)), time.Now()), nil
	}

	start := time.Now()
	task := e.classifier.Classify(ctx, identity, rawInput, attachments)

	taskCtx, cancel := context.WithTimeout(ctx, e.config.taskTimeout())
	defer cancel()

	if e.metrics != nil {
		e.metrics.InFlightTasks.Inc()
	}
	result, err := e.dispatcher.Dispatch(taskCtx, task)
	if e.metrics != nil {
		e.metrics.InFlightTasks.Dec()
	}

	switch {
	case err == nil:
	case errors.Is(err, router.ErrBusy):
		if e.metrics != nil {
			e.metrics.BusyRejections.Inc()
		}
		result = rejection(task, identity, busyInfo())
	case ctx.Err() != nil:
		// The caller gave up; there is nobody left to deliver a result to.
		return nil, ctx.Err()
	case taskCtx.Err() != nil:
		// The engine's own deadline fired mid-pipeline.
		result = rejection(task, identity, &domain.ErrorInfo{
			Code:    domain.ErrCodeTimeout,
			Message: "the task took too long and was stopped",
		})
	default:
		// Handler panic or wiring fault. Diagnostics go to the log; the
		// user sees a sanitized message.
		e.logger.ErrorContext(ctx, "task pipeline failed",
			slog.String("task_id", task.ID.String()),
			slog.String("category", string(task.Category)),
			slog.String("error", err.Error()),
		)
		result = rejection(task, identity, internalInfo())
	}

	return e.finish(ctx, result, start), nil
}

// truncateToRuneBoundary cuts s to at most max bytes without splitting a
// UTF-8 sequence; the classifier and the collaborator prompt both expect
// valid UTF-8.
func truncateToRuneBoundary(s string, max int) string {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// History returns recent results for an identity, newest first.
func (e *Engine) History(ctx context.Context, identity string, limit int) ([]*domain.TaskResult, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.History(ctx, identity, limit)
}

// Result looks up a single result by task ID.
func (e *Engine) Result(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	if e.store == nil {
		return nil, storage.ErrNotFound
	}
	id, err := uuid.Parse(taskID)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return e.store.Result(ctx, id)
}

// finish records metrics and persists the result. Persistence failures are
// logged, never surfaced — the user already has their answer.
func (e *Engine) finish(ctx context.Context, result *domain.TaskResult, start time.Time) *domain.TaskResult {
	if e.metrics != nil {
		outcome := "success"
		if result.Error != nil {
			outcome = string(result.Error.Code)
		}
		e.metrics.TasksTotal.WithLabelValues(string(result.Category), outcome).Inc()
		e.metrics.TaskDuration.WithLabelValues(string(result.Category)).Observe(time.Since(start).Seconds())
	}
	if e.anomaly != nil {
		if result.Error != nil && result.Error.Code != domain.ErrCodeAdmissionDenied && result.Error.Code != domain.ErrCodeBusy {
			e.anomaly.RecordError("task")
		} else if result.Error == nil {
			e.anomaly.RecordSuccess("task")
		}
	}

	if e.store != nil {
		// Persist with a fresh deadline: the task context may already be done.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.store.SaveResult(saveCtx, result); err != nil {
			e.logger.ErrorContext(ctx, "saving task result failed",
				slog.String("task_id", result.TaskID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return result
}

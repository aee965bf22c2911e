// Package classify turns raw user input into a typed, categorized Task.
//
// Classification is a sequence of strategies tried in priority order: the
// deterministic rule stage first, the LLM collaborator last. Each strategy
// either returns a confident result or passes. Classification never fails —
// the worst case is a General task with confidence 0, so user-facing
// failures are always "we couldn't determine intent", never a crash.
package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// Result is one strategy's opinion about a request.
type Result struct {
	Category   domain.Category
	Confidence float64 // In [0,1].
	Strategy   string  // Which strategy produced this result.
}

// Strategy is a single classification stage.
// A nil Result with a nil error means "no opinion" — the pipeline moves on.
type Strategy interface {
	Name() string
	Classify(ctx context.Context, rawInput string, attachments []domain.Attachment) (*Result, error)
}

// Pipeline runs the strategy sequence and assembles the final Task.
type Pipeline struct {
	strategies []Strategy
	logger     *slog.Logger

	// OnClassified, when set, is invoked once per classification with the
	// winning category and the strategy that produced it ("default" when
	// every strategy passed). Used for metrics.
	OnClassified func(category domain.Category, strategy string)
}

// NewPipeline creates a classification pipeline. Strategies are tried in the
// order given.
func NewPipeline(logger *slog.Logger, strategies ...Strategy) *Pipeline {
	return &Pipeline{strategies: strategies, logger: logger}
}

// Classify parses the request into an immutable Task. Fenced code blocks in
// the raw input are lifted into Code attachments so downstream stages see a
// uniform attachment list regardless of how the code arrived.
func (p *Pipeline) Classify(ctx context.Context, identity, rawInput string, attachments []domain.Attachment) *domain.Task {
	merged := append(extractCodeBlocks(rawInput), attachments...)

	task := &domain.Task{
		ID:          domain.NewID(),
		Identity:    identity,
		Category:    domain.CategoryGeneral,
		RawInput:    rawInput,
		Attachments: merged,
		Language:    detectLanguage(rawInput, merged),
		CreatedAt:   time.Now().UTC(),
	}

	for _, s := range p.strategies {
		res, err := s.Classify(ctx, rawInput, merged)
		if err != nil {
			// A failed strategy is a pass, not a pipeline failure.
			p.logger.WarnContext(ctx, "classification strategy failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if res == nil {
			continue
		}
		task.Category = res.Category
		task.Confidence = res.Confidence
		if p.OnClassified != nil {
			p.OnClassified(res.Category, res.Strategy)
		}
		p.logger.DebugContext(ctx, "task classified",
			slog.String("task_id", task.ID.String()),
			slog.String("category", string(res.Category)),
			slog.Float64("confidence", res.Confidence),
			slog.String("strategy", res.Strategy),
		)
		return task
	}

	// Every strategy passed or failed: General with zero confidence.
	if p.OnClassified != nil {
		p.OnClassified(domain.CategoryGeneral, "default")
	}
	p.logger.InfoContext(ctx, "no strategy had an opinion, defaulting to general",
		slog.String("task_id", task.ID.String()),
	)
	return task
}

package classify

import (
	"context"
	"fmt"

	"github.com/nextvibe/nextvibe/internal/domain"
)

const defaultUncertaintyPenalty = 0.2

// CategoryLabeler is the external classification collaborator: given the raw
// request it returns a single category label. Implemented by the LLM layer.
type CategoryLabeler interface {
	LabelCategory(ctx context.Context, rawInput string) (domain.Category, error)
}

// LLMClassifier is the last strategy in the sequence. It consults the
// collaborator and treats the answer as ground truth with a confidence of
// 1.0 minus a fixed uncertainty penalty.
type LLMClassifier struct {
	labeler CategoryLabeler
	penalty float64
}

// NewLLMClassifier creates the collaborator-backed strategy.
// penalty <= 0 selects the default.
func NewLLMClassifier(labeler CategoryLabeler, penalty float64) *LLMClassifier {
	if penalty <= 0 {
		penalty = defaultUncertaintyPenalty
	}
	return &LLMClassifier{labeler: labeler, penalty: penalty}
}

func (c *LLMClassifier) Name() string { return "llm" }

// Classify asks the collaborator for a label. Errors propagate to the
// pipeline, which logs them and falls through to General.
func (c *LLMClassifier) Classify(ctx context.Context, rawInput string, _ []domain.Attachment) (*Result, error) {
	category, err := c.labeler.LabelCategory(ctx, rawInput)
	if err != nil {
		return nil, fmt.Errorf("labeling request: %w", err)
	}
	return &Result{
		Category:   category,
		Confidence: 1.0 - c.penalty,
		Strategy:   c.Name(),
	}, nil
}

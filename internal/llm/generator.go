package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nextvibe/nextvibe/internal/domain"
)

const (
	labelMaxTokens    = 16
	generateMaxTokens = 4096

	labelSystemPrompt = `You classify coding-assistant requests. Reply with exactly one word from this list and nothing else: bug_fix, feature, analysis, debug, general.`

	generateSystemPrompt = `You are a coding assistant. Given a user request, reply with a short explanation followed by a single fenced code block containing a complete, self-contained program that solves the request. The program must read nothing from the network and write its result to standard output. If the request needs no code, reply with the explanation only.`
)

// Artifact is the collaborator's answer to a task: a human-readable
// narrative and, when the task calls for it, a runnable program.
type Artifact struct {
	Narrative string
	Source    string
	Language  string // Fence tag of the code block; empty when Source is empty.
}

// HasCode reports whether the collaborator produced something to execute.
func (a *Artifact) HasCode() bool { return strings.TrimSpace(a.Source) != "" }

// Generator turns tasks into artifacts via an LLM provider. It also serves
// as the classification fallback labeler.
type Generator struct {
	provider Provider
	logger   *slog.Logger
}

// NewGenerator creates a generator backed by the given provider. Wrap the
// provider with NewRetryProvider before passing it in to get retry behavior.
func NewGenerator(provider Provider, logger *slog.Logger) *Generator {
	return &Generator{provider: provider, logger: logger}
}

// LabelCategory asks the model for a one-word task category.
func (g *Generator) LabelCategory(ctx context.Context, rawInput string) (domain.Category, error) {
	resp, err := g.provider.Complete(ctx, UserTurn(labelSystemPrompt, rawInput, labelMaxTokens))
	if err != nil {
		return "", fmt.Errorf("labeling category: %w", err)
	}
	category, ok := parseCategory(resp.Content)
	if !ok {
		return "", fmt.Errorf("unrecognized category label %q", strings.TrimSpace(resp.Content))
	}
	return category, nil
}

// Generate produces the narrative and candidate program for a task.
func (g *Generator) Generate(ctx context.Context, task *domain.Task) (*Artifact, error) {
	resp, err := g.provider.Complete(ctx, &Request{
		SystemPrompt: generateSystemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: buildTaskPrompt(task)}},
		MaxTokens:    generateMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating solution: %w", err)
	}

	artifact := splitArtifact(resp.Content)
	if artifact.Language == "" {
		artifact.Language = task.Language
	}

	g.logger.DebugContext(ctx, "solution generated",
		slog.String("task_id", task.ID.String()),
		slog.String("category", string(task.Category)),
		slog.Bool("has_code", artifact.HasCode()),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return artifact, nil
}

// buildTaskPrompt assembles the user turn: category hint, the raw request,
// then every attachment under a labeled divider.
func buildTaskPrompt(task *domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task category: %s\n", task.Category)
	if task.Language != "" {
		fmt.Fprintf(&b, "Preferred language: %s\n", task.Language)
	}
	b.WriteString("\n")
	b.WriteString(task.RawInput)
	for _, att := range task.Attachments {
		b.WriteString("\n\n--- attachment (" + string(att.Kind) + ") ---\n")
		if att.Language != "" {
			b.WriteString("```" + att.Language + "\n" + att.Content + "\n```")
		} else {
			b.WriteString(att.Content)
		}
	}
	return b.String()
}

var artifactFencePattern = regexp.MustCompile("(?s)```([a-zA-Z0-9+#_-]*)\n(.*?)```")

// splitArtifact separates the reply into prose and the first fenced code
// block. Further blocks stay in the narrative untouched; the first one is
// what gets executed.
func splitArtifact(content string) *Artifact {
	m := artifactFencePattern.FindStringSubmatchIndex(content)
	if m == nil {
		return &Artifact{Narrative: strings.TrimSpace(content)}
	}
	narrative := content[:m[0]] + content[m[1]:]
	return &Artifact{
		Narrative: strings.TrimSpace(narrative),
		Language:  strings.ToLower(content[m[2]:m[3]]),
		Source:    strings.TrimRight(content[m[4]:m[5]], "\n"),
	}
}

// parseCategory normalizes a model label to a known category.
func parseCategory(label string) (domain.Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.Trim(normalized, ".\"'`")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "bug_fix", "bugfix":
		return domain.CategoryBugFix, true
	case "feature":
		return domain.CategoryFeature, true
	case "analysis":
		return domain.CategoryAnalysis, true
	case "debug", "debugging":
		return domain.CategoryDebug, true
	case "general":
		return domain.CategoryGeneral, true
	}
	return "", false
}

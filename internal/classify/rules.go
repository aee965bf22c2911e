package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/nextvibe/nextvibe/internal/domain"
)

// Default scoring weights. These are policy, not contract — override via
// RuleConfig when tuning.
const (
	defaultKeywordWeight    = 0.3
	defaultStackTraceWeight = 0.4
	defaultCodeBlockWeight  = 0.15
	defaultMinConfidence    = 0.55

	// At most this many distinct keyword hits count toward the score, so a
	// keyword-stuffed message cannot saturate every category.
	maxKeywordHits = 2
)

// stackTracePattern matches the structural fingerprints of an error report:
// CamelCase exception names, "Error:"/"Exception:" prefixes, Python
// tracebacks, and "... line N" frames.
var stackTracePattern = regexp.MustCompile(
	`(?i)([A-Z][A-Za-z]+(Error|Exception)\b|\b(error|exception|panic):|traceback \(most recent call last\)|\bat .+:\d+|\bline \d+)`,
)

// defaultKeywords maps each category to the exact keywords that argue for it.
// Matching is word-bounded and case-insensitive.
var defaultKeywords = map[domain.Category][]string{
	domain.CategoryBugFix:   {"fix", "bug", "error", "broken", "crash", "exception", "fail", "fails", "failing"},
	domain.CategoryFeature:  {"add", "implement", "create", "build", "feature", "develop", "enhance", "support"},
	domain.CategoryDebug:    {"debug", "trace", "diagnose", "troubleshoot", "stuck"},
	domain.CategoryAnalysis: {"review", "analyze", "analyse", "explain", "check", "examine", "optimize", "refactor"},
}

// RuleConfig holds the scoring scheme for the rule stage.
type RuleConfig struct {
	KeywordWeight    float64                      // Per distinct keyword hit. 0 = default.
	StackTraceWeight float64                      // Stack-trace signal (BugFix/Debug only). 0 = default.
	CodeBlockWeight  float64                      // Attached-code signal. 0 = default.
	MinConfidence    float64                      // Below this the stage has no opinion. 0 = default.
	Keywords         map[domain.Category][]string // nil = built-in keyword table.
}

// RuleClassifier is the deterministic first stage: structural signals and
// keyword matches produce a category with a summed, clamped confidence.
// Same input always yields the same result — no hidden randomness.
type RuleClassifier struct {
	cfg      RuleConfig
	patterns map[domain.Category]*regexp.Regexp
}

// NewRuleClassifier compiles the keyword tables into matchers.
func NewRuleClassifier(cfg RuleConfig) *RuleClassifier {
	if cfg.KeywordWeight <= 0 {
		cfg.KeywordWeight = defaultKeywordWeight
	}
	if cfg.StackTraceWeight <= 0 {
		cfg.StackTraceWeight = defaultStackTraceWeight
	}
	if cfg.CodeBlockWeight <= 0 {
		cfg.CodeBlockWeight = defaultCodeBlockWeight
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	keywords := cfg.Keywords
	if keywords == nil {
		keywords = defaultKeywords
	}

	patterns := make(map[domain.Category]*regexp.Regexp, len(keywords))
	for cat, words := range keywords {
		escaped := make([]string, len(words))
		for i, w := range words {
			escaped[i] = regexp.QuoteMeta(w)
		}
		patterns[cat] = regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
	}

	return &RuleClassifier{cfg: cfg, patterns: patterns}
}

func (r *RuleClassifier) Name() string { return "rules" }

// Classify scores every category and returns the winner if it clears the
// confidence floor. Ties are broken by the fixed category priority order.
func (r *RuleClassifier) Classify(_ context.Context, rawInput string, attachments []domain.Attachment) (*Result, error) {
	hasStackTrace := stackTracePattern.MatchString(rawInput)
	hasCode := false
	for _, a := range attachments {
		if a.Kind == domain.AttachmentCode {
			hasCode = true
			break
		}
	}

	scores := make(map[domain.Category]float64, len(r.patterns))
	for cat, pattern := range r.patterns {
		hits := distinctMatches(pattern, rawInput)
		if hits > maxKeywordHits {
			hits = maxKeywordHits
		}
		score := float64(hits) * r.cfg.KeywordWeight

		// Structural signals contribute independently of keywords.
		if hasStackTrace && (cat == domain.CategoryBugFix || cat == domain.CategoryDebug) {
			score += r.cfg.StackTraceWeight
		}
		if hasCode && score > 0 {
			score += r.cfg.CodeBlockWeight
		}

		if score > 1 {
			score = 1
		}
		scores[cat] = score
	}

	// Walk the priority order so equal scores resolve deterministically:
	// BugFix > Feature > Debug > Analysis > General.
	var best domain.Category
	bestScore := 0.0
	for _, cat := range domain.CategoryPriority {
		if s, ok := scores[cat]; ok && s > bestScore {
			best = cat
			bestScore = s
		}
	}

	if bestScore < r.cfg.MinConfidence {
		return nil, nil // No opinion — hand off to the next strategy.
	}
	return &Result{Category: best, Confidence: bestScore, Strategy: r.Name()}, nil
}

// MinConfidence exposes the configured floor for callers that report it.
func (r *RuleClassifier) MinConfidence() float64 { return r.cfg.MinConfidence }

// distinctMatches counts unique keyword hits, so repeating one keyword does
// not inflate the score.
func distinctMatches(pattern *regexp.Regexp, s string) int {
	seen := map[string]bool{}
	for _, m := range pattern.FindAllString(s, -1) {
		seen[strings.ToLower(m)] = true
	}
	return len(seen)
}

// --- Input structure extraction ---

var fencedBlockPattern = regexp.MustCompile("(?s)```([a-zA-Z0-9+#_-]*)\n?(.*?)```")

// extractCodeBlocks lifts ```lang fenced blocks out of the message into
// ordered Code attachments.
func extractCodeBlocks(rawInput string) []domain.Attachment {
	matches := fencedBlockPattern.FindAllStringSubmatch(rawInput, -1)
	if len(matches) == 0 {
		return nil
	}
	attachments := make([]domain.Attachment, 0, len(matches))
	for _, m := range matches {
		code := strings.TrimSpace(m[2])
		if code == "" {
			continue
		}
		attachments = append(attachments, domain.Attachment{
			Kind:     domain.AttachmentCode,
			Language: normalizeLanguage(m[1]),
			Content:  code,
		})
	}
	return attachments
}

// languageKeywords maps canonical language names to the phrases that imply
// them in prose. Checked in a fixed order for determinism.
var languageKeywords = []struct {
	language string
	words    []string
}{
	{"python", []string{"python", "flask", "django", "pandas", "numpy"}},
	{"javascript", []string{"javascript", "node", "npm", "react", "vue"}},
	{"typescript", []string{"typescript", "tsx"}},
	{"go", []string{"golang", "goroutine"}},
	{"rust", []string{"rust", "cargo"}},
	{"java", []string{"java ", "spring", "maven"}},
	{"ruby", []string{"ruby", "rails"}},
	{"bash", []string{"bash", "shell script"}},
}

// detectLanguage resolves the programming language: an explicit fence tag on
// a code attachment wins, then prose keywords.
func detectLanguage(rawInput string, attachments []domain.Attachment) string {
	for _, a := range attachments {
		if a.Kind == domain.AttachmentCode && a.Language != "" {
			return a.Language
		}
	}
	lower := strings.ToLower(rawInput)
	for _, entry := range languageKeywords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				return entry.language
			}
		}
	}
	return ""
}

// normalizeLanguage maps fence-tag aliases to canonical language names.
func normalizeLanguage(tag string) string {
	switch strings.ToLower(tag) {
	case "":
		return ""
	case "py", "python3":
		return "python"
	case "js", "node":
		return "javascript"
	case "ts":
		return "typescript"
	case "golang":
		return "go"
	case "rb":
		return "ruby"
	case "sh", "shell":
		return "bash"
	case "c++", "cxx":
		return "cpp"
	default:
		return strings.ToLower(tag)
	}
}

// Package engine runs prompts through the rule set held by a rules.Store.
// Optimize rewrites text and reports what changed; ScanDLP only reports
// which security patterns matched.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

// RuleSource supplies the rules to evaluate in application order.
// *rules.Store satisfies it.
type RuleSource interface {
	Rules() []rules.Rule
}

// Options controls a single Optimize call. The zero value is the default:
// compression rules are skipped and explanations are omitted.
type Options struct {
	// EnableCompression allows rules in the compression category to run.
	// Without it they are skipped even when enabled.
	EnableCompression bool

	// ShowExplanations copies each applied rule's explanation and example
	// into the result.
	ShowExplanations bool
}

// AppliedRule is the summary of a rule that changed the text.
type AppliedRule struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Category    rules.Category `json:"category"`
	Description string         `json:"description,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Example     *rules.Example `json:"example,omitempty"`
}

// Stats holds the size comparison between the original and optimized text.
// Lengths are counted in runes.
type Stats struct {
	OriginalLength  int `json:"originalLength"`
	OptimizedLength int `json:"optimizedLength"`
	CharsSaved      int `json:"charsSaved"`
	OriginalTokens  int `json:"originalTokens"`
	OptimizedTokens int `json:"optimizedTokens"`
	TokensSaved     int `json:"tokensSaved"`
	PercentSaved    int `json:"percentSaved"`
}

// OptimizationResult is the outcome of Optimize.
type OptimizationResult struct {
	Original     string        `json:"original"`
	Optimized    string        `json:"optimized"`
	AppliedRules []AppliedRule `json:"appliedRules"`
	Stats        Stats         `json:"stats"`
	HasChanges   bool          `json:"hasChanges"`
}

// Engine evaluates prompts against a RuleSource.
type Engine struct {
	source RuleSource
	logger *slog.Logger
}

// New creates an Engine reading rules from source.
func New(source RuleSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{source: source, logger: logger}
}

// Optimize applies every enabled rule to text in priority order. Each rule
// sees the output of the previous one. A rule that fails (regex timeout or
// a panicking transform) is skipped and its partial output discarded.
func (e *Engine) Optimize(text string, opts Options) *OptimizationResult {
	current := text
	applied := []AppliedRule{}

	for _, rule := range e.source.Rules() {
		if !rule.Enabled {
			continue
		}
		if rule.Category == rules.CategoryCompression && !opts.EnableCompression {
			continue
		}

		next, err := applyRule(&rule, current)
		if err != nil {
			e.logger.Debug("rule skipped", "rule", rule.ID, "error", err)
			continue
		}
		if next == current {
			continue
		}

		current = next
		applied = append(applied, summarize(&rule, opts.ShowExplanations))
	}

	optimized := strings.TrimSpace(current)

	return &OptimizationResult{
		Original:     text,
		Optimized:    optimized,
		AppliedRules: applied,
		Stats:        computeStats(text, optimized),
		HasChanges:   optimized != strings.TrimSpace(text),
	}
}

// applyRule runs one rule and turns a panic into an error so that a bad
// transform cannot abort the whole pass.
func applyRule(rule *rules.Rule, text string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = text, fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()
	return rule.Apply(text)
}

func summarize(rule *rules.Rule, explain bool) AppliedRule {
	a := AppliedRule{
		ID:          rule.ID,
		Name:        rule.Name,
		Category:    rule.Category,
		Description: rule.Description,
	}
	if explain {
		a.Explanation = rule.Explanation
		a.Example = rule.Example
	}
	return a
}

func computeStats(original, optimized string) Stats {
	s := Stats{
		OriginalLength:  utf8.RuneCountInString(original),
		OptimizedLength: utf8.RuneCountInString(optimized),
		OriginalTokens:  EstimateTokens(original),
		OptimizedTokens: EstimateTokens(optimized),
	}
	s.CharsSaved = s.OriginalLength - s.OptimizedLength
	s.TokensSaved = s.OriginalTokens - s.OptimizedTokens
	if s.OriginalTokens > 0 {
		s.PercentSaved = roundHalfUp(float64(s.TokensSaved) / float64(s.OriginalTokens) * 100)
	}
	return s
}

// roundHalfUp rounds .5 towards positive infinity, so -2.5 becomes -2.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/go-playground/validator/v10"
)

// DefaultFlags are applied to patterns that do not declare flags.
const DefaultFlags = "gi"

// DefaultMatchTimeout bounds a single regex evaluation so a pathological
// pattern cannot stall the engine.
const DefaultMatchTimeout = 250 * time.Millisecond

// CustomRulePriority places custom rules after the content rules and
// before formatting (90-95) and compression (100+).
const CustomRulePriority = 80

// Pattern is a compiled find/replace pair.
type Pattern struct {
	Find    string `json:"find"`
	Flags   string `json:"flags"`
	Replace string `json:"replace"`

	re     *regexp2.Regexp
	global bool
}

// Global reports whether the pattern replaces and detects every match or
// only the first one.
func (p *Pattern) Global() bool {
	return p.global
}

// ReplaceAll substitutes matches of the pattern in text. Each call starts
// matching from the beginning of the input.
func (p *Pattern) ReplaceAll(text string) (string, error) {
	count := -1
	if !p.global {
		count = 1
	}
	out, err := p.re.Replace(text, p.Replace, -1, count)
	if err != nil {
		return text, fmt.Errorf("%w: %q: %v", ErrMatchTimeout, p.Find, err)
	}
	return out, nil
}

// FindAll returns the non-overlapping matches of the pattern in text. A
// non-global pattern returns at most one match.
func (p *Pattern) FindAll(text string) ([]string, error) {
	var matches []string

	m, err := p.re.FindStringMatch(text)
	for m != nil && err == nil {
		matches = append(matches, m.String())
		if !p.global {
			break
		}
		m, err = p.re.FindNextMatch(m)
	}
	if err != nil {
		return matches, fmt.Errorf("%w: %q: %v", ErrMatchTimeout, p.Find, err)
	}
	return matches, nil
}

// Compiler turns raw rule specifications into executable rules.
// It is safe for concurrent use.
type Compiler struct {
	matchTimeout time.Duration
	validate     *validator.Validate
}

// NewCompiler creates a Compiler. A non-positive timeout selects
// DefaultMatchTimeout.
func NewCompiler(matchTimeout time.Duration) *Compiler {
	if matchTimeout <= 0 {
		matchTimeout = DefaultMatchTimeout
	}
	return &Compiler{
		matchTimeout: matchTimeout,
		validate:     validator.New(),
	}
}

// Compile builds a Rule from raw. Structural problems wrap ErrInvalidRule
// and malformed regexes return *InvalidPatternError. An unknown transform
// name yields an inert rule rather than an error.
func (c *Compiler) Compile(raw RawRule) (*Rule, error) {
	if err := c.validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, ruleLabel(raw.ID), err)
	}

	hasPatterns := len(raw.Patterns) > 0
	hasTransform := raw.Transform != ""
	if hasPatterns == hasTransform {
		return nil, fmt.Errorf("%w: %s: exactly one of patterns or transform is required", ErrInvalidRule, raw.ID)
	}

	rule := &Rule{
		ID:          raw.ID,
		Name:        raw.Name,
		Description: raw.Description,
		Explanation: raw.Explanation,
		Example:     raw.Example,
		Category:    raw.Category,
		Priority:    raw.Priority,
		Enabled:     raw.Enabled == nil || *raw.Enabled,
		Transform:   raw.Transform,
	}
	if rule.Name == "" {
		rule.Name = raw.ID
	}

	if hasTransform {
		rule.transform, _ = LookupTransform(raw.Transform)
		return rule, nil
	}

	rule.Patterns = make([]*Pattern, 0, len(raw.Patterns))
	for _, rp := range raw.Patterns {
		p, err := c.CompilePattern(raw.ID, rp)
		if err != nil {
			return nil, err
		}
		rule.Patterns = append(rule.Patterns, p)
	}

	return rule, nil
}

// CompileCustom builds a user rule from spec. The category is forced to
// custom and the priority defaults to CustomRulePriority.
func (c *Compiler) CompileCustom(spec CustomRuleSpec) (*Rule, error) {
	if err := c.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: custom rule %q: %v", ErrInvalidRule, spec.Name, err)
	}

	p, err := c.CompilePattern(spec.ID, RawPattern{
		Find:    spec.PatternString,
		Flags:   spec.PatternFlags,
		Replace: spec.ReplaceString,
	})
	if err != nil {
		return nil, err
	}

	rule := &Rule{
		ID:          spec.ID,
		Name:        spec.Name,
		Description: spec.Description,
		Explanation: spec.Explanation,
		Category:    CategoryCustom,
		Priority:    CustomRulePriority,
		Enabled:     spec.Enabled == nil || *spec.Enabled,
		Patterns:    []*Pattern{p},
		IsCustom:    true,
	}
	if spec.Priority != nil {
		rule.Priority = *spec.Priority
	}
	return rule, nil
}

// CompilePattern compiles a single pattern with its flags, defaulting to
// DefaultFlags when none are given.
func (c *Compiler) CompilePattern(ruleID string, rp RawPattern) (*Pattern, error) {
	flags := rp.Flags
	if flags == "" {
		flags = DefaultFlags
	}

	opts, global, err := parseFlags(flags)
	if err != nil {
		return nil, &InvalidPatternError{RuleID: ruleID, Pattern: rp.Find, Err: err}
	}

	re, err := regexp2.Compile(rp.Find, opts)
	if err != nil {
		return nil, &InvalidPatternError{RuleID: ruleID, Pattern: rp.Find, Err: err}
	}
	re.MatchTimeout = c.matchTimeout

	return &Pattern{
		Find:    rp.Find,
		Flags:   flags,
		Replace: rp.Replace,
		re:      re,
		global:  global,
	}, nil
}

// parseFlags maps g/i/m/s/u flag letters onto regexp2 options. Patterns
// always compile in ECMAScript mode: \d, \w and \b are ASCII-only and $
// does not match before a trailing newline. The y flag is accepted for
// document compatibility and has no effect.
func parseFlags(flags string) (regexp2.RegexOptions, bool, error) {
	var opts regexp2.RegexOptions = regexp2.ECMAScript
	global := false

	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'u':
			opts |= regexp2.Unicode
		case 'y':
		default:
			return 0, false, fmt.Errorf("unsupported flag %q in %q", f, flags)
		}
	}

	return opts, global, nil
}

func ruleLabel(id string) string {
	if strings.TrimSpace(id) == "" {
		return "<missing id>"
	}
	return id
}

// Package rules provides the rule model for prompt optimization: raw rule
// documents, the compiler that turns them into executable rules, the fixed
// transform registry, compression presets and the Store that owns the
// working rule set.
package rules

import (
	"errors"
	"fmt"
)

// Category groups rules for bulk enable/disable by presets.
type Category string

const (
	CategoryFluff       Category = "fluff"
	CategoryRedundancy  Category = "redundancy"
	CategoryVerbosity   Category = "verbosity"
	CategoryQualifiers  Category = "qualifiers"
	CategoryStructure   Category = "structure"
	CategoryFormatting  Category = "formatting"
	CategoryCompression Category = "compression"
	CategorySecurity    Category = "security"
	CategoryCustom      Category = "custom"
)

// AllCategories lists every category in display order.
var AllCategories = []Category{
	CategoryFluff,
	CategoryRedundancy,
	CategoryVerbosity,
	CategoryQualifiers,
	CategoryStructure,
	CategoryFormatting,
	CategoryCompression,
	CategorySecurity,
	CategoryCustom,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Example is a before/after illustration of a rule, used for display only.
type Example struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Rule is a compiled, executable rewrite or detection unit.
//
// A rule carries either Patterns or a Transform, never both. Patterns are
// immutable once compiled and may be shared between copies of a Rule.
type Rule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Example     *Example   `json:"example,omitempty"`
	Category    Category   `json:"category"`
	Priority    int        `json:"priority"`
	Enabled     bool       `json:"enabled"`
	Patterns    []*Pattern `json:"patterns,omitempty"`
	Transform   string     `json:"transform,omitempty"`
	IsCustom    bool       `json:"isCustom"`

	transform TransformFunc
}

// Inert reports whether the rule can never change text, which happens when
// its transform name did not resolve to a registered function.
func (r *Rule) Inert() bool {
	return len(r.Patterns) == 0 && r.transform == nil
}

// TransformFunc returns the resolved transform, or nil for pattern rules.
func (r *Rule) TransformFunc() TransformFunc {
	return r.transform
}

// Apply runs the rule against text. Patterns are applied in order, each on
// the output of the previous one. A regex match timeout aborts the rule and
// is returned as an error; the caller decides whether to keep the partial
// result.
func (r *Rule) Apply(text string) (string, error) {
	if r.transform != nil {
		return r.transform(text), nil
	}

	current := text
	for _, p := range r.Patterns {
		next, err := p.ReplaceAll(current)
		if err != nil {
			return text, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		current = next
	}
	return current, nil
}

// RawPattern is the uncompiled form of a pattern as it appears in rule
// documents.
type RawPattern struct {
	Find    string `json:"find" validate:"required"`
	Flags   string `json:"flags,omitempty"`
	Replace string `json:"replace,omitempty"`
}

// RawRule is the plain-data rule specification carried by rule documents.
type RawRule struct {
	ID          string       `json:"id" validate:"required"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
	Example     *Example     `json:"example,omitempty"`
	Category    Category     `json:"category" validate:"required,oneof=fluff redundancy verbosity qualifiers structure formatting compression security custom"`
	Priority    int          `json:"priority"`
	Enabled     *bool        `json:"enabled,omitempty"`
	Patterns    []RawPattern `json:"patterns,omitempty" validate:"dive"`
	Transform   string       `json:"transform,omitempty"`
}

// CategoryInfo describes a category for display.
type CategoryInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Document is a complete rule source: the bundled catalogue, a rule file or
// a remotely fetched rule set.
type Document struct {
	Version    string                    `json:"version,omitempty"`
	Rules      []RawRule                 `json:"rules"`
	Presets    map[string]Preset         `json:"presets,omitempty"`
	Categories map[Category]CategoryInfo `json:"categories,omitempty"`
}

// RuleSetting is a persisted per-rule override.
type RuleSetting struct {
	Enabled bool `json:"enabled"`
}

// CustomRuleSpec describes a user-authored single-pattern rule.
type CustomRuleSpec struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name" validate:"required"`
	Description   string `json:"description,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
	PatternString string `json:"patternString" validate:"required"`
	PatternFlags  string `json:"patternFlags,omitempty"`
	ReplaceString string `json:"replaceString"`
	Priority      *int   `json:"priority,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"`
}

// Settings is the persisted user state of a Store.
type Settings struct {
	CompressionLevel string                 `json:"compressionLevel"`
	RuleSettings     map[string]RuleSetting `json:"ruleSettings"`
	CustomRules      []CustomRuleSpec       `json:"customRules"`
}

// ConfigVersion is the only export format version Import accepts.
const ConfigVersion = "1.0"

// ExportedConfig is the portable form of Settings produced by Export.
type ExportedConfig struct {
	Version string `json:"version"`
	Settings
}

// Errors returned by the rules package.
var (
	// ErrInvalidPattern matches every *InvalidPatternError.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidRule indicates a structurally malformed rule specification.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrIncompatibleConfigVersion is returned by Import for unknown versions.
	ErrIncompatibleConfigVersion = errors.New("incompatible config version")

	// ErrUnknownLevel is returned when a compression level has no preset.
	ErrUnknownLevel = errors.New("unknown compression level")

	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrMatchTimeout indicates a pattern exceeded its match timeout.
	ErrMatchTimeout = errors.New("regex match timeout")
)

// InvalidPatternError reports a pattern that failed to compile.
type InvalidPatternError struct {
	RuleID  string
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("rule %s: invalid pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrInvalidPattern) match any InvalidPatternError.
func (e *InvalidPatternError) Is(target error) bool {
	return target == ErrInvalidPattern
}

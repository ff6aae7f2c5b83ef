package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed default_rules.json
var defaultRulesJSON []byte

// DefaultRulesJSON returns the raw bundled rule document.
func DefaultRulesJSON() []byte {
	out := make([]byte, len(defaultRulesJSON))
	copy(out, defaultRulesJSON)
	return out
}

// DefaultDocument decodes the bundled rule catalogue. Each call returns an
// independent copy.
func DefaultDocument() (*Document, error) {
	var doc Document
	if err := json.Unmarshal(defaultRulesJSON, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode bundled rules: %w", err)
	}
	return &doc, nil
}

// FallbackRules is the minimal formatting-only rule set used when no base
// rule could be loaded.
func FallbackRules() []RawRule {
	return []RawRule{
		{
			ID:          "cleanup-whitespace",
			Name:        "Clean Whitespace",
			Description: "Normalizes spaces",
			Category:    CategoryFormatting,
			Priority:    90,
			Patterns: []RawPattern{
				{Find: `\s{2,}`, Flags: "g", Replace: " "},
				{Find: `^\s+`, Flags: "g"},
				{Find: `\s+$`, Flags: "g"},
			},
		},
	}
}

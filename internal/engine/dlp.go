package engine

import (
	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

// PreviewLength is the number of runes kept from each match in a Finding.
const PreviewLength = 20

// Finding reports one security pattern that matched.
type Finding struct {
	RuleID      string   `json:"ruleId"`
	RuleName    string   `json:"ruleName"`
	Description string   `json:"description,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	MatchCount  int      `json:"matchCount"`
	Matches     []string `json:"matches"`
}

// Findings is the result of a DLP scan.
type Findings []Finding

// Total returns the number of matches across all findings.
func (f Findings) Total() int {
	n := 0
	for _, finding := range f {
		n += finding.MatchCount
	}
	return n
}

// RuleIDs returns the distinct rule ids in scan order.
func (f Findings) RuleIDs() []string {
	var ids []string
	seen := make(map[string]struct{}, len(f))
	for _, finding := range f {
		if _, ok := seen[finding.RuleID]; ok {
			continue
		}
		seen[finding.RuleID] = struct{}{}
		ids = append(ids, finding.RuleID)
	}
	return ids
}

// ScanDLP reports every security pattern that matches text. Security rules
// are scanned whether or not they are enabled, and text is never modified.
// A pattern that times out is logged and treated as not matching.
func (e *Engine) ScanDLP(text string) Findings {
	findings := Findings{}

	for _, rule := range e.source.Rules() {
		if rule.Category != rules.CategorySecurity {
			continue
		}
		for _, p := range rule.Patterns {
			matches, err := p.FindAll(text)
			if err != nil {
				e.logger.Debug("dlp pattern skipped", "rule", rule.ID, "error", err)
				continue
			}
			if len(matches) == 0 {
				continue
			}

			previews := make([]string, len(matches))
			for i, m := range matches {
				previews[i] = Preview(m)
			}
			findings = append(findings, Finding{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Description: rule.Description,
				Explanation: rule.Explanation,
				MatchCount:  len(matches),
				Matches:     previews,
			})
		}
	}

	return findings
}

// Preview truncates a match to PreviewLength runes, appending "..." when
// anything was cut.
func Preview(match string) string {
	runes := []rune(match)
	if len(runes) <= PreviewLength {
		return match
	}
	return string(runes[:PreviewLength]) + "..."
}

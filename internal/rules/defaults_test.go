package rules

import (
	"encoding/json"
	"testing"
)

func TestDefaultDocumentCompiles(t *testing.T) {
	doc, err := DefaultDocument()
	if err != nil {
		t.Fatalf("DefaultDocument() error = %v", err)
	}
	if len(doc.Rules) == 0 {
		t.Fatal("bundled document has no rules")
	}

	c := NewCompiler(0)
	seen := make(map[string]bool)
	for _, raw := range doc.Rules {
		if seen[raw.ID] {
			t.Errorf("duplicate bundled rule id %q", raw.ID)
		}
		seen[raw.ID] = true

		r, err := c.Compile(raw)
		if err != nil {
			t.Errorf("bundled rule %q does not compile: %v", raw.ID, err)
			continue
		}
		if r.Inert() {
			t.Errorf("bundled rule %q references an unknown transform", raw.ID)
		}
		if r.Category == CategoryCompression && r.Enabled {
			t.Errorf("compression rule %q should ship disabled", raw.ID)
		}
	}
}

func TestDefaultDocumentCoversCategories(t *testing.T) {
	doc, err := DefaultDocument()
	if err != nil {
		t.Fatal(err)
	}

	have := make(map[Category]bool)
	for _, raw := range doc.Rules {
		have[raw.Category] = true
	}
	for _, c := range AllCategories {
		if c == CategoryCustom {
			continue
		}
		if !have[c] {
			t.Errorf("bundled document has no %s rules", c)
		}
	}
}

func TestDefaultRulesJSONIsCopy(t *testing.T) {
	a := DefaultRulesJSON()
	a[0] = 'X'

	var doc Document
	if err := json.Unmarshal(DefaultRulesJSON(), &doc); err != nil {
		t.Fatalf("DefaultRulesJSON() was mutated through a returned slice: %v", err)
	}
}

func TestFallbackRulesCompile(t *testing.T) {
	for _, raw := range FallbackRules() {
		r, err := NewCompiler(0).Compile(raw)
		if err != nil {
			t.Fatalf("fallback rule %q: %v", raw.ID, err)
		}
		got, err := r.Apply("  too   many  spaces ")
		if err != nil {
			t.Fatal(err)
		}
		if got != "too many spaces" {
			t.Errorf("Apply() = %q, want %q", got, "too many spaces")
		}
	}
}

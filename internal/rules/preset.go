package rules

import "sort"

// Built-in compression levels.
const (
	LevelNone    = "none"
	LevelLight   = "light"
	LevelMedium  = "medium"
	LevelHeavy   = "heavy"
	LevelMaximum = "maximum"
	LevelCustom  = "custom"

	DefaultLevel = LevelMedium
)

// Preset maps a compression level to the categories it enables. A nil
// EnabledCategories marks the custom sentinel: applying it changes nothing.
type Preset struct {
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	EnabledCategories []Category `json:"enabledCategories"`
}

// IsCustom reports whether the preset is the custom sentinel.
func (p Preset) IsCustom() bool {
	return p.EnabledCategories == nil
}

// Enables reports whether the preset turns on rules of category c.
func (p Preset) Enables(c Category) bool {
	for _, enabled := range p.EnabledCategories {
		if enabled == c {
			return true
		}
	}
	return false
}

var levelOrder = []string{LevelNone, LevelLight, LevelMedium, LevelHeavy, LevelMaximum, LevelCustom}

// DefaultPresets returns a fresh copy of the built-in presets.
func DefaultPresets() map[string]Preset {
	light := []Category{CategoryFormatting, CategoryFluff, CategorySecurity}
	medium := append(append([]Category{}, light...), CategoryRedundancy)
	heavy := append(append([]Category{}, medium...), CategoryVerbosity, CategoryQualifiers, CategoryStructure)
	maximum := append(append([]Category{}, heavy...), CategoryCompression)

	return map[string]Preset{
		LevelNone: {
			Name:              "None",
			Description:       "Formatting cleanup only",
			EnabledCategories: []Category{CategoryFormatting},
		},
		LevelLight: {
			Name:              "Light",
			Description:       "Removes obvious fluff and redacts sensitive data",
			EnabledCategories: light,
		},
		LevelMedium: {
			Name:              "Medium",
			Description:       "Recommended: removes fluff and redundancy while keeping clarity",
			EnabledCategories: medium,
		},
		LevelHeavy: {
			Name:              "Heavy",
			Description:       "Condenses verbose phrasing, hedging and structure",
			EnabledCategories: heavy,
		},
		LevelMaximum: {
			Name:              "Maximum",
			Description:       "Adds deep compression, may alter meaning",
			EnabledCategories: maximum,
		},
		LevelCustom: {
			Name:        "Custom",
			Description: "Your own rule configuration",
		},
	}
}

// mergePresets overlays document presets onto base. Document entries
// replace built-ins with the same level id.
func mergePresets(base, overlay map[string]Preset) map[string]Preset {
	merged := make(map[string]Preset, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// Levels returns the preset ids in display order: built-ins first, then
// any document-supplied levels sorted by name.
func Levels(presets map[string]Preset) []string {
	levels := make([]string, 0, len(presets))
	seen := make(map[string]struct{}, len(presets))
	for _, l := range levelOrder {
		if _, ok := presets[l]; ok {
			levels = append(levels, l)
			seen[l] = struct{}{}
		}
	}

	var extra []string
	for l := range presets {
		if _, ok := seen[l]; !ok {
			extra = append(extra, l)
		}
	}
	sort.Strings(extra)

	return append(levels, extra...)
}

// DefaultCategories returns display metadata for every category.
func DefaultCategories() map[Category]CategoryInfo {
	return map[Category]CategoryInfo{
		CategoryFluff:       {Name: "Politeness & Fluff", Description: "Removes unnecessary pleasantries"},
		CategoryRedundancy:  {Name: "Redundancy", Description: "Eliminates repetitive phrases"},
		CategoryVerbosity:   {Name: "Verbosity", Description: "Condenses wordy phrases"},
		CategoryQualifiers:  {Name: "Qualifiers", Description: "Removes hedging language"},
		CategoryStructure:   {Name: "Structure", Description: "Optimizes prompt structure"},
		CategoryFormatting:  {Name: "Formatting", Description: "Cleans up whitespace and punctuation"},
		CategoryCompression: {Name: "Deep Compression", Description: "Aggressive token reduction"},
		CategorySecurity:    {Name: "Security", Description: "Detects and redacts sensitive data"},
		CategoryCustom:      {Name: "Custom Rules", Description: "Your personal rules"},
	}
}

package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("custom-%d", n)
	}
}

func loadDefaultStore(t *testing.T, settings *Settings) *Store {
	t.Helper()

	doc, err := DefaultDocument()
	if err != nil {
		t.Fatalf("DefaultDocument() error = %v", err)
	}
	s := NewStore(testLogger(), WithIDGenerator(sequentialIDs()))
	report := s.Load(Sources{Bundled: doc, Settings: settings})
	if report.Source != SourceBundled {
		t.Fatalf("Load() source = %q, want %q", report.Source, SourceBundled)
	}
	if len(report.Skipped) != 0 {
		t.Fatalf("bundled rules should all compile, skipped: %v", report.Skipped)
	}
	return s
}

func TestNewStoreHasFallbackRules(t *testing.T) {
	s := NewStore(nil)
	rules := s.Rules()
	if len(rules) == 0 {
		t.Fatal("new store should never be empty")
	}
	if rules[0].ID != "cleanup-whitespace" {
		t.Errorf("fallback rule = %q, want cleanup-whitespace", rules[0].ID)
	}
}

func TestStoreLoadSortedByPriority(t *testing.T) {
	s := loadDefaultStore(t, nil)

	rules := s.Rules()
	for i := 1; i < len(rules); i++ {
		if rules[i-1].Priority > rules[i].Priority {
			t.Fatalf("rules not sorted: %s(%d) before %s(%d)",
				rules[i-1].ID, rules[i-1].Priority, rules[i].ID, rules[i].Priority)
		}
	}
	if s.Level() != DefaultLevel {
		t.Errorf("Level() = %q, want %q", s.Level(), DefaultLevel)
	}
}

func TestStoreLoadStableTies(t *testing.T) {
	doc := &Document{Rules: []RawRule{
		{ID: "b", Category: CategoryFormatting, Priority: 10, Patterns: []RawPattern{{Find: "b"}}},
		{ID: "a", Category: CategoryFormatting, Priority: 10, Patterns: []RawPattern{{Find: "a"}}},
		{ID: "first", Category: CategoryFormatting, Priority: 1, Patterns: []RawPattern{{Find: "c"}}},
	}}

	s := NewStore(testLogger())
	s.Load(Sources{Bundled: doc})

	got := []string{}
	for _, r := range s.Rules() {
		got = append(got, r.ID)
	}
	want := []string{"first", "b", "a"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("rule order = %v, want %v", got, want)
	}
}

func TestStoreLoadPrefersRemote(t *testing.T) {
	bundled, _ := DefaultDocument()
	remote := &Document{Rules: []RawRule{
		{ID: "remote-only", Category: CategoryFormatting, Priority: 1, Patterns: []RawPattern{{Find: "x"}}},
	}}

	s := NewStore(testLogger())
	report := s.Load(Sources{Remote: remote, Bundled: bundled})

	if report.Source != SourceRemote {
		t.Errorf("Source = %q, want remote", report.Source)
	}
	if _, ok := s.Rule("remote-only"); !ok {
		t.Error("remote rule should be loaded")
	}
	if _, ok := s.Rule("remove-please"); ok {
		t.Error("bundled rules should not be merged when remote is used")
	}
}

func TestStoreLoadSkipsBadRules(t *testing.T) {
	remote := &Document{Rules: []RawRule{
		{ID: "bad-regex", Category: CategoryFluff, Patterns: []RawPattern{{Find: "(("}}},
		{ID: "good", Category: CategoryFluff, Priority: 10, Patterns: []RawPattern{{Find: "x"}}},
		{ID: "good", Category: CategoryFluff, Priority: 11, Patterns: []RawPattern{{Find: "y"}}},
	}}

	s := NewStore(testLogger())
	report := s.Load(Sources{Remote: remote})

	if report.Source != SourceRemote {
		t.Fatalf("Source = %q, want remote", report.Source)
	}
	if len(report.Skipped) != 2 {
		t.Errorf("Skipped = %v, want bad regex and duplicate", report.Skipped)
	}
	if report.Rules != 1 {
		t.Errorf("Rules = %d, want 1", report.Rules)
	}
}

func TestStoreLoadFallsBackToBundled(t *testing.T) {
	bundled, _ := DefaultDocument()
	remote := &Document{Rules: []RawRule{
		{ID: "only-bad", Category: CategoryFluff, Patterns: []RawPattern{{Find: "[z-a]"}}},
	}}

	s := NewStore(testLogger())
	report := s.Load(Sources{Remote: remote, Bundled: bundled})

	if report.Source != SourceBundled {
		t.Errorf("Source = %q, want bundled", report.Source)
	}
}

func TestStoreLoadFallbackRules(t *testing.T) {
	s := NewStore(testLogger())
	report := s.Load(Sources{})

	if report.Source != SourceFallback {
		t.Fatalf("Source = %q, want fallback", report.Source)
	}
	rules := s.Rules()
	if len(rules) != 1 || rules[0].ID != "cleanup-whitespace" {
		t.Errorf("fallback rules = %v", rules)
	}
	if !rules[0].Enabled {
		t.Error("fallback formatting rule should be enabled at default level")
	}
}

func TestStoreLoadSettings(t *testing.T) {
	s := loadDefaultStore(t, &Settings{
		CompressionLevel: LevelCustom,
		RuleSettings: map[string]RuleSetting{
			"remove-please":     {Enabled: false},
			"compress-articles": {Enabled: true},
		},
		CustomRules: []CustomRuleSpec{
			{ID: "custom-keep", Name: "Keep", PatternString: "foo", ReplaceString: "bar"},
			{ID: "custom-bad", Name: "Bad", PatternString: "(("},
		},
	})

	if s.Level() != LevelCustom {
		t.Errorf("Level() = %q, want custom", s.Level())
	}
	if r, _ := s.Rule("remove-please"); r.Enabled {
		t.Error("override should disable remove-please")
	}
	if r, _ := s.Rule("compress-articles"); !r.Enabled {
		t.Error("override should enable compress-articles")
	}
	if r, ok := s.Rule("custom-keep"); !ok || !r.IsCustom {
		t.Error("valid custom rule should be loaded")
	}
	if _, ok := s.Rule("custom-bad"); ok {
		t.Error("invalid persisted custom rule should be skipped")
	}
}

func TestStoreLoadUnknownLevel(t *testing.T) {
	s := loadDefaultStore(t, &Settings{CompressionLevel: "ludicrous"})
	if s.Level() != DefaultLevel {
		t.Errorf("Level() = %q, want default for unknown level", s.Level())
	}
}

func TestApplyPresetContainment(t *testing.T) {
	s := loadDefaultStore(t, nil)
	custom, err := s.AddCustomRule(CustomRuleSpec{Name: "mine", PatternString: "x", Enabled: boolPtr(false)})
	if err != nil {
		t.Fatalf("AddCustomRule() error = %v", err)
	}

	for _, level := range []string{LevelNone, LevelLight, LevelMedium, LevelHeavy, LevelMaximum} {
		t.Run(level, func(t *testing.T) {
			s.ApplyPreset(level)
			preset := s.Presets()[level]

			for _, r := range s.Rules() {
				if r.IsCustom {
					if r.Enabled {
						t.Errorf("preset %s changed custom rule %s", level, r.ID)
					}
					continue
				}
				if want := preset.Enables(r.Category); r.Enabled != want {
					t.Errorf("preset %s: rule %s (%s) enabled = %v, want %v",
						level, r.ID, r.Category, r.Enabled, want)
				}
			}
		})
	}

	if r, _ := s.Rule(custom.ID); r.Enabled {
		t.Error("custom rule should stay disabled across presets")
	}
}

func TestApplyPresetCustomAndUnknownAreNoops(t *testing.T) {
	s := loadDefaultStore(t, nil)
	before := s.Rules()

	s.ApplyPreset(LevelCustom)
	s.ApplyPreset("nonexistent")

	after := s.Rules()
	for i := range before {
		if before[i].Enabled != after[i].Enabled {
			t.Errorf("rule %s changed enabled state", before[i].ID)
		}
	}
}

func TestSetCompressionLevel(t *testing.T) {
	s := loadDefaultStore(t, nil)

	if err := s.SetCompressionLevel(LevelMaximum); err != nil {
		t.Fatalf("SetCompressionLevel() error = %v", err)
	}
	if r, _ := s.Rule("compress-articles"); !r.Enabled {
		t.Error("maximum should enable compression rules")
	}

	if err := s.SetCompressionLevel(LevelCustom); err != nil {
		t.Fatalf("SetCompressionLevel(custom) error = %v", err)
	}
	if r, _ := s.Rule("compress-articles"); !r.Enabled {
		t.Error("custom level should keep the previous enablement")
	}

	err := s.SetCompressionLevel("turbo")
	if !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("SetCompressionLevel(turbo) error = %v, want ErrUnknownLevel", err)
	}
	if s.Level() != LevelCustom {
		t.Errorf("failed SetCompressionLevel changed level to %q", s.Level())
	}
}

func TestToggleRuleForcesCustom(t *testing.T) {
	s := loadDefaultStore(t, nil)

	if err := s.ToggleRule("remove-please", false); err != nil {
		t.Fatalf("ToggleRule() error = %v", err)
	}
	if s.Level() != LevelCustom {
		t.Errorf("Level() = %q, want custom after toggle", s.Level())
	}
	if r, _ := s.Rule("remove-please"); r.Enabled {
		t.Error("rule should be disabled")
	}

	err := s.ToggleRule("nope", true)
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("ToggleRule(nope) error = %v, want ErrRuleNotFound", err)
	}
}

func TestAddAndRemoveCustomRule(t *testing.T) {
	s := loadDefaultStore(t, nil)

	added, err := s.AddCustomRule(CustomRuleSpec{Name: "Swap", PatternString: "foo", ReplaceString: "bar"})
	if err != nil {
		t.Fatalf("AddCustomRule() error = %v", err)
	}
	if added.ID != "custom-1" {
		t.Errorf("ID = %q, want custom-1", added.ID)
	}
	if added.Category != CategoryCustom || !added.IsCustom || added.Priority != CustomRulePriority {
		t.Errorf("unexpected custom rule shape: %+v", added)
	}

	rules := s.Rules()
	idx := -1
	for i, r := range rules {
		if r.ID == added.ID {
			idx = i
		}
	}
	if idx < 0 {
		t.Fatal("custom rule not in store")
	}
	for i, r := range rules {
		if r.Priority < CustomRulePriority && i > idx {
			t.Errorf("rule %s (priority %d) should come before custom rule", r.ID, r.Priority)
		}
		if r.Priority > CustomRulePriority && i < idx {
			t.Errorf("rule %s (priority %d) should come after custom rule", r.ID, r.Priority)
		}
	}

	_, err = s.AddCustomRule(CustomRuleSpec{Name: "Broken", PatternString: "(?<"})
	var ipe *InvalidPatternError
	if !errors.As(err, &ipe) {
		t.Errorf("AddCustomRule() error = %v, want *InvalidPatternError", err)
	}

	_, err = s.AddCustomRule(CustomRuleSpec{ID: added.ID, Name: "Dup", PatternString: "x"})
	if !errors.Is(err, ErrInvalidRule) {
		t.Errorf("duplicate id error = %v, want ErrInvalidRule", err)
	}

	if s.RemoveCustomRule("remove-please") {
		t.Error("RemoveCustomRule() must not remove built-in rules")
	}
	if !s.RemoveCustomRule(added.ID) {
		t.Error("RemoveCustomRule() should remove the custom rule")
	}
	if s.RemoveCustomRule(added.ID) {
		t.Error("second RemoveCustomRule() should be a no-op")
	}
}

func TestSecurityRulesIgnoreEnabled(t *testing.T) {
	s := loadDefaultStore(t, nil)
	if err := s.SetCompressionLevel(LevelNone); err != nil {
		t.Fatal(err)
	}

	sec := s.SecurityRules()
	if len(sec) == 0 {
		t.Fatal("expected bundled security rules")
	}
	for _, r := range sec {
		if r.Category != CategorySecurity {
			t.Errorf("SecurityRules() returned %s (%s)", r.ID, r.Category)
		}
		if r.Enabled {
			t.Errorf("level none should disable %s", r.ID)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := loadDefaultStore(t, nil)
	if err := s.ToggleRule("remove-fillers", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddCustomRule(CustomRuleSpec{Name: "Swap", PatternString: "foo", ReplaceString: "bar"}); err != nil {
		t.Fatal(err)
	}

	exported := s.Export()
	if exported.Version != ConfigVersion {
		t.Errorf("Version = %q, want %q", exported.Version, ConfigVersion)
	}

	other := loadDefaultStore(t, nil)
	if err := other.Import(exported); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	if other.Level() != LevelCustom {
		t.Errorf("imported level = %q, want custom", other.Level())
	}
	if r, _ := other.Rule("remove-fillers"); r.Enabled {
		t.Error("imported override should disable remove-fillers")
	}
	if r, ok := other.Rule("custom-1"); !ok || r.Patterns[0].Replace != "bar" {
		t.Error("imported custom rule missing or wrong")
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	s := loadDefaultStore(t, nil)
	before := s.Settings()

	err := s.Import(ExportedConfig{Version: "2.0", Settings: Settings{CompressionLevel: LevelNone}})
	if !errors.Is(err, ErrIncompatibleConfigVersion) {
		t.Fatalf("Import() error = %v, want ErrIncompatibleConfigVersion", err)
	}
	if s.Level() != before.CompressionLevel {
		t.Error("failed import must not change the level")
	}
}

func TestImportNoPartialApply(t *testing.T) {
	s := loadDefaultStore(t, nil)

	err := s.Import(ExportedConfig{
		Version: ConfigVersion,
		Settings: Settings{
			CompressionLevel: LevelNone,
			CustomRules: []CustomRuleSpec{
				{ID: "custom-ok", Name: "ok", PatternString: "x"},
				{ID: "custom-broken", Name: "broken", PatternString: "(("},
			},
		},
	})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("Import() error = %v, want ErrInvalidPattern", err)
	}
	if s.Level() != DefaultLevel {
		t.Errorf("Level() = %q, import must not partially apply", s.Level())
	}
	if _, ok := s.Rule("custom-ok"); ok {
		t.Error("import must not partially add custom rules")
	}
}

func TestResetToDefaults(t *testing.T) {
	s := loadDefaultStore(t, nil)
	_ = s.ToggleRule("remove-please", false)
	_, _ = s.AddCustomRule(CustomRuleSpec{Name: "x", PatternString: "x"})

	s.ResetToDefaults()

	if s.Level() != DefaultLevel {
		t.Errorf("Level() = %q, want %q", s.Level(), DefaultLevel)
	}
	if r, _ := s.Rule("remove-please"); !r.Enabled {
		t.Error("reset should re-enable remove-please at medium")
	}
	if len(s.Settings().CustomRules) != 0 {
		t.Error("reset should drop custom rules")
	}
}

func TestReplaceBaseKeepsCustomRules(t *testing.T) {
	s := loadDefaultStore(t, nil)
	added, _ := s.AddCustomRule(CustomRuleSpec{Name: "mine", PatternString: "x"})

	report := s.ReplaceBase(&Document{Rules: []RawRule{
		{ID: "fresh", Category: CategoryFluff, Priority: 10, Patterns: []RawPattern{{Find: "y"}}},
	}})
	if report.Rules != 2 {
		t.Errorf("Rules = %d, want 2", report.Rules)
	}
	if _, ok := s.Rule(added.ID); !ok {
		t.Error("custom rule lost on refresh")
	}
	if _, ok := s.Rule("remove-please"); ok {
		t.Error("old base rules should be replaced")
	}

	report = s.ReplaceBase(&Document{Rules: []RawRule{{ID: "bad", Category: CategoryFluff, Patterns: []RawPattern{{Find: "(("}}}}})
	if _, ok := s.Rule("fresh"); !ok {
		t.Error("an unusable refresh should keep the current rules")
	}
	if len(report.Skipped) != 1 {
		t.Errorf("Skipped = %v, want 1", report.Skipped)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := loadDefaultStore(t, nil)
	c := s.Clone()

	if err := c.SetCompressionLevel(LevelMaximum); err != nil {
		t.Fatal(err)
	}
	if s.Level() != DefaultLevel {
		t.Errorf("original level changed to %q", s.Level())
	}
	if r, _ := s.Rule("compress-articles"); r.Enabled {
		t.Error("original rules changed through clone")
	}
}

func TestStoreDocumentPresets(t *testing.T) {
	doc := &Document{
		Rules: []RawRule{
			{ID: "f", Category: CategoryFluff, Patterns: []RawPattern{{Find: "x"}}},
			{ID: "q", Category: CategoryQualifiers, Patterns: []RawPattern{{Find: "y"}}},
		},
		Presets: map[string]Preset{
			"hedges": {Name: "Hedges", EnabledCategories: []Category{CategoryQualifiers}},
		},
	}

	s := NewStore(testLogger())
	s.Load(Sources{Bundled: doc, Settings: &Settings{CompressionLevel: "hedges"}})

	if s.Level() != "hedges" {
		t.Fatalf("Level() = %q, want document preset", s.Level())
	}
	if r, _ := s.Rule("f"); r.Enabled {
		t.Error("fluff should be disabled by hedges preset")
	}
	if r, _ := s.Rule("q"); !r.Enabled {
		t.Error("qualifiers should be enabled by hedges preset")
	}

	levels := Levels(s.Presets())
	if levels[len(levels)-1] != "hedges" {
		t.Errorf("Levels() = %v, document level should sort after built-ins", levels)
	}
}

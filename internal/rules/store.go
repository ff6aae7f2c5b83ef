package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Load sources reported in LoadReport.Source.
const (
	SourceRemote   = "remote"
	SourceBundled  = "bundled"
	SourceFallback = "fallback"
)

// Sources is everything Load needs to build the working rule set. Remote
// and Settings are optional.
type Sources struct {
	Remote   *Document
	Bundled  *Document
	Settings *Settings
}

// SkippedRule records a rule that was dropped during loading.
type SkippedRule struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// LoadReport summarizes a Load or ReplaceBase call.
type LoadReport struct {
	Source      string        `json:"source"`
	Rules       int           `json:"rules"`
	CustomRules int           `json:"customRules"`
	Skipped     []SkippedRule `json:"skipped,omitempty"`
}

// Option configures a Store.
type Option func(*Store)

// WithMatchTimeout sets the per-evaluation regex timeout for every rule the
// store compiles.
func WithMatchTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.compiler = NewCompiler(d)
	}
}

// WithIDGenerator overrides how ids for new custom rules are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// Store owns the working rule list and the compression level. All methods
// are safe for concurrent use; reads return copies so callers never observe
// a rule changing underneath them.
type Store struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	compiler   *Compiler
	newID      func() string
	base       []*Rule
	rules      []*Rule
	presets    map[string]Preset
	categories map[Category]CategoryInfo
	level      string
}

// NewStore creates a Store holding the fallback rule set. Call Load to
// populate it from real sources.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		logger:     logger,
		compiler:   NewCompiler(DefaultMatchTimeout),
		newID:      func() string { return "custom-" + uuid.NewString() },
		presets:    DefaultPresets(),
		categories: DefaultCategories(),
		level:      DefaultLevel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.base, _ = s.compileAll(FallbackRules())
	s.rebuild(nil, nil)
	s.applyPreset(s.level)

	return s
}

// Load replaces the store contents. The base rules come from src.Remote
// when it compiles to at least one rule, otherwise from src.Bundled, and
// finally from FallbackRules. Rules that fail to compile are skipped and
// reported, never fatal.
func (s *Store) Load(src Sources) *LoadReport {
	report := &LoadReport{}

	var (
		doc  *Document
		base []*Rule
	)
	candidates := []struct {
		name string
		doc  *Document
	}{
		{SourceRemote, src.Remote},
		{SourceBundled, src.Bundled},
	}
	for _, c := range candidates {
		if c.doc == nil || len(c.doc.Rules) == 0 {
			continue
		}
		compiled, skipped := s.compileAll(c.doc.Rules)
		report.Skipped = append(report.Skipped, skipped...)
		if len(compiled) > 0 {
			doc, base = c.doc, compiled
			report.Source = c.name
			break
		}
		s.logger.Warn("rule source produced no usable rules", "source", c.name)
	}
	if len(base) == 0 {
		s.logger.Warn("no base rules loaded, using fallback rule set")
		base, _ = s.compileAll(FallbackRules())
		report.Source = SourceFallback
	}

	settings := src.Settings
	if settings == nil {
		settings = &Settings{}
	}
	customs, skipped, _ := s.compileCustoms(settings.CustomRules, false)
	report.Skipped = append(report.Skipped, skipped...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.base = base
	s.presets = DefaultPresets()
	s.categories = DefaultCategories()
	if doc != nil {
		s.presets = mergePresets(s.presets, doc.Presets)
		for k, v := range doc.Categories {
			s.categories[k] = v
		}
	}

	s.rebuild(settings.RuleSettings, customs)

	level := settings.CompressionLevel
	if level == "" {
		level = DefaultLevel
	}
	if _, ok := s.presets[level]; !ok {
		s.logger.Warn("unknown compression level in settings, using default", "level", level, "default", DefaultLevel)
		level = DefaultLevel
	}
	s.level = level
	s.applyPreset(level)

	report.Rules = len(s.rules)
	report.CustomRules = len(customs)

	s.logger.Debug("rules loaded",
		"source", report.Source,
		"rules", report.Rules,
		"custom", report.CustomRules,
		"skipped", len(report.Skipped),
		"level", s.level)

	return report
}

// ReplaceBase swaps in a freshly fetched base document while keeping custom
// rules, per-rule overrides and the compression level. A document that
// compiles to zero rules leaves the store unchanged.
func (s *Store) ReplaceBase(doc *Document) *LoadReport {
	report := &LoadReport{Source: SourceRemote}
	if doc == nil {
		return report
	}

	base, skipped := s.compileAll(doc.Rules)
	report.Skipped = skipped
	if len(base) == 0 {
		s.logger.Warn("refreshed rule document produced no usable rules, keeping current rules")
		return report
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	overrides := make(map[string]RuleSetting)
	var customs []*Rule
	for _, r := range s.rules {
		if r.IsCustom {
			customs = append(customs, r)
			continue
		}
		overrides[r.ID] = RuleSetting{Enabled: r.Enabled}
	}

	s.base = base
	s.presets = mergePresets(s.presets, doc.Presets)
	for k, v := range doc.Categories {
		s.categories[k] = v
	}
	s.rebuild(overrides, customs)
	s.applyPreset(s.level)

	report.Rules = len(s.rules)
	report.CustomRules = len(customs)
	return report
}

// ApplyPreset enables exactly the non-custom rules whose category the
// preset lists. Unknown levels and the custom sentinel are no-ops.
func (s *Store) ApplyPreset(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyPreset(level)
}

// SetCompressionLevel records level and applies its preset unless it is
// the custom sentinel.
func (s *Store) SetCompressionLevel(level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[level]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, level)
	}
	s.level = level
	s.applyPreset(level)
	return nil
}

// ToggleRule sets the enabled flag of one rule. Any manual toggle moves the
// store to the custom level.
func (s *Store) ToggleRule(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.find(id)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	r.Enabled = enabled
	s.level = LevelCustom
	return nil
}

// AddCustomRule compiles spec and inserts it in priority order. Malformed
// patterns are returned as *InvalidPatternError.
func (s *Store) AddCustomRule(spec CustomRuleSpec) (Rule, error) {
	if spec.ID == "" {
		spec.ID = s.newID()
	}

	r, err := s.compiler.CompileCustom(spec)
	if err != nil {
		return Rule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(r.ID) != nil {
		return Rule{}, fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRule, r.ID)
	}
	s.rules = append(s.rules, r)
	sortRules(s.rules)

	return *r, nil
}

// RemoveCustomRule deletes a custom rule by id. It reports whether a rule
// was removed; non-custom rules are never removed.
func (s *Store) RemoveCustomRule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rules {
		if r.ID == id && r.IsCustom {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// ResetToDefaults drops custom rules and overrides and returns to the
// default level.
func (s *Store) ResetToDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rebuild(nil, nil)
	s.level = DefaultLevel
	s.applyPreset(s.level)
}

// Rules returns a copy of the working rules in application order.
func (s *Store) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = *r
	}
	return out
}

// Rule returns a copy of the rule with the given id.
func (s *Store) Rule(id string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r := s.find(id); r != nil {
		return *r, true
	}
	return Rule{}, false
}

// SecurityRules returns every security rule regardless of enabled state.
func (s *Store) SecurityRules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rule
	for _, r := range s.rules {
		if r.Category == CategorySecurity {
			out = append(out, *r)
		}
	}
	return out
}

// RulesByCategory groups the working rules by category, keeping
// application order within each group.
func (s *Store) RulesByCategory() map[Category][]Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Category][]Rule)
	for _, r := range s.rules {
		out[r.Category] = append(out[r.Category], *r)
	}
	return out
}

// Categories returns category display metadata.
func (s *Store) Categories() map[Category]CategoryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Category]CategoryInfo, len(s.categories))
	for k, v := range s.categories {
		out[k] = v
	}
	return out
}

// Presets returns the known presets keyed by level.
func (s *Store) Presets() map[string]Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mergePresets(s.presets, nil)
}

// Level returns the current compression level.
func (s *Store) Level() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// Settings returns the persistable user state.
func (s *Store) Settings() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Settings{
		CompressionLevel: s.level,
		RuleSettings:     make(map[string]RuleSetting),
		CustomRules:      []CustomRuleSpec{},
	}
	for _, r := range s.rules {
		if r.IsCustom {
			st.CustomRules = append(st.CustomRules, customSpec(r))
			continue
		}
		st.RuleSettings[r.ID] = RuleSetting{Enabled: r.Enabled}
	}
	return st
}

// Export returns the current settings tagged with ConfigVersion.
func (s *Store) Export() ExportedConfig {
	return ExportedConfig{Version: ConfigVersion, Settings: *s.Settings()}
}

// Import replaces custom rules, overrides and level with cfg. Nothing is
// applied unless the version is known, the level exists and every custom
// rule compiles.
func (s *Store) Import(cfg ExportedConfig) error {
	if cfg.Version != ConfigVersion {
		return fmt.Errorf("%w: %q (expected %q)", ErrIncompatibleConfigVersion, cfg.Version, ConfigVersion)
	}

	level := cfg.CompressionLevel
	if level == "" {
		level = DefaultLevel
	}

	customs, _, err := s.compileCustoms(cfg.CustomRules, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presets[level]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, level)
	}

	s.rebuild(cfg.RuleSettings, customs)
	s.level = level
	s.applyPreset(level)
	return nil
}

// Clone returns an independent copy of the store. Mutating the clone never
// affects the original.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &Store{
		logger:     s.logger,
		compiler:   s.compiler,
		newID:      s.newID,
		base:       s.base,
		rules:      make([]*Rule, len(s.rules)),
		presets:    mergePresets(s.presets, nil),
		categories: make(map[Category]CategoryInfo, len(s.categories)),
		level:      s.level,
	}
	for i, r := range s.rules {
		c.rules[i] = r.clone()
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	return c
}

// rebuild resets the working set to fresh copies of the base rules with
// overrides applied, plus customs, sorted by priority. Callers hold mu.
func (s *Store) rebuild(overrides map[string]RuleSetting, customs []*Rule) {
	rules := make([]*Rule, 0, len(s.base)+len(customs))
	for _, b := range s.base {
		r := b.clone()
		if o, ok := overrides[r.ID]; ok {
			r.Enabled = o.Enabled
		}
		rules = append(rules, r)
	}
	rules = append(rules, customs...)
	sortRules(rules)
	s.rules = rules
}

func (s *Store) applyPreset(level string) {
	preset, ok := s.presets[level]
	if !ok || preset.IsCustom() {
		return
	}
	for _, r := range s.rules {
		if !r.IsCustom {
			r.Enabled = preset.Enables(r.Category)
		}
	}
}

func (s *Store) find(id string) *Rule {
	for _, r := range s.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Store) compileAll(raws []RawRule) ([]*Rule, []SkippedRule) {
	var (
		compiled []*Rule
		skipped  []SkippedRule
	)
	seen := make(map[string]struct{}, len(raws))

	for _, raw := range raws {
		if _, dup := seen[raw.ID]; dup {
			s.logger.Warn("skipping duplicate rule id", "rule", raw.ID)
			skipped = append(skipped, SkippedRule{ID: raw.ID, Reason: "duplicate rule id"})
			continue
		}

		r, err := s.compiler.Compile(raw)
		if err != nil {
			s.logger.Warn("skipping invalid rule", "rule", raw.ID, "error", err)
			skipped = append(skipped, SkippedRule{ID: raw.ID, Reason: err.Error()})
			continue
		}
		if r.Inert() {
			s.logger.Warn("unknown transform, rule is inert", "rule", r.ID, "transform", r.Transform)
		}

		seen[raw.ID] = struct{}{}
		compiled = append(compiled, r)
	}

	return compiled, skipped
}

// compileCustoms compiles persisted custom rules. In strict mode the first
// failure is returned; otherwise failures are skipped and reported.
func (s *Store) compileCustoms(specs []CustomRuleSpec, strict bool) ([]*Rule, []SkippedRule, error) {
	var (
		compiled []*Rule
		skipped  []SkippedRule
	)
	for _, spec := range specs {
		if spec.ID == "" {
			spec.ID = s.newID()
		}
		r, err := s.compiler.CompileCustom(spec)
		if err != nil {
			if strict {
				return nil, nil, err
			}
			s.logger.Warn("skipping invalid custom rule", "rule", spec.ID, "error", err)
			skipped = append(skipped, SkippedRule{ID: spec.ID, Reason: err.Error()})
			continue
		}
		compiled = append(compiled, r)
	}
	return compiled, skipped, nil
}

func (r *Rule) clone() *Rule {
	c := *r
	return &c
}

func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}

func customSpec(r *Rule) CustomRuleSpec {
	priority := r.Priority
	enabled := r.Enabled
	spec := CustomRuleSpec{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Explanation: r.Explanation,
		Priority:    &priority,
		Enabled:     &enabled,
	}
	if len(r.Patterns) > 0 {
		spec.PatternString = r.Patterns[0].Find
		spec.PatternFlags = r.Patterns[0].Flags
		spec.ReplaceString = r.Patterns[0].Replace
	}
	return spec
}

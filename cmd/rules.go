package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/prompthakcer/internal/output"
	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List and manage optimization rules",
	Long: `List the working rule set, change the compression level, toggle
individual rules and manage custom rules. Changes are saved to the
settings backend.

Examples:
  prompthakcer rules
  prompthakcer rules level heavy
  prompthakcer rules disable remove-please
  prompthakcer rules add --name "No kindly" --pattern '\bkindly\s+' --replace ''
  prompthakcer rules refresh`,
	Args: cobra.NoArgs,
	RunE: runRulesList,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the working rule set",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a rule (switches the level to custom)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRulesToggle(cmd, args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a rule (switches the level to custom)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRulesToggle(cmd, args[0], false)
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a custom rule",
	Args:  cobra.NoArgs,
	RunE:  runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <rule-id>",
	Short: "Remove a custom rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesRemove,
}

var rulesLevelCmd = &cobra.Command{
	Use:   "level [name]",
	Short: "Show or set the compression level",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesLevel,
}

var rulesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch the configured rule source, bypassing the cache",
	Args:  cobra.NoArgs,
	RunE:  runRulesRefresh,
}

func init() {
	for _, c := range []*cobra.Command{rulesCmd, rulesListCmd} {
		c.Flags().StringP("category", "c", "", "only list rules in this category")
	}

	rulesAddCmd.Flags().String("id", "", "rule id (generated when empty)")
	rulesAddCmd.Flags().String("name", "", "rule name (required)")
	rulesAddCmd.Flags().String("pattern", "", "regular expression to match (required)")
	rulesAddCmd.Flags().String("replace", "", "replacement text; $1 and ${name} refer to groups")
	rulesAddCmd.Flags().String("flags", "gi", "regex flags (g, i, m, s)")
	rulesAddCmd.Flags().String("description", "", "short description")
	rulesAddCmd.Flags().String("explanation", "", "explanation shown with --explain")
	rulesAddCmd.Flags().Int("priority", rules.CustomRulePriority, "application order; lower runs first")
	rulesAddCmd.Flags().Bool("disabled", false, "add the rule disabled")

	rulesCmd.AddCommand(rulesListCmd, rulesEnableCmd, rulesDisableCmd, rulesAddCmd, rulesRemoveCmd, rulesLevelCmd, rulesRefreshCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")

	a, err := newApp(commandContext(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	list := a.store.Rules()
	if category != "" {
		c := rules.Category(strings.ToLower(category))
		if !c.Valid() {
			return fmt.Errorf("unknown category %q", category)
		}
		list = a.store.RulesByCategory()[c]
	}
	return a.writer(cmd.OutOrStdout()).WriteRules(a.store.Level(), list)
}

func runRulesToggle(cmd *cobra.Command, id string, enabled bool) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.ToggleRule(id, enabled); err != nil {
		return err
	}
	if err := a.save(ctx); err != nil {
		return err
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rule %s %s (level is now %s).\n", id, state, a.store.Level())
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	pattern, _ := cmd.Flags().GetString("pattern")
	replace, _ := cmd.Flags().GetString("replace")
	flags, _ := cmd.Flags().GetString("flags")
	description, _ := cmd.Flags().GetString("description")
	explanation, _ := cmd.Flags().GetString("explanation")
	disabled, _ := cmd.Flags().GetBool("disabled")

	spec := rules.CustomRuleSpec{
		ID:            id,
		Name:          name,
		Description:   description,
		Explanation:   explanation,
		PatternString: pattern,
		PatternFlags:  flags,
		ReplaceString: replace,
	}
	if cmd.Flags().Changed("priority") {
		p, _ := cmd.Flags().GetInt("priority")
		spec.Priority = &p
	}
	if disabled {
		enabled := false
		spec.Enabled = &enabled
	}

	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rule, err := a.store.AddCustomRule(spec)
	if err != nil {
		return err
	}
	if err := a.save(ctx); err != nil {
		return err
	}

	out := a.writer(cmd.OutOrStdout())
	if out.Format() == output.FormatJSON {
		return out.WriteJSON(rule)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added custom rule %s (%s).\n", rule.ID, rule.Name)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.store.RemoveCustomRule(args[0]) {
		return fmt.Errorf("%w: no custom rule %s", rules.ErrRuleNotFound, args[0])
	}
	if err := a.save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed custom rule %s.\n", args[0])
	return nil
}

func runRulesLevel(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	w := cmd.OutOrStdout()
	if len(args) == 0 {
		presets := a.store.Presets()
		current := a.store.Level()
		for _, level := range rules.Levels(presets) {
			mark := " "
			if level == current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %-8s %s\n", mark, level, presets[level].Description)
		}
		return nil
	}

	level := strings.ToLower(args[0])
	if err := a.store.SetCompressionLevel(level); err != nil {
		return fmt.Errorf("%w (expected one of %s)", err, strings.Join(rules.Levels(a.store.Presets()), ", "))
	}
	if err := a.save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "Compression level set to %s.\n", level)
	return nil
}

func runRulesRefresh(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.loader.Refresh(ctx, a.store)
	if err != nil {
		return fmt.Errorf("failed to refresh rules: %w", err)
	}

	out := a.writer(cmd.OutOrStdout())
	if out.Format() == output.FormatJSON {
		return out.WriteJSON(report)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d rules from %s source (%d custom, %d skipped).\n",
		report.Rules, report.Source, report.CustomRules, len(report.Skipped))
	for _, s := range report.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s: %s\n", s.ID, s.Reason)
	}
	return nil
}

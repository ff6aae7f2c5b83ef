package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/prompthakcer/internal/output"
	"github.com/bimmerbailey/prompthakcer/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Export, import or reset rule settings",
	Long: `Move rule settings (compression level, per-rule toggles and custom
rules) between machines, or return to the defaults.

Examples:
  prompthakcer config export > settings.json
  prompthakcer config export team.json
  prompthakcer config import team.json
  prompthakcer config reset`,
}

var configExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the current settings as a versioned export",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigExport,
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the current settings with an export",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigImport,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop custom rules and overrides and return to the default level",
	Args:  cobra.NoArgs,
	RunE:  runConfigReset,
}

func init() {
	configCmd.AddCommand(configExportCmd, configImportCmd, configResetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(commandContext(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	exported := a.store.Export()
	if len(args) == 0 {
		return output.New(cmd.OutOrStdout(), output.FormatJSON).WriteJSON(exported)
	}
	if err := settings.WriteExport(args[0], exported); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Settings exported to %s.\n", args[0])
	return nil
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	exported, err := settings.ReadExport(args[0])
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Import(exported); err != nil {
		return fmt.Errorf("failed to import %s: %w", args[0], err)
	}
	if err := a.save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Settings imported from %s (level %s, %d custom rules).\n",
		args[0], a.store.Level(), len(exported.CustomRules))
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.store.ResetToDefaults()
	if err := a.save(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Settings reset to defaults (level %s).\n", a.store.Level())
	return nil
}

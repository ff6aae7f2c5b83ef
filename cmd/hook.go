package cmd

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/hook"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Coding agent hooks",
	Long: `Hooks for coding agents that speak the JSON hook protocol on stdin
and stdout.

pre-tool-use scans the input of Write, Edit, Bash and NotebookEdit calls
and blocks the call when it carries sensitive data. post-tool-use prints a
short stats update to stderr every hook.summary_every scans.

Both hooks fail open: any internal error approves the call.`,
}

var hookPreCmd = &cobra.Command{
	Use:   "pre-tool-use",
	Short: "Scan a tool call for sensitive data and approve or block it",
	Args:  cobra.NoArgs,
	RunE:  runHookPre,
}

var hookPostCmd = &cobra.Command{
	Use:   "post-tool-use",
	Short: "Print a periodic stats update",
	Args:  cobra.NoArgs,
	RunE:  runHookPost,
}

func init() {
	hookCmd.AddCommand(hookPreCmd, hookPostCmd)
	rootCmd.AddCommand(hookCmd)
}

func runHookPre(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(hook.Decision{Decision: hook.Approve})
	}
	defer a.Close()

	sink, err := a.historySink()
	if err != nil {
		a.logger.Warn("stats disabled", "error", err)
	}

	gate := hook.NewGate(engine.New(a.store, a.logger), sink, a.cfg.Hook.Fields, a.logger)
	return gate.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}

func runHookPost(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil || !json.Valid(data) {
		return nil
	}

	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return nil
	}
	defer a.Close()

	sink, err := a.historySink()
	if err != nil {
		a.logger.Warn("stats disabled", "error", err)
		return nil
	}
	hook.NewNotifier(sink, a.cfg.Hook.SummaryEvery).Run(ctx, cmd.ErrOrStderr())
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/output"
	"github.com/bimmerbailey/prompthakcer/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [flags] <file>",
	Short: "Re-optimize a prompt file every time it is saved",
	Long: `Watch a prompt file and print the optimized prompt, a savings report
and any DLP findings each time the file changes. Editors that save by
renaming a temporary file over the original are followed; pass
--exit-on-remove to stop instead once the file is removed.

Examples:
  prompthakcer watch prompt.md
  prompthakcer watch --level heavy --explain prompt.md`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringP("level", "l", "", "compression level to preview (does not change the saved level)")
	watchCmd.Flags().Bool("explain", false, "print what each applied rule did")
	watchCmd.Flags().Bool("no-color", false, "disable colored output")
	watchCmd.Flags().Bool("exit-on-remove", false, "stop watching when the file is removed or renamed away")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	level, _ := cmd.Flags().GetString("level")
	explain, _ := cmd.Flags().GetBool("explain")
	noColor, _ := cmd.Flags().GetBool("no-color")
	exitOnRemove, _ := cmd.Flags().GetBool("exit-on-remove")

	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	a, err := newApp(commandContext(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.store
	if level != "" {
		store = a.store.Clone()
		if err := store.SetCompressionLevel(level); err != nil {
			return err
		}
	}
	eng := engine.New(store, a.logger)

	colorMode := output.ColorAuto
	if noColor {
		colorMode = output.ColorNever
	}
	out := a.writer(cmd.OutOrStdout()).WithColor(colorMode)
	opts := engine.Options{EnableCompression: a.cfg.EnableCompression, ShowExplanations: explain}

	onChange := func(content string) error {
		res := eng.Optimize(content, opts)
		findings := eng.ScanDLP(content)
		result := output.Result{OptimizationResult: res, Level: store.Level(), DLPFindings: findings}

		if out.Format() != output.FormatText {
			return out.WriteResult(result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "==> %s <==\n", filePath)
		if err := out.WriteReport(result); err != nil {
			return err
		}
		if len(findings) > 0 {
			if err := out.WriteFindings(findings); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return out.WriteResult(result)
	}

	watcher := watch.New(watch.Options{
		FilePath:     filePath,
		Initial:      true,
		FollowRemove: !exitOnRemove,
		OnChange:     onChange,
	}, a.logger)

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- watcher.Run(ctx)
	}()

	select {
	case <-sigChan:
		cancel()
		<-errChan
		return nil
	case err := <-errChan:
		if errors.Is(err, watch.ErrFileRemoved) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s was removed, stopping.\n", filePath)
			return nil
		}
		return err
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/output"
)

// exitFindings is the exit code of scan --fail when anything was found.
const exitFindings = 2

var scanCmd = &cobra.Command{
	Use:   "scan [flags] [text...]",
	Short: "Scan text or files for sensitive data",
	Long: `Run the DLP rules against text and report what they match. Nothing
is rewritten.

Text comes from the arguments or stdin. With --files the arguments are
file paths, globs or directories instead; directories are walked
recursively, skipping hidden entries.

Examples:
  prompthakcer scan "my SSN is 123-45-6789"
  git diff | prompthakcer scan --fail
  prompthakcer scan --files 'prompts/*.txt' notes/`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("files", false, "treat arguments as files, globs or directories")
	scanCmd.Flags().Bool("fail", false, "exit with status 2 when sensitive data is found")

	rootCmd.AddCommand(scanCmd)
}

// fileFindings are the findings for one scanned file.
type fileFindings struct {
	Path     string          `json:"path"`
	Findings engine.Findings `json:"findings"`
	Total    int             `json:"total"`
}

func runScan(cmd *cobra.Command, args []string) error {
	files, _ := cmd.Flags().GetBool("files")
	fail, _ := cmd.Flags().GetBool("fail")

	ctx := commandContext(cmd)
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	eng := engine.New(a.store, a.logger)
	out := a.writer(cmd.OutOrStdout())

	sink, err := a.historySink()
	if err != nil {
		a.logger.Warn("stats disabled", "error", err)
	}
	record := func(f engine.Findings) {
		if sink == nil {
			return
		}
		if err := sink.RecordScan(ctx, f); err != nil {
			a.logger.Warn("failed to record scan", "error", err)
		}
	}

	var total int
	if files {
		paths, err := config.ExpandPaths(args)
		if err != nil {
			return err
		}

		results := make([]fileFindings, 0, len(paths))
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			f := eng.ScanDLP(string(data))
			record(f)
			total += f.Total()
			results = append(results, fileFindings{Path: p, Findings: f, Total: f.Total()})
		}
		if err := writeFileFindings(cmd, out, results); err != nil {
			return err
		}
	} else {
		text, err := readPrompt(cmd, args)
		if err != nil {
			return err
		}
		if text == "" {
			_ = cmd.Usage()
			return fmt.Errorf("no text to scan")
		}
		f := eng.ScanDLP(text)
		record(f)
		total = f.Total()
		if err := out.WriteFindings(f); err != nil {
			return err
		}
	}

	if fail && total > 0 {
		return &ExitError{Code: exitFindings, Err: fmt.Errorf("%d sensitive item(s) found", total)}
	}
	return nil
}

func writeFileFindings(cmd *cobra.Command, out *output.Writer, results []fileFindings) error {
	if out.Format() == output.FormatJSON {
		return out.WriteJSON(results)
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "==> %s <==\n", r.Path)
		if err := out.WriteFindings(r.Findings); err != nil {
			return err
		}
	}
	return nil
}

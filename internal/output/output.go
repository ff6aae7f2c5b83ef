// Package output renders optimization results, DLP findings, rules and
// history. It supports text, JSON, and table formats.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/bimmerbailey/prompthakcer/internal/engine"
	"github.com/bimmerbailey/prompthakcer/internal/history"
	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

// Format represents an output format type.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// ParseFormat converts a string to a Format, defaulting to text.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "table":
		return FormatTable
	default:
		return FormatText
	}
}

// Writer handles writing formatted output.
type Writer struct {
	w        io.Writer
	format   Format
	colorize bool
}

// New creates a new output Writer. Color is enabled when w is a terminal.
func New(w io.Writer, format Format) *Writer {
	return &Writer{w: w, format: format, colorize: shouldColorize(ColorAuto, w)}
}

// WithColor returns a copy of the writer using the given color mode.
func (wr *Writer) WithColor(mode ColorMode) *Writer {
	c := *wr
	c.colorize = shouldColorize(mode, wr.w)
	return &c
}

// Format returns the configured format.
func (wr *Writer) Format() Format {
	return wr.format
}

// Result is everything reported for one optimization.
type Result struct {
	*engine.OptimizationResult
	Level       string          `json:"level"`
	DLPFindings engine.Findings `json:"dlpFindings"`
}

// WriteJSON outputs any value as indented JSON.
func (wr *Writer) WriteJSON(v interface{}) error {
	enc := json.NewEncoder(wr.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteResult outputs an optimization. The text format prints only the
// optimized prompt so it can be piped; use WriteReport for the details.
func (wr *Writer) WriteResult(r Result) error {
	switch wr.format {
	case FormatJSON:
		return wr.WriteJSON(r)
	case FormatTable:
		fmt.Fprintln(wr.w, paint(wr.colorize, colorBold, "Optimized prompt:"))
		fmt.Fprintf(wr.w, "%s\n\n", r.Optimized)
		if err := wr.writeStatsTable(r.Stats); err != nil {
			return err
		}
		fmt.Fprintln(wr.w)
		return wr.writeAppliedTable(r.AppliedRules)
	default:
		_, err := fmt.Fprintln(wr.w, r.Optimized)
		return err
	}
}

// WriteReport prints a human summary of an optimization: savings, the
// rules that fired and, when present, their explanations.
func (wr *Writer) WriteReport(r Result) error {
	s := r.Stats
	if !r.HasChanges {
		fmt.Fprintln(wr.w, paint(wr.colorize, colorGray, "No changes: the prompt is already concise."))
		return nil
	}

	fmt.Fprintf(wr.w, "%s %d -> %d chars, ~%d -> %d tokens (%d%% saved, level %s)\n",
		paint(wr.colorize, colorBold, "Optimized:"),
		s.OriginalLength, s.OptimizedLength, s.OriginalTokens, s.OptimizedTokens, s.PercentSaved, r.Level)

	for _, a := range r.AppliedRules {
		fmt.Fprintf(wr.w, "  %s %s %s\n", paint(wr.colorize, colorGreen, "+"), a.Name, paint(wr.colorize, colorGray, "("+string(a.Category)+")"))
		if a.Explanation != "" {
			fmt.Fprintf(wr.w, "      %s\n", a.Explanation)
		}
		if a.Example != nil {
			fmt.Fprintf(wr.w, "      %q -> %q\n", a.Example.Before, a.Example.After)
		}
	}
	return nil
}

// WriteFindings outputs DLP findings.
func (wr *Writer) WriteFindings(findings engine.Findings) error {
	switch wr.format {
	case FormatJSON:
		return wr.WriteJSON(struct {
			Findings    engine.Findings `json:"findings"`
			Total       int             `json:"total"`
			HasFindings bool            `json:"hasFindings"`
		}{findings, findings.Total(), len(findings) > 0})
	case FormatTable:
		tw := tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RULE\tNAME\tMATCHES\tPREVIEW")
		fmt.Fprintln(tw, "----\t----\t-------\t-------")
		for _, f := range findings {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.RuleID, f.RuleName, f.MatchCount, strings.Join(f.Matches, ", "))
		}
		return tw.Flush()
	default:
		if len(findings) == 0 {
			_, err := fmt.Fprintln(wr.w, paint(wr.colorize, colorGreen, "No sensitive data detected."))
			return err
		}
		fmt.Fprintln(wr.w, paint(wr.colorize, colorBold+colorRed, fmt.Sprintf("Sensitive data detected (%d matches):", findings.Total())))
		for _, f := range findings {
			fmt.Fprintf(wr.w, "  - %s: %d match(es) [%s]\n", f.RuleName, f.MatchCount, strings.Join(f.Matches, ", "))
			if f.Explanation != "" {
				fmt.Fprintf(wr.w, "    %s\n", paint(wr.colorize, colorGray, f.Explanation))
			}
		}
		return nil
	}
}

// WriteRules outputs the working rule set.
func (wr *Writer) WriteRules(level string, list []rules.Rule) error {
	switch wr.format {
	case FormatJSON:
		return wr.WriteJSON(struct {
			Level string       `json:"level"`
			Rules []rules.Rule `json:"rules"`
		}{level, list})
	case FormatTable:
		tw := tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCATEGORY\tPRIORITY\tENABLED\tNAME")
		fmt.Fprintln(tw, "--\t--------\t--------\t-------\t----")
		for _, r := range list {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Category, r.Priority, enabledMark(r.Enabled, wr.colorize), r.Name)
		}
		return tw.Flush()
	default:
		fmt.Fprintf(wr.w, "Compression level: %s\n", paint(wr.colorize, colorBold, level))
		// Categories appear in order of their first rule; rules keep
		// priority order within a category.
		var order []rules.Category
		byCategory := make(map[rules.Category][]rules.Rule)
		for _, r := range list {
			if _, ok := byCategory[r.Category]; !ok {
				order = append(order, r.Category)
			}
			byCategory[r.Category] = append(byCategory[r.Category], r)
		}
		for _, c := range order {
			fmt.Fprintf(wr.w, "\n[%s]\n", c)
			for _, r := range byCategory[c] {
				fmt.Fprintf(wr.w, "  %-3s %-28s %s\n", enabledMark(r.Enabled, wr.colorize), r.ID, r.Name)
			}
		}
		return nil
	}
}

// WriteSummary outputs accumulated stats.
func (wr *Writer) WriteSummary(s *history.Summary) error {
	if wr.format == FormatJSON {
		return wr.WriteJSON(s)
	}

	tw := tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total scans:\t%d\n", s.TotalScans)
	fmt.Fprintf(tw, "DLP blocks:\t%d\n", s.DLPBlocks)
	fmt.Fprintf(tw, "Optimizations:\t%d\n", s.TotalOptimizations)
	fmt.Fprintf(tw, "Tokens saved:\t%d\n", s.TotalTokensSaved)
	fmt.Fprintf(tw, "Chars saved:\t%d\n", s.TotalCharsSaved)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.TopFindings) > 0 {
		fmt.Fprintln(wr.w, "\nTop findings:")
		for _, f := range s.TopFindings {
			fmt.Fprintf(wr.w, "  %-24s %d\n", f.RuleID, f.Count)
		}
	}
	if len(s.RecentHistory) > 0 {
		fmt.Fprintln(wr.w, "\nRecent optimizations:")
		return wr.writeEntriesTable(s.RecentHistory)
	}
	return nil
}

// WriteEntries outputs history entries.
func (wr *Writer) WriteEntries(entries []history.Entry) error {
	if wr.format == FormatJSON {
		if entries == nil {
			entries = []history.Entry{}
		}
		return wr.WriteJSON(entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(wr.w, "No history entries.")
		return err
	}
	return wr.writeEntriesTable(entries)
}

func (wr *Writer) writeEntriesTable(entries []history.Entry) error {
	tw := tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tLEVEL\tTOKENS\tCHARS\tSAVED\tRULES")
	fmt.Fprintln(tw, "---------\t-----\t------\t-----\t-----\t-----")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d%%\t%d\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Level, e.TokensSaved, e.CharsSaved, e.PercentSaved, e.RulesApplied)
	}
	return tw.Flush()
}

func (wr *Writer) writeStatsTable(s engine.Stats) error {
	tw := tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tORIGINAL\tOPTIMIZED\tSAVED")
	fmt.Fprintln(tw, "------\t--------\t---------\t-----")
	fmt.Fprintf(tw, "chars\t%d\t%d\t%d\n", s.OriginalLength, s.OptimizedLength, s.CharsSaved)
	fmt.Fprintf(tw, "tokens\t%d\t%d\t%d\n", s.OriginalTokens, s.OptimizedTokens, s.TokensSaved)
	fmt.Fprintf(tw, "percent\t\t\t%d%%\n", s.PercentSaved)
	return tw.Flush()
}

func (wr *Writer) writeAppliedTable(applied []engine.AppliedRule) error {
	tw := tabwriter.NewWriter(wr.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tCATEGORY\tNAME")
	fmt.Fprintln(tw, "----\t--------\t----")
	for _, a := range applied {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Category, a.Name)
	}
	return tw.Flush()
}

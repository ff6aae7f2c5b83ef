package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bimmerbailey/prompthakcer/internal/config"
	"github.com/bimmerbailey/prompthakcer/internal/history"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scan and optimization statistics",
	Long: `Display accumulated statistics: DLP scans and blocks, optimizations,
tokens and characters saved, the most frequent findings and the most
recent optimizations.

Examples:
  prompthakcer stats
  prompthakcer stats --format json
  prompthakcer stats --reset`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded optimizations",
	Long: `List recorded optimizations, optionally filtered by time.

Times accept RFC3339, "2006-01-02 15:04:05", plain dates, relative
durations such as 2h or 3d (meaning that long ago), and now, today or
yesterday.

Examples:
  prompthakcer history --since 1d
  prompthakcer history --sort tokensSaved --limit 5
  prompthakcer history --since 2026-01-01 --until yesterday --format json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	statsCmd.Flags().Bool("reset", false, "clear all statistics")

	historyCmd.Flags().String("since", "", "only include optimizations since this time")
	historyCmd.Flags().String("until", "", "only include optimizations until this time")
	historyCmd.Flags().IntP("limit", "n", 0, "maximum number of entries (0 = all)")
	historyCmd.Flags().String("sort", history.SortNewest, "sort order (newest, oldest, tokensSaved)")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	reset, _ := cmd.Flags().GetBool("reset")

	a, err := newApp(commandContext(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	if reset {
		return resetHistory(cmd, a)
	}
	return showSummary(cmd, a)
}

func showSummary(cmd *cobra.Command, a *app) error {
	sink, err := a.historySink()
	if err != nil {
		return err
	}
	sum, err := sink.Summary(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	return a.writer(cmd.OutOrStdout()).WriteSummary(sum)
}

func resetHistory(cmd *cobra.Command, a *app) error {
	sink, err := a.historySink()
	if err != nil {
		return err
	}
	if err := sink.Reset(commandContext(cmd)); err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Statistics reset.")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	sinceStr, _ := cmd.Flags().GetString("since")
	untilStr, _ := cmd.Flags().GetString("until")
	limit, _ := cmd.Flags().GetInt("limit")
	sortBy, _ := cmd.Flags().GetString("sort")

	q := history.Query{Limit: limit, SortBy: sortBy}
	if limit < 0 {
		return fmt.Errorf("invalid limit %d: must be zero or positive", limit)
	}
	if !history.ValidSort(sortBy) {
		return fmt.Errorf("invalid sort %q (expected newest, oldest or tokensSaved)", sortBy)
	}

	var err error
	if sinceStr != "" {
		if q.Since, err = config.ParseTimeRef(sinceStr); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	if untilStr != "" {
		if q.Until, err = config.ParseTimeRef(untilStr); err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Since.After(q.Until) {
		return fmt.Errorf("--since must be before --until")
	}

	a, err := newApp(commandContext(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	sink, err := a.historySink()
	if err != nil {
		return err
	}
	entries, err := sink.Entries(commandContext(cmd), q)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	return a.writer(cmd.OutOrStdout()).WriteEntries(entries)
}

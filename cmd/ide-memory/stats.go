package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/ide-memory/internal/metrics"
	"github.com/scrypster/ide-memory/pkg/types"
)

func newStatsCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request metrics and knowledge counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd, f)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx := cmd.Context()

			mstore, err := metrics.NewStore(cfg.MetricsPath())
			if err != nil {
				return fmt.Errorf("open metrics database: %w", err)
			}
			defer func() { _ = mstore.Close() }()

			stats, err := mstore.ServerStats(ctx)
			if err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			counts, err := store.CountByType(ctx)
			if err != nil {
				return err
			}

			return writeStats(cmd.OutOrStdout(), stats, counts)
		},
	}
}

func writeStats(out io.Writer, stats metrics.ServerStats, counts map[types.KnowledgeType]int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Requests:\t%d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Errors:\t%d\n", stats.TotalErrors)
	fmt.Fprintf(w, "Success rate:\t%.1f%%\n", stats.SuccessRate())
	fmt.Fprintf(w, "Error rate:\t%.1f%%\n", stats.ErrorRate())
	fmt.Fprintf(w, "Avg response:\t%.2f ms\n", stats.AvgResponseTimeMs)
	fmt.Fprintln(w)

	if len(stats.ToolStats) == 0 {
		fmt.Fprintln(w, "No tool calls recorded.")
	} else {
		fmt.Fprintln(w, "TOOL\tCALLS\tOK\tERRORS\tAVG MS\tBYTES\tLAST CALLED")
		for _, ts := range stats.ToolStats {
			last := "-"
			if ts.LastCalled != nil {
				last = time.Unix(*ts.LastCalled, 0).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%d\t%s\n",
				ts.ToolName, ts.TotalCalls, ts.SuccessCount, ts.ErrorCount,
				ts.AvgResponseTimeMs, ts.TotalResponseSizeBytes, last)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "KNOWLEDGE TYPE\tENTRIES")
	total := 0
	for _, kind := range types.KnowledgeTypes {
		fmt.Fprintf(w, "%s\t%d\n", kind, counts[kind])
		total += counts[kind]
	}
	fmt.Fprintf(w, "total\t%d\n", total)

	return w.Flush()
}

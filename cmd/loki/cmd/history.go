package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/output"
	"github.com/mikeplath/LOKIV2/internal/telemetry"
)

type historyOptions struct {
	json   bool
	top    int
	recent int
	clear  bool
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Summarize past queries",
		Long: `Show what has been asked of the library: query counts, the most
frequent terms, recent questions that found nothing, and a latency
histogram. The history is stored only in the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			path := filepath.Join(cfg.Paths.DataDir, telemetry.HistoryFileName)
			if !fileExists(path) {
				if opts.clear {
					output.New(cmd.OutOrStdout()).Success("Query history is empty")
					return nil
				}
				return writeHistory(cmd.OutOrStdout(), &telemetry.Summary{}, opts)
			}

			h, err := telemetry.Open(path)
			if err != nil {
				return lkerrors.IOError("failed to open query history", err)
			}
			defer func() { _ = h.Close() }()

			if opts.clear {
				if err := h.Clear(cmd.Context()); err != nil {
					return lkerrors.IOError("failed to clear query history", err)
				}
				output.New(cmd.OutOrStdout()).Success("Query history cleared")
				return nil
			}

			sum, err := h.Summarize(cmd.Context(), opts.top, opts.recent)
			if err != nil {
				return lkerrors.IOError("failed to read query history", err)
			}
			return writeHistory(cmd.OutOrStdout(), sum, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&opts.top, "top", 10, "Number of frequent terms to show")
	cmd.Flags().IntVar(&opts.recent, "recent", 10, "Number of unanswered queries to show")
	cmd.Flags().BoolVar(&opts.clear, "clear", false, "Delete the query history")

	return cmd
}

func writeHistory(out io.Writer, sum *telemetry.Summary, opts historyOptions) error {
	w := output.New(out)
	if opts.json {
		if sum.TopTerms == nil {
			sum.TopTerms = []telemetry.TermCount{}
		}
		if sum.ZeroResultQueries == nil {
			sum.ZeroResultQueries = []string{}
		}
		return w.JSON(sum)
	}

	if sum.TotalQueries == 0 {
		w.Status("📜", "No queries recorded yet")
		return nil
	}

	w.Statusf("📜", "%d queries, %d without results (%.1f%%), last %s",
		sum.TotalQueries, sum.ZeroResultCount, sum.ZeroResultPercentage(),
		sum.LastQueryAt.Local().Format("2006-01-02 15:04"))

	if len(sum.TopTerms) > 0 {
		w.Newline()
		w.Status("🔤", "Frequent terms")
		terms := make([]string, 0, len(sum.TopTerms))
		for _, tc := range sum.TopTerms {
			terms = append(terms, fmt.Sprintf("%s (%d)", tc.Term, tc.Count))
		}
		w.Status("", strings.Join(terms, ", "))
	}

	if len(sum.ZeroResultQueries) > 0 {
		w.Newline()
		w.Status("🕳️ ", "Recent queries without results")
		for _, q := range sum.ZeroResultQueries {
			w.Statusf("", "%q", q)
		}
	}

	w.Newline()
	w.Status("⏱️ ", "Latency")
	labels := map[telemetry.LatencyBucket]string{
		telemetry.BucketP10:   "<10ms",
		telemetry.BucketP50:   "10-50ms",
		telemetry.BucketP100:  "50-100ms",
		telemetry.BucketP500:  "100-500ms",
		telemetry.BucketP1000: ">=500ms",
	}
	for _, b := range telemetry.Buckets {
		w.Statusf("", "%-10s %d", labels[b], sum.LatencyDistribution[b])
	}
	return nil
}

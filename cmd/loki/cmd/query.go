package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/internal/config"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/output"
	"github.com/mikeplath/LOKIV2/internal/search"
	"github.com/mikeplath/LOKIV2/internal/store"
	"github.com/mikeplath/LOKIV2/internal/telemetry"
)

type queryOptions struct {
	query     string
	limit     int
	minScore  float64
	format    string
	provider  string
	model     string
	noHistory bool
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find the passages most relevant to a question",
		Long: `Embed the question with the model the current snapshot was built
with and print the nearest chunks, each with its source document, category,
page and similarity score (1/(1+distance)).

The embedding provider and model default to the ones recorded in the
snapshot. Overriding them with a model the snapshot was not built with is
an error.`,
		Example: `  loki query "how to purify water"
  loki query -q "treating burns" -k 10
  loki query "signal fire" --min-score 0.4 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			text := opts.query
			if len(args) > 0 {
				text = strings.Join(args, " ")
			}

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runQuery(ctx, cmd, cfg, text, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.query, "query", "q", "", "Query text (alternative to the positional argument)")
	f.IntVarP(&opts.limit, "limit", "k", 0, "Maximum number of results (default from search.max_results)")
	f.Float64Var(&opts.minScore, "min-score", 0, "Drop results with a lower similarity (0-1)")
	f.StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	f.StringVar(&opts.provider, "provider", "", "Embedding provider (default from the snapshot)")
	f.StringVar(&opts.model, "model", "", "Embedding model (default from the snapshot)")
	f.BoolVar(&opts.noHistory, "no-history", false, "Do not record this query in the local query history")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, cfg *config.Config, text string, opts queryOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return lkerrors.ValidationError(err.Error(), nil)
	}
	if strings.TrimSpace(text) == "" {
		return lkerrors.New(lkerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion(`Pass the question as an argument: loki query "how to purify water"`)
	}
	if opts.limit < 0 || opts.limit > search.MaxResultsLimit {
		return lkerrors.ValidationError("limit must be between 1 and 100", nil)
	}
	if opts.minScore < 0 || opts.minScore > 1 {
		return lkerrors.ValidationError("min-score must be between 0 and 1", nil)
	}

	snapshot, err := store.OpenSnapshot(cfg.SnapshotsDir())
	if err != nil {
		return err
	}
	matchSnapshot(cfg, snapshot.Info, opts)

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		_ = snapshot.Close()
		return err
	}
	defer func() { _ = embedder.Close() }()

	engine, err := search.NewEngine(snapshot, embedder, searchOptions(cfg))
	if err != nil {
		_ = snapshot.Close()
		return err
	}
	defer func() { _ = engine.Close() }()

	start := time.Now()
	results, err := engine.Search(ctx, text, search.SearchOptions{K: opts.limit, MinScore: opts.minScore})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	slog.Info("query_complete",
		slog.String("build_id", snapshot.Info.BuildID),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", elapsed))

	if !opts.noHistory {
		recordQuery(ctx, cfg, telemetry.QueryEvent{
			Query:       text,
			BuildID:     snapshot.Info.BuildID,
			ResultCount: len(results),
			Latency:     elapsed,
			Timestamp:   start,
		})
	}

	return output.New(cmd.OutOrStdout()).Results(format, output.QueryResponse{
		Query:     text,
		BuildID:   snapshot.Info.BuildID,
		ElapsedMS: elapsed.Milliseconds(),
		Results:   results,
	})
}

// matchSnapshot points the embedder configuration at the model recorded in
// the snapshot unless the user chose one explicitly.
func matchSnapshot(cfg *config.Config, info store.BuildInfo, opts queryOptions) {
	if opts.provider != "" {
		cfg.Embeddings.Provider = opts.provider
	} else if info.Provider != "" {
		cfg.Embeddings.Provider = info.Provider
	}
	if opts.model != "" {
		cfg.Embeddings.Model = opts.model
	} else if opts.provider == "" {
		cfg.Embeddings.Model = info.ModelName
	}
	if opts.provider == "" && opts.model == "" {
		cfg.Embeddings.Dimensions = info.EmbeddingDim
	}
}

// recordQuery appends ev to the query history. Failures are logged only.
func recordQuery(ctx context.Context, cfg *config.Config, ev telemetry.QueryEvent) {
	h, err := telemetry.Open(filepath.Join(cfg.Paths.DataDir, telemetry.HistoryFileName))
	if err != nil {
		slog.Warn("query_history_unavailable", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = h.Close() }()
	if err := h.Record(ctx, ev); err != nil {
		slog.Warn("query_history_record_failed", slog.String("error", err.Error()))
	}
}

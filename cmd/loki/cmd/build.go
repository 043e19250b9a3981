package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/internal/build"
	"github.com/mikeplath/LOKIV2/internal/config"
	"github.com/mikeplath/LOKIV2/internal/embed"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/output"
	"github.com/mikeplath/LOKIV2/internal/record"
	"github.com/mikeplath/LOKIV2/internal/search"
	"github.com/mikeplath/LOKIV2/internal/store"
	"github.com/mikeplath/LOKIV2/internal/ui"
)

type buildOptions struct {
	model      string
	provider   string
	dimensions int
	batchSize  int
	metric     string
	indexType  string
	testQuery  string
	noTUI      bool
	noColor    bool
}

func newBuildCmd(g *globalOptions) *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed all chunk records and publish a vector index",
		Long: `Embed every chunk of every chunk record and write a new index
snapshot. The snapshot becomes current only once it is complete, so
queries keep using the previous snapshot while a build runs and after a
failed build.

The embedding model, dimension and distance metric are recorded with the
snapshot; queries must use the same model.`,
		Example: `  # Rebuild with the configured model
  loki build

  # Build an approximate index and try it out
  loki build --index-type hnsw --test-query "how to start a fire"

  # Switch models; the dimension is read from the model
  loki build --model nomic-embed-text

  # Fully offline build with the static embedder
  loki build --provider static`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			opts.noColor = g.noColor
			return runBuild(ctx, cmd, cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.model, "model", "", "Embedding model name")
	f.StringVar(&opts.provider, "provider", "", "Embedding provider: "+fmt.Sprint(embed.ValidProviders()))
	f.IntVar(&opts.dimensions, "dimensions", 0, "Embedding dimension (0 asks the model)")
	f.IntVar(&opts.batchSize, "batch-size", 0, "Texts per embedding request")
	f.StringVar(&opts.metric, "metric", "", "Distance metric: l2sq or cosine")
	f.StringVar(&opts.indexType, "index-type", "", "Index type: flat (exact) or hnsw (approximate)")
	f.StringVar(&opts.testQuery, "test-query", "", "Run one query against the new snapshot")
	f.BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")

	return cmd
}

func (o buildOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	// A configured dimension belongs to the configured model. Another model
	// is asked for its own unless --dimensions says otherwise.
	if changed("model") {
		cfg.Embeddings.Model = o.model
		cfg.Embeddings.Dimensions = 0
	}
	if changed("dimensions") {
		cfg.Embeddings.Dimensions = o.dimensions
	}
	if changed("provider") {
		cfg.Embeddings.Provider = o.provider
	}
	if changed("batch-size") {
		cfg.Embeddings.BatchSize = o.batchSize
	}
	if changed("metric") {
		cfg.Index.Metric = o.metric
	}
	if changed("index-type") {
		cfg.Index.Type = o.indexType
	}
	return cfg.Validate()
}

func runBuild(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts buildOptions) error {
	records, err := record.NewStore(cfg.RecordsDir())
	if err != nil {
		return lkerrors.IOError("failed to open record store", err)
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(opts.noColor),
		ui.WithTitle("LOKI Build"),
		ui.WithTarget(cfg.Paths.DataDir)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}

	builder, err := build.NewBuilder(build.Dependencies{
		Records:      records,
		Embedder:     embedder,
		SnapshotsDir: cfg.SnapshotsDir(),
		Renderer:     renderer,
	})
	if err != nil {
		_ = renderer.Stop()
		return err
	}

	info, err := builder.Build(ctx, build.Options{
		Metric:    store.Metric(cfg.Index.Metric),
		IndexType: store.IndexType(cfg.Index.Type),
		HNSW:      store.HNSWParams{M: cfg.Index.M, EfSearch: cfg.Index.EfSearch},
		BatchSize: cfg.Embeddings.BatchSize,
	})
	_ = renderer.Stop()
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("Published snapshot %s (%d chunks from %d documents)", info.BuildID, info.NumChunks, info.NumDocuments)

	if opts.testQuery == "" {
		return nil
	}
	return runTestQuery(ctx, out, cfg, embedder, opts.testQuery)
}

// runTestQuery opens the snapshot just published and runs one query with the
// build's embedder.
func runTestQuery(ctx context.Context, out *output.Writer, cfg *config.Config, embedder embed.Embedder, query string) error {
	snapshot, err := store.OpenSnapshot(cfg.SnapshotsDir())
	if err != nil {
		return err
	}
	engine, err := search.NewEngine(snapshot, embedder, searchOptions(cfg))
	if err != nil {
		_ = snapshot.Close()
		return err
	}
	defer func() { _ = engine.Close() }()

	start := time.Now()
	results, err := engine.Search(ctx, query, search.SearchOptions{})
	if err != nil {
		return err
	}

	out.Newline()
	return out.Results(output.FormatText, output.QueryResponse{
		Query:     query,
		BuildID:   engine.Stats().BuildID,
		ElapsedMS: time.Since(start).Milliseconds(),
		Results:   results,
	})
}

// searchOptions maps the search section of cfg onto engine options. The
// metric is left empty so the engine uses the snapshot's.
func searchOptions(cfg *config.Config) search.Options {
	return search.Options{
		MaxResults:    cfg.Search.MaxResults,
		MinScore:      cfg.Search.MinScore,
		SnippetLength: cfg.Search.SnippetLength,
	}
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/internal/checkpoint"
	"github.com/mikeplath/LOKIV2/internal/chunk"
	"github.com/mikeplath/LOKIV2/internal/config"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/extract"
	"github.com/mikeplath/LOKIV2/internal/index"
	"github.com/mikeplath/LOKIV2/internal/output"
	"github.com/mikeplath/LOKIV2/internal/preflight"
	"github.com/mikeplath/LOKIV2/internal/record"
	"github.com/mikeplath/LOKIV2/internal/ui"
)

type indexOptions struct {
	ocr             bool
	workers         int
	maxPages        int
	chunkSize       int
	chunkOverlap    int
	dpi             int
	ocrLang         string
	minCharsPerPage int
	timeout         string
	test            bool
	limit           int
	force           bool
	noTUI           bool
	skipCheck       bool
	noColor         bool
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [corpus-dir]",
		Short: "Extract and chunk every PDF in a directory",
		Long: `Walk the corpus directory, extract the text of every PDF (with an
optional OCR fallback for scanned documents), split it into overlapping
chunks and write one chunk record per document.

Indexing is resumable: documents with a valid record are skipped, so an
interrupted run continues where it stopped. Use --force to reprocess
everything. Run 'loki build' afterwards to make the chunks searchable.`,
		Example: `  # Index a library with four workers
  loki index ./library -w 4

  # Enable OCR for scanned documents
  loki index ./library --ocr --dpi 300

  # Try the pipeline on the first five documents
  loki index ./library --test`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Paths.CorpusDir = args[0]
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			opts.noColor = g.noColor
			return runIndex(ctx, cmd, cfg, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.ocr, "ocr", false, "Use OCR for pages without a usable text layer (needs pdftoppm and tesseract)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "Documents processed concurrently (1-4)")
	f.IntVar(&opts.maxPages, "max-pages", 0, "Maximum pages read per document")
	f.IntVar(&opts.chunkSize, "chunk-size", 0, "Maximum chunk length in characters")
	f.IntVar(&opts.chunkOverlap, "chunk-overlap", 0, "Characters shared by consecutive chunks")
	f.IntVar(&opts.dpi, "dpi", 0, "Rasterization resolution for OCR")
	f.StringVar(&opts.ocrLang, "ocr-lang", "", "Tesseract language code")
	f.IntVar(&opts.minCharsPerPage, "min-chars-per-page", 0, "Average text density below which OCR is used")
	f.StringVar(&opts.timeout, "timeout", "", "Per-document extraction timeout (e.g. 10m)")
	f.BoolVar(&opts.test, "test", false, "Process only the first few documents")
	f.IntVar(&opts.limit, "limit", 0, "Process at most N documents (0 = all)")
	f.BoolVar(&opts.force, "force", false, "Reprocess documents that already have a record")
	f.BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	f.BoolVar(&opts.skipCheck, "skip-check", false, "Skip pre-flight system checks")

	return cmd
}

// apply overrides cfg with the flags that were set and revalidates it.
func (o indexOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	ix := &cfg.Indexing
	if changed("ocr") {
		ix.OCR = o.ocr
	}
	if changed("workers") {
		ix.Workers = o.workers
	}
	if changed("max-pages") {
		ix.MaxPages = o.maxPages
	}
	if changed("chunk-size") {
		ix.ChunkSize = o.chunkSize
	}
	if changed("chunk-overlap") {
		ix.ChunkOverlap = o.chunkOverlap
	}
	if changed("dpi") {
		ix.DPI = o.dpi
	}
	if changed("ocr-lang") {
		ix.OCRLanguage = o.ocrLang
	}
	if changed("min-chars-per-page") {
		ix.MinCharsPerPage = o.minCharsPerPage
	}
	if changed("timeout") {
		ix.DocumentTimeout = o.timeout
	}
	return cfg.Validate()
}

// runLimit is the document cap of the run.
func (o indexOptions) runLimit(cfg *config.Config) int {
	if o.test {
		return cfg.Indexing.TestLimit
	}
	return o.limit
}

func runIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts indexOptions) error {
	if cfg.Paths.CorpusDir == "" {
		return lkerrors.ConfigError("no corpus directory given", nil).
			WithSuggestion("Run 'loki index <corpus-dir>' or set paths.corpus_dir in .loki.yaml")
	}
	corpus, err := filepath.Abs(cfg.Paths.CorpusDir)
	if err != nil {
		return fmt.Errorf("failed to resolve corpus path: %w", err)
	}
	info, err := os.Stat(corpus)
	if err != nil {
		return lkerrors.IOError(fmt.Sprintf("corpus directory not found: %s", corpus), err)
	}
	if !info.IsDir() {
		return lkerrors.ValidationError(fmt.Sprintf("corpus path is not a directory: %s", corpus), nil)
	}

	dataDir := cfg.Paths.DataDir
	if !opts.skipCheck && preflight.NeedsCheck(dataDir) {
		if err := runPreflight(ctx, cmd, cfg); err != nil {
			return err
		}
	}

	records, err := record.NewStore(cfg.RecordsDir())
	if err != nil {
		return lkerrors.IOError("failed to open record store", err)
	}
	chunker, err := chunk.NewChunker(chunk.Options{
		Size:    cfg.Indexing.ChunkSize,
		Overlap: cfg.Indexing.ChunkOverlap,
	})
	if err != nil {
		return err
	}
	extractor := extract.New(extract.Options{
		MaxPages:        cfg.Indexing.MaxPages,
		OCR:             cfg.Indexing.OCR,
		Language:        cfg.Indexing.OCRLanguage,
		DPI:             cfg.Indexing.DPI,
		MinCharsPerPage: cfg.Indexing.MinCharsPerPage,
	})

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(opts.noColor),
		ui.WithTitle("LOKI Indexer"),
		ui.WithTarget(corpus)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	orch, err := index.NewOrchestrator(index.Config{
		CorpusDir:       corpus,
		Workers:         cfg.Indexing.Workers,
		DocumentTimeout: cfg.DocumentTimeout(),
		MaxPages:        cfg.Indexing.MaxPages,
		Limit:           opts.runLimit(cfg),
		Force:           opts.force,
		Exclude:         cfg.Paths.Exclude,
		SummaryPath:     filepath.Join(dataDir, index.SummaryFileName),
	}, index.Dependencies{
		Extractor: extractor,
		Chunker:   chunker,
		Store:     records,
		Renderer:  renderer,
		Progress: checkpoint.NewProgressFile(
			filepath.Join(dataDir, checkpoint.ProgressFileName), checkpoint.DefaultWriteInterval),
	})
	if err != nil {
		return err
	}

	result, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	if result.Interrupted {
		return lkerrors.New(lkerrors.ErrCodeInternal, "indexing interrupted", ctx.Err()).
			WithSuggestion("Run 'loki index' again to resume")
	}
	return nil
}

// runPreflight checks the environment before the first indexing run and
// records success so later runs skip the check.
func runPreflight(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	checker := preflight.New(
		preflight.WithOCR(cfg.Indexing.OCR),
		preflight.WithCorpus(cfg.Paths.CorpusDir, cfg.Paths.Exclude),
		preflight.WithWorkers(cfg.Indexing.Workers),
		preflight.WithOutput(cmd.ErrOrStderr()),
	)
	results := checker.RunAll(ctx, cfg.Paths.DataDir)
	if checker.HasCriticalFailures(results) {
		checker.PrintResults(results)
		return lkerrors.ConfigError("system check failed", nil).
			WithSuggestion("Run 'loki doctor' for diagnostics, or pass --skip-check")
	}

	if err := preflight.MarkPassed(cfg.Paths.DataDir); err != nil {
		slog.Debug("preflight_mark_failed", slog.String("error", err.Error()))
	}
	out := output.New(cmd.ErrOrStderr())
	for _, r := range results {
		if r.Status == preflight.StatusWarn {
			out.Warningf("%s: %s", r.Name, r.Message)
		}
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikeplath/LOKIV2/internal/checkpoint"
	"github.com/mikeplath/LOKIV2/internal/config"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/index"
	"github.com/mikeplath/LOKIV2/internal/record"
	"github.com/mikeplath/LOKIV2/internal/scanner"
	"github.com/mikeplath/LOKIV2/internal/store"
	"github.com/mikeplath/LOKIV2/internal/ui"
	"github.com/mikeplath/LOKIV2/internal/watcher"
)

// statusDebounce coalesces bursts of progress writes in --watch mode.
const statusDebounce = 250 * time.Millisecond

type statusOptions struct {
	json       bool
	watch      bool
	showConfig bool
	noProbe    bool
	noColor    bool
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexing progress and snapshot health",
		Long: `Display the state of the data directory:
  - Chunk records written so far (and any corrupt ones)
  - Indexing progress with rate (files/hour) and ETA
  - The outcome of the last indexing run
  - The published snapshot: model, metric, index type and size
  - Storage sizes and embedder availability

Use --watch to re-render whenever indexing progress changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if opts.showConfig {
				return cfg.EncodeYAML(cmd.OutOrStdout())
			}
			opts.noColor = g.noColor
			return runStatus(ctx, cmd.OutOrStdout(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-render when progress changes (Ctrl+C to stop)")
	cmd.Flags().BoolVar(&opts.showConfig, "show-config", false, "Print the effective configuration as YAML")
	cmd.Flags().BoolVar(&opts.noProbe, "no-probe", false, "Skip the embedder availability check")

	return cmd
}

func runStatus(ctx context.Context, out io.Writer, cfg *config.Config, opts statusOptions) error {
	renderer := ui.NewStatusRenderer(out, opts.noColor || ui.DetectNoColor())

	embedderStatus := "unchecked"
	if !opts.noProbe {
		embedderStatus = probeEmbedder(ctx, cfg)
	}

	render := func() error {
		info, err := collectStatus(ctx, cfg)
		if err != nil {
			return err
		}
		info.EmbedderStatus = embedderStatus
		if opts.json {
			return renderer.RenderJSON(info)
		}
		return renderer.Render(info)
	}

	if err := render(); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}
	watchOpts := watcher.Options{
		Names:    []string{checkpoint.ProgressFileName, index.SummaryFileName},
		Debounce: statusDebounce,
	}
	return watcher.Watch(ctx, cfg.Paths.DataDir, watchOpts, func([]watcher.FileEvent) {
		_, _ = fmt.Fprintln(out)
		if err := render(); err != nil {
			slog.Warn("status_render_failed", slog.String("error", err.Error()))
		}
	})
}

// collectStatus gathers everything the status view shows from the data
// directory. Missing parts are left empty.
func collectStatus(ctx context.Context, cfg *config.Config) (ui.StatusInfo, error) {
	dataDir := cfg.Paths.DataDir
	info := ui.StatusInfo{
		DataDir:       dataDir,
		EmbedderType:  cfg.Embeddings.Provider,
		EmbedderModel: cfg.Embeddings.Model,
	}

	records, err := record.NewStore(cfg.RecordsDir())
	if err != nil {
		return info, lkerrors.IOError("failed to open record store", err)
	}
	tracker := checkpoint.NewTracker(records)
	keys, err := records.List()
	if err != nil {
		return info, lkerrors.IOError("failed to list chunk records", err)
	}
	for _, key := range keys {
		rec, err := records.Load(key)
		if err != nil {
			if lkerrors.IsCode(err, lkerrors.ErrCodeCorruptRecord) {
				info.CorruptRecords++
			}
			continue
		}
		info.Records++
		info.RecordChunks += len(rec.Chunks)
	}

	progress, err := checkpoint.LoadProgress(filepath.Join(dataDir, checkpoint.ProgressFileName))
	if err != nil && cfg.Paths.CorpusDir != "" {
		progress = recomputeProgress(ctx, cfg, tracker)
	}
	if progress != nil {
		info.Progress = &ui.ProgressInfo{
			Total:       progress.Total,
			Completed:   progress.Completed,
			Failed:      progress.Failed,
			OCRUsed:     progress.OCRUsed,
			Percent:     progress.Percent(),
			RatePerHour: progress.RatePerHour,
			Running:     progress.Running,
			UpdatedAt:   progress.UpdatedAt,
		}
		if progress.Running && progress.ETASeconds > 0 {
			info.Progress.ETA = ui.FormatDuration(time.Duration(progress.ETASeconds) * time.Second)
		}
	}

	if summary, err := index.LoadSummary(filepath.Join(dataDir, index.SummaryFileName)); err == nil {
		info.Summary = &ui.SummaryInfo{
			FinishedAt:  summary.FinishedAt,
			Successful:  summary.Successful,
			Failed:      summary.Failed,
			Skipped:     summary.Skipped,
			Interrupted: summary.Interrupted,
		}
	}

	build, err := store.CurrentInfo(cfg.SnapshotsDir())
	switch {
	case err == nil:
		info.Snapshot = &ui.SnapshotInfo{
			BuildID:      build.BuildID,
			Model:        build.ModelName,
			Provider:     build.Provider,
			Dimensions:   build.EmbeddingDim,
			Metric:       string(build.Metric),
			IndexType:    string(build.IndexType),
			NumChunks:    build.NumChunks,
			NumDocuments: build.NumDocuments,
			CreatedAt:    build.CreationDate,
		}
	case lkerrors.IsCode(err, lkerrors.ErrCodeNoSnapshot), errors.Is(err, fs.ErrNotExist):
	default:
		return info, err
	}

	info.RecordsSize = dirSize(cfg.RecordsDir())
	info.SnapshotSize = dirSize(cfg.SnapshotsDir())
	info.TotalSize = info.RecordsSize + info.SnapshotSize

	return info, nil
}

// recomputeProgress derives progress from the record directory when
// progress.json is missing. It returns nil if the corpus cannot be scanned.
func recomputeProgress(ctx context.Context, cfg *config.Config, tracker *checkpoint.Tracker) *checkpoint.ProgressState {
	docs, err := scanner.Scan(ctx, scanner.Options{Root: cfg.Paths.CorpusDir, Exclude: cfg.Paths.Exclude})
	if err != nil {
		return nil
	}
	state, err := checkpoint.Recompute(tracker, len(docs))
	if err != nil {
		return nil
	}
	return state
}

// probeEmbedder reports whether the configured embedder can be reached.
func probeEmbedder(ctx context.Context, cfg *config.Config) string {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	e, err := newEmbedder(probeCtx, cfg)
	if err != nil {
		slog.Debug("embedder_probe_failed", slog.String("error", err.Error()))
		return "offline"
	}
	defer func() { _ = e.Close() }()
	if !e.Available(probeCtx) {
		return "offline"
	}
	return "ready"
}

package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeplath/LOKIV2/internal/embed"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/record"
	"github.com/mikeplath/LOKIV2/internal/store"
	"github.com/mikeplath/LOKIV2/internal/ui"
)

// Options configures one build.
type Options struct {
	Metric    store.Metric
	IndexType store.IndexType
	HNSW      store.HNSWParams
	BatchSize int
}

// Dependencies are the collaborators of a Builder.
type Dependencies struct {
	// Records is the chunk record store to read (required).
	Records *record.Store

	// Embedder turns chunk texts into vectors (required).
	Embedder embed.Embedder

	// SnapshotsDir receives the snapshot directories and CURRENT (required).
	SnapshotsDir string

	// Renderer shows progress. Defaults to a no-op renderer.
	Renderer ui.Renderer
}

// Builder produces full-rebuild snapshots from the record store.
type Builder struct {
	records      *record.Store
	embedder     embed.Embedder
	snapshotsDir string
	renderer     ui.Renderer

	now   func() time.Time
	newID func() string
}

// NewBuilder creates a Builder with injected dependencies.
func NewBuilder(deps Dependencies) (*Builder, error) {
	if deps.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.SnapshotsDir == "" {
		return nil, fmt.Errorf("snapshots directory is required")
	}

	renderer := deps.Renderer
	if renderer == nil {
		renderer = ui.NopRenderer{}
	}

	return &Builder{
		records:      deps.Records,
		embedder:     deps.Embedder,
		snapshotsDir: deps.SnapshotsDir,
		renderer:     renderer,
		now:          time.Now,
		newID:        uuid.NewString,
	}, nil
}

// corpus is the flattened build input: texts[i] belongs to rows[i].
// documents counts only records that contributed a chunk.
type corpus struct {
	texts        []string
	rows         []store.CatalogRow
	documents    int
	skipped      []string
	chunkSize    int
	chunkOverlap int
}

// Build embeds every chunk of every valid record and publishes the result as
// the current snapshot. On failure the partial snapshot is removed and
// CURRENT is left untouched.
func (b *Builder) Build(ctx context.Context, opts Options) (*store.BuildInfo, error) {
	startTime := b.now()
	var timing ui.StageTimings

	opts, err := validate(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(b.snapshotsDir, 0755); err != nil {
		return nil, lkerrors.IOError("failed to create snapshots directory", err)
	}

	lockPath := filepath.Join(b.snapshotsDir, store.BuildLockFile)
	unlock, locked, err := record.TryLockFile(lockPath)
	if err != nil {
		return nil, lkerrors.IndexBuildError("failed to acquire build lock", err)
	}
	if !locked {
		return nil, lkerrors.IndexBuildError("another build is already running", nil).
			WithDetail("lock", lockPath)
	}
	defer unlock()

	// Stage 1: load records
	loadStart := b.now()
	b.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Loading chunk records..."})
	input, err := b.load()
	if err != nil {
		return nil, err
	}
	timing.Scan = b.now().Sub(loadStart)

	if len(input.texts) == 0 {
		return nil, lkerrors.IndexBuildError("no chunks to index", nil).
			WithSuggestion("Run 'loki index <corpus-dir>' first")
	}

	slog.Info("build_started",
		slog.Int("documents", input.documents),
		slog.Int("chunks", len(input.texts)),
		slog.Int("skipped_records", len(input.skipped)),
		slog.String("model", b.embedder.ModelName()),
		slog.String("metric", string(opts.Metric)),
		slog.String("index_type", string(opts.IndexType)))

	// Stage 2: embed
	embedStart := b.now()
	batcher, err := NewBatcher(b.embedder, opts.BatchSize)
	if err != nil {
		return nil, err
	}
	total := len(input.texts)
	b.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Total: total})
	vectors, err := batcher.Embed(ctx, input.texts, func(done int) {
		b.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: done, Total: total})
	})
	if err != nil {
		return nil, err
	}
	timing.Embed = b.now().Sub(embedStart)

	// Stage 3: write and publish
	indexStart := b.now()
	b.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: 0, Total: total,
		Message: fmt.Sprintf("Writing %s index...", opts.IndexType)})

	buildID := b.newID()
	dir := filepath.Join(b.snapshotsDir, buildID)
	info := store.BuildInfo{
		BuildID:      buildID,
		ModelName:    b.embedder.ModelName(),
		Provider:     string(embed.ProviderOf(b.embedder)),
		EmbeddingDim: b.embedder.Dimensions(),
		Metric:       opts.Metric,
		IndexType:    opts.IndexType,
		NumChunks:    total,
		NumDocuments: input.documents,
		CreationDate: b.now().UTC(),
		ChunkSize:    input.chunkSize,
		ChunkOverlap: input.chunkOverlap,
	}
	if opts.IndexType == store.IndexHNSW {
		info.HNSW = opts.HNSW
	}
	info.BuildDuration = b.now().Sub(startTime).Round(time.Millisecond).String()

	data := store.SnapshotData{Info: info, Vectors: vectors, Rows: input.rows}
	if err := store.WriteSnapshot(ctx, dir, data); err != nil {
		b.discard(dir)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("build interrupted: %w", ctx.Err())
		}
		return nil, lkerrors.IndexBuildError("failed to write snapshot", err)
	}

	if err := store.Publish(b.snapshotsDir, buildID); err != nil {
		b.discard(dir)
		return nil, lkerrors.IndexBuildError("failed to publish snapshot", err)
	}
	b.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Current: total, Total: total})

	removed, err := store.Prune(b.snapshotsDir, buildID)
	if err != nil {
		slog.Warn("snapshot_prune_failed", slog.String("error", err.Error()))
	}
	timing.Index = b.now().Sub(indexStart)

	published, err := store.ReadBuildInfo(dir)
	if err != nil {
		return nil, lkerrors.IndexBuildError("published snapshot unreadable", err)
	}

	duration := b.now().Sub(startTime)
	embedderInfo := embed.GetInfo(ctx, b.embedder)
	b.renderer.Complete(ui.CompletionStats{
		Title:    "Build",
		Files:    input.documents,
		Chunks:   total,
		Duration: duration,
		Warnings: len(input.skipped),
		Stages:   timing,
		Embedder: ui.EmbedderInfo{
			Backend:    string(embedderInfo.Provider),
			Model:      embedderInfo.Model,
			Dimensions: embedderInfo.Dimensions,
		},
	})

	slog.Info("build_complete",
		slog.String("build_id", buildID),
		slog.Int("documents", input.documents),
		slog.Int("chunks", total),
		slog.Int("pruned", len(removed)),
		slog.Int64("duration_load_ms", timing.Scan.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.Embed.Milliseconds()),
		slog.Int64("duration_index_ms", timing.Index.Milliseconds()),
		slog.Int64("duration_total_ms", duration.Milliseconds()))
	if cached, ok := b.embedder.(*embed.CachedEmbedder); ok {
		st := cached.Stats()
		slog.Debug("embedding_cache", slog.Int64("hits", st.Hits), slog.Int64("misses", st.Misses))
	}

	return published, nil
}

func validate(opts Options) (Options, error) {
	if opts.BatchSize <= 0 {
		return opts, lkerrors.ConfigError(fmt.Sprintf("batch size must be positive, got %d", opts.BatchSize), nil)
	}
	metric, err := store.ParseMetric(string(opts.Metric))
	if err != nil {
		return opts, lkerrors.ConfigError("invalid metric", err)
	}
	indexType, err := store.ParseIndexType(string(opts.IndexType))
	if err != nil {
		return opts, lkerrors.ConfigError("invalid index type", err)
	}
	opts.Metric = metric
	opts.IndexType = indexType
	if opts.IndexType == store.IndexHNSW {
		def := store.DefaultHNSWParams()
		if opts.HNSW.M <= 0 {
			opts.HNSW.M = def.M
		}
		if opts.HNSW.EfSearch <= 0 {
			opts.HNSW.EfSearch = def.EfSearch
		}
	}
	return opts, nil
}

// load reads every record in key order and flattens their chunks. Corrupt
// records are skipped; the next index run reprocesses them.
func (b *Builder) load() (*corpus, error) {
	keys, err := b.records.List()
	if err != nil {
		return nil, lkerrors.IndexBuildError("failed to list chunk records", err)
	}

	input := &corpus{}
	loaded, blank := false, 0
	for _, key := range keys {
		rec, err := b.records.Load(key)
		switch {
		case err == nil:
		case lkerrors.IsCode(err, lkerrors.ErrCodeCorruptRecord):
			slog.Warn("corrupt_record_skipped", lkerrors.LogAttrs(err)...)
			b.renderer.AddError(ui.ErrorEvent{File: key, Err: err, IsWarn: true})
			input.skipped = append(input.skipped, key)
			continue
		case errors.Is(err, fs.ErrNotExist):
			continue
		default:
			return nil, lkerrors.IndexBuildError("failed to load chunk record "+key, err)
		}

		if !loaded {
			input.chunkSize = rec.ChunkSize
			input.chunkOverlap = rec.ChunkOverlap
			loaded = true
		}

		added := 0
		for _, c := range rec.Chunks {
			// Blank text embeds to a zero vector that matches nothing.
			if strings.TrimSpace(c.Text) == "" {
				blank++
				continue
			}
			added++
			input.rows = append(input.rows, store.CatalogRow{
				Position:     len(input.texts),
				DocKey:       rec.Key,
				ChunkOrdinal: c.Ordinal,
				Text:         c.Text,
				FileName:     rec.Metadata.FileName,
				RelativePath: rec.Metadata.RelativePath,
				Category:     rec.Metadata.Category,
				Page:         c.Page,
				OCRUsed:      rec.Metadata.OCRUsed,
			})
			input.texts = append(input.texts, c.Text)
		}
		if added > 0 {
			input.documents++
		}
	}
	if blank > 0 {
		slog.Info("blank_chunks_skipped", slog.Int("count", blank))
	}
	return input, nil
}

func (b *Builder) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("snapshot_cleanup_failed",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}
}

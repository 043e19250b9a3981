// Package index runs the resumable indexing pipeline: every document of the
// corpus is extracted, chunked and saved as a chunk record exactly once,
// across as many runs as it takes.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeplath/LOKIV2/internal/checkpoint"
	"github.com/mikeplath/LOKIV2/internal/chunk"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/extract"
	"github.com/mikeplath/LOKIV2/internal/record"
	"github.com/mikeplath/LOKIV2/internal/scanner"
	"github.com/mikeplath/LOKIV2/internal/ui"
)

// Worker pool bounds.
const (
	MinWorkers = 1
	MaxWorkers = 4

	DefaultDocumentTimeout = 10 * time.Minute
)

// Config configures one indexing run.
type Config struct {
	// CorpusDir is the root of the PDF corpus.
	CorpusDir string

	// Workers is the number of documents processed concurrently (1..4).
	Workers int

	// DocumentTimeout bounds extraction of a single document.
	DocumentTimeout time.Duration

	// MaxPages is the per-document page cap the extractor was built with.
	// Only used for reporting truncation.
	MaxPages int

	// Limit restricts the run to the first N documents (0 = all).
	Limit int

	// Force reprocesses documents that already have a valid record.
	Force bool

	// Exclude holds glob patterns of corpus paths to skip.
	Exclude []string

	// SummaryPath receives indexing_summary.json. Empty disables it.
	SummaryPath string
}

// ScanFunc enumerates the corpus.
type ScanFunc func(ctx context.Context, opts scanner.Options) ([]scanner.Document, error)

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	// Scanner enumerates documents. Defaults to scanner.Scan.
	Scanner ScanFunc

	// Extractor reads page texts (required).
	Extractor extract.Extractor

	// Chunker splits page texts (required).
	Chunker *chunk.Chunker

	// Store persists chunk records and per-document claims (required).
	Store *record.Store

	// Tracker answers completion queries. Defaults to a tracker over Store.
	Tracker *checkpoint.Tracker

	// Renderer shows progress. Defaults to a no-op renderer.
	Renderer ui.Renderer

	// Progress maintains progress.json. Optional.
	Progress *checkpoint.ProgressFile
}

// Orchestrator drives the Pending -> InProgress -> Completed | Failed state
// machine over all documents of a corpus.
type Orchestrator struct {
	cfg       Config
	scan      ScanFunc
	extractor extract.Extractor
	chunker   *chunk.Chunker
	store     *record.Store
	tracker   *checkpoint.Tracker
	renderer  ui.Renderer
	progress  *checkpoint.ProgressFile

	now func() time.Time
}

// NewOrchestrator creates an Orchestrator with injected dependencies.
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if cfg.CorpusDir == "" {
		return nil, lkerrors.ConfigError("corpus directory is required", nil)
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if deps.Chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}

	cfg.Workers = ClampWorkers(cfg.Workers)
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = DefaultDocumentTimeout
	}

	o := &Orchestrator{
		cfg:       cfg,
		scan:      deps.Scanner,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		store:     deps.Store,
		tracker:   deps.Tracker,
		renderer:  deps.Renderer,
		progress:  deps.Progress,
		now:       time.Now,
	}
	if o.scan == nil {
		o.scan = scanner.Scan
	}
	if o.tracker == nil {
		o.tracker = checkpoint.NewTracker(deps.Store)
	}
	if o.renderer == nil {
		o.renderer = ui.NopRenderer{}
	}
	return o, nil
}

// ClampWorkers bounds n to [MinWorkers, MaxWorkers].
func ClampWorkers(n int) int {
	return max(MinWorkers, min(n, MaxWorkers))
}

// Event is the outcome of one document, emitted by a worker.
type Event struct {
	Document scanner.Document
	Key      string
	Status   Status
	Chunks   int
	OCRUsed  bool
	Err      error
	Duration time.Duration
}

// Run processes every pending document. Per-document failures are recorded
// and never abort the run; cancellation of ctx stops dispatch, waits for the
// documents in flight and still writes the summary.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	result := &Result{StartedAt: o.now()}
	var timing ui.StageTimings

	// Stage 1: enumerate
	scanStart := o.now()
	o.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Scanning %s...", o.cfg.CorpusDir),
	})
	docs, err := o.scan(ctx, scanner.Options{
		Root:    o.cfg.CorpusDir,
		Exclude: o.cfg.Exclude,
		Limit:   o.cfg.Limit,
	})
	if err != nil {
		return nil, lkerrors.IOError("failed to scan corpus", err).
			WithDetail("path", o.cfg.CorpusDir)
	}
	result.TotalFound = len(docs)

	pending := make([]scanner.Document, 0, len(docs))
	for _, doc := range docs {
		if !o.cfg.Force {
			done, err := o.tracker.IsCompleted(record.Key(doc.RelPath))
			if err != nil {
				return nil, lkerrors.IOError("failed to check document state", err).
					WithDetail("file", doc.RelPath)
			}
			if done {
				result.AlreadyComplete++
				continue
			}
		}
		pending = append(pending, doc)
	}
	timing.Scan = o.now().Sub(scanStart)

	slog.Info("index_started",
		slog.String("corpus", o.cfg.CorpusDir),
		slog.Int("found", result.TotalFound),
		slog.Int("already_complete", result.AlreadyComplete),
		slog.Int("pending", len(pending)),
		slog.Int("workers", o.cfg.Workers),
		slog.Bool("force", o.cfg.Force))

	if o.progress != nil {
		if err := o.progress.Start(result.TotalFound, result.AlreadyComplete); err != nil {
			slog.Warn("progress_write_failed", slog.String("error", err.Error()))
		}
	}

	// Stage 2: extract, chunk and save
	extractStart := o.now()
	o.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageExtracting,
		Total:   len(pending),
		Message: fmt.Sprintf("%d already complete, %d remaining", result.AlreadyComplete, len(pending)),
	})

	events := make(chan Event)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		o.collect(events, result, len(pending))
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, doc := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ev := o.process(gctx, doc)
			events <- ev
			if lkerrors.IsFatal(ev.Err) {
				return ev.Err
			}
			return nil
		})
	}
	fatal := g.Wait()
	close(events)
	<-collected
	timing.Extract = o.now().Sub(extractStart)

	result.Interrupted = ctx.Err() != nil || fatal != nil
	result.FinishedAt = o.now()

	if o.progress != nil {
		if err := o.progress.Flush(); err != nil {
			slog.Warn("progress_write_failed", slog.String("error", err.Error()))
		}
	}
	if o.cfg.SummaryPath != "" {
		if err := WriteSummary(o.cfg.SummaryPath, result); err != nil {
			slog.Warn("summary_write_failed",
				slog.String("path", o.cfg.SummaryPath),
				slog.String("error", err.Error()))
		}
	}

	o.renderer.Complete(ui.CompletionStats{
		Title:           "Indexing",
		Files:           result.Successful,
		AlreadyComplete: result.AlreadyComplete,
		Chunks:          result.Chunks,
		OCRUsed:         result.OCRUsed,
		Duration:        result.Duration(),
		Errors:          result.Failed,
		Warnings:        result.Skipped,
		Interrupted:     result.Interrupted,
		Stages:          timing,
	})

	slog.Info("index_complete",
		slog.Int("successful", result.Successful),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Int("ocr_used", result.OCRUsed),
		slog.Int("chunks", result.Chunks),
		slog.Bool("interrupted", result.Interrupted),
		slog.Int64("duration_scan_ms", timing.Scan.Milliseconds()),
		slog.Int64("duration_extract_ms", timing.Extract.Milliseconds()),
		slog.Int64("duration_total_ms", result.Duration().Milliseconds()))

	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

// collect is the single consumer of worker events; it owns result.
func (o *Orchestrator) collect(events <-chan Event, result *Result, total int) {
	done := 0
	for ev := range events {
		entry := DocumentResult{
			File:       ev.Document.RelPath,
			Key:        ev.Key,
			Status:     ev.Status,
			Chunks:     ev.Chunks,
			OCRUsed:    ev.OCRUsed,
			DurationMS: ev.Duration.Milliseconds(),
		}
		if ev.Err != nil {
			entry.Error = ev.Err.Error()
			entry.ErrorCode = lkerrors.GetCode(ev.Err)
			entry.ErrorCategory = string(lkerrors.GetCategory(ev.Err))
		}
		result.Results = append(result.Results, entry)

		var progressErr error
		switch ev.Status {
		case StatusCompleted:
			result.Successful++
			result.Chunks += ev.Chunks
			if ev.OCRUsed {
				result.OCRUsed++
			}
			if o.progress != nil {
				progressErr = o.progress.DocumentCompleted(ev.OCRUsed)
			}
			slog.Info("document_completed",
				slog.String("file", ev.Document.RelPath),
				slog.Int("chunks", ev.Chunks),
				slog.Bool("ocr_used", ev.OCRUsed),
				slog.Duration("duration", ev.Duration))
		case StatusFailed:
			result.Failed++
			if o.progress != nil {
				progressErr = o.progress.DocumentFailed()
			}
			o.renderer.AddError(ui.ErrorEvent{File: ev.Document.RelPath, Err: ev.Err})
			slog.Warn("document_failed",
				append([]any{slog.String("file", ev.Document.RelPath)}, lkerrors.LogAttrs(ev.Err)...)...)
		case StatusSkipped:
			result.Skipped++
			o.renderer.AddError(ui.ErrorEvent{File: ev.Document.RelPath, Err: ev.Err, IsWarn: true})
			slog.Info("document_skipped",
				slog.String("file", ev.Document.RelPath),
				slog.String("reason", ev.Err.Error()))
		case StatusInterrupted:
			slog.Info("document_interrupted", slog.String("file", ev.Document.RelPath))
		}
		if progressErr != nil {
			slog.Warn("progress_write_failed", slog.String("error", progressErr.Error()))
		}

		done++
		o.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageExtracting,
			Current:     done,
			Total:       total,
			CurrentFile: ev.Document.RelPath,
		})
	}
}

// process runs one document through claim, extract, chunk and save.
func (o *Orchestrator) process(ctx context.Context, doc scanner.Document) Event {
	start := o.now()
	key := record.Key(doc.RelPath)
	ev := Event{Document: doc, Key: key}
	finish := func(status Status, err error) Event {
		ev.Status = status
		ev.Err = err
		ev.Duration = o.now().Sub(start)
		return ev
	}

	if ctx.Err() != nil {
		return finish(StatusInterrupted, ctx.Err())
	}

	release, ok, err := o.store.Claim(key)
	if err != nil {
		return finish(StatusFailed, fmt.Errorf("failed to claim document: %w", err))
	}
	if !ok {
		return finish(StatusSkipped, errors.New("claimed by another worker"))
	}
	defer release()

	// Another process may have finished it between enumeration and the claim.
	if !o.cfg.Force {
		if done, err := o.tracker.IsCompleted(key); err == nil && done {
			return finish(StatusSkipped, errors.New("completed by another process"))
		}
	}

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DocumentTimeout)
	defer cancel()

	res, err := o.extractor.Extract(dctx, doc.Path)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return finish(StatusInterrupted, ctx.Err())
		case errors.Is(dctx.Err(), context.DeadlineExceeded):
			return finish(StatusFailed, lkerrors.ExtractionError(doc.RelPath,
				fmt.Errorf("timed out after %s: %w", o.cfg.DocumentTimeout, err)))
		default:
			return finish(StatusFailed, err)
		}
	}
	if res.Truncated {
		slog.Warn("document_truncated",
			slog.String("file", doc.RelPath),
			slog.Int("page_count", res.PageCount),
			slog.Int("max_pages", o.cfg.MaxPages))
	}

	chunks := o.chunker.Split(res.Pages)
	if chunks == nil {
		chunks = []chunk.Chunk{}
	}

	rec := &record.ChunkRecord{
		Key: key,
		Metadata: record.Metadata{
			FileName:       filepath.Base(doc.Path),
			FilePath:       doc.Path,
			RelativePath:   doc.RelPath,
			Category:       doc.Category,
			FileSizeMB:     doc.SizeMB(),
			PageCount:      res.PageCount,
			PagesProcessed: len(res.Pages),
			OCRUsed:        res.OCRUsed,
			CharsExtracted: res.Chars(),
			ProcessedDate:  o.now().UTC(),
		},
		ChunkSize:    o.chunker.Size(),
		ChunkOverlap: o.chunker.Overlap(),
		Chunks:       chunks,
	}
	if err := o.tracker.MarkCompleted(rec); err != nil {
		return finish(StatusFailed, err)
	}

	ev.Chunks = len(chunks)
	ev.OCRUsed = res.OCRUsed
	return finish(StatusCompleted, nil)
}

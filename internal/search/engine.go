package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mikeplath/LOKIV2/internal/embed"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/store"
)

// Engine runs nearest-neighbor queries over one loaded snapshot.
// It never mutates the snapshot, so concurrent searches need no locking.
type Engine struct {
	snapshot *store.Snapshot
	embedder embed.Embedder
	opts     Options
}

var _ Searcher = (*Engine)(nil)

// NewEngine creates an engine over snapshot, checking that embedder and
// opts.Metric agree with how the snapshot was built. The engine takes
// ownership of the snapshot; Close releases it.
func NewEngine(snapshot *store.Snapshot, embedder embed.Embedder, opts Options) (*Engine, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: snapshot is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}

	var metric store.Metric
	if opts.Metric != "" {
		m, err := store.ParseMetric(opts.Metric)
		if err != nil {
			return nil, lkerrors.ConfigError("invalid metric", err)
		}
		metric = m
	}
	if err := snapshot.Check(embedder.ModelName(), embedder.Dimensions(), metric); err != nil {
		return nil, err
	}

	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = DefaultSnippetLength
	}
	return &Engine{snapshot: snapshot, embedder: embedder, opts: opts}, nil
}

// Search embeds query, finds its nearest chunks and returns them ordered by
// ascending distance, ties broken by position.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, lkerrors.New(lkerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("Provide the text to search for, e.g. loki query \"how to purify water\"")
	}

	k := opts.K
	if k <= 0 {
		k = e.opts.MaxResults
	}
	k = min(k, MaxResultsLimit)

	minScore := e.opts.MinScore
	if opts.MinScore > 0 {
		minScore = opts.MinScore
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, lkerrors.New(lkerrors.ErrCodeEmbeddingFailed, "failed to embed query", err).
			WithDetail("model", e.embedder.ModelName())
	}

	hits, err := e.snapshot.Index.Search(vec, k)
	if err != nil {
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			return nil, lkerrors.New(lkerrors.ErrCodeDimensionMismatch, "query vector does not match index", err)
		}
		return nil, lkerrors.New(lkerrors.ErrCodeSearchFailed, "vector search failed", err)
	}

	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	rows, err := e.snapshot.Catalog.Rows(ctx, positions)
	if err != nil {
		return nil, lkerrors.New(lkerrors.ErrCodeSearchFailed, "failed to read chunk catalog", err)
	}

	results := make([]*Result, 0, len(hits))
	for _, h := range hits {
		row, ok := rows[h.Position]
		if !ok {
			slog.Warn("search_position_missing", slog.Int("position", h.Position))
			continue
		}
		sim := store.Similarity(h.Distance)
		if float64(sim) < minScore {
			continue
		}
		results = append(results, &Result{
			Rank:         len(results) + 1,
			Position:     h.Position,
			Distance:     h.Distance,
			Similarity:   sim,
			Text:         row.Text,
			Snippet:      Snippet(row.Text, e.opts.SnippetLength),
			FileName:     row.FileName,
			RelativePath: row.RelativePath,
			Category:     row.Category,
			Page:         row.Page,
		})
	}

	slog.Debug("search_complete",
		slog.Int("k", k),
		slog.Int("hits", len(hits)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	return results, nil
}

// Stats describes the served snapshot.
func (e *Engine) Stats() Stats {
	info := e.snapshot.Info
	return Stats{
		BuildID:    info.BuildID,
		Model:      info.ModelName,
		Dimensions: info.EmbeddingDim,
		Metric:     string(info.Metric),
		IndexType:  string(info.IndexType),
		Chunks:     info.NumChunks,
		Documents:  info.NumDocuments,
	}
}

// Close releases the snapshot.
func (e *Engine) Close() error {
	return e.snapshot.Close()
}

// Snippet collapses whitespace in text and shortens it to at most limit
// runes, cutting at a word boundary and marking the cut with "...".
func Snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	const ellipsis = "..."
	if limit <= len(ellipsis) {
		return string([]rune(text)[:limit])
	}

	all := []rune(text)
	runes := all[:limit-len(ellipsis)]
	cut := len(runes)
	if unicode.IsSpace(all[cut]) {
		return string(runes) + ellipsis
	}
	for i := len(runes) - 1; i > len(runes)/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + ellipsis
}

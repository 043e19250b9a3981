// Package build embeds every recorded chunk and publishes a new index
// snapshot.
package build

import (
	"context"
	"fmt"

	"github.com/mikeplath/LOKIV2/internal/embed"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// Batcher feeds texts to an embedder in fixed-size batches.
type Batcher struct {
	Embedder  embed.Embedder
	BatchSize int
}

// NewBatcher validates the batch size.
func NewBatcher(e embed.Embedder, batchSize int) (*Batcher, error) {
	if e == nil {
		return nil, lkerrors.ConfigError("embedder is required", nil)
	}
	if batchSize <= 0 {
		return nil, lkerrors.ConfigError(fmt.Sprintf("batch size must be positive, got %d", batchSize), nil)
	}
	return &Batcher{Embedder: e, BatchSize: batchSize}, nil
}

// Embed returns one vector per text, in input order. onBatch, if set, is
// called after each batch with the number of texts embedded so far.
func (b *Batcher) Embed(ctx context.Context, texts []string, onBatch func(done int)) ([][]float32, error) {
	if b.BatchSize <= 0 {
		return nil, lkerrors.ConfigError(fmt.Sprintf("batch size must be positive, got %d", b.BatchSize), nil)
	}

	dims := b.Embedder.Dimensions()
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += b.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("embedding interrupted at %d/%d chunks: %w", start, len(texts), err)
		}

		end := min(start+b.BatchSize, len(texts))
		batch := texts[start:end]

		vectors, err := b.Embedder.EmbedBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embedding interrupted at %d/%d chunks: %w", start, len(texts), ctx.Err())
			}
			return nil, lkerrors.IndexBuildError(
				fmt.Sprintf("embedding batch %d-%d failed", start, end), err)
		}
		if len(vectors) != len(batch) {
			return nil, lkerrors.IndexBuildError(
				fmt.Sprintf("embedding batch %d-%d returned %d vectors for %d texts", start, end, len(vectors), len(batch)), nil)
		}
		for i, v := range vectors {
			if len(v) != dims {
				return nil, lkerrors.IndexBuildError(
					fmt.Sprintf("chunk %d embedded with dimension %d, expected %d", start+i, len(v), dims), nil)
			}
		}

		out = append(out, vectors...)
		if onBatch != nil {
			onBatch(len(out))
		}
	}

	return out, nil
}

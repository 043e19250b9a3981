// Package embed turns text into fixed-dimension vectors.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MinBatchSize and MaxBatchSize bound texts per model request.
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	// DefaultRequestsPerSecond of zero leaves model calls unthrottled.
	DefaultRequestsPerSecond = 0

	// StaticDimensions matches all-minilm so either backend fits the same
	// metric settings.
	StaticDimensions = 384
)

// Embedder maps text to vectors. The same model must return the same
// vector for the same text, and implementations are safe for concurrent
// use. EmbedBatch returns vectors in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	// Available probes the backend without embedding anything.
	Available(ctx context.Context) bool
	Close() error
}

// normalizeVector returns v scaled to unit length. The zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

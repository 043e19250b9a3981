// Package search answers free-text queries against a published index
// snapshot. Queries are embedded with the same model the snapshot was built
// with, matched by nearest-neighbor distance, and joined back to the chunk
// catalog for provenance.
package search

import (
	"context"
	"errors"
)

// Searcher answers semantic queries.
type Searcher interface {
	// Search embeds query and returns the closest chunks, best first.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*Result, error)

	// Close releases the underlying snapshot.
	Close() error
}

// Defaults applied when Options leaves a field unset.
const (
	DefaultMaxResults    = 5
	DefaultSnippetLength = 300

	// MaxResultsLimit caps K regardless of what the caller asks for.
	MaxResultsLimit = 100
)

// Options configures an Engine.
type Options struct {
	// Metric is the distance metric the caller expects. Empty accepts the
	// snapshot's metric.
	Metric string

	// MaxResults is used when a search asks for K <= 0.
	MaxResults int

	// MinScore drops results whose similarity is below it.
	MinScore float64

	// SnippetLength caps result snippets, in runes.
	SnippetLength int
}

// SearchOptions configures one query.
type SearchOptions struct {
	// K is the number of results to return (0 = engine MaxResults).
	K int

	// MinScore overrides the engine minimum similarity when > 0.
	MinScore float64
}

// Result is one ranked chunk.
type Result struct {
	Rank         int     `json:"rank"`
	Position     int     `json:"position"`
	Distance     float32 `json:"distance"`
	Similarity   float32 `json:"similarity"`
	Text         string  `json:"text"`
	Snippet      string  `json:"snippet"`
	FileName     string  `json:"file_name"`
	RelativePath string  `json:"relative_path"`
	Category     string  `json:"category"`
	Page         int     `json:"page"`
}

// Stats describes the snapshot an engine serves.
type Stats struct {
	BuildID    string
	Model      string
	Dimensions int
	Metric     string
	IndexType  string
	Chunks     int
	Documents  int
}

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

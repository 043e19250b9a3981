// Package store holds the vector index, the chunk catalog, and the on-disk
// snapshot that binds them together.
//
// Position i in the index, row i of the catalog and chunk i of the flattened
// build input always describe the same chunk.
package store

import (
	"fmt"
	"time"
)

// Metric is the distance function used by an index.
type Metric string

const (
	// MetricL2Squared is squared Euclidean distance.
	MetricL2Squared Metric = "l2sq"
	// MetricCosine is 1 - cosine similarity.
	MetricCosine Metric = "cosine"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricL2Squared, MetricCosine:
		return Metric(s), nil
	case "":
		return MetricL2Squared, nil
	default:
		return "", fmt.Errorf("unknown metric %q (valid: l2sq, cosine)", s)
	}
}

// IndexType selects the search structure.
type IndexType string

const (
	// IndexFlat is an exact scan over all vectors.
	IndexFlat IndexType = "flat"
	// IndexHNSW is an approximate graph whose candidates are re-scored exactly.
	IndexHNSW IndexType = "hnsw"
)

// ParseIndexType validates an index type name.
func ParseIndexType(s string) (IndexType, error) {
	switch IndexType(s) {
	case IndexFlat, IndexHNSW:
		return IndexType(s), nil
	case "":
		return IndexFlat, nil
	default:
		return "", fmt.Errorf("unknown index type %q (valid: flat, hnsw)", s)
	}
}

// Hit is one search result: an index position and its distance to the query.
type Hit struct {
	Position int
	Distance float32
}

// Index answers nearest-neighbour queries over positions [0, Len()).
// Implementations are read-only after construction and safe for concurrent use.
type Index interface {
	// Search returns up to k hits ordered by (distance, position).
	Search(query []float32, k int) ([]Hit, error)
	// Len returns the number of vectors.
	Len() int
	// Dimensions returns the vector width.
	Dimensions() int
	// Metric returns the distance function.
	Metric() Metric
}

// HNSWParams tunes the HNSW graph.
type HNSWParams struct {
	M        int `json:"m"`
	EfSearch int `json:"ef_search"`
}

// DefaultHNSWParams returns the coder/hnsw recommendations.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 16, EfSearch: 64}
}

// BuildInfo describes how a snapshot was built. Queries must match its
// model, dimension and metric.
type BuildInfo struct {
	BuildID       string     `json:"build_id"`
	ModelName     string     `json:"model_name"`
	Provider      string     `json:"provider"`
	EmbeddingDim  int        `json:"embedding_dim"`
	Metric        Metric     `json:"metric"`
	IndexType     IndexType  `json:"index_type"`
	HNSW          HNSWParams `json:"hnsw,omitempty"`
	NumChunks     int        `json:"num_chunks"`
	NumDocuments  int        `json:"num_documents"`
	CreationDate  time.Time  `json:"creation_date"`
	ChunkSize     int        `json:"chunk_size"`
	ChunkOverlap  int        `json:"chunk_overlap"`
	BuildDuration string     `json:"build_duration,omitempty"`
}

// CatalogRow is the metadata stored for one index position.
type CatalogRow struct {
	Position     int
	DocKey       string
	ChunkOrdinal int
	Text         string
	FileName     string
	RelativePath string
	Category     string
	Page         int
	OCRUsed      bool
}

// SnapshotData is everything needed to write a snapshot.
type SnapshotData struct {
	Info    BuildInfo
	Vectors [][]float32
	Rows    []CatalogRow
}

// Snapshot file names.
const (
	CurrentFile   = "CURRENT"
	VectorsFile   = "vectors.bin"
	GraphFile     = "graph.hnsw"
	CatalogFile   = "catalog.db"
	BuildInfoFile = "build_info.json"
	BuildLockFile = ".build.lock"
)

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'loki build')", e.Expected, e.Got)
}

package store

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex answers queries with a coder/hnsw graph and re-scores the
// candidates exactly against the flat vectors. Graph keys are index positions.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	flat   *FlatIndex
	params HNSWParams
}

// Verify interface implementation
var _ Index = (*HNSWIndex)(nil)

func newGraph(metric Metric, params HNSWParams) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()

	// Only registered distance functions survive Export/Import. Euclidean
	// orders candidates the same way squared L2 does.
	switch metric {
	case MetricCosine:
		graph.Distance = hnsw.CosineDistance
	default:
		graph.Distance = hnsw.EuclideanDistance
	}

	graph.M = params.M
	graph.EfSearch = params.EfSearch
	graph.Ml = 0.25
	return graph
}

func withDefaults(params HNSWParams) HNSWParams {
	def := DefaultHNSWParams()
	if params.M <= 0 {
		params.M = def.M
	}
	if params.EfSearch <= 0 {
		params.EfSearch = def.EfSearch
	}
	return params
}

// NewHNSWIndex builds a graph over every vector in flat.
func NewHNSWIndex(flat *FlatIndex, params HNSWParams) *HNSWIndex {
	params = withDefaults(params)
	graph := newGraph(flat.Metric(), params)

	for i := 0; i < flat.Len(); i++ {
		graph.Add(hnsw.MakeNode(uint64(i), graphVector(flat.Metric(), flat.Vector(i))))
	}

	return &HNSWIndex{graph: graph, flat: flat, params: params}
}

// LoadHNSWIndex imports a graph saved by Save. Graph keys that fall outside
// the flat index are ignored at query time.
func LoadHNSWIndex(path string, flat *FlatIndex, params HNSWParams) (*HNSWIndex, error) {
	params = withDefaults(params)
	graph := newGraph(flat.Metric(), params)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires io.ByteReader
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}
	// Import restores the saved parameters; search breadth follows the caller.
	graph.EfSearch = params.EfSearch

	return &HNSWIndex{graph: graph, flat: flat, params: params}, nil
}

// Save exports the graph using temp file + rename.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}

	if err := h.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close graph file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename graph file: %w", err)
	}
	return nil
}

// Search collects max(k, EfSearch) graph candidates and returns the k best by
// exact distance. If the graph yields fewer candidates than it should, the
// query falls back to a flat scan.
func (h *HNSWIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != h.flat.Dimensions() {
		return nil, ErrDimensionMismatch{Expected: h.flat.Dimensions(), Got: len(query)}
	}
	n := h.flat.Len()
	if k <= 0 || n == 0 {
		return []Hit{}, nil
	}

	want := max(k, h.params.EfSearch)

	h.mu.RLock()
	var nodes []hnsw.Node[uint64]
	if h.graph.Len() > 0 {
		nodes = h.graph.Search(graphVector(h.flat.Metric(), query), want)
	}
	h.mu.RUnlock()

	candidates := make([]int, 0, len(nodes))
	for _, node := range nodes {
		if node.Key > math.MaxInt32 {
			continue
		}
		candidates = append(candidates, int(node.Key))
	}

	hits := h.flat.Rerank(query, candidates, k)
	if len(hits) < min(k, n) {
		return h.flat.Search(query, k)
	}
	return hits, nil
}

// Len returns the number of indexed vectors.
func (h *HNSWIndex) Len() int { return h.flat.Len() }

// Dimensions returns the vector width.
func (h *HNSWIndex) Dimensions() int { return h.flat.Dimensions() }

// Metric returns the distance function.
func (h *HNSWIndex) Metric() Metric { return h.flat.Metric() }

// Params returns the graph parameters in effect.
func (h *HNSWIndex) Params() HNSWParams { return h.params }

// graphVector returns the form stored in the graph: a normalized copy for
// cosine, the vector itself otherwise.
func graphVector(metric Metric, v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if metric == MetricCosine {
		normalizeVectorInPlace(out)
	}
	return out
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

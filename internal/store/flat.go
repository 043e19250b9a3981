package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// vectorsMagic identifies a vectors.bin file.
var vectorsMagic = [8]byte{'L', 'O', 'K', 'I', 'V', 'E', 'C', '1'}

// FlatIndex is an exact nearest-neighbour index over a contiguous block of
// float32 rows. Positions are insertion order.
type FlatIndex struct {
	dims   int
	metric Metric
	data   []float32
}

// Verify interface implementation
var _ Index = (*FlatIndex)(nil)

// NewFlatIndex creates an empty index.
func NewFlatIndex(dims int, metric Metric) (*FlatIndex, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dims)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return &FlatIndex{dims: dims, metric: metric}, nil
}

// Add appends vectors; the first gets position Len().
func (f *FlatIndex) Add(vectors ...[]float32) error {
	for _, v := range vectors {
		if len(v) != f.dims {
			return ErrDimensionMismatch{Expected: f.dims, Got: len(v)}
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Len returns the number of vectors.
func (f *FlatIndex) Len() int { return len(f.data) / f.dims }

// Dimensions returns the vector width.
func (f *FlatIndex) Dimensions() int { return f.dims }

// Metric returns the distance function.
func (f *FlatIndex) Metric() Metric { return f.metric }

// Vector returns the stored row at position i. The slice aliases index memory.
func (f *FlatIndex) Vector(i int) []float32 {
	return f.data[i*f.dims : (i+1)*f.dims]
}

// Distance returns the exact distance from query to position i.
func (f *FlatIndex) Distance(query []float32, i int) float32 {
	return Distance(f.metric, query, f.Vector(i))
}

// Search scans every vector and returns the k nearest, ordered by
// (distance asc, position asc).
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != f.dims {
		return nil, ErrDimensionMismatch{Expected: f.dims, Got: len(query)}
	}
	n := f.Len()
	if k <= 0 || n == 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Position: i, Distance: f.Distance(query, i)}
	}
	sortHits(hits)

	if k < n {
		hits = hits[:k]
	}
	return hits, nil
}

// Rerank computes exact distances for candidate positions, drops positions
// outside [0, Len()) and duplicates, and returns the k best.
func (f *FlatIndex) Rerank(query []float32, candidates []int, k int) []Hit {
	n := f.Len()
	seen := make(map[int]bool, len(candidates))
	hits := make([]Hit, 0, len(candidates))
	for _, p := range candidates {
		if p < 0 || p >= n || seen[p] {
			continue
		}
		seen[p] = true
		hits = append(hits, Hit{Position: p, Distance: f.Distance(query, p)})
	}
	sortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

// sortHits orders by ascending distance; equal distances by position.
// NaN distances sort last.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(a, b int) bool {
		da, db := hits[a].Distance, hits[b].Distance
		na, nb := isNaN(da), isNaN(db)
		if na != nb {
			return nb
		}
		if da != db && !na {
			return da < db
		}
		return hits[a].Position < hits[b].Position
	})
}

func isNaN(f float32) bool { return f != f }

// WriteTo serializes the index: magic, dims (uint32), count (uint64), then
// little-endian float32 rows.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64

	header := make([]byte, 0, 20)
	header = append(header, vectorsMagic[:]...)
	header = binary.LittleEndian.AppendUint32(header, uint32(f.dims))
	header = binary.LittleEndian.AppendUint64(header, uint64(f.Len()))
	n, err := bw.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	var buf [4]byte
	for _, v := range f.data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		n, err := bw.Write(buf[:])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// ReadFlatIndex deserializes an index written by WriteTo.
func ReadFlatIndex(r io.Reader, metric Metric) (*FlatIndex, error) {
	br := bufio.NewReader(r)

	var header [20]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read vectors header: %w", err)
	}
	if [8]byte(header[:8]) != vectorsMagic {
		return nil, fmt.Errorf("not a vectors file")
	}
	dims := int(binary.LittleEndian.Uint32(header[8:12]))
	count := binary.LittleEndian.Uint64(header[12:20])
	if dims <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dims)
	}
	if count > math.MaxInt32 {
		return nil, fmt.Errorf("invalid vector count %d", count)
	}

	f, err := NewFlatIndex(dims, metric)
	if err != nil {
		return nil, err
	}

	total := int(count) * dims
	f.data = make([]float32, total)
	var buf [4]byte
	for i := 0; i < total; i++ {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, fmt.Errorf("vectors file truncated at value %d of %d: %w", i, total, err)
		}
		f.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("vectors file has trailing data")
	}
	return f, nil
}

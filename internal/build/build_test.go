package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeplath/LOKIV2/internal/chunk"
	"github.com/mikeplath/LOKIV2/internal/embed"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/record"
	"github.com/mikeplath/LOKIV2/internal/store"
)

// scriptedEmbedder wraps the static embedder and can misbehave on demand.
type scriptedEmbedder struct {
	*embed.StaticEmbedder

	mu        sync.Mutex
	batches   [][]string
	failAt    int // 1-based batch number that fails; 0 never
	dropOne   bool
	wrongDims bool
	onBatch   func(n int)
}

func newScripted(dims int) *scriptedEmbedder {
	return &scriptedEmbedder{StaticEmbedder: embed.NewStaticEmbedder(dims)}
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.batches = append(s.batches, append([]string(nil), texts...))
	n := len(s.batches)
	s.mu.Unlock()

	if s.onBatch != nil {
		s.onBatch(n)
	}
	if n == s.failAt {
		return nil, errors.New("model server went away")
	}

	vecs, err := s.StaticEmbedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if s.dropOne {
		vecs = vecs[:len(vecs)-1]
	}
	if s.wrongDims {
		vecs[0] = vecs[0][:1]
	}
	return vecs, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("passage number %d about water", i)
	}
	return out
}

func TestBatcher_PreservesOrderAndBatchSize(t *testing.T) {
	// Given: 10 texts and batch size 4
	e := newScripted(16)
	b, err := NewBatcher(e, 4)
	require.NoError(t, err)

	var progress []int
	in := texts(10)

	// When: embedding
	got, err := b.Embed(context.Background(), in, func(done int) { progress = append(progress, done) })

	// Then: three calls of at most four texts, and output order matches input
	require.NoError(t, err)
	require.Len(t, e.batches, 3)
	assert.Len(t, e.batches[0], 4)
	assert.Len(t, e.batches[2], 2)
	assert.Equal(t, []int{4, 8, 10}, progress)

	require.Len(t, got, 10)
	for i, text := range in {
		want, err := e.StaticEmbedder.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, got[i], "text %d", i)
	}
}

func TestBatcher_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script func(*scriptedEmbedder)
	}{
		{"embedder error", func(s *scriptedEmbedder) { s.failAt = 2 }},
		{"short batch", func(s *scriptedEmbedder) { s.dropOne = true }},
		{"wrong dimension", func(s *scriptedEmbedder) { s.wrongDims = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newScripted(16)
			tt.script(e)
			b, err := NewBatcher(e, 3)
			require.NoError(t, err)

			_, err = b.Embed(context.Background(), texts(7), nil)

			require.Error(t, err)
			assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeIndexBuild))
		})
	}
}

func TestBatcher_StopsBetweenBatchesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newScripted(16)
	e.onBatch = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	b, err := NewBatcher(e, 2)
	require.NoError(t, err)

	_, err = b.Embed(ctx, texts(6), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, e.batches, 1)
}

func TestNewBatcher_RejectsBadBatchSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := NewBatcher(newScripted(8), size)
		require.Error(t, err)
		assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeConfigInvalid))
	}
}

// fixture is a data dir with a record store and a snapshots dir.
type fixture struct {
	records   *record.Store
	snapshots string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	rs, err := record.NewStore(filepath.Join(dir, "records"))
	require.NoError(t, err)
	return &fixture{records: rs, snapshots: filepath.Join(dir, "snapshots")}
}

func (f *fixture) addRecord(t *testing.T, relPath string, chunkTexts ...string) *record.ChunkRecord {
	t.Helper()
	rec := &record.ChunkRecord{
		Key: record.Key(relPath),
		Metadata: record.Metadata{
			FileName:     filepath.Base(relPath),
			RelativePath: relPath,
			Category:     filepath.Dir(relPath),
			OCRUsed:      len(chunkTexts)%2 == 1,
		},
		ChunkSize:    2000,
		ChunkOverlap: 200,
		Chunks:       []chunk.Chunk{},
	}
	offset := 0
	for i, text := range chunkTexts {
		rec.Chunks = append(rec.Chunks, chunk.Chunk{
			Ordinal: i, Text: text, Page: i + 1, Start: offset, End: offset + len([]rune(text)),
		})
		offset += len([]rune(text))
	}
	require.NoError(t, f.records.Save(rec))
	return rec
}

func (f *fixture) builder(t *testing.T, e embed.Embedder) *Builder {
	t.Helper()
	b, err := NewBuilder(Dependencies{Records: f.records, Embedder: e, SnapshotsDir: f.snapshots})
	require.NoError(t, err)
	return b
}

func defaultOptions() Options {
	return Options{Metric: store.MetricL2Squared, IndexType: store.IndexFlat, BatchSize: 2}
}

func TestBuilder_BuildKeepsPositionsAligned(t *testing.T) {
	// Given: three documents with 2, 0 and 3 chunks
	f := newFixture(t)
	f.addRecord(t, "water/boiling.pdf", "Boil water for one minute.", "Let it cool before drinking.")
	f.addRecord(t, "misc/blank.pdf")
	f.addRecord(t, "medical/burns.pdf", "Cool the burn.", "Cover loosely.", "Do not pop blisters.")
	e := embed.NewStaticEmbedder(32)

	// When: building
	info, err := f.builder(t, e).Build(context.Background(), defaultOptions())

	// Then: build info describes the published snapshot
	require.NoError(t, err)
	assert.Equal(t, 5, info.NumChunks)
	assert.Equal(t, 2, info.NumDocuments)
	assert.Equal(t, "static-32", info.ModelName)
	assert.Equal(t, "static", info.Provider)
	assert.Equal(t, 32, info.EmbeddingDim)
	assert.Equal(t, 2000, info.ChunkSize)

	// And: position i holds the embedding of catalog row i's text
	snap, err := store.OpenSnapshot(f.snapshots)
	require.NoError(t, err)
	defer func() { _ = snap.Close() }()
	assert.Equal(t, info.BuildID, snap.Info.BuildID)

	all := []int{0, 1, 2, 3, 4}
	rows, err := snap.Catalog.Rows(context.Background(), all)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, p := range all {
		want, err := e.Embed(context.Background(), rows[p].Text)
		require.NoError(t, err)
		assert.Equal(t, want, snap.Flat.Vector(p), "position %d", p)
	}

	// And: records are flattened in key order, chunks in ordinal order
	assert.Equal(t, record.Key("water/boiling.pdf"), rows[0].DocKey)
	assert.Equal(t, 0, rows[0].ChunkOrdinal)
	assert.Equal(t, 1, rows[1].ChunkOrdinal)
	assert.Equal(t, record.Key("medical/burns.pdf"), rows[2].DocKey)
	assert.Equal(t, "Do not pop blisters.", rows[4].Text)
	assert.Equal(t, 3, rows[4].Page)
}

func TestBuilder_SkipsCorruptRecords(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "a.pdf", "first text")
	bad := f.addRecord(t, "b.pdf", "second text")
	require.NoError(t, os.WriteFile(f.records.Path(bad.Key), []byte(`{"version":1,`), 0644))

	info, err := f.builder(t, embed.NewStaticEmbedder(16)).Build(context.Background(), defaultOptions())

	require.NoError(t, err)
	assert.Equal(t, 1, info.NumDocuments)
	assert.Equal(t, 1, info.NumChunks)
}

func TestBuilder_SkipsBlankChunks(t *testing.T) {
	// Given: a record whose middle chunk is whitespace and one with only blank chunks
	f := newFixture(t)
	f.addRecord(t, "water/boiling.pdf", "Boil water for one minute.", " \n\t ", "Let it cool before drinking.")
	f.addRecord(t, "misc/scan.pdf", "   ", "\n")
	e := embed.NewStaticEmbedder(16)

	// When: building
	info, err := f.builder(t, e).Build(context.Background(), defaultOptions())

	// Then: blank chunks are left out and positions stay contiguous
	require.NoError(t, err)
	assert.Equal(t, 2, info.NumChunks)
	assert.Equal(t, 1, info.NumDocuments)

	snap, err := store.OpenSnapshot(f.snapshots)
	require.NoError(t, err)
	defer func() { _ = snap.Close() }()

	rows, err := snap.Catalog.Rows(context.Background(), []int{0, 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].ChunkOrdinal)
	assert.Equal(t, 2, rows[1].ChunkOrdinal)
	for p, row := range rows {
		assert.NotEmpty(t, strings.TrimSpace(row.Text))
		want, err := e.Embed(context.Background(), row.Text)
		require.NoError(t, err)
		assert.Equal(t, want, snap.Flat.Vector(p), "position %d", p)
	}
}

func TestBuilder_ZeroChunksIsBuildError(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "blank.pdf")

	_, err := f.builder(t, embed.NewStaticEmbedder(16)).Build(context.Background(), defaultOptions())

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeIndexBuild))
	_, err = store.Current(f.snapshots)
	assert.ErrorIs(t, err, store.ErrNoSnapshot)
}

func TestBuilder_FailureLeavesCurrentUntouched(t *testing.T) {
	// Given: a published snapshot
	f := newFixture(t)
	f.addRecord(t, "a.pdf", "one", "two", "three")
	first, err := f.builder(t, embed.NewStaticEmbedder(16)).Build(context.Background(), defaultOptions())
	require.NoError(t, err)

	// When: a rebuild fails while embedding
	failing := newScripted(16)
	failing.failAt = 2
	_, err = f.builder(t, failing).Build(context.Background(), defaultOptions())

	// Then: CURRENT still names the first build and no partial directory is left
	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeIndexBuild))
	id, err := store.Current(f.snapshots)
	require.NoError(t, err)
	assert.Equal(t, first.BuildID, id)

	entries, err := os.ReadDir(f.snapshots)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	assert.Equal(t, []string{first.BuildID}, dirs)
}

func TestBuilder_RebuildReplacesAndPrunes(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "a.pdf", "one")
	b := f.builder(t, embed.NewStaticEmbedder(16))

	first, err := b.Build(context.Background(), defaultOptions())
	require.NoError(t, err)
	f.addRecord(t, "b.pdf", "two", "three")
	second, err := b.Build(context.Background(), defaultOptions())
	require.NoError(t, err)

	assert.NotEqual(t, first.BuildID, second.BuildID)
	assert.Equal(t, 3, second.NumChunks)
	assert.NoDirExists(t, filepath.Join(f.snapshots, first.BuildID))
	assert.DirExists(t, filepath.Join(f.snapshots, second.BuildID))
}

func TestBuilder_HNSWIndex(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "a.pdf", "boil water", "filter water", "purify with bleach")

	opts := defaultOptions()
	opts.IndexType = store.IndexHNSW
	opts.Metric = store.MetricCosine
	info, err := f.builder(t, embed.NewStaticEmbedder(16)).Build(context.Background(), opts)

	require.NoError(t, err)
	assert.Equal(t, store.IndexHNSW, info.IndexType)
	assert.Equal(t, store.MetricCosine, info.Metric)
	assert.Equal(t, store.DefaultHNSWParams(), info.HNSW)
	assert.FileExists(t, filepath.Join(f.snapshots, info.BuildID, store.GraphFile))
}

func TestBuilder_RejectsConcurrentBuild(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "a.pdf", "one")

	unlock, ok, err := record.TryLockFile(filepath.Join(f.snapshots, store.BuildLockFile))
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	_, err = f.builder(t, embed.NewStaticEmbedder(16)).Build(context.Background(), defaultOptions())

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeIndexBuild))
	assert.Contains(t, err.Error(), "already running")
}

func TestBuilder_InvalidOptions(t *testing.T) {
	f := newFixture(t)
	b := f.builder(t, embed.NewStaticEmbedder(16))

	tests := []struct {
		name string
		opts Options
	}{
		{"zero batch", Options{BatchSize: 0}},
		{"bad metric", Options{BatchSize: 8, Metric: "dot"}},
		{"bad index type", Options{BatchSize: 8, IndexType: "ivf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), tt.opts)
			require.Error(t, err)
			assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeConfigInvalid))
		})
	}
}

func TestNewBuilder_RequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := NewBuilder(Dependencies{Embedder: embed.NewStaticEmbedder(8), SnapshotsDir: f.snapshots})
	assert.Error(t, err)
	_, err = NewBuilder(Dependencies{Records: f.records, SnapshotsDir: f.snapshots})
	assert.Error(t, err)
	_, err = NewBuilder(Dependencies{Records: f.records, Embedder: embed.NewStaticEmbedder(8)})
	assert.Error(t, err)
}

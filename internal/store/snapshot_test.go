package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

func sampleData(buildID string, indexType IndexType, n int) SnapshotData {
	vectors := randomVectors(int64(len(buildID)), n, 4)
	rows := make([]CatalogRow, n)
	for i := range rows {
		rows[i] = CatalogRow{
			Position:     i,
			DocKey:       fmt.Sprintf("doc%d_0000000%d", i/3, i/3),
			ChunkOrdinal: i % 3,
			Text:         fmt.Sprintf("chunk text %d", i),
			FileName:     fmt.Sprintf("doc%d.pdf", i/3),
			RelativePath: fmt.Sprintf("water/doc%d.pdf", i/3),
			Category:     "water",
			Page:         i%3 + 1,
			OCRUsed:      i%2 == 0,
		}
	}
	return SnapshotData{
		Info: BuildInfo{
			BuildID:      buildID,
			ModelName:    "static-4",
			Provider:     "static",
			EmbeddingDim: 4,
			Metric:       MetricL2Squared,
			IndexType:    indexType,
			NumChunks:    n,
			NumDocuments: (n + 2) / 3,
			CreationDate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			ChunkSize:    2000,
			ChunkOverlap: 200,
		},
		Vectors: vectors,
		Rows:    rows,
	}
}

func writeAndPublish(t *testing.T, snapshotsDir string, data SnapshotData) {
	t.Helper()
	require.NoError(t, WriteSnapshot(context.Background(), filepath.Join(snapshotsDir, data.Info.BuildID), data))
	require.NoError(t, Publish(snapshotsDir, data.Info.BuildID))
}

func TestSnapshot_WriteOpenSearch(t *testing.T) {
	for _, indexType := range []IndexType{IndexFlat, IndexHNSW} {
		t.Run(string(indexType), func(t *testing.T) {
			// Given: a published snapshot of 9 chunks
			dir := t.TempDir()
			data := sampleData("build-a", indexType, 9)
			writeAndPublish(t, dir, data)

			// When: it is opened
			snap, err := OpenSnapshot(dir)
			require.NoError(t, err)
			defer func() { _ = snap.Close() }()

			// Then: every position maps to the vector and row it was built from
			assert.Equal(t, data.Info.BuildID, snap.Info.BuildID)
			assert.Equal(t, 9, snap.Index.Len())
			for i := range data.Vectors {
				hits, err := snap.Index.Search(data.Vectors[i], 1)
				require.NoError(t, err)
				require.Len(t, hits, 1)
				assert.Equal(t, i, hits[0].Position)
			}

			rows, err := snap.Catalog.Rows(context.Background(), []int{0, 4, 8, 99})
			require.NoError(t, err)
			assert.Len(t, rows, 3)
			assert.Equal(t, data.Rows[4], rows[4])
			assert.Equal(t, data.Rows[8], rows[8])

			docs, err := snap.Catalog.DocumentCount(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 3, docs)

			if indexType == IndexHNSW {
				assert.FileExists(t, filepath.Join(snap.Dir, GraphFile))
				assert.Equal(t, DefaultHNSWParams(), snap.Info.HNSW)
			} else {
				assert.NoFileExists(t, filepath.Join(snap.Dir, GraphFile))
			}
		})
	}
}

func TestSnapshot_RejectsMisalignedData(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SnapshotData)
	}{
		{"fewer rows", func(d *SnapshotData) { d.Rows = d.Rows[:2] }},
		{"wrong chunk count", func(d *SnapshotData) { d.Info.NumChunks = 5 }},
		{"rows out of order", func(d *SnapshotData) { d.Rows[0], d.Rows[1] = d.Rows[1], d.Rows[0] }},
		{"wrong dimension", func(d *SnapshotData) { d.Vectors[1] = []float32{1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := sampleData("build-x", IndexFlat, 3)
			tt.mutate(&data)

			err := WriteSnapshot(context.Background(), filepath.Join(t.TempDir(), "build-x"), data)
			assert.Error(t, err)
		})
	}
}

func TestSnapshot_Check(t *testing.T) {
	dir := t.TempDir()
	writeAndPublish(t, dir, sampleData("build-c", IndexFlat, 3))
	snap, err := OpenSnapshot(dir)
	require.NoError(t, err)
	defer func() { _ = snap.Close() }()

	tests := []struct {
		name   string
		model  string
		dims   int
		metric Metric
		field  string
	}{
		{"matching", "static-4", 4, MetricL2Squared, ""},
		{"metric unspecified", "static-4", 4, "", ""},
		{"other model", "all-minilm", 4, MetricL2Squared, "model"},
		{"other dimension", "static-4", 8, MetricL2Squared, "dimension"},
		{"other metric", "static-4", 4, MetricCosine, "metric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := snap.Check(tt.model, tt.dims, tt.metric)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeIncompatibleModel))
			le, ok := lkerrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, le.Details["field"])
		})
	}
}

func TestOpenSnapshot_NonePublishedIsErrNoSnapshot(t *testing.T) {
	_, err := OpenSnapshot(t.TempDir())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSnapshot))
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeNoSnapshot))
}

func TestOpenSnapshot_DetectsDamage(t *testing.T) {
	tests := []struct {
		name   string
		damage func(t *testing.T, dir string)
	}{
		{"missing status", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, StatusFile)))
		}},
		{"truncated vectors", func(t *testing.T, dir string) {
			path := filepath.Join(dir, VectorsFile)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0644))
		}},
		{"missing catalog", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, CatalogFile)))
		}},
		{"document count disagrees", func(t *testing.T, dir string) {
			info, err := ReadBuildInfo(dir)
			require.NoError(t, err)
			info.NumDocuments++
			data, err := json.Marshal(info)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(dir, BuildInfoFile), data, 0644))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeAndPublish(t, dir, sampleData("build-d", IndexFlat, 3))
			tt.damage(t, filepath.Join(dir, "build-d"))

			_, err := OpenSnapshot(dir)

			require.Error(t, err)
			assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeCorruptIndex))
		})
	}
}

func TestPublish_SwapsCurrentAndPruneRemovesOldBuilds(t *testing.T) {
	// Given: two builds, the first one published
	dir := t.TempDir()
	writeAndPublish(t, dir, sampleData("build-1", IndexFlat, 3))
	require.NoError(t, os.WriteFile(filepath.Join(dir, BuildLockFile), nil, 0644))

	id, err := Current(dir)
	require.NoError(t, err)
	assert.Equal(t, "build-1", id)

	// When: the second is published and old builds pruned
	writeAndPublish(t, dir, sampleData("build-22", IndexFlat, 6))
	removed, err := Prune(dir, "build-22")
	require.NoError(t, err)

	// Then: CURRENT names the new build and only it remains
	id, err = Current(dir)
	require.NoError(t, err)
	assert.Equal(t, "build-22", id)
	assert.Equal(t, []string{"build-1"}, removed)
	assert.NoDirExists(t, filepath.Join(dir, "build-1"))
	assert.FileExists(t, filepath.Join(dir, BuildLockFile))

	info, err := CurrentInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, info.NumChunks)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestPublish_RefusesIncompleteSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "partial"), 0755))

	err := Publish(dir, "partial")

	assert.Error(t, err)
	_, err = Current(dir)
	assert.True(t, errors.Is(err, ErrNoSnapshot))
}

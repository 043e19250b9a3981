package record

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeplath/LOKIV2/internal/chunk"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "records"))
	require.NoError(t, err)
	return s
}

func sampleRecord(key string) *ChunkRecord {
	return &ChunkRecord{
		Key: key,
		Metadata: Metadata{
			FileName:      "water.pdf",
			RelativePath:  "survival/water.pdf",
			Category:      "survival",
			PageCount:     2,
			ProcessedDate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		ChunkSize:    2000,
		ChunkOverlap: 200,
		Chunks: []chunk.Chunk{
			{Ordinal: 0, Text: "Boil water for one minute.", Page: 1, Start: 0, End: 26},
			{Ordinal: 1, Text: "At altitude boil three minutes.", Page: 2, Start: 20, End: 51},
		},
	}
}

func stamped(rec *ChunkRecord) *ChunkRecord {
	rec.Version = Version
	rec.Checksum = rec.ComputeChecksum()
	return rec
}

func writeJSON(t *testing.T, path string, rec *ChunkRecord) {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		relPath string
		prefix  string
	}{
		{"plain name", "water.pdf", "water_"},
		{"nested path", "survival/Water Purification.pdf", "Water_Purification_"},
		{"punctuation", "a/b-c.d (1).pdf", "b_c_d__1__"},
		{"unicode", "café.pdf", "caf__"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := Key(tt.relPath)

			assert.True(t, strings.HasPrefix(key, tt.prefix), "key %q", key)
			assert.Len(t, key, len(tt.prefix)+8)
		})
	}
}

func TestKey_SameNameDifferentDirectory(t *testing.T) {
	// Given two documents with the same file name in different directories
	a := Key("medical/guide.pdf")
	b := Key("food/guide.pdf")

	// Then their keys differ but share the readable prefix
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "guide_"))
	assert.True(t, strings.HasPrefix(b, "guide_"))
}

func TestKey_Stable(t *testing.T) {
	assert.Equal(t, Key("x/y.pdf"), Key("x/y.pdf"))
	assert.Equal(t, Key("x/y.pdf"), Key("./x/y.pdf"))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord("water_12345678")

	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("water_12345678")
	require.NoError(t, err)
	assert.Equal(t, Version, loaded.Version)
	assert.Equal(t, rec.Checksum, loaded.Checksum)
	assert.Equal(t, rec.Chunks, loaded.Chunks)
	assert.Equal(t, "survival", loaded.Metadata.Category)
	assert.True(t, rec.Metadata.ProcessedDate.Equal(loaded.Metadata.ProcessedDate))
}

func TestStore_SaveIsByteStable(t *testing.T) {
	s := newTestStore(t)
	rec := sampleRecord("k_00000000")

	require.NoError(t, s.Save(rec))
	first, err := os.ReadFile(s.Path(rec.Key))
	require.NoError(t, err)

	require.NoError(t, s.Save(sampleRecord("k_00000000")))
	second, err := os.ReadFile(s.Path(rec.Key))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleRecord("a_00000000")))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover %s", e.Name())
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("nope_00000000")

	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.False(t, lkerrors.IsCode(err, lkerrors.ErrCodeCorruptRecord))
}

func TestStore_LoadCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, s *Store, key string)
	}{
		{
			name: "truncated json",
			mutate: func(t *testing.T, s *Store, key string) {
				require.NoError(t, os.WriteFile(s.Path(key), []byte(`{"version":1,"key":`), 0644))
			},
		},
		{
			name: "text edited after write",
			mutate: func(t *testing.T, s *Store, key string) {
				data, err := os.ReadFile(s.Path(key))
				require.NoError(t, err)
				data = []byte(strings.Replace(string(data), "one minute", "two minute", 1))
				require.NoError(t, os.WriteFile(s.Path(key), data, 0644))
			},
		},
		{
			name: "record stored under another key",
			mutate: func(t *testing.T, s *Store, key string) {
				writeJSON(t, s.Path(key), stamped(sampleRecord("other_00000000")))
			},
		},
		{
			name: "gap in ordinals",
			mutate: func(t *testing.T, s *Store, key string) {
				rec := sampleRecord(key)
				rec.Chunks[1].Ordinal = 5
				writeJSON(t, s.Path(key), stamped(rec))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			key := "water_12345678"
			require.NoError(t, s.Save(sampleRecord(key)))

			tt.mutate(t, s, key)

			_, err := s.Load(key)
			require.Error(t, err)
			assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeCorruptRecord), "got %v", err)
		})
	}
}

func TestStore_ListSortedAndIgnoresTemp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleRecord("b_00000000")))
	require.NoError(t, s.Save(sampleRecord("a_00000000")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".c_00000000.json.tmp-123"), []byte("{"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0644))

	// A claim creates the lock directory; it must not show up as a record.
	release, ok, err := s.Claim("z_00000000")
	require.NoError(t, err)
	require.True(t, ok)
	release()

	keys, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a_00000000", "b_00000000"}, keys)
}

func TestStore_RemoveAndExists(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleRecord("a_00000000")))
	assert.True(t, s.Exists("a_00000000"))

	require.NoError(t, s.Remove("a_00000000"))
	assert.False(t, s.Exists("a_00000000"))

	// Removing again is fine.
	require.NoError(t, s.Remove("a_00000000"))
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	s := newTestStore(t)

	// Given a held claim
	release, ok, err := s.Claim("doc_00000000")
	require.NoError(t, err)
	require.True(t, ok)

	// When a second worker tries the same key
	_, ok2, err := s.Claim("doc_00000000")

	// Then it is refused
	require.NoError(t, err)
	assert.False(t, ok2)

	// And other keys are unaffected
	releaseOther, ok3, err := s.Claim("other_00000000")
	require.NoError(t, err)
	assert.True(t, ok3)
	releaseOther()

	// After release the key can be claimed again
	release()
	release2, ok4, err := s.Claim("doc_00000000")
	require.NoError(t, err)
	assert.True(t, ok4)
	release2()
}

func TestSave_RequiresKey(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(&ChunkRecord{})

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeInvalidInput))
}

func TestTryLockFile(t *testing.T) {
	// Given: a lock in a directory that does not exist yet
	path := filepath.Join(t.TempDir(), "sub", "x.lock")
	release, ok, err := TryLockFile(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.FileExists(t, path)

	// When: another handle tries the same lock
	_, ok, err = TryLockFile(path)
	require.NoError(t, err)

	// Then: it is refused until the holder releases, and release is idempotent
	assert.False(t, ok)
	release()
	release()
	again, ok, err := TryLockFile(path)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikeplath/LOKIV2/internal/chunk"
	"github.com/mikeplath/LOKIV2/internal/record"
)

// isolate runs the test in a fresh working directory with its own home so
// that user config, .env files, logs and LOKI_* variables cannot leak in.
// It returns the working directory.
func isolate(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	for _, key := range []string{
		"LOKI_EMBEDDER", "LOKI_EMBEDDINGS_PROVIDER", "LOKI_EMBEDDINGS_MODEL",
		"LOKI_EMBEDDINGS_DIMENSIONS", "LOKI_DATA_DIR", "LOKI_CORPUS_DIR",
		"LOKI_METRIC", "LOKI_INDEX_TYPE", "LOKI_EMBED_CACHE", "LOKI_OLLAMA_HOST",
		"LOKI_LOG_LEVEL", "LOKI_WORKERS", "LOKI_CHUNK_SIZE", "LOKI_CHUNK_OVERLAP",
	} {
		t.Setenv(key, "")
	}

	work := t.TempDir()
	t.Chdir(work)
	return work
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

var libraryRecords = []struct {
	relPath  string
	category string
	chunks   []string
}{
	{"water/boiling.pdf", "water", []string{
		"Boil water for at least one minute before drinking to kill pathogens.",
		"At altitudes above two thousand meters boil for three minutes.",
	}},
	{"fire/tinder.pdf", "fire", []string{
		"Gather dry tinder such as birch bark and grass before striking a spark.",
	}},
	{"medical/burns.pdf", "medical", []string{
		"Cool a burn under clean running water for twenty minutes.",
		"Do not apply butter or ice to a burn.",
	}},
}

// seedRecords writes chunk records for libraryRecords into dataDir as if
// 'loki index' had processed them.
func seedRecords(t *testing.T, dataDir string) {
	t.Helper()

	store, err := record.NewStore(filepath.Join(dataDir, "records"))
	require.NoError(t, err)

	for _, doc := range libraryRecords {
		rec := &record.ChunkRecord{
			Key: record.Key(doc.relPath),
			Metadata: record.Metadata{
				FileName:      filepath.Base(doc.relPath),
				FilePath:      filepath.Join("/library", doc.relPath),
				RelativePath:  doc.relPath,
				Category:      doc.category,
				PageCount:     len(doc.chunks),
				ProcessedDate: time.Now().UTC(),
			},
			ChunkSize:    2000,
			ChunkOverlap: 200,
		}
		for i, text := range doc.chunks {
			rec.Chunks = append(rec.Chunks, chunk.Chunk{
				Ordinal: i,
				Text:    text,
				Page:    i + 1,
				End:     len([]rune(text)),
			})
		}
		require.NoError(t, store.Save(rec))
	}
}

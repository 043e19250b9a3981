package cmd

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeplath/LOKIV2/internal/preflight"
)

func TestDoctor_JSON(t *testing.T) {
	// Given: the offline embedder
	work := isolate(t)
	t.Setenv("LOKI_EMBEDDER", "static")

	// When: running doctor with JSON output
	out, err := execute(t, "doctor", "--json")
	require.NoError(t, err, out)

	// Then: every check is reported and the embedder is ready
	var doc doctorJSON
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, []string{"ready", "ready_with_warnings"}, doc.Status)
	assert.Empty(t, doc.Errors)

	byName := map[string]doctorCheckJSON{}
	for _, c := range doc.Checks {
		byName[c.Name] = c
	}
	for _, name := range []string{"write_permissions", "disk_space", "file_descriptors", "embedder"} {
		assert.Contains(t, byName, name)
	}
	assert.Equal(t, "pass", byName["embedder"].Status)
	assert.NotContains(t, byName, "ocr_tools")

	// And: the pass is recorded for 'loki index'
	assert.False(t, preflight.NeedsCheck(filepath.Join(work, "loki_data")))
}

func TestDoctor_UnreachableEmbedderWarns(t *testing.T) {
	// Given: an Ollama host nobody listens on
	isolate(t)
	t.Setenv("LOKI_OLLAMA_HOST", "http://127.0.0.1:1")

	// When: running doctor
	out, err := execute(t, "doctor", "--json")

	// Then: the embedder is a warning, not a failure
	require.NoError(t, err, out)
	var doc doctorJSON
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.NotEmpty(t, doc.Warnings)
	var found bool
	for _, c := range doc.Checks {
		if c.Name == "embedder" {
			found = true
			assert.Equal(t, "warn", c.Status)
			assert.False(t, c.Required)
		}
	}
	assert.True(t, found)
}

func TestDoctor_TextOutput(t *testing.T) {
	isolate(t)

	out, err := execute(t, "doctor", "--no-embedder")

	require.NoError(t, err, out)
	assert.Contains(t, out, "LOKI System Check")
	assert.Contains(t, out, "write_permissions")
	assert.NotContains(t, out, "embedder")
}

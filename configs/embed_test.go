package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeplath/LOKIV2/internal/config"
)

func TestProjectConfigTemplate_MatchesDefaults(t *testing.T) {
	// Given: the template written as a project config
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".loki.yaml"), []byte(ProjectConfigTemplate), 0o644))

	// When: loading it
	cfg, err := config.Load(dir, "")

	// Then: it neither adds nor changes a setting
	require.NoError(t, err)
	want := config.NewConfig()
	assert.Equal(t, want.Indexing, cfg.Indexing)
	assert.Equal(t, want.Embeddings, cfg.Embeddings)
	assert.Equal(t, want.Index, cfg.Index)
	assert.Equal(t, want.Search, cfg.Search)
	assert.Equal(t, want.Logging, cfg.Logging)
}

package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeplath/LOKIV2/internal/store"
)

// serveOllama answers /api/tags with models and /api/embed with dims-wide
// vectors.
func serveOllama(t *testing.T, dims int, models ...string) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		type model struct {
			Name string `json:"name"`
		}
		var resp struct {
			Models []model `json:"models"`
		}
		for _, m := range models {
			resp.Models = append(resp.Models, model{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
			Input any    `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, s := range v {
				text, _ := s.(string)
				inputs = append(inputs, text)
			}
		}

		resp := struct {
			Model      string      `json:"model"`
			Embeddings [][]float64 `json:"embeddings"`
		}{Model: req.Model}
		for _, in := range inputs {
			vec := make([]float64, dims)
			vec[0] = float64(len(in))
			vec[1] = 1
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestBuild_ModelFlagDetectsDimensions(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"model only", []string{"--model", "nomic-embed-text"}, 768},
		{"explicit dimensions", []string{"--model", "nomic-embed-text", "--dimensions", "768"}, 768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: chunk records and an Ollama serving a 768-d model while
			// the configured default is 384
			work := isolate(t)
			dataDir := filepath.Join(work, "loki_data")
			seedRecords(t, dataDir)
			t.Setenv("LOKI_OLLAMA_HOST", serveOllama(t, 768, "nomic-embed-text:latest"))

			// When: building with another model
			out, err := execute(t, append([]string{"build", "--no-tui"}, tt.args...)...)

			// Then: the snapshot records the model's own dimension
			require.NoError(t, err, out)
			info, err := store.CurrentInfo(filepath.Join(dataDir, "snapshots"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.EmbeddingDim)
			assert.Equal(t, "nomic-embed-text", info.ModelName)
			assert.Equal(t, "ollama", info.Provider)
		})
	}
}

func TestBuild_ExplicitDimensionsMismatch(t *testing.T) {
	// Given: a 768-d model but --dimensions 384
	work := isolate(t)
	seedRecords(t, filepath.Join(work, "loki_data"))
	t.Setenv("LOKI_OLLAMA_HOST", serveOllama(t, 768, "nomic-embed-text:latest"))

	// When: building
	_, err := execute(t, "build", "--no-tui", "--model", "nomic-embed-text", "--dimensions", "384")

	// Then: the build fails instead of publishing mixed vectors
	require.Error(t, err)
}

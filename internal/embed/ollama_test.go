package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed with dims-wide vectors whose
// first component is the input's length.
type fakeOllama struct {
	models     []string
	dims       int
	embedCalls atomic.Int64
	failFirst  int64
	failStatus int
	tagsCalls  atomic.Int64
	tagsFail   int64
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		if f.tagsCalls.Add(1) <= f.tagsFail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var resp ollamaTagsResponse
		for _, m := range f.models {
			resp.Models = append(resp.Models, ollamaModel{Name: m})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		n := f.embedCalls.Add(1)
		if n <= f.failFirst {
			w.WriteHeader(f.failStatus)
			_, _ = w.Write([]byte("busy"))
			return
		}

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}

		resp := ollamaEmbedResponse{Model: req.Model}
		for _, in := range inputs {
			vec := make([]float64, f.dims)
			vec[0] = float64(len(in))
			vec[1] = 1
			resp.Embeddings = append(resp.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newFakeServer(t *testing.T, f *fakeOllama) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_ResolvesModelAndDetectsDimensions(t *testing.T) {
	// Given a server with the model installed under its :latest tag
	f := &fakeOllama{models: []string{"all-minilm:latest"}, dims: 8}
	srv := newFakeServer(t, f)

	// When the embedder is created
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "all-minilm"})

	// Then the configured name is kept and the dimension detected
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, "all-minilm", e.ModelName())
	assert.Equal(t, "all-minilm:latest", e.apiModel)
	assert.Equal(t, 8, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_MissingModelIsModelError(t *testing.T) {
	f := &fakeOllama{models: []string{"nomic-embed-text:latest"}, dims: 8}
	srv := newFakeServer(t, f)

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "all-minilm"})

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeModelUnavailable))
	assert.Contains(t, err.Error(), "ollama pull all-minilm")
}

func TestOllamaEmbedder_EmbedBatchKeepsOrderAndNormalizes(t *testing.T) {
	f := &fakeOllama{models: []string{"all-minilm"}, dims: 4}
	srv := newFakeServer(t, f)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "all-minilm", Dimensions: 4, BatchSize: 2,
	})
	require.NoError(t, err)

	got, err := e.EmbedBatch(context.Background(), []string{"a", "", "abc", "ab"})

	require.NoError(t, err)
	require.Len(t, got, 4)
	// The blank text is a zero vector and never sent.
	assert.Equal(t, []float32{0, 0, 0, 0}, got[1])
	for _, i := range []int{0, 2, 3} {
		assert.InDelta(t, 1.0, vectorMagnitude(got[i]), 1e-5)
	}
	assert.Greater(t, got[2][0], got[3][0])
	assert.Greater(t, got[3][0], got[0][0])
	// Three non-blank texts with batch size 2 is two requests.
	assert.Equal(t, int64(2), f.embedCalls.Load())
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	f := &fakeOllama{models: []string{"all-minilm"}, dims: 4, failFirst: 2, failStatus: http.StatusServiceUnavailable}
	srv := newFakeServer(t, f)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "all-minilm", Dimensions: 4, SkipHealthCheck: true,
		MaxRetries: 3, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "water")

	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int64(3), f.embedCalls.Load())
}

func TestOllamaEmbedder_DoesNotRetryClientErrors(t *testing.T) {
	f := &fakeOllama{models: []string{"all-minilm"}, dims: 4, failFirst: 10, failStatus: http.StatusBadRequest}
	srv := newFakeServer(t, f)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "all-minilm", Dimensions: 4, SkipHealthCheck: true,
		MaxRetries: 3, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "water")

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeEmbeddingFailed))
	assert.Equal(t, int64(1), f.embedCalls.Load())
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	f := &fakeOllama{models: []string{"all-minilm"}, dims: 6}
	srv := newFakeServer(t, f)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "all-minilm", Dimensions: 4, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "water")

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeDimensionMismatch))
}

func TestOllamaEmbedder_SkipHealthCheckNeedsDimensions(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{SkipHealthCheck: true})

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeConfigInvalid))
}

func TestOllamaEmbedder_ClosedRejectsCalls(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Dimensions: 4, SkipHealthCheck: true})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&statusError{code: 503}))
	assert.True(t, isTransient(&statusError{code: 429}))
	assert.False(t, isTransient(&statusError{code: 400}))
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(lkerrors.New(lkerrors.ErrCodeDimensionMismatch, "x", nil)))
}

func TestResolveModel(t *testing.T) {
	installed := []ollamaModel{{Name: "nomic-embed-text:v1.5"}, {Name: "All-MiniLM:latest"}, {Name: "all-minilm:l6-v2"}}

	tests := []struct {
		want  string
		tag   string
		found bool
	}{
		{"all-minilm", "All-MiniLM:latest", true},
		{"all-minilm:l6-v2", "all-minilm:l6-v2", true},
		{"ALL-MINILM:LATEST", "All-MiniLM:latest", true},
		{"nomic-embed-text", "nomic-embed-text:v1.5", true},
		{"nomic-embed-text:latest", "", false},
		{"mxbai-embed-large", "", false},
	}
	for _, tt := range tests {
		tag, ok := resolveModel(tt.want, installed)
		assert.Equal(t, tt.found, ok, tt.want)
		assert.Equal(t, tt.tag, tag, tt.want)
	}
}

func TestOllamaEmbedder_UnreachableServer(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: "http://127.0.0.1:1", ConnectTimeout: time.Second,
	})

	require.Error(t, err)
	assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeModelUnavailable))
}

func TestOllamaEmbedder_ConnectRetries(t *testing.T) {
	tests := []struct {
		name      string
		models    []string
		tagsFail  int64
		wantErr   bool
		wantCalls int64
	}{
		{"server warming up", []string{"all-minilm:latest"}, 1, false, 2},
		{"model missing is final", []string{"nomic-embed-text:latest"}, 0, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a server that may fail its first model listing
			f := &fakeOllama{models: tt.models, dims: 8, tagsFail: tt.tagsFail}
			srv := newFakeServer(t, f)

			// When: connecting
			e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "all-minilm"})

			// Then: only transient failures are retried
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeModelUnavailable))
			} else {
				require.NoError(t, err)
				defer func() { _ = e.Close() }()
			}
			assert.Equal(t, tt.wantCalls, f.tagsCalls.Load())
		})
	}
}

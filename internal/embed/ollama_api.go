package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Wire types of the Ollama HTTP API.
type (
	// ollamaEmbedRequest is the body of POST /api/embed. Input is a string
	// or a list of strings.
	ollamaEmbedRequest struct {
		Model string `json:"model"`
		Input any    `json:"input"`
	}

	ollamaEmbedResponse struct {
		Model      string      `json:"model"`
		Embeddings [][]float64 `json:"embeddings"`
	}

	// ollamaTagsResponse is the reply of GET /api/tags.
	ollamaTagsResponse struct {
		Models []ollamaModel `json:"models"`
	}

	ollamaModel struct {
		Name       string    `json:"name"`
		ModifiedAt time.Time `json:"modified_at"`
		Size       int64     `json:"size"`
	}
)

// statusError is a non-200 reply. Its body is truncated.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.code, e.body)
}

const maxErrorBody = 4 << 10

// ollamaClient speaks JSON to one Ollama host.
type ollamaClient struct {
	host      string
	http      *http.Client
	transport *http.Transport
}

func newOllamaClient(host string, pool int) *ollamaClient {
	t := &http.Transport{
		MaxIdleConns:        pool,
		MaxIdleConnsPerHost: pool,
		MaxConnsPerHost:     pool * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	// Deadlines come from request contexts.
	return &ollamaClient{
		host:      strings.TrimRight(host, "/"),
		http:      &http.Client{Transport: t},
		transport: t,
	}
}

// call sends in as JSON (GET when in is nil) and decodes the reply into out.
func (c *ollamaClient) call(ctx context.Context, path string, in, out any) error {
	method, body := http.MethodGet, io.Reader(nil)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		method, body = http.MethodPost, bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// models lists the installed model tags.
func (c *ollamaClient) models(ctx context.Context) ([]ollamaModel, error) {
	var tags ollamaTagsResponse
	if err := c.call(ctx, "/api/tags", nil, &tags); err != nil {
		return nil, fmt.Errorf("cannot list models at %s: %w", c.host, err)
	}
	return tags.Models, nil
}

// embed returns the raw vectors for texts, one per text.
func (c *ollamaClient) embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	req := ollamaEmbedRequest{Model: model, Input: texts}
	if len(texts) == 1 {
		req.Input = texts[0]
	}
	var resp ollamaEmbedResponse
	if err := c.call(ctx, "/api/embed", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (c *ollamaClient) close() {
	c.transport.CloseIdleConnections()
}

// resolveModel matches want against installed tags, ignoring case. A name
// without a tag matches any tag of that model, e.g. "all-minilm" matches
// "all-minilm:latest".
func resolveModel(want string, installed []ollamaModel) (string, bool) {
	w := strings.ToLower(want)
	untagged := !strings.Contains(w, ":")
	var byBase string
	for _, m := range installed {
		name := strings.ToLower(m.Name)
		if name == w {
			return m.Name, true
		}
		if base, _, _ := strings.Cut(name, ":"); untagged && base == w && byBase == "" {
			byBase = m.Name
		}
	}
	return byBase, byBase != ""
}

package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "all-minilm"

	// OllamaConnectTimeout bounds the model lookup at startup and in
	// Available.
	OllamaConnectTimeout = 10 * time.Second
	OllamaPoolSize       = 4

	defaultRetryDelay = 200 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

var errModelMissing = errors.New("is not installed")

// connectRetry covers a server that is still starting up. A missing model
// is final.
var connectRetry = lkerrors.RetryConfig{
	MaxRetries:   2,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2,
	ShouldRetry: func(err error) bool {
		return !errors.Is(err, errModelMissing) && isTransient(err)
	},
}

// OllamaConfig configures an OllamaEmbedder. Zero fields take the defaults
// of DefaultOllamaConfig.
type OllamaConfig struct {
	Host  string
	Model string
	// Dimensions is detected with a probe request when zero.
	Dimensions     int
	BatchSize      int
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	// RetryDelay is the first backoff pause.
	RetryDelay time.Duration
	// RequestsPerSecond of zero is unlimited.
	RequestsPerSecond float64
	PoolSize          int
	// SkipHealthCheck trusts Model and Dimensions without contacting the
	// server.
	SkipHealthCheck bool
}

func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:              DefaultOllamaHost,
		Model:             DefaultOllamaModel,
		BatchSize:         DefaultBatchSize,
		Timeout:           DefaultTimeout,
		ConnectTimeout:    OllamaConnectTimeout,
		MaxRetries:        DefaultMaxRetries,
		RetryDelay:        defaultRetryDelay,
		RequestsPerSecond: DefaultRequestsPerSecond,
		PoolSize:          OllamaPoolSize,
	}
}

func (c OllamaConfig) withDefaults() OllamaConfig {
	def := DefaultOllamaConfig()
	orDefault := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	orDefault(&c.Host, def.Host)
	orDefault(&c.Model, def.Model)
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	c.BatchSize = min(c.BatchSize, MaxBatchSize)
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	c.MaxRetries = max(c.MaxRetries, 0)
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.PoolSize <= 0 {
		c.PoolSize = def.PoolSize
	}
	return c
}

// OllamaEmbedder embeds text through a local Ollama server. Vectors are
// normalized to unit length.
type OllamaEmbedder struct {
	api     *ollamaClient
	config  OllamaConfig
	limiter *rate.Limiter

	// modelName is the configured name recorded with snapshots; apiModel
	// is the installed tag it resolved to.
	modelName string
	apiModel  string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder connects to the server, resolves the model tag and
// detects the dimension unless SkipHealthCheck is set. A missing server or
// model is a ModelError.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	e := &OllamaEmbedder{
		api:       newOllamaClient(cfg.Host, cfg.PoolSize),
		config:    cfg,
		limiter:   rate.NewLimiter(limit, 1),
		modelName: cfg.Model,
		apiModel:  cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		if err := e.connect(ctx); err != nil {
			e.api.close()
			return nil, err
		}
	}
	if e.dims == 0 {
		return nil, lkerrors.ConfigError("embedding dimensions must be set when the model check is skipped", nil)
	}

	slog.Debug("ollama_embedder_ready",
		slog.String("host", e.api.host),
		slog.String("model", e.modelName),
		slog.String("api_model", e.apiModel),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// connect resolves the model tag and, when unknown, the dimension.
func (e *OllamaEmbedder) connect(ctx context.Context) error {
	lookupCtx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()

	var tag string
	err := lkerrors.Retry(lookupCtx, connectRetry, func() (err error) {
		tag, err = e.findModel(lookupCtx)
		return err
	})
	if err != nil {
		return lkerrors.ModelError(e.modelName, err).WithDetail("host", e.api.host)
	}
	e.apiModel = tag
	if e.dims > 0 {
		return nil
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, e.config.Timeout)
	defer cancelProbe()
	vecs, err := e.api.embed(probeCtx, e.apiModel, []string{"dimension detection"})
	switch {
	case err != nil:
		return lkerrors.ModelError(e.modelName, fmt.Errorf("failed to detect embedding dimensions: %w", err))
	case len(vecs) == 0 || len(vecs[0]) == 0:
		return lkerrors.ModelError(e.modelName, errors.New("empty embedding returned"))
	}
	e.dims = len(vecs[0])
	return nil
}

func (e *OllamaEmbedder) findModel(ctx context.Context) (string, error) {
	installed, err := e.api.models(ctx)
	if err != nil {
		return "", err
	}
	if tag, ok := resolveModel(e.config.Model, installed); ok {
		return tag, nil
	}
	return "", fmt.Errorf("model %s %w (run: ollama pull %s)", e.config.Model, errModelMissing, e.config.Model)
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in requests of at most BatchSize. Blank texts get
// zero vectors without a request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, errors.New("embedder is closed")
	}

	out := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, e.dims)
			continue
		}
		pending = append(pending, i)
	}

	for len(pending) > 0 {
		n := min(e.config.BatchSize, len(pending))
		batch := make([]string, n)
		for j, idx := range pending[:n] {
			batch[j] = texts[idx]
		}

		vecs, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != n {
			return nil, lkerrors.New(lkerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("server returned %d embeddings for %d texts", len(vecs), n), nil)
		}
		for j, idx := range pending[:n] {
			out[idx] = vecs[j]
		}
		pending = pending[n:]
	}
	return out, nil
}

// embedWithRetry sends one batch through the rate limiter, retrying
// timeouts, 429 and 5xx replies with jittered backoff.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := lkerrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: e.config.RetryDelay,
		MaxDelay:     maxRetryDelay,
		Multiplier:   2,
		Jitter:       true,
		ShouldRetry:  isTransient,
	}

	attempt := 0
	vecs, err := lkerrors.RetryWithResult(ctx, policy, func() ([][]float32, error) {
		attempt++
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		vecs, err := e.request(reqCtx, texts)
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("attempt", attempt),
				slog.Int("texts_count", len(texts)),
				slog.String("error", err.Error()))
		}
		return vecs, err
	})
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	return vecs, nil
}

// classify maps a final request error to a LOKI error.
func (e *OllamaEmbedder) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if le, ok := lkerrors.As(err); ok {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return lkerrors.New(lkerrors.ErrCodeModelTimeout,
			fmt.Sprintf("embedding request timed out after %s", e.config.Timeout), err).
			WithDetail("model", e.modelName).
			WithSuggestion("Raise embeddings.timeout or lower embeddings.batch_size")
	}
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return lkerrors.ModelError(e.modelName, err)
	}
	return lkerrors.New(lkerrors.ErrCodeEmbeddingFailed, err.Error(), err).
		WithDetail("model", e.modelName)
}

// isTransient reports whether a failed request is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if _, ok := lkerrors.As(err); ok {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// request embeds texts in one call and normalizes the vectors.
func (e *OllamaEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := e.api.embed(ctx, e.apiModel, texts)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(raw))
	for i, r := range raw {
		if len(r) != e.dims {
			return nil, lkerrors.New(lkerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("model returned %d dimensions, expected %d", len(r), e.dims), nil)
		}
		v := make([]float32, len(r))
		for j, x := range r {
			v[j] = float32(x)
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName is the configured model name, not the resolved tag.
func (e *OllamaEmbedder) ModelName() string { return e.modelName }

// Available reports whether the server answers and has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()
	_, err := e.findModel(ctx)
	return err == nil
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close drops idle connections. Later calls fail.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.api.close()
	}
	return nil
}

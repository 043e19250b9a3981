package embed

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// ProviderType names an embedding backend.
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderStatic ProviderType = "static"
)

// providers lists the backends in the order they are shown to the user.
var providers = []ProviderType{ProviderOllama, ProviderStatic}

func (p ProviderType) String() string { return string(p) }

// Options selects and configures an embedder. Zero values take the
// provider defaults.
type Options struct {
	Provider          ProviderType
	Model             string
	Dimensions        int
	Host              string
	BatchSize         int
	Timeout           time.Duration
	RequestsPerSecond float64
	CacheSize         int
	NoCache           bool
}

// NewEmbedder builds the embedder described by opts, wrapped in a query
// cache unless opts.NoCache or LOKI_EMBED_CACHE turns it off.
//
// LOKI_EMBEDDER overrides opts.Provider. An unreachable Ollama is an error
// rather than a switch to the static provider: vectors from different
// models are not comparable.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	provider, err := resolveProvider(opts.Provider)
	if err != nil {
		return nil, err
	}

	var e Embedder
	switch provider {
	case ProviderStatic:
		e = NewStaticEmbedder(opts.Dimensions)
	case ProviderOllama:
		e, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:              opts.Host,
			Model:             opts.Model,
			Dimensions:        opts.Dimensions,
			BatchSize:         opts.BatchSize,
			Timeout:           opts.Timeout,
			RequestsPerSecond: opts.RequestsPerSecond,
			MaxRetries:        DefaultMaxRetries,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, lkerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", provider), nil)
	}

	if opts.NoCache || cacheDisabled(os.Getenv("LOKI_EMBED_CACHE")) {
		return e, nil
	}
	return NewCachedEmbedder(e, opts.CacheSize), nil
}

func resolveProvider(configured ProviderType) (ProviderType, error) {
	env := os.Getenv("LOKI_EMBEDDER")
	switch {
	case env != "" && !IsValidProvider(env):
		return "", lkerrors.ConfigError(fmt.Sprintf("LOKI_EMBEDDER=%q is not a valid provider (valid: %s)",
			env, strings.Join(ValidProviders(), ", ")), nil)
	case env != "":
		return ParseProvider(env), nil
	case configured == "":
		return ProviderOllama, nil
	default:
		return configured, nil
	}
}

func cacheDisabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "off", "disabled":
		return true
	}
	return false
}

// ParseProvider maps a provider name to its type. Anything unrecognized is
// Ollama.
func ParseProvider(s string) ProviderType {
	if p := ProviderType(strings.ToLower(strings.TrimSpace(s))); slices.Contains(providers, p) {
		return p
	}
	return ProviderOllama
}

// ValidProviders returns the accepted provider names.
func ValidProviders() []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.String()
	}
	return names
}

func IsValidProvider(s string) bool {
	return slices.Contains(providers, ProviderType(strings.ToLower(strings.TrimSpace(s))))
}

// EmbedderInfo describes a live embedder for build metadata and status.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

func GetInfo(ctx context.Context, e Embedder) EmbedderInfo {
	return EmbedderInfo{
		Provider:   ProviderOf(e),
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Available:  e.Available(ctx),
	}
}

// ProviderOf reports which backend serves e, looking through the cache.
func ProviderOf(e Embedder) ProviderType {
	if c, ok := e.(*CachedEmbedder); ok {
		e = c.inner
	}
	switch e.(type) {
	case *OllamaEmbedder:
		return ProviderOllama
	case *StaticEmbedder:
		return ProviderStatic
	default:
		return "custom"
	}
}

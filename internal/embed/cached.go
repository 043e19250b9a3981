package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the number of vectors kept when no size is
// configured. At 384 dimensions that is under 400KB.
const DefaultEmbeddingCacheSize = 256

// cacheKey identifies a text under a given model.
type cacheKey [sha256.Size]byte

// CachedEmbedder memoizes vectors in an LRU keyed by model and exact text.
// Repeated questions skip the model server, and boilerplate that recurs in
// many PDFs (running headers, "this page intentionally left blank") is
// embedded once per batch.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[cacheKey, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats counts lookups since the embedder was created.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// NewCachedEmbedder wraps inner with a cache of cacheSize vectors.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[cacheKey, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(text string) cacheKey {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var k cacheKey
	h.Sum(k[:0])
	return k
}

// Embed returns the cached vector for text or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if vec, ok := c.cache.Get(k); ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, vec)
	return vec, nil
}

// EmbedBatch embeds texts in order. Cached texts and repeats within the
// batch are not sent to the inner embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	keys := make([]cacheKey, len(texts))
	pending := make(map[cacheKey][]int)
	var missing []string
	var missingKeys []cacheKey

	for i, text := range texts {
		k := c.key(text)
		keys[i] = k
		if vec, ok := c.cache.Get(k); ok {
			c.hits.Add(1)
			out[i] = vec
			continue
		}
		if _, seen := pending[k]; !seen {
			c.misses.Add(1)
			missing = append(missing, text)
			missingKeys = append(missingKeys, k)
		} else {
			c.hits.Add(1)
		}
		pending[k] = append(pending[k], i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}

	for j, k := range missingKeys {
		c.cache.Add(k, vecs[j])
		for _, i := range pending[k] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

// Stats reports cache hits and misses.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *CachedEmbedder) Close() error                       { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

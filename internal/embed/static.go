package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// StaticEmbedder hashes words and their character trigrams into a fixed
// number of buckets. It works offline and is deterministic, but only
// matches shared vocabulary, not meaning.
type StaticEmbedder struct {
	dims   int
	closed atomic.Bool
}

var _ Embedder = (*StaticEmbedder)(nil)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be by can do does for from how i in
		is it of on or that the this to was what when where which with you your`) {
		stopWords[w] = struct{}{}
	}
}

// A word adds wordWeight to its own bucket and trigramWeight to the bucket
// of each trigram of " word ", so inflections ("boil", "boiling") overlap.
const (
	wordWeight    = 0.7
	trigramWeight = 0.3
	trigramLen    = 3
)

// NewStaticEmbedder creates a static embedder; dims <= 0 selects
// StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, errors.New("embedder is closed")
	}

	v := make([]float32, e.dims)
	for _, w := range filterStopWords(tokenize(text)) {
		v[e.bucket("w:"+w)] += wordWeight
		for _, g := range extractNgrams(" "+w+" ", trigramLen) {
			v[e.bucket("g:"+g)] += trigramWeight
		}
	}
	return normalizeVector(v), nil
}

func (e *StaticEmbedder) bucket(feature string) int {
	return int(xxhash.Sum64String(feature) % uint64(e.dims))
}

// tokenize lower-cases text and splits it at every rune that is neither a
// letter nor a digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func filterStopWords(words []string) []string {
	kept := words[:0:0]
	for _, w := range words {
		if _, stop := stopWords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return kept
}

// extractNgrams returns every window of n runes.
func extractNgrams(s string, n int) []string {
	r := []rune(s)
	var grams []string
	for i := 0; i+n <= len(r); i++ {
		grams = append(grams, string(r[i:i+n]))
	}
	return grams
}

func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName encodes the dimension, so a snapshot built at one size is never
// queried at another.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

func (e *StaticEmbedder) Available(context.Context) bool { return !e.closed.Load() }

func (e *StaticEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}

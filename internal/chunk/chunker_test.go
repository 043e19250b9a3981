package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

func mustChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(Options{Size: size, Overlap: overlap})
	require.NoError(t, err)
	return c
}

// reconstruct removes the overlap from every chunk after the first.
func reconstruct(chunks []Chunk, overlap int) string {
	var sb strings.Builder
	for i, ch := range chunks {
		r := []rune(ch.Text)
		if i > 0 {
			r = r[overlap:]
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}

func TestNewChunker_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"overlap equals size", Options{Size: 100, Overlap: 100}},
		{"overlap exceeds size", Options{Size: 100, Overlap: 150}},
		{"zero size", Options{Size: 0, Overlap: 0}},
		{"negative overlap", Options{Size: 100, Overlap: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.opts)

			require.Error(t, err)
			assert.True(t, lkerrors.IsCode(err, lkerrors.ErrCodeConfigInvalid))
		})
	}
}

func TestSplit_ShortDocumentIsOneChunk(t *testing.T) {
	c := mustChunker(t, 2000, 200)

	chunks := c.Split([]Page{{Number: 1, Text: "water filtration basics"}})

	require.Len(t, chunks, 1)
	assert.Equal(t, "water filtration basics", chunks[0].Text)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 0, chunks[0].Ordinal)
}

func TestSplit_EmptyInputs(t *testing.T) {
	c := mustChunker(t, 50, 10)

	assert.Empty(t, c.Split(nil))
	assert.Empty(t, c.Split([]Page{{Number: 1, Text: ""}, {Number: 2, Text: "  \n\t "}}))
}

func TestSplit_EmptyPageProducesNoChunks(t *testing.T) {
	// Given: page 2 is blank
	c := mustChunker(t, 1000, 10)
	pages := []Page{
		{Number: 1, Text: "first page"},
		{Number: 2, Text: ""},
		{Number: 3, Text: "third page"},
	}

	chunks := c.Split(pages)

	// Then: the blank page is skipped entirely
	require.Len(t, chunks, 1)
	assert.Equal(t, "first page\nthird page", chunks[0].Text)
}

func TestSplit_CoverageAndOverlapInvariants(t *testing.T) {
	words := strings.Repeat("lorem ipsum dolor sit amet consectetur adipiscing elit ", 40)
	unbroken := strings.Repeat("x", 700)

	tests := []struct {
		name    string
		size    int
		overlap int
		pages   []Page
	}{
		{"words", 120, 20, []Page{{1, words}}},
		{"no overlap", 64, 0, []Page{{1, words}}},
		{"no whitespace forces hard cuts", 100, 30, []Page{{1, unbroken}}},
		{"multi page", 90, 15, []Page{{1, words[:500]}, {2, ""}, {3, words[500:1300]}, {4, unbroken}}},
		{"unicode", 50, 10, []Page{{1, strings.Repeat("naïve café über straße ", 30)}}},
		{"tiny size", 2, 1, []Page{{1, "abc def"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustChunker(t, tt.size, tt.overlap)
			text, _ := Join(tt.pages)

			chunks := c.Split(tt.pages)
			require.NotEmpty(t, chunks)

			// Coverage: chunks minus overlaps rebuild the text.
			assert.Equal(t, string(text), reconstruct(chunks, tt.overlap))

			for i, ch := range chunks {
				r := []rune(ch.Text)
				assert.Equal(t, i, ch.Ordinal)
				assert.LessOrEqual(t, len(r), tt.size)
				assert.Equal(t, ch.End-ch.Start, len(r))
				assert.Equal(t, string(text[ch.Start:ch.End]), ch.Text)

				if i+1 < len(chunks) {
					// Overlap: last O runes of chunk i open chunk i+1.
					next := []rune(chunks[i+1].Text)
					assert.Equal(t, string(r[len(r)-tt.overlap:]), string(next[:tt.overlap]))
					assert.Greater(t, chunks[i+1].Start, ch.Start)
				}
			}
			assert.Equal(t, len(text), chunks[len(chunks)-1].End)
		})
	}
}

func TestSplit_PrefersWhitespaceBoundary(t *testing.T) {
	// Given: a hard limit that lands mid-word
	c, err := NewChunker(Options{Size: 12, Overlap: 0, Lookback: 6})
	require.NoError(t, err)

	chunks := c.Split([]Page{{1, "boiling water kills germs"}})

	// Then: the first chunk ends after the space instead of splitting "kills"
	require.NotEmpty(t, chunks)
	assert.Equal(t, "boiling ", chunks[0].Text)
	assert.Equal(t, "boiling water kills germs", reconstruct(chunks, 0))
}

func TestSplit_PageOfChunkIsPageOfStartOffset(t *testing.T) {
	// Given: two 30-rune pages and 20-rune chunks without overlap
	c, err := NewChunker(Options{Size: 20, Overlap: 0, Lookback: 1})
	require.NoError(t, err)
	p1 := strings.Repeat("a", 30)
	p2 := strings.Repeat("b", 30)

	chunks := c.Split([]Page{{Number: 4, Text: p1}, {Number: 5, Text: p2}})

	// Joined: 30 a's, '\n' at 30, b's from 31 to 60.
	require.Len(t, chunks, 4)
	assert.Equal(t, []int{4, 4, 5, 5}, []int{chunks[0].Page, chunks[1].Page, chunks[2].Page, chunks[3].Page})
	assert.Equal(t, 20, chunks[1].Start)
	assert.Equal(t, 40, chunks[2].Start)
}

func TestSplit_Deterministic(t *testing.T) {
	c := mustChunker(t, 80, 16)
	pages := []Page{{1, strings.Repeat("the quick brown fox ", 30)}}

	assert.Equal(t, c.Split(pages), c.Split(pages))
}

func TestBoundary(t *testing.T) {
	text := []rune("aaaa bbbb cccc")

	tests := []struct {
		name                          string
		start, limit, lookback, floor int
		want                          int
	}{
		{"end of text", 10, 14, 3, 10, 14},
		{"whitespace in window", 0, 7, 3, 0, 5},
		{"whitespace outside window", 0, 8, 2, 0, 8},
		{"whitespace below floor", 0, 7, 5, 5, 7},
		{"cut exactly after space", 0, 10, 1, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Boundary(text, tt.start, tt.limit, tt.lookback, tt.floor))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\nb\nc\td", Normalize("a\r\nb\fc\td"))
	assert.Equal(t, "ab", Normalize("a\x00b"))
	assert.Equal(t, "a�b", Normalize("a\xffb"))
}

package chunk

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// Chunker splits page texts into overlapping chunks. It holds no state
// between calls and is safe for concurrent use.
type Chunker struct {
	size     int
	overlap  int
	lookback int
}

// NewChunker validates opts. Overlap must be smaller than Size.
func NewChunker(opts Options) (*Chunker, error) {
	if opts.Size <= 0 {
		return nil, lkerrors.ConfigError(fmt.Sprintf("chunk size must be positive, got %d", opts.Size), nil)
	}
	if opts.Overlap < 0 {
		return nil, lkerrors.ConfigError(fmt.Sprintf("chunk overlap must be non-negative, got %d", opts.Overlap), nil)
	}
	if opts.Overlap >= opts.Size {
		return nil, lkerrors.ConfigError(
			fmt.Sprintf("chunk overlap (%d) must be smaller than chunk size (%d)", opts.Overlap, opts.Size), nil)
	}

	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = min(opts.Size/10, maxAutoLookback)
		if lookback < 1 {
			lookback = 1
		}
	}

	return &Chunker{size: opts.Size, overlap: opts.Overlap, lookback: lookback}, nil
}

// Size returns the maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks the pages of one document. Pages must be ordered by number.
// Pages with no text contribute nothing; a document without text yields no
// chunks.
func (c *Chunker) Split(pages []Page) []Chunk {
	text, starts := Join(pages)
	if len(text) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for {
		limit := min(start+c.size, len(text))
		end := Boundary(text, start, limit, c.lookback, start+c.overlap)

		chunks = append(chunks, Chunk{
			Ordinal: len(chunks),
			Text:    string(text[start:end]),
			Page:    starts.pageAt(start),
			Start:   start,
			End:     end,
		})

		if end >= len(text) {
			return chunks
		}
		start = end - c.overlap
	}
}

// PageStarts maps rune offsets in joined text back to page numbers.
type PageStarts []pageStart

type pageStart struct {
	offset int
	page   int
}

func (p PageStarts) pageAt(offset int) int {
	i := sort.Search(len(p), func(i int) bool { return p[i].offset > offset })
	if i == 0 {
		return 0
	}
	return p[i-1].page
}

// Join normalizes and concatenates page texts, separated by a newline, and
// records where each page begins. Pages that are blank after normalization
// are left out.
func Join(pages []Page) ([]rune, PageStarts) {
	var sb strings.Builder
	var starts PageStarts
	offset := 0

	for _, p := range pages {
		t := Normalize(p.Text)
		if strings.TrimSpace(t) == "" {
			continue
		}
		if offset > 0 {
			sb.WriteByte('\n')
			offset++
		}
		starts = append(starts, pageStart{offset: offset, page: p.Number})
		sb.WriteString(t)
		offset += len([]rune(t))
	}

	return []rune(sb.String()), starts
}

// Normalize makes extracted text safe to chunk and store: invalid UTF-8 is
// replaced, CRLF and form feeds become newlines, and other control characters
// are dropped.
func Normalize(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t':
			return r
		case '\r', '\f', '\v':
			return '\n'
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// Package chunk splits extracted document text into overlapping fixed-size
// passages, the atomic retrieval unit of the index.
package chunk

// Page is the extracted text of one PDF page.
type Page struct {
	Number int    `json:"number"` // 1-indexed
	Text   string `json:"text"`
}

// Chunk is a bounded span of a document's text.
// Start and End are rune offsets into the document's joined text (see Join).
type Chunk struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
	Page    int    `json:"page"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Options configures a Chunker. Sizes are measured in characters (runes).
type Options struct {
	// Size is the maximum chunk length.
	Size int
	// Overlap is the number of trailing characters of a chunk repeated at the
	// start of the next one. Must be smaller than Size.
	Overlap int
	// Lookback is how far before the hard limit a whitespace boundary is
	// searched for. Zero selects min(Size/10, 100).
	Lookback int
}

// Defaults.
const (
	DefaultSize     = 2000
	DefaultOverlap  = 200
	maxAutoLookback = 100
)

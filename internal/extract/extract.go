// Package extract turns PDF files into ordered page texts.
//
// Two sources are combined: the PDF text layer (read in-process) and OCR of
// rasterized pages (pdftoppm + tesseract). HybridExtractor prefers the text
// layer and falls back to OCR for scanned documents.
package extract

import (
	"context"

	"github.com/mikeplath/LOKIV2/internal/chunk"
)

// Result is the text of one document.
type Result struct {
	// Pages holds one entry per processed page, ordered by page number.
	Pages []chunk.Page
	// PageCount is the total number of pages in the document.
	PageCount int
	// OCRUsed reports whether the text came from OCR.
	OCRUsed bool
	// Truncated reports that pages beyond the configured maximum were skipped.
	Truncated bool
}

// Chars returns the number of characters extracted across all pages.
func (r *Result) Chars() int {
	n := 0
	for _, p := range r.Pages {
		n += len([]rune(p.Text))
	}
	return n
}

// Extractor extracts page texts from a document. Failures on corrupt or
// unreadable input are ExtractionErrors.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Result, error)
}

// Options configures extraction.
type Options struct {
	// MaxPages caps the pages read per document. Zero means no limit.
	MaxPages int
	// OCR enables the OCR fallback.
	OCR bool
	// Language is the tesseract language code.
	Language string
	// DPI is the rasterization resolution for OCR.
	DPI int
	// MinCharsPerPage is the average text-layer density below which OCR is used.
	MinCharsPerPage int
}

// DefaultOptions mirrors the indexing defaults.
func DefaultOptions() Options {
	return Options{
		MaxPages:        2000,
		OCR:             false,
		Language:        "eng",
		DPI:             200,
		MinCharsPerPage: 50,
	}
}

// New builds the extractor for opts: the text layer alone, or the hybrid
// text-then-OCR extractor when OCR is enabled.
func New(opts Options) Extractor {
	text := NewPDFExtractor(opts.MaxPages)
	if !opts.OCR {
		return text
	}
	return NewHybridExtractor(text, NewOCRExtractor(opts), opts.MinCharsPerPage)
}

func pageLimit(count, maxPages int) (int, bool) {
	if maxPages > 0 && count > maxPages {
		return maxPages, true
	}
	return count, false
}

package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"

	"github.com/mikeplath/LOKIV2/internal/chunk"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// PDFExtractor reads the embedded text layer of a PDF.
type PDFExtractor struct {
	maxPages int
}

// NewPDFExtractor creates a text-layer extractor reading at most maxPages
// pages per document (0 = all).
func NewPDFExtractor(maxPages int) *PDFExtractor {
	return &PDFExtractor{maxPages: maxPages}
}

// Extract implements Extractor. A page whose text cannot be decoded is kept
// as an empty page; a document that cannot be opened is an ExtractionError.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (res *Result, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = lkerrors.ExtractionError(path, fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, lkerrors.ExtractionError(path, err)
	}
	defer func() { _ = f.Close() }()

	total := reader.NumPage()
	n, truncated := pageLimit(total, e.maxPages)
	if truncated {
		slog.Warn("page_limit_exceeded",
			slog.String("file", path),
			slog.Int("pages", total),
			slog.Int("max_pages", e.maxPages))
	}

	res = &Result{PageCount: total, Truncated: truncated, Pages: make([]chunk.Page, 0, n)}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, perr := pageText(reader, i)
		if perr != nil {
			slog.Debug("page_extract_failed",
				slog.String("file", path),
				slog.Int("page", i),
				slog.String("error", perr.Error()))
			text = ""
		}
		res.Pages = append(res.Pages, chunk.Page{Number: i, Text: text})
	}

	return res, nil
}

func pageText(reader *pdf.Reader, number int) (string, error) {
	page := reader.Page(number)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

// CountPages returns the number of pages of the PDF at path.
func CountPages(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return reader.NumPage(), nil
}

package extract

import (
	"context"
	"errors"
	"log/slog"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// HybridExtractor reads the text layer first and falls back to OCR when the
// layer is missing, unreadable or too sparse to be real text.
type HybridExtractor struct {
	text            Extractor
	ocr             Extractor
	minCharsPerPage int
}

// NewHybridExtractor combines a text-layer and an OCR extractor.
func NewHybridExtractor(text, ocr Extractor, minCharsPerPage int) *HybridExtractor {
	return &HybridExtractor{text: text, ocr: ocr, minCharsPerPage: minCharsPerPage}
}

// Extract implements Extractor.
func (h *HybridExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	res, textErr := h.text.Extract(ctx, path)
	if textErr == nil {
		pages := max(len(res.Pages), 1)
		avg := float64(res.Chars()) / float64(pages)
		if avg >= float64(h.minCharsPerPage) {
			return res, nil
		}
		slog.Info("ocr_fallback",
			slog.String("file", path),
			slog.Float64("chars_per_page", avg),
			slog.Int("threshold", h.minCharsPerPage))
	} else {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("text_layer_failed",
			slog.String("file", path),
			slog.String("error", textErr.Error()))
	}

	ocrRes, ocrErr := h.ocr.Extract(ctx, path)
	if ocrErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if textErr != nil {
			return nil, lkerrors.ExtractionError(path, errors.Join(textErr, ocrErr))
		}
		return nil, ocrErr
	}
	return ocrRes, nil
}

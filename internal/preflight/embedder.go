package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikeplath/LOKIV2/internal/embed"
)

// embedderCheckTimeout bounds the availability probe.
const embedderCheckTimeout = 10 * time.Second

// CheckEmbedder checks that the configured embedding model answers.
// Indexing works without it, so the check is not required.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	model, dims := c.embedder.ModelName(), c.embedder.Dimensions()
	result.Details = fmt.Sprintf("%s model %s, %d dims", embed.ProviderOf(c.embedder), model, dims)

	probeCtx, cancel := context.WithTimeout(ctx, embedderCheckTimeout)
	defer cancel()
	if !c.embedder.Available(probeCtx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s not available ('loki build' and 'loki query' need it)", model)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready (%d dims)", model, dims)
	return result
}

// CheckOCRTools checks that the rasterizer and OCR engine are on PATH.
func (c *Checker) CheckOCRTools() CheckResult {
	result := CheckResult{
		Name:     "ocr_tools",
		Required: true,
	}

	missing := c.missingOCRTools()
	if len(missing) > 0 {
		result.Status = StatusFail
		result.Message = "missing: " + strings.Join(missing, ", ")
		result.Details = "Install poppler-utils and tesseract-ocr, or run without --ocr"
		return result
	}

	result.Status = StatusPass
	result.Message = "pdftoppm and tesseract found"
	return result
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mikeplath/LOKIV2/internal/chunk"
	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// OCR tools, invoked as external processes.
const (
	RasterizerCommand = "pdftoppm"
	OCRCommand        = "tesseract"
	PageInfoCommand   = "pdfinfo"
)

// CommandRunner runs an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec, killing them when ctx ends.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// OCRExtractor rasterizes each page and runs tesseract on it.
type OCRExtractor struct {
	dpi      int
	language string
	maxPages int
	run      CommandRunner
	tempDir  string
}

// NewOCRExtractor creates an OCR extractor from opts.
func NewOCRExtractor(opts Options) *OCRExtractor {
	lang := opts.Language
	if lang == "" {
		lang = "eng"
	}
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 200
	}
	return &OCRExtractor{dpi: dpi, language: lang, maxPages: opts.MaxPages, run: ExecRunner}
}

// WithRunner replaces the command runner.
func (e *OCRExtractor) WithRunner(run CommandRunner) *OCRExtractor {
	e.run = run
	return e
}

// Extract implements Extractor. Any page failure fails the document so it is
// retried on the next run.
func (e *OCRExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	total, err := e.pageCount(ctx, path)
	if err != nil {
		return nil, lkerrors.ExtractionError(path, err)
	}
	n, truncated := pageLimit(total, e.maxPages)

	work, err := os.MkdirTemp(e.tempDir, "loki-ocr-*")
	if err != nil {
		return nil, lkerrors.ExtractionError(path, err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	res := &Result{PageCount: total, Truncated: truncated, OCRUsed: true, Pages: make([]chunk.Page, 0, n)}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := e.page(ctx, path, work, i)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, lkerrors.ExtractionError(path, fmt.Errorf("ocr page %d: %w", i, err))
		}
		res.Pages = append(res.Pages, chunk.Page{Number: i, Text: text})
	}

	slog.Debug("ocr_complete", slog.String("file", path), slog.Int("pages", n))
	return res, nil
}

func (e *OCRExtractor) page(ctx context.Context, path, work string, number int) (string, error) {
	prefix := filepath.Join(work, fmt.Sprintf("page-%d", number))
	num := strconv.Itoa(number)

	if _, err := e.run(ctx, RasterizerCommand,
		"-r", strconv.Itoa(e.dpi), "-f", num, "-l", num, "-png", "-singlefile", path, prefix); err != nil {
		return "", err
	}
	image := prefix + ".png"
	defer func() { _ = os.Remove(image) }()

	out, err := e.run(ctx, OCRCommand, image, "stdout", "-l", e.language)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var pagesLine = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

// pageCount reads the page count in-process, falling back to pdfinfo for
// files the parser rejects.
func (e *OCRExtractor) pageCount(ctx context.Context, path string) (int, error) {
	if n, err := CountPages(path); err == nil {
		return n, nil
	}

	out, err := e.run(ctx, PageInfoCommand, path)
	if err != nil {
		return 0, err
	}
	m := pagesLine.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("%s: no page count in output", PageInfoCommand)
	}
	return strconv.Atoi(string(m[1]))
}

// CheckOCRTools reports which OCR tools are missing from PATH.
func CheckOCRTools() []string {
	var missing []string
	for _, tool := range []string{RasterizerCommand, OCRCommand} {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}

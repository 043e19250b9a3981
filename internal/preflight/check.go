package preflight

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mikeplath/LOKIV2/internal/embed"
	"github.com/mikeplath/LOKIV2/internal/extract"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult is the result of one check. A failed check only blocks
// indexing when it is Required.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether r blocks indexing.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

func pass(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: StatusPass, Message: msg, Required: true}
}

func warn(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: StatusWarn, Message: msg, Required: true}
}

func fail(name, msg string) CheckResult {
	return CheckResult{Name: name, Status: StatusFail, Message: msg, Required: true}
}

// Checker runs the environment checks for one data directory.
type Checker struct {
	ocr       bool
	embedder  embed.Embedder
	corpusDir string
	exclude   []string
	workers   int
	verbose   bool
	output    io.Writer

	missingOCRTools func() []string
	freeBytes       func(path string) (uint64, error)
	fdLimit         func() (uint64, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithOCR requires pdftoppm and tesseract on PATH.
func WithOCR(enabled bool) Option {
	return func(c *Checker) { c.ocr = enabled }
}

// WithEmbedder probes e for availability.
func WithEmbedder(e embed.Embedder) Option {
	return func(c *Checker) { c.embedder = e }
}

// WithCorpus inspects the corpus directory and sizes the disk check by it.
func WithCorpus(dir string, exclude []string) Option {
	return func(c *Checker) {
		c.corpusDir = dir
		c.exclude = exclude
	}
}

// WithWorkers sizes the file descriptor check for n concurrent documents.
func WithWorkers(n int) Option {
	return func(c *Checker) { c.workers = n }
}

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets where PrintResults writes.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{
		workers:         1,
		output:          os.Stdout,
		missingOCRTools: extract.CheckOCRTools,
		freeBytes:       freeDiskBytes,
		fdLimit:         openFileLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll creates dataDir if needed and runs every enabled check in order.
// The remaining checks are skipped when dataDir cannot be created.
func (c *Checker) RunAll(ctx context.Context, dataDir string) []CheckResult {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return []CheckResult{fail("data_dir", fmt.Sprintf("cannot create %s: %v", dataDir, err))}
	}

	var corpus *corpusStats
	if c.corpusDir != "" {
		corpus = c.inspectCorpus(ctx)
	}

	results := []CheckResult{
		c.CheckWritePermissions(dataDir),
		c.CheckDiskSpace(dataDir, corpus.bytes()),
		c.CheckFileDescriptors(),
	}
	if corpus != nil {
		results = append(results, corpus.result())
	}
	if c.ocr {
		results = append(results, c.CheckOCRTools())
	}
	if c.embedder != nil {
		results = append(results, c.CheckEmbedder(ctx))
	}
	return results
}

// HasCriticalFailures reports whether any result blocks indexing.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	status := "ready"
	for _, r := range results {
		switch {
		case r.IsCritical():
			return "failed"
		case r.Status != StatusPass:
			status = "ready_with_warnings"
		}
	}
	return status
}

// Package ui renders indexing and build progress to the terminal and prints
// the status view.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a pipeline stage. Index runs go through scanning and
// extracting; builds through embedding and indexing.
type Stage int

const (
	StageScanning Stage = iota
	StageExtracting
	StageEmbedding
	StageIndexing
	StageComplete
)

var stageInfo = [...]struct{ name, icon, unit string }{
	StageScanning:   {"Scanning", "SCAN", "documents"},
	StageExtracting: {"Extracting", "EXTRACT", "documents"},
	StageEmbedding:  {"Embedding", "EMBED", "chunks"},
	StageIndexing:   {"Indexing", "INDEX", "chunks"},
	StageComplete:   {"Complete", "DONE", "items"},
}

func (s Stage) info() (name, icon, unit string) {
	if s < 0 || int(s) >= len(stageInfo) {
		return "Unknown", "???", "items"
	}
	i := stageInfo[s]
	return i.name, i.icon, i.unit
}

func (s Stage) String() string {
	name, _, _ := s.info()
	return name
}

// Icon is the short tag used by plain output.
func (s Stage) Icon() string {
	_, icon, _ := s.info()
	return icon
}

// Unit is what the stage counts.
func (s Stage) Unit() string {
	_, _, unit := s.info()
	return unit
}

// ProgressEvent reports the position within a stage.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent reports a failed document, or a skipped one when IsWarn is set.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

type StageTimings struct {
	Scan    time.Duration
	Extract time.Duration
	Embed   time.Duration
	Index   time.Duration
}

// EmbedderInfo names the embedding backend of a build.
type EmbedderInfo struct {
	Backend    string
	Model      string
	Dimensions int
}

// CompletionStats is the summary shown when a run ends.
type CompletionStats struct {
	// Title is "Indexing" or "Build".
	Title           string
	Files           int
	AlreadyComplete int
	Chunks          int
	OCRUsed         int
	Duration        time.Duration
	Errors          int
	Warnings        int
	Interrupted     bool
	Stages          StageTimings
	Embedder        EmbedderInfo
}

// Renderer displays the progress of one run. UpdateProgress and AddError
// may be called from several goroutines.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a Renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title and Target make up the header, e.g. "LOKI Indexer • /library".
	Title  string
	Target string
}

type ConfigOption func(*Config)

func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

func WithTitle(title string) ConfigOption {
	return func(c *Config) { c.Title = title }
}

func WithTarget(dir string) ConfigOption {
	return func(c *Config) { c.Target = dir }
}

// NewConfig returns a Config writing to output, titled "LOKI" unless an
// option says otherwise.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output, Title: "LOKI"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain text for
// pipes, CI and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	if tui, err := NewTUIRenderer(cfg); err == nil {
		return tui
	}
	return NewPlainRenderer(cfg)
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set, to any value.
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

var ciVariables = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}

// DetectCI reports whether a CI system's environment variable is set.
func DetectCI() bool {
	for _, v := range ciVariables {
		if _, set := os.LookupEnv(v); set {
			return true
		}
	}
	return false
}

// NopRenderer discards everything.
type NopRenderer struct{}

func (NopRenderer) Start(context.Context) error  { return nil }
func (NopRenderer) UpdateProgress(ProgressEvent) {}
func (NopRenderer) AddError(ErrorEvent)          {}
func (NopRenderer) Complete(CompletionStats)     {}
func (NopRenderer) Stop() error                  { return nil }

var _ Renderer = NopRenderer{}

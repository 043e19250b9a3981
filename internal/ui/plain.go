package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// chunkSteps is how many progress lines a chunk-counting stage prints.
const chunkSteps = 10

// PlainRenderer writes one line per event for pipes, CI and --no-tui.
// Document stages log every document; chunk stages log roughly every
// tenth of the way, plus the final count.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	stage   Stage
	printed int // last count printed in a chunk stage
	errors  []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, stage: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Stage != r.stage {
		r.stage = event.Stage
		r.printed = 0
	}

	detail := event.Message
	if detail == "" {
		detail = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		if event.Stage.Unit() == "chunks" && !r.dueLocked(event) {
			return
		}
		r.printed = event.Current
		if detail != "" {
			_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, detail)
		} else {
			_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, event.Stage.Unit())
		}
	case detail != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), detail)
	}
}

// dueLocked reports whether a chunk-stage event crossed the next step.
func (r *PlainRenderer) dueLocked(event ProgressEvent) bool {
	if event.Current >= event.Total {
		return r.printed < event.Total
	}
	step := max(1, event.Total/chunkSteps)
	return event.Current-r.printed >= step
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	level := "FAILED"
	if event.IsWarn {
		level = "SKIPPED"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s %s: %v\n", level, event.File, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", level, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	title := stats.Title
	if title == "" {
		title = "Run"
	}
	outcome := "complete"
	if stats.Interrupted {
		outcome = "interrupted"
	}

	w := r.out
	_, _ = fmt.Fprintf(w, "%s %s: %d documents, %d chunks in %s\n",
		title, outcome, stats.Files, stats.Chunks, formatDuration(stats.Duration))

	lines := []struct {
		label string
		n     int
	}{
		{"already complete", stats.AlreadyComplete},
		{"ocr used", stats.OCRUsed},
		{"failed", stats.Errors},
		{"skipped", stats.Warnings},
	}
	for _, l := range lines {
		if l.n > 0 {
			_, _ = fmt.Fprintf(w, "  %-17s %d\n", l.label+":", l.n)
		}
	}

	timings := []struct {
		label string
		d     time.Duration
		extra string
	}{
		{"scan", stats.Stages.Scan, ""},
		{"extract", stats.Stages.Extract, perHour(stats.Files, stats.Stages.Extract, "documents")},
		{"embed", stats.Stages.Embed, perSecond(stats.Chunks, stats.Stages.Embed, "chunks")},
		{"index", stats.Stages.Index, ""},
	}
	for _, tm := range timings {
		if tm.d <= 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "  %-17s %s%s\n", tm.label+":", tm.d.Round(100*time.Millisecond), tm.extra)
	}

	if e := stats.Embedder; e.Backend != "" {
		_, _ = fmt.Fprintf(w, "  %-17s %s %s (%d dims)\n", "embedder:", e.Backend, e.Model, e.Dimensions)
	}
}

func perHour(n int, d time.Duration, unit string) string {
	if n == 0 || d <= 0 {
		return ""
	}
	return fmt.Sprintf(" (%.0f %s/hour)", float64(n)/d.Hours(), unit)
}

func perSecond(n int, d time.Duration, unit string) string {
	if n == 0 || d <= 0 {
		return ""
	}
	return fmt.Sprintf(" (%.1f %s/s)", float64(n)/d.Seconds(), unit)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

package ui

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// rateWindow is how far back throughput is measured.
	rateWindow = 2 * time.Minute
	// historySize is the number of throughput samples kept for the chart.
	historySize = 60
	// sampleEvery spaces throughput samples.
	sampleEvery = time.Second
)

// sample is the item count observed at one instant.
type sample struct {
	at    time.Time
	count int
}

// ProgressTracker holds the renderer's view of the current stage. Rates are
// measured over a sliding window so a slow OCR document does not stall the
// ETA for the rest of the run. It is safe for concurrent use.
type ProgressTracker struct {
	mu          sync.RWMutex
	now         func() time.Time
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	failures    []ErrorEvent
	skips       []ErrorEvent

	window     []sample
	lastSample time.Time
	history    []float64
	peak       float64
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
	Rate        float64 // items per second over the window
	PeakRate    float64
}

// NewProgressTracker creates a tracker in the scanning stage.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		now:        now,
		stage:      StageScanning,
		startTime:  t,
		stageStart: t,
	}
}

// SetStage starts a new stage with the given total. Counters and rate
// history restart.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = p.now()
	p.window = p.window[:0]
	p.lastSample = time.Time{}
	p.history = p.history[:0]
	p.peak = 0
}

// Update records the item count reached within the stage.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.current = current
	if file != "" {
		p.currentFile = file
	}

	p.window = append(p.window, sample{at: now, count: current})
	cutoff := now.Add(-rateWindow)
	drop := 0
	for drop < len(p.window)-1 && p.window[drop].at.Before(cutoff) {
		drop++
	}
	p.window = p.window[drop:]

	if now.Sub(p.lastSample) >= sampleEvery {
		p.lastSample = now
		r := p.rateLocked()
		p.history = append(p.history, r)
		if len(p.history) > historySize {
			p.history = p.history[len(p.history)-historySize:]
		}
		if r > p.peak {
			p.peak = r
		}
	}
}

// AddError records a failed document, or a skipped one when IsWarn is set.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.skips = append(p.skips, event)
	} else {
		p.failures = append(p.failures, event)
	}
}

// Progress returns the completed fraction of the stage (0.0-1.0).
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progressLocked()
}

// ETA estimates the remaining time of the stage from the windowed rate.
func (p *ProgressTracker) ETA() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.etaLocked()
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.now().Sub(p.startTime)
}

// Stats returns a snapshot of the tracker.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.progressLocked(),
		ETA:         p.etaLocked(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.failures),
		WarnCount:   len(p.skips),
		Rate:        p.rateLocked(),
		PeakRate:    p.peak,
	}
}

// Errors returns the failed documents.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.failures...)
}

// Warnings returns the skipped documents.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.skips...)
}

// History renders the recent throughput as a chart of width cells.
func (p *ProgressTracker) History(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sparkline(p.history, width)
}

func (p *ProgressTracker) progressLocked() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1)
}

// rateLocked is items per second between the oldest and newest sample in
// the window. Before the window holds two samples it falls back to the
// stage average.
func (p *ProgressTracker) rateLocked() float64 {
	if n := len(p.window); n >= 2 {
		first, last := p.window[0], p.window[n-1]
		if span := last.at.Sub(first.at).Seconds(); span > 0 && last.count > first.count {
			return float64(last.count-first.count) / span
		}
	}
	if elapsed := p.now().Sub(p.stageStart).Seconds(); elapsed > 0 && p.current > 0 {
		return float64(p.current) / elapsed
	}
	return 0
}

func (p *ProgressTracker) etaLocked() time.Duration {
	remaining := p.total - p.current
	if p.current == 0 || remaining <= 0 {
		return 0
	}
	rate := p.rateLocked()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

var sparkChars = []rune("▁▂▃▄▅▆▇█")

// sparkline draws the last width values scaled to their maximum. Missing
// leading cells are blank.
func sparkline(values []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	hi := 0.0
	for _, v := range values {
		hi = max(hi, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(values)))
	for _, v := range values {
		idx := 0
		if hi > 0 {
			idx = int(v / hi * float64(len(sparkChars)-1))
		}
		sb.WriteRune(sparkChars[max(0, min(idx, len(sparkChars)-1))])
	}
	return sb.String()
}

// FormatRate renders a throughput for the given stage. Documents are slow
// enough that a per-hour figure reads better.
func FormatRate(stage Stage, perSecond float64) string {
	if stage.Unit() == "documents" {
		return formatCount(perSecond*3600) + " documents/hour"
	}
	return formatCount(perSecond) + " " + stage.Unit() + "/s"
}

func formatCount(v float64) string {
	prec := 2
	switch {
	case v >= 100:
		prec = 0
	case v >= 10:
		prec = 1
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

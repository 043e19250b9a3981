package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mikeplath/LOKIV2/internal/record"
)

// ProgressFileName is the name of the progress file inside the data directory.
const ProgressFileName = "progress.json"

// DefaultWriteInterval is the minimum spacing of throttled progress writes.
const DefaultWriteInterval = 2 * time.Second

// ProgressState is the persisted view of an indexing run.
type ProgressState struct {
	Total                  int       `json:"total"`
	Completed              int       `json:"completed"`
	AlreadyCompleteAtStart int       `json:"already_complete_at_start"`
	Failed                 int       `json:"failed"`
	OCRUsed                int       `json:"ocr_used"`
	StartedAt              time.Time `json:"started_at"`
	UpdatedAt              time.Time `json:"updated_at"`
	RatePerHour            float64   `json:"rate_per_hour"`
	ETASeconds             int64     `json:"eta_seconds"`
	Running                bool      `json:"running"`
}

// Remaining returns how many documents are neither completed nor failed.
func (s ProgressState) Remaining() int {
	n := s.Total - s.Completed - s.Failed
	if n < 0 {
		return 0
	}
	return n
}

// Percent returns completion in [0,100].
func (s ProgressState) Percent() float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// ProgressFile maintains progress.json for a run. Updates are event driven;
// disk writes are throttled by a token bucket, and Flush always writes.
type ProgressFile struct {
	path    string
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	state ProgressState
	seq   uint64

	writeMu sync.Mutex
	written uint64
}

// NewProgressFile creates a progress file writer. interval <= 0 selects
// DefaultWriteInterval.
func NewProgressFile(path string, interval time.Duration) *ProgressFile {
	if interval <= 0 {
		interval = DefaultWriteInterval
	}
	return &ProgressFile{
		path:    path,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

// Path returns the progress file path.
func (p *ProgressFile) Path() string { return p.path }

// Start resets the state for a new run and writes it.
func (p *ProgressFile) Start(total, alreadyComplete int) error {
	p.mu.Lock()
	now := p.now()
	p.state = ProgressState{
		Total:                  total,
		Completed:              alreadyComplete,
		AlreadyCompleteAtStart: alreadyComplete,
		StartedAt:              now,
		UpdatedAt:              now,
		Running:                true,
	}
	p.derive(now)
	p.seq++
	state, seq := p.state, p.seq
	p.mu.Unlock()

	// The start write consumes the burst token.
	p.limiter.AllowN(now, 1)
	return p.write(state, seq)
}

// DocumentCompleted records one completed document.
func (p *ProgressFile) DocumentCompleted(ocrUsed bool) error {
	return p.update(func(s *ProgressState) {
		s.Completed++
		if ocrUsed {
			s.OCRUsed++
		}
	})
}

// DocumentFailed records one failed document.
func (p *ProgressFile) DocumentFailed() error {
	return p.update(func(s *ProgressState) {
		s.Failed++
	})
}

// Flush writes the current state regardless of throttling and marks the
// run finished.
func (p *ProgressFile) Flush() error {
	p.mu.Lock()
	now := p.now()
	p.state.Running = false
	p.state.UpdatedAt = now
	p.derive(now)
	p.seq++
	state, seq := p.state, p.seq
	p.mu.Unlock()

	return p.write(state, seq)
}

// State returns a copy of the current state.
func (p *ProgressFile) State() ProgressState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ProgressFile) update(fn func(*ProgressState)) error {
	p.mu.Lock()
	now := p.now()
	fn(&p.state)
	p.state.UpdatedAt = now
	p.derive(now)
	p.seq++
	state, seq := p.state, p.seq
	p.mu.Unlock()

	if !p.limiter.AllowN(now, 1) {
		return nil
	}
	return p.write(state, seq)
}

// write persists state unless a newer state has already been written.
func (p *ProgressFile) write(state ProgressState, seq uint64) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if seq <= p.written {
		return nil
	}
	if err := writeState(p.path, state); err != nil {
		return err
	}
	p.written = seq
	return nil
}

// derive fills rate and ETA from completions made during this run.
func (p *ProgressFile) derive(now time.Time) {
	s := &p.state
	done := s.Completed - s.AlreadyCompleteAtStart
	elapsed := now.Sub(s.StartedAt)

	s.RatePerHour = 0
	s.ETASeconds = 0
	if done <= 0 || elapsed <= 0 {
		return
	}

	s.RatePerHour = float64(done) / elapsed.Hours()
	perDoc := elapsed.Seconds() / float64(done)
	s.ETASeconds = int64(perDoc * float64(s.Remaining()))
}

func writeState(path string, state ProgressState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	return record.WriteFileAtomic(path, data)
}

// LoadProgress reads a progress file.
func LoadProgress(path string) (*ProgressState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}

	var state ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &state, nil
}

// Recompute rebuilds the progress state from the record directory, for use
// when progress.json is missing or stale. total is the corpus size.
func Recompute(tracker *Tracker, total int) (*ProgressState, error) {
	done, err := tracker.Completed()
	if err != nil {
		return nil, err
	}

	completed := len(done)
	if total < completed {
		total = completed
	}
	return &ProgressState{
		Total:                  total,
		Completed:              completed,
		AlreadyCompleteAtStart: completed,
		UpdatedAt:              time.Now(),
	}, nil
}

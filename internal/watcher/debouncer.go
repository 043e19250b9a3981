package watcher

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Operation is the kind of change seen for a file.
type Operation int

const (
	OpCreate Operation = iota + 1
	OpModify
	OpDelete
	OpRename
)

var opNames = [...]string{OpCreate: "create", OpModify: "modify", OpDelete: "delete", OpRename: "rename"}

func (o Operation) String() string {
	if o > 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// FileEvent is one coalesced change.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// batchBuffer is how many undelivered batches the output channel holds
// before new ones are dropped.
const batchBuffer = 10

// Debouncer merges the events seen for a path until window passes without
// a new one, then emits every pending path as one batch sorted by path.
//
// Merging looks at the first operation of the window:
//
//	create, modify   -> create
//	create, delete   -> dropped
//	delete, create   -> modify (the file was replaced)
//	otherwise        -> the latest operation
type Debouncer struct {
	window time.Duration
	out    chan []FileEvent

	mu      sync.Mutex
	pending map[string]*pendingEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	first  Operation
	latest FileEvent
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		out:     make(chan []FileEvent, batchBuffer),
		pending: make(map[string]*pendingEvent),
	}
}

// Add records ev and restarts the quiet window.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if p, ok := d.pending[ev.Path]; !ok {
		d.pending[ev.Path] = &pendingEvent{first: ev.Operation, latest: ev}
	} else if !p.merge(ev) {
		delete(d.pending, ev.Path)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// merge folds next into p and reports whether the path still has a change.
func (p *pendingEvent) merge(next FileEvent) bool {
	switch {
	case p.first == OpCreate && next.Operation == OpModify:
		p.latest.Timestamp = next.Timestamp
	case p.first == OpCreate && next.Operation == OpDelete:
		return false
	case p.first == OpDelete && next.Operation == OpCreate:
		next.Operation = OpModify
		p.latest = next
	default:
		p.latest = next
	}
	return true
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, path := range slices.Sorted(maps.Keys(d.pending)) {
		batch = append(batch, d.pending[path].latest)
	}
	clear(d.pending)

	select {
	case d.out <- batch:
	default:
		slog.Warn("Dropping file event batch, consumer is behind",
			slog.Int("batch_size", len(batch)),
			slog.String("first_path", batch[0].Path))
	}
}

// Output returns the channel of batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent { return d.out }

// Stop drops pending events and closes Output. Later calls do nothing.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}

func (o Operation) isRemoval() bool { return o == OpDelete || o == OpRename }

// changedPaths returns the sorted paths in batch that were not removed,
// joined for logging.
func changedPaths(batch []FileEvent) string {
	var paths []string
	for _, ev := range batch {
		if !ev.Operation.isRemoval() {
			paths = append(paths, ev.Path)
		}
	}
	return strings.Join(paths, ", ")
}

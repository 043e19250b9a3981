// Package checkpoint tracks which documents have been fully indexed.
//
// Completion is never stored separately: a document is complete exactly when
// a valid chunk record exists for it. The progress file is a disposable view
// that can always be recomputed from the record directory.
package checkpoint

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync/atomic"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
	"github.com/mikeplath/LOKIV2/internal/record"
)

// Tracker answers completion queries against a record store.
type Tracker struct {
	store   *record.Store
	corrupt atomic.Int64
}

// NewTracker creates a Tracker over store.
func NewTracker(store *record.Store) *Tracker {
	return &Tracker{store: store}
}

// IsCompleted reports whether key has a valid record. Corrupt records count
// as not completed so the document is reprocessed; only unexpected I/O
// failures are returned as errors.
func (t *Tracker) IsCompleted(key string) (bool, error) {
	if !t.store.Exists(key) {
		return false, nil
	}

	_, err := t.store.Load(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case lkerrors.IsCode(err, lkerrors.ErrCodeCorruptRecord):
		t.corrupt.Add(1)
		slog.Warn("corrupt_record",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return false, nil
	default:
		return false, err
	}
}

// Completed returns the set of keys with valid records.
func (t *Tracker) Completed() (map[string]bool, error) {
	keys, err := t.store.List()
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(keys))
	for _, key := range keys {
		ok, err := t.IsCompleted(key)
		if err != nil {
			return nil, err
		}
		if ok {
			done[key] = true
		}
	}
	return done, nil
}

// MarkCompleted persists rec. Once it returns nil the document is complete.
func (t *Tracker) MarkCompleted(rec *record.ChunkRecord) error {
	return t.store.Save(rec)
}

// CorruptSeen returns how many corrupt records this tracker has encountered.
func (t *Tracker) CorruptSeen() int {
	return int(t.corrupt.Load())
}

// Store returns the underlying record store.
func (t *Tracker) Store() *record.Store {
	return t.store
}

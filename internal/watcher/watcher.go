package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	lkerrors "github.com/mikeplath/LOKIV2/internal/errors"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 250 * time.Millisecond

// Options selects what Watch reports.
type Options struct {
	// Names limits events to these base names. Empty means every file.
	Names []string

	Debounce time.Duration
}

// Watch calls onChange with each debounced batch of events for files in dir
// until ctx is done. Only the directory itself is watched.
func Watch(ctx context.Context, dir string, opts Options, onChange func([]FileEvent)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(dir); err != nil {
		return lkerrors.IOError(fmt.Sprintf("cannot watch %s", dir), err)
	}

	window := opts.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	d := NewDebouncer(window)
	defer d.Stop()

	wanted := make(map[string]bool, len(opts.Names))
	for _, n := range opts.Names {
		wanted[n] = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if len(wanted) > 0 && !wanted[filepath.Base(ev.Name)] {
				continue
			}
			if op, ok := translate(ev.Op); ok {
				d.Add(FileEvent{Path: ev.Name, Operation: op, Timestamp: time.Now()})
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("dir", dir), slog.String("error", err.Error()))
		case batch, ok := <-d.Output():
			if !ok {
				return nil
			}
			slog.Debug("watch_batch", slog.Int("events", len(batch)), slog.String("changed", changedPaths(batch)))
			onChange(batch)
		}
	}
}

func translate(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	case op.Has(fsnotify.Remove):
		return OpDelete, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	default:
		return 0, false
	}
}

package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter appends to a log file and shifts it to path.1, path.2 and
// so on once it would grow past the size limit. At most keep rotated files
// are retained. Every write is synced so a killed run loses no lines.
type RotatingWriter struct {
	path    string
	limit   int64
	keep    int
	mu      sync.Mutex
	f       *os.File
	size    int64
	onError func(error)
}

// NewRotatingWriter opens path for appending, creating its directory.
func NewRotatingWriter(path string, maxSizeMB, keep int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &RotatingWriter{
		path:  path,
		limit: int64(maxSizeMB) << 20,
		keep:  keep,
		onError: func(err error) {
			_, _ = fmt.Fprintf(os.Stderr, "loki: log rotation failed: %v\n", err)
		},
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, fs.ErrClosed
	}
	// A failed rotation keeps appending to the current file.
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			w.onError(err)
			if w.f == nil {
				return 0, err
			}
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, err
	}
	return n, w.f.Sync()
}

// Close syncs and closes the file. Later writes fail with fs.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	err := errors.Join(w.f.Sync(), w.f.Close())
	w.f = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.f, w.size = f, info.Size()
	return nil
}

// rotate drops the oldest generation, shifts the rest up by one and starts
// a fresh file.
func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.f = nil

	var errs []error
	if err := os.Remove(w.generation(w.keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	for n := w.keep - 1; n >= 0; n-- {
		err := os.Rename(w.generation(n), w.generation(n+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if err := w.open(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// generation is the file name of rotated file n; 0 is the live file.
func (w *RotatingWriter) generation(n int) string {
	if n == 0 {
		return w.path
	}
	return fmt.Sprintf("%s.%d", w.path, n)
}

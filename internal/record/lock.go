package record

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// TryLockFile takes an exclusive advisory lock on path without waiting,
// creating its directory. ok is false when another process or goroutine
// holds the lock. The kernel drops the lock if the holder dies; the file
// itself is left in place.
func TryLockFile(path string) (release func(), ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f := flock.New(path)
	ok, err = f.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock %s: %w", filepath.Base(path), err)
	}
	if !ok {
		return nil, false, nil
	}

	var released bool
	return func() {
		if released {
			return
		}
		released = true
		if err := f.Unlock(); err != nil {
			slog.Warn("unlock_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}, true, nil
}

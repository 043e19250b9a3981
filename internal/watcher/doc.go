// Package watcher reports changes to a fixed set of files in one directory.
//
// Raw fsnotify events are coalesced per file by a Debouncer so that a burst
// of writes (or a temp-file-and-rename replacement) is delivered as a single
// batch after the debounce window.
//
// Usage:
//
//	err := watcher.Watch(ctx, dataDir, watcher.Options{
//	    Names:    []string{"progress.json"},
//	    Debounce: 250 * time.Millisecond,
//	}, func(events []watcher.FileEvent) {
//	    // re-render
//	})
package watcher

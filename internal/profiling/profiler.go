// Package profiling wires the --profile-* flags to runtime/pprof and
// runtime/trace.
package profiling

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the output file of each profile. Empty disables it.
type Options struct {
	CPU   string
	Mem   string
	Trace string
}

// Enabled reports whether any profile is requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Mem != "" || o.Trace != ""
}

// Start begins the CPU profile and execution trace. The returned stop ends
// them in reverse order and then writes the heap profile. It must be called
// exactly once, on error paths of the command too.
func Start(opts Options) (stop func() error, err error) {
	var running []func() error
	unwind := func() error {
		var errs []error
		for i := len(running) - 1; i >= 0; i-- {
			errs = append(errs, running[i]())
		}
		running = nil
		return errors.Join(errs...)
	}

	starters := []struct {
		path  string
		start func(io.Writer) error
		stop  func()
	}{
		{opts.CPU, pprof.StartCPUProfile, pprof.StopCPUProfile},
		{opts.Trace, trace.Start, trace.Stop},
	}
	for _, s := range starters {
		if s.path == "" {
			continue
		}
		end, err := startTo(s.path, s.start, s.stop)
		if err != nil {
			_ = unwind()
			return nil, err
		}
		running = append(running, end)
	}

	return func() error {
		err := unwind()
		if opts.Mem != "" {
			err = errors.Join(err, WriteHeap(opts.Mem))
		}
		slog.Debug("profiling_stopped",
			slog.String("cpu", opts.CPU),
			slog.String("mem", opts.Mem),
			slog.String("trace", opts.Trace))
		return err
	}, nil
}

// startTo creates path and starts a profile writing to it.
func startTo(path string, start func(io.Writer) error, stop func()) (func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile %s: %w", path, err)
	}
	if err := start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start profile %s: %w", path, err)
	}
	return func() error {
		stop()
		return f.Close()
	}, nil
}

// WriteHeap writes a heap profile of live objects to path.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile: %w", err)
	}
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return f.Close()
}

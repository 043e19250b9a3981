package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func busyWork() int {
	sum := 0
	for i := range 1000000 {
		sum += i % 7
	}
	return sum
}

func requireNonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	require.NoError(t, WriteHeap(path))

	requireNonEmpty(t, path)
	assert.Error(t, WriteHeap(filepath.Join(t.TempDir(), "missing", "heap.prof")))
}

func TestStart_AllProfiles(t *testing.T) {
	// Given: every profile requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Mem:   filepath.Join(dir, "mem.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	require.True(t, opts.Enabled())

	// When: a command runs between start and stop
	stop, err := Start(opts)
	require.NoError(t, err)
	_ = busyWork()
	require.NoError(t, stop())

	// Then: all three files are written
	requireNonEmpty(t, opts.CPU)
	requireNonEmpty(t, opts.Mem)
	requireNonEmpty(t, opts.Trace)
}

func TestStart_Nothing(t *testing.T) {
	assert.False(t, Options{}.Enabled())

	stop, err := Start(Options{})
	require.NoError(t, err)
	assert.NoError(t, stop())
}

func TestStart_BadTracePathStopsCPU(t *testing.T) {
	// Given: a writable CPU path and an unwritable trace path
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Trace: filepath.Join(dir, "missing", "trace.out"),
	}

	// When: starting
	_, err := Start(opts)

	// Then: it fails and CPU profiling is released for the next caller
	require.Error(t, err)
	stop, err := Start(Options{CPU: filepath.Join(dir, "cpu2.prof")})
	require.NoError(t, err)
	require.NoError(t, stop())
}

func TestStart_Individually(t *testing.T) {
	tests := []struct {
		name string
		opts func(dir string) Options
		file string
	}{
		{"cpu", func(d string) Options { return Options{CPU: filepath.Join(d, "cpu.prof")} }, "cpu.prof"},
		{"trace", func(d string) Options { return Options{Trace: filepath.Join(d, "trace.out")} }, "trace.out"},
		{"mem", func(d string) Options { return Options{Mem: filepath.Join(d, "mem.prof")} }, "mem.prof"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()

			stop, err := Start(tt.opts(dir))
			require.NoError(t, err)
			_ = busyWork()
			require.NoError(t, stop())

			requireNonEmpty(t, filepath.Join(dir, tt.file))
		})
	}
}

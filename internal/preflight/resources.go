package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/mikeplath/LOKIV2/internal/ui"
)

const (
	// MinDiskSpaceBytes is the free space below which indexing cannot start.
	MinDiskSpaceBytes = 100 << 20

	// LowDiskSpaceBytes is the warning threshold when the corpus size is
	// unknown.
	LowDiskSpaceBytes = 1 << 30

	// storageDivisor estimates records plus one snapshot as a fraction of
	// the corpus size.
	storageDivisor = 2

	// Descriptors held open outside the workers: logs, lock, caches, stdio.
	baseDescriptors = 64
	// A worker holds the PDF, a record temp file and the pipes of the OCR
	// subprocesses.
	descriptorsPerWorker = 16
)

// CheckWritePermissions creates and removes a probe file in dir.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	const name = "write_permissions"

	f, err := os.CreateTemp(dir, ".loki-preflight-*")
	if err != nil {
		return fail(name, fmt.Sprintf("permission denied: %v", err))
	}
	probe := f.Name()
	_ = f.Close()
	if err := os.Remove(probe); err != nil {
		return warn(name, fmt.Sprintf("cannot remove %s: %v", filepath.Base(probe), err))
	}
	return pass(name, "data directory is writable")
}

// CheckDiskSpace compares the free space under dir with what indexing a
// corpus of corpusBytes needs. corpusBytes may be zero when unknown.
func (c *Checker) CheckDiskSpace(dir string, corpusBytes int64) CheckResult {
	const name = "disk_space"

	free, err := c.freeBytes(dir)
	if err != nil {
		return fail(name, fmt.Sprintf("cannot read free space: %v", err))
	}

	want := uint64(LowDiskSpaceBytes)
	if corpusBytes > 0 {
		want = max(uint64(corpusBytes/storageDivisor), MinDiskSpaceBytes)
	}

	switch {
	case free < MinDiskSpaceBytes:
		r := fail(name, fmt.Sprintf("%s free, at least %s needed", size(free), size(MinDiskSpaceBytes)))
		r.Details = "Free some space or point paths.data_dir at a larger volume"
		return r
	case free < want:
		r := warn(name, fmt.Sprintf("%s free, about %s recommended", size(free), size(want)))
		if corpusBytes > 0 {
			r.Details = fmt.Sprintf("estimate for a %s corpus", size(uint64(corpusBytes)))
		}
		return r
	default:
		return pass(name, size(free)+" free")
	}
}

// CheckFileDescriptors checks the open file limit against the number of
// workers.
func (c *Checker) CheckFileDescriptors() CheckResult {
	const name = "file_descriptors"

	limit, err := c.fdLimit()
	if err != nil {
		return warn(name, fmt.Sprintf("cannot read the open file limit: %v", err))
	}
	need := uint64(baseDescriptors + descriptorsPerWorker*max(c.workers, 1))
	if limit < need {
		r := fail(name, fmt.Sprintf("limit %d, %d workers need %d", limit, c.workers, need))
		r.Details = fmt.Sprintf("Run 'ulimit -n %d' or lower indexing.workers", need*4)
		return r
	}
	return pass(name, fmt.Sprintf("limit %d", limit))
}

func freeDiskBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func openFileLimit() (uint64, error) {
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return 0, err
	}
	return rl.Cur, nil
}

func size(n uint64) string {
	return ui.FormatBytes(int64(n))
}

package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mikeplath/LOKIV2/internal/record"
)

// MarkerFile records when the checks last passed for a data directory.
const MarkerFile = ".preflight-passed"

// MarkerMaxAge is how long 'loki index' trusts a passed check.
const MarkerMaxAge = 7 * 24 * time.Hour

// NeedsCheck reports whether 'loki index' has to run the checks first.
// A missing, unreadable or stale marker means yes.
func NeedsCheck(dataDir string) bool {
	passed, ok := readMarker(dataDir)
	return !ok || time.Since(passed) > MarkerMaxAge
}

// MarkerAge is the time since the checks passed, or zero without a valid
// marker.
func MarkerAge(dataDir string) time.Duration {
	passed, ok := readMarker(dataDir)
	if !ok {
		return 0
	}
	return time.Since(passed)
}

// MarkPassed stamps the marker with the current time.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	return record.WriteFileAtomic(markerPath(dataDir), []byte(stamp))
}

// ClearMarker forces the checks to run on the next 'loki index'.
func ClearMarker(dataDir string) error {
	if err := os.Remove(markerPath(dataDir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove preflight marker: %w", err)
	}
	return nil
}

func markerPath(dataDir string) string {
	return filepath.Join(dataDir, MarkerFile)
}

func readMarker(dataDir string) (time.Time, bool) {
	data, err := os.ReadFile(markerPath(dataDir))
	if err != nil {
		return time.Time{}, false
	}
	passed, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return passed, true
}

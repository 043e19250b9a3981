// Package version reports the build of the loki binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is set via ldflags at build time:
//
//	-X github.com/mikeplath/LOKIV2/pkg/version.Version=$(VERSION)
var Version = "dev"

// Build information set via ldflags. When unset, Commit and Date fall back
// to the VCS stamp the Go toolchain embeds.
var (
	Commit = "unknown"
	Date   = "unknown"

	GoVersion = runtime.Version()
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Modified  bool   `json:"modified,omitempty"`
}

// String is the line printed by 'loki version'.
func String() string { return GetInfo().String() }

func Short() string { return Version }

func (b BuildInfo) String() string {
	dirty := ""
	if b.Modified {
		dirty = "+dirty"
	}
	return fmt.Sprintf("loki %s (commit: %s%s, built: %s, go: %s, %s/%s)",
		b.Version, b.Commit, dirty, b.Date, b.GoVersion, b.OS, b.Arch)
}

// GetInfo combines the ldflags values with the embedded VCS stamp.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	return info
}

func applyVCS(info *BuildInfo, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = s.Value[:min(len(s.Value), 12)]
			}
		case "vcs.time":
			if info.Date == "unknown" && s.Value != "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

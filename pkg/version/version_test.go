package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semverRegex.MatchString(Version), "Version should follow semver format, got: %s", Version)
}

func TestGetInfo_Platform(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.Date)
}

func TestString_ContainsVersionAndPlatform(t *testing.T) {
	s := String()

	assert.Contains(t, s, "loki "+Version)
	assert.Contains(t, s, runtime.GOOS+"/"+runtime.GOARCH)
	assert.Equal(t, Version, Short())
}

func TestBuildInfo_JSON(t *testing.T) {
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	for _, key := range []string{"version", "commit", "date", "go_version", "os", "arch"} {
		assert.Contains(t, got, key)
	}
}

func TestApplyVCS(t *testing.T) {
	tests := []struct {
		name     string
		start    BuildInfo
		settings []debug.BuildSetting
		want     BuildInfo
	}{
		{
			name:  "fills unknown fields",
			start: BuildInfo{Commit: "unknown", Date: "unknown"},
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
				{Key: "vcs.modified", Value: "true"},
			},
			want: BuildInfo{Commit: "0123456789ab", Date: "2026-03-01T10:00:00Z", Modified: true},
		},
		{
			name:  "ldflags win",
			start: BuildInfo{Commit: "abc123", Date: "2026-01-01"},
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "ffffffffffff"},
				{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
			},
			want: BuildInfo{Commit: "abc123", Date: "2026-01-01"},
		},
		{
			name:     "short revision kept whole",
			start:    BuildInfo{Commit: "unknown", Date: "unknown"},
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			want:     BuildInfo{Commit: "abc", Date: "unknown"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.start
			applyVCS(&info, tt.settings)
			assert.Equal(t, tt.want, info)
		})
	}
}

// Package versions exposes build-time version information.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unknownStr = "unknown"

// Injected at build time via ldflags.
var (
	version   = "dev"
	commit    = unknownStr
	buildDate = unknownStr
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Version returns the version string, falling back to VCS build info for
// untagged builds.
func Version() string {
	if version != "dev" {
		return version
	}
	if c := vcsRevision(); c != "" {
		return "build-" + shorten(c)
	}
	return "build-" + unknownStr
}

// GetVersionInfo returns the full version details.
func GetVersionInfo() VersionInfo {
	c := commit
	if c == unknownStr {
		if rev := vcsRevision(); rev != "" {
			c = rev
		}
	}
	return VersionInfo{
		Version:   Version(),
		Commit:    c,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func vcsRevision() string {
	if commit != unknownStr {
		return commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

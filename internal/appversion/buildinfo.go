// Package appversion provides build-time version information.
package appversion

import (
	"fmt"
	"runtime/debug"
)

// version is set at build time via -ldflags.
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the current version.
func String() string {
	return version
}

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

// Read returns the version plus whatever the Go toolchain embedded.
func Read() Info {
	info := Info{Version: version}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			info.Commit = s.Value[:12]
		}
	}
	return info
}

// Line renders info for `aide version`.
func (i Info) Line() string {
	if i.Commit == "" {
		return fmt.Sprintf("aide %s (%s)", i.Version, i.GoVersion)
	}
	return fmt.Sprintf("aide %s %s (%s)", i.Version, i.Commit, i.GoVersion)
}

// Package version reports the build version of joulia-live.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is set at build time:
// -ldflags="-X github.com/joulia/joulia-live/internal/version.Version=v1.0.0"
var Version = ""

// Info holds version metadata.
type Info struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
	Go       string `json:"go,omitempty"`
}

// GetInfo returns the version metadata for the named binary.
func GetInfo(name string) Info {
	info := Info{Name: name, Version: Get()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Go = bi.GoVersion
		if rev := setting(bi, "vcs.revision"); rev != "" {
			info.Revision = rev
		}
	}
	return info
}

// Get returns the version string, falling back to module build info.
func Get() string {
	if Version != "" {
		return Version
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	if rev := setting(bi, "vcs.revision"); len(rev) >= 7 {
		return "dev-" + rev[:7]
	}
	return "dev"
}

// String returns a one-line version summary.
func String(name string) string {
	return fmt.Sprintf("%s version %s", name, Get())
}

func setting(bi *debug.BuildInfo, key string) string {
	for _, s := range bi.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

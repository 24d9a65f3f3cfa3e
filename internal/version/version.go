// Package version exposes the build version announced by the server and
// printed by the CLIs.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/muurk/usbshare/internal/version.Version=1.2.3 \
//	                   -X github.com/muurk/usbshare/internal/version.Commit=abc123"
var (
	// Version is the semantic version of the application
	Version = ""
	// Commit is the git commit hash
	Commit = ""
)

// fallbackVersion is announced when no version information is available.
const fallbackVersion = "1.0.0"

func init() {
	if Version == "" || Commit == "" {
		populateFromBuildInfo()
	}
	if Version == "" {
		Version = fallbackVersion
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// populateFromBuildInfo reads the module version and VCS revision embedded by
// the Go toolchain.
func populateFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = strings.TrimPrefix(info.Main.Version, "v")
	}

	var vcsRevision, vcsModified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcsRevision = setting.Value
		case "vcs.modified":
			vcsModified = setting.Value
		}
	}

	if Commit == "" && vcsRevision != "" {
		if len(vcsRevision) > 7 {
			Commit = vcsRevision[:7]
		} else {
			Commit = vcsRevision
		}
		if vcsModified == "true" {
			Commit += "-dirty"
		}
	}
}

// Full returns the full version string including commit
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

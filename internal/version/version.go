// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/MrWong99/talkback/internal/version.Version=v1.0.0"
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns Version, falling back to the module version recorded by
// go install when no version was injected.
func String() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// Full returns a one-line description of the named binary's build.
func Full(binary string) string {
	return fmt.Sprintf("%s %s, commit %s, built at %s", binary, String(), Commit, Date)
}

// Package version carries build metadata stamped through -ldflags by the
// release pipeline.
package version

import "fmt"

var (
	// Version is the release tag; "dev" for local builds.
	Version = "dev"
	// Commit is the short git hash the binary was built from.
	Commit = "unknown"
	// BuildDate is the build timestamp, RFC 3339.
	BuildDate = "unknown"
)

// String renders the build metadata on one line for logs and the version
// command.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}

package version

import "runtime"

// Populated at build time via -ldflags, e.g.
// -X .../internal/version.Version=$(git describe --tags).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }

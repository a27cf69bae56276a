// Package version holds build information injected at link time.
package version

var (
	// Version is the release version, set via ldflags.
	Version = "dev"
	// GitCommit is the commit hash the binary was built from.
	GitCommit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

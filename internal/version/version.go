// Package version carries build-time version metadata, overridden via -ldflags.
package version

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the VCS revision of the build.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)

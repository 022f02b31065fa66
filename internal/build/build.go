// Package build provides build-time metadata for the loom binaries.
// The values are overridden at link time via -ldflags.
package build

var (
	// ProjectName is used as the namespace for emitted metrics and as the
	// service name reported to tracing backends.
	ProjectName = "loom"

	// Version is the release version, e.g. "0.3.1".
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

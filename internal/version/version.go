// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag of the localiser.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata for the version command and the
// monitor status endpoint.
func String() string {
	return fmt.Sprintf("localiser %s (%s, built %s)", Version, GitSHA, BuildTime)
}

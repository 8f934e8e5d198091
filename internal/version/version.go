// Package version holds build metadata stamped in with -ldflags -X.
package version

var (
	// Version is the release version of bevlidar.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

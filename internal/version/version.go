// Package version holds build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/lexi.report/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for a command's -version output.
func String(cmd string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", cmd, Version, GitSHA, BuildTime)
}

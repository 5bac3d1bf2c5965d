// Package version holds build metadata injected with -ldflags.
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders "kotoba <version> (<commit>, built <time>)".
func String() string {
	return "kotoba " + Version + " (" + GitCommit + ", built " + BuildTime + ")"
}

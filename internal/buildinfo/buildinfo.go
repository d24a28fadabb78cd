// Package buildinfo carries the identifiers stamped in at build time via
// -ldflags.
package buildinfo

// Version is the release tag, if any.
var Version = "dev"

// Commit is the source revision.
var Commit = "unknown"

// Date is the build timestamp.
var Date = "unknown"

// Short returns a compact identifier for the boot banner.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// Package version carries build identification stamped via -ldflags.
package version

var (
	Version = "dev"
	Commit  = "none"
)

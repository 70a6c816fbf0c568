// Package version holds build-time metadata for the tfs2git binaries.
package version

import "fmt"

// Set via -ldflags "-X github.com/kunom/tfs2git/version.Version=..." at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Print returns a single-line banner for a named program.
func Print(program string) string {
	return fmt.Sprintf("%s version %s (commit %s, built %s)", program, Version, Commit, BuildDate)
}

// Package version reports build metadata.
package version

import "fmt"

// Set at build time, e.g.
// go build -ldflags "-X github.com/pysugar/app-portal/internal/version.Version=v0.1.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String is the one-line form printed by the version command.
func String() string {
	return fmt.Sprintf("app-portal %s (commit %s, built %s)", Version, Commit, BuildTime)
}

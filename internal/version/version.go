// Package version carries build metadata stamped in by the linker.
package version

import "fmt"

// Version and Commit are set at build time via:
//
//	go build -ldflags "-X github.com/clickedinc/axr/internal/version.Version=0.1.0 -X github.com/clickedinc/axr/internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "dev"
)

// String is the one-line form printed by "axr version".
func String() string {
	return fmt.Sprintf("axr %s (%s)", Version, Commit)
}

// pkg/version/version.go

package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/CodeMonkeyCybersecurity/warden/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders the one-line version banner.
func String() string {
	return fmt.Sprintf("warden %s (commit %s, built %s, %s/%s, %s)",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

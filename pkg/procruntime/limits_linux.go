//go:build linux

package procruntime

import (
	cerr "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// applyLimits caps the writable data segment and CPU time of a freshly
// started pid. RLIMIT_AS would also count V8's PROT_NONE reservations and
// stops chromium before its first page loads.
func applyLimits(pid int, memBytes, cpuSeconds uint64) error {
	if memBytes > 0 {
		lim := &unix.Rlimit{Cur: memBytes, Max: memBytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_DATA, lim, nil); err != nil {
			return cerr.Wrapf(err, "failed to cap data segment of pid %d", pid)
		}
	}
	if cpuSeconds > 0 {
		// SIGXCPU at the soft limit gives the browser a chance to exit cleanly.
		lim := &unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds + 5}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, lim, nil); err != nil {
			return cerr.Wrapf(err, "failed to cap cpu time of pid %d", pid)
		}
	}
	return nil
}

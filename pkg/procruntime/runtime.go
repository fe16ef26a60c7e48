// pkg/procruntime/runtime.go
//
// Process runtime abstraction used by the governor. The governor never
// touches the OS process table directly; it goes through Runtime so the
// evaluator, remediation engine and pool manager can be exercised against
// the in-memory Fake.

package procruntime

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
)

// ErrProcessGone is returned when a pid no longer exists.
var ErrProcessGone = cerr.New("process no longer exists")

// ErrLimitsUnsupported is returned when the platform cannot apply launch caps.
var ErrLimitsUnsupported = cerr.New("resource limits not supported on this platform")

// ProcessInfo identifies a live process that carries the worker tag.
type ProcessInfo struct {
	PID       int
	StartedAt time.Time
	Cmdline   string
}

// Stats is a single per-process resource reading.
type Stats struct {
	RSSBytes   uint64
	CPUPercent float64
	StartedAt  time.Time
}

// LaunchSpec describes a worker to start.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Label   string
	Tag     string

	// Caps applied at creation time where the platform supports them. Zero disables.
	MemoryLimitBytes uint64
	CPULimitSeconds  uint64
}

// LaunchResult reports the started worker and which caps were applied.
type LaunchResult struct {
	Info          ProcessInfo
	LimitsApplied bool
	LimitsErr     error
}

// Runtime is the process runtime the governor consumes.
type Runtime interface {
	// ListTagged lists live processes whose command line contains tag.
	ListTagged(ctx context.Context, tag string) ([]ProcessInfo, error)
	// Stats reads RSS and CPU% for pid.
	Stats(ctx context.Context, pid int) (Stats, error)
	// Alive reports whether pid is running and not a zombie.
	Alive(ctx context.Context, pid int) bool
	// Terminate delivers the graceful termination signal.
	Terminate(ctx context.Context, pid int) error
	// Kill delivers the forceful termination signal.
	Kill(ctx context.Context, pid int) error
	// Renice sets the scheduling priority of pid.
	Renice(ctx context.Context, pid int, nice int) error
	// Launch starts a new worker and applies caps when possible.
	Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error)
}

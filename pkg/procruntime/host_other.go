//go:build !unix

// pkg/procruntime/host_other.go

package procruntime

import (
	"context"

	cerr "github.com/cockroachdb/errors"
)

// ErrHostUnsupported is returned by every HostRuntime call on platforms
// without POSIX process groups and signals.
var ErrHostUnsupported = cerr.New("host process runtime requires a unix platform")

// HostRuntime is unavailable here; use the Fake runtime instead.
type HostRuntime struct{}

// NewHostRuntime returns a Runtime whose operations all fail.
func NewHostRuntime() *HostRuntime { return &HostRuntime{} }

func (h *HostRuntime) ListTagged(ctx context.Context, tag string) ([]ProcessInfo, error) {
	return nil, ErrHostUnsupported
}

func (h *HostRuntime) Stats(ctx context.Context, pid int) (Stats, error) {
	return Stats{}, ErrHostUnsupported
}

func (h *HostRuntime) Alive(ctx context.Context, pid int) bool { return false }

func (h *HostRuntime) Terminate(ctx context.Context, pid int) error { return ErrHostUnsupported }

func (h *HostRuntime) Kill(ctx context.Context, pid int) error { return ErrHostUnsupported }

func (h *HostRuntime) Renice(ctx context.Context, pid int, nice int) error {
	return ErrHostUnsupported
}

func (h *HostRuntime) Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error) {
	return LaunchResult{}, ErrHostUnsupported
}

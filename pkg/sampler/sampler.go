// pkg/sampler/sampler.go
//
// Metric sampling for the governor tick. One Sample call reads host memory
// and CPU plus the per-worker RSS/CPU of the registry's workers and returns
// an immutable SystemSnapshot.

package sampler

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/procruntime"
	cerr "github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// HostMetrics reads aggregate host utilisation.
type HostMetrics interface {
	MemoryPercent(ctx context.Context) (float64, error)
	CPUPercent(ctx context.Context) (float64, error)
}

// GopsutilHost reads host metrics through gopsutil.
type GopsutilHost struct{}

func (GopsutilHost) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// CPUPercent returns utilisation since the previous call, so it never blocks.
func (GopsutilHost) CPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, cerr.New("no cpu utilisation reported")
	}
	return pcts[0], nil
}

// Sampler builds one SystemSnapshot per tick.
type Sampler struct {
	host    HostMetrics
	runtime procruntime.Runtime
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithTimeout bounds a single Sample call.
func WithTimeout(d time.Duration) Option {
	return func(s *Sampler) { s.timeout = d }
}

// New returns a Sampler reading from host and rt.
func New(host HostMetrics, rt procruntime.Runtime, opts ...Option) *Sampler {
	s := &Sampler{
		host:    host,
		runtime: rt,
		timeout: 10 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample reads host metrics and refreshes the given workers.
//
// A SamplingError is returned only when host memory or CPU cannot be read at
// all. A worker whose stats cannot be read is kept alive at zero cost for
// this tick, and a worker whose process is gone is marked not alive.
func (s *Sampler) Sample(ctx context.Context, workers []governor.WorkerProcess) (governor.SystemSnapshot, error) {
	logger := otelzap.Ctx(ctx)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	memPct, err := s.host.MemoryPercent(ctx)
	if err != nil {
		return governor.SystemSnapshot{}, governor.NewSamplingError("host memory", err)
	}
	cpuPct, err := s.host.CPUPercent(ctx)
	if err != nil {
		return governor.SystemSnapshot{}, governor.NewSamplingError("host cpu", err)
	}

	now := s.now()
	snap := governor.SystemSnapshot{
		Timestamp:     now,
		MemoryPercent: memPct,
		CPUPercent:    cpuPct,
		Workers:       make([]governor.WorkerProcess, 0, len(workers)),
	}

	for _, w := range workers {
		w.ObservedAt = now
		w.Unreadable = false

		st, err := s.runtime.Stats(ctx, w.PID)
		switch {
		case err == nil:
			w.Alive = true
			w.RSSBytes = st.RSSBytes
			w.CPUPercent = st.CPUPercent
			if w.StartedAt.IsZero() {
				w.StartedAt = st.StartedAt
			}
		case cerr.Is(err, procruntime.ErrProcessGone):
			w.Alive = false
			w.RSSBytes = 0
			w.CPUPercent = 0
		default:
			logger.Debug("Worker stats unreadable, treating as zero cost",
				zap.Int("pid", w.PID),
				zap.String("label", w.Label),
				zap.Error(err))
			w.Alive = true
			w.Unreadable = true
			w.RSSBytes = 0
			w.CPUPercent = 0
		}

		if w.Alive {
			snap.WorkerCount++
			snap.WorkerMemoryBytes += w.RSSBytes
		}
		snap.Workers = append(snap.Workers, w)
	}

	logger.Debug("Snapshot sampled",
		zap.Float64("memory_percent", snap.MemoryPercent),
		zap.Float64("cpu_percent", snap.CPUPercent),
		zap.Int("workers", snap.WorkerCount),
		zap.Uint64("worker_memory_bytes", snap.WorkerMemoryBytes))

	return snap, nil
}

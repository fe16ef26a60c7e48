// pkg/pool/manager.go
//
// The pool manager owns the worker registry. It is the only component that
// mutates WorkerProcess records, and it only does so inside Reconcile and
// Launch while holding the registry lock. Everything else reads copies.

package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/procruntime"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/remediation"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Remediator is the slice of the remediation engine the pool depends on.
type Remediator interface {
	Remediate(ctx context.Context, classifications []governor.Classification, snapshot governor.SystemSnapshot) []governor.RemediationEvent
	Terminate(ctx context.Context, pids []int) remediation.Report
}

// Config describes how workers are started and retired.
type Config struct {
	Command     string
	Args        []string
	Env         []string
	Dir         string
	Tag         string
	LabelPrefix string

	// AdoptExternal registers tagged processes the pool did not start.
	AdoptExternal bool
	// IdleCPUPercent and IdleTicks define an idle worker. IdleTicks of zero
	// disables idle retirement.
	IdleCPUPercent float64
	IdleTicks      int
}

// ReconcileResult summarises one Reconcile pass.
type ReconcileResult struct {
	Removed  []int                       `json:"removed,omitempty"`
	Adopted  []int                       `json:"adopted,omitempty"`
	Retired  []int                       `json:"retired,omitempty"`
	Launched []int                       `json:"launched,omitempty"`
	Events   []governor.RemediationEvent `json:"events,omitempty"`
	Live     int                         `json:"live"`
	Target   int                         `json:"target"`
}

// Manager keeps the registry converging toward a warm target.
type Manager struct {
	runtime    procruntime.Runtime
	remediator Remediator
	limits     governor.ThresholdConfig
	cfg        Config
	now        func() time.Time

	mu      sync.Mutex
	workers map[int]*governor.WorkerProcess
	seq     int
}

// NewManager returns an empty Manager.
func NewManager(rt procruntime.Runtime, remediator Remediator, limits governor.ThresholdConfig, cfg Config) *Manager {
	if cfg.LabelPrefix == "" {
		cfg.LabelPrefix = "worker"
	}
	return &Manager{
		runtime:    rt,
		remediator: remediator,
		limits:     limits,
		cfg:        cfg,
		now:        time.Now,
		workers:    make(map[int]*governor.WorkerProcess),
	}
}

// Workers returns a copy of the registry, oldest first.
func (m *Manager) Workers() []governor.WorkerProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

// Size returns the number of live registry entries.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked()
}

func (m *Manager) listLocked() []governor.WorkerProcess {
	out := make([]governor.WorkerProcess, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].PID < out[j].PID
	})
	return out
}

func (m *Manager) liveLocked() int {
	n := 0
	for _, w := range m.workers {
		if w.Alive {
			n++
		}
	}
	return n
}

// Launch starts one worker unless a CRITICAL classification is active, in
// which case it returns a PoolSaturatedError and starts nothing.
func (m *Manager) Launch(ctx context.Context, active []governor.Classification) (governor.WorkerProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if governor.HasCritical(active) {
		return governor.WorkerProcess{}, m.saturated(active, m.liveLocked()+1)
	}
	if live := m.liveLocked(); live >= m.limits.MaxWorkerCount {
		return governor.WorkerProcess{}, cerr.Newf("pool is at max worker count %d", m.limits.MaxWorkerCount)
	}
	return m.launchLocked(ctx)
}

func (m *Manager) saturated(active []governor.Classification, target int) error {
	var blocking []governor.Classification
	for _, c := range active {
		if c.Severity == governor.SeverityCritical {
			blocking = append(blocking, c)
		}
	}
	return cerr.WithStack(&governor.PoolSaturatedError{
		Live:     m.liveLocked(),
		Target:   target,
		Blocking: blocking,
	})
}

func (m *Manager) launchLocked(ctx context.Context) (governor.WorkerProcess, error) {
	m.seq++
	label := fmt.Sprintf("%s-%d", m.cfg.LabelPrefix, m.seq)

	res, err := m.runtime.Launch(ctx, procruntime.LaunchSpec{
		Command:          m.cfg.Command,
		Args:             m.cfg.Args,
		Env:              m.cfg.Env,
		Dir:              m.cfg.Dir,
		Label:            label,
		Tag:              m.cfg.Tag,
		MemoryLimitBytes: m.limits.MaxWorkerMemoryBytes(),
		CPULimitSeconds:  m.limits.MaxWorkerCPUSeconds,
	})
	if err != nil {
		return governor.WorkerProcess{}, cerr.Wrapf(err, "failed to launch %s", label)
	}
	if _, dup := m.workers[res.Info.PID]; dup {
		return governor.WorkerProcess{}, cerr.AssertionFailedf("launched pid %d already registered", res.Info.PID)
	}

	w := &governor.WorkerProcess{
		PID:        res.Info.PID,
		Label:      label,
		StartedAt:  res.Info.StartedAt,
		Alive:      true,
		ObservedAt: m.now(),
	}
	m.workers[w.PID] = w
	return *w, nil
}

// Reconcile brings the registry in line with the process table and target.
//
// It folds the tick's snapshot into the registry, removes exited workers,
// adopts tagged strays when enabled, asks the remediation engine to trim an
// overshoot past max worker count, retires idle workers above target, and
// launches up to target. Launching is refused with a PoolSaturatedError
// while any classification in active is CRITICAL; the rest of the pass
// still runs.
func (m *Manager) Reconcile(ctx context.Context, target int, active []governor.Classification, snapshot governor.SystemSnapshot) (ReconcileResult, error) {
	logger := otelzap.Ctx(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if target > m.limits.MaxWorkerCount {
		target = m.limits.MaxWorkerCount
	}
	if target < 0 {
		target = 0
	}
	res := ReconcileResult{Target: target}

	m.observeLocked(snapshot)
	res.Removed = m.pruneLocked(ctx)

	if m.cfg.AdoptExternal && m.cfg.Tag != "" {
		res.Adopted = m.adoptLocked(ctx)
	}

	if live := m.liveLocked(); live > m.limits.MaxWorkerCount {
		c := governor.Classification{
			Metric:   governor.MetricWorkerCount,
			Severity: governor.SeverityWarning,
			Value:    float64(live),
			Limit:    float64(m.limits.MaxWorkerCount),
		}
		res.Events = m.remediator.Remediate(ctx, []governor.Classification{c}, m.snapshotLocked())
		res.Removed = append(res.Removed, m.pruneLocked(ctx)...)
	}

	res.Retired = m.retireIdleLocked(ctx, target)

	var errs *multierror.Error
	if deficit := target - m.liveLocked(); deficit > 0 {
		if governor.HasCritical(active) {
			errs = multierror.Append(errs, m.saturated(active, target))
		} else {
			for i := 0; i < deficit; i++ {
				w, err := m.launchLocked(ctx)
				if err != nil {
					errs = multierror.Append(errs, err)
					continue
				}
				res.Launched = append(res.Launched, w.PID)
			}
		}
	}

	res.Live = m.liveLocked()
	logger.Debug("Pool reconciled",
		zap.Int("live", res.Live),
		zap.Int("target", target),
		zap.Ints("removed", res.Removed),
		zap.Ints("adopted", res.Adopted),
		zap.Ints("retired", res.Retired),
		zap.Ints("launched", res.Launched))

	if errs.ErrorOrNil() == nil {
		return res, nil
	}
	if len(errs.Errors) == 1 {
		return res, errs.Errors[0]
	}
	return res, errs
}

// observeLocked copies per-worker readings from the tick's sample.
func (m *Manager) observeLocked(snapshot governor.SystemSnapshot) {
	for _, obs := range snapshot.Workers {
		w, ok := m.workers[obs.PID]
		if !ok {
			continue
		}
		w.RSSBytes = obs.RSSBytes
		w.CPUPercent = obs.CPUPercent
		w.Alive = obs.Alive
		w.Unreadable = obs.Unreadable
		w.ObservedAt = obs.ObservedAt
		if w.StartedAt.IsZero() {
			w.StartedAt = obs.StartedAt
		}
		if obs.Alive && !obs.Unreadable && obs.CPUPercent < m.cfg.IdleCPUPercent {
			w.IdleTicks++
		} else {
			w.IdleTicks = 0
		}
	}
}

// pruneLocked removes records whose process has exited.
func (m *Manager) pruneLocked(ctx context.Context) []int {
	var removed []int
	for pid, w := range m.workers {
		if w.Alive && m.runtime.Alive(ctx, pid) {
			continue
		}
		delete(m.workers, pid)
		removed = append(removed, pid)
	}
	sort.Ints(removed)
	return removed
}

func (m *Manager) adoptLocked(ctx context.Context) []int {
	logger := otelzap.Ctx(ctx)

	procs, err := m.runtime.ListTagged(ctx, m.cfg.Tag)
	if err != nil {
		logger.Warn("Failed to list tagged processes, skipping adoption", zap.Error(err))
		return nil
	}

	var adopted []int
	for _, p := range procs {
		if _, known := m.workers[p.PID]; known {
			continue
		}
		m.workers[p.PID] = &governor.WorkerProcess{
			PID:        p.PID,
			Label:      "adopted",
			StartedAt:  p.StartedAt,
			Alive:      true,
			Adopted:    true,
			ObservedAt: m.now(),
		}
		adopted = append(adopted, p.PID)
	}
	if len(adopted) > 0 {
		logger.Info("Adopted externally started workers", zap.Ints("pids", adopted))
	}
	return adopted
}

// retireIdleLocked stops idle workers, oldest first, while live exceeds target.
func (m *Manager) retireIdleLocked(ctx context.Context, target int) []int {
	if m.cfg.IdleTicks <= 0 {
		return nil
	}
	excess := m.liveLocked() - target
	if excess <= 0 {
		return nil
	}

	var idle []int
	for _, w := range m.listLocked() {
		if len(idle) == excess {
			break
		}
		if w.Alive && w.IdleTicks >= m.cfg.IdleTicks {
			idle = append(idle, w.PID)
		}
	}
	if len(idle) == 0 {
		return nil
	}

	report := m.remediator.Terminate(ctx, idle)
	if err := report.Err(); err != nil {
		otelzap.Ctx(ctx).Warn("Idle worker retirement incomplete", zap.Error(err))
	}
	retired := report.Stopped()
	for _, t := range report {
		if t.State != remediation.StateFailed {
			delete(m.workers, t.PID)
		}
	}
	if len(retired) > 0 {
		otelzap.Ctx(ctx).Info("Retired idle workers", zap.Ints("pids", retired))
	}
	return retired
}

// snapshotLocked builds a snapshot of the registry for pool-driven remediation.
func (m *Manager) snapshotLocked() governor.SystemSnapshot {
	snap := governor.SystemSnapshot{Timestamp: m.now(), Workers: m.listLocked()}
	for _, w := range snap.Workers {
		if w.Alive {
			snap.WorkerCount++
			snap.WorkerMemoryBytes += w.RSSBytes
		}
	}
	return snap
}

// pkg/remediation/engine.go
//
// Maps classifications to corrective actions. Every classification handed to
// Remediate yields exactly one RemediationEvent, whether or not anything was
// done. Classifications are applied in a fixed priority order against a
// shared view of the pool, so a worker chosen for termination by one
// classification is not counted again by the next.

package remediation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/procruntime"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/threshold"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Config tunes the engine.
type Config struct {
	Thresholds governor.ThresholdConfig
	// Grace is how long a signaled worker has to exit before it is killed.
	Grace time.Duration
	// PollInterval is how often liveness is checked during the grace window.
	PollInterval time.Duration
	// Nice is the priority applied on cpu WARNING.
	Nice int
	// Remember bounds how many terminated pids are kept for idempotence.
	Remember int
}

// DefaultConfig returns engine defaults for thresholds.
func DefaultConfig(thresholds governor.ThresholdConfig) Config {
	return Config{
		Thresholds:   thresholds,
		Grace:        5 * time.Second,
		PollInterval: 100 * time.Millisecond,
		Nice:         10,
		Remember:     512,
	}
}

// Engine applies remediation actions to the worker pool.
type Engine struct {
	cfg        Config
	runtime    procruntime.Runtime
	purger     Purger
	terminator *Terminator
	now        func() time.Time

	mu      sync.Mutex
	stopped *pidMemory
	reniced *pidMemory
}

// NewEngine builds an Engine. purger may be nil when no cache roots are configured.
func NewEngine(rt procruntime.Runtime, purger Purger, cfg Config) *Engine {
	if cfg.Remember <= 0 {
		cfg.Remember = 512
	}
	return &Engine{
		cfg:        cfg,
		runtime:    rt,
		purger:     purger,
		terminator: NewTerminator(rt, cfg.Grace, cfg.PollInterval),
		now:        time.Now,
		stopped:    newPIDMemory(cfg.Remember),
		reniced:    newPIDMemory(cfg.Remember),
	}
}

// priority orders classifications for one tick. Lower runs first.
func priority(c governor.Classification) int {
	switch {
	case c.Metric == governor.MetricMemory && c.Severity == governor.SeverityCritical:
		return 0
	case c.Metric == governor.MetricCPU && c.Severity == governor.SeverityCritical:
		return 1
	case c.Metric == governor.MetricWorkerCount:
		return 2
	case c.Metric == governor.MetricWorkerMemory:
		return 3
	case c.Metric == governor.MetricMemory:
		return 4
	case c.Metric == governor.MetricCPU:
		return 5
	case c.Metric == governor.MetricWorkerAge:
		return 6
	default:
		return 7
	}
}

// Remediate applies one action per classification and returns the events in
// the order the actions ran. snapshot is the sample the classifications came
// from.
func (e *Engine) Remediate(ctx context.Context, classifications []governor.Classification, snapshot governor.SystemSnapshot) []governor.RemediationEvent {
	if len(classifications) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ordered := append([]governor.Classification(nil), classifications...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priority(ordered[i]) < priority(ordered[j])
	})

	view := e.newView(ctx, snapshot)
	events := make([]governor.RemediationEvent, 0, len(ordered))
	for _, c := range ordered {
		ev := e.apply(ctx, c, snapshot, view)
		e.log(ctx, ev)
		events = append(events, ev)
	}
	return events
}

// Terminate stops pids outside any classification, for pool retirement.
// Pids stopped here are remembered like any other termination.
func (e *Engine) Terminate(ctx context.Context, pids []int) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := e.terminator.Stop(ctx, pids)
	e.remember(report)
	return report
}

func (e *Engine) apply(ctx context.Context, c governor.Classification, snapshot governor.SystemSnapshot, view *poolView) governor.RemediationEvent {
	ev := governor.RemediationEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		Severity:  c.Severity,
		Metric:    c.Metric,
		Value:     c.Value,
		Limit:     c.Limit,
	}
	th := e.cfg.Thresholds
	var failure error

	switch {
	case c.Metric == governor.MetricMemory && c.Severity == governor.SeverityCritical:
		ev.Action = governor.ActionPurgeAndTerminate
		ev.PurgedFiles, failure = e.purge(ctx)
		victims := view.oldest(view.live() - th.WorkerFloor)
		if err := e.stop(ctx, &ev, view, victims); err != nil {
			failure = err
		}
		ev.Detail = floorDetail(len(victims), view.live(), th.WorkerFloor)

	case c.Metric == governor.MetricCPU && c.Severity == governor.SeverityCritical:
		ev.Action = governor.ActionTerminateOldest
		victims := view.oldest(view.live() - th.WorkerFloor)
		failure = e.stop(ctx, &ev, view, victims)
		ev.Detail = floorDetail(len(victims), view.live(), th.WorkerFloor)

	case c.Metric == governor.MetricWorkerCount:
		ev.Action = governor.ActionTerminateOldest
		victims := view.oldest(view.live() - th.MaxWorkerCount)
		failure = e.stop(ctx, &ev, view, victims)
		if len(victims) == 0 {
			ev.Detail = fmt.Sprintf("pool already at or below %d workers", th.MaxWorkerCount)
		} else {
			ev.Detail = fmt.Sprintf("terminated %d oldest workers to reach %d", len(victims), th.MaxWorkerCount)
		}

	case c.Metric == governor.MetricWorkerMemory:
		ev.Action = governor.ActionTerminateHeaviest
		ev.PurgedFiles, failure = e.purge(ctx)
		heavy, ok := view.heaviest()
		if ok && heavy.RSSBytes > th.MaxWorkerMemoryBytes() {
			if err := e.stop(ctx, &ev, view, []governor.WorkerProcess{heavy}); err != nil {
				failure = err
			}
			ev.Detail = fmt.Sprintf("worker %d at %d bytes exceeded per-worker cap", heavy.PID, heavy.RSSBytes)
		} else {
			ev.Detail = "no single worker above per-worker cap"
		}

	case c.Metric == governor.MetricMemory:
		ev.Action = governor.ActionPurgeCache
		ev.PurgedFiles, failure = e.purge(ctx)
		if ev.PurgedFiles == 0 {
			ev.Detail = "no cache artifacts eligible for purge"
		}

	case c.Metric == governor.MetricCPU:
		ev.Action = governor.ActionRenice
		failures := 0
		for _, w := range view.remaining() {
			if e.reniced.has(w) {
				continue
			}
			if err := e.runtime.Renice(ctx, w.PID, e.cfg.Nice); err != nil {
				if !cerr.Is(err, procruntime.ErrProcessGone) {
					failures++
					failure = err
				}
				continue
			}
			e.reniced.add(w.PID, e.now())
			ev.Reniced++
		}
		if failures > 0 {
			failure = cerr.Wrapf(failure, "%d renice failures", failures)
		} else if ev.Reniced == 0 {
			ev.Detail = "all workers already deprioritised"
		}

	case c.Metric == governor.MetricWorkerAge:
		ev.Action = governor.ActionTerminateOverAge
		var victims []governor.WorkerProcess
		for _, w := range threshold.OverAge(snapshot, th) {
			if view.eligible(w.PID) {
				victims = append(victims, w)
			}
		}
		failure = e.stop(ctx, &ev, view, victims)
		if len(victims) == 0 {
			ev.Detail = "over-age workers already handled this tick"
		} else {
			ev.Detail = fmt.Sprintf("terminated %d workers older than %s", len(victims), th.MaxWorkerAge)
		}

	default:
		ev.Detail = "no action defined for classification"
	}

	changed := len(ev.Terminated) > 0 || ev.Reniced > 0 || ev.PurgedFiles > 0
	switch {
	case changed:
		ev.Outcome = governor.OutcomeTaken
	case failure != nil:
		ev.Outcome = governor.OutcomeFailed
	default:
		ev.Outcome = governor.OutcomeSkipped
	}
	if failure != nil {
		ev.Detail = failure.Error()
	}
	return ev
}

func (e *Engine) stop(ctx context.Context, ev *governor.RemediationEvent, view *poolView, victims []governor.WorkerProcess) error {
	if len(victims) == 0 {
		return nil
	}
	pids := make([]int, 0, len(victims))
	for _, w := range victims {
		pids = append(pids, w.PID)
	}
	view.take(pids)

	report := e.terminator.Stop(ctx, pids)
	e.remember(report)
	ev.Terminated = append(ev.Terminated, report.Stopped()...)
	ev.Escalated = append(ev.Escalated, report.Escalated()...)
	return report.Err()
}

func (e *Engine) remember(report Report) {
	now := e.now()
	for _, t := range report {
		switch t.State {
		case StateConfirmed, StateEscalated, StateGone:
			e.stopped.add(t.PID, now)
		}
	}
}

func (e *Engine) purge(ctx context.Context) (int, error) {
	if e.purger == nil {
		return 0, nil
	}
	res, err := e.purger.Purge(ctx)
	if err != nil {
		otelzap.Ctx(ctx).Warn("Cache purge incomplete", zap.Error(err))
	}
	return res.Entries, err
}

func (e *Engine) log(ctx context.Context, ev governor.RemediationEvent) {
	logger := otelzap.Ctx(ctx)
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("metric", string(ev.Metric)),
		zap.String("severity", string(ev.Severity)),
		zap.Float64("value", ev.Value),
		zap.Float64("limit", ev.Limit),
		zap.String("action", string(ev.Action)),
		zap.String("outcome", string(ev.Outcome)),
		zap.Ints("terminated", ev.Terminated),
		zap.Ints("escalated", ev.Escalated),
		zap.Int("reniced", ev.Reniced),
		zap.Int("purged", ev.PurgedFiles),
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}
	switch {
	case ev.Outcome == governor.OutcomeFailed:
		logger.Error("Remediation failed", fields...)
	case ev.Severity == governor.SeverityCritical:
		logger.Warn("Remediation applied", fields...)
	case ev.Outcome == governor.OutcomeSkipped:
		logger.Debug("Remediation skipped", fields...)
	default:
		logger.Info("Remediation applied", fields...)
	}
}

func floorDetail(victims, live, floor int) string {
	if victims == 0 {
		return fmt.Sprintf("pool at or below safety floor of %d", floor)
	}
	return fmt.Sprintf("terminated %d oldest workers, %d remain (floor %d)", victims, live, floor)
}

// poolView is the per-tick set of workers still eligible for action.
type poolView struct {
	workers []governor.WorkerProcess
	taken   map[int]bool
}

func (e *Engine) newView(ctx context.Context, snapshot governor.SystemSnapshot) *poolView {
	v := &poolView{taken: make(map[int]bool)}
	for _, w := range snapshot.Workers {
		if !w.Alive || e.stopped.has(w) {
			continue
		}
		if !e.runtime.Alive(ctx, w.PID) {
			continue
		}
		v.workers = append(v.workers, w)
	}
	sort.SliceStable(v.workers, func(i, j int) bool {
		a, b := v.workers[i], v.workers[j]
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.PID < b.PID
	})
	return v
}

func (v *poolView) live() int { return len(v.workers) - len(v.taken) }

func (v *poolView) eligible(pid int) bool {
	if v.taken[pid] {
		return false
	}
	for _, w := range v.workers {
		if w.PID == pid {
			return true
		}
	}
	return false
}

func (v *poolView) remaining() []governor.WorkerProcess {
	out := make([]governor.WorkerProcess, 0, v.live())
	for _, w := range v.workers {
		if !v.taken[w.PID] {
			out = append(out, w)
		}
	}
	return out
}

// oldest returns up to n remaining workers, oldest first.
func (v *poolView) oldest(n int) []governor.WorkerProcess {
	if n <= 0 {
		return nil
	}
	rem := v.remaining()
	if n > len(rem) {
		n = len(rem)
	}
	return rem[:n]
}

func (v *poolView) heaviest() (governor.WorkerProcess, bool) {
	var best governor.WorkerProcess
	found := false
	for _, w := range v.remaining() {
		if !found || w.RSSBytes > best.RSSBytes {
			best = w
			found = true
		}
	}
	return best, found
}

func (v *poolView) take(pids []int) {
	for _, pid := range pids {
		v.taken[pid] = true
	}
}

// pkg/scheduler/loop.go
//
// The governor's periodic driver. Each tick walks
// IDLE -> SAMPLING -> EVALUATING -> REMEDIATING -> RECONCILING -> IDLE.
// Ticks never overlap, a failed tick never stops the loop, and a stop
// request lets the running tick finish before Run returns.

package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/audit"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/pool"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/telemetry"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/threshold"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the loop's position in the tick state machine.
type State string

const (
	StateIdle        State = "IDLE"
	StateSampling    State = "SAMPLING"
	StateEvaluating  State = "EVALUATING"
	StateRemediating State = "REMEDIATING"
	StateReconciling State = "RECONCILING"
)

// Sampler produces the tick's snapshot.
type Sampler interface {
	Sample(ctx context.Context, workers []governor.WorkerProcess) (governor.SystemSnapshot, error)
}

// Pool is the registry owner.
type Pool interface {
	Workers() []governor.WorkerProcess
	Reconcile(ctx context.Context, target int, active []governor.Classification, snapshot governor.SystemSnapshot) (pool.ReconcileResult, error)
}

// Remediator applies classifications.
type Remediator interface {
	Remediate(ctx context.Context, classifications []governor.Classification, snapshot governor.SystemSnapshot) []governor.RemediationEvent
}

// Config is the loop's static configuration.
type Config struct {
	Interval   time.Duration
	TargetWarm int
	Thresholds governor.ThresholdConfig
}

// Deps are the components one tick drives. Sink, Rotator and Metrics are optional.
type Deps struct {
	Sampler Sampler
	Pool    Pool
	Engine  Remediator
	Sink    audit.Sink
	Rotator audit.Rotator
	Metrics *metrics.Collector
}

// TickReport describes one completed or abandoned tick.
type TickReport struct {
	Number          uint64                      `json:"number"`
	StartedAt       time.Time                   `json:"started_at"`
	Duration        time.Duration               `json:"duration"`
	Skipped         bool                        `json:"skipped"`
	Snapshot        *governor.SystemSnapshot    `json:"snapshot,omitempty"`
	Classifications []governor.Classification   `json:"classifications"`
	Events          []governor.RemediationEvent `json:"events"`
	Reconcile       pool.ReconcileResult        `json:"reconcile"`
	ReconcileError  string                      `json:"reconcile_error,omitempty"`
	Saturated       bool                        `json:"saturated"`
}

// Status is the loop's externally visible state.
type Status struct {
	State               State                     `json:"state"`
	Running             bool                      `json:"running"`
	Interval            time.Duration             `json:"interval"`
	TargetWarm          int                       `json:"target_warm"`
	PoolSize            int                       `json:"pool_size"`
	Workers             []governor.WorkerProcess  `json:"workers"`
	LastSnapshot        *governor.SystemSnapshot  `json:"last_snapshot,omitempty"`
	LastClassifications []governor.Classification `json:"last_classifications"`
	LastTick            time.Time                 `json:"last_tick,omitempty"`
	LastDuration        time.Duration             `json:"last_duration"`
	LastError           string                    `json:"last_error,omitempty"`
	Ticks               uint64                    `json:"ticks"`
	Skipped             uint64                    `json:"skipped"`
	Failed              uint64                    `json:"failed"`
}

// Loop runs governor ticks on a fixed interval.
type Loop struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	tickMu  sync.Mutex
	running atomic.Bool
	stopCh  chan struct{}
	stop    sync.Once

	mu     sync.RWMutex
	state  State
	seq    uint64
	status Status
}

// New returns an idle Loop.
func New(cfg Config, deps Deps) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Loop{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		stopCh: make(chan struct{}),
		state:  StateIdle,
	}
}

// Run ticks immediately and then every Interval until ctx is done or Stop
// is called. Ticks run on a context that ignores cancellation, so shutdown
// waits for the running tick instead of cutting it short.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return cerr.New("governor loop is already running")
	}
	defer l.running.Store(false)

	logger := otelzap.Ctx(ctx)
	logger.Info("Governor loop started",
		zap.Duration("interval", l.cfg.Interval),
		zap.Int("target_warm", l.cfg.TargetWarm))

	tickCtx := context.WithoutCancel(ctx)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.scheduled(tickCtx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Governor loop stopped", zap.String("reason", "context done"))
			return nil
		case <-l.stopCh:
			logger.Info("Governor loop stopped", zap.String("reason", "stop requested"))
			return nil
		case <-ticker.C:
			select {
			case <-l.stopCh:
				continue
			default:
			}
			l.scheduled(tickCtx)
		}
	}
}

// Stop asks Run to return after the current tick.
func (l *Loop) Stop() {
	l.stop.Do(func() { close(l.stopCh) })
}

func (l *Loop) scheduled(ctx context.Context) {
	logger := otelzap.Ctx(ctx)
	_, err := l.Tick(ctx)
	switch {
	case err == nil:
	case cerr.Is(err, governor.ErrTickInProgress):
		logger.Debug("Scheduled tick skipped, previous tick still running")
	case governor.IsSamplingError(err):
		logger.Warn("Tick abandoned, metrics unavailable", zap.Error(err))
	default:
		logger.Error("Tick failed", zap.Error(err))
	}
}

// Tick runs one tick now. It returns ErrTickInProgress instead of waiting
// when another tick holds the loop.
func (l *Loop) Tick(ctx context.Context) (TickReport, error) {
	if !l.tickMu.TryLock() {
		return TickReport{}, governor.ErrTickInProgress
	}
	defer l.tickMu.Unlock()
	return l.runTick(ctx)
}

func (l *Loop) runTick(parent context.Context) (report TickReport, err error) {
	start := l.now()
	l.mu.Lock()
	l.seq++
	report.Number = l.seq
	l.mu.Unlock()
	report.StartedAt = start

	ctx, span := telemetry.Start(parent, "governor.tick", attribute.Int64("tick", int64(report.Number)))
	defer span.End()
	logger := otelzap.Ctx(ctx)

	defer func() {
		if r := recover(); r != nil {
			err = cerr.AssertionFailedf("panic during tick: %v", r)
			logger.Error("Panic recovered during tick", zap.Any("panic", r))
		}
		report.Duration = l.now().Sub(start)
		l.finish(ctx, report, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	// SAMPLING
	phase := l.phase(ctx, StateSampling)
	snap, err := l.deps.Sampler.Sample(ctx, l.deps.Pool.Workers())
	phase.End()
	if err != nil {
		report.Skipped = true
		return report, err
	}
	report.Snapshot = &snap
	span.SetAttributes(
		attribute.Float64("memory_percent", snap.MemoryPercent),
		attribute.Float64("cpu_percent", snap.CPUPercent),
		attribute.Int("workers", snap.WorkerCount))

	// EVALUATING
	phase = l.phase(ctx, StateEvaluating)
	report.Classifications = threshold.Evaluate(snap, l.cfg.Thresholds)
	remediate := report.Classifications
	if age, ok := threshold.AgeBreaches(snap, l.cfg.Thresholds); ok {
		remediate = append(append([]governor.Classification(nil), remediate...), age)
	}
	if n, ok := audit.NewNotification(snap, report.Classifications); ok {
		l.notify(ctx, n)
	}
	phase.End()

	// REMEDIATING
	phase = l.phase(ctx, StateRemediating)
	report.Events = l.deps.Engine.Remediate(ctx, remediate, snap)
	l.record(ctx, report.Events)
	phase.End()

	// RECONCILING
	phase = l.phase(ctx, StateReconciling)
	defer phase.End()
	res, recErr := l.deps.Pool.Reconcile(ctx, l.cfg.TargetWarm, report.Classifications, snap)
	report.Reconcile = res
	l.record(ctx, res.Events)
	report.Events = append(report.Events, res.Events...)
	if recErr != nil {
		report.ReconcileError = recErr.Error()
		if governor.IsPoolSaturated(recErr) {
			report.Saturated = true
			logger.Info("Warm pool refill deferred under critical load", zap.String("reason", recErr.Error()))
		} else {
			logger.Warn("Pool reconciliation incomplete", zap.Error(recErr))
		}
	}

	if l.deps.Rotator != nil {
		if rerr := l.deps.Rotator.Rotate(ctx); rerr != nil {
			logger.Warn("Audit rotation failed", zap.Error(rerr))
		}
	}

	span.SetAttributes(
		attribute.Int("classifications", len(report.Classifications)),
		attribute.Int("events", len(report.Events)))
	return report, nil
}

func (l *Loop) notify(ctx context.Context, n audit.Notification) {
	if l.deps.Sink == nil {
		return
	}
	if err := l.deps.Sink.Notify(ctx, n); err != nil {
		otelzap.Ctx(ctx).Warn("Failed to deliver notification", zap.Error(err))
	}
}

func (l *Loop) record(ctx context.Context, events []governor.RemediationEvent) {
	if l.deps.Sink == nil {
		return
	}
	for _, ev := range events {
		if err := l.deps.Sink.Record(ctx, ev); err != nil {
			otelzap.Ctx(ctx).Warn("Failed to record remediation event",
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	}
}

// finish returns the loop to IDLE and publishes the tick to status, metrics
// and the summary log.
func (l *Loop) finish(ctx context.Context, report TickReport, err error) {
	result := metrics.TickOK
	switch {
	case report.Skipped:
		result = metrics.TickSkipped
	case err != nil:
		result = metrics.TickFailed
	}

	l.mu.Lock()
	l.state = StateIdle
	l.status.Ticks++
	l.status.LastTick = report.StartedAt
	l.status.LastDuration = report.Duration
	l.status.LastError = ""
	switch result {
	case metrics.TickSkipped:
		l.status.Skipped++
	case metrics.TickFailed:
		l.status.Failed++
	}
	if err != nil {
		l.status.LastError = err.Error()
	}
	if report.Snapshot != nil {
		l.status.LastSnapshot = report.Snapshot
		l.status.LastClassifications = report.Classifications
	}
	l.mu.Unlock()

	if m := l.deps.Metrics; m != nil {
		m.ObserveTick(result, report.Duration)
		if report.Snapshot != nil {
			m.ObserveSnapshot(*report.Snapshot)
			m.ObserveClassifications(report.Classifications)
			m.ObserveEvents(report.Events)
			m.ObserveLaunches(len(report.Reconcile.Launched), report.Saturated)
		}
	}

	fields := []zap.Field{
		zap.Uint64("tick", report.Number),
		zap.String("result", result),
		zap.Duration("duration", report.Duration),
		zap.Int("classifications", len(report.Classifications)),
		zap.Int("events", len(report.Events)),
	}
	if s := report.Snapshot; s != nil {
		fields = append(fields,
			zap.Float64("memory_percent", s.MemoryPercent),
			zap.Float64("cpu_percent", s.CPUPercent),
			zap.Int("workers", s.WorkerCount),
			zap.Int("live_after", report.Reconcile.Live),
			zap.Int("launched", len(report.Reconcile.Launched)))
	}
	otelzap.Ctx(ctx).Info("Tick complete", fields...)
}

// phase moves the state machine and opens a child span for the phase.
func (l *Loop) phase(ctx context.Context, s State) trace.Span {
	l.setState(s)
	_, span := telemetry.Start(ctx, "governor."+strings.ToLower(string(s)))
	return span
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Status returns a copy of the loop status including the pool registry.
func (l *Loop) Status() Status {
	workers := l.deps.Pool.Workers()

	l.mu.RLock()
	defer l.mu.RUnlock()

	st := l.status
	st.State = l.state
	st.Running = l.running.Load()
	st.Interval = l.cfg.Interval
	st.TargetWarm = l.cfg.TargetWarm
	st.Workers = workers
	for _, w := range workers {
		if w.Alive {
			st.PoolSize++
		}
	}
	st.LastClassifications = append([]governor.Classification(nil), l.status.LastClassifications...)
	return st
}

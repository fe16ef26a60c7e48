// pkg/scheduler/loop_test.go
package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/audit"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/pool"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/procruntime"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/remediation"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/sampler"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type host struct {
	mu  sync.Mutex
	mem float64
	cpu float64
	err error
}

func (h *host) set(mem, cpu float64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mem, h.cpu, h.err = mem, cpu, err
}

func (h *host) MemoryPercent(ctx context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mem, h.err
}

func (h *host) CPUPercent(ctx context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cpu, nil
}

type harness struct {
	loop     *Loop
	host     *host
	rt       *procruntime.Fake
	pool     *pool.Manager
	recorder *audit.Recorder
	metrics  *metrics.Collector
}

func newHarness(t *testing.T, target int) *harness {
	t.Helper()
	undo := otelzap.ReplaceGlobals(otelzap.New(zaptest.NewLogger(t)))
	t.Cleanup(undo)

	th := governor.DefaultThresholdConfig()
	th.MaxWorkerCount = 8
	th.WorkerFloor = 2

	h := &host{mem: 40, cpu: 30}
	rt := procruntime.NewFake(nil)

	engCfg := remediation.DefaultConfig(th)
	engCfg.Grace = 20 * time.Millisecond
	engCfg.PollInterval = 2 * time.Millisecond
	engine := remediation.NewEngine(rt, nil, engCfg)

	mgr := pool.NewManager(rt, engine, th, pool.Config{Command: "/usr/bin/chromium", Tag: "--warden-worker"})
	rec := audit.NewRecorder(50)
	col := metrics.New()

	loop := New(Config{Interval: 10 * time.Millisecond, TargetWarm: target, Thresholds: th}, Deps{
		Sampler: sampler.New(h, rt),
		Pool:    mgr,
		Engine:  engine,
		Sink:    rec,
		Metrics: col,
	})
	return &harness{loop: loop, host: h, rt: rt, pool: mgr, recorder: rec, metrics: col}
}

func TestTickWarmsPool(t *testing.T) {
	h := newHarness(t, 3)

	report, err := h.loop.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), report.Number)
	assert.Empty(t, report.Classifications)
	assert.Len(t, report.Reconcile.Launched, 3)
	assert.Equal(t, 3, h.rt.LiveCount())

	st := h.loop.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, uint64(1), st.Ticks)
	assert.Equal(t, 3, st.PoolSize)
	assert.Empty(t, st.LastError)
	require.NotNil(t, st.LastSnapshot)
	assert.Equal(t, 40.0, st.LastSnapshot.MemoryPercent)

	assert.Contains(t, h.scrape(t), `warden_ticks_total{result="ok"} 1`)
	assert.Contains(t, h.scrape(t), "warden_worker_launches_total 3")
}

func TestTickUnderCriticalMemory(t *testing.T) {
	h := newHarness(t, 6)
	ctx := context.Background()

	_, err := h.loop.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, h.rt.LiveCount())

	h.host.set(95, 30, nil)
	report, err := h.loop.Tick(ctx)
	require.NoError(t, err, "saturation does not fail the tick")

	require.Len(t, report.Classifications, 1)
	assert.Equal(t, governor.MetricMemory, report.Classifications[0].Metric)
	assert.Equal(t, governor.SeverityCritical, report.Classifications[0].Severity)

	require.NotEmpty(t, report.Events)
	assert.Equal(t, governor.ActionPurgeAndTerminate, report.Events[0].Action)
	assert.Len(t, report.Events[0].Terminated, 4)

	assert.True(t, report.Saturated)
	assert.Empty(t, report.Reconcile.Launched)
	assert.Equal(t, 2, h.rt.LiveCount(), "floor is kept and nothing is relaunched")

	recent := h.recorder.Recent(10)
	require.NotEmpty(t, recent)
	assert.Equal(t, governor.ActionPurgeAndTerminate, recent[0].Action)

	n, ok := h.recorder.LastNotification()
	require.True(t, ok)
	assert.Equal(t, governor.SeverityCritical, n.Severity)

	// Load clears: the pool refills.
	h.host.set(40, 30, nil)
	report, err = h.loop.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Reconcile.Launched, 4)
	assert.Equal(t, 6, h.rt.LiveCount())
}

func TestSaturatedRefillLogsReasonWithoutStack(t *testing.T) {
	h := newHarness(t, 4)
	core, logs := observer.New(zap.InfoLevel)
	undo := otelzap.ReplaceGlobals(otelzap.New(zap.New(core)))
	t.Cleanup(undo)

	ctx := context.Background()
	_, err := h.loop.Tick(ctx)
	require.NoError(t, err)

	h.host.set(95, 30, nil)
	report, err := h.loop.Tick(ctx)
	require.NoError(t, err)
	require.True(t, report.Saturated)

	entries := logs.FilterMessage("Warm pool refill deferred under critical load").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields, "reason")
	assert.NotContains(t, fields, "error")
	assert.NotContains(t, fields, "errorVerbose")
}

func TestTickSkippedWhenMetricsUnavailable(t *testing.T) {
	h := newHarness(t, 2)
	h.host.set(0, 0, cerr.New("meminfo unreadable"))

	report, err := h.loop.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, governor.IsSamplingError(err))
	assert.True(t, report.Skipped)
	assert.Zero(t, h.rt.LiveCount(), "no remediation or launches on a skipped tick")

	st := h.loop.Status()
	assert.Equal(t, uint64(1), st.Skipped)
	assert.Equal(t, StateIdle, st.State)
	assert.Contains(t, st.LastError, "host memory")
	assert.Contains(t, h.scrape(t), `warden_ticks_total{result="skipped"} 1`)
}

func TestTickRejectsOverlap(t *testing.T) {
	h := newHarness(t, 1)

	h.loop.tickMu.Lock()
	_, err := h.loop.Tick(context.Background())
	h.loop.tickMu.Unlock()

	assert.ErrorIs(t, err, governor.ErrTickInProgress)
	assert.Zero(t, h.loop.Status().Ticks)
}

type panicSampler struct{}

func (panicSampler) Sample(ctx context.Context, workers []governor.WorkerProcess) (governor.SystemSnapshot, error) {
	panic("boom")
}

func TestTickRecoversPanic(t *testing.T) {
	h := newHarness(t, 1)
	h.loop.deps.Sampler = panicSampler{}

	_, err := h.loop.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, cerr.HasAssertionFailure(err))

	st := h.loop.Status()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, StateIdle, st.State)

	// The loop keeps working afterwards.
	h.loop.deps.Sampler = sampler.New(h.host, h.rt)
	_, err = h.loop.Tick(context.Background())
	require.NoError(t, err)
}

func TestRunTicksUntilStopped(t *testing.T) {
	h := newHarness(t, 1)
	h.host.set(0, 0, cerr.New("transient"))

	done := make(chan error, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	require.Eventually(t, func() bool { return h.loop.Status().Skipped >= 2 }, 2*time.Second, 5*time.Millisecond,
		"failed ticks do not stop the loop")

	h.host.set(40, 30, nil)
	require.Eventually(t, func() bool { return h.rt.LiveCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.loop.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, h.loop.Status().Running)
}

type blockingSampler struct {
	started chan struct{}
	release chan struct{}
	next    Sampler
}

func (b *blockingSampler) Sample(ctx context.Context, workers []governor.WorkerProcess) (governor.SystemSnapshot, error) {
	close(b.started)
	<-b.release
	if ctx.Err() != nil {
		return governor.SystemSnapshot{}, ctx.Err()
	}
	return b.next.Sample(ctx, workers)
}

func TestCancelLetsRunningTickFinish(t *testing.T) {
	h := newHarness(t, 2)
	bs := &blockingSampler{started: make(chan struct{}), release: make(chan struct{}), next: sampler.New(h.host, h.rt)}
	h.loop.deps.Sampler = bs

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	<-bs.started
	assert.Equal(t, StateSampling, h.loop.State())
	cancel()
	close(bs.release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	st := h.loop.Status()
	assert.Equal(t, uint64(1), st.Ticks)
	assert.Empty(t, st.LastError, "tick completed on an uncancelled context")
	assert.Equal(t, 2, h.rt.LiveCount())
}

// scrape returns the exposition text of the harness registry.
func (h *harness) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

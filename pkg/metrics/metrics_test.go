// pkg/metrics/metrics_test.go
package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New()

	c.ObserveSnapshot(governor.SystemSnapshot{MemoryPercent: 91.5, CPUPercent: 40, WorkerCount: 4, WorkerMemoryBytes: 2048})
	assert.Equal(t, 91.5, testutil.ToFloat64(c.memoryPercent))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.workers))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.workerMemoryBytes))

	c.ObserveClassifications([]governor.Classification{
		{Metric: governor.MetricMemory, Severity: governor.SeverityCritical},
		{Metric: governor.MetricMemory, Severity: governor.SeverityCritical},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.classifications.WithLabelValues("memory", "CRITICAL")))

	c.ObserveEvents([]governor.RemediationEvent{{
		Metric:     governor.MetricMemory,
		Action:     governor.ActionPurgeAndTerminate,
		Outcome:    governor.OutcomeTaken,
		Terminated: []int{1, 2, 3},
		Escalated:  []int{3},
	}})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.terminations.WithLabelValues("graceful")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.terminations.WithLabelValues("forceful")))

	c.ObserveLaunches(3, false)
	c.ObserveLaunches(0, true)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.launches))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.saturated))

	c.ObserveTick(TickOK, 120*time.Millisecond)
	c.ObserveTick(TickSkipped, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticks.WithLabelValues(TickOK)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.tickDuration))
}

func TestHandlerExposesSeries(t *testing.T) {
	c := New()
	c.ObserveTick(TickOK, time.Second)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "warden_ticks_total")
	assert.Contains(t, body, "warden_tick_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}

/* pkg/dashboard/render_test.go */

package dashboard

import (
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/pool"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/statusapi"
	"github.com/stretchr/testify/assert"
)

func TestIndicatorFor(t *testing.T) {
	assert.Equal(t, StatusHealthy, IndicatorFor(""))
	assert.Equal(t, StatusWarning, IndicatorFor(governor.SeverityWarning))
	assert.Equal(t, StatusCritical, IndicatorFor(governor.SeverityCritical))
	assert.Equal(t, StatusUnknown, IndicatorFor("BOGUS"))
	assert.Equal(t, ColorError, StatusCritical.Color())
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	resp := statusapi.StatusResponse{
		Status: scheduler.Status{
			State:      scheduler.StateIdle,
			Running:    true,
			Interval:   2 * time.Minute,
			TargetWarm: 2,
			PoolSize:   1,
			Workers: []governor.WorkerProcess{
				{PID: 4242, Label: "warden-1", StartedAt: now.Add(-10 * time.Minute), RSSBytes: 300 << 20, Alive: true},
			},
			LastSnapshot: &governor.SystemSnapshot{Timestamp: now, MemoryPercent: 91.2, CPUPercent: 12, WorkerCount: 1},
			LastClassifications: []governor.Classification{
				{Metric: governor.MetricMemory, Severity: governor.SeverityCritical, Value: 91.2, Limit: 90},
			},
			LastTick: now.Add(-30 * time.Second),
			Ticks:    7,
			Skipped:  1,
		},
		Version: "1.2.3",
		RecentEvents: []governor.RemediationEvent{{
			Timestamp:  now,
			Severity:   governor.SeverityCritical,
			Metric:     governor.MetricMemory,
			Value:      91.2,
			Limit:      90,
			Action:     governor.ActionPurgeAndTerminate,
			Outcome:    governor.OutcomeTaken,
			Terminated: []int{4141},
		}},
	}

	out := RenderStatus(NewStyles(), resp, now)
	assert.Contains(t, out, "warden 1.2.3")
	assert.Contains(t, out, "91.2%")
	assert.Contains(t, out, "CRIT")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "300 MB")
	assert.Contains(t, out, "7 (skipped 1, failed 0)")
	assert.Contains(t, out, string(governor.ActionPurgeAndTerminate))
	assert.Contains(t, out, "terminated 1")
}

func TestRenderTick(t *testing.T) {
	t.Run("skipped", func(t *testing.T) {
		out := RenderTick(NewStyles(), scheduler.TickReport{Number: 3, Skipped: true})
		assert.Contains(t, out, "Tick 3")
		assert.Contains(t, out, "Skipped")
	})

	t.Run("saturated", func(t *testing.T) {
		out := RenderTick(NewStyles(), scheduler.TickReport{
			Number:    4,
			Snapshot:  &governor.SystemSnapshot{MemoryPercent: 50},
			Reconcile: pool.ReconcileResult{Live: 2, Target: 4},
			Saturated: true,
		})
		assert.Contains(t, out, "live 2, target 4")
		assert.Contains(t, out, "Pool saturated")
		assert.NotContains(t, out, "Remediation")
	})
}

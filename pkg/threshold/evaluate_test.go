// pkg/threshold/evaluate_test.go
package threshold

import (
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() governor.ThresholdConfig {
	cfg := governor.DefaultThresholdConfig()
	cfg.MemoryWarning = 75
	cfg.MemoryCritical = 90
	cfg.CPUWarning = 80
	cfg.CPUCritical = 95
	cfg.MaxWorkerCount = 5
	cfg.WorkerMemoryCeilMB = 1024
	cfg.MaxWorkerAge = 30 * time.Minute
	return cfg
}

func TestEvaluate(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name     string
		snapshot governor.SystemSnapshot
		want     []governor.Classification
	}{
		{
			name:     "quiet host",
			snapshot: governor.SystemSnapshot{MemoryPercent: 40, CPUPercent: 30, WorkerCount: 2},
			want:     nil,
		},
		{
			name:     "exactly at warning is not a breach",
			snapshot: governor.SystemSnapshot{MemoryPercent: 75, CPUPercent: 80, WorkerCount: 5},
			want:     nil,
		},
		{
			name:     "exactly at critical stays warning",
			snapshot: governor.SystemSnapshot{MemoryPercent: 90, CPUPercent: 95},
			want: []governor.Classification{
				{Metric: governor.MetricMemory, Severity: governor.SeverityWarning, Value: 90, Limit: 75},
				{Metric: governor.MetricCPU, Severity: governor.SeverityWarning, Value: 95, Limit: 80},
			},
		},
		{
			name:     "memory warning",
			snapshot: governor.SystemSnapshot{MemoryPercent: 80},
			want: []governor.Classification{
				{Metric: governor.MetricMemory, Severity: governor.SeverityWarning, Value: 80, Limit: 75},
			},
		},
		{
			name:     "memory critical supersedes warning",
			snapshot: governor.SystemSnapshot{MemoryPercent: 95},
			want: []governor.Classification{
				{Metric: governor.MetricMemory, Severity: governor.SeverityCritical, Value: 95, Limit: 90},
			},
		},
		{
			name:     "cpu critical",
			snapshot: governor.SystemSnapshot{CPUPercent: 99},
			want: []governor.Classification{
				{Metric: governor.MetricCPU, Severity: governor.SeverityCritical, Value: 99, Limit: 95},
			},
		},
		{
			name:     "worker count over max",
			snapshot: governor.SystemSnapshot{MemoryPercent: 50, CPUPercent: 50, WorkerCount: 8},
			want: []governor.Classification{
				{Metric: governor.MetricWorkerCount, Severity: governor.SeverityWarning, Value: 8, Limit: 5},
			},
		},
		{
			name:     "aggregate worker memory over ceiling",
			snapshot: governor.SystemSnapshot{WorkerMemoryBytes: 2048 * 1024 * 1024},
			want: []governor.Classification{
				{Metric: governor.MetricWorkerMemory, Severity: governor.SeverityWarning, Value: 2048 * 1024 * 1024, Limit: 1024 * 1024 * 1024},
			},
		},
		{
			name: "multiple metrics fire independently",
			snapshot: governor.SystemSnapshot{
				MemoryPercent: 92,
				CPUPercent:    85,
				WorkerCount:   6,
			},
			want: []governor.Classification{
				{Metric: governor.MetricMemory, Severity: governor.SeverityCritical, Value: 92, Limit: 90},
				{Metric: governor.MetricCPU, Severity: governor.SeverityWarning, Value: 85, Limit: 80},
				{Metric: governor.MetricWorkerCount, Severity: governor.SeverityWarning, Value: 6, Limit: 5},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.snapshot, cfg)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateQuietHostsNeverClassify(t *testing.T) {
	cfg := testConfig()
	for mem := 0.0; mem <= cfg.MemoryWarning; mem += 2.5 {
		for cpu := 0.0; cpu <= cfg.CPUWarning; cpu += 2.5 {
			snap := governor.SystemSnapshot{MemoryPercent: mem, CPUPercent: cpu, WorkerCount: cfg.MaxWorkerCount}
			require.Empty(t, Evaluate(snap, cfg), "mem=%v cpu=%v", mem, cpu)
		}
	}
}

func TestEvaluateCriticalMemoryIsNeverWarning(t *testing.T) {
	cfg := testConfig()
	for mem := cfg.MemoryCritical + 0.5; mem <= 100; mem += 0.5 {
		got := Evaluate(governor.SystemSnapshot{MemoryPercent: mem}, cfg)
		require.Len(t, got, 1)
		assert.Equal(t, governor.MetricMemory, got[0].Metric)
		assert.Equal(t, governor.SeverityCritical, got[0].Severity, "mem=%v", mem)
	}
}

func TestAgeBreaches(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no workers over age", func(t *testing.T) {
		snap := governor.SystemSnapshot{
			Timestamp: now,
			Workers: []governor.WorkerProcess{
				{PID: 1, Alive: true, StartedAt: now.Add(-10 * time.Minute)},
			},
		}
		_, ok := AgeBreaches(snap, cfg)
		assert.False(t, ok)
		assert.Empty(t, OverAge(snap, cfg))
	})

	t.Run("reports oldest live worker", func(t *testing.T) {
		snap := governor.SystemSnapshot{
			Timestamp: now,
			Workers: []governor.WorkerProcess{
				{PID: 1, Alive: true, StartedAt: now.Add(-40 * time.Minute)},
				{PID: 2, Alive: true, StartedAt: now.Add(-35 * time.Minute)},
				{PID: 3, Alive: false, StartedAt: now.Add(-2 * time.Hour)},
				{PID: 4, Alive: true, StartedAt: now.Add(-time.Minute)},
			},
		}
		c, ok := AgeBreaches(snap, cfg)
		require.True(t, ok)
		assert.Equal(t, governor.MetricWorkerAge, c.Metric)
		assert.Equal(t, governor.SeverityWarning, c.Severity)
		assert.Equal(t, (40 * time.Minute).Seconds(), c.Value)
		assert.Equal(t, (30 * time.Minute).Seconds(), c.Limit)

		over := OverAge(snap, cfg)
		require.Len(t, over, 2)
		assert.Equal(t, 1, over[0].PID)
		assert.Equal(t, 2, over[1].PID)
	})

	t.Run("age check disabled", func(t *testing.T) {
		disabled := cfg
		disabled.MaxWorkerAge = 0
		snap := governor.SystemSnapshot{
			Timestamp: now,
			Workers:   []governor.WorkerProcess{{PID: 1, Alive: true, StartedAt: now.Add(-48 * time.Hour)}},
		}
		_, ok := AgeBreaches(snap, disabled)
		assert.False(t, ok)
	})
}

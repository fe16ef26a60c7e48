// pkg/governor/types.go
//
// Shared data model for the browser-worker governor. Values in this file are
// passed between the sampler, evaluator, remediation engine and pool manager;
// only the pool manager owns mutable WorkerProcess records.

package governor

import (
	"time"
)

// Severity is the classification level of a threshold breach.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities so CRITICAL supersedes WARNING.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Metric names a classified quantity.
type Metric string

const (
	MetricMemory       Metric = "memory"
	MetricCPU          Metric = "cpu"
	MetricWorkerMemory Metric = "worker_memory"
	MetricWorkerCount  Metric = "worker_count"
	MetricWorkerAge    Metric = "worker_age"
)

// Classification is one (metric, severity) verdict produced by the evaluator.
type Classification struct {
	Metric   Metric   `json:"metric"`
	Severity Severity `json:"severity"`
	Value    float64  `json:"value"`
	Limit    float64  `json:"limit"`
}

// WorkerProcess is a headless browser worker tracked by the pool.
type WorkerProcess struct {
	PID        int       `json:"pid"`
	Label      string    `json:"label"`
	StartedAt  time.Time `json:"started_at"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Alive      bool      `json:"alive"`
	Adopted    bool      `json:"adopted,omitempty"`
	IdleTicks  int       `json:"idle_ticks,omitempty"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
	Unreadable bool      `json:"unreadable,omitempty"`
}

// Age returns how long the worker has been running at now.
func (w WorkerProcess) Age(now time.Time) time.Duration {
	if w.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(w.StartedAt)
}

// SystemSnapshot is a point-in-time reading produced once per tick.
type SystemSnapshot struct {
	Timestamp         time.Time       `json:"timestamp"`
	MemoryPercent     float64         `json:"memory_percent"`
	CPUPercent        float64         `json:"cpu_percent"`
	WorkerCount       int             `json:"worker_count"`
	WorkerMemoryBytes uint64          `json:"worker_memory_bytes"`
	Workers           []WorkerProcess `json:"workers"`
}

// LiveWorkers returns the observed workers that were alive at sample time.
func (s SystemSnapshot) LiveWorkers() []WorkerProcess {
	live := make([]WorkerProcess, 0, len(s.Workers))
	for _, w := range s.Workers {
		if w.Alive {
			live = append(live, w)
		}
	}
	return live
}

// Action identifies the corrective step recorded in a RemediationEvent.
type Action string

const (
	ActionPurgeCache        Action = "purge_cache"
	ActionPurgeAndTerminate Action = "purge_cache_and_terminate_oldest"
	ActionRenice            Action = "renice_workers"
	ActionTerminateOldest   Action = "terminate_oldest"
	ActionTerminateHeaviest Action = "purge_cache_and_terminate_heaviest"
	ActionTerminateOverAge  Action = "terminate_over_age"
)

// Outcome says whether the action changed anything.
type Outcome string

const (
	OutcomeTaken   Outcome = "taken"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// RemediationEvent is the append-only audit record for one remediation decision.
type RemediationEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Severity    Severity  `json:"severity"`
	Metric      Metric    `json:"metric"`
	Value       float64   `json:"value"`
	Limit       float64   `json:"limit"`
	Action      Action    `json:"action"`
	Outcome     Outcome   `json:"outcome"`
	Terminated  []int     `json:"terminated,omitempty"`
	Escalated   []int     `json:"escalated,omitempty"`
	Reniced     int       `json:"reniced,omitempty"`
	PurgedFiles int       `json:"purged_files,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// HasCritical reports whether any classification is CRITICAL.
func HasCritical(cs []Classification) bool {
	for _, c := range cs {
		if c.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

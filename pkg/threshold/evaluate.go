// pkg/threshold/evaluate.go

package threshold

import (
	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
)

// Evaluate classifies snapshot against cfg. Rules are independent, so several
// metrics can fire in one tick, but each metric reports at most one severity
// and CRITICAL wins over WARNING. The result is ordered memory, cpu,
// worker_memory, worker_count and is empty when nothing is breached.
func Evaluate(snapshot governor.SystemSnapshot, cfg governor.ThresholdConfig) []governor.Classification {
	var out []governor.Classification

	if c, ok := tiered(governor.MetricMemory, snapshot.MemoryPercent, cfg.MemoryWarning, cfg.MemoryCritical); ok {
		out = append(out, c)
	}
	if c, ok := tiered(governor.MetricCPU, snapshot.CPUPercent, cfg.CPUWarning, cfg.CPUCritical); ok {
		out = append(out, c)
	}

	if ceiling := cfg.WorkerMemoryCeilingBytes(); ceiling > 0 && snapshot.WorkerMemoryBytes > ceiling {
		out = append(out, governor.Classification{
			Metric:   governor.MetricWorkerMemory,
			Severity: governor.SeverityWarning,
			Value:    float64(snapshot.WorkerMemoryBytes),
			Limit:    float64(ceiling),
		})
	}

	if snapshot.WorkerCount > cfg.MaxWorkerCount {
		out = append(out, governor.Classification{
			Metric:   governor.MetricWorkerCount,
			Severity: governor.SeverityWarning,
			Value:    float64(snapshot.WorkerCount),
			Limit:    float64(cfg.MaxWorkerCount),
		})
	}

	return out
}

func tiered(metric governor.Metric, value, warning, critical float64) (governor.Classification, bool) {
	switch {
	case value > critical:
		return governor.Classification{Metric: metric, Severity: governor.SeverityCritical, Value: value, Limit: critical}, true
	case value > warning:
		return governor.Classification{Metric: metric, Severity: governor.SeverityWarning, Value: value, Limit: warning}, true
	default:
		return governor.Classification{}, false
	}
}

// AgeBreaches reports whether any live worker in snapshot has outlived
// MaxWorkerAge. It runs every tick alongside Evaluate but is not part of its
// result. Value is the oldest live worker's age in seconds.
func AgeBreaches(snapshot governor.SystemSnapshot, cfg governor.ThresholdConfig) (governor.Classification, bool) {
	if cfg.MaxWorkerAge <= 0 {
		return governor.Classification{}, false
	}

	var oldest float64
	breached := false
	for _, w := range snapshot.Workers {
		if !w.Alive {
			continue
		}
		age := w.Age(snapshot.Timestamp)
		if age > cfg.MaxWorkerAge {
			breached = true
			if s := age.Seconds(); s > oldest {
				oldest = s
			}
		}
	}
	if !breached {
		return governor.Classification{}, false
	}
	return governor.Classification{
		Metric:   governor.MetricWorkerAge,
		Severity: governor.SeverityWarning,
		Value:    oldest,
		Limit:    cfg.MaxWorkerAge.Seconds(),
	}, true
}

// OverAge returns the live workers in snapshot older than MaxWorkerAge.
func OverAge(snapshot governor.SystemSnapshot, cfg governor.ThresholdConfig) []governor.WorkerProcess {
	var out []governor.WorkerProcess
	if cfg.MaxWorkerAge <= 0 {
		return out
	}
	for _, w := range snapshot.Workers {
		if w.Alive && w.Age(snapshot.Timestamp) > cfg.MaxWorkerAge {
			out = append(out, w)
		}
	}
	return out
}

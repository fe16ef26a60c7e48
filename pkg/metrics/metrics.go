// pkg/metrics/metrics.go

package metrics

import (
	"net/http"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Tick results.
const (
	TickOK      = "ok"
	TickSkipped = "skipped"
	TickFailed  = "failed"
)

// Collector holds the governor's Prometheus series on a private registry.
type Collector struct {
	registry *prometheus.Registry

	memoryPercent     prometheus.Gauge
	cpuPercent        prometheus.Gauge
	workers           prometheus.Gauge
	workerMemoryBytes prometheus.Gauge
	classifications   *prometheus.CounterVec
	events            *prometheus.CounterVec
	terminations      *prometheus.CounterVec
	ticks             *prometheus.CounterVec
	tickDuration      prometheus.Histogram
	launches          prometheus.Counter
	saturated         prometheus.Counter
}

// New registers all series on a fresh registry, plus the Go and process
// collectors for the governor itself.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		memoryPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Host memory utilisation at the last sample.",
		}),
		cpuPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilisation at the last sample.",
		}),
		workers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_live",
			Help:      "Live browser workers at the last sample.",
		}),
		workerMemoryBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_memory_bytes",
			Help:      "Aggregate RSS of live workers at the last sample.",
		}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Threshold classifications by metric and severity.",
		}, []string{"metric", "severity"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_events_total",
			Help:      "Remediation events by metric, action and outcome.",
		}, []string{"metric", "action", "outcome"}),
		terminations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_terminations_total",
			Help:      "Workers terminated, split by whether a forceful kill was needed.",
		}, []string{"mode"}),
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result.",
		}, []string{"result"}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one scheduler tick.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		launches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_launches_total",
			Help:      "Workers launched by the pool manager.",
		}),
		saturated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_saturated_total",
			Help:      "Launches refused because a CRITICAL classification was active.",
		}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) ObserveSnapshot(s governor.SystemSnapshot) {
	c.memoryPercent.Set(s.MemoryPercent)
	c.cpuPercent.Set(s.CPUPercent)
	c.workers.Set(float64(s.WorkerCount))
	c.workerMemoryBytes.Set(float64(s.WorkerMemoryBytes))
}

func (c *Collector) ObserveClassifications(cs []governor.Classification) {
	for _, cl := range cs {
		c.classifications.WithLabelValues(string(cl.Metric), string(cl.Severity)).Inc()
	}
}

func (c *Collector) ObserveEvents(evs []governor.RemediationEvent) {
	for _, ev := range evs {
		c.events.WithLabelValues(string(ev.Metric), string(ev.Action), string(ev.Outcome)).Inc()
		escalated := len(ev.Escalated)
		c.terminations.WithLabelValues("graceful").Add(float64(len(ev.Terminated) - escalated))
		c.terminations.WithLabelValues("forceful").Add(float64(escalated))
	}
}

func (c *Collector) ObserveLaunches(n int, saturated bool) {
	c.launches.Add(float64(n))
	if saturated {
		c.saturated.Inc()
	}
}

func (c *Collector) ObserveTick(result string, d time.Duration) {
	c.ticks.WithLabelValues(result).Inc()
	c.tickDuration.Observe(d.Seconds())
}

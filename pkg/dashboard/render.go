/* pkg/dashboard/render.go */

package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/statusapi"
	"github.com/charmbracelet/lipgloss"
)

// RenderStatus renders the daemon status as a set of panels.
func RenderStatus(st Styles, resp statusapi.StatusResponse, now time.Time) string {
	var b strings.Builder
	b.WriteString(st.Title.Render("warden " + resp.Version))
	b.WriteString("\n")

	loop := []string{
		st.Row("State", string(resp.State)),
		st.Row("Running", fmt.Sprintf("%t", resp.Running)),
		st.Row("Interval", resp.Interval.String()),
		st.Row("Ticks", fmt.Sprintf("%d (skipped %d, failed %d)", resp.Ticks, resp.Skipped, resp.Failed)),
	}
	if !resp.LastTick.IsZero() {
		loop = append(loop, st.Row("Last tick", fmt.Sprintf("%s ago in %s",
			now.Sub(resp.LastTick).Truncate(time.Second), resp.LastDuration.Truncate(time.Millisecond))))
	}
	if resp.LastError != "" {
		loop = append(loop, st.Row("Last error", st.Error.Render(resp.LastError)))
	}

	panels := []string{st.Panel.Render(strings.Join(loop, "\n"))}
	if resp.LastSnapshot != nil {
		panels = append(panels, st.Panel.Render(renderReadings(st, *resp.LastSnapshot, resp.LastClassifications)))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	b.WriteString("\n\n")

	b.WriteString(st.Header.Render(fmt.Sprintf("Pool %d/%d", resp.PoolSize, resp.TargetWarm)))
	b.WriteString("\n")
	b.WriteString(renderWorkers(st, resp.Workers, now))

	if len(resp.RecentEvents) > 0 {
		b.WriteString("\n")
		b.WriteString(st.Header.Render("Recent remediation"))
		b.WriteString("\n")
		b.WriteString(renderEvents(st, resp.RecentEvents))
	}
	return b.String()
}

// RenderTick renders the outcome of one tick.
func RenderTick(st Styles, report scheduler.TickReport) string {
	var b strings.Builder
	b.WriteString(st.Title.Render(fmt.Sprintf("Tick %d", report.Number)))
	b.WriteString("\n")

	if report.Skipped {
		b.WriteString(st.Warning.Render("Skipped: host metrics were unavailable"))
		b.WriteString("\n")
		return b.String()
	}

	if report.Snapshot != nil {
		b.WriteString(st.Panel.Render(renderReadings(st, *report.Snapshot, report.Classifications)))
		b.WriteString("\n")
	}

	if len(report.Events) > 0 {
		b.WriteString(st.Header.Render("Remediation"))
		b.WriteString("\n")
		b.WriteString(renderEvents(st, report.Events))
	}

	r := report.Reconcile
	pool := fmt.Sprintf("live %d, target %d, launched %d, retired %d, removed %d",
		r.Live, r.Target, len(r.Launched), len(r.Retired), len(r.Removed))
	b.WriteString(st.Row("Pool", pool))
	b.WriteString("\n")
	if report.Saturated {
		b.WriteString(st.Warning.Render("Pool saturated: launches held back under CRITICAL load"))
		b.WriteString("\n")
	} else if report.ReconcileError != "" {
		b.WriteString(st.Error.Render("Reconcile failed: " + report.ReconcileError))
		b.WriteString("\n")
	}
	return b.String()
}

func renderReadings(st Styles, snap governor.SystemSnapshot, cs []governor.Classification) string {
	worst := make(map[governor.Metric]governor.Severity, len(cs))
	for _, c := range cs {
		if c.Severity.Rank() > worst[c.Metric].Rank() {
			worst[c.Metric] = c.Severity
		}
	}
	line := func(label string, m governor.Metric, value string) string {
		return st.Row(label, value+" "+st.Indicator(IndicatorFor(worst[m])))
	}
	return strings.Join([]string{
		line("Memory", governor.MetricMemory, fmt.Sprintf("%.1f%%", snap.MemoryPercent)),
		line("CPU", governor.MetricCPU, fmt.Sprintf("%.1f%%", snap.CPUPercent)),
		line("Workers", governor.MetricWorkerCount, fmt.Sprintf("%d", snap.WorkerCount)),
		line("Worker memory", governor.MetricWorkerMemory, formatMB(snap.WorkerMemoryBytes)),
		line("Oldest worker", governor.MetricWorkerAge, oldest(snap).Truncate(time.Second).String()),
	}, "\n")
}

func oldest(snap governor.SystemSnapshot) time.Duration {
	var longest time.Duration
	for _, w := range snap.LiveWorkers() {
		if age := w.Age(snap.Timestamp); age > longest {
			longest = age
		}
	}
	return longest
}

func renderWorkers(st Styles, workers []governor.WorkerProcess, now time.Time) string {
	if len(workers) == 0 {
		return st.Muted.Render("no workers") + "\n"
	}
	sorted := append([]governor.WorkerProcess(nil), workers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartedAt.Before(sorted[j].StartedAt) })

	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-24s %10s %8s %10s\n", "PID", "LABEL", "RSS", "CPU", "AGE")
	for _, w := range sorted {
		label := w.Label
		if w.Adopted {
			label += " (adopted)"
		}
		row := fmt.Sprintf("%-8d %-24s %10s %7.1f%% %10s",
			w.PID, label, formatMB(w.RSSBytes), w.CPUPercent, w.Age(now).Truncate(time.Second))
		if !w.Alive {
			row = st.Muted.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

func renderEvents(st Styles, events []governor.RemediationEvent) string {
	var b strings.Builder
	for _, ev := range events {
		sev := st.Indicator(IndicatorFor(ev.Severity))
		line := fmt.Sprintf("%s %s %s %s=%.1f (limit %.1f) %s",
			ev.Timestamp.Format(time.RFC3339), sev, ev.Action, ev.Metric, ev.Value, ev.Limit, ev.Outcome)
		if n := len(ev.Terminated); n > 0 {
			line += fmt.Sprintf(", terminated %d", n)
		}
		if n := len(ev.Escalated); n > 0 {
			line += st.Warning.Render(fmt.Sprintf(", %d killed", n))
		}
		if ev.PurgedFiles > 0 {
			line += fmt.Sprintf(", purged %d files", ev.PurgedFiles)
		}
		if ev.Detail != "" {
			line += st.Muted.Render(" " + ev.Detail)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func formatMB(bytes uint64) string {
	return fmt.Sprintf("%.0f MB", float64(bytes)/(1024*1024))
}

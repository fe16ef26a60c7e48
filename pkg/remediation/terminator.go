// pkg/remediation/terminator.go

package remediation

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/procruntime"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// TerminationState is the per-worker state of a graceful-then-forceful stop.
type TerminationState string

const (
	// StateSignaled means the graceful signal was delivered and the worker
	// has not been seen to exit yet.
	StateSignaled TerminationState = "signaled"
	// StateConfirmed means the worker exited within the grace window.
	StateConfirmed TerminationState = "confirmed"
	// StateEscalated means the worker outlived the grace window and was killed.
	StateEscalated TerminationState = "escalated"
	// StateGone means the worker was already dead before it was signaled.
	StateGone TerminationState = "gone"
	// StateFailed means a signal could not be delivered.
	StateFailed TerminationState = "failed"
)

// Termination tracks one worker through Signaled -> Confirmed|Escalated.
type Termination struct {
	PID        int
	State      TerminationState
	SignaledAt time.Time
	Err        error
}

// Report is the outcome of one Stop call.
type Report []Termination

// Stopped returns the pids that were signaled and are now dead.
func (r Report) Stopped() []int {
	var out []int
	for _, t := range r {
		if t.State == StateConfirmed || t.State == StateEscalated {
			out = append(out, t.PID)
		}
	}
	return out
}

// Escalated returns the pids that needed a forceful kill.
func (r Report) Escalated() []int {
	var out []int
	for _, t := range r {
		if t.State == StateEscalated {
			out = append(out, t.PID)
		}
	}
	return out
}

// Err aggregates delivery failures, or returns nil.
func (r Report) Err() error {
	var result *multierror.Error
	for _, t := range r {
		if t.State == StateFailed && t.Err != nil {
			result = multierror.Append(result, cerr.Wrapf(t.Err, "pid %d", t.PID))
		}
	}
	return result.ErrorOrNil()
}

// Terminator runs the two-phase stop protocol for a batch of workers. All
// workers in a batch share one grace window, so a batch never blocks longer
// than grace plus one poll interval.
type Terminator struct {
	runtime procruntime.Runtime
	grace   time.Duration
	poll    time.Duration
	now     func() time.Time
}

// NewTerminator returns a Terminator that waits grace before escalating.
func NewTerminator(rt procruntime.Runtime, grace, poll time.Duration) *Terminator {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Terminator{runtime: rt, grace: grace, poll: poll, now: time.Now}
}

// Stop signals every pid, waits for the batch to exit, and kills survivors.
func (t *Terminator) Stop(ctx context.Context, pids []int) Report {
	logger := otelzap.Ctx(ctx)

	report := make(Report, 0, len(pids))
	pending := 0
	for _, pid := range pids {
		term := Termination{PID: pid}
		if !t.runtime.Alive(ctx, pid) {
			term.State = StateGone
			report = append(report, term)
			continue
		}
		err := t.runtime.Terminate(ctx, pid)
		switch {
		case err == nil:
			term.State = StateSignaled
			term.SignaledAt = t.now()
			pending++
		case cerr.Is(err, procruntime.ErrProcessGone):
			term.State = StateGone
		default:
			term.State = StateFailed
			term.Err = err
			logger.Warn("Failed to signal worker", zap.Int("pid", pid), zap.Error(err))
		}
		report = append(report, term)
	}
	if pending == 0 {
		return report
	}

	deadline := time.NewTimer(t.grace)
	defer deadline.Stop()
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

wait:
	for {
		if t.confirm(ctx, report) == 0 {
			return report
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	if t.confirm(ctx, report) == 0 {
		return report
	}
	for i := range report {
		if report[i].State == StateSignaled {
			t.escalate(ctx, &report[i])
		}
	}
	return report
}

// confirm moves exited workers to Confirmed and returns how many remain signaled.
func (t *Terminator) confirm(ctx context.Context, report Report) int {
	remaining := 0
	for i := range report {
		if report[i].State != StateSignaled {
			continue
		}
		if t.runtime.Alive(ctx, report[i].PID) {
			remaining++
			continue
		}
		report[i].State = StateConfirmed
	}
	return remaining
}

func (t *Terminator) escalate(ctx context.Context, term *Termination) {
	logger := otelzap.Ctx(ctx)

	err := t.runtime.Kill(ctx, term.PID)
	switch {
	case err == nil:
		term.State = StateEscalated
		warning := &governor.TerminationEscalationWarning{PID: term.PID, Grace: t.grace}
		logger.Warn("Worker ignored graceful termination",
			zap.Int("pid", term.PID),
			zap.Duration("grace", t.grace),
			zap.String("warning", warning.Error()))
	case cerr.Is(err, procruntime.ErrProcessGone):
		term.State = StateConfirmed
	default:
		term.State = StateFailed
		term.Err = err
		logger.Error("Failed to kill worker", zap.Int("pid", term.PID), zap.Error(err))
	}
}

// pkg/governor/errors.go

package governor

import (
	"fmt"
	"time"

	cerr "github.com/cockroachdb/errors"
)

// ErrTickInProgress is returned by on-demand triggers while a tick is running.
var ErrTickInProgress = cerr.New("a governor tick is already in progress")

// SamplingError means the host metrics interface was entirely unavailable.
// The scheduler skips the tick and continues.
type SamplingError struct {
	Source string
	Cause  error
}

func (e *SamplingError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("sampling failed: %s unavailable", e.Source)
	}
	return fmt.Sprintf("sampling failed: %s unavailable: %v", e.Source, e.Cause)
}

func (e *SamplingError) Unwrap() error { return e.Cause }

// NewSamplingError wraps cause with the source that could not be read.
func NewSamplingError(source string, cause error) error {
	return cerr.WithStack(&SamplingError{Source: source, Cause: cause})
}

// IsSamplingError reports whether err carries a SamplingError.
func IsSamplingError(err error) bool {
	var se *SamplingError
	return cerr.As(err, &se)
}

// PoolSaturatedError is returned instead of launching a worker while a
// CRITICAL classification is active. Callers retry later.
type PoolSaturatedError struct {
	Live     int
	Target   int
	Blocking []Classification
}

func (e *PoolSaturatedError) Error() string {
	metrics := make([]string, 0, len(e.Blocking))
	for _, c := range e.Blocking {
		metrics = append(metrics, string(c.Metric))
	}
	return fmt.Sprintf("pool saturated: launch refused under critical load (live=%d target=%d critical=%v)",
		e.Live, e.Target, metrics)
}

// IsPoolSaturated reports whether err carries a PoolSaturatedError.
func IsPoolSaturated(err error) bool {
	var pe *PoolSaturatedError
	return cerr.As(err, &pe)
}

// TerminationEscalationWarning records that a graceful signal did not stop a
// worker within its grace window and a forceful kill was used. The
// termination still succeeded, so this is logged, not propagated.
type TerminationEscalationWarning struct {
	PID   int
	Grace time.Duration
}

func (w *TerminationEscalationWarning) Error() string {
	return fmt.Sprintf("worker %d ignored graceful termination for %s, escalated to forceful kill", w.PID, w.Grace)
}

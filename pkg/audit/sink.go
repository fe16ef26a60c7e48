// pkg/audit/sink.go
//
// Delivery targets for remediation events and threshold notifications. The
// governor only produces records; sinks own delivery and retention.

package audit

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/hashicorp/go-multierror"
)

// Notification is raised once per tick that produced any WARNING or CRITICAL
// classification.
type Notification struct {
	Timestamp       time.Time                 `json:"timestamp"`
	Severity        governor.Severity         `json:"severity"`
	Classifications []governor.Classification `json:"classifications"`
	MemoryPercent   float64                   `json:"memory_percent"`
	CPUPercent      float64                   `json:"cpu_percent"`
	WorkerCount     int                       `json:"worker_count"`
}

// NewNotification summarises classifications. ok is false when there are none.
func NewNotification(snapshot governor.SystemSnapshot, classifications []governor.Classification) (Notification, bool) {
	if len(classifications) == 0 {
		return Notification{}, false
	}
	n := Notification{
		Timestamp:       snapshot.Timestamp,
		Severity:        governor.SeverityWarning,
		Classifications: classifications,
		MemoryPercent:   snapshot.MemoryPercent,
		CPUPercent:      snapshot.CPUPercent,
		WorkerCount:     snapshot.WorkerCount,
	}
	if governor.HasCritical(classifications) {
		n.Severity = governor.SeverityCritical
	}
	return n, true
}

// Sink receives audit records.
type Sink interface {
	Record(ctx context.Context, ev governor.RemediationEvent) error
	Notify(ctx context.Context, n Notification) error
}

// Fanout delivers to every sink and aggregates their failures.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, ev governor.RemediationEvent) error {
	var result *multierror.Error
	for _, s := range f {
		if err := s.Record(ctx, ev); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var result *multierror.Error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Rotate rotates every sink that supports it.
func (f Fanout) Rotate(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range f {
		if r, ok := s.(Rotator); ok {
			if err := r.Rotate(ctx); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// Close closes every sink that holds resources.
func (f Fanout) Close() error {
	var result *multierror.Error
	for _, s := range f {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// Rotator is implemented by sinks that keep local files.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// pkg/audit/recorder.go

package audit

import (
	"context"
	"sync"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
)

// Recorder keeps the most recent events and notifications in memory for the
// status query.
type Recorder struct {
	mu            sync.RWMutex
	events        []governor.RemediationEvent
	notifications []Notification
	maxEntries    int
	total         uint64
}

// NewRecorder keeps at most maxEntries of each record kind.
func NewRecorder(maxEntries int) *Recorder {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Recorder{
		events:     make([]governor.RemediationEvent, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

func (r *Recorder) Record(ctx context.Context, ev governor.RemediationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
	if len(r.events) > r.maxEntries {
		r.events = r.events[len(r.events)-r.maxEntries:]
	}
	r.total++
	return nil
}

func (r *Recorder) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = append(r.notifications, n)
	if len(r.notifications) > r.maxEntries {
		r.notifications = r.notifications[len(r.notifications)-r.maxEntries:]
	}
	return nil
}

// Recent returns up to n events, oldest first.
func (r *Recorder) Recent(n int) []governor.RemediationEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || len(r.events) == 0 {
		return []governor.RemediationEvent{}
	}
	start := 0
	if len(r.events) > n {
		start = len(r.events) - n
	}
	out := make([]governor.RemediationEvent, len(r.events[start:]))
	copy(out, r.events[start:])
	return out
}

// LastNotification returns the newest notification, if any.
func (r *Recorder) LastNotification() (Notification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.notifications) == 0 {
		return Notification{}, false
	}
	return r.notifications[len(r.notifications)-1], true
}

// Total is the number of events ever recorded.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

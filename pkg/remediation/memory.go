// pkg/remediation/memory.go

package remediation

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
)

// pidMemory is a bounded record of pids the engine has already acted on.
// An entry only matches a worker that started before it was recorded, so a
// recycled pid belonging to a newer process is not mistaken for the old one.
type pidMemory struct {
	limit int
	at    map[int]time.Time
	order []int
}

func newPIDMemory(limit int) *pidMemory {
	return &pidMemory{limit: limit, at: make(map[int]time.Time)}
}

func (m *pidMemory) add(pid int, at time.Time) {
	if _, ok := m.at[pid]; !ok {
		m.order = append(m.order, pid)
	}
	m.at[pid] = at
	for len(m.order) > m.limit {
		delete(m.at, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *pidMemory) has(w governor.WorkerProcess) bool {
	at, ok := m.at[w.PID]
	if !ok {
		return false
	}
	return w.StartedAt.IsZero() || !w.StartedAt.After(at)
}

func (m *pidMemory) size() int { return len(m.order) }

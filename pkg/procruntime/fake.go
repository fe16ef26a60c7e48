// pkg/procruntime/fake.go

package procruntime

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	cerr "github.com/cockroachdb/errors"
)

// FakeProcess is one entry in the Fake process table.
type FakeProcess struct {
	PID        int
	Cmdline    string
	StartedAt  time.Time
	RSSBytes   uint64
	CPUPercent float64
	Nice       int
	Alive      bool

	// IgnoreTerm makes the process survive SIGTERM so escalation can be tested.
	IgnoreTerm bool
	// StatsErr is returned from Stats for this pid.
	StatsErr error

	MemoryLimit uint64
	CPULimit    uint64
}

// SignalRecord is one signal delivered through the Fake.
type SignalRecord struct {
	PID    int
	Signal string
}

// Fake is an in-memory Runtime for tests.
type Fake struct {
	mu      sync.Mutex
	procs   map[int]*FakeProcess
	nextPID int
	signals []SignalRecord
	now     func() time.Time

	// ListErr is returned from ListTagged when set.
	ListErr error
	// LaunchErr is returned from Launch when set.
	LaunchErr error
	// LaunchRSS is the RSS given to launched processes.
	LaunchRSS uint64
}

// NewFake returns an empty Fake whose clock is now.
func NewFake(now func() time.Time) *Fake {
	if now == nil {
		now = time.Now
	}
	return &Fake{
		procs:   make(map[int]*FakeProcess),
		nextPID: 1000,
		now:     now,
	}
}

// Add inserts p into the table and marks it alive.
func (f *Fake) Add(p FakeProcess) *FakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.Alive = true
	cp := p
	f.procs[p.PID] = &cp
	if p.PID >= f.nextPID {
		f.nextPID = p.PID + 1
	}
	return &cp
}

// Get returns a copy of the process entry for pid.
func (f *Fake) Get(pid int) (FakeProcess, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return FakeProcess{}, false
	}
	return *p, true
}

// Update mutates the entry for pid under the lock.
func (f *Fake) Update(pid int, fn func(p *FakeProcess)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.procs[pid]; ok {
		fn(p)
	}
}

// Exit marks pid as exited.
func (f *Fake) Exit(pid int) {
	f.Update(pid, func(p *FakeProcess) { p.Alive = false })
}

// LiveCount returns how many processes are alive.
func (f *Fake) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.procs {
		if p.Alive {
			n++
		}
	}
	return n
}

// Signals returns the signals delivered so far, in order.
func (f *Fake) Signals() []SignalRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SignalRecord(nil), f.signals...)
}

// SignalCount returns how many times sig was delivered.
func (f *Fake) SignalCount(sig string) int {
	n := 0
	for _, s := range f.Signals() {
		if s.Signal == sig {
			n++
		}
	}
	return n
}

func (f *Fake) ListTagged(ctx context.Context, tag string) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var out []ProcessInfo
	for _, p := range f.procs {
		if p.Alive && strings.Contains(p.Cmdline, tag) {
			out = append(out, ProcessInfo{PID: p.PID, StartedAt: p.StartedAt, Cmdline: p.Cmdline})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (f *Fake) Stats(ctx context.Context, pid int) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok || !p.Alive {
		return Stats{}, ErrProcessGone
	}
	if p.StatsErr != nil {
		return Stats{}, p.StatsErr
	}
	return Stats{RSSBytes: p.RSSBytes, CPUPercent: p.CPUPercent, StartedAt: p.StartedAt}, nil
}

func (f *Fake) Alive(ctx context.Context, pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	return ok && p.Alive
}

func (f *Fake) Terminate(ctx context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok || !p.Alive {
		return ErrProcessGone
	}
	f.signals = append(f.signals, SignalRecord{PID: pid, Signal: "SIGTERM"})
	if !p.IgnoreTerm {
		p.Alive = false
	}
	return nil
}

func (f *Fake) Kill(ctx context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok || !p.Alive {
		return ErrProcessGone
	}
	f.signals = append(f.signals, SignalRecord{PID: pid, Signal: "SIGKILL"})
	p.Alive = false
	return nil
}

func (f *Fake) Renice(ctx context.Context, pid int, nice int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok || !p.Alive {
		return ErrProcessGone
	}
	p.Nice = nice
	return nil
}

func (f *Fake) Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LaunchErr != nil {
		return LaunchResult{}, f.LaunchErr
	}
	if spec.Command == "" {
		return LaunchResult{}, cerr.New("worker command is empty")
	}
	pid := f.nextPID
	f.nextPID++
	cmdline := strings.Join(append(append([]string{spec.Command}, spec.Args...), spec.Tag), " ")
	p := &FakeProcess{
		PID:         pid,
		Cmdline:     cmdline,
		StartedAt:   f.now(),
		RSSBytes:    f.LaunchRSS,
		Alive:       true,
		MemoryLimit: spec.MemoryLimitBytes,
		CPULimit:    spec.CPULimitSeconds,
	}
	f.procs[pid] = p
	return LaunchResult{
		Info:          ProcessInfo{PID: pid, StartedAt: p.StartedAt, Cmdline: cmdline},
		LimitsApplied: spec.MemoryLimitBytes > 0 || spec.CPULimitSeconds > 0,
	}, nil
}

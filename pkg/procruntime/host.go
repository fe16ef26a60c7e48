//go:build unix

// pkg/procruntime/host.go

package procruntime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// HostRuntime implements Runtime against the local process table.
type HostRuntime struct {
	mu sync.Mutex
	// gopsutil keeps the previous CPU times on the Process value, so handles
	// are cached per pid to make CPUPercent a delta between ticks.
	handles map[int]*process.Process
	// groups holds the pids this runtime launched with Setpgid. Their signals
	// go to the whole process group so renderer and zygote children die too.
	groups map[int]struct{}
}

// NewHostRuntime returns a Runtime backed by gopsutil and x/sys.
func NewHostRuntime() *HostRuntime {
	return &HostRuntime{
		handles: make(map[int]*process.Process),
		groups:  make(map[int]struct{}),
	}
}

// ListTagged scans the process table for command lines containing tag.
func (h *HostRuntime) ListTagged(ctx context.Context, tag string) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to read process table")
	}

	self := int32(os.Getpid())
	var out []ProcessInfo
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, tag) {
			continue
		}
		info := ProcessInfo{PID: int(p.Pid), Cmdline: cmdline}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil {
			info.StartedAt = time.UnixMilli(ms)
		}
		out = append(out, info)
	}
	return out, nil
}

func (h *HostRuntime) handle(ctx context.Context, pid int) (*process.Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.handles[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if cerr.Is(err, process.ErrorProcessNotRunning) {
			return nil, ErrProcessGone
		}
		return nil, cerr.Wrapf(err, "failed to open process %d", pid)
	}
	h.handles[pid] = p
	return p, nil
}

func (h *HostRuntime) forget(pid int) {
	h.mu.Lock()
	delete(h.handles, pid)
	h.mu.Unlock()
}

func (h *HostRuntime) ownsGroup(pid int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.groups[pid]
	return ok
}

func (h *HostRuntime) dropGroup(pid int) {
	h.mu.Lock()
	delete(h.groups, pid)
	h.mu.Unlock()
}

// groupAlive reports whether any member of a launched worker's process group
// is still around. Adopted workers have no group of ours and report false.
func (h *HostRuntime) groupAlive(pid int) bool {
	if !h.ownsGroup(pid) {
		return false
	}
	if err := unix.Kill(-pid, 0); err == nil || cerr.Is(err, unix.EPERM) {
		return true
	}
	h.dropGroup(pid)
	return false
}

// Stats reads RSS and the CPU% delta since the previous call for pid.
func (h *HostRuntime) Stats(ctx context.Context, pid int) (Stats, error) {
	p, err := h.handle(ctx, pid)
	if err != nil {
		if cerr.Is(err, ErrProcessGone) && h.groupAlive(pid) {
			// Leader exited but children linger; keep the worker visible
			// so the next stop reaches the rest of the group.
			return Stats{}, cerr.Newf("worker %d exited but its process group is still running", pid)
		}
		return Stats{}, err
	}

	var st Stats
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		if !h.Alive(ctx, pid) {
			return Stats{}, ErrProcessGone
		}
		return Stats{}, cerr.Wrapf(err, "failed to read memory for pid %d", pid)
	}
	st.RSSBytes = mem.RSS

	pct, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		return st, cerr.Wrapf(err, "failed to read cpu for pid %d", pid)
	}
	st.CPUPercent = pct

	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		st.StartedAt = time.UnixMilli(ms)
	}
	return st, nil
}

// Alive reports whether pid exists and is not a zombie. For workers this
// runtime launched, a surviving member of the process group also counts.
func (h *HostRuntime) Alive(ctx context.Context, pid int) bool {
	if h.leaderAlive(ctx, pid) {
		return true
	}
	return h.groupAlive(pid)
}

func (h *HostRuntime) leaderAlive(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		h.forget(pid)
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// Terminate sends SIGTERM.
func (h *HostRuntime) Terminate(ctx context.Context, pid int) error {
	return h.signal(ctx, pid, unix.SIGTERM)
}

// Kill sends SIGKILL.
func (h *HostRuntime) Kill(ctx context.Context, pid int) error {
	err := h.signal(ctx, pid, unix.SIGKILL)
	if err == nil || cerr.Is(err, ErrProcessGone) {
		// Nothing in the group survives SIGKILL. Orphaned zombies left for
		// init to reap must not keep the worker alive.
		h.dropGroup(pid)
		h.forget(pid)
	}
	return err
}

func (h *HostRuntime) signal(ctx context.Context, pid int, sig syscall.Signal) error {
	if pid <= 1 {
		return cerr.Newf("refusing to signal pid %d", pid)
	}

	target := pid
	if h.ownsGroup(pid) {
		target = -pid
	}
	err := unix.Kill(target, sig)
	if target < 0 && cerr.Is(err, unix.ESRCH) {
		h.dropGroup(pid)
		target = pid
		err = unix.Kill(pid, sig)
	}
	if err != nil {
		return processError(pid, "send "+unix.SignalName(sig)+" to", err)
	}

	otelzap.Ctx(ctx).Debug("Signal delivered",
		zap.Int("pid", pid),
		zap.Bool("group", target < 0),
		zap.String("signal", unix.SignalName(sig)))
	return nil
}

// Renice sets the nice value of pid.
func (h *HostRuntime) Renice(ctx context.Context, pid int, nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return processError(pid, "renice", err)
	}
	return nil
}

// processError maps errno values from kill(2) and setpriority(2).
func processError(pid int, operation string, err error) error {
	switch {
	case cerr.Is(err, unix.ESRCH):
		return ErrProcessGone
	case cerr.Is(err, unix.EPERM), cerr.Is(err, unix.EACCES):
		return cerr.WithStack(warden_err.NewPermissionError(
			fmt.Sprintf("pid %d", pid), operation,
			"Run warden as the user that owns the browser workers",
			"Lowering a nice value needs CAP_SYS_NICE"))
	default:
		return cerr.Wrapf(err, "failed to %s pid %d", operation, pid)
	}
}

// Launch starts a worker in its own process group and applies caps right
// after start. The child is reaped in the background.
func (h *HostRuntime) Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error) {
	logger := otelzap.Ctx(ctx)

	if spec.Command == "" {
		return LaunchResult{}, cerr.New("worker command is empty")
	}

	args := append([]string{}, spec.Args...)
	if spec.Tag != "" && !containsArg(args, spec.Tag) {
		args = append(args, spec.Tag)
	}

	cmd := exec.Command(spec.Command, args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return LaunchResult{}, cerr.Wrapf(err, "failed to start worker %q", spec.Label)
	}

	pid := cmd.Process.Pid
	h.mu.Lock()
	h.groups[pid] = struct{}{}
	h.mu.Unlock()

	res := LaunchResult{Info: ProcessInfo{
		PID:       pid,
		StartedAt: time.Now(),
		Cmdline:   strings.Join(append([]string{spec.Command}, args...), " "),
	}}

	if spec.MemoryLimitBytes > 0 || spec.CPULimitSeconds > 0 {
		if err := applyLimits(pid, spec.MemoryLimitBytes, spec.CPULimitSeconds); err != nil {
			res.LimitsErr = err
			logger.Warn("Worker started without resource caps",
				zap.Int("pid", pid),
				zap.String("label", spec.Label),
				zap.Error(err))
		} else {
			res.LimitsApplied = true
		}
	}

	go func() {
		_ = cmd.Wait()
		h.forget(pid)
	}()

	logger.Info("Worker launched",
		zap.Int("pid", pid),
		zap.String("label", spec.Label),
		zap.Bool("limits_applied", res.LimitsApplied))
	return res, nil
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

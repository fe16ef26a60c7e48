//go:build !linux

package procruntime

func applyLimits(pid int, memBytes, cpuSeconds uint64) error {
	return ErrLimitsUnsupported
}

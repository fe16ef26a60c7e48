// pkg/governor/config.go

package governor

import (
	"time"
)

// ThresholdConfig holds the named ceilings the governor enforces. It is
// loaded once at startup and never mutated afterwards.
type ThresholdConfig struct {
	MemoryWarning  float64 `mapstructure:"memory_warning" yaml:"memory_warning" json:"memory_warning" validate:"gt=0,lte=100"`
	MemoryCritical float64 `mapstructure:"memory_critical" yaml:"memory_critical" json:"memory_critical" validate:"gt=0,lte=100,gtfield=MemoryWarning"`
	CPUWarning     float64 `mapstructure:"cpu_warning" yaml:"cpu_warning" json:"cpu_warning" validate:"gt=0,lte=100"`
	CPUCritical    float64 `mapstructure:"cpu_critical" yaml:"cpu_critical" json:"cpu_critical" validate:"gt=0,lte=100,gtfield=CPUWarning"`

	MaxWorkerCount      int           `mapstructure:"max_worker_count" yaml:"max_worker_count" json:"max_worker_count" validate:"gte=1"`
	MaxWorkerAge        time.Duration `mapstructure:"max_worker_age" yaml:"max_worker_age" json:"max_worker_age" validate:"gt=0"`
	MaxWorkerMemoryMB   uint64        `mapstructure:"max_worker_memory_mb" yaml:"max_worker_memory_mb" json:"max_worker_memory_mb" validate:"gt=0"`
	MaxWorkerCPUSeconds uint64        `mapstructure:"max_worker_cpu_seconds" yaml:"max_worker_cpu_seconds" json:"max_worker_cpu_seconds"`
	WorkerMemoryCeilMB  uint64        `mapstructure:"worker_memory_ceiling_mb" yaml:"worker_memory_ceiling_mb" json:"worker_memory_ceiling_mb" validate:"gt=0"`
	WorkerFloor         int           `mapstructure:"worker_floor" yaml:"worker_floor" json:"worker_floor" validate:"gte=0,ltefield=MaxWorkerCount"`
}

// DefaultThresholdConfig mirrors the limits shipped with the stack installer.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		MemoryWarning:       75,
		MemoryCritical:      90,
		CPUWarning:          80,
		CPUCritical:         95,
		MaxWorkerCount:      5,
		MaxWorkerAge:        30 * time.Minute,
		MaxWorkerMemoryMB:   1024,
		MaxWorkerCPUSeconds: 0,
		WorkerMemoryCeilMB:  3072,
		WorkerFloor:         1,
	}
}

// MaxWorkerMemoryBytes is the per-worker cap in bytes.
func (c ThresholdConfig) MaxWorkerMemoryBytes() uint64 {
	return c.MaxWorkerMemoryMB * 1024 * 1024
}

// WorkerMemoryCeilingBytes is the aggregate worker RSS ceiling in bytes.
func (c ThresholdConfig) WorkerMemoryCeilingBytes() uint64 {
	return c.WorkerMemoryCeilMB * 1024 * 1024
}

// pkg/config/defaults.go

package config

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	th := governor.DefaultThresholdConfig()
	v.SetDefault("thresholds.memory_warning", th.MemoryWarning)
	v.SetDefault("thresholds.memory_critical", th.MemoryCritical)
	v.SetDefault("thresholds.cpu_warning", th.CPUWarning)
	v.SetDefault("thresholds.cpu_critical", th.CPUCritical)
	v.SetDefault("thresholds.max_worker_count", th.MaxWorkerCount)
	v.SetDefault("thresholds.max_worker_age", th.MaxWorkerAge)
	v.SetDefault("thresholds.max_worker_memory_mb", th.MaxWorkerMemoryMB)
	v.SetDefault("thresholds.max_worker_cpu_seconds", th.MaxWorkerCPUSeconds)
	v.SetDefault("thresholds.worker_memory_ceiling_mb", th.WorkerMemoryCeilMB)
	v.SetDefault("thresholds.worker_floor", th.WorkerFloor)

	v.SetDefault("pool.target_warm", 2)
	v.SetDefault("pool.command", "/usr/bin/chromium")
	v.SetDefault("pool.args", []string{"--headless=new", "--disable-gpu", "--no-first-run", "--remote-debugging-port=0"})
	v.SetDefault("pool.env", []string{})
	v.SetDefault("pool.dir", "")
	v.SetDefault("pool.tag", "--warden-worker")
	v.SetDefault("pool.adopt_external", false)
	v.SetDefault("pool.idle_cpu_percent", 1.0)
	v.SetDefault("pool.idle_ticks", 0)

	v.SetDefault("scheduler.interval", 2*time.Minute)
	v.SetDefault("scheduler.sample_timeout", 10*time.Second)

	v.SetDefault("engine.grace", 5*time.Second)
	v.SetDefault("engine.poll_interval", 100*time.Millisecond)
	v.SetDefault("engine.nice", 10)
	v.SetDefault("engine.remember", 512)

	v.SetDefault("purge.roots", []string{"/tmp"})
	v.SetDefault("purge.patterns", []string{".org.chromium.Chromium.*", "puppeteer_dev_*", "playwright*", "chrome_*"})
	v.SetDefault("purge.min_age", 10*time.Minute)

	v.SetDefault("audit.recent", 100)
	v.SetDefault("audit.breaker_cooldown", 30*time.Second)
	v.SetDefault("audit.file.path", "/var/lib/warden/events.jsonl")
	v.SetDefault("audit.file.max_bytes", 10*1024*1024)
	v.SetDefault("audit.file.max_backups", 3)
	v.SetDefault("audit.redis.enabled", false)
	v.SetDefault("audit.redis.url", "")
	v.SetDefault("audit.redis.stream", "warden:events")
	v.SetDefault("audit.redis.max_len", 10000)
	v.SetDefault("audit.redis.timeout", 2*time.Second)
	v.SetDefault("audit.mail.enabled", false)
	v.SetDefault("audit.mail.addr", "")
	v.SetDefault("audit.mail.username", "")
	v.SetDefault("audit.mail.password", "")
	v.SetDefault("audit.mail.from", "")
	v.SetDefault("audit.mail.to", []string{})
	v.SetDefault("audit.mail.min_interval", 10*time.Minute)

	v.SetDefault("api.listen", "127.0.0.1:9469")
	v.SetDefault("api.tick_rate", 0.2)
	v.SetDefault("api.tick_burst", 1)
}

// Defaults returns the compiled defaults without reading files or the environment.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

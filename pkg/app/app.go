// pkg/app/app.go
//
// Builds a governor from a validated Config.

package app

import (
	"context"
	"os"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/audit"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/metrics"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/pool"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/procruntime"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/remediation"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/sampler"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/statusapi"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Options override the host-facing parts, mainly for tests.
type Options struct {
	Runtime procruntime.Runtime
	Host    sampler.HostMetrics
}

// App is a fully wired governor.
type App struct {
	Config   *config.Config
	Runtime  procruntime.Runtime
	Engine   *remediation.Engine
	Pool     *pool.Manager
	Recorder *audit.Recorder
	Sinks    audit.Fanout
	Metrics  *metrics.Collector
	Loop     *scheduler.Loop
}

// Build wires every component. Optional sinks that cannot be constructed
// fail the build; sinks that fail later are isolated by their breakers.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := otelzap.Ctx(ctx)

	rt := opts.Runtime
	if rt == nil {
		rt = procruntime.NewHostRuntime()
	}
	host := opts.Host
	if host == nil {
		host = sampler.GopsutilHost{}
	}

	engCfg := remediation.Config{
		Thresholds:   cfg.Thresholds,
		Grace:        cfg.Engine.Grace,
		PollInterval: cfg.Engine.PollInterval,
		Nice:         cfg.Engine.Nice,
		Remember:     cfg.Engine.Remember,
	}
	purger := remediation.NewCachePurger(cfg.Purge.Roots, cfg.Purge.Patterns, cfg.Purge.MinAge)
	engine := remediation.NewEngine(rt, purger, engCfg)

	mgr := pool.NewManager(rt, engine, cfg.Thresholds, pool.Config{
		Command:        cfg.Pool.Command,
		Args:           cfg.Pool.Args,
		Env:            cfg.Pool.Env,
		Dir:            cfg.Pool.Dir,
		Tag:            cfg.Pool.Tag,
		AdoptExternal:  cfg.Pool.AdoptExternal,
		IdleCPUPercent: cfg.Pool.IdleCPUPercent,
		IdleTicks:      cfg.Pool.IdleTicks,
	})

	recorder := audit.NewRecorder(cfg.Audit.Recent)
	sinks, err := buildSinks(cfg.Audit, recorder)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	loop := scheduler.New(scheduler.Config{
		Interval:   cfg.Scheduler.Interval,
		TargetWarm: cfg.Pool.TargetWarm,
		Thresholds: cfg.Thresholds,
	}, scheduler.Deps{
		Sampler: sampler.New(host, rt, sampler.WithTimeout(cfg.Scheduler.SampleTimeout)),
		Pool:    mgr,
		Engine:  engine,
		Sink:    sinks,
		Rotator: sinks,
		Metrics: collector,
	})

	logger.Info("Governor assembled",
		zap.String("config", cfg.Source),
		zap.Int("sinks", len(sinks)),
		zap.Int("target_warm", cfg.Pool.TargetWarm),
		zap.Duration("interval", cfg.Scheduler.Interval))

	return &App{
		Config:   cfg,
		Runtime:  rt,
		Engine:   engine,
		Pool:     mgr,
		Recorder: recorder,
		Sinks:    sinks,
		Metrics:  collector,
		Loop:     loop,
	}, nil
}

func buildSinks(cfg config.AuditConfig, recorder *audit.Recorder) (audit.Fanout, error) {
	sinks := audit.Fanout{recorder}
	var errs *multierror.Error

	if cfg.File.Path != "" {
		fs, err := audit.NewFileSink(cfg.File.Path, cfg.File.MaxBytes, cfg.File.MaxBackups)
		if err != nil {
			errs = multierror.Append(errs, cerr.Wrap(err, "audit file sink"))
		} else {
			sinks = append(sinks, fs)
		}
	}

	if cfg.Redis.Enabled {
		rs, err := audit.NewRedisSink(audit.RedisConfig{
			URL:     cfg.Redis.URL,
			Stream:  cfg.Redis.Stream,
			MaxLen:  cfg.Redis.MaxLen,
			Timeout: cfg.Redis.Timeout,
		})
		if err != nil {
			errs = multierror.Append(errs, cerr.Wrap(err, "audit redis sink"))
		} else {
			sinks = append(sinks, audit.NewBreaker("redis", rs, cfg.BreakerCooldown))
		}
	}

	if cfg.Mail.Enabled {
		hostname, _ := os.Hostname()
		ms, err := audit.NewMailSink(audit.MailConfig{
			Addr:        cfg.Mail.Addr,
			Username:    cfg.Mail.Username,
			Password:    cfg.Mail.Password,
			From:        cfg.Mail.From,
			To:          cfg.Mail.To,
			MinInterval: cfg.Mail.MinInterval,
			Hostname:    hostname,
		})
		if err != nil {
			errs = multierror.Append(errs, cerr.Wrap(err, "audit mail sink"))
		} else {
			sinks = append(sinks, audit.NewBreaker("smtp", ms, cfg.BreakerCooldown))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		_ = sinks.Close()
		return nil, err
	}
	return sinks, nil
}

// StatusServer returns the HTTP surface for this governor.
func (a *App) StatusServer() *statusapi.Server {
	return statusapi.New(a.Loop, a.Recorder, a.Metrics.Handler(), statusapi.Config{
		Listen:    a.Config.API.Listen,
		TickRate:  a.Config.API.TickRate,
		TickBurst: a.Config.API.TickBurst,
	})
}

// Close releases sink resources.
func (a *App) Close() error {
	return a.Sinks.Close()
}

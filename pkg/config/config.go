// pkg/config/config.go
//
// Governor configuration: compiled defaults, an optional .env file, a YAML
// file and WARDEN_* environment variables, in increasing precedence. The
// result is validated once and never mutated afterwards.

package config

import (
	"os"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultPath = "/etc/warden/warden.yaml"
	EnvPrefix   = "WARDEN"
)

// Config is the complete governor configuration.
type Config struct {
	Thresholds governor.ThresholdConfig `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	Pool       PoolConfig               `mapstructure:"pool" yaml:"pool" json:"pool"`
	Scheduler  SchedulerConfig          `mapstructure:"scheduler" yaml:"scheduler" json:"scheduler"`
	Engine     EngineConfig             `mapstructure:"engine" yaml:"engine" json:"engine"`
	Purge      PurgeConfig              `mapstructure:"purge" yaml:"purge" json:"purge"`
	Audit      AuditConfig              `mapstructure:"audit" yaml:"audit" json:"audit"`
	API        APIConfig                `mapstructure:"api" yaml:"api" json:"api"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `mapstructure:"-" yaml:"-" json:"-"`
}

type PoolConfig struct {
	TargetWarm     int      `mapstructure:"target_warm" yaml:"target_warm" json:"target_warm" validate:"gte=0"`
	Command        string   `mapstructure:"command" yaml:"command" json:"command" validate:"required"`
	Args           []string `mapstructure:"args" yaml:"args" json:"args"`
	Env            []string `mapstructure:"env" yaml:"env" json:"env"`
	Dir            string   `mapstructure:"dir" yaml:"dir" json:"dir"`
	Tag            string   `mapstructure:"tag" yaml:"tag" json:"tag" validate:"required,startswith=--"`
	AdoptExternal  bool     `mapstructure:"adopt_external" yaml:"adopt_external" json:"adopt_external"`
	IdleCPUPercent float64  `mapstructure:"idle_cpu_percent" yaml:"idle_cpu_percent" json:"idle_cpu_percent" validate:"gte=0,lte=100"`
	IdleTicks      int      `mapstructure:"idle_ticks" yaml:"idle_ticks" json:"idle_ticks" validate:"gte=0"`
}

type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval" json:"interval" validate:"gte=1s"`
	SampleTimeout time.Duration `mapstructure:"sample_timeout" yaml:"sample_timeout" json:"sample_timeout" validate:"gt=0"`
}

type EngineConfig struct {
	Grace        time.Duration `mapstructure:"grace" yaml:"grace" json:"grace" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval" validate:"gt=0,ltefield=Grace"`
	Nice         int           `mapstructure:"nice" yaml:"nice" json:"nice" validate:"gte=1,lte=19"`
	Remember     int           `mapstructure:"remember" yaml:"remember" json:"remember" validate:"gte=1"`
}

type PurgeConfig struct {
	Roots    []string      `mapstructure:"roots" yaml:"roots" json:"roots" validate:"dive,required"`
	Patterns []string      `mapstructure:"patterns" yaml:"patterns" json:"patterns" validate:"dive,required"`
	MinAge   time.Duration `mapstructure:"min_age" yaml:"min_age" json:"min_age" validate:"gte=0"`
}

type AuditConfig struct {
	Recent          int             `mapstructure:"recent" yaml:"recent" json:"recent" validate:"gte=1"`
	BreakerCooldown time.Duration   `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown" json:"breaker_cooldown" validate:"gt=0"`
	File            FileAuditConfig `mapstructure:"file" yaml:"file" json:"file"`
	Redis           RedisConfig     `mapstructure:"redis" yaml:"redis" json:"redis"`
	Mail            MailConfig      `mapstructure:"mail" yaml:"mail" json:"mail"`
}

type FileAuditConfig struct {
	Path       string `mapstructure:"path" yaml:"path" json:"path"`
	MaxBytes   int64  `mapstructure:"max_bytes" yaml:"max_bytes" json:"max_bytes" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups" validate:"gte=0"`
}

type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	URL     string        `mapstructure:"url" yaml:"url" json:"url" validate:"required_if=Enabled true,omitempty,url"`
	Stream  string        `mapstructure:"stream" yaml:"stream" json:"stream"`
	MaxLen  int64         `mapstructure:"max_len" yaml:"max_len" json:"max_len" validate:"gte=0"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout" validate:"gte=0"`
}

type MailConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Addr        string        `mapstructure:"addr" yaml:"addr" json:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
	Username    string        `mapstructure:"username" yaml:"username" json:"username"`
	Password    string        `mapstructure:"password" yaml:"password" json:"password"`
	From        string        `mapstructure:"from" yaml:"from" json:"from" validate:"required_if=Enabled true,omitempty,email"`
	To          []string      `mapstructure:"to" yaml:"to" json:"to" validate:"dive,email"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval" json:"min_interval" validate:"gte=0"`
}

type APIConfig struct {
	Listen    string  `mapstructure:"listen" yaml:"listen" json:"listen"`
	TickRate  float64 `mapstructure:"tick_rate" yaml:"tick_rate" json:"tick_rate" validate:"gt=0"`
	TickBurst int     `mapstructure:"tick_burst" yaml:"tick_burst" json:"tick_burst" validate:"gte=1"`
}

// Load reads .env (when present), the YAML file at path and the environment.
// A missing file at DefaultPath falls back to defaults; a missing file at any
// other explicit path is an error.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if path != "" && !(path == DefaultPath && missing(path)) {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, warden_err.NewValidationError("cannot read config file "+path, err,
				"Check the path passed with --config",
				"Check the file is valid YAML")
		}
		cfg.Source = path
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, warden_err.WrapValidationError(cerr.Wrap(err, "failed to decode config"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return cerr.Wrapf(err, "failed to load %s", path)
	}
	return nil
}

func missing(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Audit.Mail.Password != "" {
		c.Audit.Mail.Password = "********"
	}
	if c.Audit.Redis.URL != "" {
		c.Audit.Redis.URL = redactURL(c.Audit.Redis.URL)
	}
	return c
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	userinfo := raw[scheme+3 : at]
	if i := strings.Index(userinfo, ":"); i >= 0 {
		return raw[:scheme+3] + userinfo[:i] + ":********" + raw[at:]
	}
	return raw
}

// pkg/audit/redis.go

package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	cerr "github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisSink appends records to a Redis stream so the automation engine's
// queue workers can react to them.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// RedisConfig configures a RedisSink.
type RedisConfig struct {
	URL     string
	Stream  string
	MaxLen  int64
	Timeout time.Duration
}

// NewRedisSink parses cfg.URL and returns a sink. It does not dial until the
// first record is written.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, cerr.Wrap(err, "invalid redis url")
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	opts.MaxRetries = 1
	if cfg.Stream == "" {
		cfg.Stream = "warden:events"
	}
	return &RedisSink{
		client: redis.NewClient(opts),
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}, nil
}

func (s *RedisSink) Record(ctx context.Context, ev governor.RemediationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return cerr.Wrap(err, "failed to encode event")
	}
	return s.add(ctx, map[string]interface{}{
		"kind":     "remediation",
		"id":       ev.ID,
		"severity": string(ev.Severity),
		"metric":   string(ev.Metric),
		"action":   string(ev.Action),
		"outcome":  string(ev.Outcome),
		"payload":  string(payload),
	})
}

func (s *RedisSink) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return cerr.Wrap(err, "failed to encode notification")
	}
	return s.add(ctx, map[string]interface{}{
		"kind":     "notification",
		"severity": string(n.Severity),
		"payload":  string(payload),
	})
}

func (s *RedisSink) add(ctx context.Context, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return cerr.Wrapf(err, "failed to append to redis stream %s", s.stream)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

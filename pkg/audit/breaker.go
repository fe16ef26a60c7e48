// pkg/audit/breaker.go

package audit

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/sony/gobreaker"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Breaker guards a remote sink with a circuit breaker so an unreachable
// backend fails fast instead of stretching every tick.
type Breaker struct {
	next Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. The breaker opens after three consecutive failures
// and probes again after cooldown.
func NewBreaker(name string, next Sink, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				otelzap.L().Warn("Audit sink circuit changed state",
					zap.String("sink", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

func (b *Breaker) Record(ctx context.Context, ev governor.RemediationEvent) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Record(ctx, ev)
	})
	return err
}

func (b *Breaker) Notify(ctx context.Context, n Notification) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Notify(ctx, n)
	})
	return err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Close closes the wrapped sink when it holds resources.
func (b *Breaker) Close() error {
	if c, ok := b.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

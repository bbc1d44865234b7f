package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// WithBreaker wraps a relay in a circuit breaker. Per-recipient rejections
// (SendError) are normal outcomes and do not count as breaker failures;
// transport-level errors do. An open breaker surfaces as ErrUnavailable,
// which the batch processor treats as a persistent infrastructure fault.
func WithBreaker(r Relay, name string) Relay {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &breakerRelay{inner: r, cb: cb}
}

type breakerRelay struct {
	inner Relay
	cb    *gobreaker.CircuitBreaker
}

func (b *breakerRelay) Verify(ctx context.Context) error {
	return b.inner.Verify(ctx)
}

func (b *breakerRelay) Send(ctx context.Context, msg *Message) (*Result, error) {
	var rejection *SendError
	out, err := b.cb.Execute(func() (interface{}, error) {
		res, err := b.inner.Send(ctx, msg)
		if err != nil {
			if errors.As(err, &rejection) {
				// A rejection is a successful call from the breaker's
				// point of view; hand it back unchanged.
				return nil, nil
			}
			return nil, err
		}
		return res, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return nil, rejection
	}
	return out.(*Result), nil
}

var _ Relay = (*breakerRelay)(nil)

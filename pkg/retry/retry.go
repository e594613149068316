package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sakashimaa/stock-reservation/pkg/config"
)

type Policy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout bounds each call of op. Zero leaves attempts unbounded.
	AttemptTimeout time.Duration
}

func PolicyFromConfig(cfg config.Consumer) Policy {
	return Policy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

// Permanent stops retrying and returns err unwrapped from Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, ctx is done or
// MaxAttempts calls were made. It returns the last error and the number of calls.
func Do[T any](
	ctx context.Context,
	policy Policy,
	op func(ctx context.Context) (T, error),
	notify func(err error, next time.Duration),
) (T, uint64, error) {
	var attempts uint64

	operation := func() (T, error) {
		attempts++
		if policy.AttemptTimeout <= 0 {
			return op(ctx)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()

		return op(attemptCtx)
	}

	result, err := backoff.RetryNotifyWithData(operation, policy.backOff(ctx), notify)

	return result, attempts, err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.InitialBackoff),
		backoff.WithMaxInterval(p.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}

	return backoff.WithContext(b, ctx)
}

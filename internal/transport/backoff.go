package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConstantBackOff retries after the same interval forever.
func ConstantBackOff(interval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(interval)
	}
}

// ExponentialBackOff grows from initial up to max and never gives up.
func ExponentialBackOff(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

package postgres

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
)

// withRetry wraps a round-trip in a short exponential backoff, surfacing
// BackendUnavailableError if every attempt fails. Cache reads/writes are
// expected to be fast; this only smooths over transient connection drops; a
// Worker retries EvaluationTimeout/LockContention itself at a higher level.
func withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second

	err := backoff.Retry(fn, backoff.WithContext(b, ctx))
	if err != nil {
		return &cachecontract.BackendUnavailableError{Op: op, Cause: err}
	}

	return nil
}

package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
)

// retryTransient retries fn while it fails with a BackendUnavailableError,
// the only error kind spec.md §7 tells a Worker to retry rather than treat
// as a terminal failure of the current attempt.
func retryTransient(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 25 * time.Millisecond
	policy.MaxElapsedTime = 3 * time.Second

	return backoff.Retry(func() error {
		err := fn()

		var unavailable *cachecontract.BackendUnavailableError
		if err != nil && !errors.As(err, &unavailable) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(policy, ctx))
}

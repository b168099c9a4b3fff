// Package retryutil centralizes the bounded-retry policy spec §5
// names, used at three independent call sites (nonce fetch, the L1
// tail poll round, and the settlement submit/receipt calls): "3
// attempts, 2s spacing" for transient transport failures.
package retryutil

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ThreeAttempts runs fn up to three times total (one try, two
// retries), spaced 2s apart, stopping early on success or when ctx is
// done.
func ThreeAttempts(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(2*time.Second), 2), ctx)
	return backoff.Retry(fn, policy)
}

package forward

import (
	"context"
	"fmt"
	"time"
)

// retryPolicy is a generic bounded-exponential-backoff executor. It knows
// nothing about the operation it retries; callers parameterize it with the
// operation and a retryable-error predicate, which keeps the backoff math in
// one place.
type retryPolicy struct {
	initialWait time.Duration
	maxWait     time.Duration
	maxRetry    int
}

// waitFor returns the wait before the nth retry, where n starts at 1:
// min(initialWait * 1.5^(n-1), maxWait).
func (p retryPolicy) waitFor(n int) time.Duration {
	w := float64(p.initialWait)
	for i := 1; i < n; i++ {
		w *= retryIncrementRate
		if w >= float64(p.maxWait) {
			return p.maxWait
		}
	}
	if w >= float64(p.maxWait) {
		return p.maxWait
	}
	return time.Duration(w)
}

// run executes op up to maxRetry+1 times in total, waiting before each retry
// but never before the first attempt. The first nil result stops the loop.
// Errors the predicate rejects propagate immediately; retrying a
// deterministic failure cannot change its outcome. Once attempts are
// exhausted the last error is returned wrapped in ErrRetriesExhausted.
//
// onRetry, if non-nil, observes every scheduled retry with its ordinal, the
// wait about to be taken, and the error that caused it.
func (p retryPolicy) run(
	ctx context.Context,
	op func() error,
	isRetryable func(error) bool,
	onRetry func(n int, wait time.Duration, cause error),
) error {
	var err error
	for retries := 0; ; retries++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if retries >= p.maxRetry {
			break
		}

		n := retries + 1
		wait := p.waitFor(n)
		if onRetry != nil {
			onRetry(n, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: last error: %w", ErrRetriesExhausted, err)
}

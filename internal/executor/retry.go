package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jsprague84/updatectl/internal/log"
)

type retrySchedule struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// runWithRetry retries op on transient failures with exponential backoff.
// maxAttempts counts the initial attempt, so 3 means at most 2 retries.
func runWithRetry(ctx context.Context, logger *log.Logger, host string, sched retrySchedule, op func() (string, error)) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = sched.initialDelay
	policy.MaxInterval = sched.maxDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotifyWithData(func() (string, error) {
		attempt++
		out, err := op()
		if err != nil && !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(sched.maxAttempts-1)), ctx), func(err error, next time.Duration) {
		logger.Warn("attempt %d/%d failed for %s, retrying in %s: %v", attempt, sched.maxAttempts, host, next.Round(time.Millisecond), err)
	})
}

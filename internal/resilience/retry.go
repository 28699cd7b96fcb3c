// Package resilience holds storage-facing resilience primitives: bounded
// retry with jittered backoff and an adaptive circuit breaker, adapted
// from libs/go/core/resilience and re-pointed at storage-connection
// failures (spec.md §4.8) instead of workflow-task failures.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// Retry executes fn with exponential backoff (base delay) plus full
// jitter, up to attempts times. retryable, if non-nil, is consulted after
// each failure: when it returns false the loop stops immediately instead
// of exhausting the remaining attempts, so a caller can retry only a
// class of error (e.g. storage deadlocks, spec.md §4.5/§4.8: "retried up
// to a small fixed count, e.g. 5") and surface everything else at once. A
// nil retryable retries on any error, as before.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}
	cur := delay
	var lastErr error
	meter := otel.Meter("spider")
	attemptCounter, _ := meter.Int64Counter("spider_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("spider_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("spider_resilience_retry_fail_total")
	for i := 0; i < attempts; i++ {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err == nil {
			successCounter.Add(ctx, 1)
			return v, nil
		}
		lastErr = err
		if i == attempts-1 || (retryable != nil && !retryable(err)) {
			break
		}
		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			failCounter.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	failCounter.Add(ctx, 1)
	return zero, lastErr
}

// Package resilience provides generic retry and circuit-breaker
// primitives. No other package in this module imports it; the timer
// wheel's persistence retry uses cenkalti/backoff directly.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Retry runs fn with exponential backoff and full jitter, up to
// attempts times. Jitter is a random duration in [0, currentDelay];
// delay doubles each attempt and is capped at 60s so a misconfigured
// caller can't wedge a case indefinitely.
func Retry[T any](ctx context.Context, inst Counters, attempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}
	cur := delay
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		inst.add(ctx, inst.Attempts, 1)
		if err == nil {
			inst.add(ctx, inst.Success, 1)
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
		sleep := time.Duration(rand.Int63n(int64(cur) + 1))
		select {
		case <-ctx.Done():
			inst.add(ctx, inst.Fail, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
		cur *= 2
	}
	inst.add(ctx, inst.Fail, 1)
	return zero, lastErr
}

// Counters is the optional metric set a Retry call reports through;
// zero value is safe to use (metrics become no-ops).
type Counters struct {
	Attempts metric.Int64Counter
	Success  metric.Int64Counter
	Fail     metric.Int64Counter
}

func (c Counters) add(ctx context.Context, counter metric.Int64Counter, n int64) {
	if counter == nil {
		return
	}
	counter.Add(ctx, n)
}

// Package resilience implements the retry, circuit-breaker, and
// rate-limiting primitives (§4.10). The chain RPC pool
// (internal/chain/rpcpool) uses the retry policy and the breakers.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy is exponential backoff with jitter, bounded by MaxAttempts.
// Defaults match §4.1: initial 500ms, factor 2, max 5 attempts, jitter ±20%.
type RetryPolicy struct {
	Initial     time.Duration
	Factor      float64
	MaxAttempts int
	JitterFrac  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:     500 * time.Millisecond,
		Factor:      2,
		MaxAttempts: 5,
		JitterFrac:  0.2,
	}
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) bool

// Do runs fn, retrying on transient errors (per classify) until MaxAttempts
// is reached or ctx is cancelled. It returns the last error on exhaustion.
func (p RetryPolicy) Do(ctx context.Context, classify Classifier, fn func() error) error {
	delay := p.Initial
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		jittered := applyJitter(delay, p.JitterFrac)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
	return lastErr
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	spread := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * spread
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

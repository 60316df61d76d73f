// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrRetryExhausted is returned (wrapped) when every attempt failed.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// Sleeper waits for d or until ctx is done. Tests inject a recording sleeper.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryPolicy parameterizes every polling loop in drydock.
//
// # Description
//
// A zero Multiplier (or 1) gives a fixed interval, which is what readiness
// gates use (30 attempts × 10s by default). Backoff loops set Multiplier > 1
// and MaxInterval to cap growth.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls to fn. Must be >= 1.
	MaxAttempts int

	// Interval is the wait before the second attempt.
	Interval time.Duration

	// MaxInterval caps exponential growth. Zero means no cap.
	MaxInterval time.Duration

	// Multiplier grows the interval after each failed attempt.
	Multiplier float64

	// Jitter randomizes each wait by ±Jitter (0.1 = ±10%).
	Jitter float64

	// Sleep overrides the context-aware sleeper.
	Sleep Sleeper
}

// FixedPolicy returns a policy with a constant interval.
func FixedPolicy(attempts int, interval time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Interval: interval, Multiplier: 1}
}

// BackoffPolicy returns a capped exponential policy.
func BackoffPolicy(attempts int, initial, maxInterval time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Interval:    initial,
		MaxInterval: maxInterval,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// permanentError stops the retry loop immediately.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the inner error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, the attempts
// run out or ctx is done.
//
// # Inputs
//
//   - ctx: Cancellation. Checked before every attempt and during every wait.
//   - policy: Attempts and timing.
//   - fn: Receives the 1-based attempt number.
//
// # Outputs
//
//   - error: nil on success; ctx.Err() wrapped on cancellation; the
//     Permanent error's inner error; otherwise ErrRetryExhausted wrapping the
//     last failure.
//
// # Example
//
//	err := util.Retry(ctx, util.FixedPolicy(30, 10*time.Second), func(ctx context.Context, n int) error {
//	    return prober.Probe(ctx, instance, probe)
//	})
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	interval := policy.Interval
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("after %d attempts: %w (last error: %v)", attempt-1, err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		if err := sleep(ctx, applyJitter(interval, policy.Jitter)); err != nil {
			return fmt.Errorf("after %d attempts: %w (last error: %v)", attempt, err, lastErr)
		}
		interval = nextInterval(interval, policy.MaxInterval, policy.Multiplier)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempts, lastErr)
}

// SleepWithContext sleeps for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// applyJitter multiplies interval by a factor in [1-jitter, 1+jitter].
// Uses math/rand, not crypto/rand.
func applyJitter(interval time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return interval
	}
	factor := 1.0 + (rand.Float64()*2-1)*jitter
	return time.Duration(float64(interval) * factor)
}

// nextInterval multiplies current by multiplier, capped at max when set.
func nextInterval(current, max time.Duration, multiplier float64) time.Duration {
	if multiplier <= 1 {
		return current
	}
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		return max
	}
	return next
}

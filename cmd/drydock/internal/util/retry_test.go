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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestRetry_SucceedsEventually(t *testing.T) {
	rec := &recordingSleeper{}
	policy := FixedPolicy(5, 10*time.Second)
	policy.Sleep = rec.sleep

	calls := 0
	err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not ready")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, rec.waits)
}

func TestRetry_ExhaustedAfterThirtyAttempts(t *testing.T) {
	rec := &recordingSleeper{}
	policy := FixedPolicy(30, 10*time.Second)
	policy.Sleep = rec.sleep

	calls := 0
	err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 30, calls)
	assert.Len(t, rec.waits, 29)

	var total time.Duration
	for _, w := range rec.waits {
		total += w
	}
	assert.Equal(t, 290*time.Second, total)
}

func TestRetry_BackoffIsCapped(t *testing.T) {
	rec := &recordingSleeper{}
	policy := RetryPolicy{
		MaxAttempts: 6,
		Interval:    time.Second,
		MaxInterval: 5 * time.Second,
		Multiplier:  2,
		Sleep:       rec.sleep,
	}

	_ = Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
		return errors.New("no")
	})

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, rec.waits)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	base := errors.New("bad credentials")
	calls := 0
	err := Retry(context.Background(), FixedPolicy(10, time.Millisecond), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(base)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, base)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := FixedPolicy(10, time.Second)
	policy.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("not yet")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
}

func TestSleepWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepWithContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepWithContext(context.Background(), time.Millisecond))
}

func TestApplyJitter_Bounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := applyJitter(10*time.Second, 0.1)
		assert.GreaterOrEqual(t, d, 9*time.Second)
		assert.LessOrEqual(t, d, 11*time.Second)
	}
	assert.Equal(t, time.Second, applyJitter(time.Second, 0))
}

func TestEnforceTimeouts(t *testing.T) {
	assert.Equal(t, MinProbeTimeout, EnforceMinTimeout(0, MinProbeTimeout))
	assert.Equal(t, 2*time.Second, EnforceMinTimeout(2*time.Second, MinProbeTimeout))
	assert.Equal(t, DefaultProbeTimeout, EnforceDefaultTimeout(-1, DefaultProbeTimeout))
	assert.Equal(t, time.Second, EnforceDefaultTimeout(time.Second, DefaultProbeTimeout))
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan SafeGoResult, 1)
	SafeGo(func() { panic("boom") }, func(r SafeGoResult) { done <- r })

	select {
	case r := <-done:
		assert.Equal(t, "boom", r.PanicValue)
		assert.NotEmpty(t, r.Stack)
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

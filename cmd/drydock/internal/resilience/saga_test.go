// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func quietConfig() SagaConfig {
	return SagaConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// =============================================================================
// NewSaga Tests
// =============================================================================

func TestNewSaga_Defaults(t *testing.T) {
	saga := NewSaga(SagaConfig{})
	if saga.config.StepTimeout != 60*time.Second {
		t.Errorf("StepTimeout = %v, want 60s", saga.config.StepTimeout)
	}
	if saga.config.Recovery == nil || saga.config.Logger == nil {
		t.Error("Recovery and Logger should default")
	}
	if saga.StepCount() != 0 {
		t.Error("new saga should be empty")
	}

	def := DefaultSagaConfig()
	if def.StepTimeout <= 0 || def.Logger == nil {
		t.Error("DefaultSagaConfig should set timeout and logger")
	}
}

// =============================================================================
// Execute Tests
// =============================================================================

func TestSaga_AllStepsSucceed(t *testing.T) {
	var order []string
	saga := NewSaga(quietConfig())
	for _, name := range []string{"anchor", "tier-datastore", "tier-application"} {
		name := name
		saga.AddStep(SagaStep{
			Name:       name,
			Execute:    func(ctx context.Context) error { order = append(order, name); return nil },
			Compensate: func(ctx context.Context) error { order = append(order, "undo-"+name); return nil },
		})
	}

	if err := saga.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := strings.Join(order, ","); got != "anchor,tier-datastore,tier-application" {
		t.Errorf("order = %s", got)
	}
	if len(saga.CompletedSteps()) != 3 {
		t.Errorf("CompletedSteps = %v", saga.CompletedSteps())
	}
}

func TestSaga_CompensatesInReverse(t *testing.T) {
	var order []string
	boom := errors.New("readiness exhausted")

	saga := NewSaga(quietConfig())
	saga.AddStep(SagaStep{
		Name:       "anchor",
		Execute:    func(ctx context.Context) error { return nil },
		Compensate: func(ctx context.Context) error { order = append(order, "rollback"); return nil },
	})
	saga.AddStep(SagaStep{
		Name:       "tier-1",
		Execute:    func(ctx context.Context) error { return nil },
		Compensate: func(ctx context.Context) error { order = append(order, "discard-1"); return nil },
	})
	saga.AddStep(SagaStep{Name: "no-compensation", Execute: func(ctx context.Context) error { return nil }})
	saga.AddStep(SagaStep{
		Name:       "tier-2",
		Execute:    func(ctx context.Context) error { return boom },
		Compensate: func(ctx context.Context) error { order = append(order, "never"); return nil },
	})

	err := saga.Execute(context.Background())
	var sagaErr *SagaError
	if !errors.As(err, &sagaErr) {
		t.Fatalf("expected *SagaError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("step error should be in the chain")
	}
	if sagaErr.FailedStep != "tier-2" || !sagaErr.Compensated() {
		t.Errorf("unexpected saga error: %+v", sagaErr)
	}
	if got := strings.Join(order, ","); got != "discard-1,rollback" {
		t.Errorf("compensation order = %s", got)
	}
	if got := strings.Join(sagaErr.Compensations, ","); got != "tier-1,anchor" {
		t.Errorf("Compensations = %s", got)
	}
}

func TestSaga_CompensationFailureIsReported(t *testing.T) {
	restoreErr := errors.New("datastore never became ready")
	var calls int

	saga := NewSaga(quietConfig())
	saga.AddStep(SagaStep{
		Name:       "anchor",
		Execute:    func(ctx context.Context) error { return nil },
		Compensate: func(ctx context.Context) error { calls++; return restoreErr },
	})
	saga.AddStep(SagaStep{
		Name:       "tier-1",
		Execute:    func(ctx context.Context) error { return nil },
		Compensate: func(ctx context.Context) error { calls++; return errors.New("candidate stuck") },
	})
	saga.AddStep(SagaStep{Name: "verify", Execute: func(ctx context.Context) error { return errors.New("critical") }})

	err := saga.Execute(context.Background())
	var sagaErr *SagaError
	if !errors.As(err, &sagaErr) {
		t.Fatalf("expected *SagaError, got %v", err)
	}
	if calls != 2 {
		t.Errorf("both compensations should run, got %d", calls)
	}
	if sagaErr.Compensated() || len(sagaErr.CompensationErrors) != 2 {
		t.Errorf("CompensationErrors = %+v", sagaErr.CompensationErrors)
	}
	if !errors.Is(err, restoreErr) {
		t.Error("compensation errors should be in the chain")
	}
	if !strings.Contains(err.Error(), "compensation failed") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSaga_CancelledContextStillCompensates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var compensated bool

	saga := NewSaga(quietConfig())
	saga.AddStep(SagaStep{
		Name:       "anchor",
		Execute:    func(ctx context.Context) error { cancel(); return nil },
		Compensate: func(ctx context.Context) error { compensated = ctx.Err() == nil; return nil },
	})
	saga.AddStep(SagaStep{Name: "tier-1", Execute: func(ctx context.Context) error { t.Error("must not run"); return nil }})

	err := saga.Execute(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !compensated {
		t.Error("compensation should run on the live recovery context")
	}
}

func TestSaga_CancelledRecoverySkipsCompensation(t *testing.T) {
	recovery, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := quietConfig()
	cfg.Recovery = recovery

	saga := NewSaga(cfg)
	saga.AddStep(SagaStep{
		Name:       "anchor",
		Execute:    func(ctx context.Context) error { return nil },
		Compensate: func(ctx context.Context) error { t.Error("must not run"); return nil },
	})
	saga.AddStep(SagaStep{Name: "tier-1", Execute: func(ctx context.Context) error { return errors.New("x") }})

	err := saga.Execute(context.Background())
	var sagaErr *SagaError
	if !errors.As(err, &sagaErr) || sagaErr.Compensated() {
		t.Fatalf("expected an uncompensated saga error, got %v", err)
	}
}

func TestSaga_StepTimeout(t *testing.T) {
	saga := NewSaga(quietConfig())
	saga.AddStep(SagaStep{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Execute: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	err := saga.Execute(context.Background())
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("deadline should be in the chain")
	}
}

func TestSaga_Callbacks(t *testing.T) {
	var failed, compensated []string
	cfg := quietConfig()
	cfg.OnStepFail = func(step SagaStep, err error) { failed = append(failed, step.Name) }
	cfg.OnCompensate = func(step SagaStep, err error) { compensated = append(compensated, step.Name) }

	saga := NewSaga(cfg)
	saga.AddStep(SagaStep{Name: "a", Execute: func(context.Context) error { return nil }, Compensate: func(context.Context) error { return nil }})
	saga.AddStep(SagaStep{Name: "b", Execute: func(context.Context) error { return errors.New("x") }})
	_ = saga.Execute(context.Background())

	if strings.Join(failed, ",") != "b" || strings.Join(compensated, ",") != "a" {
		t.Errorf("failed=%v compensated=%v", failed, compensated)
	}
}

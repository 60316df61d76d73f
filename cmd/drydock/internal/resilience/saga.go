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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Saga Step
// =============================================================================

// SagaStep is one forward action with its compensation.
//
// # Description
//
// Execute performs the forward action; Compensate undoes it when a later step
// fails. Compensate may be nil. A failing step is not compensated: it must
// clean up its own partial work before returning.
type SagaStep struct {
	// Name identifies the step in logs and errors.
	Name string

	// Execute performs the forward action.
	Execute func(ctx context.Context) error

	// Compensate undoes Execute. Should be idempotent.
	Compensate func(ctx context.Context) error

	// Timeout overrides SagaConfig.StepTimeout. Zero uses the default.
	Timeout time.Duration
}

// =============================================================================
// Saga Configuration
// =============================================================================

// SagaConfig configures saga behavior.
type SagaConfig struct {
	// StepTimeout bounds each step. Default: 60 seconds.
	StepTimeout time.Duration

	// Recovery is the parent context for compensations. It is separate from
	// the Execute context so a cancelled operation can still roll back.
	// Default: context.Background().
	Recovery context.Context

	// Logger receives step and compensation events. Default: slog.Default().
	Logger *slog.Logger

	// OnStepFail is called when a step fails, before compensation starts.
	OnStepFail func(step SagaStep, err error)

	// OnCompensate is called after each compensation with its error.
	OnCompensate func(step SagaStep, err error)
}

// DefaultSagaConfig returns a 60s step timeout and the default logger.
func DefaultSagaConfig() SagaConfig {
	return SagaConfig{
		StepTimeout: 60 * time.Second,
		Logger:      slog.Default(),
	}
}

// =============================================================================
// Saga Error
// =============================================================================

// CompensationError records a failed compensation.
type CompensationError struct {
	StepName string
	Err      error
}

// SagaError is returned by Execute when a step fails.
type SagaError struct {
	// FailedStep is the step whose Execute failed.
	FailedStep string

	// Err is the step error.
	Err error

	// Compensations lists the steps that were compensated, in order.
	Compensations []string

	// CompensationErrors lists compensations that failed.
	CompensationErrors []CompensationError
}

// Error implements error.
func (e *SagaError) Error() string {
	msg := fmt.Sprintf("step %q failed: %v", e.FailedStep, e.Err)
	if len(e.CompensationErrors) > 0 {
		parts := make([]string, len(e.CompensationErrors))
		for i, ce := range e.CompensationErrors {
			parts[i] = fmt.Sprintf("%s: %v", ce.StepName, ce.Err)
		}
		msg += "; compensation failed: " + strings.Join(parts, "; ")
	}
	return msg
}

// Unwrap returns the step error and every compensation error.
func (e *SagaError) Unwrap() []error {
	out := []error{e.Err}
	for _, ce := range e.CompensationErrors {
		out = append(out, ce.Err)
	}
	return out
}

// Compensated reports whether every compensation succeeded.
func (e *SagaError) Compensated() bool {
	return len(e.CompensationErrors) == 0
}

// =============================================================================
// Saga
// =============================================================================

// Saga runs steps in order and compensates completed steps on failure.
type Saga struct {
	config    SagaConfig
	steps     []SagaStep
	completed []SagaStep
	mu        sync.Mutex
}

// NewSaga creates an empty saga. Zero config values get defaults.
func NewSaga(config SagaConfig) *Saga {
	if config.StepTimeout <= 0 {
		config.StepTimeout = 60 * time.Second
	}
	if config.Recovery == nil {
		config.Recovery = context.Background()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Saga{config: config}
}

// AddStep appends a step.
func (s *Saga) AddStep(step SagaStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Execute runs every step.
//
// # Description
//
// Steps run sequentially in the calling goroutine under a per-step timeout
// derived from ctx. On the first failure (including ctx cancellation between
// steps) the completed steps are compensated in reverse order on the
// Recovery context, and a *SagaError is returned.
//
// # Outputs
//
//   - error: nil when every step succeeded, otherwise *SagaError.
func (s *Saga) Execute(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = s.completed[:0]
	for _, step := range s.steps {
		err := ctx.Err()
		if err == nil {
			err = s.executeStep(ctx, step)
		}
		if err != nil {
			if s.config.OnStepFail != nil {
				s.config.OnStepFail(step, err)
			}
			sagaErr := &SagaError{FailedStep: step.Name, Err: err}
			s.compensate(sagaErr)
			return sagaErr
		}
		s.completed = append(s.completed, step)
	}
	return nil
}

func (s *Saga) executeStep(ctx context.Context, step SagaStep) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = s.config.StepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.config.Logger.Debug("executing step", "step", step.Name)
	start := time.Now()
	err := step.Execute(stepCtx)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("step timed out after %v: %w", timeout, err)
		}
		s.config.Logger.Error("step failed", "step", step.Name, "duration", duration, "error", err)
		return err
	}
	s.config.Logger.Debug("step completed", "step", step.Name, "duration", duration)
	return nil
}

// compensate runs compensations of completed steps in reverse order. A failed
// compensation is recorded and the remaining ones still run.
func (s *Saga) compensate(sagaErr *SagaError) {
	if len(s.completed) == 0 {
		return
	}
	s.config.Logger.Warn("compensating completed steps", "count", len(s.completed), "failed_step", sagaErr.FailedStep)

	for i := len(s.completed) - 1; i >= 0; i-- {
		step := s.completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := s.config.Recovery.Err(); err != nil {
			sagaErr.CompensationErrors = append(sagaErr.CompensationErrors,
				CompensationError{StepName: step.Name, Err: fmt.Errorf("recovery cancelled: %w", err)})
			continue
		}

		err := step.Compensate(s.config.Recovery)
		sagaErr.Compensations = append(sagaErr.Compensations, step.Name)
		if err != nil {
			s.config.Logger.Error("compensation failed", "step", step.Name, "error", err)
			sagaErr.CompensationErrors = append(sagaErr.CompensationErrors, CompensationError{StepName: step.Name, Err: err})
		} else {
			s.config.Logger.Info("compensated step", "step", step.Name)
		}
		if s.config.OnCompensate != nil {
			s.config.OnCompensate(step, err)
		}
	}
}

// CompletedSteps returns the names of steps that completed in the last
// Execute.
func (s *Saga) CompletedSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.completed))
	for i, step := range s.completed {
		names[i] = step.Name
	}
	return names
}

// StepCount returns the number of steps added.
func (s *Saga) StepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

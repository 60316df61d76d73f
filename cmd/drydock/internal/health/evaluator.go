// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// Observation is what a check measured.
type Observation struct {
	// Value is the numeric observation (percent, days, count).
	Value float64

	// IsBool marks a pass/fail observation; OK carries the result.
	IsBool bool
	OK     bool

	// Message is a short human-readable detail.
	Message string
}

// Check is a single read-only health check.
type Check struct {
	Name     string
	Category string

	// Timeout bounds Observe. Zero uses util.DefaultProbeTimeout.
	Timeout time.Duration

	// Thresholds classify numeric observations.
	Thresholds Thresholds

	// FailureStatus classifies a failed boolean observation. Zero value is
	// OK, so constructors set it (CRITICAL by default).
	FailureStatus Status

	// Observe performs the measurement. It must not mutate state.
	Observe func(ctx context.Context) (Observation, error)
}

// Evaluator runs checks and aggregates their results.
type Evaluator struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger, now: time.Now}
}

// Evaluate runs every check concurrently and aggregates the results.
//
// # Description
//
// Each check gets its own timeout. The evaluator waits for the observation
// or the timeout, whichever is first, so a check that ignores its context
// still cannot hold the report past its timeout. Errors and timeouts are
// CRITICAL for that check only. Results keep the order of checks.
//
// # Inputs
//
//   - ctx: Parent context. Cancelling it makes every pending check CRITICAL.
//   - checks: Checks to run.
//
// # Outputs
//
//   - Report: Every result plus the worst status.
func (e *Evaluator) Evaluate(ctx context.Context, checks []Check) Report {
	ctx, span := otel.Tracer("drydock/health").Start(ctx, "health.Evaluate")
	defer span.End()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			results[i] = e.run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	report := NewReport(results, e.now().UTC())
	span.SetAttributes(
		attribute.String("health.status", report.Status.String()),
		attribute.Int("health.checks", len(checks)),
	)
	if report.Status == StatusCritical {
		span.SetStatus(codes.Error, "critical health")
	}
	e.logger.Debug("health evaluated", "status", report.Status.String(), "checks", len(checks))
	return report
}

type observed struct {
	obs Observation
	err error
}

func (e *Evaluator) run(ctx context.Context, check Check) Result {
	timeout := util.EnforceDefaultTimeout(check.Timeout, util.DefaultProbeTimeout)
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.now()
	done := make(chan observed, 1)
	go func() {
		defer util.RecoverPanic(func(r util.SafeGoResult) {
			done <- observed{err: fmt.Errorf("check panicked: %v", r.PanicValue)}
		})()
		obs, err := check.Observe(checkCtx)
		done <- observed{obs: obs, err: err}
	}()

	result := Result{Name: check.Name, Category: check.Category}
	var out observed
	select {
	case out = <-done:
	case <-checkCtx.Done():
		out = observed{err: fmt.Errorf("timed out after %s", timeout)}
	}
	result.Duration = e.now().Sub(start)

	if out.err != nil {
		result.Status = StatusCritical
		result.Message = out.err.Error()
		e.logger.Warn("health check failed", "check", check.Name, "error", out.err)
		return result
	}

	result.Message = out.obs.Message
	if out.obs.IsBool {
		result.Boolean = out.obs.OK
		if out.obs.OK {
			result.Value = 1
		}
		failure := check.FailureStatus
		if failure == StatusOK {
			failure = StatusCritical
		}
		result.Status = ClassifyBool(out.obs.OK, failure)
		return result
	}

	th := check.Thresholds
	result.Value = out.obs.Value
	result.Thresholds = &th
	result.Status = th.Classify(out.obs.Value)
	return result
}

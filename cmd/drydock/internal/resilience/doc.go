// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides the compensating saga that structures
// deployments.
//
// # Overview
//
// A rollout is a sequence of steps (obtain anchor, roll out tier 1, tier 2,
// ..., verify). Each step may register a compensation. When a step fails, the
// completed steps are compensated in reverse order, so tier compensations
// (discarding candidates) run before the anchor's compensation (restoring the
// backup versions).
//
// # Example
//
//	saga := resilience.NewSaga(resilience.SagaConfig{Logger: logger, Recovery: recoveryCtx})
//	saga.AddStep(resilience.SagaStep{
//	    Name:       "anchor",
//	    Execute:    obtainAnchor,
//	    Compensate: rollbackToAnchor,
//	})
//	if err := saga.Execute(ctx); err != nil {
//	    var sagaErr *resilience.SagaError
//	    if errors.As(err, &sagaErr) && sagaErr.Compensated() { ... }
//	}
//
// # Thread Safety
//
// A Saga serializes Execute calls.
package resilience

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

import "time"

// =============================================================================
// Constants
// =============================================================================

// Timeout floors and defaults. A zero timeout from configuration must never
// turn into an unbounded wait.
const (
	// MinProbeTimeout is the floor for a single readiness probe or health check.
	MinProbeTimeout = 500 * time.Millisecond

	// DefaultProbeTimeout applies when a probe or check has no timeout.
	DefaultProbeTimeout = 5 * time.Second

	// MinExecTimeout is the floor for commands run inside a service.
	MinExecTimeout = 5 * time.Second

	// DefaultExecTimeout bounds pg_dump, psql replay and redis-cli calls.
	DefaultExecTimeout = 30 * time.Minute

	// DefaultStopTimeout is the grace given to a service before it is killed.
	DefaultStopTimeout = 30 * time.Second

	// DefaultGracePeriod bounds best-effort rollback after an interrupt.
	DefaultGracePeriod = 5 * time.Minute
)

// EnforceMinTimeout returns at least the minimum timeout.
//
// # Inputs
//
//   - requested: The timeout value requested by the caller
//   - minimum: The absolute minimum acceptable timeout
//
// # Outputs
//
//   - time.Duration: requested if it is at least minimum, otherwise minimum
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns defaultVal when requested is zero or negative.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}

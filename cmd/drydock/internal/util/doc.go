// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util provides the leaf utilities shared by every drydock component.
//
// # Overview
//
//   - Error taxonomy: [OpError] kinds and the [ExitCode] mapping used by the CLI
//   - Command errors: [CommandError] for failed host or in-service commands
//   - Retry: [Retry] with [RetryPolicy], the only polling loop in drydock
//   - Timeouts: floors and defaults so no wait is unbounded
//   - Goroutine safety: [SafeGo] and [RecoverPanic]
//
// This package depends only on the standard library.
package util

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runtime abstracts the service runtime that hosts the managed
// system.
//
// [Controller] is the only way drydock touches containers. [Docker] talks to
// the Docker Engine API; [FakeController] is an in-memory implementation with
// failure injection and an operation log, used by every package test that
// drives deployments, restores or maintenance.
//
// # Naming
//
// Primary instances are named "<project>-<service>", candidates
// "<project>-<service>-next". Every container carries the labels
// drydock.project and drydock.service; the name alone tells the roles apart.
package runtime

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deploy implements the DeploymentCoordinator: an ordered rollout of
// a topology.Plan with readiness gates, a post-deploy health evaluation and
// automatic rollback.
//
// # Rollout
//
// A run is a resilience.Saga:
//
//	anchor      obtain the pre-flight backup (compensation: roll back)
//	stop        full-restart only: stop changed services, highest rank first
//	tier.<name> one step per rank, services in parallel (compensation:
//	            discard leftover candidate instances)
//	verify      full-system health evaluation
//
// Tiers are strict barriers: a tier step returns only when every service in
// it is Ready, Skipped or has failed. Any failure after the anchor step
// compensates in reverse, so candidates are removed before the rollback
// returns the touched services to the anchor's versions.
//
// # Per-Service States
//
// Rolling:      Pending → StartingNewInstance → ProbingReadiness → Ready →
// DrainingOldInstance → Done, or ProbingReadiness → NotReady →
// RollbackTriggered.
//
// Full restart: Pending → Stopping → Starting → ProbingReadiness → Done, or
// ProbingReadiness → NotReady → RollbackTriggered.
//
// Stateful and exclusive services are restarted in place (the full-restart
// path) even under the rolling strategy. Services already running their
// target image are Skipped unless Options.Force is set.
package deploy

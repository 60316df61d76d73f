// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health evaluates the managed system and gates readiness.
//
// # Overview
//
//   - [Thresholds] and [Classify]: numeric and boolean observations to
//     OK / WARNING / CRITICAL, with inverted thresholds for "higher is better"
//     quantities such as certificate days remaining
//   - [Evaluator]: runs [Check]s concurrently, each under its own timeout, and
//     aggregates them into a [Report] where the worst status wins
//   - [Prober] and [Gate]: readiness probes for a single instance, polled
//     through util.Retry (30 × 10s by default)
//   - [MetricsExporter], [InfluxExporter] and [Server]: Prometheus textfile,
//     InfluxDB points and the optional /healthz + /metrics endpoint
//
// Evaluate never mutates anything. A check that errors or times out is
// CRITICAL for that check only; the others still report.
package health

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry tracing and metrics for drydock runs.
//
// Every mutating command opens a root span ("drydock.deploy", "drydock.restore",
// ...) and the coordinator and restore engine add one child span per step, so
// a failed rollout can be read back step by step from the trace file.
//
// # Trace Exporters
//
//   - file: JSON spans appended to Config.TraceFile (default for the CLI)
//   - stdout: pretty-printed spans on stdout
//   - otlp: OTLP/gRPC to Config.OTLPEndpoint
//   - none: no-op provider
//
// # Metric Exporters
//
//   - prometheus: the OTel Prometheus bridge registered on Config.Registerer,
//     which the CLI points at the health exporter registry so operation metrics
//     land in the same node_exporter textfile and /metrics endpoint
//   - stdout: periodic pretty-printed dumps
//   - none: no-op provider
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
//	ctx, span := telemetry.StartSpan(ctx, "drydock/deploy", "tier.application")
//	defer span.End()
package telemetry

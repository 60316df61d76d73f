// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
)

// MeterName is the instrumentation scope of drydock's own instruments.
const MeterName = "github.com/jinterlante1206/drydock"

// Metrics contains the instruments recorded for every run.
//
// Description:
//
//	All instruments use the "drydock_" prefix. Through the Prometheus bridge
//	they are exported with the health gauges, so alerting can fire on a
//	rollback without parsing logs.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// OperationsTotal counts finished operations by kind and outcome.
	OperationsTotal metric.Int64Counter

	// OperationDuration records operation wall time in seconds.
	OperationDuration metric.Float64Histogram

	// RollbacksTotal counts rollback triggers by reason.
	RollbacksTotal metric.Int64Counter

	// ReadinessAttempts records how many probe attempts a service needed.
	ReadinessAttempts metric.Int64Histogram

	// BackupBytes records the payload size of each created backup.
	BackupBytes metric.Int64Histogram
}

// NewMetrics creates all instruments on meter.
//
// Inputs:
//
//	meter - The meter to register instruments with.
//
// Outputs:
//
//	*Metrics - The instruments.
//	error - Non-nil if an instrument could not be created.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	m.OperationsTotal, err = meter.Int64Counter(
		"drydock_operations_total",
		metric.WithDescription("Finished operations by kind and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operations_total: %w", err)
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"drydock_operation_duration_seconds",
		metric.WithDescription("Operation wall time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, fmt.Errorf("create operation_duration: %w", err)
	}

	m.RollbacksTotal, err = meter.Int64Counter(
		"drydock_rollbacks_total",
		metric.WithDescription("Rollback triggers by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rollbacks_total: %w", err)
	}

	m.ReadinessAttempts, err = meter.Int64Histogram(
		"drydock_readiness_attempts",
		metric.WithDescription("Probe attempts until a service became ready"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10, 20, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create readiness_attempts: %w", err)
	}

	m.BackupBytes, err = meter.Int64Histogram(
		"drydock_backup_bytes",
		metric.WithDescription("Backup payload size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create backup_bytes: %w", err)
	}

	return &m, nil
}

// NewGlobalMetrics creates the instruments on the global MeterProvider.
// Before Init (or with the "none" exporter) the instruments are no-ops.
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// RecordOperation records a finished OperationRecord. Nil-safe.
func (m *Metrics) RecordOperation(ctx context.Context, rec *ops.Record) {
	if m == nil || rec == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", string(rec.Kind)),
		attribute.String("outcome", string(rec.Outcome)),
	)
	m.OperationsTotal.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, rec.Duration().Seconds(), attrs)
}

// RecordRollback counts one rollback trigger.
func (m *Metrics) RecordRollback(ctx context.Context, kind ops.Kind, reason string) {
	if m == nil {
		return
	}
	m.RollbacksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("reason", reason),
	))
}

// RecordReadiness records the attempts a service needed.
func (m *Metrics) RecordReadiness(ctx context.Context, service string, attempts int) {
	if m == nil {
		return
	}
	m.ReadinessAttempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.String("service", service)))
}

// RecordBackup records a backup's payload size.
func (m *Metrics) RecordBackup(ctx context.Context, scope string, bytes int64) {
	if m == nil {
		return
	}
	m.BackupBytes.Record(ctx, bytes, metric.WithAttributes(attribute.String("scope", scope)))
}

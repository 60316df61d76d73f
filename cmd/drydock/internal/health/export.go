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
	"os"
	"path/filepath"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// Prometheus
// =============================================================================

// MetricsExporter publishes the latest report as Prometheus gauges.
//
// # Description
//
// The exporter owns its registry so the textfile written for node_exporter
// contains only drydock health series. The same registry backs /metrics.
type MetricsExporter struct {
	registry *prometheus.Registry
	value    *prometheus.GaugeVec
	status   *prometheus.GaugeVec
	overall  prometheus.Gauge
	lastRun  prometheus.Gauge
}

// NewMetricsExporter creates an exporter with a fresh registry.
func NewMetricsExporter() *MetricsExporter {
	e := &MetricsExporter{
		registry: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drydock_health_check_value",
			Help: "Observed value of a health check (percent, days, count; 1/0 for pass/fail).",
		}, []string{"check", "category"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drydock_health_check_status",
			Help: "Classification of a health check: 0 OK, 1 WARNING, 2 CRITICAL.",
		}, []string{"check", "category"}),
		overall: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drydock_health_status",
			Help: "Aggregated health: 0 OK, 1 WARNING, 2 CRITICAL.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drydock_health_last_evaluation_timestamp_seconds",
			Help: "Unix time of the last evaluation.",
		}),
	}
	e.registry.MustRegister(e.value, e.status, e.overall, e.lastRun)
	return e
}

// Registry returns the exporter's registry.
func (e *MetricsExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Record replaces all series with the report's results.
func (e *MetricsExporter) Record(report Report) {
	e.value.Reset()
	e.status.Reset()
	for _, r := range report.Results {
		e.value.WithLabelValues(r.Name, r.Category).Set(r.Value)
		e.status.WithLabelValues(r.Name, r.Category).Set(float64(r.Status))
	}
	e.overall.Set(float64(report.Status))
	e.lastRun.Set(float64(report.GeneratedAt.Unix()))
}

// WriteTextfile writes the registry in text exposition format for the
// node_exporter textfile collector.
func (e *MetricsExporter) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create textfile dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("write textfile %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// InfluxDB
// =============================================================================

// InfluxConfig configures the InfluxDB exporter.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxExporter writes one point per check to InfluxDB.
type InfluxExporter struct {
	client influxdb2.Client
	config InfluxConfig
}

// NewInfluxExporter creates the exporter. Call Close when done.
func NewInfluxExporter(config InfluxConfig) *InfluxExporter {
	return &InfluxExporter{client: influxdb2.NewClient(config.URL, config.Token), config: config}
}

// Export writes the report with the blocking write API.
func (e *InfluxExporter) Export(ctx context.Context, report Report) error {
	writer := e.client.WriteAPIBlocking(e.config.Org, e.config.Bucket)
	if err := writer.WritePoint(ctx, ReportPoints(report)...); err != nil {
		return fmt.Errorf("write influx points: %w", err)
	}
	return nil
}

// Close releases the client.
func (e *InfluxExporter) Close() {
	e.client.Close()
}

// ReportPoints converts a report into "drydock_health" points.
func ReportPoints(report Report) []*write.Point {
	points := make([]*write.Point, 0, len(report.Results)+1)
	for _, r := range report.Results {
		points = append(points, influxdb2.NewPoint("drydock_health",
			map[string]string{"check": r.Name, "category": r.Category},
			map[string]interface{}{"value": r.Value, "status": int(r.Status), "duration_ms": r.Duration.Milliseconds()},
			report.GeneratedAt))
	}
	points = append(points, influxdb2.NewPoint("drydock_health",
		map[string]string{"check": "overall", "category": "summary"},
		map[string]interface{}{"status": int(report.Status)},
		report.GeneratedAt))
	return points
}

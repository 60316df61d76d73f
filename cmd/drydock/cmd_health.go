// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
)

func runHealthCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, sessionOptions{Silent: healthSilent})
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.buildStack(ctx)
	if err != nil {
		return err
	}

	if healthServe != "" {
		serveCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		server := health.NewServer(st.verify, s.exporter, s.cfg.Health.CacheFor, s.component("health-server"))
		return server.Serve(serveCtx, healthServe)
	}

	s.printer.Title("System health")
	report := st.verify(ctx)
	s.exporter.Record(report)
	printReport(s.printer, report, healthCriticalOnly)

	if healthExport {
		for _, err := range exportReport(ctx, s, report) {
			s.printer.Warning("export: %v", err)
		}
	}
	if healthNotify && report.Status != health.StatusOK {
		notifyHealth(ctx, st.notifier, report, s)
	}

	s.printer.Summary(healthSummary(report))
	return healthError(report)
}

// exportReport writes the report to the Prometheus textfile and InfluxDB,
// whichever are configured. Failures are returned, not fatal.
func exportReport(ctx context.Context, s *session, report health.Report) []error {
	var errs []error
	if path := s.cfg.Telemetry.Textfile; path != "" {
		if err := s.exporter.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("textfile %s: %w", path, err))
		} else {
			s.printer.Info("metrics written to %s", path)
		}
	}

	influx := s.cfg.Telemetry.Influx
	if influx.URL == "" {
		return errs
	}
	token, err := revealOptional(influx.Token)
	if err != nil {
		return append(errs, fmt.Errorf("influx token: %w", err))
	}
	exporter := health.NewInfluxExporter(health.InfluxConfig{
		URL:    influx.URL,
		Token:  token,
		Org:    influx.Org,
		Bucket: influx.Bucket,
	})
	defer exporter.Close()

	exportCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := exporter.Export(exportCtx, report); err != nil {
		errs = append(errs, fmt.Errorf("influx: %w", err))
	} else {
		s.printer.Info("report written to InfluxDB bucket %s", influx.Bucket)
	}
	return errs
}

// notifyHealth sends a WARNING or CRITICAL report.
func notifyHealth(ctx context.Context, sink notify.Sink, report health.Report, s *session) {
	status := notify.StatusWarning
	if report.Status == health.StatusCritical {
		status = notify.StatusFailed
	}
	lines := []string{fmt.Sprintf("system %s", report.Status)}
	for _, r := range report.AtLeast(health.StatusWarning) {
		lines = append(lines, fmt.Sprintf("%s %s: %s", r.Status, r.Name, r.Message))
	}
	err := sink.Notify(ctx, notify.Event{
		Operation: string(ops.KindHealth),
		Phase:     notify.PhaseFinished,
		Status:    status,
		Summary:   strings.Join(lines, "\n"),
		Time:      report.GeneratedAt,
	})
	if err != nil {
		s.logger.Warn("notification not delivered", "error", err)
	}
}

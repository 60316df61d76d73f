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
	"errors"
	"fmt"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/drydock/cmd/drydock/config"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/process"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/maintenance"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

func runMaintenance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, sessionOptions{Mutating: !maintenanceDryRun})
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.buildStack(ctx)
	if err != nil {
		return err
	}

	runner := maintenance.NewRunner(s.component("maintenance"), maintenanceTasks(s.cfg, st, process.NewDefaultManager())...)
	tasks, err := runner.Resolve(args)
	if err != nil {
		return err
	}

	title := "Maintenance"
	if maintenanceDryRun {
		title += " (dry run)"
	}
	s.printer.Title(fmt.Sprintf("%s: %s", title, strings.Join(taskNames(tasks), ", ")))

	intr := watchInterrupts(ctx, s.printer, s.logger)
	defer intr.Stop()

	report := runner.Run(intr.op, tasks, maintenanceDryRun)
	printMaintenance(s, report)

	rec := maintenanceRecord(report)
	s.metrics.RecordOperation(ctx, rec)
	return s.finish(rec, report.Err())
}

// maintenanceTasks registers the tasks this host can run.
//
// # Description
//
// datastore-optimize needs a DSN, cache-optimize a cache service,
// permission-repair at least one rule and package-update must be enabled
// explicitly. drydock's own log directory is always rotated.
func maintenanceTasks(cfg *config.Config, st *stack, pm process.Manager) []maintenance.Task {
	m := cfg.Maintenance
	logDirs := slices.Clone(m.LogDirs)
	if !slices.Contains(logDirs, cfg.LogDir()) {
		logDirs = append(logDirs, cfg.LogDir())
	}

	tasks := []maintenance.Task{
		&maintenance.ContainerPrune{Controller: st.ctrl},
		&maintenance.LogRotate{Dirs: logDirs, MaxSize: m.LogMaxSize, Retention: m.LogRetention},
		&maintenance.BackupPrune{Backups: st.backups, Window: cfg.RetentionWindow(), Confirm: st.issuer.Confirm},
	}
	if cfg.Datastore.DSN.IsSet() {
		tasks = append(tasks, &maintenance.DatastoreOptimize{Admin: st.admin})
	}
	if cfg.Cache.Service != "" {
		tasks = append(tasks, &maintenance.CacheOptimize{Controller: st.ctrl, Cache: cfg.CacheTarget()})
	}
	if len(m.Permissions) > 0 {
		tasks = append(tasks, &maintenance.PermissionRepair{Rules: m.Permissions})
	}
	if m.PackageUpdates {
		tasks = append(tasks, &maintenance.PackageUpdate{Manager: pm})
	}
	return tasks
}

// maintenanceRecord turns a report into a finished operation record.
func maintenanceRecord(report maintenance.Report) *ops.Record {
	rec := ops.New(ops.KindMaintenance)
	if !report.StartedAt.IsZero() {
		rec.StartedAt = report.StartedAt
	}
	report.Record(rec)
	rec.Finish(report.Outcome(), report.Err())
	return rec
}

func printMaintenance(s *session, report maintenance.Report) {
	for _, res := range report.Results {
		switch {
		case res.Failed():
			s.printer.Warning("%-20s %s", res.Task, res.Err)
		case report.DryRun:
			s.printer.Success("%-20s %d planned", res.Task, len(res.Planned))
			for _, item := range res.Planned {
				s.printer.Info("  would %s", item)
			}
		default:
			s.printer.Success("%-20s %d done", res.Task, len(res.Done))
			for _, item := range res.Done {
				s.printer.Info("  %s", item)
			}
		}
	}
}

func taskNames(tasks []maintenance.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name()
	}
	return out
}

// runMaintenanceSchedule runs the configured schedules until SIGINT or
// SIGTERM. The lock is taken per run, so deploys are not blocked between
// runs; a run that finds the lock held is skipped.
func runMaintenanceSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	entries := s.cfg.Maintenance.Schedules
	if len(entries) == 0 {
		return util.NewOpError(util.KindPrecondition, "maintenance.schedule",
			errors.New("no maintenance.schedules configured"))
	}

	st, err := s.buildStack(ctx)
	if err != nil {
		return err
	}
	runner := maintenance.NewRunner(s.component("maintenance"), maintenanceTasks(s.cfg, st, process.NewDefaultManager())...)
	if err := runner.ValidateSchedule(entries); err != nil {
		return err
	}

	for _, e := range entries {
		s.printer.Info("%-16s %s", e.Spec, strings.Join(e.Tasks, ", "))
	}
	s.printer.Success("maintenance schedule running (%d entries); Ctrl-C to stop", len(entries))

	return runner.Schedule(ctx, entries, maintenance.ScheduleConfig{
		Lock: process.NewLock(process.LockConfig{Dir: s.cfg.StateDir}),
		OnRun: func(ctx context.Context, entry maintenance.ScheduleEntry, report maintenance.Report) {
			rec := maintenanceRecord(report)
			s.metrics.RecordOperation(ctx, rec)
			s.journalOnce(rec)
		},
	})
}

// journalOnce opens the journal, saves rec and closes it again. Used by the
// scheduler, which holds the lock only while a run is in progress.
func (s *session) journalOnce(rec *ops.Record) {
	j, err := s.openJournal()
	if err != nil {
		s.logger.Warn("operation not journaled", "id", rec.ID, "error", err)
		return
	}
	defer j.Close()
	if err := j.Save(rec); err != nil {
		s.logger.Warn("operation not journaled", "id", rec.ID, "error", err)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/process"
)

// ScheduleEntry runs Tasks on a standard five-field cron expression.
type ScheduleEntry struct {
	Spec  string   `yaml:"cron" validate:"required"`
	Tasks []string `yaml:"tasks" validate:"required,min=1"`
}

// ScheduleConfig configures Schedule.
type ScheduleConfig struct {
	// Lock is taken around every run; a run is skipped while another
	// drydock command holds it. Optional.
	Lock process.Locker

	// OnRun receives every finished report, e.g. for journaling. Optional.
	OnRun func(ctx context.Context, entry ScheduleEntry, report Report)
}

// ValidateSchedule checks every cron expression and task name.
func (r *Runner) ValidateSchedule(entries []ScheduleEntry) error {
	var errs []error
	for _, e := range entries {
		if _, err := cron.ParseStandard(e.Spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", e.Spec, err))
		}
		if _, err := r.Resolve(e.Tasks); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", e.Spec, err))
		}
	}
	return errors.Join(errs...)
}

// Schedule runs entries until ctx is cancelled.
//
// # Description
//
// Overlapping runs of the same entry are skipped. Each run resolves its
// tasks again, takes the lock when configured and applies (never dry-runs).
// On cancellation Schedule waits for running jobs to finish.
//
// # Outputs
//
//   - error: A validation error before anything runs; nil after ctx ends.
func (r *Runner) Schedule(ctx context.Context, entries []ScheduleEntry, config ScheduleConfig) error {
	if len(entries) == 0 {
		return errors.New("no maintenance schedules configured")
	}
	if err := r.ValidateSchedule(entries); err != nil {
		return err
	}

	logger := cronLogger{logger: r.logger.With("component", "maintenance-schedule")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, entry := range entries {
		if _, err := c.AddFunc(entry.Spec, func() { r.scheduledRun(ctx, entry, config) }); err != nil {
			return fmt.Errorf("schedule %q: %w", entry.Spec, err)
		}
		r.logger.Info("maintenance scheduled", "cron", entry.Spec, "tasks", entry.Tasks)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("maintenance schedule stopped")
	return nil
}

func (r *Runner) scheduledRun(ctx context.Context, entry ScheduleEntry, config ScheduleConfig) {
	if ctx.Err() != nil {
		return
	}
	if config.Lock != nil {
		if err := config.Lock.Acquire(); err != nil {
			var held *process.ErrLockHeld
			if errors.As(err, &held) {
				r.logger.Warn("maintenance skipped, another drydock command is running",
					"cron", entry.Spec, "holder_pid", held.HolderPID)
				return
			}
			r.logger.Error("maintenance lock failed", "cron", entry.Spec, "error", err)
			return
		}
		defer config.Lock.Release()
	}

	tasks, err := r.Resolve(entry.Tasks)
	if err != nil {
		r.logger.Error("maintenance schedule invalid", "cron", entry.Spec, "error", err)
		return
	}
	report := r.Run(ctx, tasks, false)
	if config.OnRun != nil {
		config.OnRun(ctx, entry, report)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

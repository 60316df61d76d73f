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
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/restore"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// =============================================================================
// backup
// =============================================================================

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	scope, err := backup.ParseScope(backupScope)
	if err != nil {
		return util.NewOpError(util.KindPrecondition, "backup", err)
	}

	s, err := openSession(ctx, sessionOptions{Mutating: true})
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.buildStack(ctx)
	if err != nil {
		return err
	}

	s.printer.Title(fmt.Sprintf("Creating %s backup in %s", scope, s.cfg.Backup.Dir))
	intr := watchInterrupts(ctx, s.printer, s.logger)
	defer intr.Stop()

	rec := ops.New(ops.KindBackup)
	created, err := st.backups.CreateBackup(intr.op, backup.CreateOptions{Scope: scope, NoRemote: backupNoRemote})
	recordBackup(rec, created, scope, err)
	if err == nil {
		s.metrics.RecordBackup(ctx, string(scope), backupSize(created))
	}
	s.metrics.RecordOperation(ctx, rec)
	notifyFinished(context.WithoutCancel(ctx), st.notifier, rec, s)
	return s.finish(rec, err)
}

// recordBackup fills rec from the outcome of CreateBackup.
func recordBackup(rec *ops.Record, created backup.Record, scope backup.Scope, err error) {
	if err != nil {
		rec.Fail("backup")
		rec.Finish(ops.OutcomeFailed, err)
		return
	}
	rec.Succeed(fmt.Sprintf("backup %s (%s, %s)", created.ID, scope, humanize.IBytes(uint64(backupSize(created)))))
	if n := len(created.Replicated); n > 0 {
		rec.Succeed(fmt.Sprintf("replicated %d objects", n))
	}
	for _, w := range created.Warnings {
		rec.Warn(w)
	}
	if len(rec.Warnings) > 0 {
		rec.Finish(ops.OutcomeWarning, nil)
		return
	}
	rec.Finish(ops.OutcomeSuccess, nil)
}

// backupSize sums the manifest's payload sizes.
func backupSize(rec backup.Record) int64 {
	var total int64
	for _, e := range rec.Manifest.Entries {
		total += e.Size
	}
	return total
}

// notifyFinished sends the final event of an operation the CLI runs itself.
func notifyFinished(ctx context.Context, sink notify.Sink, rec *ops.Record, s *session) {
	status := notify.StatusSucceeded
	switch rec.Outcome {
	case ops.OutcomeFailed:
		status = notify.StatusFailed
	case ops.OutcomeWarning:
		status = notify.StatusWarning
	}
	summary := fmt.Sprintf("%s %s", rec.Kind, rec.Outcome)
	if rec.Error != "" {
		summary += ": " + rec.Error
	}
	err := sink.Notify(ctx, notify.Event{
		Operation:   string(rec.Kind),
		OperationID: rec.ID,
		Phase:       notify.PhaseFinished,
		Status:      status,
		Summary:     summary,
		Time:        time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("notification not delivered", "error", err)
	}
}

// =============================================================================
// restore
// =============================================================================

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	switch {
	case restoreList:
		return runRestoreList(ctx)
	case restoreVerify != "":
		return runRestoreVerify(ctx, restoreVerify)
	case len(args) == 1:
		return runRestoreBackup(ctx, args[0])
	}
	return util.NewOpError(util.KindPrecondition, "restore",
		errors.New("a backup id, --list or --verify <backup-id> is required"))
}

// backupStore opens the backup directory without a container runtime.
// Listing and verification only read and annotate files.
func (s *session) backupStore() *backup.Engine {
	return backup.NewEngine(backup.Config{Dir: s.cfg.Backup.Dir}, backup.Deps{Logger: s.component("backup")})
}

func runRestoreList(ctx context.Context) error {
	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.backupStore().ListBackups(ctx)
	if err != nil {
		return util.NewOpError(util.KindPrecondition, "restore.list", err)
	}
	if len(records) == 0 {
		s.printer.Info("no backups in %s", s.cfg.Backup.Dir)
		return nil
	}
	s.printer.Title(fmt.Sprintf("%d backups in %s", len(records), s.cfg.Backup.Dir))
	for _, rec := range records {
		line := formatBackup(rec)
		switch {
		case rec.Usable():
			s.printer.Success("%s", line)
		case rec.Status == backup.StatusCorrupted || rec.Incomplete:
			s.printer.Error("%s", line)
		default:
			s.printer.Warning("%s", line)
		}
	}
	return nil
}

// formatBackup renders one backup as a list line.
func formatBackup(rec backup.Record) string {
	status := string(rec.Status)
	if rec.Incomplete {
		status = "incomplete"
	}
	line := fmt.Sprintf("%s  %-10s  %-13s  %9s  %s", rec.ID, status, rec.Manifest.Scope,
		humanize.IBytes(uint64(backupSize(rec))), humanize.Time(rec.CreatedAt()))
	if rec.Reason != "" {
		line += "  (" + rec.Reason + ")"
	}
	return line
}

func runRestoreVerify(ctx context.Context, id string) error {
	s, err := openSession(ctx, sessionOptions{Mutating: true})
	if err != nil {
		return err
	}
	defer s.Close()

	store := s.backupStore()
	rec, err := store.Get(ctx, id)
	if err != nil {
		return util.NewOpError(util.KindPrecondition, "restore.verify", err)
	}
	verified, err := store.VerifyBackup(ctx, rec)
	if err != nil {
		s.printer.Error("backup %s: %v", id, err)
		return reported(err, util.ExitCode(err))
	}
	s.printer.Success("backup %s verified (%s)", verified.ID, humanize.IBytes(uint64(backupSize(verified))))
	return nil
}

// runRestoreBackup restores the whole system from id after confirmation.
func runRestoreBackup(ctx context.Context, id string) error {
	s, err := openSession(ctx, sessionOptions{Mutating: true})
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.buildStack(ctx)
	if err != nil {
		return err
	}

	rec, err := st.backups.Get(ctx, id)
	if err != nil {
		return util.NewOpError(util.KindPrecondition, "restore", err)
	}
	token, err := st.issuer.Confirm(guard.ActionDatabaseRecreate,
		fmt.Sprintf("Restoring backup %s drops database %q and returns every service to the backup's state.",
			rec.ID, s.cfg.Datastore.Database))
	if err != nil {
		return util.NewOpError(util.KindPrecondition, "restore", err)
	}

	s.printer.Title(fmt.Sprintf("Restoring backup %s (%s)", rec.ID, humanize.Time(rec.CreatedAt())))
	intr := watchInterrupts(ctx, s.printer, s.logger)
	defer intr.Stop()

	out, err := st.restorer.Restore(intr.op, rec, restore.Options{Token: token})
	if intr.Forced() {
		if path := abortMarker(s.cfg.MarkersDir(), out, s.logger); path != "" {
			out.Warn("diagnostic marker: " + path)
		}
	}
	return s.finish(out, err)
}

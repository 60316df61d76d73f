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
	"strings"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/deploy"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// rolloutOptions are the flags shared by deploy and update.
type rolloutOptions struct {
	kind       ops.Kind
	strategy   string
	verifyOnly bool
	fresh      bool
	skip       bool
	force      bool
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("rollback") {
		return runRollback(cmd.Context(), deployRollback)
	}
	return runRollout(cmd.Context(), rolloutOptions{
		kind:       ops.KindDeploy,
		verifyOnly: deployVerify,
		fresh:      deployBackup,
		skip:       deploySkipBackup,
		force:      deployForce,
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("rollback") {
		return runRollback(cmd.Context(), updateRollback)
	}
	return runRollout(cmd.Context(), rolloutOptions{
		kind:       ops.KindUpdate,
		strategy:   updateStrategy,
		verifyOnly: updateVerify,
	})
}

// runRollout executes a deploy or update, or only its verification.
func runRollout(ctx context.Context, opts rolloutOptions) error {
	s, err := openSession(ctx, sessionOptions{Mutating: !opts.verifyOnly})
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.buildStack(ctx)
	if err != nil {
		return err
	}

	if opts.verifyOnly {
		s.printer.Title("Verifying system health")
		report, _ := st.coordinator.Verify(ctx)
		printReport(s.printer, report, false)
		summary := healthSummary(report)
		s.printer.Summary(summary)
		return healthError(report)
	}

	strategy := s.cfg.Strategy()
	if opts.strategy != "" {
		if strategy, err = topology.ParseStrategy(opts.strategy); err != nil {
			return util.NewOpError(util.KindPrecondition, string(opts.kind), err)
		}
	}
	plan := topology.BuildPlan(st.topo, strategy)
	s.printer.Title(fmt.Sprintf("%s: %d services in %d tiers (%s)", opts.kind, len(plan.Services()), len(plan.Tiers), strategy))

	intr := watchInterrupts(ctx, s.printer, s.logger)
	defer intr.Stop()

	rec, err := st.coordinator.Execute(intr.op, plan, deploy.Options{
		Kind:        opts.kind,
		FreshBackup: opts.fresh,
		SkipBackup:  opts.skip,
		Force:       opts.force,
		Recovery:    intr.recovery,
	})
	if intr.Forced() {
		if path := abortMarker(s.cfg.MarkersDir(), rec, s.logger); path != "" {
			rec.Warn("diagnostic marker: " + path)
		}
	}
	return s.finish(rec, err)
}

// runRollback returns services to a backup (deploy --rollback).
//
// # Description
//
// The target and the services to roll back are resolved from the journal.
// When a stateful service is among them the rollback replaces the
// database, so the operator must confirm database-recreate first.
func runRollback(ctx context.Context, target string) error {
	s, err := openSession(ctx, sessionOptions{Mutating: true})
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.buildStack(ctx)
	if err != nil {
		return err
	}

	rec, services, err := resolveRollback(ctx, s.journal, st.backups, st.topo, target)
	if err != nil {
		return err
	}
	if stateful := statefulServices(st.topo, services); len(stateful) > 0 {
		desc := fmt.Sprintf("Rolling back %s replaces database %q with backup %s.",
			strings.Join(stateful, ", "), s.cfg.Datastore.Database, rec.ID)
		if _, err := st.issuer.Confirm(guard.ActionDatabaseRecreate, desc); err != nil {
			return util.NewOpError(util.KindPrecondition, "rollback", err)
		}
	}

	s.printer.Title(fmt.Sprintf("Rolling back %s to backup %s", strings.Join(services, ", "), rec.ID))
	intr := watchInterrupts(ctx, s.printer, s.logger)
	defer intr.Stop()

	out, err := st.coordinator.RollbackTo(intr.op, rec, services)
	if intr.Forced() {
		if path := abortMarker(s.cfg.MarkersDir(), out, s.logger); path != "" {
			out.Warn("diagnostic marker: " + path)
		}
	}
	return s.finish(out, err)
}

// anchorJournal is the part of the journal rollback resolution reads.
type anchorJournal interface {
	LastSuccessful(kinds ...ops.Kind) (ops.Record, bool, error)
	List(limit int) ([]ops.Record, error)
}

// backupLookup loads backups by id.
type backupLookup interface {
	Get(ctx context.Context, id string) (backup.Record, error)
}

// resolveRollback picks the backup and services of a manual rollback.
//
// # Description
//
// "latest" (a bare --rollback) selects the anchor of the last successful
// deploy or update. An explicit backup id uses the services of the newest
// rollout anchored on it. Without a journaled service list every service
// outside the datastore tier is rolled back.
//
// # Outputs
//
//   - backup.Record: The target backup.
//   - []string: Services to roll back.
//   - error: KindPrecondition when nothing can be resolved.
func resolveRollback(ctx context.Context, j anchorJournal, backups backupLookup, topo topology.Topology, target string) (backup.Record, []string, error) {
	var id string
	var services []string

	if target == "" || target == rollbackLatest {
		last, ok, err := j.LastSuccessful(ops.KindDeploy, ops.KindUpdate)
		if err != nil {
			return backup.Record{}, nil, util.NewOpError(util.KindPrecondition, "rollback", err)
		}
		if !ok || last.Anchor == "" {
			return backup.Record{}, nil, util.NewOpError(util.KindPrecondition, "rollback",
				errors.New("no successful deploy with a backup anchor in the journal; pass a backup id"))
		}
		id, services = last.Anchor, last.Services
	} else {
		id = target
		recs, err := j.List(0)
		if err != nil {
			return backup.Record{}, nil, util.NewOpError(util.KindPrecondition, "rollback", err)
		}
		for _, r := range recs {
			if r.Anchor == id && (r.Kind == ops.KindDeploy || r.Kind == ops.KindUpdate) && len(r.Services) > 0 {
				services = r.Services
				break
			}
		}
	}

	rec, err := backups.Get(ctx, id)
	if err != nil {
		return backup.Record{}, nil, util.NewOpError(util.KindPrecondition, "rollback", fmt.Errorf("backup %s: %w", id, err))
	}
	if len(services) == 0 {
		services = applicationServices(topo)
	}
	return rec, services, nil
}

// applicationServices lists every service outside the datastore tier.
func applicationServices(topo topology.Topology) []string {
	datastore := make(map[string]bool)
	for _, d := range topo.DatastoreTier() {
		datastore[d.Name] = true
	}
	var out []string
	for _, name := range topo.Names() {
		if !datastore[name] {
			out = append(out, name)
		}
	}
	return out
}

// statefulServices returns the stateful members of services.
func statefulServices(topo topology.Topology, services []string) []string {
	var out []string
	for _, name := range services {
		if d, err := topo.Get(name); err == nil && d.Stateful {
			out = append(out, name)
		}
	}
	return out
}

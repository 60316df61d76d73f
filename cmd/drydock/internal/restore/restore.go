// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package restore implements the RestoreEngine: full restores from a verified
// backup and the scoped automatic rollback used by the deploy coordinator.
//
// A failed restore is terminal. The engine never retries a restore or rolls
// back a rollback; it writes a diagnostic marker and leaves the system for an
// operator.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/journal"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/telemetry"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

const tracerName = "drydock/restore"

// =============================================================================
// Collaborators
// =============================================================================

// Verifier re-verifies backups. Implemented by backup.Engine.
type Verifier interface {
	VerifyBackup(ctx context.Context, rec backup.Record) (backup.Record, error)
}

// DatabaseAdmin drops and recreates the logical database. Implemented by
// datastore.Admin.
type DatabaseAdmin interface {
	RecreateDatabase(ctx context.Context, token guard.Token) error
}

// Gate waits for an instance to become ready.
type Gate interface {
	WaitReady(ctx context.Context, inst runtime.Instance, probe topology.Probe) error
}

// MarkerWriter persists diagnostic markers. Implemented by journal.Journal.
type MarkerWriter interface {
	WriteMarker(m journal.Marker) (string, error)
}

// Config holds restore settings.
type Config struct {
	Datastore backup.DatastoreTarget
	Cache     backup.CacheTarget
}

// Deps are the Engine's collaborators. Markers, Notifier and Metrics are
// optional.
type Deps struct {
	Controller runtime.Controller
	Topology   topology.Topology
	Backups    Verifier
	Admin      DatabaseAdmin
	Gate       Gate
	Verify     func(ctx context.Context) health.Report
	Markers    MarkerWriter
	Notifier   notify.Sink
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// Options parameterize Restore.
type Options struct {
	// Token must authorize guard.ActionDatabaseRecreate unless Automatic.
	Token guard.Token

	// Automatic marks a rollback started by drydock itself.
	Automatic bool
}

// Engine is the RestoreEngine.
type Engine struct {
	config Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(config Config, deps Deps) *Engine {
	if config.Cache.RDBPath == "" {
		config.Cache.RDBPath = "/data/dump.rdb"
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: config, deps: deps, logger: logger, now: time.Now}
}

// =============================================================================
// Restore
// =============================================================================

// Restore returns the whole system to rec.
//
// # Description
//
//  1. Stop every service, highest rank first.
//  2. Restore config trees and assets.
//  3. Start the datastore tier at the backup's versions and gate readiness.
//  4. Recreate the database, replay the dump, replay the cache snapshot.
//  5. Start the remaining tiers ascending at the backup's versions, gated.
//  6. Evaluate; CRITICAL fails the restore.
//
// Verification and authorization happen before step 1, so a corrupted or
// unauthorized restore never stops a service. Any failure from step 1 on is
// terminal and leaves a diagnostic marker.
//
// # Inputs
//
//   - ctx: Cancellation.
//   - rec: The backup. Its checksums are re-verified on every call; the
//     recorded status is never trusted on its own.
//   - opts: Confirmation token, or Automatic for coordinator rollbacks.
//
// # Outputs
//
//   - *ops.Record: Always non-nil.
//   - error: KindIntegrity or KindPrecondition before any stop; KindTerminal
//     after.
func (e *Engine) Restore(ctx context.Context, rec backup.Record, opts Options) (*ops.Record, error) {
	kind := ops.KindRestore
	if opts.Automatic {
		kind = ops.KindRollback
	}
	out := ops.New(kind)
	out.Anchor = rec.ID

	if !opts.Automatic {
		e.notify(ctx, out, notify.PhaseStarted, notify.StatusStarted, "restore from "+rec.ID)
	}
	err := e.run(ctx, out, rec, opts, nil)
	e.finish(ctx, out, err, !opts.Automatic)
	return out, err
}

// Rollback implements the coordinator's Rollbacker.
//
// # Description
//
// When none of touched is stateful only those services return to the
// backup's versions (stop descending, config restore, start ascending,
// gated) and the datastore keeps running. Otherwise the full Restore runs
// with Automatic set. Both end with an evaluation; CRITICAL is terminal.
func (e *Engine) Rollback(ctx context.Context, rec backup.Record, touched []string) error {
	for _, name := range touched {
		svc, err := e.deps.Topology.Get(name)
		if err != nil {
			return util.NewOpError(util.KindPrecondition, "rollback", err)
		}
		if svc.Stateful {
			e.logger.Warn("rollback touches stateful service, running full restore", "service", name, "backup_id", rec.ID)
			_, err := e.Restore(ctx, rec, Options{Automatic: true})
			return err
		}
	}

	out := ops.New(ops.KindRollback)
	out.Anchor = rec.ID
	err := e.run(ctx, out, rec, Options{Automatic: true}, touched)
	e.finish(ctx, out, err, false)
	return err
}

// run performs a full restore (scope nil) or a scoped rollback.
func (e *Engine) run(ctx context.Context, out *ops.Record, rec backup.Record, opts Options, scope []string) (err error) {
	mode := "full"
	if scope != nil {
		mode = "scoped"
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "restore."+mode,
		trace.WithAttributes(attribute.String("backup.id", rec.ID), attribute.StringSlice("scope", scope)))
	defer func() { telemetry.EndSpan(span, err) }()

	logger := telemetry.LoggerWithTrace(ctx, e.logger).With("operation_id", out.ID, "backup_id", rec.ID, "mode", mode)

	rec, err = e.ensureVerified(ctx, rec)
	if err != nil {
		return err
	}
	token := opts.Token
	if opts.Automatic {
		token = guard.Automatic(guard.ActionDatabaseRecreate)
	}
	if scope == nil {
		if err := token.Authorizes(guard.ActionDatabaseRecreate); err != nil {
			return util.NewOpError(util.KindPrecondition, "restore.authorize", err)
		}
	}

	r := &restoreRun{e: e, out: out, rec: rec, logger: logger}
	if scope == nil {
		err = r.full(ctx, token)
	} else {
		err = r.scoped(ctx, scope)
	}
	if err != nil {
		return r.terminal(err)
	}
	return nil
}

// ensureVerified runs the manifest checksum pass and rejects unusable
// records. It runs before anything is stopped: a payload can change on disk
// after its last verification.
func (e *Engine) ensureVerified(ctx context.Context, rec backup.Record) (backup.Record, error) {
	verified, err := e.deps.Backups.VerifyBackup(ctx, rec)
	if err != nil {
		return rec, err
	}
	rec = verified
	if !rec.Usable() {
		return rec, util.NewOpError(util.KindIntegrity, "restore.verify",
			fmt.Errorf("backup %s is not usable (%s)", rec.ID, rec.Status))
	}
	return rec, nil
}

func (e *Engine) finish(ctx context.Context, out *ops.Record, err error, announce bool) {
	if err != nil {
		out.Finish(ops.OutcomeFailed, err)
		e.logger.Error("restore failed", "operation_id", out.ID, "backup_id", out.Anchor, "error", err)
	} else {
		out.Finish(ops.OutcomeSuccess, nil)
		e.logger.Info("restore completed", "operation_id", out.ID, "backup_id", out.Anchor, "duration", out.Duration())
	}
	e.deps.Metrics.RecordOperation(context.WithoutCancel(ctx), out)
	if !announce {
		return
	}
	status, summary := notify.StatusSucceeded, fmt.Sprintf("restored %s", out.Anchor)
	if err != nil {
		status, summary = notify.StatusFailed, fmt.Sprintf("restore from %s failed: %v", out.Anchor, err)
	}
	e.notify(context.WithoutCancel(ctx), out, notify.PhaseFinished, status, summary)
}

func (e *Engine) notify(ctx context.Context, out *ops.Record, phase notify.Phase, status notify.Status, summary string) {
	err := e.deps.Notifier.Notify(ctx, notify.Event{
		Operation:   string(out.Kind),
		OperationID: out.ID,
		Phase:       phase,
		Status:      status,
		Summary:     summary,
		Time:        e.now().UTC(),
	})
	if err != nil {
		e.logger.Warn("notification not delivered", "phase", phase, "error", err)
	}
}

// =============================================================================
// Steps
// =============================================================================

// restoreRun carries one restore's progress for error reporting.
type restoreRun struct {
	e      *Engine
	out    *ops.Record
	rec    backup.Record
	logger *slog.Logger
	step   string
}

// stepError tags err with the step that failed.
type stepError struct {
	step string
	err  error
}

func (s *stepError) Error() string { return s.step + ": " + s.err.Error() }
func (s *stepError) Unwrap() error { return s.err }

func (r *restoreRun) at(step string) {
	r.step = step
	r.logger.Info("restore step", "step", step)
}

func (r *restoreRun) wrap(err error) error {
	if err == nil {
		return nil
	}
	return &stepError{step: r.step, err: err}
}

// terminal marks err terminal and writes the diagnostic marker.
func (r *restoreRun) terminal(err error) error {
	marker := journal.Marker{
		OperationID: r.out.ID,
		Kind:        r.out.Kind,
		Reason:      err.Error(),
		Step:        r.step,
		Anchor:      r.rec.ID,
		Services:    r.out.Services,
		CreatedAt:   r.e.now().UTC(),
	}
	if r.e.deps.Markers != nil {
		path, mErr := r.e.deps.Markers.WriteMarker(marker)
		if mErr != nil {
			r.logger.Error("diagnostic marker not written", "error", mErr)
		} else if path != "" {
			r.out.Warn("diagnostic marker: " + path)
		}
	}
	return util.NewOpError(util.KindTerminal, string(r.out.Kind)+"."+r.step, err)
}

// spec returns svc pinned to the backup's version. ok is false when the
// service was not deployed when the backup was taken.
func (r *restoreRun) spec(svc topology.ServiceDescriptor) (runtime.InstanceSpec, bool) {
	version, ok := r.rec.Manifest.Versions[svc.Name]
	if !ok || version == "" {
		return runtime.InstanceSpec{}, false
	}
	return svc.Spec.WithImage(version), true
}

// stopDescending stops services highest rank first.
func (r *restoreRun) stopDescending(ctx context.Context, tiers []topology.Tier) error {
	ctrl := r.e.deps.Controller
	for i := len(tiers) - 1; i >= 0; i-- {
		for _, svc := range tiers[i].Services {
			r.out.Touch(svc.Name)
			if err := ctrl.Stop(ctx, svc.Name); err != nil {
				return fmt.Errorf("stop %s: %w", svc.Name, err)
			}
		}
	}
	return nil
}

// startGated starts each service at its backup version and waits for it.
func (r *restoreRun) startGated(ctx context.Context, services []topology.ServiceDescriptor) error {
	ctrl := r.e.deps.Controller
	for _, svc := range services {
		spec, ok := r.spec(svc)
		if !ok {
			r.logger.Warn("service not in backup, left stopped", "service", svc.Name)
			r.out.Warn(svc.Name + " was not deployed at backup time and stays stopped")
			continue
		}
		if err := ctrl.Start(ctx, svc.Name, spec); err != nil {
			return fmt.Errorf("start %s@%s: %w", svc.Name, spec.Image, err)
		}
		if err := r.e.deps.Gate.WaitReady(ctx, ctrl.Instance(svc.Name), svc.Probe); err != nil {
			return err
		}
		r.out.Succeed(fmt.Sprintf("%s@%s", svc.Name, spec.Image))
	}
	return nil
}

func (r *restoreRun) startTiers(ctx context.Context, tiers []topology.Tier) error {
	for _, tier := range tiers {
		if err := r.startGated(ctx, tier.Services); err != nil {
			return err
		}
		r.logger.Info("tier restored", "tier", tier.Name)
	}
	return nil
}

func (r *restoreRun) full(ctx context.Context, token guard.Token) error {
	e := r.e
	topo := e.deps.Topology

	r.at("stop")
	if err := r.stopDescending(ctx, topo.Tiers()); err != nil {
		return r.wrap(err)
	}

	r.at("files")
	if err := backup.RestoreFiles(r.rec); err != nil {
		return r.wrap(err)
	}

	r.at("datastore-start")
	datastoreTier := topo.DatastoreTier()
	if err := r.startGated(ctx, datastoreTier); err != nil {
		return r.wrap(err)
	}

	r.at("database-replay")
	if err := e.deps.Admin.RecreateDatabase(ctx, token); err != nil {
		return r.wrap(err)
	}
	if err := r.replayDump(ctx); err != nil {
		return r.wrap(err)
	}

	r.at("cache-replay")
	if err := r.replayCache(ctx); err != nil {
		return r.wrap(err)
	}

	r.at("start")
	inDatastore := make(map[string]bool, len(datastoreTier))
	for _, svc := range datastoreTier {
		inDatastore[svc.Name] = true
	}
	var rest []string
	for _, name := range topo.Names() {
		if !inDatastore[name] {
			rest = append(rest, name)
		}
	}
	if err := r.startTiers(ctx, topo.Subset(rest)); err != nil {
		return r.wrap(err)
	}

	return r.evaluate(ctx)
}

func (r *restoreRun) scoped(ctx context.Context, scope []string) error {
	tiers := r.e.deps.Topology.Subset(scope)

	r.at("stop")
	if err := r.stopDescending(ctx, tiers); err != nil {
		return r.wrap(err)
	}
	r.at("files")
	if err := backup.RestoreFiles(r.rec); err != nil {
		return r.wrap(err)
	}
	r.at("start")
	if err := r.startTiers(ctx, tiers); err != nil {
		return r.wrap(err)
	}
	return r.evaluate(ctx)
}

// replayDump pipes the decompressed dump into psql inside the datastore.
func (r *restoreRun) replayDump(ctx context.Context) error {
	ds := r.e.config.Datastore
	if ds.Service == "" {
		return errors.New("no datastore service configured")
	}
	dump, err := backup.OpenDump(r.rec)
	if err != nil {
		return err
	}
	defer dump.Close()

	cmd := []string{"psql", "--quiet", "--no-psqlrc", "--set=ON_ERROR_STOP=1"}
	if ds.User != "" {
		cmd = append(cmd, "--username="+ds.User)
	}
	cmd = append(cmd, "--dbname="+ds.Database)

	execCtx, cancel := context.WithTimeout(ctx, util.DefaultExecTimeout)
	defer cancel()
	ctrl := r.e.deps.Controller
	res, err := ctrl.Exec(execCtx, ctrl.Instance(ds.Service), runtime.ExecRequest{Cmd: cmd, Stdin: dump})
	if err != nil {
		return fmt.Errorf("exec psql: %w", err)
	}
	if res.ExitCode != 0 {
		return util.NewCommandError(strings.Join(cmd[:1], " "), res.ExitCode, res.Stderr, nil)
	}
	r.logger.Info("database replayed", "database", ds.Database)
	return nil
}

// replayCache stops the cache, copies the RDB snapshot in and starts it
// again so it loads the snapshot. Assumes RDB persistence.
func (r *restoreRun) replayCache(ctx context.Context) error {
	cache := r.e.config.Cache
	if cache.Service == "" || !r.rec.HasComponent(backup.ComponentCache) {
		r.logger.Info("no cache snapshot to replay")
		return nil
	}
	svc, err := r.e.deps.Topology.Get(cache.Service)
	if err != nil {
		return err
	}
	ctrl := r.e.deps.Controller
	if err := ctrl.Stop(ctx, svc.Name); err != nil {
		return fmt.Errorf("stop %s: %w", svc.Name, err)
	}

	snapshot, size, err := backup.OpenCacheSnapshot(r.rec)
	if err != nil {
		return err
	}
	defer snapshot.Close()
	if err := ctrl.CopyTo(ctx, svc.Name, cache.RDBPath, snapshot, size); err != nil {
		return fmt.Errorf("copy snapshot to %s:%s: %w", svc.Name, cache.RDBPath, err)
	}
	return r.startGated(ctx, []topology.ServiceDescriptor{svc})
}

// evaluate runs the post-restore health evaluation.
func (r *restoreRun) evaluate(ctx context.Context) error {
	r.at("verify")
	if r.e.deps.Verify == nil {
		return nil
	}
	report := r.e.deps.Verify(ctx)
	for _, res := range report.AtLeast(health.StatusWarning) {
		r.out.Warn(fmt.Sprintf("%s: %s (%s)", res.Name, res.Status, res.Message))
	}
	if report.Status == health.StatusCritical {
		names := make([]string, 0, len(report.Critical()))
		for _, res := range report.Critical() {
			names = append(names, res.Name)
		}
		return r.wrap(fmt.Errorf("health is CRITICAL after restore: %s", strings.Join(names, ", ")))
	}
	return nil
}

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
	"log/slog"
	"time"

	"github.com/jinterlante1206/drydock/cmd/drydock/config"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/datastore"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/deploy"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/process"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/journal"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/remote"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/restore"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/telemetry"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
	"github.com/jinterlante1206/drydock/pkg/logging"
	"github.com/jinterlante1206/drydock/pkg/ux"
)

// =============================================================================
// SESSION
// =============================================================================

// sessionOptions select what a session acquires.
type sessionOptions struct {
	// Mutating takes the process lock and opens the journal.
	Mutating bool

	// Silent suppresses status lines. The summary is still printed.
	Silent bool
}

// session holds the per-invocation resources shared by every command.
//
// # Description
//
// The configuration is loaded once and not modified afterwards; every
// component receives it (or values derived from it) explicitly. Resources
// are released by Close in reverse acquisition order, so the journal is
// closed before the lock is released.
type session struct {
	cfg      *config.Config
	log      *logging.Logger
	logger   *slog.Logger
	printer  *ux.Printer
	exporter *health.MetricsExporter
	metrics  *telemetry.Metrics
	lock     process.Locker
	journal  *journal.Journal

	closers []func(context.Context) error
}

// openSession loads --config and builds a session.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, cfg, opts)
}

// newSession builds a session around an already loaded configuration.
//
// # Description
//
// Order: logger, telemetry (failures only warn), metrics, then for mutating
// commands the flock lock and the journal. The lock is taken before the
// journal is opened because BadgerDB allows one process per directory.
//
// # Outputs
//
//   - *session: Call Close on every exit path.
//   - error: KindPrecondition when the lock is held or the journal cannot
//     be opened.
func newSession(ctx context.Context, cfg *config.Config, opts sessionOptions) (*session, error) {
	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "session", err)
	}

	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir(),
		Service: "drydock",
		JSON:    logJSON || cfg.Logging.JSON,
	})
	s := &session{
		cfg:      cfg,
		log:      log,
		logger:   log.Slog(),
		printer:  ux.NewPrinter(machineOutput, opts.Silent),
		exporter: health.NewMetricsExporter(),
	}
	s.closers = append(s.closers, func(context.Context) error { return log.Close() })

	tcfg := cfg.TelemetryConfig(version)
	tcfg.Environment = cfg.Project
	tcfg.Registerer = s.exporter.Registry()
	if shutdown, err := telemetry.Init(ctx, tcfg); err != nil {
		s.logger.Warn("telemetry disabled", "error", err)
	} else {
		s.closers = append(s.closers, shutdown)
	}

	metrics, err := telemetry.NewGlobalMetrics()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}
	s.metrics = metrics

	if !opts.Mutating {
		return s, nil
	}

	lock := process.NewLock(process.LockConfig{Dir: cfg.StateDir})
	if err := lock.Acquire(); err != nil {
		s.Close()
		return nil, util.NewOpError(util.KindPrecondition, "lock", err)
	}
	s.lock = lock
	s.closers = append(s.closers, func(context.Context) error { return lock.Release() })

	j, err := s.openJournal()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.journal = j
	s.closers = append(s.closers, func(context.Context) error { return j.Close() })
	return s, nil
}

// openJournal opens the operation journal. The caller must hold the lock.
func (s *session) openJournal() (*journal.Journal, error) {
	j, err := journal.Open(journal.Config{
		Path:       s.cfg.JournalDir(),
		MarkersDir: s.cfg.MarkersDir(),
		Logger:     s.component("journal"),
	})
	if err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "journal.open", err)
	}
	return j, nil
}

// Close releases every resource in reverse order. Safe to call twice.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("cleanup failed", "error", err)
		}
	}
	s.closers = nil
}

// component returns a child logger tagged with the component name.
func (s *session) component(name string) *slog.Logger {
	return s.logger.With("component", name)
}

// save persists rec when the session has a journal. A journal failure is a
// warning: the operation itself already happened.
func (s *session) save(rec *ops.Record) {
	if s.journal == nil || rec == nil {
		return
	}
	if err := s.journal.Save(rec); err != nil {
		s.logger.Warn("operation not journaled", "id", rec.ID, "error", err)
		s.printer.Warning("operation %s not journaled: %v", rec.ID, err)
	}
}

// =============================================================================
// STACK
// =============================================================================

// stack is the set of wired components a command works with.
type stack struct {
	ctrl        runtime.Controller
	topo        topology.Topology
	admin       *datastore.Admin
	sampler     health.Sampler
	backups     *backup.Engine
	gate        *health.Gate
	evaluator   *health.Evaluator
	checks      []health.Check
	notifier    notify.Sink
	issuer      *guard.Issuer
	restorer    *restore.Engine
	coordinator *deploy.Coordinator
}

// verify runs the full-system health evaluation.
func (st *stack) verify(ctx context.Context) health.Report {
	return st.evaluator.Evaluate(ctx, st.checks)
}

// buildStack connects to the Docker daemon and wires every component.
func (s *session) buildStack(ctx context.Context) (*stack, error) {
	docker, err := runtime.NewDocker(runtime.DockerConfig{
		Project:     s.cfg.Project,
		Host:        s.cfg.Runtime.Host,
		StopTimeout: s.cfg.Runtime.StopTimeout,
	}, s.component("runtime"))
	if err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "runtime", err)
	}
	s.closers = append(s.closers, func(context.Context) error { return docker.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, util.DefaultProbeTimeout)
	defer cancel()
	if err := docker.Ping(pingCtx); err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "runtime", fmt.Errorf("docker daemon unreachable: %w", err))
	}
	return s.assemble(ctx, docker)
}

// assemble wires every component around ctrl.
//
// # Description
//
// The wiring order follows the dependencies:
//
//	Topology -> Admin -> Sampler -> Remote -> BackupEngine -> Gate ->
//	Evaluator -> Notifier -> Issuer -> RestoreEngine -> Coordinator
//
// The journal, when open, is the backup engine's anchor source and the
// restore engine's marker writer. Without an open journal, anchors are read
// from a journal opened on demand.
func (s *session) assemble(ctx context.Context, ctrl runtime.Controller) (*stack, error) {
	cfg := s.cfg
	topo, err := cfg.Topology()
	if err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "topology", err)
	}

	st := &stack{ctrl: ctrl, topo: topo}
	st.admin = datastore.NewAdmin(cfg.Datastore.DSN, cfg.Datastore.Database, s.component("datastore"))

	if sampler, err := health.NewProcSampler(); err != nil {
		s.logger.Warn("resource sampling unavailable", "error", err)
	} else {
		st.sampler = sampler
	}

	backupDeps := backup.Deps{
		Controller: ctrl,
		Topology:   topo,
		Sampler:    st.sampler,
		Logger:     s.component("backup"),
	}
	if s.journal != nil {
		backupDeps.Anchors = s.journal
	} else {
		backupDeps.Anchors = journalAnchors{s: s}
	}
	uploader, err := s.remoteUploader(ctx)
	if err != nil {
		s.logger.Warn("remote replication disabled", "error", err)
		s.printer.Warning("remote replication disabled: %v", err)
	} else if uploader != nil {
		backupDeps.Remote = uploader
	}
	st.backups = backup.NewEngine(backup.Config{
		Dir:            cfg.Backup.Dir,
		Datastore:      cfg.DatastoreTarget(),
		Cache:          cfg.CacheTarget(),
		ConfigPaths:    cfg.Backup.ConfigPaths,
		AssetPaths:     cfg.Backup.AssetPaths,
		DiskThresholds: cfg.Backup.DiskThresholds,
		RemotePrefix:   cfg.Backup.Remote.Prefix,
	}, backupDeps)

	st.gate = health.NewGate(health.NewDefaultProber(ctrl, st.admin.Ping), cfg.GatePolicy(), s.component("gate"))
	st.evaluator = health.NewEvaluator(s.component("health"))
	st.checks, err = buildChecks(cfg, ctrl, topo, st.sampler, st.backups.LastVerifiedAt)
	if err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "health", err)
	}
	st.notifier = s.notifier()
	st.issuer = guard.NewIssuer(ux.TerminalPrompter{}, assumeYes, s.printer, s.component("guard"))

	restoreDeps := restore.Deps{
		Controller: ctrl,
		Topology:   topo,
		Backups:    st.backups,
		Admin:      st.admin,
		Gate:       st.gate,
		Verify:     st.verify,
		Notifier:   st.notifier,
		Metrics:    s.metrics,
		Logger:     s.component("restore"),
	}
	if s.journal != nil {
		restoreDeps.Markers = s.journal
	}
	st.restorer = restore.NewEngine(restore.Config{
		Datastore: cfg.DatastoreTarget(),
		Cache:     cfg.CacheTarget(),
	}, restoreDeps)

	deployLogger := s.component("deploy")
	st.coordinator = deploy.NewCoordinator(cfg.DeployConfig(), deploy.Deps{
		Controller: ctrl,
		Backups:    st.backups,
		Gate:       st.gate,
		Verify:     st.verify,
		Rollbacker: st.restorer,
		Notifier:   st.notifier,
		Metrics:    s.metrics,
		Printer:    s.printer,
		Logger:     deployLogger,
		Observer: func(t deploy.Transition) {
			deployLogger.Debug("service state", "service", t.Service, "from", t.From, "to", t.To)
		},
	})
	return st, nil
}

// journalAnchors reads pending anchors from a journal opened on demand. It
// serves sessions that do not keep the journal open, such as the scheduler,
// whose prune runs happen while it holds the lock.
type journalAnchors struct {
	s *session
}

func (a journalAnchors) PendingAnchors() (map[string]bool, error) {
	j, err := a.s.openJournal()
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.PendingAnchors()
}

// notifier fans out to every configured sink, or drops events when none is.
func (s *session) notifier() notify.Sink {
	var sinks []notify.Sink
	if s.cfg.Notifications.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhook(s.cfg.WebhookConfig()))
	}
	if email := s.cfg.Notifications.Email; email.Host != "" {
		password, err := revealOptional(email.Password)
		if err != nil {
			s.logger.Warn("smtp password unavailable", "error", err)
		}
		sinks = append(sinks, notify.NewEmail(notify.EmailConfig{
			Host:     email.Host,
			Port:     email.Port,
			Username: email.Username,
			Password: password,
			From:     email.From,
			To:       email.To,
		}))
	}
	if len(sinks) == 0 {
		return notify.Noop{}
	}
	return notify.NewMulti(s.component("notify"), sinks...)
}

// remoteUploader creates the configured off-host replica, or nil.
func (s *session) remoteUploader(ctx context.Context) (remote.Uploader, error) {
	r := s.cfg.Backup.Remote
	switch {
	case r.GCS != nil:
		gcs, err := remote.NewGCS(ctx, remote.GCSConfig{
			ProjectID:       r.GCS.Project,
			Bucket:          r.GCS.Bucket,
			CredentialsFile: r.GCS.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return gcs.Close() })
		return gcs, nil

	case r.S3 != nil:
		accessKey, err := revealOptional(r.S3.AccessKey)
		if err != nil {
			return nil, fmt.Errorf("s3 access key: %w", err)
		}
		secretKey, err := revealOptional(r.S3.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("s3 secret key: %w", err)
		}
		s3, err := remote.NewS3(ctx, remote.S3Config{
			Bucket:    r.S3.Bucket,
			Region:    r.S3.Region,
			Endpoint:  r.S3.Endpoint,
			PathStyle: r.S3.PathStyle,
			AccessKey: accessKey,
			SecretKey: secretKey,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return s3.Close() })
		return s3, nil
	}
	return nil, nil
}

// revealOptional returns "" for an unset secret.
func revealOptional(secret config.Secret) (string, error) {
	if !secret.IsSet() {
		return "", nil
	}
	return secret.Reveal()
}

// buildChecks turns the health configuration into checks.
//
// # Description
//
// Resource checks need a sampler and are skipped without one. Every service
// of the topology gets a liveness check. Endpoints default to CRITICAL on
// failure unless their severity says WARNING.
func buildChecks(cfg *config.Config, ctrl runtime.Controller, topo topology.Topology, sampler health.Sampler, lastBackup health.LastBackupFunc) ([]health.Check, error) {
	h := cfg.Health
	var checks []health.Check

	if sampler != nil {
		checks = append(checks, health.CPUCheck(sampler, h.CPU), health.MemoryCheck(sampler, h.Memory))
		for _, path := range h.DiskPaths {
			checks = append(checks, health.DiskCheck(sampler, path, h.Disk), health.InodeCheck(sampler, path, h.Inodes))
		}
	}
	for _, name := range topo.Names() {
		checks = append(checks, health.LivenessCheck(ctrl, name))
	}
	for _, e := range h.Endpoints {
		failure := health.StatusCritical
		if e.Severity != "" {
			status, err := health.ParseStatus(e.Severity)
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", e.Name, err)
			}
			failure = status
		}
		checks = append(checks, health.EndpointCheck(e.Name, e.Target, e.Timeout, failure))
	}
	for _, addr := range h.Certificates {
		checks = append(checks, health.CertificateCheck(addr, h.CertificateDays))
	}
	if lastBackup != nil {
		checks = append(checks, health.BackupFreshnessCheck(lastBackup, h.BackupAgeDays))
	}
	if h.AlertsURL != "" {
		checks = append(checks, health.AlertCountCheck(h.AlertsURL, h.Alerts))
	}
	if h.AuthLog != "" {
		checks = append(checks, health.FailedLoginCheck(h.AuthLog, nil, h.FailedLoginWindow, h.FailedLogins))
	}
	return checks, nil
}

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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/drydock/cmd/drydock/config"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/process"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/maintenance"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// =============================================================================
// Test Helpers
// =============================================================================

// testConfig returns a validated configuration rooted in a temp directory
// with telemetry exporters disabled.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	doc := fmt.Sprintf(`
project: test
state_dir: %[1]s/state
backup:
  dir: %[1]s/backups
telemetry:
  trace_exporter: none
  metric_exporter: none
logging:
  level: error
  dir: %[1]s/logs
`, dir)
	cfg, err := config.Parse([]byte(doc), nil)
	require.NoError(t, err)
	return cfg
}

func checkNames(checks []health.Check) []string {
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.Name
	}
	return names
}

type stubSampler struct{}

func (stubSampler) CPUPercent(context.Context) (float64, error)           { return 10, nil }
func (stubSampler) MemoryPercent(context.Context) (float64, error)        { return 20, nil }
func (stubSampler) DiskPercent(context.Context, string) (float64, error)  { return 30, nil }
func (stubSampler) InodePercent(context.Context, string) (float64, error) { return 5, nil }

func neverBackedUp(context.Context) (time.Time, bool, error) { return time.Time{}, false, nil }

// =============================================================================
// Session Tests
// =============================================================================

func TestNewSession_MutatingHoldsTheLock(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := newSession(ctx, cfg, sessionOptions{Mutating: true})
	require.NoError(t, err)
	require.NotNil(t, first.journal)
	assert.True(t, first.lock.IsHeld())

	_, err = newSession(ctx, cfg, sessionOptions{Mutating: true})
	require.Error(t, err)
	assert.Equal(t, util.KindPrecondition, util.KindOf(err))
	var held *process.ErrLockHeld
	assert.True(t, errors.As(err, &held))

	reader, err := newSession(ctx, cfg, sessionOptions{})
	require.NoError(t, err, "read-only sessions do not take the lock")
	assert.Nil(t, reader.journal)
	reader.Close()

	first.Close()
	first.Close()

	again, err := newSession(ctx, cfg, sessionOptions{Mutating: true})
	require.NoError(t, err)
	again.Close()
}

func TestNewSession_BadLogLevel(t *testing.T) {
	cfg := testConfig(t)
	logLevel = "loud"
	t.Cleanup(func() { logLevel = "" })

	_, err := newSession(context.Background(), cfg, sessionOptions{})
	require.Error(t, err)
	assert.Equal(t, util.KindPrecondition, util.KindOf(err))
}

func TestSession_SaveJournalsRecord(t *testing.T) {
	cfg := testConfig(t)
	s, err := newSession(context.Background(), cfg, sessionOptions{Mutating: true})
	require.NoError(t, err)
	defer s.Close()

	rec := ops.New(ops.KindBackup)
	rec.Anchor = "20250301T120000Z"
	rec.Finish(ops.OutcomeSuccess, nil)
	s.save(rec)

	recs, err := s.journal.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}

// =============================================================================
// Assembly Tests
// =============================================================================

func TestAssemble_WiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	s, err := newSession(context.Background(), cfg, sessionOptions{Mutating: true})
	require.NoError(t, err)
	defer s.Close()

	st, err := s.assemble(context.Background(), runtime.NewFakeController())
	require.NoError(t, err)

	assert.NotNil(t, st.backups)
	assert.NotNil(t, st.gate)
	assert.NotNil(t, st.restorer)
	assert.NotNil(t, st.coordinator)
	assert.NotNil(t, st.issuer)
	assert.IsType(t, notify.Noop{}, st.notifier)

	names := checkNames(st.checks)
	for _, svc := range st.topo.Names() {
		assert.Contains(t, names, "service:"+svc)
	}
	assert.Contains(t, names, "backup-freshness")
	assert.NotContains(t, names, "alerts")
}

func TestSession_NotifierFansOut(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifications.Webhook.URL = "https://hooks.example.com/drydock"
	s, err := newSession(context.Background(), cfg, sessionOptions{})
	require.NoError(t, err)
	defer s.Close()

	multi, ok := s.notifier().(*notify.Multi)
	require.True(t, ok)
	assert.Equal(t, 1, multi.Len())

	cfg.Notifications.Email = config.EmailConfig{
		Host: "smtp.example.com", Port: 587, From: "drydock@example.com", To: []string{"ops@example.com"},
	}
	multi, ok = s.notifier().(*notify.Multi)
	require.True(t, ok)
	assert.Equal(t, 2, multi.Len())
}

func TestBuildChecks(t *testing.T) {
	cfg := config.Default()
	cfg.Health.Endpoints = []config.EndpointConfig{
		{Name: "web", Target: "http://127.0.0.1:8080/healthz"},
		{Name: "docs", Target: "http://127.0.0.1:8081/", Severity: "WARNING"},
	}
	cfg.Health.Certificates = []string{"example.com:443"}
	cfg.Health.AlertsURL = "http://127.0.0.1:9093"
	cfg.Health.AuthLog = "/var/log/auth.log"
	topo, err := cfg.Topology()
	require.NoError(t, err)
	ctrl := runtime.NewFakeController()

	checks, err := buildChecks(&cfg, ctrl, topo, stubSampler{}, neverBackedUp)
	require.NoError(t, err)
	names := checkNames(checks)
	for _, want := range []string{
		"cpu", "memory", "disk:/", "inodes:/", "service:postgres", "service:nginx",
		"endpoint:web", "endpoint:docs", "certificate:example.com:443",
		"backup-freshness", "alerts", "failed-logins",
	} {
		assert.Contains(t, names, want)
	}
	for _, c := range checks {
		switch c.Name {
		case "endpoint:web":
			assert.Equal(t, health.StatusCritical, c.FailureStatus)
		case "endpoint:docs":
			assert.Equal(t, health.StatusWarning, c.FailureStatus)
		}
	}

	t.Run("without a sampler or backups", func(t *testing.T) {
		checks, err := buildChecks(&cfg, ctrl, topo, nil, nil)
		require.NoError(t, err)
		names := checkNames(checks)
		assert.NotContains(t, names, "cpu")
		assert.NotContains(t, names, "backup-freshness")
	})

	t.Run("bad severity", func(t *testing.T) {
		bad := config.Default()
		bad.Health.Endpoints = []config.EndpointConfig{{Name: "web", Target: "http://127.0.0.1/", Severity: "LOUD"}}
		_, err := buildChecks(&bad, ctrl, topo, nil, nil)
		assert.Error(t, err)
	})
}

// =============================================================================
// Maintenance Wiring Tests
// =============================================================================

func TestMaintenanceTasks(t *testing.T) {
	ctrl := runtime.NewFakeController()
	st := &stack{ctrl: ctrl, issuer: guard.NewIssuer(nil, false, nil, nil)}

	cfg := config.Default()
	names := taskNames(maintenanceTasks(&cfg, st, process.NewDefaultManager()))
	assert.Equal(t, []string{
		maintenance.TaskContainerPrune,
		maintenance.TaskLogRotate,
		maintenance.TaskBackupPrune,
		maintenance.TaskCacheOptimize,
	}, names)

	cfg.Datastore.DSN = config.NewSecret("postgres://app@localhost/app")
	cfg.Maintenance.PackageUpdates = true
	cfg.Maintenance.Permissions = []maintenance.PermissionRule{{Path: "/srv/app", DirMode: 0o750}}
	names = taskNames(maintenanceTasks(&cfg, st, process.NewDefaultManager()))
	assert.Contains(t, names, maintenance.TaskDatastoreOptimize)
	assert.Contains(t, names, maintenance.TaskPermissionRepair)
	assert.Contains(t, names, maintenance.TaskPackageUpdate)

	cfg.Cache.Service = ""
	names = taskNames(maintenanceTasks(&cfg, st, process.NewDefaultManager()))
	assert.NotContains(t, names, maintenance.TaskCacheOptimize)
}

func TestMaintenanceRecord(t *testing.T) {
	started := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	report := maintenance.Report{
		StartedAt: started,
		Results: []maintenance.Result{
			{Task: maintenance.TaskLogRotate, Done: []string{"rotated api.log"}},
			{Task: maintenance.TaskCacheOptimize, Err: "redis unreachable"},
		},
	}

	rec := maintenanceRecord(report)
	assert.Equal(t, ops.KindMaintenance, rec.Kind)
	assert.Equal(t, started, rec.StartedAt)
	assert.Equal(t, ops.OutcomeWarning, rec.Outcome)
	assert.Equal(t, []string{"log-rotate: 1 done"}, rec.Succeeded)
	assert.Equal(t, []string{"cache-optimize: redis unreachable"}, rec.Failed)
	assert.NotEmpty(t, rec.Error)
	assert.Equal(t, util.ExitWarning, exitCodeFor(rec, report.Err()))
}

// =============================================================================
// Backup Output Tests
// =============================================================================

func TestRecordBackup(t *testing.T) {
	created := backup.Record{
		ID: "20250301T120000Z",
		Manifest: backup.Manifest{
			Scope:   backup.ScopeFull,
			Entries: []backup.ManifestEntry{{Size: 1024}, {Size: 1024}},
		},
		Replicated: []string{"a", "b", "c"},
	}

	rec := ops.New(ops.KindBackup)
	recordBackup(rec, created, backup.ScopeFull, nil)
	assert.Equal(t, ops.OutcomeSuccess, rec.Outcome)
	require.Len(t, rec.Succeeded, 2)
	assert.Contains(t, rec.Succeeded[0], "2.0 KiB")
	assert.Equal(t, "replicated 3 objects", rec.Succeeded[1])

	created.Warnings = []string{"remote replication failed"}
	rec = ops.New(ops.KindBackup)
	recordBackup(rec, created, backup.ScopeFull, nil)
	assert.Equal(t, ops.OutcomeWarning, rec.Outcome)

	rec = ops.New(ops.KindBackup)
	recordBackup(rec, backup.Record{}, backup.ScopeDatabaseOnly,
		util.NewOpError(util.KindResourceExhaustion, "backup.disk", errors.New("disk 97% full")))
	assert.Equal(t, ops.OutcomeFailed, rec.Outcome)
	assert.Equal(t, []string{"backup"}, rec.Failed)
}

func TestFormatBackup(t *testing.T) {
	rec := backup.Record{
		ID:         "20250301T120000Z",
		Dir:        filepath.Join(t.TempDir(), "20250301T120000Z"),
		Status:     backup.StatusCorrupted,
		Reason:     "checksum mismatch: database.sql.gz",
		Incomplete: true,
	}
	line := formatBackup(rec)
	assert.Contains(t, line, rec.ID)
	assert.Contains(t, line, "incomplete")
	assert.Contains(t, line, "(checksum mismatch: database.sql.gz)")
}

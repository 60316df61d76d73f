// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

func env(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

const sample = `
project: shop
state_dir: /srv/drydock
datastore:
  service: postgres
  database: shop
  dsn: postgres://shop:pw@localhost:5432/shop
cache:
  password: hunter2
backup:
  dir: /srv/backups
  retention_days: 14
  config_paths: [/etc/nginx]
  remote:
    s3:
      bucket: shop-backups
      region: eu-west-1
deploy:
  strategy: full
  attempts: 10
  interval: 3s
  grace_period: 2m
health:
  cpu: {warning: 60, critical: 85}
  endpoints:
    - name: storefront
      target: https://shop.example.com/health
      severity: WARNING
  certificates: [shop.example.com:443]
notifications:
  email:
    host: smtp.example.com
    from: ops@example.com
    to: [oncall@example.com]
maintenance:
  log_dirs: [/var/log/shop]
  permissions:
    - path: /srv/secrets
      file_mode: 0o600
  schedules:
    - cron: "0 3 * * *"
      tasks: [cleanup]
services:
  - name: postgres
    rank: 0
    image: postgres:16
    stateful: true
  - name: shop
    rank: 1
    image: registry.example.com/shop:2.3.1
    probe:
      kind: http
      target: http://{host}:8080/health
      timeout: 2s
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sample), env(nil))
	require.NoError(t, err)

	assert.Equal(t, "shop", cfg.Project)
	assert.Equal(t, 14, cfg.Backup.RetentionDays)
	assert.Equal(t, 14*24*time.Hour, cfg.RetentionWindow())
	assert.Equal(t, topology.StrategyFullRestart, cfg.Strategy())
	assert.Equal(t, util.FixedPolicy(10, 3*time.Second), cfg.GatePolicy())
	assert.Equal(t, 2*time.Minute, cfg.DeployConfig().GracePeriod)
	assert.Equal(t, 4, cfg.DeployConfig().MaxParallel, "defaults survive partial sections")
	assert.Equal(t, 60.0, cfg.Health.CPU.Warning)
	assert.Equal(t, 95.0, cfg.Health.Memory.Critical)
	assert.Equal(t, os.FileMode(0o600), cfg.Maintenance.Permissions[0].FileMode)
	require.NotNil(t, cfg.Backup.Remote.S3)
	assert.Equal(t, "shop-backups", cfg.Backup.Remote.S3.Bucket)

	dsn, err := cfg.Datastore.DSN.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "postgres://shop:pw@localhost:5432/shop", dsn)

	target := cfg.CacheTarget()
	require.NotNil(t, target.Password)
	pw, err := target.Password.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)

	topo, err := cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres", "shop"}, topo.Names())
	shop, err := topo.Get("shop")
	require.NoError(t, err)
	assert.Equal(t, "shop", shop.Spec.Network)
	assert.Equal(t, 2*time.Second, shop.Probe.Timeout)
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil, env(nil))
	require.NoError(t, err)

	assert.Equal(t, Default().Deploy, cfg.Deploy)
	assert.False(t, cfg.Datastore.DSN.IsSet())
	assert.Nil(t, cfg.CacheTarget().Password)

	topo, err := cfg.Topology()
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres", "redis", "api", "worker", "frontend", "nginx"}, topo.Names())
}

func TestParse_EnvOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sample), env(map[string]string{
		EnvDatastoreDSN:  "postgres://override@db/shop",
		EnvWebhookURL:    "https://hooks.example.com/T000/B000",
		EnvRetentionDays: "7",
	}))
	require.NoError(t, err)

	dsn, err := cfg.Datastore.DSN.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "postgres://override@db/shop", dsn)
	assert.Equal(t, "https://hooks.example.com/T000/B000", cfg.WebhookConfig().URL)
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{"unknown key", "projct: x\n", nil, "projct"},
		{"bad strategy", "deploy: {strategy: canary}\n", nil, "Strategy"},
		{"zero attempts", "deploy: {attempts: 0}\n", nil, "Attempts"},
		{"inverted thresholds out of order", "health: {certificate_days: {warning: 7, critical: 30, inverted: true}}\n", nil, "certificate_days"},
		{"ordered thresholds out of order", "health: {cpu: {warning: 90, critical: 70}}\n", nil, "health.cpu"},
		{"email without recipients", "notifications: {email: {host: smtp.example.com}}\n", nil, "notifications.email"},
		{"two remotes", "backup: {remote: {gcs: {bucket: a}, s3: {bucket: b}}}\n", nil, "not both"},
		{"duplicate services", "services: [{name: a, image: a:1}, {name: a, image: a:2}]\n", nil, "services"},
		{"retention env", "", map[string]string{EnvRetentionDays: "two weeks"}, EnvRetentionDays},
		{"retention zero", "", map[string]string{EnvRetentionDays: "0"}, "RetentionDays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), env(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "drydock.yaml"))
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.KindPrecondition))
	assert.Contains(t, err.Error(), "drydock init")
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drydock.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir: state\nbackup: {dir: backups, config_paths: [nginx]}\n"), 0640))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.StateDir)
	assert.Equal(t, filepath.Join(dir, "backups"), cfg.Backup.Dir)
	assert.Equal(t, []string{filepath.Join(dir, "nginx")}, cfg.Backup.ConfigPaths)
	assert.Equal(t, filepath.Join(dir, "state", "journal"), cfg.JournalDir())
	assert.Equal(t, filepath.Join(dir, "state", "markers"), cfg.MarkersDir())
	assert.Equal(t, filepath.Join(dir, "state", "logs"), cfg.LogDir())
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "drydock.yaml")
	require.NoError(t, WriteDefault(path))
	assert.Error(t, WriteDefault(path), "existing files are not overwritten")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg, err := Parse(data, env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default().Deploy, cfg.Deploy)
	assert.Equal(t, Default().Health.CertificateDays, cfg.Health.CertificateDays)
}

func TestSecret_NeverSerialized(t *testing.T) {
	s := NewSecret("hunter2")
	assert.True(t, s.IsSet())
	assert.Equal(t, "[REDACTED]", s.String())
	out, err := s.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "", out)

	_, err = Secret{}.Reveal()
	assert.ErrorIs(t, err, ErrSecretNotSet)
}

func TestTelemetryConfig_FileOverrides(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/srv/state"
	cfg.Telemetry.TraceExporter = "none"

	tc := cfg.TelemetryConfig("1.2.3")
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, "none", tc.TraceExporter)
	assert.Equal(t, "/srv/state/traces.jsonl", tc.TraceFile)
}

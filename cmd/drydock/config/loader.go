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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "drydock.yaml"

// Environment overrides.
const (
	EnvDatastoreDSN  = "DRYDOCK_DATASTORE_DSN"
	EnvWebhookURL    = "DRYDOCK_WEBHOOK_URL"
	EnvRetentionDays = "DRYDOCK_RETENTION_DAYS"
)

// LookupFunc matches os.LookupEnv. Tests pass a map lookup.
type LookupFunc func(key string) (string, bool)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, overrides and validates the configuration at path.
//
// # Description
//
// Keys absent from the file keep their Default values. Environment
// overrides are applied after decoding, then the result is validated.
// Relative paths in the file resolve against the file's directory.
//
// # Inputs
//
//   - path: YAML file. Missing files are a precondition error pointing at
//     "drydock init".
//
// # Outputs
//
//   - *Config: Validated configuration. Treat as read-only.
//   - error: *util.OpError with KindPrecondition.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, util.NewOpError(util.KindPrecondition, "config.load",
			fmt.Errorf("%s not found (create one with 'drydock init'): %w", path, err))
	}
	if err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "config.load", fmt.Errorf("read %s: %w", path, err))
	}

	cfg, err := Parse(data, os.LookupEnv)
	if err != nil {
		return nil, util.NewOpError(util.KindPrecondition, "config.load", fmt.Errorf("%s: %w", path, err))
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err == nil {
		cfg.resolvePaths(abs)
	}
	return cfg, nil
}

// Parse decodes data over Default, applies overrides from lookup and
// validates.
func Parse(data []byte, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies the DRYDOCK_* overrides.
func (c *Config) applyEnv(lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup(EnvDatastoreDSN); ok && v != "" {
		c.Datastore.DSN = NewSecret(v)
	}
	if v, ok := lookup(EnvWebhookURL); ok && v != "" {
		c.Notifications.Webhook.URL = v
	}
	if v, ok := lookup(EnvRetentionDays); ok && v != "" {
		days, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetentionDays, err)
		}
		c.Backup.RetentionDays = days
	}
	return nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	thresholds := map[string]interface{ Validate() error }{
		"health.cpu":              c.Health.CPU,
		"health.memory":           c.Health.Memory,
		"health.disk":             c.Health.Disk,
		"health.inodes":           c.Health.Inodes,
		"health.certificate_days": c.Health.CertificateDays,
		"health.backup_age_days":  c.Health.BackupAgeDays,
		"health.alerts":           c.Health.Alerts,
		"health.failed_logins":    c.Health.FailedLogins,
		"backup.disk_thresholds":  c.Backup.DiskThresholds,
	}
	for name, th := range thresholds {
		if err := th.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Notifications.Email.Host != "" && (c.Notifications.Email.From == "" || len(c.Notifications.Email.To) == 0) {
		errs = append(errs, errors.New("notifications.email: from and to are required when host is set"))
	}
	if c.Backup.Remote.GCS != nil && c.Backup.Remote.S3 != nil {
		errs = append(errs, errors.New("backup.remote: configure gcs or s3, not both"))
	}
	if len(c.Services) > 0 {
		if _, err := c.Topology(); err != nil {
			errs = append(errs, fmt.Errorf("services: %w", err))
		}
	}
	return errors.Join(errs...)
}

// fieldPath turns "Config.Backup.RetentionDays" into "Backup.RetentionDays".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// resolvePaths makes relative paths absolute against base.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "~") {
			return p
		}
		return filepath.Join(base, p)
	}
	c.StateDir = abs(c.StateDir)
	c.Backup.Dir = abs(c.Backup.Dir)
	c.Logging.Dir = abs(c.Logging.Dir)
	c.Telemetry.TraceFile = abs(c.Telemetry.TraceFile)
	c.Telemetry.Textfile = abs(c.Telemetry.Textfile)
	c.Health.AuthLog = abs(c.Health.AuthLog)
	for i, p := range c.Backup.ConfigPaths {
		c.Backup.ConfigPaths[i] = abs(p)
	}
	for i, p := range c.Backup.AssetPaths {
		c.Backup.AssetPaths[i] = abs(p)
	}
	for i, p := range c.Maintenance.LogDirs {
		c.Maintenance.LogDirs[i] = abs(p)
	}
	for i := range c.Maintenance.Permissions {
		c.Maintenance.Permissions[i].Path = abs(c.Maintenance.Permissions[i].Path)
	}
}

// WriteDefault writes the default configuration to path. Existing files are
// left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create the config directory %w", err)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

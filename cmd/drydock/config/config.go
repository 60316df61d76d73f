// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads drydock.yaml into an immutable Config.
//
// The Config is read once per invocation and passed explicitly to every
// component; nothing reads configuration from globals. Three environment
// variables override the file:
//
//   - DRYDOCK_DATASTORE_DSN: datastore connection string
//   - DRYDOCK_WEBHOOK_URL: notification webhook
//   - DRYDOCK_RETENTION_DAYS: backup retention window in days
package config

import (
	"path/filepath"
	"time"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/deploy"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/maintenance"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/telemetry"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// =============================================================================
// Root
// =============================================================================

// Config is the whole drydock configuration.
type Config struct {
	// Project names the deployment; it prefixes container names.
	Project string `yaml:"project" validate:"required,hostname_rfc1123"`

	// StateDir holds the lock, journal, markers and logs.
	StateDir string `yaml:"state_dir" validate:"required"`

	// Services replaces the default topology when non-empty.
	Services []ServiceConfig `yaml:"services" validate:"dive"`

	Runtime       RuntimeConfig     `yaml:"runtime"`
	Datastore     DatastoreConfig   `yaml:"datastore"`
	Cache         CacheConfig       `yaml:"cache"`
	Backup        BackupConfig      `yaml:"backup"`
	Deploy        DeployConfig      `yaml:"deploy"`
	Health        HealthConfig      `yaml:"health"`
	Notifications NotifyConfig      `yaml:"notifications"`
	Maintenance   MaintenanceConfig `yaml:"maintenance"`
	Telemetry     TelemetryConfig   `yaml:"telemetry"`
	Logging       LoggingConfig     `yaml:"logging"`
}

// ServiceConfig describes one service in drydock.yaml.
type ServiceConfig struct {
	Name      string                `yaml:"name" validate:"required"`
	Rank      int                   `yaml:"rank" validate:"gte=0"`
	Tier      string                `yaml:"tier"`
	Image     string                `yaml:"image" validate:"required"`
	Env       map[string]string     `yaml:"env"`
	Ports     []runtime.PortMapping `yaml:"ports"`
	Volumes   []string              `yaml:"volumes"`
	Command   []string              `yaml:"command"`
	Probe     topology.Probe        `yaml:"probe"`
	Stateful  bool                  `yaml:"stateful"`
	Exclusive bool                  `yaml:"exclusive"`
}

// RuntimeConfig selects the Docker daemon.
type RuntimeConfig struct {
	// Host overrides DOCKER_HOST.
	Host string `yaml:"host"`

	// Network joins every container. Default: the project name.
	Network string `yaml:"network"`

	StopTimeout time.Duration `yaml:"stop_timeout" validate:"gte=0"`
}

// DatastoreConfig names the PostgreSQL service.
type DatastoreConfig struct {
	Service  string `yaml:"service" validate:"required"`
	Database string `yaml:"database" validate:"required"`
	User     string `yaml:"user"`
	DSN      Secret `yaml:"dsn"`
}

// CacheConfig names the Redis service. An empty Service disables cache
// snapshots.
type CacheConfig struct {
	Service  string `yaml:"service"`
	RDBPath  string `yaml:"rdb_path"`
	Password Secret `yaml:"password"`
}

// BackupConfig configures the backup store.
type BackupConfig struct {
	Dir            string            `yaml:"dir" validate:"required"`
	RetentionDays  int               `yaml:"retention_days" validate:"gte=1"`
	ConfigPaths    []string          `yaml:"config_paths"`
	AssetPaths     []string          `yaml:"asset_paths"`
	DiskThresholds health.Thresholds `yaml:"disk_thresholds"`
	Remote         RemoteConfig      `yaml:"remote"`
}

// RemoteConfig selects at most one off-host replica.
type RemoteConfig struct {
	Prefix string     `yaml:"prefix"`
	GCS    *GCSConfig `yaml:"gcs"`
	S3     *S3Config  `yaml:"s3"`
}

// GCSConfig configures Google Cloud Storage replication.
type GCSConfig struct {
	Project         string `yaml:"project"`
	Bucket          string `yaml:"bucket" validate:"required"`
	CredentialsFile string `yaml:"credentials_file"`
}

// S3Config configures S3 replication.
type S3Config struct {
	Bucket    string `yaml:"bucket" validate:"required"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey Secret `yaml:"access_key"`
	SecretKey Secret `yaml:"secret_key"`
}

// DeployConfig configures rollouts.
type DeployConfig struct {
	Strategy        string        `yaml:"strategy" validate:"oneof=rolling full full-restart"`
	Attempts        int           `yaml:"attempts" validate:"gte=1"`
	Interval        time.Duration `yaml:"interval" validate:"gt=0"`
	MaxParallel     int           `yaml:"max_parallel" validate:"gte=1"`
	GracePeriod     time.Duration `yaml:"grace_period" validate:"gt=0"`
	PreflightMaxAge time.Duration `yaml:"preflight_max_age" validate:"gte=0"`
	StepTimeout     time.Duration `yaml:"step_timeout" validate:"gte=0"`
}

// HealthConfig configures checks and their thresholds.
type HealthConfig struct {
	CPU    health.Thresholds `yaml:"cpu"`
	Memory health.Thresholds `yaml:"memory"`
	Disk   health.Thresholds `yaml:"disk"`
	Inodes health.Thresholds `yaml:"inodes"`

	// DiskPaths are the filesystems checked for disk and inode usage.
	DiskPaths []string `yaml:"disk_paths"`

	Endpoints []EndpointConfig `yaml:"endpoints" validate:"dive"`

	// Certificates are host:port addresses checked for expiry.
	Certificates    []string          `yaml:"certificates" validate:"dive,hostname_port"`
	CertificateDays health.Thresholds `yaml:"certificate_days"`

	BackupAgeDays health.Thresholds `yaml:"backup_age_days"`

	AlertsURL string            `yaml:"alerts_url" validate:"omitempty,url"`
	Alerts    health.Thresholds `yaml:"alerts"`

	AuthLog           string            `yaml:"auth_log"`
	FailedLogins      health.Thresholds `yaml:"failed_logins"`
	FailedLoginWindow time.Duration     `yaml:"failed_login_window" validate:"gte=0"`

	// CacheFor caches reports served by health-check --serve.
	CacheFor time.Duration `yaml:"cache_for" validate:"gte=0"`
}

// EndpointConfig is a reachability check. Target is http(s)://... or
// tcp://host:port.
type EndpointConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	Target   string        `yaml:"target" validate:"required,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	Severity string        `yaml:"severity" validate:"omitempty,oneof=WARNING CRITICAL"`
}

// NotifyConfig configures notification sinks. Both may be active.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Email   EmailConfig   `yaml:"email"`
}

// WebhookConfig configures the webhook sink. Empty URL disables it.
type WebhookConfig struct {
	URL       string        `yaml:"url" validate:"omitempty,url"`
	PerMinute int           `yaml:"per_minute" validate:"gte=0"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
}

// EmailConfig configures the SMTP sink. Empty Host disables it.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port" validate:"gte=0,lte=65535"`
	Username string   `yaml:"username"`
	Password Secret   `yaml:"password"`
	From     string   `yaml:"from" validate:"omitempty,email"`
	To       []string `yaml:"to" validate:"dive,email"`
}

// MaintenanceConfig configures housekeeping.
type MaintenanceConfig struct {
	LogDirs      []string                     `yaml:"log_dirs"`
	LogMaxSize   int64                        `yaml:"log_max_size" validate:"gte=0"`
	LogRetention time.Duration                `yaml:"log_retention" validate:"gte=0"`
	Permissions  []maintenance.PermissionRule `yaml:"permissions" validate:"dive"`
	Schedules    []maintenance.ScheduleEntry  `yaml:"schedules" validate:"dive"`

	// PackageUpdates enables the package-update task.
	PackageUpdates bool `yaml:"package_updates"`
}

// TelemetryConfig configures traces and metric exports.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"omitempty,oneof=file stdout otlp none"`
	TraceFile      string `yaml:"trace_file"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`

	// Textfile receives Prometheus gauges for node_exporter's textfile
	// collector on health-check --export.
	Textfile string `yaml:"textfile"`

	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig configures the InfluxDB export. Empty URL disables it.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  Secret `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket" validate:"required_with=URL"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`

	// Dir receives daily JSON log files. Default <state_dir>/logs.
	Dir string `yaml:"dir"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Project:  "drydock",
		StateDir: "/var/lib/drydock",
		Datastore: DatastoreConfig{
			Service:  "postgres",
			Database: "app",
			User:     "app",
		},
		Cache: CacheConfig{
			Service: "redis",
			RDBPath: "/data/dump.rdb",
		},
		Backup: BackupConfig{
			Dir:            "/var/backups/drydock",
			RetentionDays:  30,
			DiskThresholds: health.Thresholds{Warning: 80, Critical: 95},
		},
		Deploy: DeployConfig{
			Strategy:        string(topology.StrategyRolling),
			Attempts:        30,
			Interval:        10 * time.Second,
			MaxParallel:     4,
			GracePeriod:     5 * time.Minute,
			PreflightMaxAge: time.Hour,
			StepTimeout:     30 * time.Minute,
		},
		Health: HealthConfig{
			CPU:               health.Thresholds{Warning: 70, Critical: 90},
			Memory:            health.Thresholds{Warning: 80, Critical: 95},
			Disk:              health.Thresholds{Warning: 80, Critical: 90},
			Inodes:            health.Thresholds{Warning: 80, Critical: 90},
			DiskPaths:         []string{"/"},
			CertificateDays:   health.Thresholds{Warning: 30, Critical: 7, Inverted: true},
			BackupAgeDays:     health.Thresholds{Warning: 2, Critical: 7},
			Alerts:            health.Thresholds{Warning: 1, Critical: 5},
			FailedLogins:      health.Thresholds{Warning: 20, Critical: 100},
			FailedLoginWindow: time.Hour,
			CacheFor:          10 * time.Second,
		},
		Notifications: NotifyConfig{
			Webhook: WebhookConfig{PerMinute: 30, Timeout: 10 * time.Second},
			Email:   EmailConfig{Port: 587},
		},
		Maintenance: MaintenanceConfig{
			LogMaxSize:   maintenance.DefaultRotateSize,
			LogRetention: maintenance.DefaultRotateRetention,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  telemetry.ExporterFile,
			MetricExporter: telemetry.ExporterPrometheus,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// =============================================================================
// Derived Settings
// =============================================================================

// Network returns the container network name.
func (c *Config) Network() string {
	if c.Runtime.Network != "" {
		return c.Runtime.Network
	}
	return c.Project
}

// Topology builds the service topology.
func (c *Config) Topology() (topology.Topology, error) {
	if len(c.Services) == 0 {
		return topology.New(topology.DefaultServices(c.Network()))
	}
	services := make([]topology.ServiceDescriptor, 0, len(c.Services))
	for _, s := range c.Services {
		services = append(services, topology.ServiceDescriptor{
			Name: s.Name,
			Rank: s.Rank,
			Tier: s.Tier,
			Spec: runtime.InstanceSpec{
				Image:   s.Image,
				Env:     s.Env,
				Ports:   s.Ports,
				Volumes: s.Volumes,
				Network: c.Network(),
				Command: s.Command,
			},
			Probe:     s.Probe,
			Stateful:  s.Stateful,
			Exclusive: s.Exclusive,
		})
	}
	return topology.New(services)
}

// Strategy returns the configured rollout strategy.
func (c *Config) Strategy() topology.Strategy {
	s, err := topology.ParseStrategy(c.Deploy.Strategy)
	if err != nil {
		return topology.StrategyRolling
	}
	return s
}

// DatastoreTarget returns the backup/restore view of the datastore.
func (c *Config) DatastoreTarget() backup.DatastoreTarget {
	return backup.DatastoreTarget{Service: c.Datastore.Service, Database: c.Datastore.Database, User: c.Datastore.User}
}

// CacheTarget returns the backup/restore view of the cache. The password is
// passed only when set so redis-cli is not handed an empty REDISCLI_AUTH.
func (c *Config) CacheTarget() backup.CacheTarget {
	target := backup.CacheTarget{Service: c.Cache.Service, RDBPath: c.Cache.RDBPath}
	if c.Cache.Password.IsSet() {
		target.Password = c.Cache.Password
	}
	return target
}

// RetentionWindow returns the backup retention window.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
}

// GatePolicy returns the readiness retry policy.
func (c *Config) GatePolicy() util.RetryPolicy {
	return util.FixedPolicy(c.Deploy.Attempts, c.Deploy.Interval)
}

// DeployConfig returns the coordinator settings.
func (c *Config) DeployConfig() deploy.Config {
	return deploy.Config{
		MaxParallel:     c.Deploy.MaxParallel,
		PreflightMaxAge: c.Deploy.PreflightMaxAge,
		StepTimeout:     c.Deploy.StepTimeout,
		GracePeriod:     c.Deploy.GracePeriod,
	}
}

// WebhookConfig returns the webhook sink settings.
func (c *Config) WebhookConfig() notify.WebhookConfig {
	return notify.WebhookConfig{
		URL:       c.Notifications.Webhook.URL,
		Timeout:   c.Notifications.Webhook.Timeout,
		PerMinute: c.Notifications.Webhook.PerMinute,
	}
}

// TelemetryConfig returns the telemetry settings layered over the
// environment defaults.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig(c.StateDir)
	cfg.ServiceVersion = version
	if c.Telemetry.TraceExporter != "" {
		cfg.TraceExporter = c.Telemetry.TraceExporter
	}
	if c.Telemetry.TraceFile != "" {
		cfg.TraceFile = c.Telemetry.TraceFile
	}
	if c.Telemetry.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	}
	if c.Telemetry.MetricExporter != "" {
		cfg.MetricExporter = c.Telemetry.MetricExporter
	}
	return cfg
}

// JournalDir is the BadgerDB directory.
func (c *Config) JournalDir() string { return filepath.Join(c.StateDir, "journal") }

// MarkersDir receives diagnostic marker files.
func (c *Config) MarkersDir() string { return filepath.Join(c.StateDir, "markers") }

// LogDir receives daily log files.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(c.StateDir, "logs")
}

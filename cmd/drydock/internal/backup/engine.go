// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/remote"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// =============================================================================
// Configuration
// =============================================================================

// SecretSource reveals a secret on demand.
type SecretSource interface {
	Reveal() (string, error)
}

// DatastoreTarget names the datastore service and database.
type DatastoreTarget struct {
	Service  string
	Database string
	User     string
}

// CacheTarget names the cache service and its RDB file.
type CacheTarget struct {
	Service  string
	RDBPath  string
	Password SecretSource
}

// Config configures an Engine.
type Config struct {
	// Dir is the backup store.
	Dir string

	Datastore DatastoreTarget
	Cache     CacheTarget

	// ConfigPaths are host files or directories copied into config/.
	ConfigPaths []string

	// AssetPaths are host directories archived into assets.tar.zst.
	AssetPaths []string

	// DiskThresholds classify backup-store disk usage before a backup.
	DiskThresholds health.Thresholds

	// SnapshotPolicy polls LASTSAVE after BGSAVE.
	SnapshotPolicy util.RetryPolicy

	// RemotePrefix is prepended to remote object keys.
	RemotePrefix string
}

// AnchorSource lists backup ids that must survive pruning.
type AnchorSource interface {
	PendingAnchors() (map[string]bool, error)
}

// Deps are the Engine's collaborators. Sampler, Anchors and Remote are
// optional.
type Deps struct {
	Controller runtime.Controller
	Topology   topology.Topology
	Sampler    health.Sampler
	Anchors    AnchorSource
	Remote     remote.Uploader
	Logger     *slog.Logger
}

// Engine is the BackupEngine.
type Engine struct {
	config Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(config Config, deps Deps) *Engine {
	if config.SnapshotPolicy.MaxAttempts == 0 {
		config.SnapshotPolicy = util.BackoffPolicy(20, 500*time.Millisecond, 5*time.Second)
	}
	if config.DiskThresholds == (health.Thresholds{}) {
		config.DiskThresholds = health.Thresholds{Warning: 80, Critical: 95}
	}
	if config.Cache.RDBPath == "" {
		config.Cache.RDBPath = "/data/dump.rdb"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: config, deps: deps, logger: logger, now: time.Now}
}

// Dir returns the backup store directory.
func (e *Engine) Dir() string {
	return e.config.Dir
}

// =============================================================================
// Create
// =============================================================================

// CreateOptions parameterize CreateBackup.
type CreateOptions struct {
	Scope    Scope
	NoRemote bool
}

// CreateBackup writes, verifies and optionally replicates a new backup.
//
// # Description
//
// Refuses to start when the backup store's disk is CRITICAL. Writes the
// datastore dump, the cache snapshot, config trees and assets (full scope
// only), then the manifest. The .incomplete marker is removed only after the
// manifest is written, and the record is verified before it is returned. A
// remote replication failure is added to Record.Warnings.
//
// # Inputs
//
//   - ctx: Cancellation. A cancelled backup is left incomplete.
//   - opts: Scope and remote toggle.
//
// # Outputs
//
//   - Record: The verified backup.
//   - error: *util.OpError with KindResourceExhaustion, KindPrecondition or
//     KindIntegrity.
func (e *Engine) CreateBackup(ctx context.Context, opts CreateOptions) (Record, error) {
	if opts.Scope == "" {
		opts.Scope = ScopeFull
	}
	if err := os.MkdirAll(e.config.Dir, 0750); err != nil {
		return Record{}, util.NewOpError(util.KindPrecondition, "backup.prepare", err)
	}
	if err := e.precheck(ctx); err != nil {
		return Record{}, err
	}

	now := e.now().UTC()
	rec, err := e.claimID(now)
	if err != nil {
		return Record{}, util.NewOpError(util.KindPrecondition, "backup.prepare", err)
	}
	if err := os.WriteFile(rec.Path(IncompleteFile), nil, 0640); err != nil {
		return Record{}, util.NewOpError(util.KindPrecondition, "backup.prepare", err)
	}

	logger := e.logger.With("backup_id", rec.ID, "scope", opts.Scope)
	logger.Info("creating backup", "dir", rec.Dir)

	manifest := Manifest{ID: rec.ID, CreatedAt: now, Scope: opts.Scope, Database: e.config.Datastore.Database}

	if err := e.dumpDatastore(ctx, rec); err != nil {
		return Record{}, util.NewOpError(util.KindPrecondition, "backup.datastore-dump", err)
	}
	if opts.Scope == ScopeFull {
		if err := e.snapshotCache(ctx, rec); err != nil {
			return Record{}, util.NewOpError(util.KindPrecondition, "backup.cache-snapshot", err)
		}
		roots, err := e.copyConfig(rec)
		if err != nil {
			return Record{}, util.NewOpError(util.KindPrecondition, "backup.config", err)
		}
		manifest.ConfigRoots = roots
		roots, err = e.archiveAssets(rec)
		if err != nil {
			return Record{}, util.NewOpError(util.KindPrecondition, "backup.assets", err)
		}
		manifest.AssetRoots = roots
	}

	versions, err := e.deployedVersions(ctx)
	if err != nil {
		return Record{}, util.NewOpError(util.KindPrecondition, "backup.versions", err)
	}
	manifest.Versions = versions

	if err := e.writeManifest(&rec, manifest); err != nil {
		return Record{}, util.NewOpError(util.KindPrecondition, "backup.manifest", err)
	}
	if err := os.Remove(rec.Path(IncompleteFile)); err != nil {
		return Record{}, util.NewOpError(util.KindPrecondition, "backup.finalize", err)
	}
	rec.Incomplete = false

	rec, err = e.VerifyBackup(ctx, rec)
	if err != nil {
		return rec, err
	}

	if e.deps.Remote != nil && !opts.NoRemote {
		keys, err := e.deps.Remote.UploadDir(ctx, rec.Dir, path.Join(e.config.RemotePrefix, rec.ID))
		rec.Replicated = keys
		if err != nil {
			msg := fmt.Sprintf("remote replication to %s failed: %v", e.deps.Remote.Name(), err)
			logger.Warn("remote replication failed", "backend", e.deps.Remote.Name(), "uploaded", len(keys), "error", err)
			rec.Warnings = append(rec.Warnings, msg)
		} else {
			logger.Info("backup replicated", "backend", e.deps.Remote.Name(), "objects", len(keys))
		}
	}

	logger.Info("backup created", "entries", len(rec.Manifest.Entries), "status", rec.Status)
	return rec, nil
}

// maxIDBumps bounds how far claimID moves past a taken second.
const maxIDBumps = 60

// claimID creates the directory of a new backup. Ids have one-second
// resolution; when the second of now is taken the id moves to the next free
// second, so two backups in the same second both succeed and keep their order.
func (e *Engine) claimID(now time.Time) (Record, error) {
	at := now.Truncate(time.Second)
	for i := 0; i <= maxIDBumps; i++ {
		id := at.Format(IDFormat)
		dir := filepath.Join(e.config.Dir, id)
		err := os.Mkdir(dir, 0750)
		if err == nil {
			return Record{ID: id, Dir: dir, Status: StatusUnverified, Incomplete: true}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return Record{}, err
		}
		at = at.Add(time.Second)
	}
	return Record{}, fmt.Errorf("no free backup id within %ds of %s", maxIDBumps, now.Format(IDFormat))
}

// precheck refuses the backup when the store's disk usage is CRITICAL.
func (e *Engine) precheck(ctx context.Context) error {
	if e.deps.Sampler == nil {
		return nil
	}
	pct, err := e.deps.Sampler.DiskPercent(ctx, e.config.Dir)
	if err != nil {
		return util.NewOpError(util.KindPrecondition, "backup.disk-check", err)
	}
	switch e.config.DiskThresholds.Classify(pct) {
	case health.StatusCritical:
		return util.NewOpError(util.KindResourceExhaustion, "backup.disk-check",
			fmt.Errorf("backup store %s is %.1f%% full (critical at %.0f%%)", e.config.Dir, pct, e.config.DiskThresholds.Critical))
	case health.StatusWarning:
		e.logger.Warn("backup store disk usage high", "dir", e.config.Dir, "percent", pct)
	}
	return nil
}

// dumpDatastore runs pg_dump inside the datastore service and streams its
// output through zstd into datastore.sql.zst.
func (e *Engine) dumpDatastore(ctx context.Context, rec Record) error {
	ds := e.config.Datastore
	if ds.Service == "" {
		return errors.New("no datastore service configured")
	}

	f, err := os.OpenFile(rec.Path(DumpFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}

	cmd := []string{"pg_dump", "--format=plain", "--no-owner"}
	if ds.User != "" {
		cmd = append(cmd, "--username="+ds.User)
	}
	cmd = append(cmd, ds.Database)

	res, err := e.deps.Controller.Exec(ctx, e.deps.Controller.Instance(ds.Service), runtime.ExecRequest{Cmd: cmd, Stdout: enc})
	if err != nil {
		enc.Close()
		return fmt.Errorf("exec pg_dump: %w", err)
	}
	if res.ExitCode != 0 {
		enc.Close()
		return util.NewCommandError("pg_dump", res.ExitCode, res.Stderr, nil)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush dump: %w", err)
	}
	return f.Sync()
}

// redis runs redis-cli with args inside the cache service.
func (e *Engine) redis(ctx context.Context, args ...string) (string, error) {
	var env []string
	if e.config.Cache.Password != nil {
		pw, err := e.config.Cache.Password.Reveal()
		if err == nil && pw != "" {
			env = append(env, "REDISCLI_AUTH="+pw)
		}
	}
	cmd := append([]string{"redis-cli"}, args...)
	res, err := e.deps.Controller.Exec(ctx, e.deps.Controller.Instance(e.config.Cache.Service), runtime.ExecRequest{Cmd: cmd, Env: env})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", util.NewCommandError(strings.Join(cmd, " "), res.ExitCode, res.Stderr, nil)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (e *Engine) lastSave(ctx context.Context) (int64, error) {
	out, err := e.redis(ctx, "LASTSAVE")
	if err != nil {
		return 0, err
	}
	out = strings.TrimPrefix(out, "(integer) ")
	n, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse LASTSAVE %q: %w", out, err)
	}
	return n, nil
}

// snapshotCache triggers BGSAVE, waits for LASTSAVE to advance and copies the
// RDB file out. Skipped when no cache service is configured.
func (e *Engine) snapshotCache(ctx context.Context, rec Record) error {
	if e.config.Cache.Service == "" {
		return nil
	}
	before, err := e.lastSave(ctx)
	if err != nil {
		return err
	}
	if _, err := e.redis(ctx, "BGSAVE"); err != nil {
		return err
	}

	err = util.Retry(ctx, e.config.SnapshotPolicy, func(ctx context.Context, attempt int) error {
		now, err := e.lastSave(ctx)
		if err != nil {
			return err
		}
		if now <= before {
			return fmt.Errorf("LASTSAVE still %d", now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wait for BGSAVE: %w", err)
	}

	f, err := os.OpenFile(rec.Path(CacheFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := e.deps.Controller.CopyFrom(ctx, e.config.Cache.Service, e.config.Cache.RDBPath, f); err != nil {
		return fmt.Errorf("copy %s: %w", e.config.Cache.RDBPath, err)
	}
	return f.Sync()
}

func (e *Engine) copyConfig(rec Record) (map[string]string, error) {
	if len(e.config.ConfigPaths) == 0 {
		return nil, nil
	}
	roots := rootKeys(e.config.ConfigPaths)
	for key, src := range roots {
		if err := copyTree(src, filepath.Join(rec.Path(ConfigDir), key)); err != nil {
			return nil, fmt.Errorf("copy config %s: %w", src, err)
		}
	}
	return roots, nil
}

func (e *Engine) archiveAssets(rec Record) (map[string]string, error) {
	if len(e.config.AssetPaths) == 0 {
		return nil, nil
	}
	roots := rootKeys(e.config.AssetPaths)
	f, err := os.OpenFile(rec.Path(AssetsFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := writeAssetArchive(f, roots); err != nil {
		return nil, err
	}
	return roots, f.Sync()
}

// deployedVersions records the image of every known service instance.
func (e *Engine) deployedVersions(ctx context.Context) (map[string]string, error) {
	versions := map[string]string{}
	for _, svc := range e.deps.Topology.Services() {
		st, err := e.deps.Controller.Status(ctx, svc.Name)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", svc.Name, err)
		}
		if st.Image != "" {
			versions[svc.Name] = st.Image
		}
	}
	return versions, nil
}

// writeManifest hashes every payload file and writes manifest.json.
func (e *Engine) writeManifest(rec *Record, manifest Manifest) error {
	var entries []ManifestEntry
	err := filepath.WalkDir(rec.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(rec.Dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		component := componentOf(rel)
		if component == "" {
			return nil
		}
		size, sum, err := hashFile(p)
		if err != nil {
			return err
		}
		entries = append(entries, ManifestEntry{Component: component, Path: rel, Size: size, SHA256: sum})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Path < entries[b].Path })
	manifest.Entries = entries

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(rec.Path(ManifestFile), data); err != nil {
		return err
	}
	rec.Manifest = manifest
	return nil
}

// componentOf maps a relative payload path to its component, "" for
// bookkeeping files.
func componentOf(rel string) string {
	switch {
	case rel == DumpFile:
		return ComponentDatastore
	case rel == CacheFile:
		return ComponentCache
	case rel == AssetsFile:
		return ComponentAssets
	case strings.HasPrefix(rel, ConfigDir+"/"):
		return ComponentConfig
	default:
		return ""
	}
}

// =============================================================================
// Listing
// =============================================================================

// ListBackups returns every backup directory, newest first. Incomplete and
// corrupted backups are included and flagged.
func (e *Engine) ListBackups(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(e.config.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var out []Record
	for _, entry := range entries {
		if !entry.IsDir() || !validID(entry.Name()) {
			continue
		}
		rec, err := readRecord(filepath.Join(e.config.Dir, entry.Name()))
		if err != nil {
			e.logger.Warn("skipping unreadable backup", "id", entry.Name(), "error", err)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	return out, nil
}

// Get loads one backup by id.
func (e *Engine) Get(ctx context.Context, id string) (Record, error) {
	if !validID(id) {
		return Record{}, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	dir := filepath.Join(e.config.Dir, id)
	if _, err := os.Stat(dir); err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return readRecord(dir)
}

// LatestVerified returns the newest usable backup.
func (e *Engine) LatestVerified(ctx context.Context) (Record, bool, error) {
	records, err := e.ListBackups(ctx)
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range records {
		if rec.Usable() {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// LastVerifiedAt returns the creation time of the newest usable backup. It
// has the shape of health.LastBackupFunc.
func (e *Engine) LastVerifiedAt(ctx context.Context) (time.Time, bool, error) {
	rec, ok, err := e.LatestVerified(ctx)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	return rec.CreatedAt(), true, nil
}

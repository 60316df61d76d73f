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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/process"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// =============================================================================
// container-prune
// =============================================================================

// ContainerPrune removes stopped containers and dangling images.
type ContainerPrune struct {
	Controller runtime.Controller
}

func (t *ContainerPrune) Name() string { return TaskContainerPrune }

func (t *ContainerPrune) Inspect(ctx context.Context) ([]string, error) {
	items, err := t.Controller.ListPrunable(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, "remove "+item)
	}
	return out, nil
}

func (t *ContainerPrune) Apply(ctx context.Context) ([]string, error) {
	report, err := t.Controller.Prune(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(report.Removed)+1)
	for _, item := range report.Removed {
		out = append(out, "removed "+item)
	}
	if report.SpaceReclaimed > 0 {
		out = append(out, "reclaimed "+humanize.IBytes(report.SpaceReclaimed))
	}
	return out, nil
}

// =============================================================================
// backup-prune
// =============================================================================

// BackupPruner is implemented by backup.Engine.
type BackupPruner interface {
	PruneCandidates(ctx context.Context, window time.Duration) (backup.PruneResult, error)
	PruneBackups(ctx context.Context, window time.Duration, token guard.Token) (backup.PruneResult, error)
}

// ConfirmFunc obtains a confirmation token. Matches guard.Issuer.Confirm.
type ConfirmFunc func(action guard.Action, description string) (guard.Token, error)

// BackupPrune removes backups older than Window. The token is requested
// only when there is something to remove, so dry runs never prompt.
type BackupPrune struct {
	Backups BackupPruner
	Window  time.Duration
	Confirm ConfirmFunc
}

func (t *BackupPrune) Name() string { return TaskBackupPrune }

func (t *BackupPrune) Inspect(ctx context.Context) ([]string, error) {
	result, err := t.Backups.PruneCandidates(ctx, t.Window)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(result.Remove))
	for _, rec := range result.Remove {
		out = append(out, "delete backup "+rec.ID)
	}
	return out, nil
}

func (t *BackupPrune) Apply(ctx context.Context) ([]string, error) {
	planned, err := t.Inspect(ctx)
	if err != nil || len(planned) == 0 {
		return nil, err
	}
	if t.Confirm == nil {
		return nil, fmt.Errorf("%w: %s", guard.ErrUnauthorized, guard.ActionBackupPrune)
	}
	token, err := t.Confirm(guard.ActionBackupPrune,
		fmt.Sprintf("delete %d backup(s) older than %s", len(planned), t.Window))
	if err != nil {
		return nil, err
	}
	result, err := t.Backups.PruneBackups(ctx, t.Window, token)
	out := make([]string, 0, len(result.Removed))
	for _, id := range result.Removed {
		out = append(out, "deleted backup "+id)
	}
	return out, err
}

// =============================================================================
// datastore-optimize
// =============================================================================

// Optimizer is implemented by datastore.Admin.
type Optimizer interface {
	Database() string
	DeadTuples(ctx context.Context) (int64, error)
	Optimize(ctx context.Context) error
}

// DatastoreOptimize runs VACUUM ANALYZE on the application database.
type DatastoreOptimize struct {
	Admin Optimizer
}

func (t *DatastoreOptimize) Name() string { return TaskDatastoreOptimize }

func (t *DatastoreOptimize) Inspect(ctx context.Context) ([]string, error) {
	dead, err := t.Admin.DeadTuples(ctx)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("vacuum analyze %s (%s dead tuples)", t.Admin.Database(), humanize.Comma(dead))}, nil
}

func (t *DatastoreOptimize) Apply(ctx context.Context) ([]string, error) {
	if err := t.Admin.Optimize(ctx); err != nil {
		return nil, err
	}
	return []string{"vacuum analyze " + t.Admin.Database()}, nil
}

// =============================================================================
// cache-optimize
// =============================================================================

// CacheOptimize asks the cache to release fragmented memory.
type CacheOptimize struct {
	Controller runtime.Controller
	Cache      backup.CacheTarget
}

func (t *CacheOptimize) Name() string { return TaskCacheOptimize }

func (t *CacheOptimize) Inspect(ctx context.Context) ([]string, error) {
	if _, err := t.redis(ctx, "PING"); err != nil {
		return nil, err
	}
	return []string{"memory purge on " + t.Cache.Service}, nil
}

func (t *CacheOptimize) Apply(ctx context.Context) ([]string, error) {
	if _, err := t.redis(ctx, "MEMORY", "PURGE"); err != nil {
		return nil, err
	}
	return []string{"memory purged on " + t.Cache.Service}, nil
}

func (t *CacheOptimize) redis(ctx context.Context, args ...string) (string, error) {
	var env []string
	if t.Cache.Password != nil {
		if pw, err := t.Cache.Password.Reveal(); err == nil && pw != "" {
			env = append(env, "REDISCLI_AUTH="+pw)
		}
	}
	cmd := append([]string{"redis-cli"}, args...)
	res, err := t.Controller.Exec(ctx, t.Controller.Instance(t.Cache.Service), runtime.ExecRequest{Cmd: cmd, Env: env})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", util.NewCommandError(strings.Join(cmd, " "), res.ExitCode, res.Stderr, nil)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// =============================================================================
// permission-repair
// =============================================================================

// PermissionRule sets modes under Path. Zero modes are left alone.
type PermissionRule struct {
	Path     string      `yaml:"path" validate:"required"`
	FileMode fs.FileMode `yaml:"file_mode"`
	DirMode  fs.FileMode `yaml:"dir_mode"`
}

// PermissionRepair resets file and directory modes.
type PermissionRepair struct {
	Rules []PermissionRule
}

type modeFix struct {
	path string
	from fs.FileMode
	to   fs.FileMode
}

func (t *PermissionRepair) Name() string { return TaskPermissionRepair }

func (t *PermissionRepair) scan(ctx context.Context) ([]modeFix, error) {
	var fixes []modeFix
	for _, rule := range t.Rules {
		err := filepath.WalkDir(rule.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			want := rule.FileMode
			if d.IsDir() {
				want = rule.DirMode
			}
			if want == 0 {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if got := info.Mode().Perm(); got != want.Perm() {
				fixes = append(fixes, modeFix{path: path, from: got, to: want.Perm()})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", rule.Path, err)
		}
	}
	return fixes, nil
}

func (t *PermissionRepair) Inspect(ctx context.Context) ([]string, error) {
	fixes, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fixes))
	for _, f := range fixes {
		out = append(out, fmt.Sprintf("chmod %s %04o (was %04o)", f.path, f.to, f.from))
	}
	return out, nil
}

func (t *PermissionRepair) Apply(ctx context.Context) ([]string, error) {
	fixes, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range fixes {
		if err := os.Chmod(f.path, f.to); err != nil {
			return out, err
		}
		out = append(out, fmt.Sprintf("chmod %s %04o", f.path, f.to))
	}
	return out, nil
}

// =============================================================================
// package-update
// =============================================================================

// PackageUpdate upgrades host packages with apt-get. Hosts without apt-get
// report nothing to do. Real runs refresh the package index before
// inspecting, so upgrades published since the last refresh are found.
type PackageUpdate struct {
	Manager process.Manager
}

func (t *PackageUpdate) Name() string { return TaskPackageUpdate }

// Inspect simulates the upgrade; apt-get -s never changes the system.
func (t *PackageUpdate) Inspect(ctx context.Context) ([]string, error) {
	if !t.Manager.Available("apt-get") {
		return nil, nil
	}
	out, err := t.Manager.Run(ctx, "apt-get", "-s", "-q", "upgrade")
	if err != nil {
		return nil, err
	}
	return parseSimulatedUpgrade(out), nil
}

// Refresh runs apt-get update.
func (t *PackageUpdate) Refresh(ctx context.Context) error {
	if !t.Manager.Available("apt-get") {
		return nil
	}
	_, err := t.Manager.Run(ctx, "apt-get", "-q", "update")
	return err
}

func (t *PackageUpdate) Apply(ctx context.Context) ([]string, error) {
	planned, err := t.Inspect(ctx)
	if err != nil || len(planned) == 0 {
		return nil, err
	}
	if _, err := t.Manager.Run(ctx, "apt-get", "-y", "-q", "upgrade"); err != nil {
		return nil, err
	}
	done := make([]string, 0, len(planned))
	for _, line := range planned {
		done = append(done, strings.Replace(line, "upgrade ", "upgraded ", 1))
	}
	return done, nil
}

// parseSimulatedUpgrade extracts "Inst <pkg> [old] (new ...)" lines.
func parseSimulatedUpgrade(out []byte) []string {
	var planned []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "Inst" {
			continue
		}
		line := "upgrade " + fields[1]
		for _, f := range fields[2:] {
			if strings.HasPrefix(f, "(") {
				line += " to " + strings.TrimPrefix(f, "(")
				break
			}
		}
		planned = append(planned, line)
	}
	return planned
}

var (
	_ Task = (*ContainerPrune)(nil)
	_ Task = (*BackupPrune)(nil)
	_ Task = (*DatastoreOptimize)(nil)
	_ Task = (*CacheOptimize)(nil)
	_ Task = (*PermissionRepair)(nil)
	_ Task = (*PackageUpdate)(nil)
	_ Task = (*LogRotate)(nil)

	_ Refresher = (*PackageUpdate)(nil)
)

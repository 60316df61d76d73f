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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

// Log rotation defaults.
const (
	DefaultRotateSize      = 10 << 20
	DefaultRotateRetention = 14 * 24 * time.Hour

	archiveTimeFormat = "20060102T150405Z"
)

// LogRotate compresses *.log files of at least MaxSize into
// <name>.<timestamp>.zst next to them, truncates the original in place
// (copy-truncate, so writers keep their descriptors) and deletes archives
// older than Retention. Directories are not walked recursively.
type LogRotate struct {
	Dirs      []string
	MaxSize   int64
	Retention time.Duration

	now func() time.Time
}

type rotation struct {
	rotate []rotateItem
	expire []string
}

type rotateItem struct {
	path string
	size int64
}

func (t *LogRotate) Name() string { return TaskLogRotate }

func (t *LogRotate) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *LogRotate) scan(ctx context.Context) (rotation, error) {
	maxSize := t.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultRotateSize
	}
	retention := t.Retention
	if retention <= 0 {
		retention = DefaultRotateRetention
	}
	cutoff := t.clock().Add(-retention)

	var plan rotation
	for _, dir := range t.Dirs {
		if err := ctx.Err(); err != nil {
			return plan, err
		}
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return plan, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return plan, err
			}
			path := filepath.Join(dir, entry.Name())
			switch {
			case strings.HasSuffix(entry.Name(), ".log") && info.Size() >= maxSize:
				plan.rotate = append(plan.rotate, rotateItem{path: path, size: info.Size()})
			case isArchive(entry.Name()) && info.ModTime().Before(cutoff):
				plan.expire = append(plan.expire, path)
			}
		}
	}
	sort.Slice(plan.rotate, func(i, j int) bool { return plan.rotate[i].path < plan.rotate[j].path })
	sort.Strings(plan.expire)
	return plan, nil
}

// isArchive matches archives written by this task: <name>.log.<stamp>.zst.
func isArchive(name string) bool {
	if !strings.HasSuffix(name, ".zst") {
		return false
	}
	return strings.Contains(strings.TrimSuffix(name, ".zst"), ".log.")
}

func (t *LogRotate) Inspect(ctx context.Context) ([]string, error) {
	plan, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, item := range plan.rotate {
		out = append(out, fmt.Sprintf("rotate %s (%s)", item.path, humanize.IBytes(uint64(item.size))))
	}
	for _, path := range plan.expire {
		out = append(out, "delete "+path)
	}
	return out, nil
}

func (t *LogRotate) Apply(ctx context.Context) ([]string, error) {
	plan, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	stamp := t.clock().UTC().Format(archiveTimeFormat)

	var out []string
	for _, item := range plan.rotate {
		archive := fmt.Sprintf("%s.%s.zst", item.path, stamp)
		if err := compressAndTruncate(item.path, archive); err != nil {
			return out, fmt.Errorf("rotate %s: %w", item.path, err)
		}
		out = append(out, "rotated "+item.path+" -> "+filepath.Base(archive))
	}
	for _, path := range plan.expire {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return out, err
		}
		out = append(out, "deleted "+path)
	}
	return out, nil
}

// compressAndTruncate writes src into a zstd archive and truncates src.
// The archive appears atomically; src is truncated only after it exists.
func compressAndTruncate(src, archive string) error {
	in, err := os.OpenFile(src, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := archive + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, archive); err != nil {
		os.Remove(tmp)
		return err
	}
	return in.Truncate(0)
}

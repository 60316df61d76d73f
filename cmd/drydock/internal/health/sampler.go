// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Sampler measures host resource saturation as percentages.
type Sampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	InodePercent(ctx context.Context, path string) (float64, error)
}

// ProcSampler reads /proc via procfs and filesystems via statfs(2).
type ProcSampler struct {
	fs procfs.FS

	// CPUWindow is the interval between the two /proc/stat samples.
	CPUWindow time.Duration
}

// NewProcSampler opens the default /proc mount.
func NewProcSampler() (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcSampler{fs: fs, CPUWindow: 500 * time.Millisecond}, nil
}

// CPUPercent returns busy time over CPUWindow across all CPUs.
func (s *ProcSampler) CPUPercent(ctx context.Context) (float64, error) {
	first, err := s.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("read /proc/stat: %w", err)
	}
	timer := time.NewTimer(s.CPUWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}
	second, err := s.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("read /proc/stat: %w", err)
	}
	return cpuBusyPercent(first.CPUTotal, second.CPUTotal), nil
}

// MemoryPercent returns (total - available) / total.
func (s *ProcSampler) MemoryPercent(ctx context.Context) (float64, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0, errors.New("meminfo lacks MemTotal/MemAvailable")
	}
	used := float64(*mi.MemTotal - *mi.MemAvailable)
	return used / float64(*mi.MemTotal) * 100, nil
}

// DiskPercent returns block usage the way df reports it.
func (s *ProcSampler) DiskPercent(ctx context.Context, path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return diskUsedPercent(st.Blocks, st.Bfree, st.Bavail), nil
}

// InodePercent returns inode usage of the filesystem holding path.
func (s *ProcSampler) InodePercent(ctx context.Context, path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	if st.Files == 0 {
		return 0, nil
	}
	return float64(st.Files-st.Ffree) / float64(st.Files) * 100, nil
}

func cpuBusyPercent(a, b procfs.CPUStat) float64 {
	idle := func(c procfs.CPUStat) float64 { return c.Idle + c.Iowait }
	total := func(c procfs.CPUStat) float64 {
		return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	}
	dTotal := total(b) - total(a)
	if dTotal <= 0 {
		return 0
	}
	return (dTotal - (idle(b) - idle(a))) / dTotal * 100
}

func diskUsedPercent(blocks, bfree, bavail uint64) float64 {
	used := blocks - bfree
	denom := used + bavail
	if denom == 0 {
		return 0
	}
	return float64(used) / float64(denom) * 100
}

var _ Sampler = (*ProcSampler)(nil)

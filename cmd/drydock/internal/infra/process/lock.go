// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Locker is the contract for single-instance locks.
type Locker interface {
	// Acquire takes the lock without blocking. Returns *ErrLockHeld when
	// another drydock process holds it. Idempotent for the holder.
	Acquire() error

	// Release drops the lock and removes the PID file. Safe to call when the
	// lock is not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool

	// HolderPID returns the PID recorded by the current holder, or 0.
	HolderPID() int
}

// LockConfig configures a Lock.
type LockConfig struct {
	// Dir holds the lock and PID files. Created if missing.
	Dir string

	// Name is the file stem. Default "drydock".
	Name string
}

// Lock is a flock-based process lock.
type Lock struct {
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// ErrLockHeld is returned when another instance holds the lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another drydock operation is running (PID %d); lock %s", e.HolderPID, e.LockPath)
	}
	return fmt.Sprintf("another drydock operation is running (check: lsof %s)", e.LockPath)
}

// NewLock creates a Lock. The lock is not acquired.
func NewLock(config LockConfig) *Lock {
	if config.Dir == "" {
		config.Dir = os.TempDir()
	}
	if config.Name == "" {
		config.Name = "drydock"
	}
	return &Lock{
		lockPath: filepath.Join(config.Dir, config.Name+".lock"),
		pidPath:  filepath.Join(config.Dir, config.Name+".pid"),
	}
}

// Acquire takes the exclusive lock.
//
// # Description
//
// Opens (creating if needed) the lock file and calls flock(LOCK_EX|LOCK_NB).
// On EWOULDBLOCK the holder PID is read from the PID file and returned in an
// *ErrLockHeld. The PID file write is best effort.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0750); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", l.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &ErrLockHeld{HolderPID: l.readHolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	l.lockFile = f
	l.held = true
	_ = os.WriteFile(l.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
	return nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}

	os.Remove(l.pidPath)
	err := unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
	l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// IsHeld reports whether this Lock holds the flock.
func (l *Lock) IsHeld() bool {
	return l.held
}

// HolderPID returns the PID in the PID file, or 0.
func (l *Lock) HolderPID() int {
	return l.readHolderPID()
}

// LockPath returns the lock file path.
func (l *Lock) LockPath() string {
	return l.lockPath
}

// PIDPath returns the PID file path.
func (l *Lock) PIDPath() string {
	return l.pidPath
}

func (l *Lock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

var _ Locker = (*Lock)(nil)

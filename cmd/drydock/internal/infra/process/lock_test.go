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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestNewLock_Paths(t *testing.T) {
	lock := NewLock(LockConfig{Dir: "/var/lib/drydock"})
	if lock.LockPath() != "/var/lib/drydock/drydock.lock" {
		t.Errorf("LockPath() = %q", lock.LockPath())
	}
	if lock.PIDPath() != "/var/lib/drydock/drydock.pid" {
		t.Errorf("PIDPath() = %q", lock.PIDPath())
	}

	def := NewLock(LockConfig{})
	if filepath.Dir(def.LockPath()) != filepath.Clean(os.TempDir()) {
		t.Errorf("default dir = %q", filepath.Dir(def.LockPath()))
	}
}

func TestLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := NewLock(LockConfig{Dir: dir})

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !lock.IsHeld() {
		t.Error("IsHeld() = false after Acquire")
	}
	if err := lock.Acquire(); err != nil {
		t.Errorf("second Acquire() by holder should be a no-op, got %v", err)
	}

	data, err := os.ReadFile(lock.PIDPath())
	if err != nil {
		t.Fatalf("pid file missing: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file = %q", data)
	}
	if lock.HolderPID() != os.Getpid() {
		t.Errorf("HolderPID() = %d", lock.HolderPID())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if lock.IsHeld() {
		t.Error("IsHeld() = true after Release")
	}
	if _, err := os.Stat(lock.PIDPath()); !os.IsNotExist(err) {
		t.Error("pid file should be removed on Release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("double Release() error = %v", err)
	}
}

func TestLock_SecondInstanceRejected(t *testing.T) {
	dir := t.TempDir()
	first := NewLock(LockConfig{Dir: dir})
	second := NewLock(LockConfig{Dir: dir})

	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer first.Release()

	err := second.Acquire()
	var held *ErrLockHeld
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want *ErrLockHeld", err)
	}
	if held.HolderPID != os.Getpid() {
		t.Errorf("HolderPID = %d, want %d", held.HolderPID, os.Getpid())
	}
	if !strings.Contains(held.Error(), "another drydock operation is running") {
		t.Errorf("Error() = %q", held.Error())
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := second.Acquire(); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	second.Release()
}

func TestLock_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock := NewLock(LockConfig{Dir: dir, Name: "test"})
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(filepath.Join(dir, "test.lock")); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
}

func TestErrLockHeld_NoPID(t *testing.T) {
	err := &ErrLockHeld{LockPath: "/tmp/x.lock"}
	if !strings.Contains(err.Error(), "lsof /tmp/x.lock") {
		t.Errorf("Error() = %q", err.Error())
	}
}

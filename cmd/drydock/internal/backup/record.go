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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IDFormat is the layout of backup ids.
const IDFormat = "20060102T150405Z"

// File names inside a backup directory.
const (
	ManifestFile   = "manifest.json"
	StatusFile     = "status.json"
	DumpFile       = "datastore.sql.zst"
	CacheFile      = "cache.rdb"
	ConfigDir      = "config"
	AssetsFile     = "assets.tar.zst"
	IncompleteFile = ".incomplete"
)

// Manifest components.
const (
	ComponentDatastore = "datastore"
	ComponentCache     = "cache"
	ComponentConfig    = "config"
	ComponentAssets    = "assets"
)

// ErrNotFound is returned for unknown backup ids.
var ErrNotFound = errors.New("backup not found")

// Scope selects what a backup contains.
type Scope string

const (
	ScopeFull         Scope = "full"
	ScopeDatabaseOnly Scope = "database-only"
)

// ParseScope parses a --scope value.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeFull:
		return ScopeFull, nil
	case ScopeDatabaseOnly:
		return ScopeDatabaseOnly, nil
	default:
		return "", fmt.Errorf("unknown backup scope %q (want full or database-only)", s)
	}
}

// IntegrityStatus is the verification state of a backup.
type IntegrityStatus string

const (
	StatusUnverified IntegrityStatus = "unverified"
	StatusVerified   IntegrityStatus = "verified"
	StatusCorrupted  IntegrityStatus = "corrupted"
)

// ManifestEntry describes one payload file.
type ManifestEntry struct {
	Component string `json:"component"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
}

// Manifest is written last; its presence means every payload was written.
type Manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Scope     Scope     `json:"scope"`
	Database  string    `json:"database,omitempty"`

	// Versions maps service name to the image deployed at backup time.
	Versions map[string]string `json:"versions"`

	// ConfigRoots maps a config/ subdirectory to the host path it came from.
	ConfigRoots map[string]string `json:"config_roots,omitempty"`

	// AssetRoots maps a top-level archive directory to its host path.
	AssetRoots map[string]string `json:"asset_roots,omitempty"`

	Entries []ManifestEntry `json:"entries"`
}

// Entry returns the entry for a component path.
func (m Manifest) Entry(path string) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

type statusFile struct {
	Status     IntegrityStatus `json:"status"`
	VerifiedAt time.Time       `json:"verified_at,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Record is a backup as found on disk.
type Record struct {
	ID         string
	Dir        string
	Manifest   Manifest
	Status     IntegrityStatus
	VerifiedAt time.Time
	Reason     string
	Incomplete bool

	// Replicated lists remote object keys written by CreateBackup.
	Replicated []string

	// Warnings collects non-fatal problems from CreateBackup.
	Warnings []string
}

// CreatedAt parses the id.
func (r Record) CreatedAt() time.Time {
	t, err := time.Parse(IDFormat, r.ID)
	if err != nil {
		return r.Manifest.CreatedAt
	}
	return t
}

// Usable reports whether the backup may be restored or used as an anchor.
func (r Record) Usable() bool {
	return !r.Incomplete && r.Status == StatusVerified
}

// Path joins name onto the backup directory.
func (r Record) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// HasComponent reports whether the manifest carries any entry of component.
func (r Record) HasComponent(component string) bool {
	for _, e := range r.Manifest.Entries {
		if e.Component == component {
			return true
		}
	}
	return false
}

// validID reports whether name looks like a backup id.
func validID(name string) bool {
	_, err := time.Parse(IDFormat, name)
	return err == nil
}

// readRecord loads a backup directory.
func readRecord(dir string) (Record, error) {
	rec := Record{ID: filepath.Base(dir), Dir: dir, Status: StatusUnverified}

	if _, err := os.Stat(filepath.Join(dir, IncompleteFile)); err == nil {
		rec.Incomplete = true
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		rec.Incomplete = true
	case err != nil:
		return rec, fmt.Errorf("read manifest %s: %w", rec.ID, err)
	default:
		if err := json.Unmarshal(data, &rec.Manifest); err != nil {
			rec.Status = StatusCorrupted
			rec.Reason = "manifest is not valid JSON"
			return rec, nil
		}
	}

	data, err = os.ReadFile(filepath.Join(dir, StatusFile))
	if err == nil {
		var st statusFile
		if json.Unmarshal(data, &st) == nil && st.Status != "" {
			rec.Status = st.Status
			rec.VerifiedAt = st.VerifiedAt
			rec.Reason = st.Reason
		}
	}
	return rec, nil
}

// writeStatus persists the integrity status of rec.
func writeStatus(rec Record) error {
	data, err := json.MarshalIndent(statusFile{Status: rec.Status, VerifiedAt: rec.VerifiedAt, Reason: rec.Reason}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(rec.Path(StatusFile), data)
}

// writeFileAtomic writes to a temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

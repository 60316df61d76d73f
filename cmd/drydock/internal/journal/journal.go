// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists operation records, rollback anchors and
// diagnostic markers.
//
// Records live in a BadgerDB under <state_dir>/journal. Markers are also
// written as plain JSON files under <state_dir>/markers so an operator can
// find them without drydock, and so a marker can still be written when the
// journal itself could not be opened.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
)

// ErrNotFound is returned for unknown operation ids.
var ErrNotFound = errors.New("operation not found")

const (
	prefixOp     = "op/"
	prefixMarker = "marker/"
)

// Config configures the journal.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// MarkersDir receives marker files. Empty disables marker files.
	MarkersDir string

	// Logger receives badger's own log lines. Nil silences badger.
	Logger *slog.Logger
}

// Journal is the operation store. Safe for concurrent use.
type Journal struct {
	db         *badger.DB
	markersDir string
}

// Open opens (creating if needed) the journal.
func Open(cfg Config) (*Journal, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("journal path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db, markersDir: cfg.MarkersDir}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// =============================================================================
// Operation Records
// =============================================================================

// Save writes (or overwrites) a record.
func (j *Journal) Save(rec *ops.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixOp+rec.ID), data)
	})
}

// Get returns the record with id.
func (j *Journal) Get(id string) (ops.Record, error) {
	var rec ops.Record
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixOp + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// List returns records newest first. limit <= 0 returns all.
func (j *Journal) List(limit int) ([]ops.Record, error) {
	var out []ops.Record
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixOp)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec ops.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.After(out[b].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastSuccessful returns the newest successful record of one of kinds.
func (j *Journal) LastSuccessful(kinds ...ops.Kind) (ops.Record, bool, error) {
	records, err := j.List(0)
	if err != nil {
		return ops.Record{}, false, err
	}
	for _, rec := range records {
		if rec.Outcome != ops.OutcomeSuccess {
			continue
		}
		for _, k := range kinds {
			if rec.Kind == k {
				return rec, true, nil
			}
		}
	}
	return ops.Record{}, false, nil
}

// PendingAnchors returns the backup ids that must survive pruning: anchors of
// running operations and the anchor of the last successful deploy or update.
func (j *Journal) PendingAnchors() (map[string]bool, error) {
	records, err := j.List(0)
	if err != nil {
		return nil, err
	}
	anchors := map[string]bool{}
	lastDeploySeen := false
	for _, rec := range records {
		if rec.Anchor == "" {
			continue
		}
		if rec.Outcome == ops.OutcomeRunning {
			anchors[rec.Anchor] = true
		}
		if !lastDeploySeen && rec.Outcome == ops.OutcomeSuccess && (rec.Kind == ops.KindDeploy || rec.Kind == ops.KindUpdate) {
			anchors[rec.Anchor] = true
			lastDeploySeen = true
		}
	}
	return anchors, nil
}

// =============================================================================
// Diagnostic Markers
// =============================================================================

// Marker flags a system left in an uncertain state.
type Marker struct {
	OperationID string    `json:"operation_id"`
	Kind        ops.Kind  `json:"kind"`
	Reason      string    `json:"reason"`
	Step        string    `json:"step,omitempty"`
	Anchor      string    `json:"anchor,omitempty"`
	Services    []string  `json:"services,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WriteMarker stores the marker in the journal and, when configured, as
// <markers_dir>/<operation_id>.json. Returns the file path ("" when none).
func (j *Journal) WriteMarker(m Marker) (string, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode marker: %w", err)
	}
	dbErr := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixMarker+m.OperationID), data)
	})

	path, fileErr := WriteMarkerFile(j.markersDir, m)
	return path, errors.Join(dbErr, fileErr)
}

// Markers returns every stored marker, oldest first.
func (j *Journal) Markers() ([]Marker, error) {
	var out []Marker
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixMarker)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Marker
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, err
}

// WriteMarkerFile writes a marker file without the journal. Used after a
// second interrupt, when nothing else may run.
func WriteMarkerFile(dir string, m Marker) (string, error) {
	if dir == "" {
		return "", nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create markers dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode marker: %w", err)
	}
	path := filepath.Join(dir, m.OperationID+".json")
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write marker %s: %w", path, err)
	}
	return path, nil
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
)

func openTest(t *testing.T, markers string) *Journal {
	t.Helper()
	j, err := Open(Config{InMemory: true, MarkersDir: markers})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func record(kind ops.Kind, outcome ops.Outcome, anchor string, age time.Duration) *ops.Record {
	rec := ops.New(kind)
	rec.StartedAt = time.Now().Add(-age).UTC()
	rec.Outcome = outcome
	rec.Anchor = anchor
	return rec
}

func TestJournal_SaveGetList(t *testing.T) {
	j := openTest(t, "")

	older := record(ops.KindBackup, ops.OutcomeSuccess, "", 2*time.Hour)
	newer := record(ops.KindDeploy, ops.OutcomeRolledBack, "20261019T100000Z", time.Hour)
	require.NoError(t, j.Save(older))
	require.NoError(t, j.Save(newer))

	got, err := j.Get(newer.ID)
	require.NoError(t, err)
	assert.Equal(t, ops.OutcomeRolledBack, got.Outcome)
	assert.Equal(t, "20261019T100000Z", got.Anchor)

	_, err = j.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")

	list, err = j.List(1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestJournal_SaveOverwrites(t *testing.T) {
	j := openTest(t, "")
	rec := ops.New(ops.KindUpdate)
	require.NoError(t, j.Save(rec))
	rec.Finish(ops.OutcomeSuccess, nil)
	require.NoError(t, j.Save(rec))

	list, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ops.OutcomeSuccess, list[0].Outcome)
}

func TestJournal_LastSuccessful(t *testing.T) {
	j := openTest(t, "")
	require.NoError(t, j.Save(record(ops.KindDeploy, ops.OutcomeSuccess, "A", 3*time.Hour)))
	require.NoError(t, j.Save(record(ops.KindUpdate, ops.OutcomeSuccess, "B", 2*time.Hour)))
	require.NoError(t, j.Save(record(ops.KindDeploy, ops.OutcomeFailed, "C", time.Hour)))

	rec, ok, err := j.LastSuccessful(ops.KindDeploy, ops.KindUpdate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", rec.Anchor)

	_, ok, err = j.LastSuccessful(ops.KindRestore)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournal_PendingAnchors(t *testing.T) {
	j := openTest(t, "")
	require.NoError(t, j.Save(record(ops.KindDeploy, ops.OutcomeSuccess, "old", 5*time.Hour)))
	require.NoError(t, j.Save(record(ops.KindUpdate, ops.OutcomeSuccess, "last", 3*time.Hour)))
	require.NoError(t, j.Save(record(ops.KindUpdate, ops.OutcomeRunning, "running", time.Hour)))
	require.NoError(t, j.Save(record(ops.KindDeploy, ops.OutcomeRolledBack, "rolled", 30*time.Minute)))

	anchors, err := j.PendingAnchors()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"last": true, "running": true}, anchors)
}

func TestJournal_Markers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "markers")
	j := openTest(t, dir)

	path, err := j.WriteMarker(Marker{OperationID: "op-1", Kind: ops.KindRestore, Reason: "replay failed", Step: "datastore-replay"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "op-1.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m Marker
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "replay failed", m.Reason)
	assert.False(t, m.CreatedAt.IsZero())

	markers, err := j.Markers()
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "datastore-replay", markers[0].Step)
}

func TestWriteMarkerFile_NoDir(t *testing.T) {
	path, err := WriteMarkerFile("", Marker{OperationID: "x"})
	assert.NoError(t, err)
	assert.Empty(t, path)
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Config{Path: filepath.Join(dir, "journal")})
	require.NoError(t, err)
	rec := ops.New(ops.KindBackup)
	require.NoError(t, j.Save(rec))
	require.NoError(t, j.Close())

	j, err = Open(Config{Path: filepath.Join(dir, "journal")})
	require.NoError(t, err)
	defer j.Close()
	got, err := j.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, ops.KindBackup, got.Kind)

	_, err = Open(Config{})
	assert.Error(t, err)
}

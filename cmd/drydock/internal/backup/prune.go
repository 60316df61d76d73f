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
	"fmt"
	"os"
	"time"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/guard"
)

// PruneResult lists what a prune removes and keeps.
type PruneResult struct {
	Remove []Record

	// Kept maps a backup id older than the window to why it was kept.
	Kept map[string]string

	// Removed lists ids actually deleted. Empty for PruneCandidates.
	Removed []string
}

// PruneCandidates computes which backups are older than window and may be
// removed. It never touches the filesystem.
//
// The newest verified backup and every pending rollback anchor are kept
// regardless of age.
func (e *Engine) PruneCandidates(ctx context.Context, window time.Duration) (PruneResult, error) {
	records, err := e.ListBackups(ctx)
	if err != nil {
		return PruneResult{}, err
	}
	anchors := map[string]bool{}
	if e.deps.Anchors != nil {
		anchors, err = e.deps.Anchors.PendingAnchors()
		if err != nil {
			return PruneResult{}, fmt.Errorf("load rollback anchors: %w", err)
		}
	}

	newestVerified := ""
	for _, rec := range records {
		if rec.Usable() {
			newestVerified = rec.ID
			break
		}
	}

	cutoff := e.now().UTC().Add(-window)
	result := PruneResult{Kept: map[string]string{}}
	for _, rec := range records {
		if !rec.CreatedAt().Before(cutoff) {
			continue
		}
		switch {
		case rec.ID == newestVerified:
			result.Kept[rec.ID] = "newest verified backup"
		case anchors[rec.ID]:
			result.Kept[rec.ID] = "pending rollback anchor"
		default:
			result.Remove = append(result.Remove, rec)
		}
	}
	return result, nil
}

// PruneBackups removes the backups PruneCandidates selects.
//
// # Inputs
//
//   - window: Retention window; older backups are candidates.
//   - token: Confirmation for guard.ActionBackupPrune.
func (e *Engine) PruneBackups(ctx context.Context, window time.Duration, token guard.Token) (PruneResult, error) {
	if err := token.Authorizes(guard.ActionBackupPrune); err != nil {
		return PruneResult{}, err
	}
	result, err := e.PruneCandidates(ctx, window)
	if err != nil {
		return result, err
	}
	for _, rec := range result.Remove {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := os.RemoveAll(rec.Dir); err != nil {
			return result, fmt.Errorf("remove backup %s: %w", rec.ID, err)
		}
		result.Removed = append(result.Removed, rec.ID)
		e.logger.Info("backup pruned", "backup_id", rec.ID)
	}
	return result, nil
}

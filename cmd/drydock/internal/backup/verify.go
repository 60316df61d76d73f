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
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// ErrCorrupted marks a backup that failed verification.
var ErrCorrupted = errors.New("backup is corrupted")

// Plain-format pg_dump framing.
const (
	dumpHeader  = "-- PostgreSQL database dump"
	dumpTrailer = "-- PostgreSQL database dump complete"
)

// VerifyBackup checks every manifest entry and the dump framing, and persists
// the result to status.json.
//
// # Description
//
// A record already marked corrupted is not re-checked: corruption is final.
// An incomplete record fails without touching status.json.
//
// # Outputs
//
//   - Record: rec with Status and VerifiedAt updated.
//   - error: *util.OpError with KindIntegrity wrapping ErrCorrupted.
func (e *Engine) VerifyBackup(ctx context.Context, rec Record) (Record, error) {
	if rec.Status == StatusCorrupted {
		return rec, util.NewOpError(util.KindIntegrity, "backup.verify",
			fmt.Errorf("%w: %s (%s)", ErrCorrupted, rec.ID, rec.Reason))
	}
	if rec.Incomplete {
		return rec, util.NewOpError(util.KindIntegrity, "backup.verify",
			fmt.Errorf("%w: %s is incomplete", ErrCorrupted, rec.ID))
	}

	reason := e.check(ctx, rec)
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rec, util.NewOpError(util.KindInterrupted, "backup.verify", ctx.Err())
	}

	rec.VerifiedAt = e.now().UTC()
	if reason != "" {
		rec.Status = StatusCorrupted
		rec.Reason = reason
	} else {
		rec.Status = StatusVerified
		rec.Reason = ""
	}
	if err := writeStatus(rec); err != nil {
		return rec, util.NewOpError(util.KindPrecondition, "backup.verify", err)
	}

	if rec.Status == StatusCorrupted {
		e.logger.Error("backup failed verification", "backup_id", rec.ID, "reason", reason)
		return rec, util.NewOpError(util.KindIntegrity, "backup.verify",
			fmt.Errorf("%w: %s: %s", ErrCorrupted, rec.ID, reason))
	}
	e.logger.Info("backup verified", "backup_id", rec.ID, "entries", len(rec.Manifest.Entries))
	return rec, nil
}

// check returns "" when rec is intact, otherwise the first problem found.
func (e *Engine) check(ctx context.Context, rec Record) string {
	if len(rec.Manifest.Entries) == 0 {
		return "manifest has no entries"
	}
	for _, entry := range rec.Manifest.Entries {
		if ctx.Err() != nil {
			return ""
		}
		p := filepath.Join(rec.Dir, filepath.FromSlash(entry.Path))
		size, sum, err := hashFile(p)
		if err != nil {
			return fmt.Sprintf("%s: %v", entry.Path, err)
		}
		if size != entry.Size {
			return fmt.Sprintf("%s: size %d, manifest says %d", entry.Path, size, entry.Size)
		}
		if sum != entry.SHA256 {
			return fmt.Sprintf("%s: checksum mismatch", entry.Path)
		}
	}
	if _, ok := rec.Manifest.Entry(DumpFile); !ok {
		return "manifest has no datastore dump"
	}
	if err := checkDump(rec.Path(DumpFile)); err != nil {
		return fmt.Sprintf("%s: %v", DumpFile, err)
	}
	return ""
}

// checkDump decompresses the dump and checks the pg_dump header and
// completion trailer.
func checkDump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		lineNo     int
		headerSeen bool
		tail       [3]string
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNo++
		if lineNo <= 5 && line == dumpHeader {
			headerSeen = true
		}
		if line != "" && line != "--" {
			tail[0], tail[1], tail[2] = tail[1], tail[2], line
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if !headerSeen {
		return errors.New("missing pg_dump header")
	}
	for _, line := range tail {
		if line == dumpTrailer {
			return nil
		}
	}
	return errors.New("missing pg_dump completion trailer (truncated dump)")
}

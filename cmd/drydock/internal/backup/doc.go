// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup creates, verifies, lists and prunes drydock backups.
//
// A backup is a directory <backup_dir>/<id>/ where id is the UTC creation
// time in 20060102T150405Z form, so lexical order is chronological:
//
//	manifest.json       entries with size and sha256, deployed versions
//	status.json         integrity status and verified-at
//	datastore.sql.zst   pg_dump plain output, zstd compressed
//	cache.rdb           cache snapshot
//	config/             configuration trees
//	assets.tar.zst      static assets
//	.incomplete         present while the backup is being written
//
// A directory that still carries .incomplete, or whose status is corrupted,
// is never selected for restore or used as a rollback anchor.
package backup

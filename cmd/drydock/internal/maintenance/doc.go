// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package maintenance implements the MaintenanceScheduler: idempotent
// housekeeping tasks grouped into all, cleanup, optimize and security.
//
// Every task has a read-only Inspect and a mutating Apply. A dry run calls
// Inspect only and reports what Apply would do; nothing on the host, in the
// runtime or in the backup store changes. A task failure is reported as a
// warning and the remaining tasks still run.
//
// # Tasks
//
//   - container-prune: stopped containers and dangling images
//   - log-rotate: compresses large *.log files with zstd and truncates them,
//     removes old archives
//   - backup-prune: backups older than the retention window (confirmation
//     required)
//   - datastore-optimize: VACUUM ANALYZE
//   - cache-optimize: MEMORY PURGE in the cache service
//   - permission-repair: resets file and directory modes under configured
//     paths
//   - package-update: host package upgrades through apt-get
//
// Schedule runs task sets on cron expressions until its context ends.
package maintenance

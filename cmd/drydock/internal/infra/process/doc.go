// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process provides host process primitives: the single-instance lock
// held by every mutating drydock command and an execution abstraction for
// host commands (package manager, log tooling) that tests can mock.
//
// # Lock Protocol
//
// The lock is an advisory flock on <state_dir>/drydock.lock with the holder's
// PID written to <state_dir>/drydock.pid for diagnostics. The kernel releases
// the flock when the process exits, so a crash never leaves a stale lock; a
// stale PID file is harmless.
//
//	lock := process.NewLock(process.LockConfig{Dir: cfg.StateDir})
//	if err := lock.Acquire(); err != nil {
//	    return err
//	}
//	defer lock.Release()
//
// # Thread Safety
//
// Lock is NOT safe for concurrent use; acquire it once in the command that
// owns the invocation. ProcessManager implementations are safe for
// concurrent use.
package process

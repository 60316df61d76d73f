// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"runtime/debug"
)

// SafeGoResult describes a recovered panic.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue any

	// Stack is the stack trace at panic time.
	Stack string
}

// SafeGo runs fn in a goroutine and reports panics to onPanic instead of
// crashing the process. Used for the signal watcher and the health server,
// where a crash would skip lock release and marker writing.
func SafeGo(fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer RecoverPanic(onPanic)()
		fn()
	}()
}

// RecoverPanic returns a deferred function that recovers and reports a panic.
//
// # Example
//
//	defer util.RecoverPanic(func(r util.SafeGoResult) {
//	    logger.Error("panic", "value", r.PanicValue)
//	})()
func RecoverPanic(onPanic func(SafeGoResult)) func() {
	return func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(SafeGoResult{PanicValue: r, Stack: string(debug.Stack())})
			}
		}
	}
}

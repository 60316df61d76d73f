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
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Exit Codes
// =============================================================================

// Process exit codes shared by every command.
const (
	ExitOK       = 0
	ExitWarning  = 1
	ExitCritical = 2
)

// =============================================================================
// Operation Error Taxonomy
// =============================================================================

// ErrorKind classifies operation failures by how the orchestrator reacts.
type ErrorKind string

const (
	// KindPrecondition covers missing files, unreachable datastore, bad input.
	// Fail fast, no retry, nothing mutated.
	KindPrecondition ErrorKind = "precondition"

	// KindTransient covers readiness that ran out of attempts.
	KindTransient ErrorKind = "transient"

	// KindIntegrity covers checksum mismatches and corrupted dumps.
	KindIntegrity ErrorKind = "integrity"

	// KindResourceExhaustion covers disk or memory at the critical threshold.
	KindResourceExhaustion ErrorKind = "resource-exhaustion"

	// KindVerification covers a CRITICAL health report after a rollout.
	KindVerification ErrorKind = "verification"

	// KindTerminal covers failed restores and failed rollbacks. These are
	// never retried and need a human.
	KindTerminal ErrorKind = "terminal"

	// KindInterrupted covers operator interrupts.
	KindInterrupted ErrorKind = "interrupted"
)

// OpError is an error annotated with the operation step and its kind.
//
// # Description
//
// Every component wraps step failures in an OpError so the CLI layer can pick
// the exit code and summary text without string matching.
//
// # Example
//
//	if err := dump(ctx); err != nil {
//	    return util.NewOpError(util.KindPrecondition, "backup.datastore-dump", err)
//	}
type OpError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewOpError creates an OpError.
func NewOpError(kind ErrorKind, op string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Err: err}
}

// Error implements error.
func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first OpError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ""
}

// IsKind reports whether any OpError in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var opErr *OpError
		if !errors.As(err, &opErr) {
			return false
		}
		if opErr.Kind == kind {
			return true
		}
		err = opErr.Err
	}
	return false
}

// ExitCode maps an error to the process exit code.
//
// # Description
//
// nil → 0. Integrity, resource exhaustion, failed verification and terminal
// failures → 2 (critical, a human must look). Everything else → 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	for _, k := range []ErrorKind{KindTerminal, KindIntegrity, KindResourceExhaustion, KindVerification} {
		if IsKind(err, k) {
			return ExitCritical
		}
	}
	return ExitWarning
}

// =============================================================================
// CommandError
// =============================================================================

// CommandError represents a failed external command (host process or
// container exec) with its exit code and stderr.
type CommandError struct {
	// Command is the command that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the standard error output (trimmed).
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error returns "cmd (exit N): stderr", falling back to the wrapped error.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr returns true if stderr output is available.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// NewCommandError creates a CommandError. Stderr is trimmed.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the chain and returns the first non-empty stderr.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	for err != nil {
		if !errors.As(err, &cmdErr) {
			return ""
		}
		if cmdErr.HasStderr() {
			return cmdErr.Stderr
		}
		err = cmdErr.Wrapped
	}
	return ""
}

var (
	_ error = (*CommandError)(nil)
	_ error = (*OpError)(nil)
)

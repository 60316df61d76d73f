// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ops defines the OperationRecord shared by every mutating command.
package ops

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type of operation.
type Kind string

const (
	KindDeploy      Kind = "deploy"
	KindUpdate      Kind = "update"
	KindRestore     Kind = "restore"
	KindRollback    Kind = "rollback"
	KindBackup      Kind = "backup"
	KindMaintenance Kind = "maintenance"
	KindHealth      Kind = "health-check"
)

// Outcome is the final (or current) state of an operation.
type Outcome string

const (
	OutcomeRunning    Outcome = "running"
	OutcomeSuccess    Outcome = "success"
	OutcomeWarning    Outcome = "warning"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled-back"
)

// Record describes one invocation of a mutating command.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Outcome   Outcome   `json:"outcome"`

	// Anchor is the BackupRecord id a rollback would return to.
	Anchor string `json:"anchor,omitempty"`

	// Services lists the services the operation touched.
	Services []string `json:"services,omitempty"`

	Succeeded []string `json:"succeeded,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// New starts a running record.
func New(kind Kind) *Record {
	return &Record{ID: uuid.NewString(), Kind: kind, StartedAt: time.Now().UTC(), Outcome: OutcomeRunning}
}

// Finish sets the outcome, end time and error text.
func (r *Record) Finish(outcome Outcome, err error) {
	r.Outcome = outcome
	r.EndedAt = time.Now().UTC()
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration returns EndedAt - StartedAt, or time since start while running.
func (r *Record) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Succeed appends to Succeeded.
func (r *Record) Succeed(item string) {
	r.Succeeded = append(r.Succeeded, item)
}

// Fail appends to Failed.
func (r *Record) Fail(item string) {
	r.Failed = append(r.Failed, item)
}

// Warn appends to Warnings.
func (r *Record) Warn(item string) {
	r.Warnings = append(r.Warnings, item)
}

// Touch records a service as touched, once.
func (r *Record) Touch(service string) {
	for _, s := range r.Services {
		if s == service {
			return
		}
	}
	r.Services = append(r.Services, service)
}

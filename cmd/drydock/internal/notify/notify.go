// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers operation events to operators.
//
// Every sink implements Sink. Multi fans out to several sinks and never lets a
// delivery failure affect the operation that produced the event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Phase is where in an operation an event was emitted.
type Phase string

const (
	PhaseStarted  Phase = "started"
	PhaseRollback Phase = "rollback"
	PhaseFinished Phase = "finished"
)

// Status is the event status.
type Status string

const (
	StatusStarted    Status = "started"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
	StatusWarning    Status = "warning"
)

// Event is one notification.
type Event struct {
	Operation   string    `json:"operation"`
	OperationID string    `json:"operation_id"`
	Phase       Phase     `json:"phase"`
	Status      Status    `json:"status"`
	Summary     string    `json:"summary"`
	Time        time.Time `json:"time"`
}

// Subject is a one-line title for the event.
func (e Event) Subject() string {
	return fmt.Sprintf("[drydock] %s %s: %s", e.Operation, e.Phase, strings.ToUpper(string(e.Status)))
}

// Sink delivers events.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// =============================================================================
// Noop
// =============================================================================

// Noop discards events.
type Noop struct{}

// Notify implements Sink.
func (Noop) Notify(context.Context, Event) error { return nil }

// =============================================================================
// Multi
// =============================================================================

// Multi sends each event to every sink. Failures are logged and swallowed.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti creates a fan-out sink.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{sinks: sinks, logger: logger}
}

// Notify implements Sink. It always returns nil.
func (m *Multi) Notify(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			m.logger.Warn("notification not delivered",
				"sink", fmt.Sprintf("%T", sink),
				"operation", event.Operation,
				"phase", event.Phase,
				"error", err)
		}
	}
	return nil
}

// Len returns the number of configured sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

var (
	_ Sink = Noop{}
	_ Sink = (*Multi)(nil)
	_ Sink = (*Webhook)(nil)
	_ Sink = (*Email)(nil)
)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/journal"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
	"github.com/jinterlante1206/drydock/pkg/ux"
)

// interrupts is the two-stage interrupt handler.
//
// # Description
//
// The first SIGINT/SIGTERM cancels the operation context; the running
// component then compensates on the recovery context. The second signal
// cancels the recovery context, after which the command writes a diagnostic
// marker and exits without further recovery. The recovery context does not
// inherit the operation context's cancellation.
//
// # Thread Safety
//
// Safe for concurrent use.
type interrupts struct {
	op             context.Context
	cancelOp       context.CancelFunc
	recovery       context.Context
	cancelRecovery context.CancelFunc

	count    atomic.Int32
	sigCh    chan os.Signal
	done     chan struct{}
	stopOnce sync.Once

	printer *ux.Printer
	logger  *slog.Logger
}

// newInterrupts creates a handler that is not yet subscribed to signals.
func newInterrupts(parent context.Context, printer *ux.Printer, logger *slog.Logger) *interrupts {
	op, cancelOp := context.WithCancel(parent)
	recovery, cancelRecovery := context.WithCancel(context.WithoutCancel(parent))
	return &interrupts{
		op:             op,
		cancelOp:       cancelOp,
		recovery:       recovery,
		cancelRecovery: cancelRecovery,
		sigCh:          make(chan os.Signal, 2),
		done:           make(chan struct{}),
		printer:        printer,
		logger:         logger,
	}
}

// watchInterrupts subscribes to SIGINT and SIGTERM. Call Stop when the
// command returns.
func watchInterrupts(parent context.Context, printer *ux.Printer, logger *slog.Logger) *interrupts {
	i := newInterrupts(parent, printer, logger)
	signal.Notify(i.sigCh, syscall.SIGINT, syscall.SIGTERM)
	util.SafeGo(i.loop, func(r util.SafeGoResult) {
		logger.Error("interrupt handler panicked", "panic", r.PanicValue, "stack", r.Stack)
	})
	return i
}

func (i *interrupts) loop() {
	for {
		select {
		case <-i.done:
			return
		case sig := <-i.sigCh:
			i.handle(sig)
		}
	}
}

func (i *interrupts) handle(sig os.Signal) {
	switch i.count.Add(1) {
	case 1:
		i.logger.Warn("interrupt received, stopping and rolling back", "signal", sig.String())
		i.printer.Warning("Interrupted: rolling back. Press Ctrl-C again to abort recovery.")
		i.cancelOp()
	case 2:
		i.logger.Error("second interrupt received, aborting recovery", "signal", sig.String())
		i.printer.Error("Recovery aborted. The system may be in an inconsistent state.")
		i.cancelRecovery()
	}
}

// Interrupted reports whether at least one signal arrived.
func (i *interrupts) Interrupted() bool {
	return i.count.Load() >= 1
}

// Forced reports whether recovery was aborted by a second signal.
func (i *interrupts) Forced() bool {
	return i.count.Load() >= 2
}

// Stop unsubscribes and cancels both contexts. Safe to call twice.
func (i *interrupts) Stop() {
	i.stopOnce.Do(func() {
		signal.Stop(i.sigCh)
		close(i.done)
		i.cancelOp()
		i.cancelRecovery()
	})
}

// abortMarker writes the marker for an operation whose recovery was aborted.
// It uses only the marker directory: after a second interrupt nothing else
// may run.
func abortMarker(dir string, rec *ops.Record, logger *slog.Logger) string {
	if rec == nil {
		return ""
	}
	path, err := journal.WriteMarkerFile(dir, journal.Marker{
		OperationID: rec.ID,
		Kind:        rec.Kind,
		Reason:      "recovery aborted by a second interrupt",
		Anchor:      rec.Anchor,
		Services:    rec.Services,
	})
	if err != nil {
		logger.Error("diagnostic marker not written", "id", rec.ID, "error", err)
		return ""
	}
	logger.Warn("diagnostic marker written", "id", rec.ID, "path", path)
	return path
}

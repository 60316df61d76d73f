// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/telemetry"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

const tracerName = "drydock/maintenance"

// Task names.
const (
	TaskContainerPrune    = "container-prune"
	TaskLogRotate         = "log-rotate"
	TaskBackupPrune       = "backup-prune"
	TaskDatastoreOptimize = "datastore-optimize"
	TaskCacheOptimize     = "cache-optimize"
	TaskPermissionRepair  = "permission-repair"
	TaskPackageUpdate     = "package-update"
)

// Group names.
const (
	GroupAll      = "all"
	GroupCleanup  = "cleanup"
	GroupOptimize = "optimize"
	GroupSecurity = "security"
)

// groups lists members in execution order.
var groups = map[string][]string{
	GroupCleanup:  {TaskContainerPrune, TaskLogRotate, TaskBackupPrune},
	GroupOptimize: {TaskDatastoreOptimize, TaskCacheOptimize},
	GroupSecurity: {TaskPermissionRepair, TaskPackageUpdate},
}

// order is the execution order of every known task.
var order = []string{
	TaskContainerPrune, TaskLogRotate, TaskBackupPrune,
	TaskDatastoreOptimize, TaskCacheOptimize,
	TaskPermissionRepair, TaskPackageUpdate,
}

// ErrUnknownTask is returned by Resolve for names that are neither a group
// nor a registered task.
var ErrUnknownTask = errors.New("unknown maintenance task")

// =============================================================================
// Task Contract
// =============================================================================

// Task is one housekeeping job.
type Task interface {
	// Name returns the task name used on the command line.
	Name() string

	// Inspect reports the actions Apply would take. It must not mutate
	// anything.
	Inspect(ctx context.Context) ([]string, error)

	// Apply performs the actions and returns what was done. Running it twice
	// in a row leaves the second run with nothing to do.
	Apply(ctx context.Context) ([]string, error)
}

// Refresher is implemented by tasks whose Inspect reads state that goes stale
// on its own, such as a package index. Refresh runs before Inspect on real
// runs only; dry runs inspect the state as it is.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Result is the outcome of one task.
type Result struct {
	Task     string        `json:"task"`
	Planned  []string      `json:"planned"`
	Done     []string      `json:"done,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Failed reports whether the task errored.
func (r Result) Failed() bool {
	return r.Err != ""
}

// Report is the outcome of a maintenance run.
type Report struct {
	DryRun      bool      `json:"dry_run"`
	Results     []Result  `json:"results"`
	Interrupted bool      `json:"interrupted,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Failed returns the results of tasks that errored.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Outcome maps the report onto an operation outcome. Task failures are
// warnings; an interrupted run failed.
func (r Report) Outcome() ops.Outcome {
	switch {
	case r.Interrupted:
		return ops.OutcomeFailed
	case len(r.Failed()) > 0:
		return ops.OutcomeWarning
	default:
		return ops.OutcomeSuccess
	}
}

// Err returns nil for a clean run, a KindInterrupted error for an
// interrupted run and a warning-level error listing failed tasks otherwise.
func (r Report) Err() error {
	if r.Interrupted {
		return util.NewOpError(util.KindInterrupted, "maintenance", context.Canceled)
	}
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failed))
	for _, res := range failed {
		errs = append(errs, fmt.Errorf("%s: %s", res.Task, res.Err))
	}
	return util.NewOpError(util.KindPrecondition, "maintenance", errors.Join(errs...))
}

// Record fills an operation record from the report.
func (r Report) Record(rec *ops.Record) {
	for _, res := range r.Results {
		switch {
		case res.Failed():
			rec.Fail(fmt.Sprintf("%s: %s", res.Task, res.Err))
		case r.DryRun:
			rec.Succeed(fmt.Sprintf("%s: %d planned", res.Task, len(res.Planned)))
		default:
			rec.Succeed(fmt.Sprintf("%s: %d done", res.Task, len(res.Done)))
		}
	}
}

// =============================================================================
// Runner
// =============================================================================

// Runner resolves and executes tasks.
type Runner struct {
	tasks  map[string]Task
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner registers tasks. Tasks whose collaborators are not configured
// are simply not registered.
func NewRunner(logger *slog.Logger, tasks ...Task) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{tasks: make(map[string]Task, len(tasks)), logger: logger, now: time.Now}
	for _, t := range tasks {
		r.tasks[t.Name()] = t
	}
	return r
}

// Names returns the registered task names in execution order.
func (r *Runner) Names() []string {
	var out []string
	for _, name := range order {
		if _, ok := r.tasks[name]; ok {
			out = append(out, name)
		}
	}
	var extra []string
	for name := range r.tasks {
		if !slices.Contains(order, name) {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Resolve expands group and task names into tasks in execution order.
//
// # Description
//
// Group members that are not registered are skipped (a host without a
// datastore still runs "optimize"). A task name that is not registered is
// an error.
func (r *Runner) Resolve(names []string) ([]Task, error) {
	if len(names) == 0 {
		names = []string{GroupAll}
	}
	want := map[string]bool{}
	for _, name := range names {
		switch {
		case name == GroupAll:
			for _, n := range r.Names() {
				want[n] = true
			}
		case groups[name] != nil:
			for _, n := range groups[name] {
				if _, ok := r.tasks[n]; ok {
					want[n] = true
				}
			}
		default:
			if _, ok := r.tasks[name]; !ok {
				return nil, util.NewOpError(util.KindPrecondition, "maintenance.resolve",
					fmt.Errorf("%w: %q", ErrUnknownTask, name))
			}
			want[name] = true
		}
	}

	var out []Task
	for _, name := range r.Names() {
		if want[name] {
			out = append(out, r.tasks[name])
		}
	}
	return out, nil
}

// Run executes tasks in order.
//
// # Description
//
// Every task is inspected first. In a dry run that is all; otherwise a
// Refresher is refreshed before its inspection and Apply runs when Inspect
// found something to do. A failing or panicking task is logged and recorded
// and the next task runs. Cancellation stops before the next task.
//
// # Inputs
//
//   - ctx: Cancellation.
//   - tasks: From Resolve.
//   - dryRun: Inspect only.
//
// # Outputs
//
//   - Report: One Result per task that was attempted.
func (r *Runner) Run(ctx context.Context, tasks []Task, dryRun bool) Report {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "maintenance.run",
		trace.WithAttributes(attribute.Bool("dry_run", dryRun), attribute.Int("tasks", len(tasks))))
	defer span.End()

	report := Report{DryRun: dryRun, StartedAt: r.now().UTC()}
	for _, task := range tasks {
		if ctx.Err() != nil {
			report.Interrupted = true
			r.logger.Warn("maintenance interrupted", "remaining_from", task.Name())
			break
		}
		report.Results = append(report.Results, r.runTask(ctx, task, dryRun))
	}
	if len(report.Failed()) > 0 {
		span.SetAttributes(attribute.Int("failed", len(report.Failed())))
	}
	return report
}

func (r *Runner) runTask(ctx context.Context, task Task, dryRun bool) (res Result) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "maintenance."+task.Name())
	start := r.now()
	logger := r.logger.With("task", task.Name(), "dry_run", dryRun)
	res.Task = task.Name()

	var err error
	defer func() {
		res.Duration = r.now().Sub(start)
		if err != nil {
			res.Err = err.Error()
			logger.Warn("maintenance task failed", "error", err)
		}
		telemetry.EndSpan(span, err)
	}()
	defer util.RecoverPanic(func(p util.SafeGoResult) {
		err = fmt.Errorf("task panicked: %v", p.PanicValue)
		logger.Error("maintenance task panicked", "panic", p.PanicValue, "stack", p.Stack)
	})()

	if refresher, ok := task.(Refresher); ok && !dryRun {
		if err = refresher.Refresh(ctx); err != nil {
			err = fmt.Errorf("refresh: %w", err)
			return res
		}
	}
	res.Planned, err = task.Inspect(ctx)
	if err != nil {
		err = fmt.Errorf("inspect: %w", err)
		return res
	}
	if dryRun {
		logger.Info("maintenance task inspected", "planned", len(res.Planned))
		return res
	}
	if len(res.Planned) == 0 {
		logger.Info("maintenance task has nothing to do")
		return res
	}
	res.Done, err = task.Apply(ctx)
	if err == nil {
		logger.Info("maintenance task applied", "done", len(res.Done))
	}
	return res
}

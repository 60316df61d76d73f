// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/resilience"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/telemetry"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
	"github.com/jinterlante1206/drydock/pkg/ux"
)

const tracerName = "drydock/deploy"

// ErrNoAnchor is returned when a rollback is needed but the run was started
// with --skip-backup.
var ErrNoAnchor = errors.New("no pre-flight backup to roll back to (--skip-backup)")

// =============================================================================
// Collaborators
// =============================================================================

// Backups is the part of the BackupEngine the coordinator uses.
type Backups interface {
	CreateBackup(ctx context.Context, opts backup.CreateOptions) (backup.Record, error)
	LatestVerified(ctx context.Context) (backup.Record, bool, error)
	VerifyBackup(ctx context.Context, rec backup.Record) (backup.Record, error)
}

// Gate waits for an instance to become ready.
type Gate interface {
	WaitReady(ctx context.Context, inst runtime.Instance, probe topology.Probe) error
}

// Rollbacker returns touched services to a backup's state. Implemented by
// restore.Engine.
type Rollbacker interface {
	Rollback(ctx context.Context, rec backup.Record, touched []string) error
}

// VerifyFunc runs the full-system health evaluation.
type VerifyFunc func(ctx context.Context) health.Report

// Config holds the deploy settings.
type Config struct {
	// MaxParallel bounds concurrent services within a tier. Default 4.
	MaxParallel int

	// PreflightMaxAge is how old a verified backup may be and still serve as
	// the anchor. Zero always creates a fresh backup.
	PreflightMaxAge time.Duration

	// StepTimeout bounds each saga step. Default 30 minutes.
	StepTimeout time.Duration

	// GracePeriod bounds the rollback after an interrupt. Default 5 minutes.
	GracePeriod time.Duration
}

// Deps are the Coordinator's collaborators. Notifier, Metrics, Printer and
// Observer are optional.
type Deps struct {
	Controller runtime.Controller
	Backups    Backups
	Gate       Gate
	Verify     VerifyFunc
	Rollbacker Rollbacker
	Notifier   notify.Sink
	Metrics    *telemetry.Metrics
	Printer    *ux.Printer
	Logger     *slog.Logger

	// Observer receives every per-service state transition.
	Observer func(Transition)
}

// Options parameterize one Execute call.
type Options struct {
	// Kind is ops.KindDeploy or ops.KindUpdate.
	Kind ops.Kind

	// FreshBackup always creates the anchor (--backup).
	FreshBackup bool

	// SkipBackup runs without an anchor (--skip-backup). A failure can then
	// only discard candidates.
	SkipBackup bool

	// Force redeploys services already running their target image.
	Force bool

	// Recovery is the context compensations run on. The CLI cancels it on a
	// second interrupt. Default: context.Background().
	Recovery context.Context
}

// Coordinator is the DeploymentCoordinator.
type Coordinator struct {
	config Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(config Config, deps Deps) *Coordinator {
	if config.MaxParallel <= 0 {
		config.MaxParallel = 4
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = 30 * time.Minute
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Minute
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{config: config, deps: deps, logger: logger, now: time.Now}
}

// =============================================================================
// Execute
// =============================================================================

// run is the state of one Execute call.
type run struct {
	c       *Coordinator
	plan    topology.Plan
	opts    Options
	rec     *ops.Record
	logger  *slog.Logger
	tracker *tracker
	anchor  *backup.Record
	opCtx   context.Context
	trigger string

	// rolledBack is set once the Rollbacker succeeded; rollbackErr when it
	// failed or could not run.
	rolledBack  bool
	rollbackErr error
}

// Execute rolls plan out.
//
// # Description
//
// No service is stopped or replaced before the anchor step succeeded. Tiers
// run in ascending rank; within a tier services run concurrently, bounded by
// Config.MaxParallel, and one service's failure does not cancel its
// siblings. After the last tier the system is evaluated and a CRITICAL
// report triggers the rollback like a readiness failure does.
//
// # Inputs
//
//   - ctx: Operation context. Cancelling it interrupts the rollout and
//     triggers a rollback on Options.Recovery, bounded by the grace period.
//   - plan: Tiers and strategy.
//   - opts: Anchor selection, force and recovery context.
//
// # Outputs
//
//   - *ops.Record: Always non-nil. Outcome is success, rolled-back or failed.
//   - error: nil on success. When rolled back, the triggering error. When
//     the rollback failed, a KindTerminal *util.OpError.
func (c *Coordinator) Execute(ctx context.Context, plan topology.Plan, opts Options) (rec *ops.Record, err error) {
	if opts.Kind == "" {
		opts.Kind = ops.KindDeploy
	}
	if opts.Recovery == nil {
		opts.Recovery = context.Background()
	}
	rec = ops.New(opts.Kind)

	ctx, span := telemetry.StartSpan(ctx, tracerName, "drydock."+string(opts.Kind),
		trace.WithAttributes(
			attribute.String("operation.id", rec.ID),
			attribute.String("plan.id", plan.ID),
			attribute.String("plan.strategy", string(plan.Strategy)),
		),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	services := plan.Services()
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}

	r := &run{
		c:       c,
		plan:    plan,
		opts:    opts,
		rec:     rec,
		logger:  telemetry.LoggerWithTrace(ctx, c.logger).With("operation_id", rec.ID, "kind", opts.Kind),
		tracker: newTracker(names, c.deps.Observer),
		opCtx:   ctx,
	}
	r.logger.Info("rollout started", "plan_id", plan.ID, "strategy", plan.Strategy, "tiers", len(plan.Tiers), "services", len(services))
	c.notify(ctx, rec, notify.PhaseStarted, notify.StatusStarted,
		fmt.Sprintf("%s of %d services in %d tiers (%s)", opts.Kind, len(services), len(plan.Tiers), plan.Strategy))

	saga := resilience.NewSaga(resilience.SagaConfig{
		StepTimeout: c.config.StepTimeout,
		Recovery:    opts.Recovery,
		Logger:      r.logger,
		OnStepFail:  r.onStepFail,
	})
	saga.AddStep(resilience.SagaStep{Name: "anchor", Execute: r.obtainAnchor, Compensate: r.rollBack})
	if plan.Strategy == topology.StrategyFullRestart {
		saga.AddStep(resilience.SagaStep{Name: "stop", Execute: r.stopChanged})
	}
	for _, tier := range plan.Tiers {
		saga.AddStep(resilience.SagaStep{
			Name:       "tier." + tier.Name,
			Execute:    func(ctx context.Context) error { return r.rollOutTier(ctx, tier) },
			Compensate: func(ctx context.Context) error { return r.discardCandidates(ctx, tier) },
		})
	}
	saga.AddStep(resilience.SagaStep{Name: "verify", Execute: r.verify})

	err = r.finish(ctx, saga.Execute(ctx))
	return rec, err
}

// finish maps the saga result onto the record.
func (r *run) finish(ctx context.Context, sagaErr error) error {
	c := r.c
	for _, s := range r.tracker.touchedServices() {
		r.rec.Touch(s)
	}
	for _, s := range r.tracker.inState(StateDone) {
		r.rec.Succeed(s)
	}
	for _, s := range r.tracker.inState(StateSkipped) {
		r.rec.Succeed(s + " (unchanged)")
	}

	var (
		outcome ops.Outcome
		status  notify.Status
		err     error
	)
	var se *resilience.SagaError
	switch {
	case sagaErr == nil:
		outcome, status = ops.OutcomeSuccess, notify.StatusSucceeded
		if len(r.rec.Warnings) > 0 {
			status = notify.StatusWarning
		}

	case errors.As(sagaErr, &se) && se.FailedStep == "anchor":
		// Nothing was mutated.
		outcome, status, err = ops.OutcomeFailed, notify.StatusFailed, se.Err
		r.rec.Fail("pre-flight backup")

	case errors.As(sagaErr, &se) && se.Compensated() && r.rolledBack:
		outcome, status, err = ops.OutcomeRolledBack, notify.StatusRolledBack, se.Err
		for _, s := range r.tracker.inState(StateRollbackTriggered) {
			r.rec.Fail(s)
		}

	case errors.As(sagaErr, &se) && se.Compensated():
		// Failed before any service was touched.
		outcome, status, err = ops.OutcomeFailed, notify.StatusFailed, se.Err

	default:
		outcome, status = ops.OutcomeFailed, notify.StatusFailed
		err = util.NewOpError(util.KindTerminal, string(r.opts.Kind)+".rollback", sagaErr)
		if r.rollbackErr != nil {
			r.rec.Warn("manual recovery required: " + r.rollbackErr.Error())
		}
		for _, s := range r.tracker.inState(StateNotReady, StateRollbackTriggered) {
			r.rec.Fail(s)
		}
	}

	r.rec.Finish(outcome, err)
	c.deps.Metrics.RecordOperation(ctx, r.rec)

	summary := fmt.Sprintf("outcome %s", outcome)
	if r.anchor != nil {
		summary += ", anchor " + r.anchor.ID
	}
	if err != nil {
		summary += ": " + err.Error()
		r.logger.Error("rollout finished", "outcome", outcome, "error", err)
	} else {
		r.logger.Info("rollout finished", "outcome", outcome, "succeeded", len(r.rec.Succeeded))
	}
	c.notify(context.WithoutCancel(ctx), r.rec, notify.PhaseFinished, status, summary)
	return err
}

// onStepFail records the trigger and announces the rollback.
func (r *run) onStepFail(step resilience.SagaStep, err error) {
	if step.Name == "anchor" {
		return
	}
	switch {
	case r.opCtx.Err() != nil:
		r.trigger = "interrupted"
	case step.Name == "verify":
		r.trigger = "verification"
	default:
		r.trigger = "readiness"
	}
	r.logger.Warn("rollback triggered", "step", step.Name, "trigger", r.trigger, "error", err)
	r.c.deps.Metrics.RecordRollback(context.WithoutCancel(r.opCtx), r.opts.Kind, r.trigger)
	if r.c.deps.Printer != nil {
		r.c.deps.Printer.Warning("%s failed at %s (%s); rolling back", r.opts.Kind, step.Name, r.trigger)
	}
	r.c.notify(context.WithoutCancel(r.opCtx), r.rec, notify.PhaseRollback, notify.StatusRolledBack,
		fmt.Sprintf("%s failed at %s (%s): %v", r.opts.Kind, step.Name, r.trigger, err))
}

// =============================================================================
// Steps
// =============================================================================

// obtainAnchor selects or creates the pre-flight backup.
func (r *run) obtainAnchor(ctx context.Context) error {
	c := r.c
	if r.opts.SkipBackup {
		msg := "pre-flight backup skipped (--skip-backup): a failed rollout cannot be rolled back"
		r.logger.Warn(msg)
		if c.deps.Printer != nil {
			c.deps.Printer.Banner(msg)
		}
		r.rec.Warn(msg)
		return nil
	}

	if !r.opts.FreshBackup && c.config.PreflightMaxAge > 0 {
		latest, ok, err := c.deps.Backups.LatestVerified(ctx)
		if err != nil {
			return util.NewOpError(util.KindPrecondition, "deploy.anchor", err)
		}
		if ok && c.now().Sub(latest.CreatedAt()) <= c.config.PreflightMaxAge {
			verified, err := c.deps.Backups.VerifyBackup(ctx, latest)
			if err == nil {
				r.setAnchor(verified, "reused")
				return nil
			}
			r.logger.Warn("recent backup failed re-verification, creating a new one", "backup_id", latest.ID, "error", err)
		}
	}

	created, err := c.deps.Backups.CreateBackup(ctx, backup.CreateOptions{Scope: backup.ScopeFull})
	if err != nil {
		return fmt.Errorf("pre-flight backup: %w", err)
	}
	for _, w := range created.Warnings {
		r.rec.Warn(w)
	}
	r.setAnchor(created, "created")
	return nil
}

func (r *run) setAnchor(rec backup.Record, how string) {
	r.anchor = &rec
	r.rec.Anchor = rec.ID
	r.logger.Info("pre-flight anchor "+how, "backup_id", rec.ID)
	if r.c.deps.Printer != nil {
		r.c.deps.Printer.Success("pre-flight backup %s (%s)", rec.ID, how)
	}
}

// stopChanged stops every service that will be redeployed, highest rank
// first. Full-restart only.
func (r *run) stopChanged(ctx context.Context) error {
	for i := len(r.plan.Tiers) - 1; i >= 0; i-- {
		for _, svc := range r.plan.Tiers[i].Services {
			if !r.needsRollout(ctx, svc) {
				continue
			}
			if err := r.tracker.move(svc.Name, StateStopping); err != nil {
				return err
			}
			if err := r.c.deps.Controller.Stop(ctx, svc.Name); err != nil {
				_ = r.tracker.move(svc.Name, StateNotReady)
				return util.NewOpError(util.KindPrecondition, "deploy.stop "+svc.Name, err)
			}
		}
	}
	return nil
}

// needsRollout decides Skipped once per service.
func (r *run) needsRollout(ctx context.Context, svc topology.ServiceDescriptor) bool {
	switch r.tracker.state(svc.Name) {
	case StateSkipped:
		return false
	case StatePending:
	default:
		return true
	}
	if r.opts.Force {
		return true
	}
	st, err := r.c.deps.Controller.Status(ctx, svc.Name)
	if err == nil && st.Running() && st.Image == svc.Image() {
		_ = r.tracker.move(svc.Name, StateSkipped)
		r.logger.Info("service unchanged, skipping", "service", svc.Name, "image", svc.Image())
		return false
	}
	return true
}

// rollOutTier runs every service of tier concurrently and waits for all of
// them.
func (r *run) rollOutTier(ctx context.Context, tier topology.Tier) (err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "tier."+tier.Name,
		trace.WithAttributes(attribute.Int("tier.rank", tier.Rank), attribute.StringSlice("tier.services", tier.Names())))
	defer func() { telemetry.EndSpan(span, err) }()

	r.logger.Info("tier started", "tier", tier.Name, "rank", tier.Rank, "services", tier.Names())

	errs := make([]error, len(tier.Services))
	var g errgroup.Group
	g.SetLimit(r.c.config.MaxParallel)
	for i, svc := range tier.Services {
		g.Go(func() error {
			errs[i] = r.rollOutService(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		r.logger.Error("tier failed", "tier", tier.Name, "error", err)
		return err
	}
	r.logger.Info("tier ready", "tier", tier.Name)
	if r.c.deps.Printer != nil {
		r.c.deps.Printer.Success("tier %s ready (%s)", tier.Name, strings.Join(tier.Names(), ", "))
	}
	return nil
}

// rollOutService drives one service through its state machine.
func (r *run) rollOutService(ctx context.Context, svc topology.ServiceDescriptor) error {
	if !r.needsRollout(ctx, svc) {
		return nil
	}
	inPlace := r.plan.Strategy == topology.StrategyFullRestart || svc.Stateful || svc.Exclusive
	if inPlace {
		return r.restartInPlace(ctx, svc)
	}
	return r.rollingReplace(ctx, svc)
}

func (r *run) restartInPlace(ctx context.Context, svc topology.ServiceDescriptor) error {
	ctrl := r.c.deps.Controller
	fail := func(op string, err error) error {
		_ = r.tracker.move(svc.Name, StateNotReady)
		return util.NewOpError(util.KindPrecondition, op+" "+svc.Name, err)
	}

	if r.tracker.state(svc.Name) == StatePending {
		if err := r.tracker.move(svc.Name, StateStopping); err != nil {
			return err
		}
		if err := ctrl.Stop(ctx, svc.Name); err != nil {
			return fail("deploy.stop", err)
		}
	}
	if err := r.tracker.move(svc.Name, StateStarting); err != nil {
		return err
	}
	if err := ctrl.Start(ctx, svc.Name, svc.Spec); err != nil {
		return fail("deploy.start", err)
	}
	if err := r.tracker.move(svc.Name, StateProbingReadiness); err != nil {
		return err
	}
	if err := r.c.deps.Gate.WaitReady(ctx, ctrl.Instance(svc.Name), svc.Probe); err != nil {
		_ = r.tracker.move(svc.Name, StateNotReady)
		return notReady(svc.Name, err)
	}
	r.logger.Info("service deployed", "service", svc.Name, "image", svc.Image())
	return r.tracker.move(svc.Name, StateDone)
}

func (r *run) rollingReplace(ctx context.Context, svc topology.ServiceDescriptor) error {
	ctrl := r.c.deps.Controller
	if err := r.tracker.move(svc.Name, StateStartingNewInstance); err != nil {
		return err
	}
	inst, err := ctrl.StartCandidate(ctx, svc.Name, svc.Spec)
	if err != nil {
		_ = r.tracker.move(svc.Name, StateNotReady)
		r.removeCandidate(svc.Name)
		return util.NewOpError(util.KindPrecondition, "deploy.candidate "+svc.Name, err)
	}
	if err := r.tracker.move(svc.Name, StateProbingReadiness); err != nil {
		return err
	}
	if err := r.c.deps.Gate.WaitReady(ctx, inst, svc.Probe); err != nil {
		_ = r.tracker.move(svc.Name, StateNotReady)
		r.removeCandidate(svc.Name)
		return notReady(svc.Name, err)
	}
	if err := r.tracker.move(svc.Name, StateReady); err != nil {
		return err
	}
	if err := r.tracker.move(svc.Name, StateDrainingOldInstance); err != nil {
		return err
	}
	if err := ctrl.Promote(ctx, svc.Name, svc.Spec); err != nil {
		_ = r.tracker.move(svc.Name, StateNotReady)
		r.removeCandidate(svc.Name)
		return util.NewOpError(util.KindPrecondition, "deploy.promote "+svc.Name, err)
	}
	// Published ports force the runtime to recreate the primary on promote
	// instead of keeping the probed candidate, so the new primary is gated too.
	if len(svc.Spec.Ports) > 0 {
		if err := r.c.deps.Gate.WaitReady(ctx, ctrl.Instance(svc.Name), svc.Probe); err != nil {
			_ = r.tracker.move(svc.Name, StateNotReady)
			return notReady(svc.Name, err)
		}
	}
	r.logger.Info("service replaced", "service", svc.Name, "image", svc.Image())
	return r.tracker.move(svc.Name, StateDone)
}

// notReady escalates an exhausted readiness gate to a verification failure of
// the running operation. An interrupted gate keeps its kind.
func notReady(service string, err error) error {
	if util.IsKind(err, util.KindInterrupted) {
		return err
	}
	return util.NewOpError(util.KindVerification, "deploy.readiness "+service, err)
}

// removeCandidate discards a failed candidate on the recovery context so an
// interrupt does not leave it running.
func (r *run) removeCandidate(service string) {
	ctx, cancel := context.WithTimeout(r.opts.Recovery, util.DefaultProbeTimeout)
	defer cancel()
	if err := r.c.deps.Controller.RemoveCandidate(ctx, service); err != nil {
		r.logger.Warn("candidate not removed", "service", service, "error", err)
	}
}

// discardCandidates compensates a tier step.
func (r *run) discardCandidates(ctx context.Context, tier topology.Tier) error {
	var errs []error
	for _, svc := range tier.Services {
		if err := r.c.deps.Controller.RemoveCandidate(ctx, svc.Name); err != nil {
			errs = append(errs, fmt.Errorf("remove candidate %s: %w", svc.Name, err))
		}
	}
	return errors.Join(errs...)
}

// verify evaluates the whole system after the last tier.
func (r *run) verify(ctx context.Context) error {
	report := r.c.deps.Verify(ctx)
	r.logger.Info("post-deploy evaluation", "status", report.Status, "checks", len(report.Results))
	if report.Status != health.StatusCritical {
		for _, res := range report.AtLeast(health.StatusWarning) {
			r.rec.Warn(fmt.Sprintf("%s: %s", res.Name, res.Message))
		}
		return nil
	}
	names := make([]string, 0)
	for _, res := range report.Critical() {
		names = append(names, res.Name)
	}
	return util.NewOpError(util.KindVerification, "deploy.verify",
		fmt.Errorf("post-deploy health is CRITICAL: %s", strings.Join(names, ", ")))
}

// rollBack compensates the anchor step: it returns the touched services to
// the anchor.
func (r *run) rollBack(ctx context.Context) error {
	touched := r.tracker.touchedServices()
	if len(touched) == 0 {
		return nil
	}
	for _, s := range touched {
		_ = r.tracker.move(s, StateRollbackTriggered)
	}
	if r.anchor == nil {
		r.rollbackErr = ErrNoAnchor
		return ErrNoAnchor
	}
	if r.opCtx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.c.config.GracePeriod)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "rollback",
		trace.WithAttributes(attribute.String("backup.id", r.anchor.ID), attribute.StringSlice("services", touched)))
	r.logger.Warn("rolling back", "backup_id", r.anchor.ID, "services", touched)
	err := r.c.deps.Rollbacker.Rollback(ctx, *r.anchor, touched)
	telemetry.EndSpan(span, err)
	if err != nil {
		r.rollbackErr = err
		return err
	}
	r.rolledBack = true
	r.logger.Info("rollback completed", "backup_id", r.anchor.ID)
	return nil
}

// =============================================================================
// Verify and manual rollback
// =============================================================================

// Verify runs only the post-deploy evaluation (--verify).
func (c *Coordinator) Verify(ctx context.Context) (health.Report, error) {
	report := c.deps.Verify(ctx)
	if report.Status == health.StatusCritical {
		return report, util.NewOpError(util.KindVerification, "deploy.verify",
			fmt.Errorf("%d critical checks", len(report.Critical())))
	}
	return report, nil
}

// RollbackTo returns services to rec (deploy --rollback). The caller has
// already resolved the backup and obtained any confirmation.
func (c *Coordinator) RollbackTo(ctx context.Context, rec backup.Record, services []string) (out *ops.Record, err error) {
	out = ops.New(ops.KindRollback)
	out.Anchor = rec.ID
	for _, s := range services {
		out.Touch(s)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "drydock.rollback",
		trace.WithAttributes(attribute.String("backup.id", rec.ID)))
	defer func() { telemetry.EndSpan(span, err) }()

	c.notify(ctx, out, notify.PhaseStarted, notify.StatusStarted,
		fmt.Sprintf("rollback of %d services to %s", len(services), rec.ID))
	c.deps.Metrics.RecordRollback(ctx, ops.KindRollback, "manual")

	if !rec.Usable() {
		err = util.NewOpError(util.KindIntegrity, "rollback",
			fmt.Errorf("backup %s is not usable (%s)", rec.ID, rec.Status))
	} else if rbErr := c.deps.Rollbacker.Rollback(ctx, rec, services); rbErr != nil {
		err = util.NewOpError(util.KindTerminal, "rollback", rbErr)
	}

	status := notify.StatusSucceeded
	if err != nil {
		out.Finish(ops.OutcomeFailed, err)
		for _, s := range services {
			out.Fail(s)
		}
		status = notify.StatusFailed
	} else {
		out.Finish(ops.OutcomeSuccess, nil)
		for _, s := range services {
			out.Succeed(s)
		}
	}
	c.deps.Metrics.RecordOperation(ctx, out)
	c.notify(context.WithoutCancel(ctx), out, notify.PhaseFinished, status, fmt.Sprintf("rollback to %s: %s", rec.ID, out.Outcome))
	return out, err
}

func (c *Coordinator) notify(ctx context.Context, rec *ops.Record, phase notify.Phase, status notify.Status, summary string) {
	err := c.deps.Notifier.Notify(ctx, notify.Event{
		Operation:   string(rec.Kind),
		OperationID: rec.ID,
		Phase:       phase,
		Status:      status,
		Summary:     summary,
		Time:        c.now().UTC(),
	})
	if err != nil {
		c.logger.Warn("notification not delivered", "phase", phase, "error", err)
	}
}

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
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/backup"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/health"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/notify"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/ops"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
	"github.com/jinterlante1206/drydock/pkg/logging"
	"github.com/jinterlante1206/drydock/pkg/ux"
)

// =============================================================================
// Test Doubles
// =============================================================================

// scriptedProber fails for the listed instances and counts every probe.
type scriptedProber struct {
	mu      sync.Mutex
	failFor map[string]bool
	calls   map[string]int
	onProbe func(inst runtime.Instance)
}

func (p *scriptedProber) Probe(_ context.Context, inst runtime.Instance, _ topology.Probe) error {
	p.mu.Lock()
	p.calls[inst.Name]++
	fail := p.failFor[inst.Name]
	hook := p.onProbe
	p.mu.Unlock()
	if hook != nil {
		hook(inst)
	}
	if fail {
		return health.ErrNotReady
	}
	return nil
}

func (p *scriptedProber) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

// sleepRecorder replaces real waits.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

// fakeBackups captures deployed versions like the real engine does.
type fakeBackups struct {
	ctrl      *runtime.FakeController
	names     []string
	now       time.Time
	latest    *backup.Record
	createErr error
	verifyErr error
	created   int
}

func (b *fakeBackups) CreateBackup(ctx context.Context, _ backup.CreateOptions) (backup.Record, error) {
	if b.createErr != nil {
		return backup.Record{}, b.createErr
	}
	b.created++
	versions := map[string]string{}
	for _, n := range b.names {
		st, err := b.ctrl.Status(ctx, n)
		if err != nil {
			return backup.Record{}, err
		}
		versions[n] = st.Image
	}
	id := b.now.UTC().Format(backup.IDFormat)
	return backup.Record{
		ID:       id,
		Status:   backup.StatusVerified,
		Manifest: backup.Manifest{ID: id, Versions: versions},
	}, nil
}

func (b *fakeBackups) LatestVerified(context.Context) (backup.Record, bool, error) {
	if b.latest == nil {
		return backup.Record{}, false, nil
	}
	return *b.latest, true, nil
}

func (b *fakeBackups) VerifyBackup(_ context.Context, rec backup.Record) (backup.Record, error) {
	return rec, b.verifyErr
}

// versionRollbacker returns touched services to the backup's versions.
type versionRollbacker struct {
	ctrl  *runtime.FakeController
	topo  topology.Topology
	err   error
	calls []rollbackCall
}

type rollbackCall struct {
	backupID string
	touched  []string
}

func (v *versionRollbacker) Rollback(ctx context.Context, rec backup.Record, touched []string) error {
	v.calls = append(v.calls, rollbackCall{backupID: rec.ID, touched: append([]string(nil), touched...)})
	if v.err != nil {
		return v.err
	}
	tiers := v.topo.Subset(touched)
	for i := len(tiers) - 1; i >= 0; i-- {
		for _, svc := range tiers[i].Services {
			if err := v.ctrl.Stop(ctx, svc.Name); err != nil {
				return err
			}
		}
	}
	for _, tier := range tiers {
		for _, svc := range tier.Services {
			if err := v.ctrl.Start(ctx, svc.Name, svc.Spec.WithImage(rec.Manifest.Versions[svc.Name])); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordingSink keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	ctrl        *runtime.FakeController
	topo        topology.Topology
	prober      *scriptedProber
	sleeper     *sleepRecorder
	backups     *fakeBackups
	rollbacker  *versionRollbacker
	sink        *recordingSink
	out         *bytes.Buffer
	report      health.Report
	config      Config
	mu          sync.Mutex
	transitions []Transition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	topo, err := topology.New([]topology.ServiceDescriptor{
		{Name: "postgres", Rank: 0, Tier: "datastore", Stateful: true, Spec: runtime.InstanceSpec{Image: "postgres:16"}},
		{Name: "redis", Rank: 0, Tier: "datastore", Stateful: true, Spec: runtime.InstanceSpec{Image: "redis:7"}},
		{Name: "api", Rank: 1, Tier: "application", Spec: runtime.InstanceSpec{Image: "api:2"},
			Probe: topology.Probe{Kind: topology.ProbeHTTP, Target: "http://{host}:8000/health"}},
		{Name: "worker", Rank: 1, Tier: "application", Spec: runtime.InstanceSpec{Image: "worker:2"}},
		{Name: "nginx", Rank: 2, Tier: "edge", Exclusive: true, Spec: runtime.InstanceSpec{Image: "nginx:1.27"}},
	})
	require.NoError(t, err)

	ctrl := runtime.NewFakeController()
	ctrl.Seed("postgres", "postgres:16", true)
	ctrl.Seed("redis", "redis:7", true)
	ctrl.Seed("api", "api:1", true)
	ctrl.Seed("worker", "worker:1", true)
	ctrl.Seed("nginx", "nginx:1.25", true)

	return &fixture{
		ctrl:       ctrl,
		topo:       topo,
		prober:     &scriptedProber{failFor: map[string]bool{}, calls: map[string]int{}},
		sleeper:    &sleepRecorder{},
		backups:    &fakeBackups{ctrl: ctrl, names: topo.Names(), now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)},
		rollbacker: &versionRollbacker{ctrl: ctrl, topo: topo},
		sink:       &recordingSink{},
		out:        &bytes.Buffer{},
		report:     health.NewReport([]health.Result{{Name: "cpu", Status: health.StatusOK}}, time.Now()),
		config:     Config{MaxParallel: 4},
	}
}

func (f *fixture) coordinator() *Coordinator {
	policy := util.FixedPolicy(30, 10*time.Second)
	policy.Sleep = f.sleeper.Sleep
	c := NewCoordinator(f.config, Deps{
		Controller: f.ctrl,
		Backups:    f.backups,
		Gate:       health.NewGate(f.prober, policy, logging.Nop()),
		Verify:     func(context.Context) health.Report { return f.report },
		Rollbacker: f.rollbacker,
		Notifier:   f.sink,
		Printer:    &ux.Printer{Out: f.out, Machine: true},
		Logger:     logging.Nop(),
		Observer: func(tr Transition) {
			f.mu.Lock()
			f.transitions = append(f.transitions, tr)
			f.mu.Unlock()
		},
	})
	c.now = func() time.Time { return f.backups.now }
	return c
}

func (f *fixture) path(service string) []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []State
	for _, tr := range f.transitions {
		if tr.Service == service {
			if len(out) == 0 {
				out = append(out, tr.From)
			}
			out = append(out, tr.To)
		}
	}
	return out
}

func (f *fixture) phases() []notify.Phase {
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	out := make([]notify.Phase, len(f.sink.events))
	for i, e := range f.sink.events {
		out[i] = e.Phase
	}
	return out
}

// =============================================================================
// Execute
// =============================================================================

func TestExecute_RollingSuccess(t *testing.T) {
	f := newFixture(t)
	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{Kind: ops.KindUpdate})
	require.NoError(t, err)

	assert.Equal(t, ops.OutcomeSuccess, rec.Outcome)
	assert.NotEmpty(t, rec.Anchor)
	assert.Equal(t, []string{
		"api=api:2/running",
		"nginx=nginx:1.27/running",
		"postgres=postgres:16/running",
		"redis=redis:7/running",
		"worker=worker:2/running",
	}, f.ctrl.Snapshot())

	// Unchanged datastore services are skipped.
	assert.False(t, f.ctrl.Touched("postgres"))
	assert.False(t, f.ctrl.Touched("redis"))
	assert.Contains(t, rec.Succeeded, "postgres (unchanged)")

	assert.Equal(t, []State{StatePending, StateStartingNewInstance, StateProbingReadiness, StateReady, StateDrainingOldInstance, StateDone}, f.path("api"))
	// Exclusive services restart in place even when rolling.
	assert.Equal(t, []State{StatePending, StateStopping, StateStarting, StateProbingReadiness, StateDone}, f.path("nginx"))
	assert.NotContains(t, f.ctrl.Ops(), "candidate nginx@nginx:1.27")

	assert.Equal(t, []notify.Phase{notify.PhaseStarted, notify.PhaseFinished}, f.phases())
	assert.Empty(t, f.rollbacker.calls)
}

// A 3-tier rolling update whose application candidate never becomes ready:
// 30 probes with 10s between them (29 waits), then a rollback to the pre-flight
// backup that leaves the datastore and edge tiers untouched. The exhausted gate
// is a critical failure of the update.
func TestExecute_ApplicationNeverReadyRollsBack(t *testing.T) {
	f := newFixture(t)
	f.prober.failFor["api-next"] = true
	before := f.ctrl.Snapshot()

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{Kind: ops.KindUpdate})
	require.Error(t, err)

	assert.Equal(t, ops.OutcomeRolledBack, rec.Outcome)
	assert.True(t, util.IsKind(err, util.KindVerification), "got %v", err)
	assert.ErrorIs(t, err, util.ErrRetryExhausted)
	assert.Equal(t, util.ExitCritical, util.ExitCode(err))

	assert.Equal(t, 30, f.prober.count("api-next"))
	require.Len(t, f.sleeper.sleeps, 29)
	var waited time.Duration
	for _, d := range f.sleeper.sleeps {
		assert.Equal(t, 10*time.Second, d)
		waited += d
	}
	assert.Equal(t, 290*time.Second, waited)

	require.Len(t, f.rollbacker.calls, 1)
	assert.Equal(t, rec.Anchor, f.rollbacker.calls[0].backupID)
	assert.Equal(t, []string{"api", "worker"}, f.rollbacker.calls[0].touched)

	// Versions equal the pre-flight state and no candidate is left behind.
	assert.Equal(t, before, f.ctrl.Snapshot())
	assert.False(t, f.ctrl.HasCandidate("api"))

	for _, svc := range []string{"postgres", "redis", "nginx"} {
		assert.False(t, f.ctrl.Touched(svc), "%s must stay untouched", svc)
	}
	assert.Empty(t, f.path("nginx"), "edge tier never starts")

	assert.Equal(t, []State{StatePending, StateStartingNewInstance, StateProbingReadiness, StateNotReady, StateRollbackTriggered}, f.path("api"))
	assert.Equal(t, []notify.Phase{notify.PhaseStarted, notify.PhaseRollback, notify.PhaseFinished}, f.phases())
	assert.Contains(t, f.out.String(), "rolling back")
}

// A service with published ports gets a recreated primary on promote, which
// is gated again before the service counts as deployed.
func TestExecute_RecreatedPrimaryIsGated(t *testing.T) {
	tests := []struct {
		name      string
		ports     []runtime.PortMapping
		failFor   string
		wantErr   bool
		wantProbe int
	}{
		{name: "published ports and ready", ports: []runtime.PortMapping{{Host: 8000, Container: 8000}}, wantProbe: 1},
		{name: "published ports never ready", ports: []runtime.PortMapping{{Host: 8000, Container: 8000}}, failFor: "api", wantErr: true, wantProbe: 30},
		{name: "no ports keeps the probed candidate", failFor: "api", wantProbe: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			descs := f.topo.Services()
			for i := range descs {
				if descs[i].Name == "api" {
					descs[i].Spec.Ports = tt.ports
				}
			}
			topo, err := topology.New(descs)
			require.NoError(t, err)
			f.topo = topo
			f.rollbacker.topo = topo
			if tt.failFor != "" {
				f.prober.failFor[tt.failFor] = true
			}

			rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{Kind: ops.KindUpdate})

			assert.Equal(t, 1, f.prober.count("api-next"))
			assert.Equal(t, tt.wantProbe, f.prober.count("api"))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, ops.OutcomeSuccess, rec.Outcome)
				return
			}
			require.Error(t, err)
			assert.Equal(t, ops.OutcomeRolledBack, rec.Outcome)
			assert.True(t, util.IsKind(err, util.KindVerification), "got %v", err)
			assert.Equal(t, util.ExitCritical, util.ExitCode(err))
			assert.Equal(t, []State{StatePending, StateStartingNewInstance, StateProbingReadiness, StateReady, StateDrainingOldInstance, StateNotReady, StateRollbackTriggered}, f.path("api"))
			require.Len(t, f.rollbacker.calls, 1)
		})
	}
}

func TestExecute_PostDeployCriticalRollsBack(t *testing.T) {
	f := newFixture(t)
	f.report = health.NewReport([]health.Result{
		{Name: "cpu", Status: health.StatusOK},
		{Name: "endpoint-api", Status: health.StatusCritical, Message: "connection refused"},
	}, time.Now())

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{})
	require.Error(t, err)

	assert.Equal(t, ops.OutcomeRolledBack, rec.Outcome)
	assert.True(t, util.IsKind(err, util.KindVerification))
	require.Len(t, f.rollbacker.calls, 1)
	assert.Equal(t, []string{"api", "nginx", "worker"}, f.rollbacker.calls[0].touched)
	assert.Contains(t, f.ctrl.Snapshot(), "nginx=nginx:1.25/running")
}

func TestExecute_RollbackFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.prober.failFor["worker-next"] = true
	f.rollbacker.err = errors.New("datastore did not come back")

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{})
	require.Error(t, err)

	assert.Equal(t, ops.OutcomeFailed, rec.Outcome)
	assert.True(t, util.IsKind(err, util.KindTerminal))
	assert.Equal(t, util.ExitCritical, util.ExitCode(err))
	assert.Contains(t, rec.Failed, "worker")
	assert.Len(t, f.rollbacker.calls, 1, "no nested recovery")
}

func TestExecute_AnchorFailureStopsNothing(t *testing.T) {
	f := newFixture(t)
	f.backups.createErr = util.NewOpError(util.KindResourceExhaustion, "backup.disk-check", errors.New("disk full"))

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyFullRestart), Options{})
	require.Error(t, err)

	assert.Equal(t, ops.OutcomeFailed, rec.Outcome)
	assert.True(t, util.IsKind(err, util.KindResourceExhaustion))
	assert.Empty(t, f.ctrl.Ops())
	assert.Empty(t, f.rollbacker.calls)
}

func TestExecute_AnchorSelection(t *testing.T) {
	recent := backup.Record{ID: "20261019T110000Z", Status: backup.StatusVerified}
	stale := backup.Record{ID: "20261010T110000Z", Status: backup.StatusVerified}

	tests := []struct {
		name        string
		latest      *backup.Record
		fresh       bool
		verifyErr   error
		wantCreated int
		wantAnchor  string
	}{
		{"reuses recent", &recent, false, nil, 0, recent.ID},
		{"stale creates", &stale, false, nil, 1, "20261019T120000Z"},
		{"none creates", nil, false, nil, 1, "20261019T120000Z"},
		{"--backup forces", &recent, true, nil, 1, "20261019T120000Z"},
		{"failed re-verify creates", &recent, false, backup.ErrCorrupted, 1, "20261019T120000Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.config.PreflightMaxAge = 24 * time.Hour
			f.backups.latest = tt.latest
			f.backups.verifyErr = tt.verifyErr

			rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{FreshBackup: tt.fresh})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, f.backups.created)
			assert.Equal(t, tt.wantAnchor, rec.Anchor)
		})
	}
}

func TestExecute_SkipBackupBanner(t *testing.T) {
	f := newFixture(t)
	f.backups.createErr = errors.New("must not be called")

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{SkipBackup: true})
	require.NoError(t, err)

	assert.Equal(t, ops.OutcomeSuccess, rec.Outcome)
	assert.Empty(t, rec.Anchor)
	assert.Contains(t, f.out.String(), "WARN: pre-flight backup skipped")
	require.Len(t, rec.Warnings, 1)
}

func TestExecute_SkipBackupFailureCannotRollBack(t *testing.T) {
	f := newFixture(t)
	f.prober.failFor["api-next"] = true

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{SkipBackup: true})
	require.Error(t, err)

	assert.Equal(t, ops.OutcomeFailed, rec.Outcome)
	assert.ErrorIs(t, err, ErrNoAnchor)
	assert.Empty(t, f.rollbacker.calls)
	assert.False(t, f.ctrl.HasCandidate("api"))
}

func TestExecute_FullRestartStopsDescendingThenStartsAscending(t *testing.T) {
	f := newFixture(t)
	f.config.MaxParallel = 1

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyFullRestart), Options{})
	require.NoError(t, err)
	assert.Equal(t, ops.OutcomeSuccess, rec.Outcome)

	assert.Equal(t, []string{
		"stop nginx",
		"stop api",
		"stop worker",
		"start api@api:2",
		"start worker@worker:2",
		"start nginx@nginx:1.27",
	}, f.ctrl.Ops())
	assert.Equal(t, []State{StatePending, StateStopping, StateStarting, StateProbingReadiness, StateDone}, f.path("api"))
}

func TestExecute_ForceRestartsStatefulInPlace(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{Force: true})
	require.NoError(t, err)

	assert.True(t, f.ctrl.Touched("postgres"))
	assert.Contains(t, f.ctrl.Ops(), "start postgres@postgres:16")
	assert.NotContains(t, f.ctrl.Ops(), "candidate postgres@postgres:16")
}

func TestExecute_InterruptRollsBackOnRecoveryContext(t *testing.T) {
	f := newFixture(t)
	f.prober.failFor["api-next"] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.prober.onProbe = func(inst runtime.Instance) {
		if inst.Name == "api-next" {
			cancel()
		}
	}

	rec, err := f.coordinator().Execute(ctx, topology.BuildPlan(f.topo, topology.StrategyRolling), Options{Recovery: context.Background()})
	require.Error(t, err)

	assert.Equal(t, ops.OutcomeRolledBack, rec.Outcome)
	assert.True(t, util.IsKind(err, util.KindInterrupted), "got %v", err)
	require.Len(t, f.rollbacker.calls, 1)
	assert.Less(t, f.prober.count("api-next"), 30)
	assert.False(t, f.ctrl.HasCandidate("api"))
}

func TestExecute_CancelledRecoveryIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.prober.failFor["api-next"] = true
	recovery, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := f.coordinator().Execute(context.Background(), topology.BuildPlan(f.topo, topology.StrategyRolling), Options{Recovery: recovery})
	require.Error(t, err)
	assert.Equal(t, ops.OutcomeFailed, rec.Outcome)
	assert.True(t, util.IsKind(err, util.KindTerminal))
	assert.Empty(t, f.rollbacker.calls)
}

// =============================================================================
// Verify and RollbackTo
// =============================================================================

func TestVerify(t *testing.T) {
	f := newFixture(t)
	report, err := f.coordinator().Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusOK, report.Status)

	f.report = health.NewReport([]health.Result{{Name: "disk", Status: health.StatusCritical}}, time.Now())
	_, err = f.coordinator().Verify(context.Background())
	assert.True(t, util.IsKind(err, util.KindVerification))
	assert.Empty(t, f.ctrl.Ops(), "verify never mutates")
}

func TestRollbackTo(t *testing.T) {
	f := newFixture(t)
	target := backup.Record{
		ID:       "20261018T000000Z",
		Status:   backup.StatusVerified,
		Manifest: backup.Manifest{Versions: map[string]string{"api": "api:0", "worker": "worker:0"}},
	}

	rec, err := f.coordinator().RollbackTo(context.Background(), target, []string{"api", "worker"})
	require.NoError(t, err)
	assert.Equal(t, ops.KindRollback, rec.Kind)
	assert.Equal(t, ops.OutcomeSuccess, rec.Outcome)
	assert.Contains(t, f.ctrl.Snapshot(), "api=api:0/running")

	corrupted := target
	corrupted.Status = backup.StatusCorrupted
	rec, err = f.coordinator().RollbackTo(context.Background(), corrupted, []string{"api"})
	assert.True(t, util.IsKind(err, util.KindIntegrity))
	assert.Equal(t, ops.OutcomeFailed, rec.Outcome)
	assert.Len(t, f.rollbacker.calls, 1)
}

// =============================================================================
// State machine
// =============================================================================

func TestTracker_RejectsIllegalTransitions(t *testing.T) {
	tr := newTracker([]string{"api"}, nil)
	require.NoError(t, tr.move("api", StateStartingNewInstance))
	assert.Error(t, tr.move("api", StateDone), "cannot skip readiness")
	assert.Equal(t, StateStartingNewInstance, tr.state("api"))

	require.NoError(t, tr.move("api", StateNotReady))
	require.NoError(t, tr.move("api", StateRollbackTriggered))
	assert.True(t, tr.state("api").Terminal())
	assert.Equal(t, []string{"api"}, tr.touchedServices())
}

func TestTracker_SkippedIsNotTouched(t *testing.T) {
	tr := newTracker([]string{"redis", "api"}, nil)
	require.NoError(t, tr.move("redis", StateSkipped))
	require.NoError(t, tr.move("api", StateStopping))

	got := tr.touchedServices()
	sort.Strings(got)
	assert.Equal(t, []string{"api"}, got)
	assert.Error(t, tr.move("redis", StateRollbackTriggered))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// FakeController is an in-memory Controller for tests.
//
// # Description
//
// It keeps one primary and at most one candidate per service, records every
// mutating operation in Ops ("start api@api:2", "stop api", ...) and lets
// tests inject failures per service. Exec is delegated to ExecFunc.
//
// # Example
//
//	fake := runtime.NewFakeController()
//	fake.Seed("api", "api:1", true)
//	fake.StartErr["api"] = errors.New("no space left on device")
type FakeController struct {
	mu         sync.Mutex
	primaries  map[string]*fakeInstance
	candidates map[string]*fakeInstance
	ops        []string

	// StartErr fails Start for a service.
	StartErr map[string]error

	// CandidateErr fails StartCandidate for a service.
	CandidateErr map[string]error

	// StopErr fails Stop for a service.
	StopErr map[string]error

	// ExecFunc handles Exec. Nil returns exit 0 with empty output.
	ExecFunc func(ctx context.Context, inst Instance, req ExecRequest) (ExecResult, error)

	// Prunable is returned by ListPrunable and cleared by Prune.
	Prunable []string
}

type fakeInstance struct {
	image string
	state State
	files map[string][]byte
}

// NewFakeController creates an empty FakeController.
func NewFakeController() *FakeController {
	return &FakeController{
		primaries:    map[string]*fakeInstance{},
		candidates:   map[string]*fakeInstance{},
		StartErr:     map[string]error{},
		CandidateErr: map[string]error{},
		StopErr:      map[string]error{},
	}
}

// Seed creates a primary instance without recording an operation.
func (f *FakeController) Seed(service, image string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := StateExited
	if running {
		state = StateRunning
	}
	f.primaries[service] = &fakeInstance{image: image, state: state, files: map[string][]byte{}}
}

// SetFile places a file inside the primary instance without recording an
// operation.
func (f *FakeController) SetFile(service, path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.primaries[service]
	if !ok {
		inst = &fakeInstance{state: StateMissing, files: map[string][]byte{}}
		f.primaries[service] = inst
	}
	inst.files[path] = append([]byte(nil), content...)
}

// File returns a file from the primary instance.
func (f *FakeController) File(service, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.primaries[service]
	if !ok {
		return nil, false
	}
	b, ok := inst.files[path]
	return b, ok
}

// Ops returns a copy of the operation log.
func (f *FakeController) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// ResetOps clears the operation log.
func (f *FakeController) ResetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

// Touched reports whether any mutating operation targeted service.
func (f *FakeController) Touched(service string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range f.ops {
		fields := strings.Fields(op)
		if len(fields) < 2 {
			continue
		}
		target := strings.SplitN(strings.SplitN(fields[1], "@", 2)[0], ":", 2)[0]
		if target == service {
			return true
		}
	}
	return false
}

// Snapshot returns "service=image/state" for every primary, sorted.
func (f *FakeController) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.primaries))
	for name, inst := range f.primaries {
		out = append(out, fmt.Sprintf("%s=%s/%s", name, inst.image, inst.state))
	}
	for name, inst := range f.candidates {
		out = append(out, fmt.Sprintf("%s-next=%s/%s", name, inst.image, inst.state))
	}
	sort.Strings(out)
	return out
}

func (f *FakeController) record(format string, args ...any) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

// Instance returns the primary instance.
func (f *FakeController) Instance(service string) Instance {
	return Instance{Service: service, Name: service}
}

// Status reports the primary.
func (f *FakeController) Status(ctx context.Context, service string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.primaries[service]
	if !ok || inst.state == StateMissing {
		return Status{Service: service, Instance: service, State: StateMissing}, nil
	}
	return Status{
		Service:   service,
		Instance:  service,
		State:     inst.state,
		Image:     inst.image,
		Address:   "127.0.0.1",
		StartedAt: time.Time{},
	}, nil
}

// InstanceStatus reports the candidate when inst.Candidate is set.
func (f *FakeController) InstanceStatus(ctx context.Context, inst Instance) (Status, error) {
	if !inst.Candidate {
		return f.Status(ctx, inst.Service)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cand, ok := f.candidates[inst.Service]
	if !ok {
		return Status{Service: inst.Service, Instance: inst.Name, State: StateMissing}, nil
	}
	return Status{Service: inst.Service, Instance: inst.Name, State: cand.state, Image: cand.image, Address: "127.0.0.1"}, nil
}

// Start runs the primary at spec.Image.
func (f *FakeController) Start(ctx context.Context, service string, spec InstanceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start %s@%s", service, spec.Image)
	if err := f.StartErr[service]; err != nil {
		return err
	}
	inst, ok := f.primaries[service]
	if !ok || inst.image != spec.Image {
		files := map[string][]byte{}
		if ok && inst.image == "" {
			files = inst.files
		}
		inst = &fakeInstance{image: spec.Image, files: files}
		f.primaries[service] = inst
	}
	inst.state = StateRunning
	return nil
}

// Stop stops the primary.
func (f *FakeController) Stop(ctx context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop %s", service)
	if err := f.StopErr[service]; err != nil {
		return err
	}
	if inst, ok := f.primaries[service]; ok && inst.state != StateMissing {
		inst.state = StateExited
	}
	return nil
}

// StartCandidate runs a candidate at spec.Image.
func (f *FakeController) StartCandidate(ctx context.Context, service string, spec InstanceSpec) (Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("candidate %s@%s", service, spec.Image)
	if err := f.CandidateErr[service]; err != nil {
		return Instance{}, err
	}
	f.candidates[service] = &fakeInstance{image: spec.Image, state: StateRunning, files: map[string][]byte{}}
	return Instance{Service: service, Name: service + "-next", Candidate: true}, nil
}

// Promote replaces the primary with the candidate.
func (f *FakeController) Promote(ctx context.Context, service string, spec InstanceSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("promote %s", service)
	cand, ok := f.candidates[service]
	if !ok {
		return fmt.Errorf("promote %s: %w", service, ErrNotFound)
	}
	f.primaries[service] = cand
	delete(f.candidates, service)
	return nil
}

// RemoveCandidate discards the candidate.
func (f *FakeController) RemoveCandidate(ctx context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.candidates[service]; ok {
		f.record("remove-candidate %s", service)
		delete(f.candidates, service)
	}
	return nil
}

// HasCandidate reports whether a candidate exists.
func (f *FakeController) HasCandidate(service string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.candidates[service]
	return ok
}

// Exec delegates to ExecFunc.
func (f *FakeController) Exec(ctx context.Context, inst Instance, req ExecRequest) (ExecResult, error) {
	f.mu.Lock()
	fn := f.ExecFunc
	f.mu.Unlock()
	if fn == nil {
		if req.Stdin != nil {
			_, _ = io.Copy(io.Discard, req.Stdin)
		}
		return ExecResult{}, nil
	}
	return fn(ctx, inst, req)
}

// CopyFrom reads a file from the primary.
func (f *FakeController) CopyFrom(ctx context.Context, service, path string, dst io.Writer) error {
	b, ok := f.File(service, path)
	if !ok {
		return fmt.Errorf("copy %s:%s: %w", service, path, ErrNotFound)
	}
	_, err := io.Copy(dst, bytes.NewReader(b))
	return err
}

// CopyTo writes a file into the primary.
func (f *FakeController) CopyTo(ctx context.Context, service, path string, content io.Reader, size int64) error {
	b, err := io.ReadAll(io.LimitReader(content, size))
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("copy-to %s:%s", service, path)
	inst, ok := f.primaries[service]
	if !ok {
		return fmt.Errorf("copy to %s: %w", service, ErrNotFound)
	}
	inst.files[path] = b
	return nil
}

// ListPrunable returns Prunable.
func (f *FakeController) ListPrunable(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Prunable...), nil
}

// Prune clears Prunable.
func (f *FakeController) Prune(ctx context.Context) (PruneReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("prune all")
	report := PruneReport{Removed: f.Prunable, SpaceReclaimed: uint64(len(f.Prunable)) * 1024}
	f.Prunable = nil
	return report, nil
}

var _ Controller = (*FakeController)(nil)

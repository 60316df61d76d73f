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
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when an instance does not exist.
var ErrNotFound = errors.New("instance not found")

// State is the observed lifecycle state of a service instance.
type State string

const (
	StateRunning    State = "running"
	StateExited     State = "exited"
	StateRestarting State = "restarting"
	StateMissing    State = "missing"
)

// Status describes one instance as the runtime sees it.
type Status struct {
	Service   string
	Instance  string
	State     State
	Image     string
	Address   string
	StartedAt time.Time
}

// Running reports whether the instance is up.
func (s Status) Running() bool {
	return s.State == StateRunning
}

// PortMapping publishes a container port on the host.
type PortMapping struct {
	Host      int `yaml:"host"`
	Container int `yaml:"container"`
}

// InstanceSpec is everything needed to create an instance.
type InstanceSpec struct {
	Image   string            `yaml:"image"`
	Env     map[string]string `yaml:"env"`
	Ports   []PortMapping     `yaml:"ports"`
	Volumes []string          `yaml:"volumes"`
	Network string            `yaml:"network"`
	Command []string          `yaml:"command"`
}

// WithImage returns a copy of the spec pinned to image.
func (s InstanceSpec) WithImage(image string) InstanceSpec {
	out := s
	out.Image = image
	return out
}

// Instance identifies a running or candidate container of a service.
type Instance struct {
	Service   string
	Name      string
	Candidate bool
}

// ExecRequest describes a command run inside an instance.
//
// When Stdout or Stderr is nil the stream is captured into ExecResult.
type ExecRequest struct {
	Cmd    []string
	Env    []string
	User   string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExecResult is the outcome of an exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// PruneReport summarizes a container/image prune.
type PruneReport struct {
	Removed        []string
	SpaceReclaimed uint64
}

// Controller is the capability drydock needs from a service runtime.
//
// # Description
//
// A service has at most one primary instance and, during a rolling update, one
// candidate instance. Every method is idempotent where the name suggests it:
// stopping a stopped service and removing a missing candidate succeed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; tiers drive several
// services in parallel.
type Controller interface {
	// Status reports the primary instance. A missing instance is not an error.
	Status(ctx context.Context, service string) (Status, error)

	// InstanceStatus reports a specific primary or candidate instance.
	InstanceStatus(ctx context.Context, inst Instance) (Status, error)

	// Instance returns the addressable primary instance of service.
	Instance(service string) Instance

	// Start ensures the primary instance runs spec.Image, recreating it when
	// the image differs.
	Start(ctx context.Context, service string, spec InstanceSpec) error

	// Stop stops the primary instance.
	Stop(ctx context.Context, service string) error

	// StartCandidate starts a side-by-side instance at spec.Image.
	StartCandidate(ctx context.Context, service string, spec InstanceSpec) (Instance, error)

	// Promote replaces the primary with the ready candidate.
	Promote(ctx context.Context, service string, spec InstanceSpec) error

	// RemoveCandidate discards the candidate, if any.
	RemoveCandidate(ctx context.Context, service string) error

	// Exec runs a command in an instance.
	Exec(ctx context.Context, inst Instance, req ExecRequest) (ExecResult, error)

	// CopyFrom writes the content of a single file inside the primary
	// instance to dst.
	CopyFrom(ctx context.Context, service, path string, dst io.Writer) error

	// CopyTo writes content to path inside the primary instance. The instance
	// may be stopped.
	CopyTo(ctx context.Context, service, path string, content io.Reader, size int64) error

	// ListPrunable lists stopped containers and dangling images without
	// removing anything.
	ListPrunable(ctx context.Context) ([]string, error)

	// Prune removes stopped containers and dangling images.
	Prune(ctx context.Context) (PruneReport, error)
}

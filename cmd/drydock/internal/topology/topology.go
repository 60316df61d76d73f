// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topology describes the managed system: its services, their startup
// ranks and readiness probes, and the tiered plans built from them.
//
// A rank is a strict barrier. Every service of rank N is Ready before any
// service of rank N+1 is touched, and shutdown runs the ranks in reverse.
package topology

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
)

// =============================================================================
// Probes
// =============================================================================

// ProbeKind selects how readiness is established.
type ProbeKind string

const (
	// ProbeHTTP expects a 2xx/3xx from Target. "{host}" in Target is replaced
	// by the instance address.
	ProbeHTTP ProbeKind = "http"

	// ProbeTCP expects a successful dial to Target ("{host}:port").
	ProbeTCP ProbeKind = "tcp"

	// ProbePostgres expects a successful ping of the datastore.
	ProbePostgres ProbeKind = "postgres"

	// ProbeExec expects Command to exit 0 inside the instance.
	ProbeExec ProbeKind = "exec"

	// ProbeContainer only expects the instance to be running.
	ProbeContainer ProbeKind = "container"
)

// Probe is a readiness check for one service.
type Probe struct {
	Kind    ProbeKind     `yaml:"kind" validate:"omitempty,oneof=http tcp postgres exec container"`
	Target  string        `yaml:"target"`
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// =============================================================================
// Service Descriptor
// =============================================================================

// ServiceDescriptor describes one managed service.
type ServiceDescriptor struct {
	// Name is unique within the topology.
	Name string

	// Rank orders startup. Lower ranks start first.
	Rank int

	// Tier is the display name of the rank group (datastore, application, edge).
	Tier string

	// Spec is the instance spec; Spec.Image is the target version.
	Spec runtime.InstanceSpec

	// Probe establishes readiness.
	Probe Probe

	// Stateful services hold data that a rollback must restore from backup.
	Stateful bool

	// Exclusive services cannot run two instances side by side and are
	// always restarted in place.
	Exclusive bool
}

// Image returns the target image.
func (s ServiceDescriptor) Image() string {
	return s.Spec.Image
}

// =============================================================================
// Topology
// =============================================================================

// ErrUnknownService is returned for names not in the topology.
var ErrUnknownService = errors.New("unknown service")

// Topology is an immutable, rank-ordered set of services.
type Topology struct {
	services []ServiceDescriptor
	index    map[string]int
}

// New validates services and returns a Topology sorted by rank then name.
func New(services []ServiceDescriptor) (Topology, error) {
	if len(services) == 0 {
		return Topology{}, errors.New("topology has no services")
	}
	sorted := append([]ServiceDescriptor(nil), services...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].Name < sorted[j].Name
	})

	index := make(map[string]int, len(sorted))
	for i, s := range sorted {
		if s.Name == "" {
			return Topology{}, errors.New("service with empty name")
		}
		if _, dup := index[s.Name]; dup {
			return Topology{}, fmt.Errorf("duplicate service %q", s.Name)
		}
		if s.Rank < 0 {
			return Topology{}, fmt.Errorf("service %q: negative rank", s.Name)
		}
		if s.Spec.Image == "" {
			return Topology{}, fmt.Errorf("service %q: image is required", s.Name)
		}
		if s.Probe.Kind == "" {
			sorted[i].Probe.Kind = ProbeContainer
		}
		index[s.Name] = i
	}
	return Topology{services: sorted, index: index}, nil
}

// Services returns every service in ascending rank order.
func (t Topology) Services() []ServiceDescriptor {
	return append([]ServiceDescriptor(nil), t.services...)
}

// Names returns service names in ascending rank order.
func (t Topology) Names() []string {
	out := make([]string, len(t.services))
	for i, s := range t.services {
		out[i] = s.Name
	}
	return out
}

// Get returns the descriptor for name.
func (t Topology) Get(name string) (ServiceDescriptor, error) {
	i, ok := t.index[name]
	if !ok {
		return ServiceDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return t.services[i], nil
}

// Dependents returns the services with a strictly higher rank than name.
func (t Topology) Dependents(name string) []string {
	s, err := t.Get(name)
	if err != nil {
		return nil
	}
	var out []string
	for _, other := range t.services {
		if other.Rank > s.Rank {
			out = append(out, other.Name)
		}
	}
	return out
}

// DatastoreTier returns the stateful services of the lowest rank that has
// any stateful service.
func (t Topology) DatastoreTier() []ServiceDescriptor {
	rank := -1
	var out []ServiceDescriptor
	for _, s := range t.services {
		if !s.Stateful {
			continue
		}
		if rank == -1 {
			rank = s.Rank
		}
		if s.Rank == rank {
			out = append(out, s)
		}
	}
	return out
}

// Tiers groups services by rank in ascending order.
func (t Topology) Tiers() []Tier {
	return groupTiers(t.services)
}

// Subset returns the tiers containing only the named services.
func (t Topology) Subset(names []string) []Tier {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var picked []ServiceDescriptor
	for _, s := range t.services {
		if want[s.Name] {
			picked = append(picked, s)
		}
	}
	return groupTiers(picked)
}

// =============================================================================
// Plans
// =============================================================================

// Strategy selects how a tier is rolled out.
type Strategy string

const (
	StrategyFullRestart Strategy = "full-restart"
	StrategyRolling     Strategy = "rolling"
)

// ParseStrategy accepts "full", "full-restart" and "rolling".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "full", "full-restart", "":
		return StrategyFullRestart, nil
	case "rolling":
		return StrategyRolling, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want rolling or full)", s)
	}
}

// Tier is one rank group.
type Tier struct {
	Rank     int
	Name     string
	Services []ServiceDescriptor
}

// Names returns the service names of the tier.
func (t Tier) Names() []string {
	out := make([]string, len(t.Services))
	for i, s := range t.Services {
		out[i] = s.Name
	}
	return out
}

// Plan is a single rollout: ordered tiers and a strategy.
type Plan struct {
	ID       string
	Strategy Strategy
	Tiers    []Tier
}

// BuildPlan creates a plan covering every service of t.
func BuildPlan(t Topology, strategy Strategy) Plan {
	return Plan{ID: uuid.NewString(), Strategy: strategy, Tiers: t.Tiers()}
}

// Services returns every descriptor in plan order.
func (p Plan) Services() []ServiceDescriptor {
	var out []ServiceDescriptor
	for _, tier := range p.Tiers {
		out = append(out, tier.Services...)
	}
	return out
}

func groupTiers(services []ServiceDescriptor) []Tier {
	var tiers []Tier
	for _, s := range services {
		if n := len(tiers); n > 0 && tiers[n-1].Rank == s.Rank {
			tiers[n-1].Services = append(tiers[n-1].Services, s)
			continue
		}
		name := s.Tier
		if name == "" {
			name = fmt.Sprintf("rank-%d", s.Rank)
		}
		tiers = append(tiers, Tier{Rank: s.Rank, Name: name, Services: []ServiceDescriptor{s}})
	}
	return tiers
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topology

import (
	"time"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
)

// DefaultServices returns the reference topology: PostgreSQL and Redis as the
// datastore tier, the API and background worker as the application tier, the
// frontend, and nginx at the edge.
//
// Images are placeholders; configuration normally overrides them.
func DefaultServices(network string) []ServiceDescriptor {
	return []ServiceDescriptor{
		{
			Name: "postgres", Rank: 0, Tier: "datastore", Stateful: true,
			Spec:  runtime.InstanceSpec{Image: "postgres:16-alpine", Network: network, Volumes: []string{"pgdata:/var/lib/postgresql/data"}},
			Probe: Probe{Kind: ProbePostgres, Timeout: 5 * time.Second},
		},
		{
			Name: "redis", Rank: 0, Tier: "datastore", Stateful: true,
			Spec:  runtime.InstanceSpec{Image: "redis:7-alpine", Network: network, Volumes: []string{"redisdata:/data"}},
			Probe: Probe{Kind: ProbeExec, Command: []string{"redis-cli", "ping"}, Timeout: 5 * time.Second},
		},
		{
			Name: "api", Rank: 1, Tier: "application",
			Spec:  runtime.InstanceSpec{Image: "app/api:latest", Network: network},
			Probe: Probe{Kind: ProbeHTTP, Target: "http://{host}:8000/health", Timeout: 5 * time.Second},
		},
		{
			Name: "worker", Rank: 1, Tier: "application",
			Spec:  runtime.InstanceSpec{Image: "app/worker:latest", Network: network},
			Probe: Probe{Kind: ProbeExec, Command: []string{"celery", "-A", "app.worker", "inspect", "ping"}, Timeout: 10 * time.Second},
		},
		{
			Name: "frontend", Rank: 2, Tier: "frontend",
			Spec:  runtime.InstanceSpec{Image: "app/frontend:latest", Network: network},
			Probe: Probe{Kind: ProbeHTTP, Target: "http://{host}:3000/", Timeout: 5 * time.Second},
		},
		{
			Name: "nginx", Rank: 3, Tier: "edge", Exclusive: true,
			Spec: runtime.InstanceSpec{
				Image:   "nginx:1.27-alpine",
				Network: network,
				Ports:   []runtime.PortMapping{{Host: 80, Container: 80}, {Host: 443, Container: 443}},
			},
			Probe: Probe{Kind: ProbeTCP, Target: "{host}:80", Timeout: 5 * time.Second},
		},
	}
}

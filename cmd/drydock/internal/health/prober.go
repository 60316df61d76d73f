// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/infra/runtime"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/topology"
	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// ErrNotReady is wrapped by probe failures.
var ErrNotReady = errors.New("not ready")

// Prober runs one readiness probe against one instance.
type Prober interface {
	Probe(ctx context.Context, inst runtime.Instance, probe topology.Probe) error
}

// PingFunc checks the datastore for postgres probes.
type PingFunc func(ctx context.Context) error

// DefaultProber implements every topology.ProbeKind.
type DefaultProber struct {
	ctrl   runtime.Controller
	client *http.Client
	ping   PingFunc
}

// NewDefaultProber creates a prober. ping may be nil when no service uses a
// postgres probe.
func NewDefaultProber(ctrl runtime.Controller, ping PingFunc) *DefaultProber {
	return &DefaultProber{ctrl: ctrl, client: &http.Client{}, ping: ping}
}

// Probe returns nil when the instance is ready.
//
// # Description
//
// Every probe first requires the instance to be running. "{host}" in HTTP and
// TCP targets is replaced with the instance's network address so a candidate
// can be probed beside the primary.
func (p *DefaultProber) Probe(ctx context.Context, inst runtime.Instance, probe topology.Probe) error {
	st, err := p.ctrl.InstanceStatus(ctx, inst)
	if err != nil {
		return err
	}
	if !st.Running() {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, inst.Name, st.State)
	}

	target := strings.ReplaceAll(probe.Target, "{host}", st.Address)
	switch probe.Kind {
	case topology.ProbeContainer, "":
		return nil
	case topology.ProbeHTTP:
		return getHTTP(ctx, p.client, target)
	case topology.ProbeTCP:
		return dialTCP(ctx, strings.TrimPrefix(target, "tcp://"))
	case topology.ProbePostgres:
		if p.ping == nil {
			return errors.New("postgres probe without datastore connection")
		}
		if err := p.ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		return nil
	case topology.ProbeExec:
		res, err := p.ctrl.Exec(ctx, inst, runtime.ExecRequest{Cmd: probe.Command})
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%w: %s exited %d", ErrNotReady, strings.Join(probe.Command, " "), res.ExitCode)
		}
		return nil
	default:
		return fmt.Errorf("unknown probe kind %q", probe.Kind)
	}
}

func getHTTP(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d", ErrNotReady, resp.StatusCode)
	}
	return nil
}

func dialTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return conn.Close()
}

// =============================================================================
// Readiness Gate
// =============================================================================

// DefaultGatePolicy is 30 attempts 10 seconds apart.
func DefaultGatePolicy() util.RetryPolicy {
	return util.FixedPolicy(30, 10*time.Second)
}

// Gate blocks until an instance is ready or attempts run out.
type Gate struct {
	prober Prober
	policy util.RetryPolicy
	logger *slog.Logger
}

// NewGate creates a Gate.
func NewGate(prober Prober, policy util.RetryPolicy, logger *slog.Logger) *Gate {
	return &Gate{prober: prober, policy: policy, logger: logger}
}

// WaitReady polls the probe through util.Retry. The interval separates
// attempts, so the default 30 attempts wait 29 times and nothing follows the
// final failure.
//
// # Outputs
//
//   - error: nil when ready; a KindTransient OpError wrapping
//     util.ErrRetryExhausted when attempts ran out; a KindInterrupted
//     OpError when ctx was cancelled.
func (g *Gate) WaitReady(ctx context.Context, inst runtime.Instance, probe topology.Probe) error {
	timeout := util.EnforceMinTimeout(util.EnforceDefaultTimeout(probe.Timeout, util.DefaultProbeTimeout), util.MinProbeTimeout)
	err := util.Retry(ctx, g.policy, func(ctx context.Context, attempt int) error {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := g.prober.Probe(probeCtx, inst, probe)
		if err != nil {
			g.logger.Debug("probe not ready", "instance", inst.Name, "attempt", attempt, "error", err)
		}
		return err
	})
	if err == nil {
		g.logger.Info("instance ready", "instance", inst.Name)
		return nil
	}
	op := "readiness " + inst.Name
	if ctx.Err() != nil {
		return util.NewOpError(util.KindInterrupted, op, err)
	}
	return util.NewOpError(util.KindTransient, op, err)
}

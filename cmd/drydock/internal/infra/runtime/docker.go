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
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/jinterlante1206/drydock/cmd/drydock/internal/util"
)

// Container labels. Role is not labelled: a promoted candidate is renamed in
// place and Docker cannot relabel a container, so the name is the only role
// marker.
const (
	LabelProject = "drydock.project"
	LabelService = "drydock.service"

	rolePrimary   = "primary"
	roleCandidate = "candidate"
)

// containerLabels returns the labels every drydock container carries.
func containerLabels(project, service string) map[string]string {
	return map[string]string{
		LabelProject: project,
		LabelService: service,
	}
}

// DockerConfig configures the Docker controller.
type DockerConfig struct {
	// Project prefixes container names and scopes labels.
	Project string

	// Host overrides DOCKER_HOST. Empty uses the environment.
	Host string

	// StopTimeout is the grace before SIGKILL.
	StopTimeout time.Duration
}

// Docker implements Controller against the Docker Engine API.
type Docker struct {
	cli    *client.Client
	config DockerConfig
	logger *slog.Logger
}

// NewDocker creates a Docker controller with API version negotiation.
//
// # Inputs
//
//   - config: Project name and connection settings
//   - logger: Component logger
//
// # Outputs
//
//   - *Docker: Ready controller. Call Close when done.
//   - error: Non-nil if the client could not be configured
func NewDocker(config DockerConfig, logger *slog.Logger) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if config.Host != "" {
		opts = append(opts, client.WithHost(config.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	config.StopTimeout = util.EnforceDefaultTimeout(config.StopTimeout, util.DefaultStopTimeout)
	return &Docker{cli: cli, config: config, logger: logger}, nil
}

// Close releases the client connection.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Ping verifies the daemon is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// =============================================================================
// Naming
// =============================================================================

func (d *Docker) primaryName(service string) string {
	return d.config.Project + "-" + service
}

func (d *Docker) candidateName(service string) string {
	return d.config.Project + "-" + service + "-next"
}

// Instance returns the primary instance of service.
func (d *Docker) Instance(service string) Instance {
	return Instance{Service: service, Name: d.primaryName(service)}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Status inspects the primary container.
func (d *Docker) Status(ctx context.Context, service string) (Status, error) {
	return d.inspect(ctx, service, d.primaryName(service))
}

// InstanceStatus inspects a primary or candidate container.
func (d *Docker) InstanceStatus(ctx context.Context, inst Instance) (Status, error) {
	return d.inspect(ctx, inst.Service, inst.Name)
}

func (d *Docker) inspect(ctx context.Context, service, name string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Status{Service: service, Instance: name, State: StateMissing}, nil
		}
		return Status{}, fmt.Errorf("inspect %s: %w", name, err)
	}

	st := Status{Service: service, Instance: name, State: StateExited}
	if info.Config != nil {
		st.Image = info.Config.Image
	}
	if info.State != nil {
		switch {
		case info.State.Restarting:
			st.State = StateRestarting
		case info.State.Running:
			st.State = StateRunning
		}
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			st.StartedAt = t
		}
	}
	if info.NetworkSettings != nil {
		for _, ep := range info.NetworkSettings.Networks {
			if ep != nil && ep.IPAddress != "" {
				st.Address = ep.IPAddress
				break
			}
		}
	}
	return st, nil
}

// Start ensures the primary runs spec.Image.
//
// # Description
//
// An existing container on the same image is simply started, which keeps
// files copied into it (cache snapshot replay relies on this). A container on
// another image is removed and recreated.
func (d *Docker) Start(ctx context.Context, service string, spec InstanceSpec) error {
	name := d.primaryName(service)
	st, err := d.Status(ctx, service)
	if err != nil {
		return err
	}

	if st.State != StateMissing && st.Image == spec.Image {
		if st.Running() {
			return nil
		}
		if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		return nil
	}

	if st.State != StateMissing {
		if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return d.create(ctx, service, name, rolePrimary, spec, true)
}

// Stop stops the primary container. Missing containers are ignored.
func (d *Docker) Stop(ctx context.Context, service string) error {
	name := d.primaryName(service)
	secs := int(d.config.StopTimeout.Seconds())
	err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// StartCandidate creates the "-next" container without host port bindings so
// it can run beside the primary.
func (d *Docker) StartCandidate(ctx context.Context, service string, spec InstanceSpec) (Instance, error) {
	name := d.candidateName(service)
	if err := d.RemoveCandidate(ctx, service); err != nil {
		return Instance{}, err
	}
	if err := d.create(ctx, service, name, roleCandidate, spec, false); err != nil {
		return Instance{}, err
	}
	return Instance{Service: service, Name: name, Candidate: true}, nil
}

// Promote swaps the candidate in.
//
// # Description
//
// Without published ports the candidate is renamed over the old primary, so
// the ready process keeps serving. With published ports Docker cannot add
// bindings to a running container, so the primary is recreated from spec
// (image already pulled) and the candidate is removed afterwards. That
// primary has not been probed yet; callers gate it before trusting it.
func (d *Docker) Promote(ctx context.Context, service string, spec InstanceSpec) error {
	primary := d.primaryName(service)
	candidate := d.candidateName(service)

	if err := d.cli.ContainerRemove(ctx, primary, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("drain %s: %w", primary, err)
	}

	if len(spec.Ports) == 0 {
		if err := d.cli.ContainerRename(ctx, candidate, primary); err != nil {
			return fmt.Errorf("promote %s: %w", candidate, err)
		}
		return nil
	}

	if err := d.create(ctx, service, primary, rolePrimary, spec, true); err != nil {
		return err
	}
	return d.RemoveCandidate(ctx, service)
}

// RemoveCandidate force-removes the candidate container.
func (d *Docker) RemoveCandidate(ctx context.Context, service string) error {
	name := d.candidateName(service)
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove candidate %s: %w", name, err)
	}
	return nil
}

func (d *Docker) create(ctx context.Context, service, name, role string, spec InstanceSpec, publish bool) error {
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return err
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          envSlice(spec.Env),
		Cmd:          spec.Command,
		ExposedPorts: nat.PortSet{},
		Labels:       containerLabels(d.config.Project, service),
	}
	hostConfig := &container.HostConfig{
		Binds:         spec.Volumes,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	if publish {
		hostConfig.PortBindings = nat.PortMap{}
	}
	for _, pm := range spec.Ports {
		cp := nat.Port(strconv.Itoa(pm.Container) + "/tcp")
		config.ExposedPorts[cp] = struct{}{}
		if publish && pm.Host > 0 {
			hostConfig.PortBindings[cp] = []nat.PortBinding{{HostPort: strconv.Itoa(pm.Host)}}
		}
	}

	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {Aliases: []string{service}},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	d.logger.Debug("container started", "name", name, "image", spec.Image, "role", role)
	return nil
}

func (d *Docker) ensureImage(ctx context.Context, ref string) error {
	if _, err := d.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", ref, err)
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// =============================================================================
// Exec and Copy
// =============================================================================

// Exec runs req.Cmd in inst and waits for it.
//
// # Description
//
// Stdin, when set, is streamed to the process and the write side is closed
// so the process sees EOF (psql replay reads the dump this way). Output is
// demultiplexed with stdcopy into the caller's writers or captured.
func (d *Docker) Exec(ctx context.Context, inst Instance, req ExecRequest) (ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          req.Cmd,
		Env:          req.Env,
		User:         req.User,
		AttachStdin:  req.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := d.cli.ContainerExecCreate(ctx, inst.Name, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create in %s: %w", inst.Name, err)
	}

	resp, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach in %s: %w", inst.Name, err)
	}
	defer resp.Close()

	stdinErr := make(chan error, 1)
	if req.Stdin != nil {
		go func() {
			_, err := io.Copy(resp.Conn, req.Stdin)
			if cerr := resp.CloseWrite(); err == nil {
				err = cerr
			}
			stdinErr <- err
		}()
	} else {
		stdinErr <- nil
	}

	var outBuf, errBuf bytes.Buffer
	stdout, stderr := req.Stdout, req.Stderr
	if stdout == nil {
		stdout = &outBuf
	}
	if stderr == nil {
		stderr = &errBuf
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, resp.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("exec read output in %s: %w", inst.Name, err)
	}
	if err := <-stdinErr; err != nil {
		return ExecResult{}, fmt.Errorf("exec stdin in %s: %w", inst.Name, err)
	}

	inspected, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec inspect in %s: %w", inst.Name, err)
	}
	return ExecResult{ExitCode: inspected.ExitCode, Stdout: outBuf.String(), Stderr: errBuf.String()}, nil
}

// CopyFrom extracts the single file at filePath from the primary container.
func (d *Docker) CopyFrom(ctx context.Context, service, filePath string, dst io.Writer) error {
	name := d.primaryName(service)
	rc, _, err := d.cli.CopyFromContainer(ctx, name, filePath)
	if err != nil {
		return fmt.Errorf("copy %s:%s: %w", name, filePath, err)
	}
	defer rc.Close()
	return extractSingleFile(rc, dst)
}

// CopyTo writes content to filePath inside the primary container.
func (d *Docker) CopyTo(ctx context.Context, service, filePath string, content io.Reader, size int64) error {
	name := d.primaryName(service)
	archive, err := singleFileTar(path.Base(filePath), content, size)
	if err != nil {
		return err
	}
	if err := d.cli.CopyToContainer(ctx, name, path.Dir(filePath), archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to %s:%s: %w", name, filePath, err)
	}
	return nil
}

// =============================================================================
// Prune
// =============================================================================

// ListPrunable lists exited containers and dangling images.
func (d *Docker) ListPrunable(ctx context.Context) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("status", "exited")),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var out []string
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, "container "+name)
	}

	images, err := d.cli.ImageList(ctx, image.ListOptions{Filters: filters.NewArgs(filters.Arg("dangling", "true"))})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	for _, img := range images {
		out = append(out, "image "+img.ID)
	}
	return out, nil
}

// Prune removes exited containers and dangling images.
func (d *Docker) Prune(ctx context.Context) (PruneReport, error) {
	var report PruneReport

	cr, err := d.cli.ContainersPrune(ctx, filters.NewArgs())
	if err != nil {
		return report, fmt.Errorf("prune containers: %w", err)
	}
	for _, id := range cr.ContainersDeleted {
		report.Removed = append(report.Removed, "container "+id)
	}
	report.SpaceReclaimed += cr.SpaceReclaimed

	ir, err := d.cli.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		return report, fmt.Errorf("prune images: %w", err)
	}
	for _, del := range ir.ImagesDeleted {
		if del.Deleted != "" {
			report.Removed = append(report.Removed, "image "+del.Deleted)
		}
	}
	report.SpaceReclaimed += ir.SpaceReclaimed
	return report, nil
}

// =============================================================================
// Helpers
// =============================================================================

// envSlice converts an env map to KEY=VALUE pairs in stable order.
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// singleFileTar wraps content in a one-entry tar stream, the format the
// Docker copy API expects.
func singleFileTar(name string, content io.Reader, size int64) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: size, ModTime: time.Now()}); err != nil {
		return nil, fmt.Errorf("tar header: %w", err)
	}
	if _, err := io.CopyN(tw, content, size); err != nil {
		return nil, fmt.Errorf("tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("tar close: %w", err)
	}
	return &buf, nil
}

// extractSingleFile copies the first regular file of a tar stream to dst.
func extractSingleFile(r io.Reader, dst io.Writer) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("archive contains no regular file")
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if _, err := io.Copy(dst, tr); err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		return nil
	}
}

var _ Controller = (*Docker)(nil)

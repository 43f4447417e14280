// Package docker provides the Docker Engine implementation of the sandbox
// container runtime port.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/drydock-dev/drydock/internal/drydock/runtime"
)

const (
	labelManagedBy = "drydock.managed-by"
	labelSandboxID = "drydock.sandbox-id"
	managedByValue = "drydock"

	// execPollInterval is how often a running exec session is re-inspected
	// while waiting for it to finish.
	execPollInterval = 100 * time.Millisecond
)

// Adapter implements runtime.Runtime using the Docker Engine API.
//
// It owns a container-ref cache keyed by sandbox ID so that repeated
// sandbox-to-container resolution does not hit the daemon; entries are
// added on Create (and List) and invalidated deterministically on Remove.
type Adapter struct {
	client  *dockerclient.Client
	network string
	refs    *refCache
}

// New creates a new Docker runtime adapter.
// Uses the DOCKER_HOST env var or the default socket path.
func New() (*Adapter, error) {
	return NewWithNetwork(runtime.DefaultNetwork)
}

// NewWithNetwork creates an adapter using a specific Docker network name.
func NewWithNetwork(networkName string) (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli, network: networkName, refs: newRefCache()}, nil
}

// EnsureNetwork creates the drydock Docker network if it doesn't exist.
func (a *Adapter) EnsureNetwork(ctx context.Context) error {
	nets, err := a.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", a.network)),
	})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == a.network {
			return nil // already exists
		}
	}
	_, err = a.client.NetworkCreate(ctx, a.network, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{labelManagedBy: managedByValue},
	})
	if err != nil {
		return fmt.Errorf("create network %q: %w", a.network, err)
	}
	return nil
}

// Create provisions a sandbox container without starting it.
func (a *Adapter) Create(ctx context.Context, spec runtime.ContainerSpec) (runtime.ContainerRef, error) {
	if spec.Image == "" {
		return runtime.ContainerRef{}, fmt.Errorf("spec.Image is required")
	}
	if spec.SandboxID == "" {
		return runtime.ContainerRef{}, fmt.Errorf("spec.SandboxID is required")
	}

	containerName := runtime.ContainerNameFor(spec.SandboxID)

	workdir := spec.Workdir
	if workdir == "" {
		workdir = runtime.DefaultWorkdir
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		WorkingDir: workdir,
		Env:        buildEnv(spec),
		Labels:     buildLabels(spec),
	}

	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		Resources:     buildResources(spec),
	}

	networkCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			a.network: {},
		},
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, containerName)
	if err != nil {
		return runtime.ContainerRef{}, fmt.Errorf("create container: %w", err)
	}

	ref := runtime.ContainerRef{ID: resp.ID, Name: containerName}
	a.refs.put(spec.SandboxID, ref)
	return ref, nil
}

// Start starts a created or stopped container.
func (a *Adapter) Start(ctx context.Context, containerID string) error {
	if err := a.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

// Stop gracefully stops the container. A nil timeout uses the daemon default.
func (a *Adapter) Stop(ctx context.Context, containerID string, timeoutSeconds *int) error {
	if err := a.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: timeoutSeconds}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

// Restart stops and starts the container.
func (a *Adapter) Restart(ctx context.Context, containerID string, timeoutSeconds *int) error {
	if err := a.client.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: timeoutSeconds}); err != nil {
		return fmt.Errorf("restart container %s: %w", containerID, err)
	}
	return nil
}

// Pause suspends the container's processes.
func (a *Adapter) Pause(ctx context.Context, containerID string) error {
	if err := a.client.ContainerPause(ctx, containerID); err != nil {
		return fmt.Errorf("pause container %s: %w", containerID, err)
	}
	return nil
}

// Unpause resumes a paused container.
func (a *Adapter) Unpause(ctx context.Context, containerID string) error {
	if err := a.client.ContainerUnpause(ctx, containerID); err != nil {
		return fmt.Errorf("unpause container %s: %w", containerID, err)
	}
	return nil
}

// Remove force-removes the container. Already-gone containers are tolerated
// so that delete stays retry-safe. The ref cache entry is invalidated here.
func (a *Adapter) Remove(ctx context.Context, containerID string, removeVolumes bool) error {
	timeout := 10
	_ = a.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}) // best-effort graceful stop first
	err := a.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: removeVolumes,
	})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	a.refs.invalidateContainer(containerID)
	return nil
}

// Exec runs a command inside the container and collects its output.
func (a *Adapter) Exec(ctx context.Context, containerID string, cmd []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
	execResp, err := a.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   opts.WorkingDir,
		User:         opts.User,
		Env:          envSlice(opts.Env),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := a.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}

	// Force-close the hijacked connection when the context ends so StdCopy
	// cannot block forever on a hung container.
	go func() {
		<-ctx.Done()
		attach.Close()
	}()
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		if ctx.Err() != nil {
			return runtime.ExecResult{}, ctx.Err()
		}
		return runtime.ExecResult{}, fmt.Errorf("exec read output: %w", err)
	}

	exitCode, err := a.waitExecDone(ctx, execResp.ID)
	if err != nil {
		return runtime.ExecResult{}, err
	}

	return runtime.ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Logs returns the container's recent log lines.
func (a *Adapter) Logs(ctx context.Context, containerID string, opts runtime.LogOptions) ([]string, error) {
	tail := "all"
	if opts.Tail > 0 {
		tail = strconv.Itoa(opts.Tail)
	}

	reader, err := a.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs %s: %w", containerID, err)
	}
	defer reader.Close()

	// Docker multiplexes stdout/stderr on the same stream; demux both into
	// one buffer since callers want interleaved lines.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return nil, fmt.Errorf("read container logs: %w", err)
	}

	return splitLogLines(buf.String()), nil
}

// Stats returns a one-shot resource usage snapshot.
func (a *Adapter) Stats(ctx context.Context, containerID string) (runtime.ContainerStats, error) {
	resp, err := a.client.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return runtime.ContainerStats{}, fmt.Errorf("container stats %s: %w", containerID, err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return runtime.ContainerStats{}, fmt.Errorf("decode container stats: %w", err)
	}

	stats := runtime.ContainerStats{
		CPUPercent:  calculateCPUPercent(&raw),
		MemoryUsage: raw.MemoryStats.Usage,
		MemoryLimit: raw.MemoryStats.Limit,
	}
	for _, net := range raw.Networks {
		stats.NetworkRx += net.RxBytes
		stats.NetworkTx += net.TxBytes
	}
	return stats, nil
}

// HealthCheck pings the Docker daemon.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// Info returns daemon version information.
func (a *Adapter) Info(ctx context.Context) (runtime.DaemonInfo, error) {
	version, err := a.client.ServerVersion(ctx)
	if err != nil {
		return runtime.DaemonInfo{}, fmt.Errorf("docker version: %w", err)
	}
	info, err := a.client.Info(ctx)
	if err != nil {
		return runtime.DaemonInfo{}, fmt.Errorf("docker info: %w", err)
	}

	return runtime.DaemonInfo{
		Version:       version.Version,
		APIVersion:    version.APIVersion,
		OS:            version.Os,
		Architecture:  version.Arch,
		Containers:    info.Containers,
		ContainersRun: info.ContainersRunning,
	}, nil
}

// List returns refs for all drydock-managed containers and primes the ref
// cache with them. Used at startup to report what survived a restart.
func (a *Adapter) List(ctx context.Context) ([]runtime.ContainerRef, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	refs := make([]runtime.ContainerRef, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		ref := runtime.ContainerRef{ID: c.ID, Name: name}
		if sandboxID := c.Labels[labelSandboxID]; sandboxID != "" {
			a.refs.put(sandboxID, ref)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Lookup returns the cached container ref for a sandbox ID, if present.
func (a *Adapter) Lookup(sandboxID string) (runtime.ContainerRef, bool) {
	return a.refs.get(sandboxID)
}

// waitExecDone polls the exec session until it finishes and returns its exit code.
func (a *Adapter) waitExecDone(ctx context.Context, execID string) (int, error) {
	ticker := time.NewTicker(execPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 1, ctx.Err()
		case <-ticker.C:
			ins, err := a.client.ContainerExecInspect(ctx, execID)
			if err != nil {
				return 1, fmt.Errorf("exec inspect: %w", err)
			}
			if !ins.Running {
				return ins.ExitCode, nil
			}
		}
	}
}

// --- helpers ---

func buildEnv(spec runtime.ContainerSpec) []string {
	env := []string{
		fmt.Sprintf("SANDBOX_ID=%s", spec.SandboxID),
	}
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func buildLabels(spec runtime.ContainerSpec) map[string]string {
	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelSandboxID: spec.SandboxID,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	return labels
}

func buildResources(spec runtime.ContainerSpec) container.Resources {
	var res container.Resources
	if spec.CPUCores > 0 {
		res.NanoCPUs = int64(spec.CPUCores * 1e9)
	}
	if spec.MemoryGB > 0 {
		res.Memory = int64(spec.MemoryGB * 1024 * 1024 * 1024)
	}
	return res
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// calculateCPUPercent derives a CPU percentage from a stats snapshot using
// the delta between the current and previous daemon readings.
func calculateCPUPercent(raw *container.StatsResponse) float64 {
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	onlineCPUs := float64(raw.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return cpuDelta / systemDelta * onlineCPUs * 100.0
}

func splitLogLines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

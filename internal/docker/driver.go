package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/shopkite/platform/provisioner/internal/models"
)

// Driver wraps the Docker SDK behind the runtime operations the instance
// service needs. "Container not found" is a routine outcome here, surfaced
// as a found=false result rather than an error.
type Driver struct {
	cli     *client.Client
	network string
}

// NewDriver connects to the Docker daemon from the environment.
func NewDriver(network string) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Driver{cli: cli, network: network}, nil
}

// EnsureNetwork creates the shared bridge network if it does not exist.
func (d *Driver) EnsureNetwork(ctx context.Context) error {
	_, err := d.cli.NetworkInspect(ctx, d.network, types.NetworkInspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect network: %w", err)
	}

	_, err = d.cli.NetworkCreate(ctx, d.network, types.NetworkCreate{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("create network: %w", err)
	}
	return nil
}

// CreateAndStart creates and starts a container per spec and returns its id.
func (d *Driver) CreateAndStart(ctx context.Context, spec models.ContainerSpec) (string, error) {
	appPort := nat.Port(fmt.Sprintf("%d/tcp", spec.AppPort))

	config := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: nat.PortSet{appPort: struct{}{}},
		Healthcheck: &container.HealthConfig{
			Test:     []string{"CMD", "curl", "-f", fmt.Sprintf("http://localhost:%d%s", spec.AppPort, spec.HealthPath)},
			Interval: spec.HealthInterval,
			Timeout:  spec.HealthTimeout,
			Retries:  spec.HealthRetries,
		},
	}

	hostConfig := &container.HostConfig{
		Binds: spec.Binds,
		PortBindings: nat.PortMap{
			appPort: []nat.PortBinding{{
				HostIP:   "127.0.0.1",
				HostPort: strconv.Itoa(spec.HostPort),
			}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		NetworkMode:   container.NetworkMode(d.network),
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	return resp.ID, nil
}

// Start starts an existing container by id.
func (d *Driver) Start(ctx context.Context, id string) (bool, error) {
	err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return true, fmt.Errorf("start container: %w", err)
	}
	return true, nil
}

// Stop stops a container, waiting up to grace before the daemon kills it.
func (d *Driver) Stop(ctx context.Context, id string, grace time.Duration) (bool, error) {
	secs := int(grace.Seconds())
	err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return true, fmt.Errorf("stop container: %w", err)
	}
	return true, nil
}

// Restart restarts a container with the given stop grace period.
func (d *Driver) Restart(ctx context.Context, id string, grace time.Duration) (bool, error) {
	secs := int(grace.Seconds())
	err := d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &secs})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return true, fmt.Errorf("restart container: %w", err)
	}
	return true, nil
}

// Remove stops (best effort) and removes a container.
func (d *Driver) Remove(ctx context.Context, id string, grace time.Duration) (bool, error) {
	secs := int(grace.Seconds())
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return true, fmt.Errorf("stop container: %w", err)
	}

	if err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return true, fmt.Errorf("remove container: %w", err)
	}
	return true, nil
}

// State reports the runtime state of a container (running, exited, ...).
func (d *Driver) State(ctx context.Context, id string) (string, bool, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("inspect container: %w", err)
	}
	if info.State == nil {
		return "", true, fmt.Errorf("inspect container: no state")
	}
	return info.State.Status, true, nil
}

// Stats returns a one-shot CPU/memory snapshot for a container.
func (d *Driver) Stats(ctx context.Context, id string) (*models.ContainerStats, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}

	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage - raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage - raw.PreCPUStats.SystemUsage)

	stats := &models.ContainerStats{}
	if systemDelta > 0 {
		stats.CPUPercent = cpuDelta / systemDelta * 100
	}

	memUsage := float64(raw.MemoryStats.Usage)
	memLimit := float64(raw.MemoryStats.Limit)
	stats.MemoryUsageMB = memUsage / 1024 / 1024
	if memLimit > 0 {
		stats.MemoryPercent = memUsage / memLimit * 100
	}

	return stats, nil
}

// PullImage pulls the given image, discarding progress output.
func (d *Driver) PullImage(ctx context.Context, image string) error {
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("read pull progress: %w", err)
	}
	return nil
}

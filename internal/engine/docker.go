package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

const (
	defaultEngineImage     = "tryon-engine:latest"
	defaultEngineContainer = "tryon-engine"
	defaultEngineNetwork   = "tryon-engine-net"
	stopTimeoutSecs        = 10

	memoryLimitBytes = 2 * 1024 * 1024 * 1024 // 2GB
	cpuQuota         = 200000                 // 2 CPUs

	createRetryAttempts = 10
	createRetryDelay    = 250 * time.Millisecond
)

// DockerConfig configures a DockerRemote.
type DockerConfig struct {
	Image     string
	Container string
	Network   string
	StreamURL string
	// Env is passed to the engine container as KEY=VALUE pairs.
	Env map[string]string
}

// DockerRemote runs the engine as a local container. Start ensures the
// container exists and is running; Stop removes it.
type DockerRemote struct {
	cli *client.Client
	cfg DockerConfig
}

var _ Remote = (*DockerRemote)(nil)

// NewDockerRemote creates a Docker-backed engine remote using the
// environment's Docker settings.
func NewDockerRemote(cfg DockerConfig) (*DockerRemote, error) {
	if cfg.Image == "" {
		cfg.Image = defaultEngineImage
	}
	if cfg.Container == "" {
		cfg.Container = defaultEngineContainer
	}
	if cfg.Network == "" {
		cfg.Network = defaultEngineNetwork
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = fmt.Sprintf("http://%s:5000/engine/video_feed", cfg.Container)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker engine remote initialized", "image", cfg.Image, "container", cfg.Container)
	return &DockerRemote{cli: cli, cfg: cfg}, nil
}

// Start ensures the engine container is running.
func (d *DockerRemote) Start(ctx context.Context) error {
	inspect, err := d.cli.ContainerInspect(ctx, d.cfg.Container)
	if err == nil {
		if inspect.State.Running {
			slog.Info("Engine container already running", "container_id", inspect.ID)
			return nil
		}
		slog.Info("Restarting stopped engine container", "container_id", inspect.ID)
		if err := d.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
			return d.classify(opStart, fmt.Errorf("restart container %s: %w", inspect.ID, err))
		}
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return d.classify(opStart, fmt.Errorf("inspect container %s: %w", d.cfg.Container, err))
	}

	if err := d.ensureNetwork(ctx); err != nil {
		return d.classify(opStart, err)
	}

	envVars := make([]string, 0, len(d.cfg.Env))
	for k, v := range d.cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	config := &container.Config{
		Image: d.cfg.Image,
		Env:   envVars,
	}
	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(d.cfg.Network),
		Resources: container.Resources{
			Memory:   memoryLimitBytes,
			CPUQuota: cpuQuota,
		},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, d.cfg.Container)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return d.classify(opStart, fmt.Errorf("create container: %w", createErr))
		}

		// A stop racing this start can leave the old named container briefly.
		slog.Warn("Engine container name conflict during create, retrying",
			"container_name", d.cfg.Container,
			"attempt", i+1,
			"error", createErr,
		)
		if err := d.remove(ctx, d.cfg.Container); err != nil {
			slog.Warn("Failed to remove conflicting engine container", "error", err)
		}

		select {
		case <-ctx.Done():
			return &UnreachableError{Op: opStart, Err: ctx.Err()}
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return d.classify(opStart, fmt.Errorf("create container after retries: %w", createErr))
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove engine container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return d.classify(opStart, fmt.Errorf("start container %s: %w", resp.ID, err))
	}

	slog.Info("Engine container created and started", "container_id", resp.ID)
	return nil
}

// Stop stops and removes the engine container. A missing container is not
// an error.
func (d *DockerRemote) Stop(ctx context.Context) error {
	if err := d.remove(ctx, d.cfg.Container); err != nil {
		return d.classify(opStop, err)
	}
	return nil
}

// Running reports whether the engine container is running.
func (d *DockerRemote) Running(ctx context.Context) (bool, error) {
	inspect, err := d.cli.ContainerInspect(ctx, d.cfg.Container)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, d.classify(opStatus, fmt.Errorf("inspect container %s: %w", d.cfg.Container, err))
	}
	return inspect.State.Running, nil
}

// StreamURL returns the engine's video feed inside the engine network.
func (d *DockerRemote) StreamURL() string {
	return d.cfg.StreamURL
}

// Close releases the Docker client.
func (d *DockerRemote) Close() error {
	return d.cli.Close()
}

func (d *DockerRemote) remove(ctx context.Context, name string) error {
	slog.Info("Stopping engine container", "container", name)

	if _, err := d.cli.ContainerInspect(ctx, name); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Engine container already removed", "container", name)
			return nil
		}
		return fmt.Errorf("inspect container %s: %w", name, err)
	}

	timeout := stopTimeoutSecs
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Engine container already stopped/removed", "container", name)
		} else {
			slog.Debug("Engine container stop returned error, continuing to remove", "container", name, "error", err)
		}
	}

	if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", name, err)
	}

	slog.Info("Engine container stopped and removed", "container", name)
	return nil
}

func (d *DockerRemote) ensureNetwork(ctx context.Context) error {
	networks, err := d.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == d.cfg.Network {
			return nil
		}
	}

	createResp, err := d.cli.NetworkCreate(ctx, d.cfg.Network, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		if errdefs.IsConflict(err) {
			return nil
		}
		return fmt.Errorf("create network %s: %w", d.cfg.Network, err)
	}
	slog.Info("Engine network created", "network_id", createResp.ID)
	return nil
}

// classify maps Docker failures onto the engine error taxonomy: a daemon
// that cannot be reached or a call that timed out is unreachable, anything
// the daemon answered is a rejection.
func (d *DockerRemote) classify(op string, err error) error {
	if client.IsErrConnectionFailed(err) || errors.Is(err, context.DeadlineExceeded) || errdefs.IsUnavailable(err) {
		return &UnreachableError{Op: op, Err: err}
	}
	return &RejectedError{Op: op, Reason: err.Error()}
}

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
	enginePort      = 50051
	stopTimeoutSecs = 10

	memoryLimitBytes = 1024 * 1024 * 1024 // 1GB
	cpuQuota         = 100000             // 1 CPU

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
)

// DockerConfig configures engine containers.
type DockerConfig struct {
	// Images maps backend id to the engine image for it.
	Images  map[string]string
	Network string
	// Env is passed to every engine container, e.g. catalog DSNs.
	Env  map[string]string
	Grpc func(addr string) GrpcConfig
}

// DockerLauncher runs one engine container per backend and dials it over
// the shared bridge network.
type DockerLauncher struct {
	cli    *client.Client
	cfg    DockerConfig
	logger *slog.Logger
}

// NewDockerLauncher creates a Docker-backed engine loader.
func NewDockerLauncher(cfg DockerConfig, logger *slog.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Docker client initialized", "network", cfg.Network)
	return &DockerLauncher{cli: cli, cfg: cfg, logger: logger}, nil
}

func containerName(backend string) string {
	return "docgen-" + backend
}

// Load ensures the backend's engine container is running and connects to it.
func (d *DockerLauncher) Load(ctx context.Context, backend string) (Engine, error) {
	image, ok := d.cfg.Images[backend]
	if !ok || image == "" {
		return nil, fmt.Errorf("%w: no image configured for backend %q", ErrEngineUnavailable, backend)
	}
	if _, err := d.EnsureNetwork(ctx); err != nil {
		return nil, err
	}
	id, err := d.ensureContainer(ctx, backend, image)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", containerName(backend), enginePort)
	cfg := DefaultGrpcConfig(addr)
	if d.cfg.Grpc != nil {
		cfg = d.cfg.Grpc(addr)
	}
	eng, err := NewGrpcEngine(ctx, cfg, d.logger.With("backend", backend))
	if err != nil {
		if stopErr := d.StopContainer(context.WithoutCancel(ctx), id); stopErr != nil {
			d.logger.Warn("Failed to stop engine container after dial failure", "container_id", id, "error", stopErr)
		}
		return nil, err
	}
	return &containerEngine{GrpcEngine: eng, launcher: d, containerID: id}, nil
}

func (d *DockerLauncher) ensureContainer(ctx context.Context, backend, image string) (string, error) {
	name := containerName(backend)

	inspect, err := d.cli.ContainerInspect(ctx, name)
	if err == nil {
		if inspect.State.Running && inspect.Config != nil && inspect.Config.Image == image {
			d.logger.Info("Engine container already running", "container_id", inspect.ID, "backend", backend)
			return inspect.ID, nil
		}
		// Stale or built from a previous image: recreate.
		d.logger.Info("Recreating engine container", "container_id", inspect.ID, "backend", backend)
		if err := d.StopContainer(ctx, inspect.ID); err != nil {
			d.logger.Warn("Failed to stop engine container before recreation", "error", err, "container_id", inspect.ID)
		}
	} else if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect container %s: %w", name, err)
	}

	envVars := make([]string, 0, len(d.cfg.Env)+1)
	for k, v := range d.cfg.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}
	envVars = append(envVars, "DOCGEN_BACKEND="+backend)

	config := &container.Config{
		Image:  image,
		Env:    envVars,
		Labels: map[string]string{"docgen.backend": backend},
	}
	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(d.cfg.Network),
		Resources: container.Resources{
			Memory:   memoryLimitBytes,
			CPUQuota: cpuQuota,
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create container: %w", createErr)
		}

		d.logger.Warn("Container name conflict during create, retrying",
			"backend", backend,
			"container_name", name,
			"attempt", i+1,
			"error", createErr,
		)
		if inspect, inspectErr := d.cli.ContainerInspect(ctx, name); inspectErr == nil {
			if stopErr := d.StopContainer(ctx, inspect.ID); stopErr != nil {
				d.logger.Warn("Failed to stop conflicting container before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create container after retries: %w", createErr)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := d.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			d.logger.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	d.logger.Info("Engine container started", "container_id", resp.ID, "backend", backend, "image", image)
	return resp.ID, nil
}

// StopContainer stops and removes a container. Missing containers are not an error.
func (d *DockerLauncher) StopContainer(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSecs
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		d.logger.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	d.logger.Info("Engine container removed", "container_id", containerID)
	return nil
}

// EnsureNetwork creates the engine bridge network if it doesn't exist.
func (d *DockerLauncher) EnsureNetwork(ctx context.Context) (string, error) {
	networks, err := d.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == d.cfg.Network {
			return nw.ID, nil
		}
	}

	createResp, err := d.cli.NetworkCreate(ctx, d.cfg.Network, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", d.cfg.Network, err)
	}
	d.logger.Info("Engine network created", "network_id", createResp.ID)
	return createResp.ID, nil
}

// Close releases the Docker client.
func (d *DockerLauncher) Close() error {
	return d.cli.Close()
}

// containerEngine removes its container when the engine is released.
type containerEngine struct {
	*GrpcEngine
	launcher    *DockerLauncher
	containerID string
}

func (c *containerEngine) Close() error {
	connErr := c.GrpcEngine.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.launcher.StopContainer(ctx, c.containerID); err != nil {
		return err
	}
	return connErr
}

var _ Loader = (*DockerLauncher)(nil)

package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	containerWorkspace = "/workspace"
	containerNameBase  = "stagehand-job"
	startDeadline      = 30 * time.Second
)

// Docker executes job scripts inside a container built from the job's image.
// Each Run creates a fresh container, execs the script, and removes the
// container afterwards.
type Docker struct {
	client *client.Client
	logger *slog.Logger
}

// NewDocker connects to the local Docker daemon using the standard
// environment configuration.
func NewDocker(logger *slog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Docker{client: cli, logger: logger}, nil
}

// Ping reports whether the daemon is reachable.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Close releases the underlying client connection.
func (d *Docker) Close() error {
	return d.client.Close()
}

// Run pulls the image if needed, starts a container with the working
// directory mounted at /workspace, and execs the job script in it.
func (d *Docker) Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Image == "" {
		return Result{}, fmt.Errorf("job %q has no image for docker execution", spec.Name)
	}

	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return Result{}, err
	}

	id, err := d.createContainer(ctx, spec)
	if err != nil {
		return Result{}, err
	}
	defer d.removeContainer(id)

	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("start container for job %q: %w", spec.Name, err)
	}
	if err := d.waitForRunning(ctx, id); err != nil {
		return Result{}, err
	}

	return d.execScript(ctx, id, spec)
}

func (d *Docker) ensureImage(ctx context.Context, ref string) error {
	args := filters.NewArgs()
	args.Add("reference", ref)
	images, err := d.client.ImageList(ctx, image.ListOptions{Filters: args})
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	d.logger.Info("pulling image", "image", ref)
	out, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", ref, err)
	}
	defer out.Close()
	// Pull progress must be drained for the pull to complete.
	if _, err := io.Copy(io.Discard, out); err != nil {
		return fmt.Errorf("read pull progress for %q: %w", ref, err)
	}
	return nil
}

func (d *Docker) createContainer(ctx context.Context, spec Spec) (string, error) {
	name := fmt.Sprintf("%s-%d", containerNameBase, rand.Intn(90000)+10000)
	cfg := &container.Config{
		Image: spec.Image,
		// Keep the container alive so the script can exec into it.
		OpenStdin:  true,
		Cmd:        []string{"tail", "-f", "/dev/null"},
		WorkingDir: containerWorkspace,
		Env:        spec.Env,
	}
	var host *container.HostConfig
	if spec.WorkingDir != "" {
		host = &container.HostConfig{
			Binds: []string{fmt.Sprintf("%s:%s", spec.WorkingDir, containerWorkspace)},
		}
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container for job %q: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (d *Docker) waitForRunning(ctx context.Context, id string) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, startDeadline)
	defer cancel()

	for {
		resp, err := d.client.ContainerInspect(deadlineCtx, id)
		if err != nil {
			return fmt.Errorf("inspect container: %w", err)
		}
		if resp.State.Running {
			return nil
		}
		select {
		case <-time.After(time.Second):
		case <-deadlineCtx.Done():
			return fmt.Errorf("container did not become ready: %w", deadlineCtx.Err())
		}
	}
}

func (d *Docker) execScript(ctx context.Context, id string, spec Spec) (Result, error) {
	script := joinScript(spec.Script)
	execOpts := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Env:          spec.Env,
		Cmd:          []string{"sh", "-c", script},
	}

	created, err := d.client.ContainerExecCreate(ctx, id, execOpts)
	if err != nil {
		return Result{}, fmt.Errorf("exec create for job %q: %w", spec.Name, err)
	}

	attached, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("exec attach for job %q: %w", spec.Name, err)
	}
	defer attached.Close()

	stdout := spec.Stdout
	stderr := spec.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, attached.Reader); err != nil {
		return Result{}, fmt.Errorf("read exec output for job %q: %w", spec.Name, err)
	}

	inspect, err := d.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return Result{}, fmt.Errorf("exec inspect for job %q: %w", spec.Name, err)
	}
	if inspect.ExitCode != 0 {
		return Result{ExitCode: inspect.ExitCode}, fmt.Errorf("job %q exited with status %d", spec.Name, inspect.ExitCode)
	}
	return Result{ExitCode: 0}, nil
}

func (d *Docker) removeContainer(id string) {
	// Cleanup runs after the job's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.client.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		d.logger.Warn("stop container", "container", id, "error", err)
	}
	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		d.logger.Warn("remove container", "container", id, "error", err)
	}
}

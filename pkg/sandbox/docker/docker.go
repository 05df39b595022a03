package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/nstogner/forge/pkg/sandbox"
)

const (
	// LabelManager identifies containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "forge"

	// AppPort is the port the template's dev server listens on.
	AppPort = "3000"
	// WorkDir is the working directory inside the template image where
	// generated files land and commands run.
	WorkDir = "/home/user"
)

// Client implements sandbox.Client using Docker containers. Each sandbox is
// one container created from a template image, with the app port published
// to an ephemeral host port so the preview URL is reachable from outside.
type Client struct {
	cli *client.Client
}

// Verify interface compliance.
var _ sandbox.Client = (*Client)(nil)

// New creates a Docker-backed sandbox client.
func New() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Close releases the Docker client resources.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Create provisions a new sandbox container from the template image. The
// image's default command is expected to start the dev server on AppPort.
func (c *Client) Create(ctx context.Context, template string) (sandbox.Sandbox, error) {
	if _, _, err := c.cli.ImageInspectWithRaw(ctx, template); err != nil {
		return nil, fmt.Errorf("template image %q not found: %w", template, err)
	}

	cfg := &container.Config{
		Image:      template,
		WorkingDir: WorkDir,
		Labels: map[string]string{
			LabelManager: LabelManagerValue,
		},
		ExposedPorts: nat.PortSet{
			nat.Port(AppPort + "/tcp"): {},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(AppPort + "/tcp"): []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: "0"},
			},
		},
	}

	name := "forge-sandbox-" + uuid.New().String()
	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		c.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("starting container: %w", err)
	}

	slog.Info("Sandbox created", "id", resp.ID, "template", template)
	return &dockerSandbox{cli: c.cli, id: resp.ID}, nil
}

// Connect returns a handle to an existing sandbox container.
func (c *Client) Connect(ctx context.Context, id string) (sandbox.Sandbox, error) {
	inspect, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspecting sandbox %s: %w", id, err)
	}
	if !inspect.State.Running {
		return nil, fmt.Errorf("sandbox %s not running (state: %s)", id, inspect.State.Status)
	}
	return &dockerSandbox{cli: c.cli, id: id}, nil
}

type dockerSandbox struct {
	cli *client.Client
	id  string
}

var _ sandbox.Sandbox = (*dockerSandbox)(nil)

func (s *dockerSandbox) ID() string { return s.id }

// callbackWriter buffers output and forwards each chunk to a callback.
type callbackWriter struct {
	buf bytes.Buffer
	fn  sandbox.OutputFunc
}

func (w *callbackWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.fn != nil {
		w.fn(string(p))
	}
	return len(p), nil
}

func (s *dockerSandbox) RunCommand(ctx context.Context, command string, onStdout, onStderr sandbox.OutputFunc) (*sandbox.CommandResult, error) {
	execResp, err := s.cli.ContainerExecCreate(ctx, s.id, types.ExecConfig{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating exec: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("attaching exec: %w", err)
	}
	defer attach.Close()

	stdout := &callbackWriter{fn: onStdout}
	stderr := &callbackWriter{fn: onStderr}
	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}

	return &sandbox.CommandResult{
		Stdout:   stdout.buf.String(),
		Stderr:   stderr.buf.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// WriteFile copies a single file into the container as a tar archive with
// directory headers for each missing ancestor, so nested paths extract
// cleanly without a prior mkdir exec round-trip.
func (s *dockerSandbox) WriteFile(ctx context.Context, filePath, content string) error {
	abs := s.resolve(filePath)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	rel := strings.TrimPrefix(abs, "/")
	parts := strings.Split(path.Dir(rel), "/")
	for i := range parts {
		dir := strings.Join(parts[:i+1], "/")
		if dir == "." || dir == "" {
			continue
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:     dir + "/",
			Typeflag: tar.TypeDir,
			Mode:     0o755,
		}); err != nil {
			return fmt.Errorf("writing tar dir header: %w", err)
		}
	}

	if err := tw.WriteHeader(&tar.Header{
		Name: rel,
		Mode: 0o644,
		Size: int64(len(content)),
	}); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return fmt.Errorf("writing tar content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}

	if err := s.cli.CopyToContainer(ctx, s.id, "/", &buf, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying %s to sandbox: %w", filePath, err)
	}
	return nil
}

func (s *dockerSandbox) ReadFile(ctx context.Context, filePath string) (string, error) {
	rc, _, err := s.cli.CopyFromContainer(ctx, s.id, s.resolve(filePath))
	if err != nil {
		return "", fmt.Errorf("copying %s from sandbox: %w", filePath, err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("file %s not found in archive", filePath)
		}
		if err != nil {
			return "", fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", filePath, err)
			}
			return string(content), nil
		}
	}
}

func (s *dockerSandbox) HostURL(ctx context.Context, port int) (string, error) {
	inspect, err := s.cli.ContainerInspect(ctx, s.id)
	if err != nil {
		return "", fmt.Errorf("inspecting sandbox: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", port))]
	if len(bindings) == 0 {
		return "", fmt.Errorf("port %d not published", port)
	}
	return fmt.Sprintf("http://127.0.0.1:%s", bindings[0].HostPort), nil
}

func (s *dockerSandbox) Remove(ctx context.Context) error {
	timeout := 10
	if err := s.cli.ContainerStop(ctx, s.id, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("Failed to stop sandbox, removing anyway", "id", s.id, "error", err)
	}
	if err := s.cli.ContainerRemove(ctx, s.id, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing sandbox %s: %w", s.id, err)
	}
	return nil
}

// resolve makes relative paths absolute under the sandbox working directory.
func (s *dockerSandbox) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(WorkDir, p)
}

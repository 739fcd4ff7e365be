// Package docker implements sandbox.Executor on top of a local Docker engine.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/vincentmin/table-agent/pkg/sandbox"
	"github.com/vincentmin/table-agent/pkg/tokens"
)

// DefaultDockerfile defines the environment scripts run in when none is configured.
const DefaultDockerfile = `FROM python:3.12-slim
RUN pip install --no-cache-dir pandas pyarrow
WORKDIR /workspace
`

const (
	DefaultTimeout  = 2 * time.Minute
	DefaultMemoryMB = 1024
)

// engine is the subset of the Docker API the manager uses.
type engine interface {
	imageEngine
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	Close() error
}

// Options tune how scripts are executed.
type Options struct {
	Timeout           time.Duration
	MemoryMB          int64
	OutputTokenBudget int
	// MaxOutputBytes caps how much container output is read before
	// truncation. Derived from OutputTokenBudget when zero.
	MaxOutputBytes int
	Truncator      tokens.Truncator
}

// bytesPerToken bounds the bytes a single token decodes to.
const bytesPerToken = 16

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MemoryMB <= 0 {
		o.MemoryMB = DefaultMemoryMB
	}
	if o.OutputTokenBudget <= 0 {
		o.OutputTokenBudget = sandbox.DefaultOutputTokenBudget
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = o.OutputTokenBudget * bytesPerToken
	}
	if o.Truncator == nil {
		o.Truncator = tokens.Default()
	}
	return o
}

// Manager owns the Docker client and the process-wide image cache.
// It is safe for concurrent use by many runs.
type Manager struct {
	cli    engine
	images *ImageCache
	opts   Options
}

var _ sandbox.Provisioner = (*Manager)(nil)

// New connects to the Docker engine described by the environment.
func New(opts Options) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newManager(cli, opts), nil
}

func newManager(cli engine, opts Options) *Manager {
	return &Manager{
		cli:    cli,
		images: NewImageCache(cli),
		opts:   opts.withDefaults(),
	}
}

func (m *Manager) Close() error {
	return m.cli.Close()
}

// Executor provisions the environment described by dockerfile, building its
// image if no cached one exists, and returns an executor bound to it.
func (m *Manager) Executor(ctx context.Context, dockerfile string) (sandbox.Executor, error) {
	if dockerfile == "" {
		dockerfile = DefaultDockerfile
	}
	tag, err := m.images.Ensure(ctx, dockerfile)
	if err != nil {
		return nil, err
	}
	slog.Debug("Sandbox environment ready", "image", tag)
	return &Executor{cli: m.cli, image: tag, opts: m.opts}, nil
}

package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeRun describes what the "container" does with its mounted scope.
type fakeRun struct {
	status int64
	logs   string
	hang   bool
}

type fakeEngine struct {
	mu        sync.Mutex
	images    map[string]bool
	builds    int
	buildErr  string
	// buildGate, when set, holds ImageBuild until it is closed or the
	// build context ends. buildStarted is signalled on entry.
	buildGate    chan struct{}
	buildStarted chan struct{}
	inspects  int
	behavior  func(dir string) fakeRun
	started   chan container.WaitResponse
	config    *container.Config
	hostCfg   *container.HostConfig
	dir       string
	logs      string
	removed   []string
	createErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		images:  make(map[string]bool),
		started: make(chan container.WaitResponse, 1),
	}
}

func (f *fakeEngine) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspects++
	if !f.images[imageID] {
		return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image: " + imageID))
	}
	return types.ImageInspect{ID: imageID}, nil, nil
}

func (f *fakeEngine) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	if f.buildStarted != nil {
		close(f.buildStarted)
	}
	if f.buildGate != nil {
		select {
		case <-f.buildGate:
		case <-ctx.Done():
			return types.ImageBuildResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	if _, err := io.Copy(io.Discard, buildContext); err != nil {
		return types.ImageBuildResponse{}, err
	}
	if f.buildErr != "" {
		body := `{"stream":"Step 1/3"}` + "\n" + `{"errorDetail":{"message":"` + f.buildErr + `"},"error":"` + f.buildErr + `"}` + "\n"
		return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(body))}, nil
	}
	for _, tag := range options.Tags {
		f.images[tag] = true
	}
	body := `{"stream":"Step 1/3"}` + "\n" + `{"stream":"Successfully built"}` + "\n"
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeEngine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.config = config
	f.hostCfg = hostConfig
	f.dir, _, _ = strings.Cut(hostConfig.Binds[0], ":")
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeEngine) ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error {
	run := f.behavior(f.dir)
	f.logs = run.logs
	if !run.hang {
		f.started <- container.WaitResponse{StatusCode: run.status}
	}
	return nil
}

func (f *fakeEngine) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		select {
		case res := <-f.started:
			waitCh <- res
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return waitCh, errCh
}

func (f *fakeEngine) ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.logs)); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeEngine) ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeEngine) Close() error { return nil }

package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/vincentmin/table-agent/pkg/sandbox"
	"golang.org/x/sync/singleflight"
)

const (
	imageRepository     = "table-agent"
	defaultBuildTimeout = 20 * time.Minute
)

type imageEngine interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

// ImageTag derives the image tag for an environment definition from its
// content hash. Identical definitions always map to the same tag.
func ImageTag(dockerfile string) string {
	sum := sha256.Sum256([]byte(dockerfile))
	return fmt.Sprintf("%s:%s", imageRepository, hex.EncodeToString(sum[:])[:12])
}

// ImageCache builds each distinct environment at most once per process.
// Concurrent requests for the same definition share one build; failed
// builds are not remembered. A build is not tied to the caller that
// started it: cancelling one caller only stops that caller waiting.
type ImageCache struct {
	engine       imageEngine
	group        singleflight.Group
	buildTimeout time.Duration

	mu    sync.RWMutex
	ready map[string]bool
}

func NewImageCache(engine imageEngine) *ImageCache {
	return &ImageCache{
		engine:       engine,
		buildTimeout: defaultBuildTimeout,
		ready:        make(map[string]bool),
	}
}

// Ensure returns the tag of an image built from dockerfile, building it
// when neither this process nor the local engine has it yet.
func (c *ImageCache) Ensure(ctx context.Context, dockerfile string) (string, error) {
	tag := ImageTag(dockerfile)
	if c.isReady(tag) {
		return tag, nil
	}

	ch := c.group.DoChan(tag, func() (any, error) {
		if c.isReady(tag) {
			return nil, nil
		}
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.buildTimeout)
		defer cancel()
		if err := c.provision(buildCtx, tag, dockerfile); err != nil {
			return nil, &sandbox.ProvisionError{Tag: tag, Err: err}
		}
		c.mu.Lock()
		c.ready[tag] = true
		c.mu.Unlock()
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			slog.Debug("Joined in-flight image build", "image", tag)
		}
		return tag, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *ImageCache) isReady(tag string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready[tag]
}

func (c *ImageCache) provision(ctx context.Context, tag, dockerfile string) error {
	_, _, err := c.engine.ImageInspectWithRaw(ctx, tag)
	if err == nil {
		slog.Info("Reusing existing sandbox image", "image", tag)
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspecting image: %w", err)
	}

	buildContext, err := dockerfileContext(dockerfile)
	if err != nil {
		return err
	}

	slog.Info("Building sandbox image", "image", tag)
	resp, err := c.engine.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("building image: %w", err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("building image: %w", err)
	}
	return nil
}

func dockerfileContext(dockerfile string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0o644,
		Size: int64(len(dockerfile)),
	}); err != nil {
		return nil, fmt.Errorf("writing build context: %w", err)
	}
	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return nil, fmt.Errorf("writing build context: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("writing build context: %w", err)
	}
	return &buf, nil
}

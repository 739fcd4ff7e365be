package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/vincentmin/table-agent/pkg/sandbox"
	"github.com/vincentmin/table-agent/pkg/table"
)

const teardownTimeout = 30 * time.Second

// Executor runs each script in a fresh, network-less container created from
// a prebuilt image. Containers and scopes are removed on every exit path.
type Executor struct {
	cli   engine
	image string
	opts  Options
}

var _ sandbox.Executor = (*Executor)(nil)

func (e *Executor) Execute(ctx context.Context, script string, tbl *table.Table) (*sandbox.Outcome, error) {
	scope, err := sandbox.NewScope(script, tbl)
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	resp, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:           e.image,
		Cmd:             []string{"python", path.Join(sandbox.WorkDir, sandbox.ScriptFile)},
		WorkingDir:      sandbox.WorkDir,
		NetworkDisabled: true,
		Labels:          map[string]string{"app": imageRepository},
	}, &container.HostConfig{
		Binds: []string{scope.Dir + ":" + sandbox.WorkDir},
		Resources: container.Resources{
			Memory: e.opts.MemoryMB * 1024 * 1024,
		},
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer e.remove(ctx, resp.ID)

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	waitCh, errCh := e.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	if err := e.cli.ContainerStart(runCtx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	var (
		status   int
		timedOut bool
	)
	select {
	case res := <-waitCh:
		if res.Error != nil && res.Error.Message != "" {
			return nil, fmt.Errorf("waiting for container: %s", res.Error.Message)
		}
		status = int(res.StatusCode)
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
		timedOut = true
		status = sandbox.ExitTimedOut
	}

	output, err := e.logs(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	if timedOut {
		output += fmt.Sprintf("\nexecution timed out after %s", e.opts.Timeout)
	}

	present, value, parseErr, err := scope.ReadArtifact()
	if err != nil {
		return nil, err
	}

	outcome := &sandbox.Outcome{
		ExitStatus:      status,
		Output:          e.opts.Truncator.Truncate(output, e.opts.OutputTokenBudget),
		ArtifactPresent: present,
		Artifact:        value,
	}
	if parseErr != nil {
		outcome.ArtifactError = parseErr.Error()
	}
	slog.Debug("Script finished", "image", e.image, "exitStatus", status, "artifact", present)
	return outcome, nil
}

func (e *Executor) logs(ctx context.Context, id string) (string, error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	rc, err := e.cli.ContainerLogs(logCtx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	w := &cappedWriter{max: e.opts.MaxOutputBytes}
	if _, err := stdcopy.StdCopy(w, w, rc); err != nil && !errors.Is(err, errOutputLimit) {
		return "", fmt.Errorf("reading container logs: %w", err)
	}
	if !w.full {
		return w.buf.String(), nil
	}
	slog.Debug("Container output cut", "id", id, "maxBytes", e.opts.MaxOutputBytes)
	return strings.ToValidUTF8(w.buf.String(), "") + "\n[output truncated]", nil
}

var errOutputLimit = errors.New("output limit reached")

// cappedWriter keeps the first max bytes written to it and then fails,
// which stops stdcopy from reading the rest of the stream.
type cappedWriter struct {
	buf  bytes.Buffer
	max  int
	full bool
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	room := w.max - w.buf.Len()
	if len(p) <= room {
		return w.buf.Write(p)
	}
	w.buf.Write(p[:max(room, 0)])
	w.full = true
	return max(room, 0), errOutputLimit
}

func (e *Executor) remove(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := e.cli.ContainerRemove(rmCtx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		slog.Warn("Failed to remove container", "id", id, "error", err)
	}
}

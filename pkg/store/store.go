// Package store persists extraction runs and the turns of their
// conversations so they can be listed, inspected and streamed later.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/schema"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is the stored record of one extraction.
type Run struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	SchemaName string    `json:"schema_name"`
	Rows       int       `json:"rows"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// Result is nil until the run succeeds.
	Result *RunResult `json:"result,omitempty"`
}

// RunResult is the terminal output of a successful run.
type RunResult struct {
	Response string          `json:"response"`
	Script   string          `json:"script"`
	Outputs  []schema.Record `json:"outputs"`
	Turns    int             `json:"turns"`
}

// RunStore manages runs and their turn history.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	// AppendTurn adds a turn to the end of a run's history.
	AppendTurn(ctx context.Context, runID string, turn conversation.Turn) error
	// FinishRun moves a run to a terminal status. result is ignored
	// unless status is StatusSucceeded.
	FinishRun(ctx context.Context, runID string, status Status, result *RunResult, errText string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]Run, error)
	// GetTurns returns a run's turns in append order.
	GetTurns(ctx context.Context, runID string) ([]conversation.Turn, error)
	// Subscribe returns a channel that receives the ID of a run whenever
	// it changes. Slow subscribers miss notifications.
	Subscribe() <-chan string
	// Unsubscribe stops notifications on a channel returned by Subscribe.
	Unsubscribe(ch <-chan string)
	Close() error
}

// Recorder appends every observed turn to a store. It satisfies
// runner.Observer.
type Recorder struct {
	Store RunStore
}

func (r Recorder) OnTurn(runID string, turn conversation.Turn) {
	if err := r.Store.AppendTurn(context.Background(), runID, turn); err != nil {
		slog.Warn("Failed to record turn", "runID", runID, "turnID", turn.ID, "error", err)
	}
}

// Complete records the outcome of a run: succeeded with res, or failed
// with runErr.
func Complete(ctx context.Context, s RunStore, runID string, res *RunResult, runErr error) error {
	if runErr != nil {
		return s.FinishRun(ctx, runID, StatusFailed, nil, runErr.Error())
	}
	return s.FinishRun(ctx, runID, StatusSucceeded, res, "")
}

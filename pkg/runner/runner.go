// Package runner drives the agent loop: it alternates model calls and tool
// executions until the model answers without requesting a tool.
package runner

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/models"
	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/tools"
)

// DefaultTurnLimit bounds the number of model calls in one run.
const DefaultTurnLimit = 25

// Observer is notified after every turn appended to a run's conversation.
// Observers must not block for long and cannot influence the run.
type Observer interface {
	OnTurn(runID string, turn conversation.Turn)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(runID string, turn conversation.Turn)

func (f ObserverFunc) OnTurn(runID string, turn conversation.Turn) { f(runID, turn) }

// Task is the input of one run.
type Task struct {
	// ID identifies the run to observers; one is generated if empty.
	ID           string
	SystemPrompt string
	UserPrompt   string
}

// Result is the terminal output of a successful run.
type Result struct {
	RunID string `json:"run_id"`
	// Response is the model's final answer.
	Response string `json:"response"`
	// Script produced Records; both are empty if no execution validated.
	Script  string          `json:"script"`
	Records []schema.Record `json:"outputs"`
	// Turns is the number of model calls made.
	Turns        int                        `json:"turns"`
	Conversation *conversation.Conversation `json:"-"`
}

// Runner coordinates one model with one tool set. A Runner may execute many
// runs concurrently; each run is strictly sequential.
type Runner struct {
	model     models.ModelProvider
	modelName string
	tools     *tools.Registry
	turnLimit int
	observers []Observer
}

func New(model models.ModelProvider, modelName string, registry *tools.Registry, turnLimit int, observers ...Observer) *Runner {
	if turnLimit <= 0 {
		turnLimit = DefaultTurnLimit
	}
	return &Runner{
		model:     model,
		modelName: modelName,
		tools:     registry,
		turnLimit: turnLimit,
		observers: observers,
	}
}

// Run seeds a conversation from task and loops until the model answers
// with text, the turn limit is reached, or a fatal error occurs.
func (r *Runner) Run(ctx context.Context, task Task) (*Result, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.UserPrompt == "" {
		task.UserPrompt = DefaultUserPrompt
	}

	ru := &run{
		Runner: r,
		id:     task.ID,
		conv:   conversation.New(),
		decls:  r.tools.Declarations(),
		state:  StateAwaitingModel,
	}
	if err := ru.append(conversation.System(task.SystemPrompt)); err != nil {
		return nil, err
	}
	if err := ru.append(conversation.User(task.UserPrompt)); err != nil {
		return nil, err
	}

	slog.Info("Starting run", "runID", ru.id, "model", r.modelName, "turnLimit", r.turnLimit)
	for ru.state != StateDone {
		if err := ru.step(ctx); err != nil {
			slog.Error("Run failed", "runID", ru.id, "turns", ru.modelCalls, "error", err)
			return nil, err
		}
	}

	last, _ := ru.conv.Last()
	res := &Result{
		RunID:        ru.id,
		Response:     last.Text,
		Turns:        ru.modelCalls,
		Conversation: ru.conv,
		Records:      []schema.Record{},
	}
	if a := ru.conv.LastArtifact(); a != nil {
		res.Script = a.Script
		res.Records = a.Records
	}
	slog.Info("Run finished", "runID", ru.id, "turns", res.Turns, "records", len(res.Records))
	return res, nil
}

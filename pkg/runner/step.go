package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/models"
)

// State is the position of a run in the agent loop.
type State int

const (
	// StateAwaitingModel means every tool call has been answered and the
	// model is asked for its next action.
	StateAwaitingModel State = iota
	// StateAwaitingToolResult means the last model turn requested tools
	// that have not all been executed yet.
	StateAwaitingToolResult
	// StateDone means the model answered without requesting a tool.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateAwaitingToolResult:
		return "awaiting_tool_result"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// run is the mutable state of one execution of the loop.
type run struct {
	*Runner
	id         string
	conv       *conversation.Conversation
	decls      []models.ToolDeclaration
	state      State
	modelCalls int
}

// step performs exactly one transition.
func (r *run) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch r.state {
	case StateAwaitingModel:
		if r.modelCalls >= r.turnLimit {
			return &TurnLimitExceededError{
				Limit:        r.turnLimit,
				Turns:        r.modelCalls,
				LastOutput:   r.conv.LastToolOutput(),
				Conversation: r.conv,
			}
		}
		turn, err := r.callModel(ctx)
		if err != nil {
			return err
		}
		if err := r.append(turn); err != nil {
			return &GatewayError{Turn: r.modelCalls, Err: err}
		}
		if turn.HasToolCalls() {
			r.state = StateAwaitingToolResult
		} else {
			r.state = StateDone
		}

	case StateAwaitingToolResult:
		pending := r.conv.Pending()
		result, err := r.executeTool(ctx, pending[0])
		if err != nil {
			return err
		}
		if err := r.append(conversation.Result(*result)); err != nil {
			return err
		}
		if len(pending) == 1 {
			r.state = StateAwaitingModel
		}

	default:
		return fmt.Errorf("step called in state %s", r.state)
	}
	return nil
}

func (r *run) callModel(ctx context.Context) (conversation.Turn, error) {
	r.modelCalls++
	slog.Info("Calling model", "runID", r.id, "turn", r.modelCalls)

	stream, err := r.model.Stream(ctx, r.modelName, r.conv.Turns(), r.decls)
	if err != nil {
		return conversation.Turn{}, &GatewayError{Turn: r.modelCalls, Err: err}
	}
	defer stream.Close()

	turn, err := stream.FullMessage()
	if err != nil {
		return conversation.Turn{}, &GatewayError{Turn: r.modelCalls, Err: err}
	}
	return turn, nil
}

func (r *run) executeTool(ctx context.Context, call conversation.ToolCall) (*conversation.ToolResult, error) {
	tool, ok := r.tools.Get(call.Name)
	if !ok {
		return nil, &UnknownToolError{Name: call.Name}
	}

	slog.Info("Executing tool", "runID", r.id, "tool", call.Name, "callID", call.ID)
	res, err := tool.Execute(ctx, call.Args)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return &conversation.ToolResult{
		CallID:   call.ID,
		Name:     call.Name,
		Content:  res.Content,
		IsError:  res.IsError,
		Artifact: res.Artifact,
	}, nil
}

func (r *run) append(t conversation.Turn) error {
	stamped, err := r.conv.Append(t)
	if err != nil {
		return fmt.Errorf("appending %s turn: %w", t.Kind, err)
	}
	for _, o := range r.observers {
		o.OnTurn(r.id, stamped)
	}
	return nil
}

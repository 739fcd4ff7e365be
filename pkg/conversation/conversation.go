// Package conversation holds the ordered, append-only history of one
// extraction run.
package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vincentmin/table-agent/pkg/schema"
)

// Kind defines the kind of turn.
type Kind string

const (
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindModel      Kind = "model"
	KindToolResult Kind = "tool_result"
)

var (
	// ErrPendingToolCall is returned when a turn other than a tool result is
	// appended while a tool call is still unanswered.
	ErrPendingToolCall = errors.New("conversation has an unanswered tool call")
	// ErrNoPendingToolCall is returned when a tool result answers nothing.
	ErrNoPendingToolCall = errors.New("conversation has no pending tool call")
	// ErrOutOfOrder is returned when the system turn is missing, repeated or misplaced.
	ErrOutOfOrder = errors.New("system turn must be the first and only system turn")
	// ErrEmptyTurn is returned for a model turn with neither text nor tool calls.
	ErrEmptyTurn = errors.New("model turn carries no text and no tool call")
)

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	// Signature is opaque provider state that must be sent back with the call.
	Signature []byte `json:"signature,omitempty"`
}

// Artifact is what a successful tool execution leaves for the caller.
type Artifact struct {
	Script  string          `json:"script"`
	Records []schema.Record `json:"records"`
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	// Content is the text shown to the model.
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
	// Artifact is nil unless the execution validated.
	Artifact *Artifact `json:"artifact,omitempty"`
}

// Turn is one entry in the history. Text is set for system, user and
// model turns; ToolCalls only on model turns; ToolResult only on
// tool_result turns.
type Turn struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Timestamp  time.Time   `json:"timestamp"`
	Text       string      `json:"text,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// HasToolCalls reports whether the turn requests any tool invocation.
func (t Turn) HasToolCalls() bool { return len(t.ToolCalls) > 0 }

func System(text string) Turn { return Turn{Kind: KindSystem, Text: text} }

func User(text string) Turn { return Turn{Kind: KindUser, Text: text} }

// Model builds a model turn. Calls without an ID are given one.
func Model(text string, calls ...ToolCall) Turn {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}
	return Turn{Kind: KindModel, Text: text, ToolCalls: calls}
}

func Result(r ToolResult) Turn { return Turn{Kind: KindToolResult, ToolResult: &r} }

// Conversation is not safe for concurrent use; a run appends to it from a
// single goroutine.
type Conversation struct {
	turns   []Turn
	pending []ToolCall
}

func New() *Conversation {
	return &Conversation{}
}

// Append validates t against the sequencing rules, stamps it, and adds it.
// Tool results must answer pending calls in the order they were requested.
func (c *Conversation) Append(t Turn) (Turn, error) {
	if err := c.check(t); err != nil {
		return Turn{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	switch t.Kind {
	case KindModel:
		c.pending = append(c.pending, t.ToolCalls...)
	case KindToolResult:
		c.pending = c.pending[1:]
	}
	c.turns = append(c.turns, t)
	return t, nil
}

func (c *Conversation) check(t Turn) error {
	if (len(c.turns) == 0) != (t.Kind == KindSystem) {
		return fmt.Errorf("appending %s turn: %w", t.Kind, ErrOutOfOrder)
	}

	switch t.Kind {
	case KindSystem, KindUser:
		if len(c.pending) > 0 {
			return fmt.Errorf("appending %s turn: %w", t.Kind, ErrPendingToolCall)
		}
	case KindModel:
		if len(c.pending) > 0 {
			return fmt.Errorf("appending model turn: %w", ErrPendingToolCall)
		}
		if t.Text == "" && len(t.ToolCalls) == 0 {
			return ErrEmptyTurn
		}
	case KindToolResult:
		if len(c.pending) == 0 {
			return ErrNoPendingToolCall
		}
		if t.ToolResult == nil {
			return fmt.Errorf("tool result turn has no result")
		}
		if want := c.pending[0].ID; t.ToolResult.CallID != want {
			return fmt.Errorf("tool result answers %q, expected %q", t.ToolResult.CallID, want)
		}
	default:
		return fmt.Errorf("unknown turn kind %q", t.Kind)
	}
	return nil
}

// Turns returns a copy of the history.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int { return len(c.turns) }

// Pending returns the tool calls still awaiting a result, in order.
func (c *Conversation) Pending() []ToolCall {
	out := make([]ToolCall, len(c.pending))
	copy(out, c.pending)
	return out
}

// Last returns the most recent turn.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// LastArtifact returns the artifact of the most recent successful tool
// execution, or nil if none succeeded.
func (c *Conversation) LastArtifact() *Artifact {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if r := c.turns[i].ToolResult; r != nil && r.Artifact != nil {
			return r.Artifact
		}
	}
	return nil
}

// LastToolOutput returns the content of the most recent tool result.
func (c *Conversation) LastToolOutput() string {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if r := c.turns[i].ToolResult; r != nil {
			return r.Content
		}
	}
	return ""
}

package conversation

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vincentmin/table-agent/pkg/schema"
)

func mustAppend(t *testing.T, c *Conversation, turn Turn) Turn {
	t.Helper()
	got, err := c.Append(turn)
	if err != nil {
		t.Fatalf("Append(%s): %v", turn.Kind, err)
	}
	return got
}

func TestAppendStampsTurns(t *testing.T) {
	c := New()
	got := mustAppend(t, c, System("sys"))
	if got.ID == "" || got.Timestamp.IsZero() {
		t.Errorf("turn not stamped: %+v", got)
	}
	model := Model("", ToolCall{Name: "python_tool"})
	if model.ToolCalls[0].ID == "" {
		t.Error("Model did not assign a call ID")
	}
}

func TestSequencing(t *testing.T) {
	c := New()
	mustAppend(t, c, System("sys"))
	mustAppend(t, c, User("Extract data from table"))

	call := ToolCall{ID: "c1", Name: "python_tool", Args: map[string]any{"script": "print(1)"}}
	mustAppend(t, c, Model("", call))

	if _, err := c.Append(Model("done")); !errors.Is(err, ErrPendingToolCall) {
		t.Errorf("model turn with pending call: err = %v, want ErrPendingToolCall", err)
	}
	if _, err := c.Append(User("more")); !errors.Is(err, ErrPendingToolCall) {
		t.Errorf("user turn with pending call: err = %v, want ErrPendingToolCall", err)
	}
	if _, err := c.Append(Result(ToolResult{CallID: "other"})); err == nil {
		t.Error("expected mismatched call ID to be rejected")
	}

	mustAppend(t, c, Result(ToolResult{CallID: "c1", Content: "1"}))
	if _, err := c.Append(Result(ToolResult{CallID: "c1"})); !errors.Is(err, ErrNoPendingToolCall) {
		t.Errorf("duplicate result: err = %v, want ErrNoPendingToolCall", err)
	}

	mustAppend(t, c, Model("done"))
	if c.Len() != 5 {
		t.Errorf("Len = %d, want 5", c.Len())
	}
}

func TestMultipleCallsAnsweredInOrder(t *testing.T) {
	c := New()
	mustAppend(t, c, System("sys"))
	mustAppend(t, c, Model("", ToolCall{ID: "a"}, ToolCall{ID: "b"}))

	if diff := cmp.Diff([]string{"a", "b"}, callIDs(c.Pending())); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
	if _, err := c.Append(Result(ToolResult{CallID: "b"})); err == nil {
		t.Error("expected out-of-order result to be rejected")
	}
	mustAppend(t, c, Result(ToolResult{CallID: "a"}))
	if _, err := c.Append(Model("early")); !errors.Is(err, ErrPendingToolCall) {
		t.Errorf("err = %v, want ErrPendingToolCall", err)
	}
	mustAppend(t, c, Result(ToolResult{CallID: "b"}))
	if len(c.Pending()) != 0 {
		t.Errorf("pending = %v", c.Pending())
	}
}

func TestSystemTurnPlacement(t *testing.T) {
	c := New()
	if _, err := c.Append(User("hi")); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("user first: err = %v, want ErrOutOfOrder", err)
	}
	mustAppend(t, c, System("sys"))
	if _, err := c.Append(System("again")); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("second system: err = %v, want ErrOutOfOrder", err)
	}
}

func TestEmptyModelTurn(t *testing.T) {
	c := New()
	mustAppend(t, c, System("sys"))
	if _, err := c.Append(Model("")); !errors.Is(err, ErrEmptyTurn) {
		t.Errorf("err = %v, want ErrEmptyTurn", err)
	}
}

func TestLastArtifact(t *testing.T) {
	c := New()
	mustAppend(t, c, System("sys"))
	if c.LastArtifact() != nil {
		t.Error("expected no artifact")
	}

	good := &Artifact{Script: "s1", Records: []schema.Record{{"value": "foo"}}}
	mustAppend(t, c, Model("", ToolCall{ID: "1"}))
	mustAppend(t, c, Result(ToolResult{CallID: "1", Content: "ok", Artifact: good}))
	mustAppend(t, c, Model("", ToolCall{ID: "2"}))
	mustAppend(t, c, Result(ToolResult{CallID: "2", Content: "Error", IsError: true}))

	if diff := cmp.Diff(good, c.LastArtifact()); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
	if got := c.LastToolOutput(); got != "Error" {
		t.Errorf("LastToolOutput = %q", got)
	}
}

func TestTurnsReturnsCopy(t *testing.T) {
	c := New()
	mustAppend(t, c, System("sys"))
	turns := c.Turns()
	turns[0].Text = "changed"
	if last, _ := c.Last(); last.Text != "sys" {
		t.Errorf("history was mutated through Turns(): %q", last.Text)
	}
}

func callIDs(calls []ToolCall) []string {
	var ids []string
	for _, c := range calls {
		ids = append(ids, c.ID)
	}
	return ids
}

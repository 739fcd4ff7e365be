package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/models"
)

// sseServer replays chunks as a chat completion stream and records the
// last request body.
func sseServer(t *testing.T, chunks []string, body *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, body); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chunk(delta string, finish string) string {
	f := "null"
	if finish != "" {
		f = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`, delta, f)
}

func TestStreamToolCall(t *testing.T) {
	var req map[string]any
	srv := sseServer(t, []string{
		chunk(`{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"python_tool","arguments":"{\"script\":"}}]}`, ""),
		chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"print(1)\"}"}}]}`, ""),
		chunk(`{}`, "tool_calls"),
	}, &req)

	p := New("test-key", srv.URL+"/v1/")
	turns := []conversation.Turn{
		conversation.System("sys"),
		conversation.User("Extract data from table"),
		conversation.Model("", conversation.ToolCall{ID: "call_0", Name: "python_tool", Args: map[string]any{"script": "x"}}),
		conversation.Result(conversation.ToolResult{CallID: "call_0", Content: "Error: boom"}),
	}
	tools := []models.ToolDeclaration{{
		Name:       "python_tool",
		Parameters: []models.Parameter{{Name: "script", Type: "string", Required: true}},
	}}

	stream, err := p.Stream(context.Background(), DefaultModel, turns, tools)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	turn, err := stream.FullMessage()
	if err != nil {
		t.Fatalf("FullMessage: %v", err)
	}
	want := []conversation.ToolCall{{ID: "call_1", Name: "python_tool", Args: map[string]any{"script": "print(1)"}}}
	if diff := cmp.Diff(want, turn.ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}

	msgs, _ := req["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("sent %d messages, want 4", len(msgs))
	}
	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	if diff := cmp.Diff([]string{"system", "user", "assistant", "tool"}, roles); diff != "" {
		t.Errorf("roles mismatch (-want +got):\n%s", diff)
	}
	if got := msgs[3].(map[string]any)["tool_call_id"]; got != "call_0" {
		t.Errorf("tool_call_id = %v", got)
	}
	if _, ok := req["tools"]; !ok {
		t.Error("request did not declare tools")
	}
}

func TestStreamText(t *testing.T) {
	var req map[string]any
	srv := sseServer(t, []string{
		chunk(`{"role":"assistant","content":"All "}`, ""),
		chunk(`{"content":"done."}`, "stop"),
	}, &req)

	p := New("test-key", srv.URL+"/v1/")
	stream, err := p.Stream(context.Background(), DefaultModel, []conversation.Turn{conversation.System("sys")}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	turn, err := stream.FullMessage()
	if err != nil {
		t.Fatalf("FullMessage: %v", err)
	}
	if turn.Text != "All done." || turn.HasToolCalls() {
		t.Errorf("turn = %+v", turn)
	}
	if _, ok := req["tools"]; ok {
		t.Error("tools sent although none were declared")
	}
}

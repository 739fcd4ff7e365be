// Package scripted provides a ModelProvider that replays predetermined
// responses. It is used for dry runs and tests.
package scripted

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/models"
)

// Response is one scripted model reply: text, tool calls, or an error.
type Response struct {
	Text      string                  `json:"text,omitempty"`
	ToolCalls []conversation.ToolCall `json:"tool_calls,omitempty"`
	Err       error                   `json:"-"`
}

// Text is a reply that ends the run.
func Text(s string) Response { return Response{Text: s} }

// Call is a reply requesting one invocation of tool.
func Call(tool string, args map[string]any) Response {
	return Response{ToolCalls: []conversation.ToolCall{{Name: tool, Args: args}}}
}

// Fail is a reply where the backend errors.
func Fail(err error) Response { return Response{Err: err} }

// Provider replays Responses in order and records every request.
type Provider struct {
	mu        sync.Mutex
	responses []Response
	requests  [][]conversation.Turn
}

var _ models.ModelProvider = (*Provider)(nil)

func New(responses ...Response) *Provider {
	return &Provider{responses: responses}
}

// Load reads a JSON array of Responses from path.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	var responses []Response
	if err := json.Unmarshal(data, &responses); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	return New(responses...), nil
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) List(ctx context.Context) ([]models.Model, error) {
	return []models.Model{{ID: "scripted", Name: "Scripted replies", Provider: p.Name()}}, nil
}

func (p *Provider) Stream(ctx context.Context, modelName string, turns []conversation.Turn, tools []models.ToolDeclaration) (models.ModelStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, append([]conversation.Turn(nil), turns...))
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("scripted provider exhausted after %d calls", len(p.requests)-1)
	}
	r := p.responses[0]
	p.responses = p.responses[1:]
	if r.Err != nil {
		return nil, r.Err
	}
	calls := append([]conversation.ToolCall(nil), r.ToolCalls...)
	return &stream{turn: conversation.Model(r.Text, calls...)}, nil
}

// Requests returns the conversation sent with each call so far.
func (p *Provider) Requests() [][]conversation.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]conversation.Turn(nil), p.requests...)
}

type stream struct {
	turn conversation.Turn
}

func (s *stream) FullMessage() (conversation.Turn, error) { return s.turn, nil }

func (s *stream) Close() error { return nil }

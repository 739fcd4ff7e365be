// Package openai implements models.ModelProvider on the OpenAI chat
// completions API and compatible endpoints.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/models"
)

const DefaultModel = "gpt-4o"

// Provider implements models.ModelProvider using the OpenAI Go SDK.
type Provider struct {
	client openai.Client
}

var _ models.ModelProvider = (*Provider)(nil)

// New creates a provider. baseURL may be empty to use the public API.
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: openai.NewClient(opts...)}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) List(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	iter := p.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		out = append(out, models.Model{ID: m.ID, Name: m.ID, Provider: p.Name()})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return out, nil
}

func (p *Provider) Stream(ctx context.Context, modelName string, turns []conversation.Turn, tools []models.ToolDeclaration) (models.ModelStream, error) {
	slog.Debug("OpenAI.Stream", "model", modelName, "turnCount", len(turns))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelName),
		Messages: buildMessages(turns),
	}
	if len(tools) > 0 {
		params.Tools = buildTools(tools)
	}
	return &openaiStream{stream: p.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func buildMessages(turns []conversation.Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case conversation.KindSystem:
			out = append(out, openai.SystemMessage(t.Text))
		case conversation.KindUser:
			out = append(out, openai.UserMessage(t.Text))
		case conversation.KindModel:
			if !t.HasToolCalls() {
				out = append(out, openai.AssistantMessage(t.Text))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(t.ToolCalls))
			for _, c := range t.ToolCalls {
				args, err := json.Marshal(c.Args)
				if err != nil || c.Args == nil {
					args = []byte("{}")
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if t.Text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(t.Text)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case conversation.KindToolResult:
			out = append(out, openai.ToolMessage(t.ToolResult.Content, t.ToolResult.CallID))
		}
	}
	return out
}

func buildTools(decls []models.ToolDeclaration) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(decls))
	for _, d := range decls {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.JSONSchema()),
			},
		})
	}
	return out
}

// openaiStream accumulates streamed chunks into one model turn.
type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) FullMessage() (conversation.Turn, error) {
	var acc openai.ChatCompletionAccumulator
	for s.stream.Next() {
		acc.AddChunk(s.stream.Current())
	}
	if err := s.stream.Err(); err != nil {
		return conversation.Turn{}, err
	}
	if len(acc.Choices) == 0 {
		return conversation.Turn{}, fmt.Errorf("response contained no choices")
	}

	msg := acc.Choices[0].Message
	var calls []conversation.ToolCall
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call-" + uuid.New().String()
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				slog.Warn("Tool call arguments are not valid JSON", "tool", tc.Function.Name, "error", err)
			}
		}
		calls = append(calls, conversation.ToolCall{ID: id, Name: tc.Function.Name, Args: args})
	}
	return conversation.Model(msg.Content, calls...), nil
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

// Package gemini implements models.ModelProvider with the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/models"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

// Provider implements models.ModelProvider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

var _ models.ModelProvider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return "gemini" }

// List returns the models that support generateContent.
func (p *Provider) List(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(m.Name), "gemma") || !slices.Contains(m.SupportedActions, "generateContent") {
			continue
		}
		out = append(out, models.Model{
			ID:        m.Name,
			Name:      m.DisplayName,
			Provider:  p.Name(),
			MaxTokens: int(m.InputTokenLimit),
		})
	}
	return out, nil
}

func (p *Provider) Stream(ctx context.Context, modelName string, turns []conversation.Turn, tools []models.ToolDeclaration) (models.ModelStream, error) {
	slog.Debug("Gemini.Stream", "model", modelName, "turnCount", len(turns))

	instructions, contents := buildContents(turns)
	config := &genai.GenerateContentConfig{
		Tools: buildTools(tools),
	}
	if instructions != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instructions}}}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	iter := p.client.Models.GenerateContentStream(streamCtx, modelName, contents, config)
	return &geminiStream{iter: iter, cancel: cancel}, nil
}

// buildContents converts the history into Gemini contents. Consecutive tool
// results are merged into one user content so parallel calls are answered
// together.
func buildContents(turns []conversation.Turn) (string, []*genai.Content) {
	var (
		instructions string
		contents     []*genai.Content
		names        = make(map[string]string) // call ID -> tool name
	)
	for _, t := range turns {
		switch t.Kind {
		case conversation.KindSystem:
			instructions = t.Text
		case conversation.KindUser:
			contents = append(contents, genai.NewContentFromText(t.Text, genai.RoleUser))
		case conversation.KindModel:
			var parts []*genai.Part
			if t.Text != "" {
				parts = append(parts, &genai.Part{Text: t.Text})
			}
			for _, call := range t.ToolCalls {
				names[call.ID] = call.Name
				parts = append(parts, &genai.Part{
					FunctionCall:     &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args},
					ThoughtSignature: call.Signature,
				})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case conversation.KindToolResult:
			r := t.ToolResult
			name := r.Name
			if name == "" {
				name = names[r.CallID]
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       r.CallID,
				Name:     name,
				Response: map[string]any{"result": r.Content},
			}}
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		}
	}
	return instructions, contents
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != "user" || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func buildTools(decls []models.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(d.Parameters)),
		}
		for _, p := range d.Parameters {
			params.Properties[p.Name] = &genai.Schema{Type: schemaType(p.Type), Description: p.Description}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func schemaType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeString
}

// geminiStream wraps the Gemini streaming iterator.
type geminiStream struct {
	iter   func(yield func(*genai.GenerateContentResponse, error) bool)
	cancel context.CancelFunc
}

func (s *geminiStream) FullMessage() (conversation.Turn, error) {
	var (
		text  strings.Builder
		calls []conversation.ToolCall
	)
	for resp, err := range s.iter {
		if err != nil {
			return conversation.Turn{}, err
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" && !part.Thought {
					text.WriteString(part.Text)
				}
				if fc := part.FunctionCall; fc != nil {
					id := fc.ID
					if id == "" {
						id = "call-" + uuid.New().String()
					}
					calls = append(calls, conversation.ToolCall{
						ID:        id,
						Name:      fc.Name,
						Args:      fc.Args,
						Signature: part.ThoughtSignature,
					})
				}
			}
		}
	}
	return conversation.Model(text.String(), calls...), nil
}

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}

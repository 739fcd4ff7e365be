// Package models abstracts chat-completion backends with tool calling.
package models

import (
	"context"

	"github.com/vincentmin/table-agent/pkg/conversation"
)

// Model describes an available LLM.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Parameter is one argument of a declared tool.
type Parameter struct {
	Name        string
	Type        string // JSON type: "string", "integer", "number", "boolean"
	Description string
	Required    bool
}

// ToolDeclaration is what the model is told about a tool.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// JSONSchema renders the tool's arguments as a JSON Schema object.
func (d ToolDeclaration) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ModelProvider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type ModelProvider interface {
	// Name returns the provider's identifier.
	Name() string

	// List returns the available models.
	List(ctx context.Context) ([]Model, error)

	// Stream sends the conversation and the declared tools to the model.
	// The first turn, if it is a system turn, becomes the instructions.
	Stream(ctx context.Context, modelName string, turns []conversation.Turn, tools []ToolDeclaration) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// FullMessage blocks until the full response is available and returns
	// it as a model turn.
	FullMessage() (conversation.Turn, error)
	Close() error
}

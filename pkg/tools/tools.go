// Package tools defines the tools a model may invoke during a run.
package tools

import (
	"context"
	"sort"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/models"
)

// Result is what a tool hands back to the loop.
type Result struct {
	// Content is the text shown to the model.
	Content string
	IsError bool
	// Artifact is set when the tool produced validated output.
	Artifact *conversation.Artifact
}

// Tool defines the interface that all agent tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() []models.Parameter
	// Execute runs the tool. Problems the model can fix are reported in the
	// Result; a returned error aborts the run.
	Execute(ctx context.Context, input map[string]any) (*Result, error)
}

// Registry manages the available tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools ordered by name.
func (r *Registry) List() []Tool {
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Declarations describes the registered tools to a model.
func (r *Registry) Declarations() []models.ToolDeclaration {
	var decls []models.ToolDeclaration
	for _, t := range r.List() {
		decls = append(decls, models.ToolDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return decls
}

// Package extract is the entry point for turning a table into records that
// follow a schema.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/vincentmin/table-agent/pkg/feedback"
	"github.com/vincentmin/table-agent/pkg/models"
	"github.com/vincentmin/table-agent/pkg/runner"
	"github.com/vincentmin/table-agent/pkg/sandbox"
	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/table"
	"github.com/vincentmin/table-agent/pkg/tools"
)

// Options configure one extraction. Model and one of Sandbox or Executor
// are required.
type Options struct {
	Model     models.ModelProvider
	ModelName string

	// SystemPrompt is a text/template with .Schema, .Preview and .Rows.
	SystemPrompt string
	UserPrompt   string
	PreviewRows  int

	// Sandbox provisions the environment described by Dockerfile.
	Sandbox    sandbox.Provisioner
	Dockerfile string
	// Executor, if set, is used instead of provisioning one.
	Executor sandbox.Executor

	// Tools are offered to the model in addition to the script tool.
	Tools     []tools.Tool
	TurnLimit int
	Formatter *feedback.Formatter
	Observers []runner.Observer
	// RunID names the run; one is generated if empty.
	RunID string
}

// Result is the outcome of a successful extraction.
type Result struct {
	RunID    string          `json:"run_id"`
	Response string          `json:"response"`
	Script   string          `json:"script"`
	Outputs  []schema.Record `json:"outputs"`
	Turns    int             `json:"turns"`
}

// Extract drives the model until it produces a final answer and returns the
// records from the last script whose output validated.
func Extract(ctx context.Context, tbl *table.Table, s *schema.Schema, opts Options) (*Result, error) {
	if opts.Model == nil {
		return nil, errors.New("extract: a model provider is required")
	}
	if tbl == nil || s == nil {
		return nil, errors.New("extract: table and schema are required")
	}

	validator, err := s.Compile()
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}

	executor := opts.Executor
	if executor == nil {
		if opts.Sandbox == nil {
			return nil, errors.New("extract: a sandbox or an executor is required")
		}
		executor, err = opts.Sandbox.Executor(ctx, opts.Dockerfile)
		if err != nil {
			return nil, err
		}
	}

	system, err := runner.RenderSystemPrompt(opts.SystemPrompt, s, tbl, opts.PreviewRows)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(opts.Tools...)
	registry.Register(tools.NewPythonTool(executor, tbl, validator, opts.Formatter))

	r := runner.New(opts.Model, opts.ModelName, registry, opts.TurnLimit, opts.Observers...)
	res, err := r.Run(ctx, runner.Task{ID: opts.RunID, SystemPrompt: system, UserPrompt: opts.UserPrompt})
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:    res.RunID,
		Response: res.Response,
		Script:   res.Script,
		Outputs:  res.Records,
		Turns:    res.Turns,
	}, nil
}

// AsyncResult is delivered once on the channel returned by ExtractAsync.
type AsyncResult struct {
	Result *Result
	Err    error
}

// ExtractAsync runs Extract in its own goroutine. The returned channel
// receives exactly one value and is then closed.
func ExtractAsync(ctx context.Context, tbl *table.Table, s *schema.Schema, opts Options) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		defer close(ch)
		res, err := Extract(ctx, tbl, s, opts)
		ch <- AsyncResult{Result: res, Err: err}
	}()
	return ch
}

// ExtractAs is Extract followed by decoding the outputs into T.
func ExtractAs[T any](ctx context.Context, tbl *table.Table, s *schema.Schema, opts Options) ([]T, *Result, error) {
	res, err := Extract(ctx, tbl, s, opts)
	if err != nil {
		return nil, nil, err
	}
	out, err := schema.Decode[T](res.Outputs)
	if err != nil {
		return nil, res, err
	}
	return out, res, nil
}

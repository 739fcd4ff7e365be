package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/feedback"
	"github.com/vincentmin/table-agent/pkg/models"
	"github.com/vincentmin/table-agent/pkg/sandbox"
	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/table"
	"github.com/vincentmin/table-agent/pkg/validate"
)

const (
	PythonToolName = "python_tool"
	ScriptArg      = "script"
)

// PythonTool runs a generated script against one run's table and checks
// what it wrote against the run's schema.
type PythonTool struct {
	executor  sandbox.Executor
	table     *table.Table
	validator *schema.Validator
	formatter *feedback.Formatter
}

var _ Tool = (*PythonTool)(nil)

func NewPythonTool(executor sandbox.Executor, tbl *table.Table, validator *schema.Validator, formatter *feedback.Formatter) *PythonTool {
	if formatter == nil {
		formatter = &feedback.Formatter{}
	}
	return &PythonTool{executor: executor, table: tbl, validator: validator, formatter: formatter}
}

func (t *PythonTool) Name() string { return PythonToolName }

func (t *PythonTool) Description() string {
	return "Run a python script. Make sure to put print statements in order to see the output"
}

func (t *PythonTool) Parameters() []models.Parameter {
	return []models.Parameter{{
		Name:        ScriptArg,
		Type:        "string",
		Description: "The python script",
		Required:    true,
	}}
}

func (t *PythonTool) Execute(ctx context.Context, input map[string]any) (*Result, error) {
	script, ok := input[ScriptArg].(string)
	if !ok || script == "" {
		err := fmt.Errorf("argument %q is required and must be a non-empty string", ScriptArg)
		return &Result{Content: t.formatter.Failure(err), IsError: true}, nil
	}

	slog.Info("Running python script", "bytes", len(script))
	outcome, err := t.executor.Execute(ctx, script, t.table)
	if err != nil {
		return nil, fmt.Errorf("executing script: %w", err)
	}

	records, err := validate.Validate(outcome, t.validator)
	if err != nil {
		var verr *validate.Error
		if errors.As(err, &verr) {
			slog.Info("Script output rejected", "kind", verr.Kind, "index", verr.Index, "exitStatus", outcome.ExitStatus)
		}
		return &Result{Content: t.formatter.Failure(err), IsError: true}, nil
	}

	slog.Info("Script output validated", "records", len(records))
	return &Result{
		Content:  t.formatter.Success(outcome.Output, records),
		Artifact: &conversation.Artifact{Script: script, Records: records},
	}, nil
}

// Package sandbox defines how generated scripts are executed against a
// table in an isolated, disposable environment.
package sandbox

import (
	"context"
	"fmt"

	"github.com/vincentmin/table-agent/pkg/table"
)

// Filesystem contract shared by every executor. Paths are relative to the
// working directory the script runs in.
const (
	// WorkDir is where the scope is mounted inside the isolated environment.
	WorkDir = "/workspace"
	// ScriptFile holds the generated script.
	ScriptFile = "script.py"
	// TableFile holds the serialized table.
	TableFile = table.FileName
	// OutputFile is the artifact the script must write: a JSON array of objects.
	OutputFile = "output.json"
)

// DefaultOutputTokenBudget caps the captured output handed back to the model.
const DefaultOutputTokenBudget = 4000

// ExitTimedOut is the exit status reported when a script exceeds its time limit.
const ExitTimedOut = 124

// Outcome is the result of executing one script. It is produced once per
// tool call and never modified afterwards.
type Outcome struct {
	// ExitStatus is the script's process exit code.
	ExitStatus int `json:"exit_status"`
	// Output is the combined stdout and stderr, truncated to the token budget.
	Output string `json:"output,omitempty"`
	// ArtifactPresent reports whether OutputFile existed after the run.
	ArtifactPresent bool `json:"artifact_present"`
	// Artifact is the decoded JSON content of OutputFile.
	Artifact any `json:"artifact,omitempty"`
	// ArtifactError is set when OutputFile exists but is not valid JSON.
	ArtifactError string `json:"artifact_error,omitempty"`
}

// Executor runs scripts against a table. Implementations provision a fresh
// scope per call and tear it down on every exit path.
type Executor interface {
	// Execute runs script with tbl available as TableFile. A non-zero exit
	// status is reported in the Outcome, not as an error; errors are reserved
	// for failures to run at all (including cancellation of ctx).
	Execute(ctx context.Context, script string, tbl *table.Table) (*Outcome, error)
}

// Provisioner prepares executors for an environment definition, such as a
// container build recipe. An empty definition selects the default.
type Provisioner interface {
	Executor(ctx context.Context, definition string) (Executor, error)
}

// ProvisionError reports that the execution environment could not be built.
type ProvisionError struct {
	Tag string
	Err error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning sandbox environment %s: %v", e.Tag, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

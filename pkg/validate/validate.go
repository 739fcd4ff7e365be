// Package validate checks a sandbox outcome against the target schema.
package validate

import (
	"fmt"

	"github.com/vincentmin/table-agent/pkg/sandbox"
	"github.com/vincentmin/table-agent/pkg/schema"
)

// Kind identifies which rule an outcome failed.
type Kind string

const (
	ExecutionFailed   Kind = "ExecutionFailed"
	ArtifactMissing   Kind = "ArtifactMissing"
	ArtifactMalformed Kind = "ArtifactMalformed"
	NotAList          Kind = "NotAList"
	SchemaViolation   Kind = "SchemaViolation"
)

// Error is a recoverable validation failure. It is rendered as feedback
// for the model and never aborts a run.
type Error struct {
	Kind Kind
	// Index is the position of the offending element for SchemaViolation.
	Index int
	// Cause is the underlying problem, if any.
	Cause error
	// Output is the captured output of the execution.
	Output     string
	ExitStatus int
}

func (e *Error) Error() string {
	switch e.Kind {
	case ExecutionFailed:
		return fmt.Sprintf("script exited with status %d", e.ExitStatus)
	case ArtifactMissing:
		return fmt.Sprintf("script did not write %s", sandbox.OutputFile)
	case ArtifactMalformed:
		return fmt.Sprintf("%s is not valid JSON: %v", sandbox.OutputFile, e.Cause)
	case NotAList:
		return fmt.Sprintf("%s must contain a JSON list of objects", sandbox.OutputFile)
	case SchemaViolation:
		return fmt.Sprintf("element %d of %s does not match the schema: %v", e.Index, sandbox.OutputFile, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Validate applies the rules in order and stops at the first failure.
// On success it returns the records in artifact order.
func Validate(out *sandbox.Outcome, v *schema.Validator) ([]schema.Record, error) {
	if out.ExitStatus != 0 {
		return nil, &Error{Kind: ExecutionFailed, Output: out.Output, ExitStatus: out.ExitStatus}
	}
	if !out.ArtifactPresent {
		return nil, &Error{Kind: ArtifactMissing, Output: out.Output}
	}
	if out.ArtifactError != "" {
		return nil, &Error{Kind: ArtifactMalformed, Output: out.Output, Cause: fmt.Errorf("%s", out.ArtifactError)}
	}

	items, ok := out.Artifact.([]any)
	if !ok {
		return nil, &Error{Kind: NotAList, Output: out.Output}
	}

	records := make([]schema.Record, 0, len(items))
	for i, item := range items {
		if err := v.ValidateRecord(item); err != nil {
			return nil, &Error{Kind: SchemaViolation, Index: i, Cause: err, Output: out.Output}
		}
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, &Error{Kind: SchemaViolation, Index: i, Cause: fmt.Errorf("expected an object, got %T", item), Output: out.Output}
		}
		records = append(records, rec)
	}
	return records, nil
}

package feedback

import (
	"errors"
	"strings"
	"testing"

	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/tokens"
	"github.com/vincentmin/table-agent/pkg/validate"
)

func newFormatter() *Formatter {
	return &Formatter{Truncator: tokens.Words{}}
}

func TestSuccessIncludesOutputAndPreview(t *testing.T) {
	f := newFormatter()
	records := []schema.Record{
		{"review": "one two three four five six seven eight nine ten eleven twelve", "rating": float64(4)},
	}
	got := f.Success("processed 1 rows\n", records)

	want := "Your script printed the following output:\nprocessed 1 rows\n\n" +
		"Here are the first 1 outputs (1 in total):\n" +
		`{"rating":4,"review":"one two three four five six seven eight nine ten..."}`
	if got != want {
		t.Errorf("Success() =\n%s\nwant\n%s", got, want)
	}
}

func TestSuccessOmitsBlankOutput(t *testing.T) {
	got := newFormatter().Success("  \n", []schema.Record{{"value": "foo"}})
	if strings.Contains(got, "printed") {
		t.Errorf("blank output should be omitted:\n%s", got)
	}
}

func TestSuccessPreviewIsBounded(t *testing.T) {
	records := make([]schema.Record, 8)
	for i := range records {
		records[i] = schema.Record{"i": float64(i)}
	}
	got := newFormatter().Success("", records)

	if !strings.Contains(got, "first 5 outputs (8 in total)") {
		t.Errorf("missing preview header:\n%s", got)
	}
	if strings.Contains(got, `{"i":5}`) {
		t.Errorf("preview shows more than 5 records:\n%s", got)
	}
	if !strings.Contains(got, `{"i":4}`) {
		t.Errorf("preview is missing the fifth record:\n%s", got)
	}
}

func TestSuccessDoesNotMutateRecords(t *testing.T) {
	long := strings.Repeat("word ", 30)
	records := []schema.Record{{"text": long}}
	newFormatter().Success("", records)
	if records[0]["text"] != long {
		t.Error("preview truncation modified the caller's record")
	}
}

func TestFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
		absent   []string
	}{
		{
			name:     "execution failed",
			err:      &validate.Error{Kind: validate.ExecutionFailed, ExitStatus: 1, Output: "KeyError: 'x'"},
			contains: []string{"KeyError: 'x'", "Error (ExecutionFailed)", "status 1"},
		},
		{
			name:     "schema violation names the index",
			err:      &validate.Error{Kind: validate.SchemaViolation, Index: 3, Cause: &schema.Violation{Path: "/rating", Message: "expected integer"}},
			contains: []string{"Error (SchemaViolation)", "element 3", "index 3", "/rating", "expected integer"},
			absent:   []string{"printed"},
		},
		{
			name:     "not a list",
			err:      &validate.Error{Kind: validate.NotAList, Output: "ok"},
			contains: []string{"ok", "Error (NotAList)", "list"},
		},
		{
			name:     "other error",
			err:      errors.New("missing required argument \"script\""),
			contains: []string{"Error: missing required argument"},
		},
	}

	f := newFormatter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Failure(tt.err)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Failure() = %q, missing %q", got, s)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(got, s) {
					t.Errorf("Failure() = %q, should not contain %q", got, s)
				}
			}
		})
	}
}

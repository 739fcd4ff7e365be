// Package feedback renders execution results as bounded text for the model.
package feedback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/tokens"
	"github.com/vincentmin/table-agent/pkg/validate"
)

const (
	DefaultPreviewRecords = 5
	DefaultFieldTokens    = 10
)

// Formatter turns outcomes into tool-result text. The zero value uses the
// defaults and the process-wide truncator.
type Formatter struct {
	Truncator tokens.Truncator
	// PreviewRecords is how many records are echoed back on success.
	PreviewRecords int
	// FieldTokens bounds each string value in the preview.
	FieldTokens int
}

func (f *Formatter) truncator() tokens.Truncator {
	if f.Truncator == nil {
		return tokens.Default()
	}
	return f.Truncator
}

// Success renders the captured output followed by a preview of the records.
func (f *Formatter) Success(output string, records []schema.Record) string {
	n := f.PreviewRecords
	if n <= 0 {
		n = DefaultPreviewRecords
	}
	shown := records
	if len(shown) > n {
		shown = shown[:n]
	}

	var b strings.Builder
	writeOutput(&b, output)
	fmt.Fprintf(&b, "Here are the first %d outputs (%d in total):\n", len(shown), len(records))
	for _, rec := range shown {
		b.WriteString(encode(f.truncateValue(rec)))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Failure renders the captured output, if any, followed by a labeled
// description of what went wrong.
func (f *Formatter) Failure(err error) string {
	var b strings.Builder
	var verr *validate.Error
	if !errors.As(err, &verr) {
		fmt.Fprintf(&b, "Error: %v", err)
		return b.String()
	}

	writeOutput(&b, verr.Output)
	fmt.Fprintf(&b, "Error (%s): %s", verr.Kind, verr.Error())
	switch verr.Kind {
	case validate.ExecutionFailed:
		b.WriteString("\nFix the script so that it runs without errors.")
	case validate.ArtifactMissing, validate.ArtifactMalformed, validate.NotAList:
		b.WriteString("\nThe script must write a JSON list of objects to output.json.")
	case validate.SchemaViolation:
		fmt.Fprintf(&b, "\nThe output at index %d must match the requested format.", verr.Index)
	}
	return b.String()
}

func writeOutput(b *strings.Builder, output string) {
	if strings.TrimSpace(output) == "" {
		return
	}
	fmt.Fprintf(b, "Your script printed the following output:\n%s\n\n", strings.TrimRight(output, "\n"))
}

func (f *Formatter) truncateValue(v any) any {
	limit := f.FieldTokens
	if limit <= 0 {
		limit = DefaultFieldTokens
	}
	switch x := v.(type) {
	case string:
		return f.truncator().Truncate(x, limit)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = f.truncateValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = f.truncateValue(val)
		}
		return out
	}
	return v
}

func encode(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

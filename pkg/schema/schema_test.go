package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func movieSchema() *Schema {
	return &Schema{
		Name: "Movie",
		Fields: []Field{
			{Name: "review", Type: TypeString, Description: "The review text", Required: true},
			{Name: "sentiment", Type: TypeString, Description: "The sentiment of the review", Required: true,
				Enum: []string{"positive", "neutral", "negative"}},
			{Name: "rating", Type: TypeInteger},
		},
	}
}

func TestParseYAML(t *testing.T) {
	data := `
name: Movie
fields:
  - name: review
    type: string
    description: The review text
    required: true
  - name: tags
    type: array
    items:
      name: tag
      type: string
`
	s, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "Movie" || len(s.Fields) != 2 {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if s.Fields[1].Items == nil || s.Fields[1].Items.Type != TypeString {
		t.Errorf("array items not parsed: %+v", s.Fields[1])
	}
}

func TestParseJSON(t *testing.T) {
	s, err := Parse([]byte(`{"name": "Structure", "fields": [{"name": "value", "type": "string", "required": true}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Fields[0].Name != "value" || !s.Fields[0].Required {
		t.Errorf("unexpected field: %+v", s.Fields[0])
	}
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{"missing name", Schema{Fields: []Field{{Name: "a", Type: TypeString}}}},
		{"no fields", Schema{Name: "x"}},
		{"bad field name", Schema{Name: "x", Fields: []Field{{Name: "a b", Type: TypeString}}}},
		{"duplicate field", Schema{Name: "x", Fields: []Field{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeString}}}},
		{"unknown type", Schema{Name: "x", Fields: []Field{{Name: "a", Type: "date"}}}},
		{"array without items", Schema{Name: "x", Fields: []Field{{Name: "a", Type: TypeArray}}}},
		{"enum on integer", Schema{Name: "x", Fields: []Field{{Name: "a", Type: TypeInteger, Enum: []string{"1"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.schema.Validate(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestDescribeIncludesFieldHints(t *testing.T) {
	out := movieSchema().Describe()
	for _, want := range []string{`"title": "Movie"`, `"The review text"`, `"negative"`, `"required"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Describe() missing %s:\n%s", want, out)
		}
	}
}

func TestValidatorAcceptsConformingRecord(t *testing.T) {
	v, err := movieSchema().Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	records := []any{
		map[string]any{"review": "great", "sentiment": "positive", "rating": 5.0},
		map[string]any{"review": "meh", "sentiment": "neutral", "rating": nil},
		map[string]any{"review": "bad", "sentiment": "negative"},
	}
	for i, r := range records {
		if err := v.ValidateRecord(r); err != nil {
			t.Errorf("record %d: unexpected error: %v", i, err)
		}
	}
}

func TestValidatorReportsViolation(t *testing.T) {
	v, err := movieSchema().Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	tests := []struct {
		name     string
		record   any
		wantPath string
	}{
		{"wrong enum", map[string]any{"review": "x", "sentiment": "angry"}, "/sentiment"},
		{"wrong type", map[string]any{"review": 3.0, "sentiment": "positive"}, "/review"},
		{"fractional integer", map[string]any{"review": "x", "sentiment": "positive", "rating": 2.5}, "/rating"},
		{"missing required", map[string]any{"review": "x"}, ""},
		{"not an object", "just a string", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRecord(tt.record)
			if err == nil {
				t.Fatal("expected violation, got nil")
			}
			var viol *Violation
			if !errors.As(err, &viol) {
				t.Fatalf("expected *Violation, got %T: %v", err, err)
			}
			if viol.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q (message %q)", viol.Path, tt.wantPath, viol.Message)
			}
		})
	}
}

type movie struct {
	Review    string `json:"review"`
	Sentiment string `json:"sentiment"`
	Rating    *int   `json:"rating"`
}

func TestDecode(t *testing.T) {
	got, err := Decode[movie]([]Record{
		{"review": "great", "sentiment": "positive", "rating": 5.0},
		{"review": "meh", "sentiment": "neutral"},
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	five := 5
	want := []movie{
		{Review: "great", Sentiment: "positive", Rating: &five},
		{Review: "meh", Sentiment: "neutral"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

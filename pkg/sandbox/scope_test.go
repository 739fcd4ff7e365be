package sandbox

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vincentmin/table-agent/pkg/table"
)

func testTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.New([]table.Column{{Name: "text", Type: table.TypeString}}, [][]any{{"foo"}})
	if err != nil {
		t.Fatalf("table.New: %v", err)
	}
	return tbl
}

func TestScopeWritesInputsAndCleansUp(t *testing.T) {
	s, err := NewScope("print('hi')", testTable(t))
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}

	script, err := os.ReadFile(s.Path(ScriptFile))
	if err != nil {
		t.Fatalf("reading script: %v", err)
	}
	if string(script) != "print('hi')" {
		t.Errorf("script = %q", script)
	}
	if info, err := os.Stat(s.Path(TableFile)); err != nil || info.Size() == 0 {
		t.Errorf("table file missing or empty: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Errorf("scope dir still exists after Close: %v", err)
	}
}

func TestScopeReadArtifact(t *testing.T) {
	s, err := NewScope("", testTable(t))
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	defer s.Close()

	present, _, _, err := s.ReadArtifact()
	if err != nil || present {
		t.Fatalf("missing artifact: present=%v err=%v", present, err)
	}

	if err := os.WriteFile(s.Path(OutputFile), []byte(`[{"value": "foo"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	present, value, parseErr, err := s.ReadArtifact()
	if err != nil || parseErr != nil || !present {
		t.Fatalf("valid artifact: present=%v parseErr=%v err=%v", present, parseErr, err)
	}
	want := []any{map[string]any{"value": "foo"}}
	if diff := cmp.Diff(want, value); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(s.Path(OutputFile), []byte(`[{"value":`), 0o644); err != nil {
		t.Fatal(err)
	}
	present, _, parseErr, err = s.ReadArtifact()
	if err != nil || !present || parseErr == nil {
		t.Fatalf("malformed artifact: present=%v parseErr=%v err=%v", present, parseErr, err)
	}
}

func TestScopeReadArtifactKeepsLargeIntegers(t *testing.T) {
	s, err := NewScope("", testTable(t))
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	defer s.Close()

	if err := os.WriteFile(s.Path(OutputFile), []byte(`[{"id": 9007199254740993, "score": 0.25}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, value, parseErr, err := s.ReadArtifact()
	if err != nil || parseErr != nil {
		t.Fatalf("ReadArtifact: parseErr=%v err=%v", parseErr, err)
	}
	want := []any{map[string]any{"id": json.Number("9007199254740993"), "score": json.Number("0.25")}}
	if diff := cmp.Diff(want, value); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}

	out, err := json.Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `[{"id":9007199254740993,"score":0.25}]` {
		t.Errorf("re-encoded artifact = %s", out)
	}
}

func TestScopeReadArtifactRejectsTrailingData(t *testing.T) {
	s, err := NewScope("", testTable(t))
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}
	defer s.Close()

	if err := os.WriteFile(s.Path(OutputFile), []byte(`[] []`), 0o644); err != nil {
		t.Fatal(err)
	}
	present, _, parseErr, err := s.ReadArtifact()
	if err != nil || !present || parseErr == nil {
		t.Fatalf("trailing data: present=%v parseErr=%v err=%v", present, parseErr, err)
	}
}

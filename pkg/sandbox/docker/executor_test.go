package docker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vincentmin/table-agent/pkg/sandbox"
	"github.com/vincentmin/table-agent/pkg/table"
	"github.com/vincentmin/table-agent/pkg/tokens"
)

func reviewTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.New([]table.Column{{Name: "review", Type: table.TypeString}}, [][]any{{"great"}, {"awful"}})
	if err != nil {
		t.Fatalf("table.New: %v", err)
	}
	return tbl
}

func newTestExecutor(t *testing.T, eng *fakeEngine, opts Options) sandbox.Executor {
	t.Helper()
	if opts.Truncator == nil {
		opts.Truncator = tokens.Words{}
	}
	m := newManager(eng, opts)
	ex, err := m.Executor(context.Background(), "")
	if err != nil {
		t.Fatalf("Executor: %v", err)
	}
	return ex
}

func TestExecutorSuccess(t *testing.T) {
	eng := newFakeEngine()
	eng.behavior = func(dir string) fakeRun {
		script, _ := os.ReadFile(filepath.Join(dir, sandbox.ScriptFile))
		if string(script) != "print('hi')" {
			return fakeRun{status: 2, logs: "wrong script"}
		}
		if _, err := os.Stat(filepath.Join(dir, sandbox.TableFile)); err != nil {
			return fakeRun{status: 2, logs: "missing table"}
		}
		os.WriteFile(filepath.Join(dir, sandbox.OutputFile), []byte(`[{"sentiment":"positive"}]`), 0o644)
		return fakeRun{logs: "hi\n"}
	}
	ex := newTestExecutor(t, eng, Options{})

	out, err := ex.Execute(context.Background(), "print('hi')", reviewTable(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := &sandbox.Outcome{
		ExitStatus:      0,
		Output:          "hi\n",
		ArtifactPresent: true,
		Artifact:        []any{map[string]any{"sentiment": "positive"}},
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}

	if !eng.config.NetworkDisabled {
		t.Error("container was created with networking enabled")
	}
	if diff := cmp.Diff([]string{"python", "/workspace/script.py"}, []string(eng.config.Cmd)); diff != "" {
		t.Errorf("cmd mismatch (-want +got):\n%s", diff)
	}
	if eng.config.Image != ImageTag(DefaultDockerfile) {
		t.Errorf("image = %s", eng.config.Image)
	}
	assertTornDown(t, eng)
}

func TestExecutorNonZeroExit(t *testing.T) {
	eng := newFakeEngine()
	eng.behavior = func(string) fakeRun {
		return fakeRun{status: 1, logs: "Traceback (most recent call last):\nKeyError: 'x'\n"}
	}
	ex := newTestExecutor(t, eng, Options{})

	out, err := ex.Execute(context.Background(), "boom", reviewTable(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.ExitStatus != 1 || out.ArtifactPresent {
		t.Errorf("outcome = %+v", out)
	}
	if !strings.Contains(out.Output, "KeyError") {
		t.Errorf("output %q missing traceback", out.Output)
	}
	assertTornDown(t, eng)
}

func TestExecutorMalformedArtifact(t *testing.T) {
	eng := newFakeEngine()
	eng.behavior = func(dir string) fakeRun {
		os.WriteFile(filepath.Join(dir, sandbox.OutputFile), []byte("not json"), 0o644)
		return fakeRun{}
	}
	ex := newTestExecutor(t, eng, Options{})

	out, err := ex.Execute(context.Background(), "", reviewTable(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.ArtifactPresent || out.ArtifactError == "" || out.Artifact != nil {
		t.Errorf("outcome = %+v", out)
	}
}

func TestExecutorTruncatesOutput(t *testing.T) {
	eng := newFakeEngine()
	eng.behavior = func(string) fakeRun {
		return fakeRun{logs: "one two three four five six"}
	}
	ex := newTestExecutor(t, eng, Options{OutputTokenBudget: 3})

	out, err := ex.Execute(context.Background(), "", reviewTable(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Output != "one two three"+tokens.Ellipsis {
		t.Errorf("output = %q", out.Output)
	}
}

func TestExecutorTimeout(t *testing.T) {
	eng := newFakeEngine()
	eng.behavior = func(string) fakeRun { return fakeRun{hang: true, logs: "working"} }
	ex := newTestExecutor(t, eng, Options{Timeout: 50 * time.Millisecond})

	out, err := ex.Execute(context.Background(), "while True: pass", reviewTable(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.ExitStatus != sandbox.ExitTimedOut {
		t.Errorf("exit status = %d, want %d", out.ExitStatus, sandbox.ExitTimedOut)
	}
	if !strings.Contains(out.Output, "timed out") {
		t.Errorf("output %q does not mention the timeout", out.Output)
	}
	assertTornDown(t, eng)
}

func TestExecutorCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := newFakeEngine()
	eng.behavior = func(string) fakeRun {
		cancel()
		return fakeRun{hang: true}
	}
	ex := newTestExecutor(t, eng, Options{Timeout: time.Minute})

	_, err := ex.Execute(ctx, "", reviewTable(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	assertTornDown(t, eng)
}

func TestExecutorCreateFailureCleansScope(t *testing.T) {
	eng := newFakeEngine()
	eng.createErr = errors.New("daemon unavailable")
	ex := newTestExecutor(t, eng, Options{})

	if _, err := ex.Execute(context.Background(), "", reviewTable(t)); err == nil {
		t.Fatal("expected error")
	}
	if len(eng.removed) != 0 {
		t.Errorf("removed %v, want nothing", eng.removed)
	}
}

func assertTornDown(t *testing.T, eng *fakeEngine) {
	t.Helper()
	if diff := cmp.Diff([]string{"c1"}, eng.removed); diff != "" {
		t.Errorf("removed containers mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(eng.dir); !os.IsNotExist(err) {
		t.Errorf("scope %s still exists: %v", eng.dir, err)
	}
}

func TestExecutorCapsOversizedOutput(t *testing.T) {
	eng := newFakeEngine()
	eng.behavior = func(string) fakeRun {
		return fakeRun{logs: strings.Repeat("spam ", 200_000)}
	}
	ex := newTestExecutor(t, eng, Options{OutputTokenBudget: 50, MaxOutputBytes: 1024})

	out, err := ex.Execute(context.Background(), "while True: print('spam')", reviewTable(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Output) > 1024 {
		t.Errorf("output is %d bytes, want at most 1024", len(out.Output))
	}
	if !strings.HasPrefix(out.Output, "spam spam") || !strings.HasSuffix(out.Output, tokens.Ellipsis) {
		t.Errorf("output = %q", out.Output)
	}
	assertTornDown(t, eng)
}

func TestCappedWriter(t *testing.T) {
	w := &cappedWriter{max: 8}
	if n, err := w.Write([]byte("hello")); n != 5 || err != nil {
		t.Fatalf("first write = %d, %v", n, err)
	}
	n, err := w.Write([]byte(" world"))
	if n != 3 || !errors.Is(err, errOutputLimit) {
		t.Fatalf("second write = %d, %v", n, err)
	}
	if w.buf.String() != "hello wo" || !w.full {
		t.Errorf("buffer = %q full=%v", w.buf.String(), w.full)
	}
}

package docker_test

import (
	"context"
	"testing"
	"time"

	"github.com/vincentmin/table-agent/pkg/sandbox/docker"
	"github.com/vincentmin/table-agent/pkg/table"
)

func TestIntegrationDockerExecute(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	mgr, err := docker.New(docker.Options{Timeout: time.Minute})
	if err != nil {
		t.Skipf("Skipping test: Docker not available: %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ex, err := mgr.Executor(ctx, "")
	if err != nil {
		t.Skipf("Skipping test: could not provision sandbox image: %v", err)
	}

	tbl, err := table.New([]table.Column{{Name: "text", Type: table.TypeString}}, [][]any{{"foo"}, {"bar"}})
	if err != nil {
		t.Fatal(err)
	}

	script := `import json
import pandas as pd
df = pd.read_parquet("table.parquet")
print(len(df))
json.dump([{"value": v} for v in df["text"]], open("output.json", "w"))
`
	out, err := ex.Execute(ctx, script, tbl)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	t.Logf("Outcome: %+v", out)
	if out.ExitStatus != 0 {
		t.Fatalf("exit status %d: %s", out.ExitStatus, out.Output)
	}
	records, ok := out.Artifact.([]any)
	if !ok || len(records) != 2 {
		t.Errorf("artifact = %#v", out.Artifact)
	}
}

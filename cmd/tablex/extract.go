package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vincentmin/table-agent/pkg/config"
	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/extract"
	"github.com/vincentmin/table-agent/pkg/runner"
	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/store"
	"github.com/vincentmin/table-agent/pkg/table"
	"github.com/vincentmin/table-agent/pkg/tokens"
)

var extractFlags struct {
	table            string
	schema           string
	provider         string
	model            string
	dockerfile       string
	turnLimit        int
	systemPromptFile string
	prompt           string
	out              string
	tui              bool
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract records from a CSV table following a schema",
	Args:  cobra.NoArgs,
	RunE:  runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlags.table, "table", "", "CSV file with a header row (required)")
	f.StringVar(&extractFlags.schema, "schema", "", "YAML or JSON schema file (required)")
	f.StringVar(&extractFlags.provider, "provider", "", "Model provider: gemini, openai or scripted")
	f.StringVar(&extractFlags.model, "model", "", "Model name")
	f.StringVar(&extractFlags.dockerfile, "dockerfile", "", "Dockerfile for the sandbox environment")
	f.IntVar(&extractFlags.turnLimit, "turn-limit", 0, "Maximum number of model calls")
	f.StringVar(&extractFlags.systemPromptFile, "system-prompt-file", "", "Template overriding the system prompt")
	f.StringVar(&extractFlags.prompt, "prompt", "", "User prompt")
	f.StringVarP(&extractFlags.out, "out", "o", "", "Write records to this file instead of stdout")
	f.BoolVar(&extractFlags.tui, "tui", false, "Show an interactive progress view")
	extractCmd.MarkFlagRequired("table")
	extractCmd.MarkFlagRequired("schema")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	applyExtractFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if extractFlags.tui {
		if err := logToFile("tablex.log"); err != nil {
			return err
		}
	}

	tbl, err := loadTable(extractFlags.table)
	if err != nil {
		return err
	}
	sch, err := schema.Load(extractFlags.schema)
	if err != nil {
		return err
	}
	systemPrompt, err := readOptionalFile(extractFlags.systemPromptFile)
	if err != nil {
		return fmt.Errorf("reading system prompt: %w", err)
	}
	dockerfile, err := readDockerfile(cfg.Sandbox.DockerfilePath)
	if err != nil {
		return err
	}

	provider, modelName, err := newProvider(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	truncator := tokens.Default()
	if t, err := tokens.NewTiktoken(modelName); err == nil {
		truncator = t
	}
	sb, err := newSandbox(cfg, truncator)
	if err != nil {
		return err
	}
	defer sb.Close()

	runs, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	opts := extract.Options{
		Model:        provider,
		ModelName:    modelName,
		SystemPrompt: systemPrompt,
		UserPrompt:   extractFlags.prompt,
		PreviewRows:  cfg.Run.PreviewRows,
		Sandbox:      sb,
		Dockerfile:   dockerfile,
		TurnLimit:    cfg.Run.TurnLimit,
		Formatter:    newFormatter(cfg, truncator),
		RunID:        uuid.New().String(),
	}
	if runs != nil {
		run := &store.Run{
			ID:         opts.RunID,
			Provider:   provider.Name(),
			Model:      modelName,
			SchemaName: sch.Name,
			Rows:       tbl.NumRows(),
		}
		if err := runs.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
		opts.Observers = append(opts.Observers, store.Recorder{Store: runs})
	}

	var res *extract.Result
	if extractFlags.tui {
		res, err = runWithProgressView(ctx, tbl, sch, opts)
	} else {
		opts.Observers = append(opts.Observers, runner.ObserverFunc(printProgress))
		res, err = extract.Extract(ctx, tbl, sch, opts)
	}

	if runs != nil {
		var result *store.RunResult
		if err == nil {
			result = &store.RunResult{Response: res.Response, Script: res.Script, Outputs: res.Outputs, Turns: res.Turns}
		}
		if cerr := store.Complete(context.WithoutCancel(ctx), runs, opts.RunID, result, err); cerr != nil {
			slog.Warn("Failed to record run outcome", "runID", opts.RunID, "error", cerr)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, res.Response)
	return writeRecords(res.Outputs, extractFlags.out)
}

// applyExtractFlags layers command-line overrides on the loaded config.
// API keys are resolved afterwards from the final provider.
func applyExtractFlags(c *config.Config) {
	if extractFlags.provider != "" {
		c.LLM.Provider = extractFlags.provider
	}
	if extractFlags.model != "" {
		c.LLM.Model = extractFlags.model
	}
	if extractFlags.turnLimit > 0 {
		c.Run.TurnLimit = extractFlags.turnLimit
	}
	if extractFlags.dockerfile != "" {
		c.Sandbox.DockerfilePath = extractFlags.dockerfile
	}
}

func loadTable(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening table: %w", err)
	}
	defer f.Close()
	tbl, err := table.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return tbl, nil
}

func writeRecords(records []schema.Record, path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		if err := encodeRecords(f, records); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing output file: %w", err)
		}
		return nil
	}
	return encodeRecords(w, records)
}

func encodeRecords(w io.Writer, records []schema.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	return nil
}

// printProgress reports turns on stderr so stdout stays clean for records.
func printProgress(runID string, turn conversation.Turn) {
	switch turn.Kind {
	case conversation.KindModel:
		for _, call := range turn.ToolCalls {
			fmt.Fprintln(os.Stderr, senderStyle.Render("model")+" calls "+call.Name)
		}
	case conversation.KindToolResult:
		if turn.ToolResult == nil {
			return
		}
		if turn.ToolResult.Artifact != nil {
			fmt.Fprintf(os.Stderr, "%s %d records validated\n", okStyle.Render("tool"), len(turn.ToolResult.Artifact.Records))
		} else {
			fmt.Fprintln(os.Stderr, errorStyle.Render("tool")+" execution rejected, feeding back")
		}
	}
}

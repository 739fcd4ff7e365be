package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored extraction runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := requireStore()
		if err != nil {
			return err
		}
		defer runs.Close()

		list, err := runs.ListRuns(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		fmt.Println(renderRunTable(list))
		return nil
	},
}

var showTurns bool

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run's result and, optionally, its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := requireStore()
		if err != nil {
			return err
		}
		defer runs.Close()

		run, err := runs.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(titleStyle.Render("Run " + run.ID))
		fmt.Printf("status: %s\nmodel:  %s/%s\nschema: %s (%d rows)\n", statusStyle(run.Status), run.Provider, run.Model, run.SchemaName, run.Rows)
		if run.Error != "" {
			fmt.Println(errorStyle.Render("error: " + run.Error))
		}

		r := newRenderer(80)
		if run.Result != nil {
			fmt.Println()
			fmt.Println(renderMarkdown(r, run.Result.Response))
			fmt.Println(renderMarkdown(r, "```python\n"+run.Result.Script+"\n```"))
			out, _ := json.MarshalIndent(run.Result.Outputs, "", "  ")
			fmt.Println(string(out))
		}

		if showTurns {
			turns, err := runs.GetTurns(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Print(renderTranscript(r, turns))
		}
		return nil
	},
}

func init() {
	runsShowCmd.Flags().BoolVar(&showTurns, "turns", false, "Also print every turn of the conversation")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func requireStore() (store.RunStore, error) {
	runs, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		return nil, fmt.Errorf("run storage is disabled (store.driver: none)")
	}
	return runs, nil
}

func renderRunTable(list []store.Run) string {
	rows := make([][]string, 0, len(list))
	for _, r := range list {
		records := "-"
		if r.Result != nil {
			records = strconv.Itoa(len(r.Result.Outputs))
		}
		rows = append(rows, []string{
			r.ID, string(r.Status), r.Model, r.SchemaName, records,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "MODEL", "SCHEMA", "RECORDS", "CREATED").
		Rows(rows...).
		String()
}

func newRenderer(width int) *glamour.TermRenderer {
	// A fixed style avoids terminal queries that leak into input.
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

func renderMarkdown(r *glamour.TermRenderer, text string) string {
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// renderTranscript formats turns the way the progress view shows them.
func renderTranscript(r *glamour.TermRenderer, turns []conversation.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		switch t.Kind {
		case conversation.KindSystem:
			sb.WriteString(dimStyle.Render("System: "))
			sb.WriteString("\n")
			sb.WriteString(dimStyle.Render(t.Text))
		case conversation.KindUser:
			sb.WriteString(userStyle.Render("User: "))
			sb.WriteString("\n")
			sb.WriteString(t.Text)
		case conversation.KindModel:
			sb.WriteString(senderStyle.Render("Model: "))
			sb.WriteString("\n")
			if t.Text != "" {
				sb.WriteString(renderMarkdown(r, t.Text))
				sb.WriteString("\n")
			}
			for _, call := range t.ToolCalls {
				content := fmt.Sprintf("[Tool Usage: %s]", call.Name)
				if script, ok := call.Args["script"].(string); ok {
					content += "\n\n" + renderMarkdown(r, "```python\n"+script+"\n```")
				}
				sb.WriteString(content)
				sb.WriteString("\n")
			}
		case conversation.KindToolResult:
			if t.ToolResult == nil {
				continue
			}
			status := okStyle.Render("[Success]")
			if t.ToolResult.Artifact == nil {
				status = errorStyle.Render("[Rejected]")
			}
			sb.WriteString(status)
			sb.WriteString("\n")
			sb.WriteString(t.ToolResult.Content)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func statusStyle(s store.Status) string {
	switch s {
	case store.StatusSucceeded:
		return okStyle.Render(string(s))
	case store.StatusFailed:
		return errorStyle.Render(string(s))
	}
	return string(s)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by the configured provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _, err := newProvider(cmd.Context(), cfg.LLM)
		if err != nil {
			return err
		}
		list, err := provider.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, m := range list {
			fmt.Fprintln(os.Stdout, m.Name)
		}
		return nil
	},
}

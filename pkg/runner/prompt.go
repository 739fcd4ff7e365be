package runner

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/vincentmin/table-agent/pkg/schema"
	"github.com/vincentmin/table-agent/pkg/table"
)

const DefaultUserPrompt = "Extract data from table"

// DefaultSystemPrompt is rendered with .Schema and .Preview.
const DefaultSystemPrompt = `Your job is to extract data from a table by writing a python script.
The python script must read the table as a pandas dataframe from ` + "`table.parquet`" + `.
Then write code that parses each row of the dataframe into a json with the following format:
{{.Schema}}
The script should write the parsed jsons to a file called ` + "`output.json`" + `.
Make sure that ` + "`output.json`" + ` is a list of jsons that comply with the above format.
Here follow the first {{.Rows}} lines of the dataframe you need to act on:
{{.Preview}}`

// RenderSystemPrompt fills tmpl (DefaultSystemPrompt if empty) with the
// schema description and a preview of the first rows of tbl.
func RenderSystemPrompt(tmpl string, s *schema.Schema, tbl *table.Table, rows int) (string, error) {
	if tmpl == "" {
		tmpl = DefaultSystemPrompt
	}
	if rows <= 0 {
		rows = table.DefaultPreviewRows
	}
	t, err := template.New("system").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing system prompt: %w", err)
	}

	var b strings.Builder
	err = t.Execute(&b, struct {
		Schema  string
		Preview string
		Rows    int
	}{
		Schema:  s.Describe(),
		Preview: tbl.Preview(rows),
		Rows:    rows,
	})
	if err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return b.String(), nil
}

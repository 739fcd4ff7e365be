// Package table holds the rectangular dataset an extraction runs against.
//
// A Table is immutable once constructed: accessors return copies, and the
// sandbox only ever receives a serialized snapshot of it.
package table

import (
	"fmt"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

// DefaultPreviewRows is the number of rows shown to the model in the system prompt.
const DefaultPreviewRows = 5

// ColumnType is the logical type of a column.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeBool   ColumnType = "bool"
)

// Column describes one column of a Table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table is an in-memory rectangular dataset. Cells hold string, int64,
// float64, bool or nil (missing).
type Table struct {
	columns []Column
	rows    [][]any
}

// New validates the columns and rows and returns a Table that owns a copy of them.
func New(columns []Column, rows [][]any) (*Table, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("table must have at least one column")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column name must not be empty")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeString, TypeInt, TypeFloat, TypeBool:
		default:
			return nil, fmt.Errorf("column %q: unsupported type %q", c.Name, c.Type)
		}
	}

	t := &Table{
		columns: append([]Column(nil), columns...),
		rows:    make([][]any, 0, len(rows)),
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d: got %d cells, want %d", i, len(row), len(columns))
		}
		normalized := make([]any, len(row))
		for j, v := range row {
			cell, err := normalize(columns[j].Type, v)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %q: %w", i, columns[j].Name, err)
			}
			normalized[j] = cell
		}
		t.rows = append(t.rows, normalized)
	}
	return t, nil
}

// normalize coerces Go numeric kinds into the canonical cell representation.
func normalize(typ ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			// JSON numbers decode as float64.
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) is not a valid %s", v, v, typ)
}

// Columns returns a copy of the column descriptors.
func (t *Table) Columns() []Column {
	return append([]Column(nil), t.columns...)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.rows) }

// Row returns a copy of row i.
func (t *Table) Row(i int) []any {
	return append([]any(nil), t.rows[i]...)
}

// Head returns a table holding at most the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 {
		n = 0
	}
	if n > len(t.rows) {
		n = len(t.rows)
	}
	return &Table{columns: t.columns, rows: t.rows[:n:n]}
}

// Preview renders the first n rows as a text grid with a leading row index,
// the way a dataframe prints its head.
func (t *Table) Preview(n int) string {
	head := t.Head(n)

	headers := make([]string, 0, len(t.columns)+1)
	headers = append(headers, "")
	for _, c := range t.columns {
		headers = append(headers, c.Name)
	}

	grid := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
	for i, row := range head.rows {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, strconv.Itoa(i))
		for _, v := range row {
			cells = append(cells, FormatCell(v))
		}
		grid.Row(cells...)
	}
	return grid.String()
}

// FormatCell renders a single cell value for display.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}

package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadCSV loads a table from CSV data with a header row. Column types are
// inferred: int if every non-empty cell parses as an integer, then float,
// then bool, otherwise string. Empty cells become nil.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header row")
	}

	header := records[0]
	body := records[1:]

	columns := make([]Column, len(header))
	for j, name := range header {
		columns[j] = Column{Name: strings.TrimSpace(name), Type: inferType(body, j)}
	}

	rows := make([][]any, len(body))
	for i, rec := range body {
		row := make([]any, len(header))
		for j := range header {
			if j >= len(rec) {
				continue
			}
			row[j] = parseCell(columns[j].Type, rec[j])
		}
		rows[i] = row
	}
	return New(columns, rows)
}

func inferType(records [][]string, col int) ColumnType {
	isInt, isFloat, isBool := true, true, true
	nonEmpty := 0
	for _, rec := range records {
		if col >= len(rec) || rec[col] == "" {
			continue
		}
		nonEmpty++
		s := rec[col]
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			isFloat = false
		}
		if _, err := strconv.ParseBool(s); err != nil {
			isBool = false
		}
	}
	switch {
	case nonEmpty == 0:
		return TypeString
	case isInt:
		return TypeInt
	case isFloat:
		return TypeFloat
	case isBool:
		return TypeBool
	default:
		return TypeString
	}
}

func parseCell(typ ColumnType, s string) any {
	if s == "" {
		return nil
	}
	switch typ {
	case TypeInt:
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	case TypeFloat:
		f, _ := strconv.ParseFloat(s, 64)
		return f
	case TypeBool:
		b, _ := strconv.ParseBool(s)
		return b
	default:
		return s
	}
}

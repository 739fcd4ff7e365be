package table

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// FileName is the name the sandbox expects the serialized table under.
const FileName = "table.parquet"

// parquetSchema builds an all-optional schema so missing cells round-trip as nulls.
func (t *Table) parquetSchema() *parquet.Schema {
	group := make(parquet.Group, len(t.columns))
	for _, c := range t.columns {
		var leaf parquet.Node
		switch c.Type {
		case TypeInt:
			leaf = parquet.Int(64)
		case TypeFloat:
			leaf = parquet.Leaf(parquet.DoubleType)
		case TypeBool:
			leaf = parquet.Leaf(parquet.BooleanType)
		default:
			leaf = parquet.String()
		}
		group[c.Name] = parquet.Optional(leaf)
	}
	return parquet.NewSchema("table", group)
}

// WriteParquet serializes the table to w in Parquet format.
func (t *Table) WriteParquet(w io.Writer) error {
	schema := t.parquetSchema()

	// Group fields are ordered by name, so resolve each column's leaf index.
	indexes := make([]int, len(t.columns))
	for i, c := range t.columns {
		leaf, ok := schema.Lookup(c.Name)
		if !ok {
			return fmt.Errorf("column %q missing from parquet schema", c.Name)
		}
		indexes[i] = leaf.ColumnIndex
	}

	pw := parquet.NewWriter(w, schema)
	rows := make([]parquet.Row, 0, len(t.rows))
	for _, r := range t.rows {
		row := make(parquet.Row, len(t.columns))
		for i, v := range r {
			idx := indexes[i]
			if v == nil {
				row[idx] = parquet.NullValue().Level(0, 0, idx)
				continue
			}
			row[idx] = parquet.ValueOf(v).Level(0, 1, idx)
		}
		rows = append(rows, row)
	}
	if _, err := pw.WriteRows(rows); err != nil {
		pw.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

// Package table defines the minimal structural contract OrcaPod needs from
// a columnar table, plus MemTable, a slice-backed reference implementation
// used by stream.ImmutableTableStream and by this repo's own tests. Concrete
// on-disk table formats (Arrow, Parquet, a database-backed Table) are an
// external collaborator concern and plug in behind the same two interfaces.
package table

import (
	"fmt"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/typespec"
)

// Schema is an ordered columnar schema.
type Schema []typespec.ColumnSchema

// Names returns the schema's column names in declaration order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Table is the read contract a stream needs from a materialized table.
type Table interface {
	Schema() Schema
	NumRows() int
	Column(name string) (Column, bool)
}

// Column is a single table column's read contract.
type Column interface {
	At(row int) any
}

// sliceColumn is a Column backed by a plain Go slice.
type sliceColumn struct {
	values []any
}

func (c *sliceColumn) At(row int) any {
	return c.values[row]
}

// MemTable is a columnar, slice-backed, in-memory Table.
type MemTable struct {
	schema  Schema
	columns map[string]*sliceColumn
	numRows int
}

// Schema returns the table's column schema.
func (t *MemTable) Schema() Schema {
	return t.schema
}

// NumRows returns the table's row count.
func (t *MemTable) NumRows() int {
	return t.numRows
}

// Column returns the named column and whether it exists.
func (t *MemTable) Column(name string) (Column, bool) {
	c, ok := t.columns[name]
	return c, ok
}

// Builder constructs a MemTable incrementally, either row-at-a-time via
// AddRow or column-at-a-time via SetColumn.
type Builder struct {
	schema  Schema
	columns map[string][]any
	numRows int
}

// NewBuilder starts a Builder for the given schema.
func NewBuilder(schema Schema) *Builder {
	columns := make(map[string][]any, len(schema))
	for _, c := range schema {
		columns[c.Name] = nil
	}
	return &Builder{schema: schema, columns: columns}
}

// AddRow appends one row. row must contain every schema column; keys not in
// the schema are ignored.
func (b *Builder) AddRow(row map[string]any) error {
	for _, c := range b.schema {
		v, ok := row[c.Name]
		if !ok {
			return orcaerr.Missing("table.Builder.AddRow", fmt.Sprintf("row missing column %q", c.Name))
		}
		b.columns[c.Name] = append(b.columns[c.Name], v)
	}
	b.numRows++
	return nil
}

// SetColumn overwrites an entire column's values. len(values) must match
// every other column already populated via AddRow or SetColumn.
func (b *Builder) SetColumn(name string, values []any) error {
	found := false
	for _, c := range b.schema {
		if c.Name == name {
			found = true
			break
		}
	}
	if !found {
		return orcaerr.Missing("table.Builder.SetColumn", fmt.Sprintf("column %q not in schema", name))
	}
	if b.numRows != 0 && len(values) != b.numRows {
		return orcaerr.Schema("table.Builder.SetColumn", fmt.Sprintf("column %q has %d rows, table has %d", name, len(values), b.numRows))
	}
	b.columns[name] = values
	if b.numRows == 0 {
		b.numRows = len(values)
	}
	return nil
}

// Build finalizes the MemTable. Every schema column must have exactly
// NumRows values.
func (b *Builder) Build() (*MemTable, error) {
	columns := make(map[string]*sliceColumn, len(b.schema))
	for _, c := range b.schema {
		values := b.columns[c.Name]
		if len(values) != b.numRows {
			return nil, orcaerr.Schema("table.Builder.Build", fmt.Sprintf("column %q has %d values, want %d", c.Name, len(values), b.numRows))
		}
		columns[c.Name] = &sliceColumn{values: values}
	}
	return &MemTable{schema: b.schema, columns: columns, numRows: b.numRows}, nil
}

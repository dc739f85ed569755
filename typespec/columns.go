package typespec

import (
	"fmt"

	"github.com/brianarnold/orcapod/orcaerr"
)

// ColumnSchema names one column of an external columnar table and its
// logical type, the unit table.Schema is built from.
type ColumnSchema struct {
	Name string
	Kind Kind
}

// FromColumns converts an external columnar schema into a TypeSpec. It
// rejects a column whose Kind falls outside the supported set with
// orcaerr.UnsupportedType; Kind values are already constrained to the
// package's const block, so this mainly guards zero-value/out-of-range
// kinds arriving from a hand-built table.Schema.
func FromColumns(cols []ColumnSchema) (TypeSpec, error) {
	fields := make([]Field, 0, len(cols))
	for _, c := range cols {
		if c.Kind < Bool || c.Kind > Path {
			return TypeSpec{}, orcaerr.Unsupported("typespec.FromColumns", fmt.Sprintf("column %q has unsupported kind %d", c.Name, c.Kind))
		}
		fields = append(fields, Field{Name: c.Name, Kind: c.Kind})
	}
	return New(fields...)
}

// ToColumns converts a TypeSpec back to an ordered columnar schema, the
// inverse used when materializing a stream to a table.
func ToColumns(t TypeSpec) []ColumnSchema {
	out := make([]ColumnSchema, t.Len())
	for i, f := range t.fields {
		out[i] = ColumnSchema{Name: f.Name, Kind: f.Kind}
	}
	return out
}

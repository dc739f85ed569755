// Package stream implements OrcaPod's Stream abstraction (spec §4.4): a
// restartable, lazily evaluated sequence of (tag, packet) records with a
// fixed tag/packet schema, plus materialization into a table.Table.
package stream

import (
	"fmt"
	"iter"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/record"
	"github.com/brianarnold/orcapod/table"
	"github.com/brianarnold/orcapod/typespec"
)

// Stream is a restartable sequence of records sharing one tag schema and
// one packet schema. Every call to Iter starts a fresh traversal from the
// beginning; implementations must not require callers to drain Iter before
// calling it again.
type Stream interface {
	Iter() iter.Seq2[record.Pair, error]
	Flow() ([]record.Pair, error)
	TagSchema() typespec.TypeSpec
	PacketSchema() typespec.TypeSpec
	AsTable(opts AsTableOptions) (table.Table, error)
}

// AsTableOptions controls which system columns AsTable adds alongside a
// stream's own tag and packet fields (spec §4.4).
type AsTableOptions struct {
	// IncludeSource adds one "_source_<field>" column per packet field,
	// holding that field's record.SourceInfo.
	IncludeSource bool

	// ContentHashColumn names the column holding each row's packet content
	// hash. Empty disables the column; the conventional default is
	// "_content_hash".
	ContentHashColumn string

	// IncludeDataContext adds a "_context_key" column holding each row's
	// record.DataContext.ContextKey().
	IncludeDataContext bool
}

// Flow drains s.Iter into a slice, stopping at the first error.
func Flow(s Stream) ([]record.Pair, error) {
	var out []record.Pair
	for pair, err := range s.Iter() {
		if err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, nil
}

// AsTable is the shared AsTableOptions-driven materialization used by every
// Stream implementation in this package: it drains the stream and builds a
// table.MemTable from the resulting rows.
func AsTable(s Stream, opts AsTableOptions) (table.Table, error) {
	pairs, err := s.Flow()
	if err != nil {
		return nil, err
	}

	schema := table.Schema(typespec.ToColumns(s.TagSchema()))
	schema = append(schema, typespec.ToColumns(s.PacketSchema())...)
	if opts.IncludeSource {
		for _, name := range s.PacketSchema().Names() {
			schema = append(schema, typespec.ColumnSchema{Name: "_source_" + name, Kind: typespec.String})
		}
	}
	if opts.ContentHashColumn != "" {
		schema = append(schema, typespec.ColumnSchema{Name: opts.ContentHashColumn, Kind: typespec.String})
	}
	if opts.IncludeDataContext {
		schema = append(schema, typespec.ColumnSchema{Name: "_context_key", Kind: typespec.String})
	}

	b := table.NewBuilder(schema)
	for _, pair := range pairs {
		row := make(map[string]any, len(schema))
		for k, v := range pair.Tag.AsRow() {
			row[k] = v
		}
		for k, v := range pair.Packet.AsRow() {
			row[k] = v
		}
		if opts.IncludeSource {
			for _, name := range s.PacketSchema().Names() {
				si, _ := pair.Packet.SourceInfoOf(name)
				row["_source_"+name] = fmt.Sprintf("%+v", si)
			}
		}
		if opts.ContentHashColumn != "" {
			row[opts.ContentHashColumn] = pair.Packet.ContentHash().String()
		}
		if opts.IncludeDataContext {
			row["_context_key"] = pair.Packet.DataContext().ContextKey()
		}
		if err := b.AddRow(row); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// sliceStream is a restartable in-memory Stream over a fixed slice of
// records, returned by FromSlice.
type sliceStream struct {
	pairs        []record.Pair
	tagSchema    typespec.TypeSpec
	packetSchema typespec.TypeSpec
}

// FromSlice builds a Stream directly from already-materialized records.
// Derived streams produced by operators and pods are not always backed by
// a table.Table; this is the lazy-but-already-resolved case.
func FromSlice(pairs []record.Pair, tagSpec, packetSpec typespec.TypeSpec) Stream {
	cp := make([]record.Pair, len(pairs))
	copy(cp, pairs)
	return &sliceStream{pairs: cp, tagSchema: tagSpec, packetSchema: packetSpec}
}

func (s *sliceStream) Iter() iter.Seq2[record.Pair, error] {
	return func(yield func(record.Pair, error) bool) {
		for _, p := range s.pairs {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (s *sliceStream) Flow() ([]record.Pair, error) {
	return Flow(s)
}

func (s *sliceStream) TagSchema() typespec.TypeSpec {
	return s.tagSchema
}

func (s *sliceStream) PacketSchema() typespec.TypeSpec {
	return s.packetSchema
}

func (s *sliceStream) AsTable(opts AsTableOptions) (table.Table, error) {
	return AsTable(s, opts)
}

// ImmutableTableStream is the concrete table-backed Stream of spec §4.4: a
// fixed table.Table split into tag columns and packet columns.
type ImmutableTableStream struct {
	t            table.Table
	tagColumns   []string
	tagSchema    typespec.TypeSpec
	packetSchema typespec.TypeSpec
}

// NewImmutableTableStream wraps t, treating tagColumns as the tag fields and
// every other column as the packet. It validates that every tag column
// exists in t's schema, every column kind is supported, and every tag
// column's kind is hashable (Binary and Path are rejected as tag columns).
func NewImmutableTableStream(t table.Table, tagColumns []string) (*ImmutableTableStream, error) {
	schema := t.Schema()
	kindOf := make(map[string]typespec.Kind, len(schema))
	for _, c := range schema {
		if c.Kind < typespec.Bool || c.Kind > typespec.Path {
			return nil, orcaerr.Unsupported("stream.NewImmutableTableStream", fmt.Sprintf("column %q has unsupported kind %d", c.Name, c.Kind))
		}
		kindOf[c.Name] = c.Kind
	}

	isTag := make(map[string]bool, len(tagColumns))
	tagFields := make([]typespec.Field, 0, len(tagColumns))
	for _, name := range tagColumns {
		kind, ok := kindOf[name]
		if !ok {
			return nil, orcaerr.Missing("stream.NewImmutableTableStream", fmt.Sprintf("tag column %q not found in table schema", name))
		}
		if !kind.Hashable() {
			return nil, orcaerr.Unsupported("stream.NewImmutableTableStream", fmt.Sprintf("tag column %q has non-hashable kind %s", name, kind))
		}
		isTag[name] = true
		tagFields = append(tagFields, typespec.Field{Name: name, Kind: kind})
	}

	packetFields := make([]typespec.Field, 0, len(schema))
	for _, c := range schema {
		if !isTag[c.Name] {
			packetFields = append(packetFields, typespec.Field{Name: c.Name, Kind: c.Kind})
		}
	}

	tagSpec, err := typespec.New(tagFields...)
	if err != nil {
		return nil, err
	}
	packetSpec, err := typespec.New(packetFields...)
	if err != nil {
		return nil, err
	}

	return &ImmutableTableStream{t: t, tagColumns: tagColumns, tagSchema: tagSpec, packetSchema: packetSpec}, nil
}

func (s *ImmutableTableStream) Iter() iter.Seq2[record.Pair, error] {
	return func(yield func(record.Pair, error) bool) {
		for row := 0; row < s.t.NumRows(); row++ {
			tagValues := make(map[string]any, s.tagSchema.Len())
			for _, name := range s.tagSchema.Names() {
				col, _ := s.t.Column(name)
				tagValues[name] = col.At(row)
			}
			packetValues := make(map[string]any, s.packetSchema.Len())
			for _, name := range s.packetSchema.Names() {
				col, _ := s.t.Column(name)
				packetValues[name] = col.At(row)
			}

			tag, err := record.NewTag(tagValues, s.tagSchema)
			if err != nil {
				if !yield(record.Pair{}, err) {
					return
				}
				continue
			}
			packet, err := record.NewPacket(packetValues, s.packetSchema, nil, record.CurrentDataContext)
			if err != nil {
				if !yield(record.Pair{}, err) {
					return
				}
				continue
			}
			pair, err := record.NewRecord(tag, packet)
			if !yield(pair, err) {
				return
			}
		}
	}
}

func (s *ImmutableTableStream) Flow() ([]record.Pair, error) {
	return Flow(s)
}

func (s *ImmutableTableStream) TagSchema() typespec.TypeSpec {
	return s.tagSchema
}

func (s *ImmutableTableStream) PacketSchema() typespec.TypeSpec {
	return s.packetSchema
}

func (s *ImmutableTableStream) AsTable(opts AsTableOptions) (table.Table, error) {
	return AsTable(s, opts)
}

// Package typespec implements OrcaPod's logical type system: the small set
// of scalar kinds a tag or packet field can hold, ordered typespecs built
// from them, and the schema reconciliation used when two streams are joined.
package typespec

import (
	"fmt"
	"strings"

	"github.com/brianarnold/orcapod/orcaerr"
)

// Kind is a logical scalar type recognized by the stream algebra.
type Kind int

const (
	Bool Kind = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	Binary
	Timestamp
	Path
)

var kindNames = [...]string{
	"bool", "int8", "int16", "int32", "int64",
	"uint8", "uint16", "uint32", "uint64",
	"float32", "float64", "string", "binary", "timestamp", "path",
}

// String renders the kind's canonical lowercase name, used for display and
// parsed back by ParseKind. orcahash does not hash this name as a kind's
// type tag; it uses its own fixed one-byte tags.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Hashable reports whether values of this kind may be used as tag values.
// Binary and Path values are not guaranteed comparable across store
// boundaries, so they are rejected as tag columns (see stream.ImmutableTableStream).
func (k Kind) Hashable() bool {
	return k != Binary && k != Path
}

// ParseKind looks up a Kind by its canonical lowercase name (as rendered by
// Kind.String), used to decode `orca:"name,kind"` struct tag overrides.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// Path is the conventional Go representation of a Path-kind value: a
// content-addressed reference to external file data, distinct from an
// ordinary String field both semantically and in FunctionPod's reflection-
// based field derivation.
type Path string

// Field is one named, kind-typed slot in a typespec, in declaration order.
type Field struct {
	Name string
	Kind Kind
}

// TypeSpec is an ordered mapping from field name to logical type. Order
// matters: it fixes iteration order for records and is therefore part of
// the schema's observable identity, though hashing (orcahash) always sorts
// by name first so two typespecs with the same fields in different
// declaration order hash identically.
type TypeSpec struct {
	fields []Field
	index  map[string]int
}

// New builds a TypeSpec from an ordered field list. Duplicate names return
// an error.
func New(fields ...Field) (TypeSpec, error) {
	ts := TypeSpec{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if _, exists := ts.index[f.Name]; exists {
			return TypeSpec{}, orcaerr.Collision("typespec.New", fmt.Sprintf("duplicate field %q", f.Name))
		}
		ts.index[f.Name] = len(ts.fields)
		ts.fields = append(ts.fields, f)
	}
	return ts, nil
}

// MustNew is New but panics on error. Intended for package-level fixtures
// and tests where the field list is a compile-time constant.
func MustNew(fields ...Field) TypeSpec {
	ts, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return ts
}

// Fields returns the typespec's fields in declaration order. The returned
// slice is a copy; mutating it does not affect the TypeSpec.
func (t TypeSpec) Fields() []Field {
	out := make([]Field, len(t.fields))
	copy(out, t.fields)
	return out
}

// Len returns the number of fields.
func (t TypeSpec) Len() int {
	return len(t.fields)
}

// Names returns the field names in declaration order.
func (t TypeSpec) Names() []string {
	out := make([]string, len(t.fields))
	for i, f := range t.fields {
		out[i] = f.Name
	}
	return out
}

// Kind returns the kind of the named field and whether it exists.
func (t TypeSpec) Kind(name string) (Kind, bool) {
	i, ok := t.index[name]
	if !ok {
		return 0, false
	}
	return t.fields[i].Kind, true
}

// Has reports whether name is a field of this typespec.
func (t TypeSpec) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Union returns a new TypeSpec containing the fields of both a and b, in
// a's order followed by b's fields not already present in a. It does not
// validate agreement on shared fields — callers that need that check
// should use Reconcile.
func Union(a, b TypeSpec) TypeSpec {
	fields := append([]Field{}, a.fields...)
	for _, f := range b.fields {
		if !a.Has(f.Name) {
			fields = append(fields, f)
		}
	}
	ts, _ := New(fields...) // names within a and within b are already unique
	return ts
}

// Disjoint reports whether a and b share no field names.
func Disjoint(a, b TypeSpec) bool {
	for _, f := range a.fields {
		if b.Has(f.Name) {
			return false
		}
	}
	return true
}

// Reconcile merges two typespecs for a join over sharedKeys. It succeeds
// only if every shared key has an identical Kind on both sides; otherwise
// it returns an orcaerr.SchemaMismatch error naming the offending field.
func Reconcile(a, b TypeSpec, sharedKeys []string) (TypeSpec, error) {
	for _, key := range sharedKeys {
		ka, ok := a.Kind(key)
		if !ok {
			return TypeSpec{}, orcaerr.Schema("typespec.Reconcile", fmt.Sprintf("shared key %q missing on left side", key))
		}
		kb, ok := b.Kind(key)
		if !ok {
			return TypeSpec{}, orcaerr.Schema("typespec.Reconcile", fmt.Sprintf("shared key %q missing on right side", key))
		}
		if ka != kb {
			return TypeSpec{}, orcaerr.Schema("typespec.Reconcile", fmt.Sprintf("shared key %q: %s vs %s", key, ka, kb))
		}
	}
	return Union(a, b), nil
}

// String renders the typespec as "name:kind, name:kind, ...", useful for
// error messages and logging.
func (t TypeSpec) String() string {
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		parts[i] = fmt.Sprintf("%s:%s", f.Name, f.Kind)
	}
	return strings.Join(parts, ", ")
}

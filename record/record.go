// Package record implements OrcaPod's immutable (tag, packet) record model
// (spec §3, §4.3): tags identify a row's logical position, packets carry
// its data plus per-field provenance, and a Pair binds the two with the
// invariant that their field sets are disjoint.
package record

import (
	"fmt"
	"sync"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/typespec"
)

// DataContext identifies the OrcaPod semantic version and hasher version
// used to produce a packet. It is embedded in every packet so a hasher
// algorithm bump invalidates stale store entries (spec §3).
type DataContext struct {
	LibVersion    string
	HasherVersion string
}

// ContextKey renders the canonical "_context_key" materialization value:
// "orcapod:{lib_version}|hasher:{hasher_version}".
func (c DataContext) ContextKey() string {
	return fmt.Sprintf("orcapod:%s|hasher:%s", c.LibVersion, c.HasherVersion)
}

// CurrentDataContext is the DataContext stamped onto packets produced by
// this build of OrcaPod.
var CurrentDataContext = DataContext{
	LibVersion:    "0.1.0",
	HasherVersion: fmt.Sprintf("%d", orcahash.Version),
}

// SourceInfo records where a single packet field's value originated: either
// an upstream invocation's output, or externally supplied input data.
type SourceInfo struct {
	// Invocation is the fingerprint of the producing invocation. Zero when
	// Input is true.
	Invocation orcahash.Digest

	// Field is the output field name of the producing invocation that this
	// value came from.
	Field string

	// Input is true when this value was supplied externally, with no
	// producing invocation.
	Input bool
}

// inputSourceInfo is the default SourceInfo for externally supplied data.
func inputSourceInfo(field string) SourceInfo {
	return SourceInfo{Field: field, Input: true}
}

// fieldSet validates that values and a typespec name exactly the same
// fields, returning an error naming the mismatch.
func fieldSet(op string, values map[string]any, spec typespec.TypeSpec) error {
	for _, f := range spec.Fields() {
		if _, ok := values[f.Name]; !ok {
			return orcaerr.Missing(op, fmt.Sprintf("missing value for field %q", f.Name))
		}
	}
	if len(values) != spec.Len() {
		return orcaerr.Schema(op, fmt.Sprintf("value count %d does not match typespec length %d", len(values), spec.Len()))
	}
	return nil
}

// Tag is an immutable keyed record identifying a stream row's logical
// position (spec glossary). Tag values must be hashable and comparable;
// Binary and Path kinds are rejected by typespec.Kind.Hashable and should
// never appear in a Tag's typespec.
type Tag struct {
	spec   typespec.TypeSpec
	values map[string]any
}

// NewTag builds a Tag from a value map and its typespec. It fails if the
// value set does not exactly match spec's fields, or if spec declares a
// non-hashable kind (Binary or Path) for any field.
func NewTag(values map[string]any, spec typespec.TypeSpec) (Tag, error) {
	if err := fieldSet("record.NewTag", values, spec); err != nil {
		return Tag{}, err
	}
	for _, f := range spec.Fields() {
		if !f.Kind.Hashable() {
			return Tag{}, orcaerr.Unsupported("record.NewTag", fmt.Sprintf("tag field %q has non-hashable kind %s", f.Name, f.Kind))
		}
	}
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Tag{spec: spec, values: copied}, nil
}

// Get returns the value of the named field and whether it exists.
func (t Tag) Get(name string) (any, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Keys returns field names in typespec declaration order.
func (t Tag) Keys() []string {
	return t.spec.Names()
}

// Types returns the tag's typespec.
func (t Tag) Types() typespec.TypeSpec {
	return t.spec
}

// AsDict returns a plain map of the tag's values.
func (t Tag) AsDict() map[string]any {
	out := make(map[string]any, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// AsRow returns the tag's values keyed by field name, ready for merging
// into a materialized table row alongside the packet's own row.
func (t Tag) AsRow() map[string]any {
	return t.AsDict()
}

// Digest returns the tag's content hash: H(sorted_by_key((name, kind,
// H(value))*)) over the tag's own fields, used to key join grouping and to
// fold per-row identity into a pod invocation fingerprint.
func (t Tag) Digest() orcahash.Digest {
	fields := make([]orcahash.FieldValue, 0, len(t.values))
	for _, f := range t.spec.Fields() {
		fields = append(fields, orcahash.FieldValue{Name: f.Name, Kind: f.Kind, Value: t.values[f.Name]})
	}
	return orcahash.HashFields(fields)
}

// Packet is an immutable keyed record carrying a row's data plus typespec,
// per-field provenance, and data context (spec §3, §4.3).
type Packet struct {
	spec   typespec.TypeSpec
	values map[string]any
	source map[string]SourceInfo
	ctx    DataContext

	hashOnce sync.Once
	hash     orcahash.Digest
}

// NewPacket builds a Packet. If source is nil, every field defaults to
// SourceInfo{Input: true} (externally supplied data). A non-nil source map
// must name exactly spec's fields.
func NewPacket(values map[string]any, spec typespec.TypeSpec, source map[string]SourceInfo, ctx DataContext) (Packet, error) {
	if err := fieldSet("record.NewPacket", values, spec); err != nil {
		return Packet{}, err
	}

	resolvedSource := make(map[string]SourceInfo, spec.Len())
	for _, f := range spec.Fields() {
		if source != nil {
			si, ok := source[f.Name]
			if !ok {
				return Packet{}, orcaerr.Missing("record.NewPacket", fmt.Sprintf("missing source info for field %q", f.Name))
			}
			resolvedSource[f.Name] = si
		} else {
			resolvedSource[f.Name] = inputSourceInfo(f.Name)
		}
	}

	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}

	return Packet{spec: spec, values: copied, source: resolvedSource, ctx: ctx}, nil
}

// Get returns the value of the named field and whether it exists.
func (p Packet) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Keys returns field names in typespec declaration order.
func (p Packet) Keys() []string {
	return p.spec.Names()
}

// Types returns the packet's typespec.
func (p Packet) Types() typespec.TypeSpec {
	return p.spec
}

// SourceInfoOf returns the provenance of the named field and whether it
// exists.
func (p Packet) SourceInfoOf(name string) (SourceInfo, bool) {
	si, ok := p.source[name]
	return si, ok
}

// DataContext returns the packet's data context tag.
func (p Packet) DataContext() DataContext {
	return p.ctx
}

// AsDict returns a plain map of the packet's values. When includeSource is
// true, each field's SourceInfo is also included under a "_source_<field>"
// key, matching the materialization convention of spec §4.4.
func (p Packet) AsDict(includeSource bool) map[string]any {
	out := make(map[string]any, len(p.values)*2)
	for k, v := range p.values {
		out[k] = v
	}
	if includeSource {
		for k, si := range p.source {
			out["_source_"+k] = si
		}
	}
	return out
}

// AsRow returns the packet's values keyed by field name, without source
// provenance, for the common case of materializing only data columns.
func (p Packet) AsRow() map[string]any {
	return p.AsDict(false)
}

// ContentHash returns the packet's memoized content hash, computed lazily
// on first call and cached for the lifetime of the immutable Packet (spec
// §4.3). Concurrent calls are safe and converge on the same value.
func (p *Packet) ContentHash() orcahash.Digest {
	p.hashOnce.Do(func() {
		fields := make([]orcahash.FieldValue, 0, len(p.values))
		for _, f := range p.spec.Fields() {
			fields = append(fields, orcahash.FieldValue{Name: f.Name, Kind: f.Kind, Value: p.values[f.Name]})
		}
		p.hash = orcahash.HashFields(fields)
	})
	return p.hash
}

// WithSource returns a copy of p with every declared field's SourceInfo set
// to originate from invocation fp, used by pod execution to stamp freshly
// computed outputs (spec §4.6).
func WithSource(p Packet, fp orcahash.Digest) Packet {
	source := make(map[string]SourceInfo, len(p.source))
	for name := range p.source {
		source[name] = SourceInfo{Invocation: fp, Field: name}
	}
	out, _ := NewPacket(p.values, p.spec, source, p.ctx) // same values/spec that already validated
	return out
}

// Pair is a single (tag, packet) record flowing through a stream. The
// constructor enforces keys(tag) ∩ keys(packet) = ∅ (spec §3).
type Pair struct {
	Tag    Tag
	Packet Packet
}

// NewRecord builds a Pair, rejecting tag/packet field name collisions.
func NewRecord(tag Tag, packet Packet) (Pair, error) {
	for _, name := range tag.Keys() {
		if packet.Types().Has(name) {
			return Pair{}, orcaerr.Collision("record.NewRecord", fmt.Sprintf("field %q present in both tag and packet", name))
		}
	}
	return Pair{Tag: tag, Packet: packet}, nil
}

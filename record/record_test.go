package record

import (
	"testing"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/typespec"
)

func TestNewTag_RejectsNonHashableKind(t *testing.T) {
	spec := typespec.MustNew(typespec.Field{Name: "blob", Kind: typespec.Binary})
	_, err := NewTag(map[string]any{"blob": []byte("x")}, spec)
	if !orcaerr.HasCode(err, orcaerr.UnsupportedType) {
		t.Errorf("expected UnsupportedType for Binary tag field, got %v", err)
	}
}

func TestNewTag_MissingValue(t *testing.T) {
	spec := typespec.MustNew(typespec.Field{Name: "id", Kind: typespec.Int64})
	_, err := NewTag(map[string]any{}, spec)
	if !orcaerr.HasCode(err, orcaerr.MissingField) {
		t.Errorf("expected MissingField, got %v", err)
	}
}

func TestTag_DigestStableAcrossConstruction(t *testing.T) {
	spec := typespec.MustNew(
		typespec.Field{Name: "id", Kind: typespec.Int64},
		typespec.Field{Name: "name", Kind: typespec.String},
	)
	t1, err := NewTag(map[string]any{"id": int64(1), "name": "a"}, spec)
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	t2, err := NewTag(map[string]any{"name": "a", "id": int64(1)}, spec)
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	if t1.Digest() != t2.Digest() {
		t.Error("Tag.Digest should not depend on value map construction order")
	}
}

func TestTag_KeysPreservesSpecOrder(t *testing.T) {
	spec := typespec.MustNew(
		typespec.Field{Name: "b", Kind: typespec.Int64},
		typespec.Field{Name: "a", Kind: typespec.Int64},
	)
	tag, err := NewTag(map[string]any{"a": int64(1), "b": int64(2)}, spec)
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	keys := tag.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("Keys() = %v, want [b a]", keys)
	}
}

func TestNewPacket_DefaultSourceIsInput(t *testing.T) {
	spec := typespec.MustNew(typespec.Field{Name: "x", Kind: typespec.Int64})
	p, err := NewPacket(map[string]any{"x": int64(1)}, spec, nil, CurrentDataContext)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	si, ok := p.SourceInfoOf("x")
	if !ok || !si.Input {
		t.Errorf("expected default SourceInfo.Input = true, got %+v, ok=%v", si, ok)
	}
}

func TestNewPacket_SourceMissingField(t *testing.T) {
	spec := typespec.MustNew(
		typespec.Field{Name: "x", Kind: typespec.Int64},
		typespec.Field{Name: "y", Kind: typespec.Int64},
	)
	_, err := NewPacket(
		map[string]any{"x": int64(1), "y": int64(2)},
		spec,
		map[string]SourceInfo{"x": {Input: true}},
		CurrentDataContext,
	)
	if !orcaerr.HasCode(err, orcaerr.MissingField) {
		t.Errorf("expected MissingField for incomplete source map, got %v", err)
	}
}

func TestPacket_ContentHashMemoized(t *testing.T) {
	spec := typespec.MustNew(typespec.Field{Name: "x", Kind: typespec.Int64})
	p, err := NewPacket(map[string]any{"x": int64(7)}, spec, nil, CurrentDataContext)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	h1 := p.ContentHash()
	h2 := p.ContentHash()
	if h1 != h2 {
		t.Error("ContentHash should be stable across repeated calls")
	}
}

func TestPacket_ContentHashIgnoresFieldOrder(t *testing.T) {
	spec := typespec.MustNew(
		typespec.Field{Name: "a", Kind: typespec.Int64},
		typespec.Field{Name: "b", Kind: typespec.String},
	)
	p1, _ := NewPacket(map[string]any{"a": int64(1), "b": "x"}, spec, nil, CurrentDataContext)
	p2, _ := NewPacket(map[string]any{"b": "x", "a": int64(1)}, spec, nil, CurrentDataContext)
	if p1.ContentHash() != p2.ContentHash() {
		t.Error("ContentHash should not depend on value map construction order")
	}
}

func TestPacket_ContentHashDiffersOnValue(t *testing.T) {
	spec := typespec.MustNew(typespec.Field{Name: "x", Kind: typespec.Int64})
	p1, _ := NewPacket(map[string]any{"x": int64(1)}, spec, nil, CurrentDataContext)
	p2, _ := NewPacket(map[string]any{"x": int64(2)}, spec, nil, CurrentDataContext)
	if p1.ContentHash() == p2.ContentHash() {
		t.Error("differing packet values should produce differing content hashes")
	}
}

func TestWithSource_StampsInvocation(t *testing.T) {
	spec := typespec.MustNew(typespec.Field{Name: "x", Kind: typespec.Int64})
	p, _ := NewPacket(map[string]any{"x": int64(1)}, spec, nil, CurrentDataContext)
	fp := orcahash.HashBytes("invocation", []byte("node-a"))

	stamped := WithSource(p, fp)
	si, ok := stamped.SourceInfoOf("x")
	if !ok || si.Input || si.Invocation != fp || si.Field != "x" {
		t.Errorf("WithSource did not stamp expected SourceInfo, got %+v", si)
	}
}

func TestNewRecord_RejectsFieldCollision(t *testing.T) {
	tagSpec := typespec.MustNew(typespec.Field{Name: "id", Kind: typespec.Int64})
	tag, _ := NewTag(map[string]any{"id": int64(1)}, tagSpec)

	packetSpec := typespec.MustNew(typespec.Field{Name: "id", Kind: typespec.Int64})
	packet, _ := NewPacket(map[string]any{"id": int64(1)}, packetSpec, nil, CurrentDataContext)

	_, err := NewRecord(tag, packet)
	if !orcaerr.HasCode(err, orcaerr.NameCollision) {
		t.Errorf("expected NameCollision for overlapping tag/packet fields, got %v", err)
	}
}

func TestNewRecord_Disjoint(t *testing.T) {
	tagSpec := typespec.MustNew(typespec.Field{Name: "id", Kind: typespec.Int64})
	tag, _ := NewTag(map[string]any{"id": int64(1)}, tagSpec)

	packetSpec := typespec.MustNew(typespec.Field{Name: "value", Kind: typespec.String})
	packet, _ := NewPacket(map[string]any{"value": "x"}, packetSpec, nil, CurrentDataContext)

	pair, err := NewRecord(tag, packet)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if pair.Tag.Digest() != tag.Digest() || pair.Packet.ContentHash() != packet.ContentHash() {
		t.Error("NewRecord did not preserve tag/packet values")
	}
}

func TestDataContext_ContextKey(t *testing.T) {
	dc := DataContext{LibVersion: "0.1.0", HasherVersion: "1"}
	want := "orcapod:0.1.0|hasher:1"
	if got := dc.ContextKey(); got != want {
		t.Errorf("ContextKey() = %q, want %q", got, want)
	}
}

// Package operator implements OrcaPod's structural stream transforms (spec
// §4.5): operators that combine streams without invoking user code, the
// counterpart to package pod's per-record user-function execution.
package operator

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/record"
	"github.com/brianarnold/orcapod/stream"
	"github.com/brianarnold/orcapod/table"
	"github.com/brianarnold/orcapod/typespec"
)

// Kernel is a structural stream transform with a stable identity,
// analogous to pod.Pod but operating on whole streams rather than one
// record at a time.
type Kernel interface {
	Name() string
	Identity() orcahash.Digest
	Apply(inputs ...stream.Stream) (stream.Stream, error)
}

// Join implements an inner join over the shared subset of each input
// stream's tag fields (spec §4.5). A *Join is single-use: it joins exactly
// the two streams passed to Of.
type Join struct {
	sharedKeys []string

	once   sync.Once
	pairs  []record.Pair
	err    error
	tagTS  typespec.TypeSpec
	pktTS  typespec.TypeSpec
	a, b   stream.Stream
}

// NewJoin constructs an unconfigured Join kernel.
func NewJoin() *Join {
	return &Join{}
}

// Name returns the kernel's name.
func (j *Join) Name() string {
	return "join"
}

// Identity returns a stable digest for this kernel kind. Join carries no
// configuration beyond its inputs, so every Join instance shares one
// identity; the inputs' own fingerprints distinguish invocations.
func (j *Join) Identity() orcahash.Digest {
	return orcahash.HashBytes("kernel", []byte("join"))
}

// Apply implements Kernel by requiring exactly two input streams and
// delegating to Of.
func (j *Join) Apply(inputs ...stream.Stream) (stream.Stream, error) {
	if len(inputs) != 2 {
		return nil, orcaerr.Schema("operator.Join.Apply", fmt.Sprintf("join requires exactly 2 inputs, got %d", len(inputs)))
	}
	return j.Of(inputs[0], inputs[1])
}

// Of performs the join's construction-time checks and returns the lazily
// evaluated, memoized result stream (spec §4.5): shared tag fields must
// have matching kinds (typespec.Reconcile), and non-shared field names
// across both packets must be disjoint.
func (j *Join) Of(a, b stream.Stream) (stream.Stream, error) {
	sharedKeys := intersectNames(a.TagSchema(), b.TagSchema())
	tagTS, err := typespec.Reconcile(a.TagSchema(), b.TagSchema(), sharedKeys)
	if err != nil {
		return nil, err
	}
	if !typespec.Disjoint(a.PacketSchema(), b.PacketSchema()) {
		return nil, orcaerr.Collision("operator.Join.Of", "joined streams have overlapping packet field names")
	}
	pktTS := typespec.Union(a.PacketSchema(), b.PacketSchema())

	j.sharedKeys = sharedKeys
	j.tagTS = tagTS
	j.pktTS = pktTS
	j.a = a
	j.b = b

	return &joinStream{join: j}, nil
}

func intersectNames(a, b typespec.TypeSpec) []string {
	var shared []string
	for _, name := range a.Names() {
		if b.Has(name) {
			shared = append(shared, name)
		}
	}
	sort.Strings(shared)
	return shared
}

// evaluate materializes the join result once, memoized for the lifetime of
// this *Join instance (spec §4.5: "cached per Join instance").
func (j *Join) evaluate() ([]record.Pair, typespec.TypeSpec, typespec.TypeSpec, error) {
	j.once.Do(func() {
		aPairs, err := j.a.Flow()
		if err != nil {
			j.err = err
			return
		}
		bPairs, err := j.b.Flow()
		if err != nil {
			j.err = err
			return
		}

		groups := make(map[orcahash.Digest][]record.Pair)
		for _, p := range bPairs {
			key := sharedTagDigest(p.Tag, j.sharedKeys)
			groups[key] = append(groups[key], p)
		}

		var out []record.Pair
		for _, ap := range aPairs {
			key := sharedTagDigest(ap.Tag, j.sharedKeys)
			for _, bp := range groups[key] {
				merged, err := mergeJoined(ap, bp, j.tagTS, j.pktTS)
				if err != nil {
					j.err = err
					return
				}
				out = append(out, merged)
			}
		}
		j.pairs = out
	})
	return j.pairs, j.tagTS, j.pktTS, j.err
}

func sharedTagDigest(tag record.Tag, sharedKeys []string) orcahash.Digest {
	fields := make([]orcahash.FieldValue, 0, len(sharedKeys))
	for _, name := range sharedKeys {
		kind, _ := tag.Types().Kind(name)
		v, _ := tag.Get(name)
		fields = append(fields, orcahash.FieldValue{Name: name, Kind: kind, Value: v})
	}
	return orcahash.HashFields(fields)
}

func mergeJoined(a, b record.Pair, tagTS, pktTS typespec.TypeSpec) (record.Pair, error) {
	tagValues := make(map[string]any, tagTS.Len())
	for _, name := range tagTS.Names() {
		if v, ok := a.Tag.Get(name); ok {
			tagValues[name] = v
		} else if v, ok := b.Tag.Get(name); ok {
			tagValues[name] = v
		}
	}
	tag, err := record.NewTag(tagValues, tagTS)
	if err != nil {
		return record.Pair{}, err
	}

	pktValues := make(map[string]any, pktTS.Len())
	source := make(map[string]record.SourceInfo, pktTS.Len())
	for _, name := range a.Packet.Keys() {
		v, _ := a.Packet.Get(name)
		pktValues[name] = v
		si, _ := a.Packet.SourceInfoOf(name)
		source[name] = si
	}
	for _, name := range b.Packet.Keys() {
		v, _ := b.Packet.Get(name)
		pktValues[name] = v
		si, _ := b.Packet.SourceInfoOf(name)
		source[name] = si
	}

	packet, err := record.NewPacket(pktValues, pktTS, source, record.CurrentDataContext)
	if err != nil {
		return record.Pair{}, err
	}
	return record.NewRecord(tag, packet)
}

// joinStream is the Stream returned by Join.Of; it defers to the owning
// Join's memoized evaluation on every call.
type joinStream struct {
	join *Join
}

func (s *joinStream) Iter() iter.Seq2[record.Pair, error] {
	pairs, _, _, err := s.join.evaluate()
	return func(yield func(record.Pair, error) bool) {
		if err != nil {
			yield(record.Pair{}, err)
			return
		}
		for _, p := range pairs {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (s *joinStream) Flow() ([]record.Pair, error) {
	pairs, _, _, err := s.join.evaluate()
	if err != nil {
		return nil, err
	}
	out := make([]record.Pair, len(pairs))
	copy(out, pairs)
	return out, nil
}

func (s *joinStream) TagSchema() typespec.TypeSpec {
	_, tagTS, _, _ := s.join.evaluate()
	return tagTS
}

func (s *joinStream) PacketSchema() typespec.TypeSpec {
	_, _, pktTS, _ := s.join.evaluate()
	return pktTS
}

func (s *joinStream) AsTable(opts stream.AsTableOptions) (table.Table, error) {
	return stream.AsTable(s, opts)
}

// Package pod implements OrcaPod's pure per-record computation unit (spec
// §4.6): a Pod declares a typed input/output signature and a stable
// identity; FunctionPod wraps an ordinary Go function as one, deriving its
// signature from the function's parameter and result struct types via
// reflection.
package pod

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"time"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/pipectx"
	"github.com/brianarnold/orcapod/record"
	"github.com/brianarnold/orcapod/stream"
	"github.com/brianarnold/orcapod/table"
	"github.com/brianarnold/orcapod/typespec"
)

// Signature describes a pod's declared input and output fields.
type Signature struct {
	Inputs  []typespec.Field
	Outputs []typespec.Field
}

// Pod is a pure, single-record computation with a stable content-addressed
// identity. The stream-level fan-out that applies a Pod to every row of an
// input stream lives in the lazy stream produced by FunctionPod.On, not
// here.
type Pod interface {
	Name() string
	Signature() Signature
	Identity() orcahash.Digest
	Invoke(ctx context.Context, t record.Tag, p record.Packet) (record.Packet, error)
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	pathType  = reflect.TypeOf(typespec.Path(""))
	bytesType = reflect.TypeOf([]byte(nil))
)

func goTypeToKind(t reflect.Type) (typespec.Kind, error) {
	switch t {
	case pathType:
		return typespec.Path, nil
	case timeType:
		return typespec.Timestamp, nil
	case bytesType:
		return typespec.Binary, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return typespec.Bool, nil
	case reflect.Int8:
		return typespec.Int8, nil
	case reflect.Int16:
		return typespec.Int16, nil
	case reflect.Int32:
		return typespec.Int32, nil
	case reflect.Int, reflect.Int64:
		return typespec.Int64, nil
	case reflect.Uint8:
		return typespec.Uint8, nil
	case reflect.Uint16:
		return typespec.Uint16, nil
	case reflect.Uint32:
		return typespec.Uint32, nil
	case reflect.Uint, reflect.Uint64:
		return typespec.Uint64, nil
	case reflect.Float32:
		return typespec.Float32, nil
	case reflect.Float64:
		return typespec.Float64, nil
	case reflect.String:
		return typespec.String, nil
	}
	return 0, orcaerr.Unsupported("pod", fmt.Sprintf("unsupported Go type %s", t))
}

// structField is a resolved (name, kind, struct-field-index) triple used to
// move values between a Go struct and a record.Packet.
type structField struct {
	Name  string
	Kind  typespec.Kind
	Index int
}

// deriveStructFields reflects over t's exported fields. An `orca:"name,kind"`
// tag overrides the field's packet name and/or declared kind; omitting the
// kind half infers it from the Go field type. If overrideNames is non-nil it
// must have one entry per exported field, in declaration order, and wins
// over both the default field name and any tag name.
func deriveStructFields(op string, t reflect.Type, overrideNames []string) ([]structField, error) {
	if t.Kind() != reflect.Struct {
		return nil, orcaerr.Unsupported(op, fmt.Sprintf("%s must be a struct, got %s", t, t.Kind()))
	}

	var fields []structField
	idx := 0
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue // unexported
		}

		name := sf.Name
		kindOverride := ""
		if tag, ok := sf.Tag.Lookup("orca"); ok {
			parts := strings.SplitN(tag, ",", 2)
			if parts[0] != "" {
				name = parts[0]
			}
			if len(parts) == 2 {
				kindOverride = parts[1]
			}
		}
		if overrideNames != nil {
			if idx >= len(overrideNames) {
				return nil, orcaerr.Schema(op, fmt.Sprintf("outputKeys has %d entries, struct has more exported fields", len(overrideNames)))
			}
			name = overrideNames[idx]
		}

		var kind typespec.Kind
		var err error
		if kindOverride != "" {
			k, ok := typespec.ParseKind(kindOverride)
			if !ok {
				return nil, orcaerr.Unsupported(op, fmt.Sprintf("field %q has unrecognized orca kind tag %q", sf.Name, kindOverride))
			}
			kind = k
		} else {
			kind, err = goTypeToKind(sf.Type)
			if err != nil {
				return nil, err
			}
		}

		fields = append(fields, structField{Name: name, Kind: kind, Index: i})
		idx++
	}

	if overrideNames != nil && idx != len(overrideNames) {
		return nil, orcaerr.Schema(op, fmt.Sprintf("outputKeys has %d entries, struct has %d exported fields", len(overrideNames), idx))
	}
	return fields, nil
}

// FunctionPod wraps a Go function func(In) (Out, error) as a Pod. In and
// Out must be structs; their exported fields (optionally renamed/retyped
// via an `orca:"name,kind"` tag) become the pod's input and output fields.
type FunctionPod[In, Out any] struct {
	name        string
	fn          reflect.Value
	inFields    []structField
	outFields   []structField
	implVersion string
	identity    orcahash.Digest
}

// NewFunctionPod builds a FunctionPod from fn. outputKeys, if non-nil, must
// have exactly one entry per exported field of Out, in declaration order,
// and renames the pod's output fields accordingly; pass nil to use Out's
// field names (and any `orca` tag overrides) as-is. implVersion must be
// non-empty: this implementation requires an explicit version rather than
// deriving one from the function's source.
func NewFunctionPod[In, Out any](name string, fn func(In) (Out, error), outputKeys []string, implVersion string) (*FunctionPod[In, Out], error) {
	if implVersion == "" {
		return nil, orcaerr.Schema("pod.NewFunctionPod", "implVersion must not be empty")
	}

	var in In
	var out Out
	inFields, err := deriveStructFields("pod.NewFunctionPod", reflect.TypeOf(in), nil)
	if err != nil {
		return nil, err
	}
	outFields, err := deriveStructFields("pod.NewFunctionPod", reflect.TypeOf(out), outputKeys)
	if err != nil {
		return nil, err
	}

	fp := &FunctionPod[In, Out]{
		name:        name,
		fn:          reflect.ValueOf(fn),
		inFields:    inFields,
		outFields:   outFields,
		implVersion: implVersion,
	}
	fp.identity = computeIdentity(name, inFields, outFields, implVersion)
	return fp, nil
}

func computeIdentity(name string, in, out []structField, implVersion string) orcahash.Digest {
	fields := make([]orcahash.FieldValue, 0, 2+len(in)+len(out))
	fields = append(fields, orcahash.FieldValue{Name: "_pod_name", Kind: typespec.String, Value: name})
	fields = append(fields, orcahash.FieldValue{Name: "_impl_version", Kind: typespec.String, Value: implVersion})
	for _, f := range in {
		fields = append(fields, orcahash.FieldValue{Name: "in:" + f.Name, Kind: typespec.String, Value: f.Kind.String()})
	}
	for _, f := range out {
		fields = append(fields, orcahash.FieldValue{Name: "out:" + f.Name, Kind: typespec.String, Value: f.Kind.String()})
	}
	return orcahash.HashFields(fields)
}

// Name returns the pod's declared name.
func (fp *FunctionPod[In, Out]) Name() string {
	return fp.name
}

// Signature returns the pod's derived input/output fields.
func (fp *FunctionPod[In, Out]) Signature() Signature {
	sig := Signature{}
	for _, f := range fp.inFields {
		sig.Inputs = append(sig.Inputs, typespec.Field{Name: f.Name, Kind: f.Kind})
	}
	for _, f := range fp.outFields {
		sig.Outputs = append(sig.Outputs, typespec.Field{Name: f.Name, Kind: f.Kind})
	}
	return sig
}

// Identity returns the pod's content-addressed identity: a hash over its
// name, implementation version, and ordered input/output name-kind pairs.
func (fp *FunctionPod[In, Out]) Identity() orcahash.Digest {
	return fp.identity
}

// Invoke runs the wrapped function once against a single (tag, packet).
// The tag passes through unchanged; the returned packet carries only the
// pod's declared output fields, each stamped with SourceInfo{Invocation: fp,
// Input: false} where fp is this invocation's per-record fingerprint.
func (fp *FunctionPod[In, Out]) Invoke(ctx context.Context, t record.Tag, p record.Packet) (record.Packet, error) {
	for _, f := range fp.inFields {
		kind, ok := p.Types().Kind(f.Name)
		if !ok {
			return record.Packet{}, orcaerr.Missing("pod.Invoke", fmt.Sprintf("input packet missing field %q required by pod %q", f.Name, fp.name))
		}
		if kind != f.Kind {
			return record.Packet{}, orcaerr.Schema("pod.Invoke", fmt.Sprintf("input field %q: packet has kind %s, pod requires %s", f.Name, kind, f.Kind))
		}
	}

	inType := fp.fn.Type().In(0)
	inVal := reflect.New(inType).Elem()
	for _, f := range fp.inFields {
		v, _ := p.Get(f.Name)
		if v != nil {
			inVal.Field(f.Index).Set(reflect.ValueOf(v))
		}
	}

	results := fp.fn.Call([]reflect.Value{inVal})
	if errVal := results[1]; !errVal.IsNil() {
		return record.Packet{}, orcaerr.PodRuntime(fp.name, t, errVal.Interface().(error))
	}

	outVal := results[0]
	values := make(map[string]any, len(fp.outFields))
	for _, f := range fp.outFields {
		values[f.Name] = outVal.Field(f.Index).Interface()
	}

	outSpec, err := typespec.New(fp.signatureFields(fp.outFields)...)
	if err != nil {
		return record.Packet{}, err
	}
	packet, err := record.NewPacket(values, outSpec, nil, record.CurrentDataContext)
	if err != nil {
		return record.Packet{}, err
	}

	invocationFP := orcahash.HashDigests(fp.identity, t.Digest())
	return record.WithSource(packet, invocationFP), nil
}

func (fp *FunctionPod[In, Out]) signatureFields(fields []structField) []typespec.Field {
	out := make([]typespec.Field, len(fields))
	for i, f := range fields {
		out[i] = typespec.Field{Name: f.Name, Kind: f.Kind}
	}
	return out
}

// StreamApplier is a Pod that can also apply itself to a whole stream.
// FunctionPod[In, Out] implements it via OnStream, a non-generic forwarder
// to On; package pipeline depends on this interface instead of the generic
// FunctionPod type so Pipeline.RegisterPod can accept any pod regardless of
// its type parameters.
type StreamApplier interface {
	Pod
	OnStream(s stream.Stream, opts ...InvokeOption) (stream.Stream, error)
}

// OnStream forwards to On. It exists so FunctionPod satisfies StreamApplier
// without pipeline needing to know In/Out.
func (fp *FunctionPod[In, Out]) OnStream(s stream.Stream, opts ...InvokeOption) (stream.Stream, error) {
	return fp.On(s, opts...)
}

// InvokeOption configures a FunctionPod.On call.
type InvokeOption func(*invokeConfig)

type invokeConfig struct {
	label string
}

// WithLabel overrides the label this invocation registers under when a
// pipeline is open, instead of the pod's own Name().
func WithLabel(label string) InvokeOption {
	return func(c *invokeConfig) { c.label = label }
}

// On applies the pod to every row of s, returning a lazy, restartable
// output stream. If a pipeline is currently open (pipectx.Current), this
// invocation registers itself as a node on it; otherwise On returns a
// standalone stream that recomputes on every Iter/Flow call, with no
// memoization — memoization against a store is a pipeline-level concern
// (package pipeline), applied uniformly to every node's materialized output
// table rather than to individual pod calls.
func (fp *FunctionPod[In, Out]) On(s stream.Stream, opts ...InvokeOption) (stream.Stream, error) {
	for _, f := range fp.inFields {
		kind, ok := s.PacketSchema().Kind(f.Name)
		if !ok {
			return nil, orcaerr.Missing("pod.On", fmt.Sprintf("input stream missing field %q required by pod %q", f.Name, fp.name))
		}
		if kind != f.Kind {
			return nil, orcaerr.Schema("pod.On", fmt.Sprintf("input field %q: stream has kind %s, pod requires %s", f.Name, kind, f.Kind))
		}
	}

	cfg := &invokeConfig{label: fp.name}
	for _, o := range opts {
		o(cfg)
	}

	outSpec, err := typespec.New(fp.signatureFields(fp.outFields)...)
	if err != nil {
		return nil, err
	}

	out := &podStream{pod: fp, input: s, outSpec: outSpec}

	if reg, ok := pipectx.Current(); ok {
		reg.Register(pipectx.Invocation{
			Label:    cfg.label,
			Identity: fp.identity,
			Upstream: []stream.Stream{s},
			Output:   out,
		})
	}
	return out, nil
}

// podStream is the lazy Stream returned by FunctionPod.On.
type podStream struct {
	pod     interface {
		Invoke(ctx context.Context, t record.Tag, p record.Packet) (record.Packet, error)
	}
	input   stream.Stream
	outSpec typespec.TypeSpec
}

func (s *podStream) Iter() iter.Seq2[record.Pair, error] {
	return func(yield func(record.Pair, error) bool) {
		for pair, err := range s.input.Iter() {
			if err != nil {
				if !yield(record.Pair{}, err) {
					return
				}
				continue
			}
			outPacket, err := s.pod.Invoke(context.Background(), pair.Tag, pair.Packet)
			if err != nil {
				if !yield(record.Pair{}, err) {
					return
				}
				continue
			}
			rec, err := record.NewRecord(pair.Tag, outPacket)
			if !yield(rec, err) {
				return
			}
		}
	}
}

func (s *podStream) Flow() ([]record.Pair, error) {
	return stream.Flow(s)
}

func (s *podStream) TagSchema() typespec.TypeSpec {
	return s.input.TagSchema()
}

func (s *podStream) PacketSchema() typespec.TypeSpec {
	return s.outSpec
}

func (s *podStream) AsTable(opts stream.AsTableOptions) (table.Table, error) {
	return stream.AsTable(s, opts)
}

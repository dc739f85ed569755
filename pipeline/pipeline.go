// Package pipeline implements OrcaPod's DAG of nodes (spec §4.7): a
// Pipeline collects kernel and pod invocations into a graph, derives a
// content-addressed fingerprint for the whole graph, and executes it
// topologically against a store.Store so unchanged nodes are skipped on a
// re-run.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianarnold/orcapod/internal/syncutil"
	"github.com/brianarnold/orcapod/operator"
	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/orcaobs"
	"github.com/brianarnold/orcapod/pipectx"
	"github.com/brianarnold/orcapod/pod"
	"github.com/brianarnold/orcapod/stream"
	"github.com/brianarnold/orcapod/store"
	"github.com/brianarnold/orcapod/table"
	"github.com/brianarnold/orcapod/typespec"
)

// Node is one vertex of a Pipeline's DAG.
type Node interface {
	Label() string
	Upstream() []Node
	Fingerprint() orcahash.Digest
	Output() stream.Stream
	// Result returns this node's materialized output: an empty,
	// schema-correct table before Run, the real table after.
	Result() (table.Table, error)
}

type node struct {
	label    string
	identity orcahash.Digest
	upstream []Node
	output   stream.Stream
	pl       *Pipeline
}

func (n *node) Label() string         { return n.label }
func (n *node) Upstream() []Node      { return n.upstream }
func (n *node) Output() stream.Stream { return n.output }

// Fingerprint combines this node's own identity with its upstream nodes'
// fingerprints, in upstream declaration order, so a change anywhere
// upstream changes every downstream fingerprint (spec §3, §4.7).
func (n *node) Fingerprint() orcahash.Digest {
	digests := make([]orcahash.Digest, 0, 1+len(n.upstream))
	digests = append(digests, n.identity)
	for _, u := range n.upstream {
		digests = append(digests, u.Fingerprint())
	}
	return orcahash.HashDigests(digests...)
}

func (n *node) Result() (table.Table, error) {
	n.pl.mu.RLock()
	t, ok := n.pl.results[n.label]
	n.pl.mu.RUnlock()
	if ok {
		return t, nil
	}

	schema := table.Schema(typespec.ToColumns(n.output.TagSchema()))
	schema = append(schema, typespec.ToColumns(n.output.PacketSchema())...)
	schema = append(schema,
		typespec.ColumnSchema{Name: "_content_hash", Kind: typespec.String},
		typespec.ColumnSchema{Name: "_context_key", Kind: typespec.String},
	)
	return table.NewBuilder(schema).Build()
}

// RunError reports that a node's execution failed during Run.
type RunError struct {
	Node string
	Err  error
}

func (e *RunError) Error() string { return fmt.Sprintf("pipeline: node %q failed: %v", e.Node, e.Err) }
func (e *RunError) Unwrap() error { return e.Err }

// Pipeline is a scoped registry of nodes plus the store they execute
// against. Open/Close push and pop it from the process-wide "current
// pipeline" stack (package pipectx) so pod.On and operator registration can
// find it without an explicit parameter at every call site (spec §9).
type Pipeline struct {
	name string
	st   store.Store

	mu           sync.RWMutex
	nodes        []Node
	labels       map[string]Node
	streamToNode map[stream.Stream]Node
	results      map[string]table.Table

	maxTraversalDepth int
}

// New builds an empty Pipeline backed by st.
func New(name string, st store.Store) *Pipeline {
	return &Pipeline{
		name:              name,
		st:                st,
		labels:            make(map[string]Node),
		streamToNode:      make(map[stream.Stream]Node),
		results:           make(map[string]table.Table),
		maxTraversalDepth: 10000,
	}
}

// WithMaxTraversalDepth overrides the DAG traversal depth guard (default
// 10000), for deployments with unusually wide or deep pipelines.
func (p *Pipeline) WithMaxTraversalDepth(n int) *Pipeline {
	p.maxTraversalDepth = n
	return p
}

// Open pushes p onto the current-pipeline stack and returns p for chaining
// with a deferred Close.
func (p *Pipeline) Open() *Pipeline {
	pipectx.Push(p)
	return p
}

// Close pops p from the current-pipeline stack, discarding any mismatched-
// nesting error. Callers that want the error should use CloseErr.
func (p *Pipeline) Close() {
	_ = p.CloseErr()
}

// CloseErr pops p from the current-pipeline stack, returning
// orcaerr.PipelineStateError if p was not the innermost open pipeline.
func (p *Pipeline) CloseErr() error {
	if !pipectx.Pop(p) {
		return orcaerr.PipelineState("pipeline.Close", p.name, "Close called without a matching Open, or out of nesting order")
	}
	return nil
}

func (p *Pipeline) uniqueLabelLocked(base string) string {
	if _, exists := p.labels[base]; !exists {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, exists := p.labels[candidate]; !exists {
			return candidate
		}
	}
}

func (p *Pipeline) addNodeLocked(label string, identity orcahash.Digest, upstream []Node, output stream.Stream) *node {
	n := &node{label: p.uniqueLabelLocked(label), identity: identity, upstream: upstream, output: output, pl: p}
	p.nodes = append(p.nodes, n)
	p.labels[n.label] = n
	p.streamToNode[output] = n
	return n
}

// Register implements pipectx.Registrar: it is called by pod.On (and any
// other caller holding an open pipeline reference) to add a node for an
// already-computed invocation. Upstream streams not already known to this
// pipeline are auto-registered as source nodes.
func (p *Pipeline) Register(inv pipectx.Invocation) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	upstream := make([]Node, 0, len(inv.Upstream))
	for _, s := range inv.Upstream {
		if n, ok := p.streamToNode[s]; ok {
			upstream = append(upstream, n)
			continue
		}
		upstream = append(upstream, p.addNodeLocked("source", sourceIdentity(s), nil, s))
	}

	n := p.addNodeLocked(inv.Label, inv.Identity, upstream, inv.Output)
	return n.label
}

// RegisterKernel applies kernel to the given upstream nodes' output streams
// and registers the result as a new node, for explicit DAG construction
// without going through the pipectx ambient-registration path (used by
// operators, which unlike pods have no generic On method to hang a
// StreamApplier-style forwarder off of).
func (p *Pipeline) RegisterKernel(kernel operator.Kernel, upstream ...Node) (Node, error) {
	streams := make([]stream.Stream, len(upstream))
	for i, u := range upstream {
		streams[i] = u.Output()
	}
	out, err := kernel.Apply(streams...)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addNodeLocked(kernel.Name(), kernel.Identity(), upstream, out), nil
}

// RegisterPod applies applier to upstream's output and registers the result
// as a new node, the explicit counterpart to pod.On's ambient registration.
func (p *Pipeline) RegisterPod(applier pod.StreamApplier, upstream Node, opts ...pod.InvokeOption) (Node, error) {
	out, err := applier.OnStream(upstream.Output(), opts...)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addNodeLocked(applier.Name(), applier.Identity(), []Node{upstream}, out), nil
}

// Source registers a pre-existing stream as a source node. Its identity is
// the hash of its materialized content plus its declared tag-column set
// (spec §3), so two source registrations of identical data always agree on
// fingerprint regardless of how the data was produced.
func (p *Pipeline) Source(s stream.Stream, name string) (Node, error) {
	identity := sourceIdentity(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.streamToNode[s]; ok {
		return existing, nil
	}
	return p.addNodeLocked(name, identity, nil, s), nil
}

func sourceIdentity(s stream.Stream) orcahash.Digest {
	pairs, err := s.Flow()
	if err != nil {
		return orcahash.HashBytes("source_error", []byte(err.Error()))
	}
	rowDigests := make([]orcahash.Digest, len(pairs))
	for i, pr := range pairs {
		rowDigests[i] = orcahash.HashDigests(pr.Tag.Digest(), pr.Packet.ContentHash())
	}
	schemaDigest := orcahash.HashBytes("source_tag_columns", []byte(strings.Join(s.TagSchema().Names(), ",")))
	return orcahash.HashTable(schemaDigest, rowDigests)
}

// Node looks up a registered node by label.
func (p *Pipeline) Node(label string) (Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.labels[label]
	return n, ok
}

// topoOrderLocked returns nodes in a topological order via Kahn's
// algorithm, ties broken by registration order. Guards against a
// pathologically deep or cyclic graph via maxTraversalDepth.
func (p *Pipeline) topoOrderLocked() ([]Node, error) {
	indegree := make(map[Node]int, len(p.nodes))
	downstream := make(map[Node][]Node, len(p.nodes))
	for _, n := range p.nodes {
		indegree[n] = len(n.Upstream())
		for _, u := range n.Upstream() {
			downstream[u] = append(downstream[u], n)
		}
	}

	var ready []Node
	for _, n := range p.nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]Node, 0, len(p.nodes))
	depth := 0
	for len(ready) > 0 {
		depth++
		if depth > p.maxTraversalDepth {
			return nil, orcaerr.PipelineState("pipeline.Run", "", "DAG traversal exceeded max depth, possible cycle")
		}
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range downstream[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(p.nodes) {
		return nil, orcaerr.PipelineState("pipeline.Run", "", "DAG has a cycle")
	}
	return order, nil
}

// Fingerprint hashes the topologically sorted (node fingerprint, upstream
// indices) list, giving the whole pipeline one content-addressed identity
// (spec §4.7).
func (p *Pipeline) Fingerprint() (orcahash.Digest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, err := p.topoOrderLocked()
	if err != nil {
		return orcahash.Digest{}, err
	}
	indexOf := make(map[Node]int, len(order))
	for i, n := range order {
		indexOf[n] = i
	}

	digests := make([]orcahash.Digest, 0, len(order))
	for _, n := range order {
		fields := []orcahash.FieldValue{
			{Name: "_node_fp", Kind: typespec.String, Value: n.Fingerprint().String()},
		}
		for i, u := range n.Upstream() {
			fields = append(fields, orcahash.FieldValue{
				Name:  fmt.Sprintf("_upstream_%d", i),
				Kind:  typespec.Int64,
				Value: int64(indexOf[u]),
			})
		}
		digests = append(digests, orcahash.HashFields(fields))
	}
	return orcahash.HashDigests(digests...), nil
}

// Run executes every node in topological order, consulting the store
// before recomputing each one. Independent nodes (the same topological
// layer) run concurrently through a bounded worker pool (spec §5);
// each node's own row order is always preserved. Run aborts on the first
// node error, wrapped as *RunError.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, span := orcaobs.StartSpan(ctx, "orcapod.pipeline.run", orcaobs.Attrs{"orcapod.pipeline.name": p.name})
	defer span.End()

	// Re-derive each source node's identity from its stream's current
	// content, so a source whose data changed since registration gets a new
	// fingerprint, and so do its downstream nodes.
	p.mu.Lock()
	for _, n := range p.nodes {
		if src, ok := n.(*node); ok && len(src.upstream) == 0 {
			src.identity = sourceIdentity(src.output)
		}
	}
	p.mu.Unlock()

	p.mu.RLock()
	order, err := p.topoOrderLocked()
	p.mu.RUnlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(orcaobs.StatusError, err.Error())
		return err
	}

	layers := layerByUpstream(order)
	pool := syncutil.NewWorkerPool(len(p.nodes) + 1)
	defer pool.Close()

	for _, layer := range layers {
		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			firstErr error
		)
		for _, n := range layer {
			n := n
			wg.Add(1)
			_ = pool.Submit(func() {
				defer wg.Done()
				if err := p.runNode(ctx, n); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = &RunError{Node: n.Label(), Err: err}
					}
					mu.Unlock()
				}
			})
		}
		wg.Wait()
		if firstErr != nil {
			span.RecordError(firstErr)
			span.SetStatus(orcaobs.StatusError, firstErr.Error())
			return firstErr
		}
	}
	span.SetStatus(orcaobs.StatusOK, "")
	return nil
}

// layerByUpstream groups a topologically sorted node list into layers where
// every node in a layer has all of its upstream nodes in strictly earlier
// layers, so every node within a layer can run concurrently.
func layerByUpstream(order []Node) [][]Node {
	layerOf := make(map[Node]int, len(order))
	var layers [][]Node
	for _, n := range order {
		l := 0
		for _, u := range n.Upstream() {
			if layerOf[u]+1 > l {
				l = layerOf[u] + 1
			}
		}
		layerOf[n] = l
		for len(layers) <= l {
			layers = append(layers, nil)
		}
		layers[l] = append(layers[l], n)
	}
	return layers
}

func (p *Pipeline) runNode(ctx context.Context, n Node) error {
	fp := n.Fingerprint()
	start := time.Now()

	ctx, span := orcaobs.StartSpan(ctx, "orcapod.node.invoke", orcaobs.Attrs{
		orcaobs.AttrNodeLabel:   n.Label(),
		orcaobs.AttrFingerprint: fp.String(),
	})
	defer func() {
		orcaobs.InvokeDuration(ctx, n.Label(), float64(time.Since(start).Milliseconds()))
		span.End()
	}()

	if p.st != nil {
		if has, err := p.st.Has(ctx, fp); err == nil && has {
			t, err := p.st.GetTable(ctx, fp)
			if err == nil {
				orcaobs.CacheHit(ctx, n.Label())
				span.SetAttributes(orcaobs.Attrs{orcaobs.AttrRowCount: t.NumRows()})
				p.mu.Lock()
				p.results[n.Label()] = t
				p.mu.Unlock()
				return nil
			}
		}
	}
	orcaobs.CacheMiss(ctx, n.Label())

	t, err := n.Output().AsTable(stream.AsTableOptions{ContentHashColumn: "_content_hash", IncludeDataContext: true})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(orcaobs.StatusError, err.Error())
		return err
	}
	span.SetAttributes(orcaobs.Attrs{orcaobs.AttrRowCount: t.NumRows()})

	if p.st != nil {
		if err := p.st.PutTable(ctx, fp, t); err != nil {
			span.RecordError(err)
			span.SetStatus(orcaobs.StatusError, err.Error())
			return err
		}
	}

	p.mu.Lock()
	p.results[n.Label()] = t
	p.mu.Unlock()
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/brianarnold/orcapod/orcaerr"
	"github.com/brianarnold/orcapod/pod"
	"github.com/brianarnold/orcapod/record"
	"github.com/brianarnold/orcapod/stream"
	"github.com/brianarnold/orcapod/store"
	"github.com/brianarnold/orcapod/typespec"
)

type doubleIn struct {
	X int64 `orca:"x"`
}

type doubleOut struct {
	Y int64 `orca:"y"`
}

func doubleFn(in doubleIn) (doubleOut, error) {
	return doubleOut{Y: in.X * 2}, nil
}

type tripleIn struct {
	Y int64 `orca:"y"`
}

type tripleOut struct {
	Z int64 `orca:"z"`
}

func tripleFn(in tripleIn) (tripleOut, error) {
	return tripleOut{Z: in.Y * 3}, nil
}

type squareOut struct {
	Sq int64 `orca:"sq"`
}

func squareFn(in doubleIn) (squareOut, error) {
	return squareOut{Sq: in.X * in.X}, nil
}

// countingFn wraps fn so callers can assert exactly how many times the
// wrapped user function actually ran, the basis for every memoization test
// below: a cache hit must mean zero additional calls, not just "no error."
func countingFn[In, Out any](calls *int, fn func(In) (Out, error)) func(In) (Out, error) {
	return func(in In) (Out, error) {
		*calls++
		return fn(in)
	}
}

func sourceStream(t *testing.T, values ...int64) stream.Stream {
	t.Helper()
	tagSpec := typespec.MustNew(typespec.Field{Name: "id", Kind: typespec.Int64})
	packetSpec := typespec.MustNew(typespec.Field{Name: "x", Kind: typespec.Int64})

	var pairs []record.Pair
	for i, v := range values {
		tag, err := record.NewTag(map[string]any{"id": int64(i)}, tagSpec)
		if err != nil {
			t.Fatalf("NewTag: %v", err)
		}
		packet, err := record.NewPacket(map[string]any{"x": v}, packetSpec, nil, record.CurrentDataContext)
		if err != nil {
			t.Fatalf("NewPacket: %v", err)
		}
		pair, err := record.NewRecord(tag, packet)
		if err != nil {
			t.Fatalf("NewRecord: %v", err)
		}
		pairs = append(pairs, pair)
	}
	return stream.FromSlice(pairs, tagSpec, packetSpec)
}

func TestPipeline_RegisterPodAmbientViaOn(t *testing.T) {
	dp, err := pod.NewFunctionPod("double", doubleFn, nil, "v1")
	if err != nil {
		t.Fatalf("NewFunctionPod: %v", err)
	}

	pl := New("test", store.NewMemStore())
	pl.Open()
	defer pl.Close()

	src, err := pl.Source(sourceStream(t, 1, 2, 3), "numbers")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}

	out, err := dp.On(src.Output())
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	doubleNode, ok := pl.Node("double")
	if !ok {
		t.Fatalf("expected a node registered under label %q", "double")
	}
	if doubleNode.Output() != out {
		t.Errorf("registered node's output stream does not match On's return value")
	}
	if len(doubleNode.Upstream()) != 1 || doubleNode.Upstream()[0] != src {
		t.Errorf("expected double node's upstream to be the source node")
	}
}

func TestPipeline_RegisterPodExplicit(t *testing.T) {
	dp, err := pod.NewFunctionPod("double", doubleFn, nil, "v1")
	if err != nil {
		t.Fatalf("NewFunctionPod: %v", err)
	}

	pl := New("test", store.NewMemStore())
	src, err := pl.Source(sourceStream(t, 1, 2), "numbers")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	n, err := pl.RegisterPod(dp, src)
	if err != nil {
		t.Fatalf("RegisterPod: %v", err)
	}
	if n.Label() != "double" {
		t.Errorf("Label() = %q, want %q", n.Label(), "double")
	}
	rows, err := stream.Flow(n.Output())
	if err != nil {
		t.Fatalf("Flow: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	y, _ := rows[0].Packet.Get("y")
	if y != int64(2) {
		t.Errorf("row 0 y = %v, want 2", y)
	}
}

func TestPipeline_FingerprintStableAcrossRebuilds(t *testing.T) {
	build := func() string {
		dp, err := pod.NewFunctionPod("double", doubleFn, nil, "v1")
		if err != nil {
			t.Fatalf("NewFunctionPod: %v", err)
		}
		pl := New("test", store.NewMemStore())
		src, err := pl.Source(sourceStream(t, 1, 2, 3), "numbers")
		if err != nil {
			t.Fatalf("Source: %v", err)
		}
		if _, err := pl.RegisterPod(dp, src); err != nil {
			t.Fatalf("RegisterPod: %v", err)
		}
		fp, err := pl.Fingerprint()
		if err != nil {
			t.Fatalf("Fingerprint: %v", err)
		}
		return fp.String()
	}

	a := build()
	b := build()
	if a != b {
		t.Errorf("Fingerprint differs across identical rebuilds: %s vs %s", a, b)
	}
}

func TestPipeline_FingerprintChangesOnDifferentInput(t *testing.T) {
	build := func(values ...int64) string {
		dp, err := pod.NewFunctionPod("double", doubleFn, nil, "v1")
		if err != nil {
			t.Fatalf("NewFunctionPod: %v", err)
		}
		pl := New("test", store.NewMemStore())
		src, err := pl.Source(sourceStream(t, values...), "numbers")
		if err != nil {
			t.Fatalf("Source: %v", err)
		}
		if _, err := pl.RegisterPod(dp, src); err != nil {
			t.Fatalf("RegisterPod: %v", err)
		}
		fp, err := pl.Fingerprint()
		if err != nil {
			t.Fatalf("Fingerprint: %v", err)
		}
		return fp.String()
	}

	a := build(1, 2, 3)
	b := build(1, 2, 4)
	if a == b {
		t.Error("expected different source content to change the pipeline fingerprint")
	}
}

func TestPipeline_RunMaterializesAndMemoizes(t *testing.T) {
	dp, err := pod.NewFunctionPod("double", doubleFn, nil, "v1")
	if err != nil {
		t.Fatalf("NewFunctionPod: %v", err)
	}
	st := store.NewMemStore()
	pl := New("test", st)
	src, err := pl.Source(sourceStream(t, 1, 2, 3), "numbers")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	doubleNode, err := pl.RegisterPod(dp, src)
	if err != nil {
		t.Fatalf("RegisterPod: %v", err)
	}

	ctx := context.Background()
	if err := pl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result, err := doubleNode.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.NumRows() != 3 {
		t.Fatalf("Result has %d rows, want 3", result.NumRows())
	}

	fp := doubleNode.Fingerprint()
	has, err := st.Has(ctx, fp)
	if err != nil || !has {
		t.Fatalf("store.Has(doubleNode fingerprint) = (%v, %v), want (true, nil)", has, err)
	}

	if err := pl.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
}

// TestPipeline_SecondRunInvokesPodZeroTimes covers the zero-reinvocation
// property of the memoization protocol: once a node's table is cached, a
// second Run must not call the wrapped pod function at all, not merely
// avoid erroring.
func TestPipeline_SecondRunInvokesPodZeroTimes(t *testing.T) {
	var calls int
	dp, err := pod.NewFunctionPod("double", countingFn(&calls, doubleFn), nil, "v1")
	if err != nil {
		t.Fatalf("NewFunctionPod: %v", err)
	}
	pl := New("test", store.NewMemStore())
	src, err := pl.Source(sourceStream(t, 1, 2, 3), "numbers")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if _, err := pl.RegisterPod(dp, src); err != nil {
		t.Fatalf("RegisterPod: %v", err)
	}

	ctx := context.Background()
	if err := pl.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("cold Run invoked the pod %d times, want 3 (one per row)", calls)
	}

	if err := pl.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("second Run invoked the pod %d additional time(s), want 0 (cache hit)", calls-3)
	}
}

// TestPipeline_ImplVersionBumpInvalidatesDownstreamOnly covers cache
// invalidation scope: bumping one pod's impl_version must force that node
// and everything downstream of it to recompute, while a sibling node that
// shares the same source but doesn't depend on the changed pod stays
// served from cache.
func TestPipeline_ImplVersionBumpInvalidatesDownstreamOnly(t *testing.T) {
	var doubleCalls, tripleCalls, squareCalls int

	build := func(doubleVersion string, st store.Store) *Pipeline {
		dp, err := pod.NewFunctionPod("double", countingFn(&doubleCalls, doubleFn), nil, doubleVersion)
		if err != nil {
			t.Fatalf("NewFunctionPod(double): %v", err)
		}
		tp, err := pod.NewFunctionPod("triple", countingFn(&tripleCalls, tripleFn), nil, "v1")
		if err != nil {
			t.Fatalf("NewFunctionPod(triple): %v", err)
		}
		sp, err := pod.NewFunctionPod("square", countingFn(&squareCalls, squareFn), nil, "v1")
		if err != nil {
			t.Fatalf("NewFunctionPod(square): %v", err)
		}

		pl := New("test", st)
		src, err := pl.Source(sourceStream(t, 1, 2, 3), "numbers")
		if err != nil {
			t.Fatalf("Source: %v", err)
		}
		doubleNode, err := pl.RegisterPod(dp, src)
		if err != nil {
			t.Fatalf("RegisterPod(double): %v", err)
		}
		if _, err := pl.RegisterPod(tp, doubleNode); err != nil {
			t.Fatalf("RegisterPod(triple): %v", err)
		}
		if _, err := pl.RegisterPod(sp, src); err != nil {
			t.Fatalf("RegisterPod(square): %v", err)
		}
		return pl
	}

	st := store.NewMemStore()
	ctx := context.Background()

	if err := build("v1", st).Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if doubleCalls != 3 || tripleCalls != 3 || squareCalls != 3 {
		t.Fatalf("cold Run: double=%d triple=%d square=%d, want 3/3/3", doubleCalls, tripleCalls, squareCalls)
	}

	if err := build("v2", st).Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if doubleCalls != 6 {
		t.Errorf("double's impl_version changed, should recompute: got %d total calls, want 6", doubleCalls)
	}
	if tripleCalls != 6 {
		t.Errorf("triple is downstream of double, should recompute: got %d total calls, want 6", tripleCalls)
	}
	if squareCalls != 3 {
		t.Errorf("square does not depend on double, should stay cached: got %d total calls, want 3", squareCalls)
	}
}

// TestPipeline_SharedStoreSecondPipelineReusesAllResults covers Concrete
// Scenario S4: two independently built pipelines sharing one store. Before
// the second pipeline ever runs, every one of its nodes' results must
// already equal the first pipeline's post-run tables, and running it must
// invoke the wrapped pod functions zero times.
func TestPipeline_SharedStoreSecondPipelineReusesAllResults(t *testing.T) {
	var calls int

	build := func(st store.Store) (*Pipeline, Node) {
		dp, err := pod.NewFunctionPod("double", countingFn(&calls, doubleFn), nil, "v1")
		if err != nil {
			t.Fatalf("NewFunctionPod: %v", err)
		}
		pl := New("test", st)
		src, err := pl.Source(sourceStream(t, 1, 2, 3), "numbers")
		if err != nil {
			t.Fatalf("Source: %v", err)
		}
		doubleNode, err := pl.RegisterPod(dp, src)
		if err != nil {
			t.Fatalf("RegisterPod: %v", err)
		}
		return pl, doubleNode
	}

	st := store.NewMemStore()
	ctx := context.Background()

	p1, p1Double := build(st)
	if err := p1.Run(ctx); err != nil {
		t.Fatalf("P1.Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("P1 cold run invoked the pod %d times, want 3", calls)
	}
	p1Result, err := p1Double.Result()
	if err != nil {
		t.Fatalf("P1 Result: %v", err)
	}

	p2, p2Double := build(st)

	has, err := st.Has(ctx, p2Double.Fingerprint())
	if err != nil || !has {
		t.Fatalf("store.Has(P2's double fingerprint) = (%v, %v), want (true, nil) before P2.Run", has, err)
	}
	cached, err := st.GetTable(ctx, p2Double.Fingerprint())
	if err != nil {
		t.Fatalf("store.GetTable(P2's double fingerprint): %v", err)
	}
	if cached.NumRows() != p1Result.NumRows() {
		t.Fatalf("P2's pre-run cached table has %d rows, want %d (P1's post-run row count)", cached.NumRows(), p1Result.NumRows())
	}

	if err := p2.Run(ctx); err != nil {
		t.Fatalf("P2.Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("P2.Run invoked the pod %d additional time(s), want 0 (fully served from the shared store)", calls-3)
	}
}

func TestPipeline_RunPropagatesPodError(t *testing.T) {
	failFn := func(in doubleIn) (doubleOut, error) {
		return doubleOut{}, context.DeadlineExceeded
	}
	fp, err := pod.NewFunctionPod("fails", failFn, nil, "v1")
	if err != nil {
		t.Fatalf("NewFunctionPod: %v", err)
	}

	pl := New("test", store.NewMemStore())
	src, err := pl.Source(sourceStream(t, 1), "numbers")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if _, err := pl.RegisterPod(fp, src); err != nil {
		t.Fatalf("RegisterPod: %v", err)
	}

	err = pl.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to propagate the pod's runtime error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %T: %v", err, err)
	}
	if !orcaerr.HasCode(runErr.Err, orcaerr.PodRuntimeError) {
		t.Errorf("expected wrapped error to carry PodRuntimeError, got %v", runErr.Err)
	}
}

func TestPipeline_CloseErrOnMismatchedNesting(t *testing.T) {
	pl := New("test", store.NewMemStore())
	if err := pl.CloseErr(); err == nil {
		t.Error("expected CloseErr to fail when pipeline was never Open'd")
	}
}

func TestPipeline_SourceIsIdempotentForSameStream(t *testing.T) {
	pl := New("test", store.NewMemStore())
	s := sourceStream(t, 1, 2)

	n1, err := pl.Source(s, "numbers")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	n2, err := pl.Source(s, "numbers-again")
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if n1 != n2 {
		t.Error("registering the same stream twice should return the same node")
	}
}

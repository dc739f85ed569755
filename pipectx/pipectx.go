// Package pipectx holds the process-wide "current pipeline" stack (spec §9,
// "scoped pipeline context"). It exists as its own package so that package
// pod (whose FunctionPod.On needs to register into an open pipeline) and
// package pipeline (which imports pod to register pod and kernel nodes)
// do not form an import cycle: pod depends only on the narrow Registrar
// interface here, and pipeline is the only implementer.
package pipectx

import (
	"sync"

	"github.com/brianarnold/orcapod/orcahash"
	"github.com/brianarnold/orcapod/stream"
)

// Invocation describes one pod or kernel invocation for registration with
// whatever pipeline is currently open.
type Invocation struct {
	Label      string
	Identity   orcahash.Digest
	Upstream   []stream.Stream
	Output     stream.Stream
	Invoke     func() (stream.Stream, error)
}

// Registrar is implemented by *pipeline.Pipeline. Register returns the
// label actually assigned to the node (collisions get a "_N" suffix).
type Registrar interface {
	Register(inv Invocation) string
}

var (
	mu    sync.Mutex
	stack []Registrar
)

// Push makes r the current pipeline for the calling goroutine's lifetime
// until a matching Pop. The stack is process-wide, matching §9's model of a
// single active pipeline scope rather than true goroutine-local state.
func Push(r Registrar) {
	mu.Lock()
	defer mu.Unlock()
	stack = append(stack, r)
}

// Pop removes the top of the stack, returning false if it is empty or if
// top does not match the given registrar (mismatched nesting).
func Pop(r Registrar) bool {
	mu.Lock()
	defer mu.Unlock()
	if len(stack) == 0 || stack[len(stack)-1] != r {
		return false
	}
	stack = stack[:len(stack)-1]
	return true
}

// Current returns the innermost open pipeline, if any.
func Current() (Registrar, bool) {
	mu.Lock()
	defer mu.Unlock()
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}

// Package orcaerr defines the structured error taxonomy shared across the
// OrcaPod packages: schema checks at construction time, store fingerprint
// invariants, and pod execution failures all surface as an *Error carrying a
// Code that callers can branch on with errors.Is.
package orcaerr

import (
	"errors"
	"fmt"
)

// Code categorizes the kind of failure so callers can branch on it with
// errors.Is rather than string-matching messages.
type Code string

const (
	// SchemaMismatch indicates incompatible typespecs at operator or pod
	// construction (e.g. a shared join key with differing logical types).
	SchemaMismatch Code = "schema_mismatch"

	// NameCollision indicates overlapping non-tag columns at a join, or
	// overlapping tag/packet keys within a record.
	NameCollision Code = "name_collision"

	// MissingField indicates a pod input field is absent from the input
	// packet schema.
	MissingField Code = "missing_field"

	// UnsupportedType indicates a logical type outside the supported set.
	UnsupportedType Code = "unsupported_type"

	// FingerprintCollision indicates the store observed two distinct
	// payloads under the same invocation fingerprint.
	FingerprintCollision Code = "fingerprint_collision"

	// PodRuntimeError wraps a panic or error raised by user code inside a
	// pod invocation.
	PodRuntimeError Code = "pod_runtime_error"

	// PipelineStateError indicates an operator/pod was invoked in a stale
	// or mismatched pipeline context, or Run was called outside its
	// required preconditions.
	PipelineStateError Code = "pipeline_state_error"
)

// Error is a structured error carrying an operation name, error code,
// human-readable message, and an optional wrapped cause.
type Error struct {
	// Op is the operation that failed, e.g. "join.construct" or "pod.invoke".
	Op string

	// Code categorizes the error for programmatic handling.
	Code Code

	// Message is a human-readable description of what went wrong.
	Message string

	// Err is the underlying cause, if any.
	Err error

	// NodeLabel identifies the offending pipeline node, set only for
	// PodRuntimeError and PipelineStateError.
	NodeLabel string

	// InputTag carries the record.Tag being processed when a
	// PodRuntimeError occurred, if available. Typed as any to avoid a
	// dependency from orcaerr onto the record package.
	InputTag any
}

// New creates an *Error with the given operation, code, message, and
// optional cause.
func New(op string, code Code, msg string, cause error) *Error {
	return &Error{Op: op, Code: code, Message: msg, Err: cause}
}

// Error renders the op, code, message, and wrapped cause if present.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Op, e.Code, e.Message)
}

// Unwrap returns the underlying cause so errors.Is and errors.As traverse
// the error chain.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error. Two Errors match if they
// share the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HasCode reports whether err (or any error in its chain) carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

// Schema returns a SchemaMismatch error for op.
func Schema(op, msg string) *Error {
	return New(op, SchemaMismatch, msg, nil)
}

// Collision returns a NameCollision error for op.
func Collision(op, msg string) *Error {
	return New(op, NameCollision, msg, nil)
}

// Missing returns a MissingField error for op.
func Missing(op, msg string) *Error {
	return New(op, MissingField, msg, nil)
}

// Unsupported returns an UnsupportedType error for op.
func Unsupported(op, msg string) *Error {
	return New(op, UnsupportedType, msg, nil)
}

// Collide returns a FingerprintCollision error for op.
func Collide(op, msg string) *Error {
	return New(op, FingerprintCollision, msg, nil)
}

// PodRuntime wraps cause raised by user code during a pod invocation at
// nodeLabel, for tag.
func PodRuntime(nodeLabel string, tag any, cause error) *Error {
	return &Error{
		Op:        "pod.invoke",
		Code:      PodRuntimeError,
		Message:   "user function returned an error",
		Err:       cause,
		NodeLabel: nodeLabel,
		InputTag:  tag,
	}
}

// PipelineState returns a PipelineStateError for op, optionally naming the
// offending node.
func PipelineState(op, nodeLabel, msg string) *Error {
	return &Error{Op: op, Code: PipelineStateError, Message: msg, NodeLabel: nodeLabel}
}

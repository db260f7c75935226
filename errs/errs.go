// Package errs defines the language-neutral error kinds used across the
// agent execution runtime (manifest validation, state storage, tool
// dispatch, the step loop, the suspension resumer, and the stream
// orchestrator). Every runtime error is an *Error carrying one Kind, so
// callers can classify failures with errs.Is(err, kind) or KindOf without
// depending on string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the domain-level error categories produced by the runtime.
type Kind string

const (
	// KindBadRequest covers malformed manifest sets, unknown approval ids,
	// non-continuable run status, and mismatched manifest versions.
	KindBadRequest Kind = "bad_request"
	// KindNotFound covers missing run state and missing manifests.
	KindNotFound Kind = "not_found"
	// KindTimeout covers a run exceeding its configured deadline.
	KindTimeout Kind = "timeout"
	// KindCancelled covers cooperative cancellation via the run's context.
	KindCancelled Kind = "cancelled"
	// KindOutputValidation covers output-tool schema validation failures
	// once retries are exhausted or disabled.
	KindOutputValidation Kind = "output_validation"
	// KindToolError covers a tool executor failure. It never aborts a run by
	// itself; it is encoded as a tool-result and the run continues, unless
	// the failing tool is the output tool.
	KindToolError Kind = "tool_error"
	// KindUpstream covers completions-gateway or external-provider failures.
	KindUpstream Kind = "upstream"
	// KindInternal covers invariant violations: a suspension stack shorter
	// than two entries, a missing pending tool call id on an intermediate
	// suspension-stack entry, an unreachable switch
	// arm, or similar programmer errors that should never occur.
	KindInternal Kind = "internal"
)

// Error is the concrete error type returned by every runtime component. It
// wraps an underlying cause (optional) with a classification Kind.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error under the given kind, preserving it as
// the Unwrap target.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: err.Error(), err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.msg == "" {
		return string(e.kind)
	}
	return e.msg
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As traversal.
func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Is reports whether err (or any error it wraps) was constructed with kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return "", false
}

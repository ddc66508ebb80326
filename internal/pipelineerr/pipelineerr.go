// Package pipelineerr defines the error taxonomy from spec §7 as typed
// errors, so the Orchestrator can switch on kind to pick an exit code
// instead of inspecting error strings.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the Orchestrator's exit-code decision.
type Kind int

const (
	// KindTransientItem is a single unreadable/uncopyable file; never aborts.
	KindTransientItem Kind = iota
	// KindBackendTransient is a per-call backend failure for one photo.
	KindBackendTransient
	// KindInvariantViolation is a state-level contradiction; fatal, exit 4.
	KindInvariantViolation
	// KindEnvironmentFatal is missing input or an unwritable working directory; fatal.
	KindEnvironmentFatal
	// KindCacheCorruption is an unparseable persisted artifact; non-fatal.
	KindCacheCorruption
	// KindParallelInfrastructure is a worker-pool-level failure; triggers serial fallback.
	KindParallelInfrastructure
	// KindCancellation is a user-requested cancellation; non-fatal, exits 0.
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindTransientItem:
		return "transient_item"
	case KindBackendTransient:
		return "backend_transient"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindEnvironmentFatal:
		return "environment_fatal"
	case KindCacheCorruption:
		return "cache_corruption"
	case KindParallelInfrastructure:
		return "parallel_infrastructure"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string // component/operation that produced the error, e.g. "reference.load"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindTransientItem for anything else — the taxonomy's
// least-severe, per-item classification.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransientItem
}

// IsFatal reports whether kind should abort the run.
func (k Kind) IsFatal() bool {
	return k == KindInvariantViolation || k == KindEnvironmentFatal
}

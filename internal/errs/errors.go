// Package errs provides the closed set of error kinds the diarization
// core can raise, plus a fluent builder for attaching context before an
// error crosses a component boundary.
package errs

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"
)

// Kind is one of the error kinds enumerated in the core's error handling
// design. It is never freeform: every CoreError carries exactly one.
type Kind string

const (
	KindArchiveOpenFailed         Kind = "ARCHIVE_OPEN_FAILED"
	KindArchiveWriteFailed        Kind = "ARCHIVE_WRITE_FAILED"
	KindAppendOnlyViolation       Kind = "APPEND_ONLY_VIOLATION"
	KindSchemaViolation           Kind = "SCHEMA_VIOLATION"
	KindIdentityMismatch          Kind = "IDENTITY_MISMATCH"
	KindWriteBackpressure         Kind = "WRITE_BACKPRESSURE"
	KindPartialAppendDetected     Kind = "PARTIAL_APPEND_DETECTED"
	KindConfigRejected            Kind = "CONFIG_REJECTED"
	KindDuplicateJobDetected      Kind = "DUPLICATE_JOB_DETECTED"
	KindJobNotFound               Kind = "JOB_NOT_FOUND"
	KindJobNotCancellable         Kind = "JOB_NOT_CANCELLABLE"
	KindCPUDispatchThrottled      Kind = "CPU_DISPATCH_THROTTLED"
	KindChunkTimedOut             Kind = "CHUNK_TIMED_OUT"
	KindChunkProcessingFailed     Kind = "CHUNK_PROCESSING_FAILED"
	KindAdapterRateLimited        Kind = "ADAPTER_RATE_LIMITED"
	KindAdapterTemporaryUnavail   Kind = "ADAPTER_TEMPORARY_UNAVAILABLE"
	KindAdapterInputRejected      Kind = "ADAPTER_INPUT_REJECTED"
	KindAuditAppendFailed         Kind = "AUDIT_APPEND_FAILED"
	KindPolicyViolationDetected   Kind = "POLICY_VIOLATION_DETECTED"
	KindExportManifestInvalid    Kind = "EXPORT_MANIFEST_INVALID"
)

// Retryable reports whether a worker should retry the call that produced
// an error of this kind, rather than fail the enclosing job immediately.
func (k Kind) Retryable() bool {
	switch k {
	case KindAdapterRateLimited, KindAdapterTemporaryUnavail, KindChunkTimedOut:
		return true
	default:
		return false
	}
}

// CoreError wraps an underlying error with the kind, component, and
// context needed to surface it consistently in audit rows, job `error`
// fields, and logs.
type CoreError struct {
	Err       error
	Kind      Kind
	Component string
	Context   map[string]any
	Timestamp time.Time

	mu       sync.RWMutex
	reported bool
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, SomeKind) style matching via a sentinel built
// from New(nil).Kind(k).Build(), and also matches two CoreErrors with the
// same Kind.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if stderrors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// MarkReported flags that this error has already produced an audit row,
// so callers further up the stack don't double-report it.
func (e *CoreError) MarkReported() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reported = true
}

// IsReported reports whether MarkReported was already called.
func (e *CoreError) IsReported() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reported
}

// Builder accumulates context before producing a CoreError.
type Builder struct {
	err       error
	kind      Kind
	component string
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *Builder {
	return &Builder{err: err}
}

// Newf starts a builder around a formatted error message.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

func (b *Builder) Kind(k Kind) *Builder {
	b.kind = k
	return b
}

func (b *Builder) Component(component string) *Builder {
	b.component = component
	return b
}

func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the CoreError. A Kind must have been set; an unset
// Kind is itself a bug in the calling code, not a condition to paper
// over, so Build panics rather than silently defaulting.
func (b *Builder) Build() *CoreError {
	if b.kind == "" {
		panic("errs: Build called without a Kind")
	}
	return &CoreError{
		Err:       b.err,
		Kind:      b.kind,
		Component: b.component,
		Context:   b.context,
		Timestamp: time.Now().UTC(),
	}
}

// As extracts a *CoreError from err, following the same contract as the
// standard library's errors.As.
func As(err error, target **CoreError) bool {
	return stderrors.As(err, target)
}

// KindOf returns the Kind of err if it is (or wraps) a *CoreError, and
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// Sentinel builds a standalone CoreError of the given kind with no
// underlying cause, useful for errors.Is comparisons in tests and for
// signaling a kind without an originating error value.
func Sentinel(k Kind) *CoreError {
	return New(nil).Kind(k).Build()
}

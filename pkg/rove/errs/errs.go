// Package errs defines the error taxonomy shared across Rove's core
// subsystems. Every user-visible error string is expected to flow through
// Scrub before it leaves the process.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the core's failure
// taxonomy. Kinds are informational — callers should use KindOf below,
// or errors.Is against an errs.New value of the same Kind, rather than
// string-matching.
type Kind string

const (
	KindConfig                Kind = "config"
	KindDatabase               Kind = "database"
	KindLLMProvider            Kind = "llm_provider"
	KindAllProvidersExhausted  Kind = "all_providers_exhausted"
	KindLLMTimeout             Kind = "llm_timeout"
	KindResultSizeExceeded     Kind = "result_size_exceeded"
	KindMaxIterationsExceeded  Kind = "max_iterations_exceeded"
	KindPathDenied             Kind = "path_denied"
	KindPathOutsideWorkspace   Kind = "path_outside_workspace"
	KindPathCanonicalization   Kind = "path_canonicalization"
	KindInvalidSignature       Kind = "invalid_signature"
	KindHashMismatch           Kind = "hash_mismatch"
	KindEnvelopeExpired        Kind = "envelope_expired"
	KindNonceReused            Kind = "nonce_reused"
	KindRateLimitExceeded      Kind = "rate_limit_exceeded"
	KindCircuitBreakerTripped  Kind = "circuit_breaker_tripped"
	KindDaemonAlreadyRunning   Kind = "daemon_already_running"
	KindPluginCrashed          Kind = "plugin_crashed"
	KindToolNotLoaded          Kind = "tool_not_loaded"
	KindUnknownOperation       Kind = "unknown_operation"
	KindConfirmationDenied     Kind = "confirmation_denied"
	KindDaemonShuttingDown     Kind = "daemon_shutting_down"
)

// Recoverable reports whether a Kind is expected to be retryable by the
// caller (possibly after waiting, narrowing, or simplifying the request).
func (k Kind) Recoverable() bool {
	switch k {
	case KindInvalidSignature, KindHashMismatch, KindCircuitBreakerTripped,
		KindDaemonAlreadyRunning, KindPluginCrashed, KindDaemonShuttingDown:
		return false
	default:
		return true
	}
}

// Hint returns the short user-visible remediation hint for a Kind.
func (k Kind) Hint() string {
	switch k {
	case KindConfig:
		return "check config file"
	case KindDatabase:
		return "retry / restart"
	case KindLLMProvider, KindAllProvidersExhausted:
		return "check keys & network"
	case KindLLMTimeout:
		return "retry"
	case KindResultSizeExceeded:
		return "narrow query"
	case KindMaxIterationsExceeded:
		return "simplify task"
	case KindPathDenied, KindPathOutsideWorkspace, KindPathCanonicalization:
		return "path not allowed"
	case KindInvalidSignature, KindHashMismatch:
		return "file may be tampered"
	case KindEnvelopeExpired, KindNonceReused:
		return "retry"
	case KindRateLimitExceeded:
		return "wait"
	case KindCircuitBreakerTripped:
		return "too many ops"
	case KindDaemonAlreadyRunning:
		return "stop first"
	case KindPluginCrashed:
		return "plugin disabled"
	case KindConfirmationDenied:
		return "operator declined"
	case KindDaemonShuttingDown:
		return "retry after restart"
	default:
		return ""
	}
}

// Error wraps an underlying cause with a Kind so callers can classify
// failures without parsing strings.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errs.New(KindX, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error. Returns ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

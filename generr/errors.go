// Package generr defines the error taxonomy shared by the transport, the
// retry policy and the public client surface. Callers classify outcomes by
// Kind; the concrete cause stays wrapped underneath.
package generr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and presentation decisions.
type Kind int

const (
	// KindUnknown is the zero value; treated as fatal.
	KindUnknown Kind = iota
	// KindNetwork is a transport failure (DNS, connection reset, timeout).
	KindNetwork
	// KindRateLimit is an HTTP 429, optionally carrying a Retry-After hint.
	KindRateLimit
	// KindServer is an HTTP 5xx.
	KindServer
	// KindClient is an HTTP 4xx other than 429.
	KindClient
	// KindCancelled means the caller cancelled before or during dispatch.
	KindCancelled
	// KindValidation is a client-side rejection of malformed parameters.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindCancelled:
		return "cancelled"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried across component boundaries.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "generate_image".
	Op string
	// StatusCode is the HTTP status, when the error came off the wire.
	StatusCode int
	// RetryAfter is the server-requested wait from a 429, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
	}
	return false
}

// Kind sentinels for errors.Is checks.
var (
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrRateLimit  = &Error{Kind: KindRateLimit}
	ErrServer     = &Error{Kind: KindServer}
	ErrClient     = &Error{Kind: KindClient}
	ErrCancelled  = &Error{Kind: KindCancelled}
	ErrValidation = &Error{Kind: KindValidation}
)

// New builds an Error of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an Error of the given kind from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Cancelled builds a cancellation error for op.
func Cancelled(op string) *Error {
	return &Error{Kind: KindCancelled, Op: op, Err: errors.New("request cancelled")}
}

// KindOf extracts the Kind from err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAfterOf extracts a server Retry-After hint from err, zero if absent.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether the error kind may succeed on a later attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// WithOp returns err re-tagged with op when it does not already carry one.
// Non-taxonomy errors are wrapped as KindUnknown.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			return &Error{Kind: e.Kind, Op: op, StatusCode: e.StatusCode, RetryAfter: e.RetryAfter, Err: e.Err}
		}
		return err
	}
	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

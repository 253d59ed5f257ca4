// Package failure defines the error taxonomy returned by every signing call.
//
// Each failure carries a Kind, a message safe to show to an end user, optional
// diagnostic detail intended for logs only, and the wrapped cause.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a signing failure. A Kind is itself an error so it can be
// used as a sentinel with errors.Is.
type Kind string

const (
	Configuration      Kind = "configuration"
	WrongPassword      Kind = "wrong_password"
	CorruptContainer   Kind = "corrupt_container"
	NoPrivateKeyFound  Kind = "no_private_key"
	ToolkitUnavailable Kind = "toolkit_unavailable"
	SigningFailed      Kind = "signing_failed"
	OversizeSignature  Kind = "oversize_signature"
	MalformedPDF       Kind = "malformed_pdf"
)

func (k Kind) Error() string { return string(k) }

// Retryable reports whether a call failing with this kind may succeed when
// repeated with adjusted parameters.
func (k Kind) Retryable() bool {
	return k == OversizeSignature
}

// Error is the uniform failure value.
type Error struct {
	Kind    Kind
	Message string
	// Detail holds diagnostic output (toolkit stderr, parser offsets). It is
	// meant for logs and is never part of Error().
	Detail string
	Err    error
}

// New creates a failure of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf creates a failure with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind unless it already carries a kind, in which
// case the existing failure is returned unchanged.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return New(kind, message, err)
}

// WithDetail attaches log-only diagnostic detail.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches both another *Error of the same kind and a bare Kind sentinel.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the failure is retryable.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// Result is the discriminated view of a failure handed to callers outside Go
// error handling (JSON responses, job records).
type Result struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Result returns the {kind, message, retryable} triple.
func (e *Error) Result() Result {
	return Result{Kind: e.Kind, Message: e.Message, Retryable: e.Retryable()}
}

// As extracts a *Error from err. Errors outside the taxonomy are reported as
// SigningFailed so callers always get a classified result.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return New(SigningFailed, "signing failed", err)
}

// KindOf returns the kind of err, or the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// IsRetryable reports whether err is a retryable failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return As(err).Retryable()
}

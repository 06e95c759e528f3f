// Package errs carries the error taxonomy shared by the orchestration core.
//
// Two classes matter to callers: upstream rejections (the MT API answered
// with a non-success code, or the transport/decode failed) and precondition
// failures (a domain gate stopped the operation before any mutating call).
// Both are marked sentinels; classify with IsUpstream/IsPrecondition, which
// see the marks, rather than stdlib errors.Is, which does not.
package errs

import (
	cr "github.com/cockroachdb/errors"
)

var (
	// ErrUpstream marks failures reported by (or while talking to) the MT API.
	ErrUpstream = cr.New("upstream rejected")

	// ErrPrecondition marks domain gating failures raised before any
	// mutating call: outside the time window, insufficient energy,
	// exhausted chances, no eligible outlet.
	ErrPrecondition = cr.New("precondition not met")
)

// Upstreamf builds an ErrUpstream-marked error from the upstream message.
func Upstreamf(format string, args ...any) error {
	return cr.Mark(cr.Newf(format, args...), ErrUpstream)
}

// Preconditionf builds an ErrPrecondition-marked error.
func Preconditionf(format string, args ...any) error {
	return cr.Mark(cr.Newf(format, args...), ErrPrecondition)
}

// IsUpstream reports whether err carries the upstream mark. Marks sit
// outside the unwrap chain, so matching must go through the mark-aware Is;
// the stdlib one never sees them.
func IsUpstream(err error) bool {
	return cr.Is(err, ErrUpstream)
}

// IsPrecondition reports whether err carries the precondition mark.
func IsPrecondition(err error) bool {
	return cr.Is(err, ErrPrecondition)
}

// WrapUpstream wraps transport and decode failures, which propagate
// identically to upstream rejections.
func WrapUpstream(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Mark(cr.Wrap(err, msg), ErrUpstream)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func New(msg string) error {
	return cr.New(msg)
}

// Combine joins two errors, tolerating nils on either side.
func Combine(a, b error) error {
	return cr.CombineErrors(a, b)
}

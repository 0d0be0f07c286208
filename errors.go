package syncache

import (
	"errors"
	"fmt"
)

// Kind classifies endpoint failures. Kinds survive the RPC boundary: a host
// rejection reaches the client carrying the same kind it was raised with.
type Kind string

const (
	// KindInvalidRequest marks malformed or unauthorized-shape input.
	KindInvalidRequest Kind = "invalid.request"
	// KindPermissions marks a failed role or ownership check.
	KindPermissions Kind = "invalid.permissions"
	// KindInternal marks misconfiguration, e.g. a missing identifier
	// property where one is required.
	KindInternal Kind = "internal"
	// KindNotFound marks a single-object read miss. The error carries the
	// original query input for diagnostics.
	KindNotFound Kind = "object.notFound"
)

// Error is the failure type produced by cache endpoints. Underlying store
// errors are wrapped unchanged and reachable via errors.Unwrap.
type Error struct {
	Kind  Kind
	Cache string
	Input any // original query input, kept for diagnostics
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Cache != "" {
		return fmt.Sprintf("syncache %q: %s: %s", e.Cache, e.Kind, msg)
	}
	return fmt.Sprintf("syncache: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" when err carries none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

func errInvalid(cache, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Cache: cache, Msg: fmt.Sprintf(format, args...)}
}

func errPermissions(cache, format string, args ...any) *Error {
	return &Error{Kind: KindPermissions, Cache: cache, Msg: fmt.Sprintf(format, args...)}
}

func errInternal(cache, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Cache: cache, Msg: fmt.Sprintf(format, args...)}
}

func errNotFound(cache string, input any, wrapped error) *Error {
	return &Error{Kind: KindNotFound, Cache: cache, Input: input, Msg: "object not found", Err: wrapped}
}

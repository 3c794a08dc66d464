package auth

import (
	"errors"
	"fmt"
)

// Kind classifies why a connection failed authentication. Callers reject
// every kind the same way; the distinction is for logs only.
type Kind int

const (
	KindMissing Kind = iota + 1
	KindMalformed
	KindInvalid
	KindExpired
	KindNotFound
	KindLookup
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindMalformed:
		return "malformed"
	case KindInvalid:
		return "invalid"
	case KindExpired:
		return "expired"
	case KindNotFound:
		return "not_found"
	case KindLookup:
		return "lookup_failed"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error.
var (
	ErrMissing   = &Error{Kind: KindMissing}
	ErrMalformed = &Error{Kind: KindMalformed}
	ErrInvalid   = &Error{Kind: KindInvalid}
	ErrExpired   = &Error{Kind: KindExpired}
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrLookup    = &Error{Kind: KindLookup}
)

// Error is returned by every step of the authentication gate.
type Error struct {
	Kind Kind
	Err  error
}

// NewError wraps cause under the given kind.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: %s", e.Kind)
	}
	return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf reports the kind of an authentication error. Anything that is not
// an *Error is treated as a lookup failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindLookup
}

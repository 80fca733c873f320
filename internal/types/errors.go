package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification carried by every domain
// error. Stage code switches on the kind to decide whether a failure is
// per-item, stage-fatal, or run-fatal.
type ErrorKind string

const (
	KindConfig         ErrorKind = "config"
	KindSerp           ErrorKind = "serp"
	KindFetch          ErrorKind = "fetch"
	KindAntiBot        ErrorKind = "anti_bot"
	KindExtraction     ErrorKind = "extraction"
	KindEmbedding      ErrorKind = "embedding"
	KindScoring        ErrorKind = "scoring"
	KindProxyExhausted ErrorKind = "proxy_exhausted"
	KindLockHeld       ErrorKind = "lock_held"
)

// Error is a classified domain error. It wraps an underlying cause when one
// exists so callers can use errors.Is/errors.As through it.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a classified error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err if it is (or wraps) a domain error, and ""
// otherwise.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

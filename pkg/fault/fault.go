package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry,
// degrade, or report it.
type Kind int

const (
	Internal Kind = iota
	Config
	Transient
	Malformed
	Permission
	NotFound
	Invalid
	Auth
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Transient:
		return "transient"
	case Malformed:
		return "malformed"
	case Permission:
		return "permission"
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	case Auth:
		return "auth"
	default:
		return "internal"
	}
}

// Error is a failure tagged with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a new tagged error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in err's chain.
// Context deadlines count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus classifies an HTTP response status from a remote API.
func FromStatus(code int) Kind {
	switch {
	case code == 401:
		return Auth
	case code == 403:
		return Permission
	case code == 404:
		return NotFound
	case code == 408 || code == 429 || code >= 500:
		return Transient
	case code >= 400:
		return Invalid
	default:
		return Internal
	}
}

// Package errors provides the error taxonomy shared by the graph editing
// components. Every failure that reaches a caller carries a Kind so that
// transports can map it without inspecting message text.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind int

const (
	// KindInternal is the zero value: an unclassified server fault.
	KindInternal Kind = iota
	// KindInvalid marks a malformed request (missing parameter, bad IRI).
	KindInvalid
	// KindUnsupportedMediaType means no codec is registered for a media type.
	KindUnsupportedMediaType
	// KindDecode means the submitted bytes are not well-formed for their type.
	KindDecode
	// KindGraphNotFound means the graph identifier does not resolve.
	KindGraphNotFound
	// KindNoSuchSubgraph means the revoked fragment is not part of the target.
	KindNoSuchSubgraph
	// KindResourceExhausted means a size or search budget was exceeded.
	KindResourceExhausted
	// KindStoreUnavailable means the persistence backend failed.
	KindStoreUnavailable
)

// String returns the stable, machine readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "Invalid"
	case KindUnsupportedMediaType:
		return "UnsupportedMediaType"
	case KindDecode:
		return "DecodeError"
	case KindGraphNotFound:
		return "GraphNotFound"
	case KindNoSuchSubgraph:
		return "NoSuchSubgraph"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	default:
		return "Internal"
	}
}

// Sentinels for errors.Is checks across package boundaries.
var (
	ErrInvalid              = errors.New("invalid request")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrDecode               = errors.New("decode failed")
	ErrGraphNotFound        = errors.New("graph not found")
	ErrNoSuchSubgraph       = errors.New("no such subgraph")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrStoreUnavailable     = errors.New("store unavailable")
)

// Error wraps an underlying error with its classification and the
// operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Err     error
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the sentinel of its kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindInvalid:
		return ErrInvalid
	case KindUnsupportedMediaType:
		return ErrUnsupportedMediaType
	case KindDecode:
		return ErrDecode
	case KindGraphNotFound:
		return ErrGraphNotFound
	case KindNoSuchSubgraph:
		return ErrNoSuchSubgraph
	case KindResourceExhausted:
		return ErrResourceExhausted
	case KindStoreUnavailable:
		return ErrStoreUnavailable
	default:
		return nil
	}
}

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: sentinel(kind)}
}

// KindOf reports the kind of the outermost classified error in err's chain.
// Bare sentinels are recognised too. Anything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k := KindInvalid; k <= KindStoreUnavailable; k++ {
		if errors.Is(err, sentinel(k)) {
			return k
		}
	}
	return KindInternal
}

// Is, As and New re-export the standard helpers so callers importing this
// package under its own name keep access to them.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

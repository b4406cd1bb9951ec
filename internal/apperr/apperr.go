// Package apperr defines the error kinds every layer of ringdb uses to
// classify failures, mirroring the error taxonomy of the wire protocol's
// Error frame (code + message) while preserving the full cause chain for
// logging.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error taxonomies described by the wire
// protocol. Each Kind maps to a numeric code reused from the Cassandra v5
// error-code space so that clients speaking the same wire protocol can
// interpret failures the same way.
type Kind int

const (
	// KindServer is an unclassified internal failure.
	KindServer Kind = iota
	// KindCodec covers malformed frames, unknown opcodes, compression
	// failures, and length overflows.
	KindCodec
	// KindParse covers invalid or unsupported CQL syntax.
	KindParse
	// KindSchema covers missing keyspace/table, duplicate keyspace, and
	// mutation of primary-key columns.
	KindSchema
	// KindStorage covers SSTable I/O failures and corrupted rows.
	KindStorage
	// KindRouting covers too few live replicas or no resolvable owner.
	KindRouting
	// KindPeer covers a broken peer channel.
	KindPeer
	// KindAuth covers bad StartUp options or unknown credentials.
	KindAuth
)

// code returns the wire-protocol numeric error code for a Kind, reusing
// the Cassandra v5 error-code space.
func (k Kind) code() int32 {
	switch k {
	case KindCodec:
		return 0x000A
	case KindParse, KindSchema:
		return 0x2200
	case KindRouting:
		return 0x1100
	case KindAuth:
		return 0x0100
	case KindStorage, KindPeer, KindServer:
		return 0x0000
	default:
		return 0x0000
	}
}

func (k Kind) String() string {
	switch k {
	case KindCodec:
		return "CodecError"
	case KindParse:
		return "ParseError"
	case KindSchema:
		return "SchemaError"
	case KindStorage:
		return "StorageError"
	case KindRouting:
		return "RoutingError"
	case KindPeer:
		return "PeerError"
	case KindAuth:
		return "AuthError"
	default:
		return "ServerError"
	}
}

// Error is the concrete error type carried through ringdb. It keeps the
// classification (Kind) and a client-safe message separate from the full
// internal cause chain, which is available via Unwrap for logging but
// never serialized onto the wire.
type Error struct {
	cause   error
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As and
// github.com/pkg/errors callers can inspect the full chain.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the wire-protocol numeric error code for the client-facing
// Error frame.
func (e *Error) Code() int32 { return e.Kind.code() }

// New builds a bare Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a bare Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and client-safe message to an underlying cause,
// preserving the cause for logging via errors.Wrap.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return Wrap(kind, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err (or something it wraps) is an *Error of the given
// Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Package bridgeerr defines the abstract error kinds a transport bridge
// raises, as classifiable sentinel values usable with errors.Is/errors.As
// instead of string matching.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge error so the engine can dispatch on it
// (e.g. RECONNECT_EXHAUSTED forces shutdown; TRANSPORT_IO does not).
type Kind string

const (
	// KindInvalidConfig means a required config key is missing or malformed.
	KindInvalidConfig Kind = "INVALID_CONFIG"
	// KindUnsupportedTransport means an unrecognized transport kind was requested.
	KindUnsupportedTransport Kind = "UNSUPPORTED_TRANSPORT"
	// KindTransportCreateFailed means the underlying transport could not be constructed.
	KindTransportCreateFailed Kind = "TRANSPORT_CREATE_FAILED"
	// KindTransportIO means an error was observed on an inbound stream or during send.
	KindTransportIO Kind = "TRANSPORT_IO"
	// KindTransportClosed means send was invoked after close.
	KindTransportClosed Kind = "TRANSPORT_CLOSED"
	// KindReconnectExhausted means bounded reconnect attempts hit the ceiling.
	KindReconnectExhausted Kind = "RECONNECT_EXHAUSTED"
)

// Error is a bridge error carrying a classifiable Kind plus the
// underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, bridgeerr.KindTransportIO)-style checks by
// comparing Kind directly when the target is a bare Kind wrapped in an
// *Error with a nil Err, matching sentinel-style equality.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error for the given kind and operation, wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Sentinel returns a comparable *Error with the given kind and no cause,
// for use as the target of errors.Is.
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

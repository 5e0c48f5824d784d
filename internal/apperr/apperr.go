// Package apperr classifies daemon errors into the four kinds the IPC layer
// and the structured logs need to distinguish: transient I/O, protocol,
// state, and fatal init.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a coarse error classification used to decide whether an error is
// retried, surfaced over IPC as {ok:false, error}, or fatal to the process.
type Kind int

const (
	// KindTransient covers broken pipes, disconnects, and other I/O errors
	// that are expected to self-heal and are retried with backoff.
	KindTransient Kind = iota
	// KindProtocol covers malformed requests, unknown commands, and unsafe
	// paths: surfaced to the caller, the daemon stays healthy.
	KindProtocol
	// KindState covers commands rejected by the FSM (e.g. record while
	// playing).
	KindState
	// KindFatal covers unrecoverable init failures (cannot bind socket,
	// cannot open a required input device): terminates the owning task.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindState:
		return "state"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind, carrying no source-code
// identifiers in its user-visible message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(msg string, err error) error { return &Error{Kind: KindTransient, Msg: msg, Err: err} }
func Protocol(msg string, err error) error  { return &Error{Kind: KindProtocol, Msg: msg, Err: err} }
func State(msg string, err error) error     { return &Error{Kind: KindState, Msg: msg, Err: err} }
func Fatal(msg string, err error) error     { return &Error{Kind: KindFatal, Msg: msg, Err: err} }

// KindOf extracts the Kind of err, defaulting to KindProtocol for errors
// that were never classified (unexpected errors are surfaced, not silently
// dropped, but also never assumed fatal).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProtocol
}

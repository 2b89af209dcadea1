// Package rifterr defines the error taxonomy and session exit conditions
// shared across the RIFT transport. Packet-level kinds are recovered
// locally by callers (drop + counter). The orchestrator's Open/Accept
// return a CloseReason together with an error, and that error may be an
// *Error carrying one of the Kinds below.
package rifterr

import "github.com/pkg/errors"

// Kind classifies an internal failure. Packet-level Kinds stay inside
// riftnet; setup and socket failures (e.g. HandshakeFailure, SocketError)
// reach callers as the error returned next to the CloseReason.
type Kind int

const (
	MalformedPacket Kind = iota
	UnknownSession
	Replay
	IntegrityFailure
	HandshakeFailure
	HandshakeTimeout
	SocketError
	PacingSaturated
	BackpressureExceeded
	RelayUnavailable
	ConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case MalformedPacket:
		return "MalformedPacket"
	case UnknownSession:
		return "UnknownSession"
	case Replay:
		return "Replay"
	case IntegrityFailure:
		return "IntegrityFailure"
	case HandshakeFailure:
		return "HandshakeFailure"
	case HandshakeTimeout:
		return "HandshakeTimeout"
	case SocketError:
		return "SocketError"
	case PacingSaturated:
		return "PacingSaturated"
	case BackpressureExceeded:
		return "BackpressureExceeded"
	case RelayUnavailable:
		return "RelayUnavailable"
	case ConfigInvalid:
		return "ConfigInvalid"
	default:
		return "UnknownKind"
	}
}

// Error wraps a Kind with context. Use errors.Is against the sentinels
// below to classify, and errors.Unwrap to reach the wrapped cause.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is the sentinel for e's Kind, so callers can
// write errors.Is(err, rifterr.ErrReplay) without a type assertion.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.cause == nil
}

func New(kind Kind) error {
	return &Error{Kind: kind}
}

func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return New(kind)
	}
	return &Error{Kind: kind, cause: errors.WithStack(cause)}
}

// sentinels for errors.Is comparisons.
var (
	ErrMalformedPacket     = New(MalformedPacket)
	ErrUnknownSession      = New(UnknownSession)
	ErrReplay              = New(Replay)
	ErrIntegrityFailure    = New(IntegrityFailure)
	ErrHandshakeFailure    = New(HandshakeFailure)
	ErrHandshakeTimeout    = New(HandshakeTimeout)
	ErrSocketError         = New(SocketError)
	ErrPacingSaturated     = New(PacingSaturated)
	ErrBackpressureExceed  = New(BackpressureExceeded)
	ErrRelayUnavailable    = New(RelayUnavailable)
	ErrConfigInvalid       = New(ConfigInvalid)
)

// CloseReason is the session exit condition: the orchestrator's Open and
// Accept always return one of these (ReasonNone when setup fails before a
// session closes).
type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonPeerClose
	ReasonApplicationClose
	ReasonTimeout
	ReasonHandshakeTimeout
	ReasonIntegrityExceeded
	ReasonUnreachablePeer
)

func (r CloseReason) String() string {
	switch r {
	case ReasonPeerClose:
		return "PeerClose"
	case ReasonApplicationClose:
		return "ApplicationClose"
	case ReasonTimeout:
		return "Timeout"
	case ReasonHandshakeTimeout:
		return "HandshakeTimeout"
	case ReasonIntegrityExceeded:
		return "IntegrityExceeded"
	case ReasonUnreachablePeer:
		return "UnreachablePeer"
	default:
		return "None"
	}
}

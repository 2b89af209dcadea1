// Package peer implements the RIFT peer state machine (§4.6): handshake
// retransmission with backoff, keepalive/idle timeout, drain-on-close,
// and fatal-error classification. The state machine only computes
// transitions and emits side effects through callbacks — it never
// touches a socket directly (§9: "the session exposes callbacks; the
// transport calls up").
package peer

import (
	"time"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

type State int

const (
	Idle State = iota
	Handshaking
	Established
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "HANDSHAKING"
	case Established:
		return "ESTABLISHED"
	case Draining:
		return "DRAINING"
	case Closed:
		return "CLOSED"
	default:
		return "IDLE"
	}
}

// DefaultBackoff is the handshake retransmit schedule from §6's Session config.
var DefaultBackoff = []time.Duration{
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
	3200 * time.Millisecond,
}

const (
	DefaultIdleTimeout  = 10 * time.Second
	DefaultDrainTimeout = 200 * time.Millisecond
	KeepaliveInterval   = 1 * time.Second
)

// Callbacks are the side effects the state machine requests; the
// orchestrator supplies concrete implementations bound to the transport.
type Callbacks struct {
	SendHandshake1 func()
	SendHandshake3 func()
	SendKeepalive  func()
	SendBye        func()
	FlushPacing    func()
	DeriveKeys     func()
}

// Machine drives one session's lifecycle. It is single-owner: all
// methods are called from the session's event loop only (§5).
type Machine struct {
	state   State
	cb      Callbacks
	backoff []time.Duration

	idleTimeout  time.Duration
	drainTimeout time.Duration

	handshakeAttempt int
	lastHandshakeSend time.Time

	lastRxAt   time.Time
	lastKeepaliveSentAt time.Time

	drainDeadline time.Time

	closeReason rifterr.CloseReason
}

func New(cb Callbacks) *Machine {
	return &Machine{state: Idle, cb: cb, backoff: DefaultBackoff, idleTimeout: DefaultIdleTimeout, drainTimeout: DefaultDrainTimeout}
}

// NewWithTimings builds a Machine using the Session config's backoff
// schedule, idle timeout, and drain duration (§6) instead of the
// package defaults.
func NewWithTimings(cb Callbacks, backoff []time.Duration, idleTimeout, drainTimeout time.Duration) *Machine {
	m := New(cb)
	if len(backoff) > 0 {
		m.backoff = backoff
	}
	if idleTimeout > 0 {
		m.idleTimeout = idleTimeout
	}
	if drainTimeout > 0 {
		m.drainTimeout = drainTimeout
	}
	return m
}

func (m *Machine) State() State                        { return m.state }
func (m *Machine) CloseReason() rifterr.CloseReason     { return m.closeReason }
func (m *Machine) IsClosed() bool                       { return m.state == Closed }

// ApplicationOpen is the initiator-side open event: IDLE -> HANDSHAKING.
func (m *Machine) ApplicationOpen(now time.Time) {
	if m.state != Idle {
		return
	}
	m.state = Handshaking
	m.handshakeAttempt = 0
	m.lastHandshakeSend = now
	if m.cb.SendHandshake1 != nil {
		m.cb.SendHandshake1()
	}
}

// RxHandshake2 is the initiator's receipt of HANDSHAKE_2: send
// HANDSHAKE_3, derive keys, move to ESTABLISHED. Keys are derived after
// HANDSHAKE_3 is written because writing it advances the handshake's
// chain key, matching the point at which the responder derives its keys.
func (m *Machine) RxHandshake2(now time.Time) {
	if m.state != Handshaking {
		return
	}
	if m.cb.SendHandshake3 != nil {
		m.cb.SendHandshake3()
	}
	if m.cb.DeriveKeys != nil {
		m.cb.DeriveKeys()
	}
	m.state = Established
	m.lastRxAt = now
}

// EstablishedByResponder is the responder-side completion: it has
// processed HANDSHAKE_1 and HANDSHAKE_3 and derived keys out of line
// (the orchestrator drives the responder's two-message reply directly,
// since the responder never retransmits — only the initiator backs off).
func (m *Machine) EstablishedByResponder(now time.Time) {
	m.state = Established
	m.lastRxAt = now
}

// RxData marks any received datagram, resetting the idle timer.
func (m *Machine) RxData(now time.Time) {
	if m.state == Established || m.state == Draining {
		m.lastRxAt = now
	}
}

// RxBye begins the 200ms drain per §4.6; the session then closes with
// ReasonPeerClose.
func (m *Machine) RxBye(now time.Time) {
	if m.state != Established {
		return
	}
	m.state = Draining
	m.closeReason = rifterr.ReasonPeerClose
	m.drainDeadline = now.Add(m.drainTimeout)
	if m.cb.FlushPacing != nil {
		m.cb.FlushPacing()
	}
}

// ApplicationClose requests a local teardown: notify the peer with a
// BYE so it doesn't have to wait out its idle timeout, then drain for
// 200ms same as RxBye does on the receiving side (§4.6).
func (m *Machine) ApplicationClose(now time.Time) {
	switch m.state {
	case Established:
		m.state = Draining
		m.drainDeadline = now.Add(m.drainTimeout)
		if m.cb.SendBye != nil {
			m.cb.SendBye()
		}
		if m.cb.FlushPacing != nil {
			m.cb.FlushPacing()
		}
	case Handshaking, Idle:
		m.state = Closed
		m.closeReason = rifterr.ReasonApplicationClose
	}
}

// IntegrityExceeded is fatal from any state (§4.6, §7).
func (m *Machine) IntegrityExceeded() {
	if m.state == Closed {
		return
	}
	m.state = Closed
	m.closeReason = rifterr.ReasonIntegrityExceeded
}

// Tick drives time-based transitions: handshake retransmit/backoff,
// keepalive emission, idle timeout, and drain expiry. Called at 10ms
// resolution per §4.6/§5.
func (m *Machine) Tick(now time.Time) {
	switch m.state {
	case Handshaking:
		m.tickHandshake(now)
	case Established:
		m.tickEstablished(now)
	case Draining:
		if !now.Before(m.drainDeadline) {
			m.state = Closed
			if m.closeReason == rifterr.ReasonNone {
				m.closeReason = rifterr.ReasonApplicationClose
			}
		}
	}
}

func (m *Machine) tickHandshake(now time.Time) {
	if m.handshakeAttempt >= len(m.backoff) {
		m.state = Closed
		m.closeReason = rifterr.ReasonHandshakeTimeout
		return
	}
	if now.Sub(m.lastHandshakeSend) >= m.backoff[m.handshakeAttempt] {
		m.handshakeAttempt++
		m.lastHandshakeSend = now
		if m.handshakeAttempt >= len(m.backoff) {
			m.state = Closed
			m.closeReason = rifterr.ReasonHandshakeTimeout
			return
		}
		if m.cb.SendHandshake1 != nil {
			m.cb.SendHandshake1()
		}
	}
}

func (m *Machine) tickEstablished(now time.Time) {
	if now.Sub(m.lastRxAt) >= m.idleTimeout {
		m.state = Closed
		m.closeReason = rifterr.ReasonTimeout
		return
	}
	if now.Sub(m.lastRxAt) >= KeepaliveInterval && now.Sub(m.lastKeepaliveSentAt) >= KeepaliveInterval {
		m.lastKeepaliveSentAt = now
		if m.cb.SendKeepalive != nil {
			m.cb.SendKeepalive()
		}
	}
}

// PeerClosed finalizes a DRAINING session triggered by RxBye once the
// flush completes (the orchestrator may call this early if it finishes
// flushing before the deadline, instead of waiting for Tick).
func (m *Machine) PeerClosed() {
	if m.state == Draining {
		m.state = Closed
		m.closeReason = rifterr.ReasonPeerClose
	}
}

// Unreachable reports a hard transport-level failure (e.g. STUN probe
// exhausted with no relay available) as UnreachablePeer.
func (m *Machine) Unreachable() {
	if m.state == Closed {
		return
	}
	m.state = Closed
	m.closeReason = rifterr.ReasonUnreachablePeer
}

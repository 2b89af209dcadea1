package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bybrooklyn/wavry-sub002/rifterr"
)

type callbackCounts struct {
	handshake1  int
	handshake3  int
	keepalive   int
	flushPacing int
	deriveKeys  int
}

func newCountingMachine() (*Machine, *callbackCounts) {
	counts := &callbackCounts{}
	cb := Callbacks{
		SendHandshake1: func() { counts.handshake1++ },
		SendHandshake3: func() { counts.handshake3++ },
		SendKeepalive:  func() { counts.keepalive++ },
		FlushPacing:    func() { counts.flushPacing++ },
		DeriveKeys:     func() { counts.deriveKeys++ },
	}
	return New(cb), counts
}

func TestMachine_ApplicationOpenEntersHandshaking(t *testing.T) {
	m, counts := newCountingMachine()
	now := time.Now()

	m.ApplicationOpen(now)
	require.Equal(t, Handshaking, m.State())
	require.Equal(t, 1, counts.handshake1)

	m.ApplicationOpen(now)
	require.Equal(t, 1, counts.handshake1, "a second open while already handshaking must be a no-op")
}

func TestMachine_RxHandshake2EstablishesAsInitiator(t *testing.T) {
	m, counts := newCountingMachine()
	now := time.Now()

	m.ApplicationOpen(now)
	m.RxHandshake2(now)

	require.Equal(t, Established, m.State())
	require.Equal(t, 1, counts.deriveKeys)
	require.Equal(t, 1, counts.handshake3)
}

func TestMachine_HandshakeBackoffExhaustsToTimeout(t *testing.T) {
	backoff := []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	m := NewWithTimings(Callbacks{}, backoff, time.Hour, time.Millisecond)
	now := time.Now()
	m.ApplicationOpen(now)

	now = now.Add(11 * time.Millisecond)
	m.Tick(now)
	require.Equal(t, Handshaking, m.State())

	now = now.Add(11 * time.Millisecond)
	m.Tick(now)
	require.Equal(t, Handshaking, m.State())

	now = now.Add(11 * time.Millisecond)
	m.Tick(now)
	require.Equal(t, Closed, m.State())
	require.Equal(t, rifterr.ReasonHandshakeTimeout, m.CloseReason())
}

func TestMachine_IdleTimeoutClosesEstablishedSession(t *testing.T) {
	m := NewWithTimings(Callbacks{}, nil, 20*time.Millisecond, time.Millisecond)
	now := time.Now()
	m.EstablishedByResponder(now)

	m.Tick(now.Add(10 * time.Millisecond))
	require.Equal(t, Established, m.State())

	m.Tick(now.Add(21 * time.Millisecond))
	require.Equal(t, Closed, m.State())
	require.Equal(t, rifterr.ReasonTimeout, m.CloseReason())
}

func TestMachine_RxDataResetsIdleTimer(t *testing.T) {
	m := NewWithTimings(Callbacks{}, nil, 20*time.Millisecond, time.Millisecond)
	now := time.Now()
	m.EstablishedByResponder(now)

	m.RxData(now.Add(15 * time.Millisecond))
	m.Tick(now.Add(30 * time.Millisecond))
	require.Equal(t, Established, m.State(), "rx at t=15ms should reset the 20ms idle window")
}

func TestMachine_RxByeDrainsThenCloses(t *testing.T) {
	m, counts := newCountingMachine()
	now := time.Now()
	m.EstablishedByResponder(now)

	m.RxBye(now)
	require.Equal(t, Draining, m.State())
	require.Equal(t, 1, counts.flushPacing)

	m.Tick(now.Add(DefaultDrainTimeout + time.Millisecond))
	require.Equal(t, Closed, m.State())
	require.Equal(t, rifterr.ReasonPeerClose, m.CloseReason())
}

func TestMachine_PeerClosedFinalizesDrainEarly(t *testing.T) {
	m, _ := newCountingMachine()
	now := time.Now()
	m.EstablishedByResponder(now)
	m.RxBye(now)

	m.PeerClosed()
	require.Equal(t, Closed, m.State())
	require.Equal(t, rifterr.ReasonPeerClose, m.CloseReason())
}

func TestMachine_IntegrityExceededIsFatalFromAnyState(t *testing.T) {
	m, _ := newCountingMachine()
	now := time.Now()
	m.ApplicationOpen(now)

	m.IntegrityExceeded()
	require.Equal(t, Closed, m.State())
	require.Equal(t, rifterr.ReasonIntegrityExceeded, m.CloseReason())

	m.IntegrityExceeded()
	require.Equal(t, rifterr.ReasonIntegrityExceeded, m.CloseReason(), "re-closing must not overwrite the reason")
}

func TestMachine_KeepaliveSentOnceIdlePastInterval(t *testing.T) {
	m, counts := newCountingMachine()
	now := time.Now()
	m.EstablishedByResponder(now)

	m.Tick(now.Add(KeepaliveInterval + time.Millisecond))
	require.Equal(t, 1, counts.keepalive)

	m.Tick(now.Add(KeepaliveInterval + 2*time.Millisecond))
	require.Equal(t, 1, counts.keepalive, "must not resend until another full interval elapses")
}

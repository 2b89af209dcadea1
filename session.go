package riftnet

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bybrooklyn/wavry-sub002/crypto"
	"github.com/bybrooklyn/wavry-sub002/delta"
	"github.com/bybrooklyn/wavry-sub002/fec"
	"github.com/bybrooklyn/wavry-sub002/peer"
	"github.com/bybrooklyn/wavry-sub002/reorder"
)

// SessionID is the 128-bit identifier established during handshake
// (§3). The wire header only ever carries its low 64 bits, which is
// enough to disambiguate concurrently-handshaking peers sharing one
// UDP endpoint (§3, §4.1).
type SessionID uuid.UUID

func NewSessionID() SessionID { return SessionID(uuid.New()) }

// SessionIDFromLow64 rebuilds a SessionID around a wire-observed low
// 64 bits, used by the responder to adopt the initiator's session
// identity: only those 8 bytes ever cross the wire (§3), so the
// responder's local SessionID must agree with the initiator's on that
// slice for every subsequent packet to validate.
func SessionIDFromLow64(low uint64) SessionID {
	var id SessionID
	for i := 15; i >= 8; i-- {
		id[i] = byte(low)
		low >>= 8
	}
	return id
}

func (id SessionID) Low64() uint64 {
	b := id[8:16]
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func (id SessionID) String() string { return uuid.UUID(id).String() }

// Session holds everything the data model in §3 lists: remote address,
// key material, sequencing state, DELTA state, pacing state, and
// lifecycle. It has exactly one owner, the orchestrator's event loop
// (§5) — nothing here is safe for concurrent use except Stats, which
// is copy-on-read by design.
type Session struct {
	ID     SessionID
	Remote net.Addr

	// Cipher seals outgoing packets under its current epoch's send key and
	// opens incoming ones under the matching receive key: one instance
	// drives both directions (§4.2), since the handshake's Split already
	// orients Keys.Send/Keys.Recv per role.
	Cipher *crypto.PacketCipher

	// Transcript and Role let the orchestrator derive later epochs'
	// keys directly (crypto.DeriveEpochKeys) without re-running the
	// handshake, once a rekey is triggered locally or by the peer
	// (§4.2).
	Transcript [32]byte
	Role       crypto.Role

	nextPacketID        uint64
	packetIDAtLastRekey uint64
	replay              *replayWindow

	DELTA    *delta.Controller
	Reorder  *reorder.Buffer
	Decoder  *fec.Decoder
	Machine  *peer.Machine

	Stats *Stats

	consecutiveIntegrityFailures int
	firstIntegrityFailureAt      time.Time

	createdAt time.Time
}

// NewSession wires together one peer's subsystems. cfg supplies the
// reorder window/deadline and DELTA's tunables; callbacks hooking the
// peer state machine to the transport are the orchestrator's concern.
func NewSession(cfg Config, cb peer.Callbacks, onBitrateChange func(float64), onKeyframe func()) *Session {
	deadline := time.Duration(cfg.Session.TargetPlayDelayMs) * time.Millisecond

	backoff := make([]time.Duration, len(cfg.Session.HandshakeBackoffMs))
	for i, ms := range cfg.Session.HandshakeBackoffMs {
		backoff[i] = time.Duration(ms) * time.Millisecond
	}
	idleTimeout := time.Duration(cfg.Session.IdleTimeoutS) * time.Second
	drainTimeout := time.Duration(cfg.Session.DrainMs) * time.Millisecond

	return &Session{
		ID:        NewSessionID(),
		replay:    &replayWindow{},
		DELTA:     delta.New(cfg.DELTA.ToDeltaConfig(cfg.FEC.Schedule), onBitrateChange, onKeyframe),
		Reorder:   reorder.New(cfg.Session.ReorderWindow, deadline),
		Decoder:   fec.NewDecoder(),
		Machine:   peer.NewWithTimings(cb, backoff, idleTimeout, drainTimeout),
		Stats:     NewStats(),
		createdAt: time.Now(),
	}
}

// NextPacketID returns the next strictly-increasing packet_id for this
// session's send direction (§3 invariant: packet_id never repeats).
func (s *Session) NextPacketID() uint64 {
	s.nextPacketID++
	return s.nextPacketID
}

// ShouldRekey reports whether enough packets have moved through the
// current epoch to force a rekey regardless of any explicit request
// (§3: epoch rollover at RekeyEpochPackets).
func (s *Session) ShouldRekey() bool {
	return s.nextPacketID-s.packetIDAtLastRekey >= crypto.RekeyEpochPackets
}

// MarkRekeyed resets the epoch-rollover counter after a rekey completes,
// whether it was locally triggered or requested by the peer.
func (s *Session) MarkRekeyed() {
	s.packetIDAtLastRekey = s.nextPacketID
}

// AcceptReplay tests and marks id in the replay window, returning false
// if it's stale or a duplicate (§4.2 step 3, §8 property 2).
func (s *Session) AcceptReplay(id uint64) bool {
	ok := s.replay.Accept(id)
	if !ok {
		atomic.AddUint64(&s.Stats.ReplayRejected, 1)
	}
	return ok
}

// NoteIntegrityFailure tracks consecutive AEAD-open failures and
// reports whether the session has crossed the fatal threshold (§4.2
// step 4, §7: 32 failures within 2 s closes the session).
func (s *Session) NoteIntegrityFailure(now time.Time) (fatal bool) {
	if s.consecutiveIntegrityFailures == 0 || now.Sub(s.firstIntegrityFailureAt) > crypto.IntegrityFailureWindow {
		s.firstIntegrityFailureAt = now
		s.consecutiveIntegrityFailures = 0
	}
	s.consecutiveIntegrityFailures++
	atomic.AddUint64(&s.Stats.IntegrityFailures, 1)
	return s.consecutiveIntegrityFailures >= crypto.MaxConsecutiveIntegrityFailures
}

// NoteIntegritySuccess resets the consecutive-failure streak (§4.2:
// the threshold is consecutive, not cumulative).
func (s *Session) NoteIntegritySuccess() {
	s.consecutiveIntegrityFailures = 0
}

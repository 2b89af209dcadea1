package riftnet

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bybrooklyn/wavry-sub002/crypto"
	"github.com/bybrooklyn/wavry-sub002/internal/looptest"
	"github.com/bybrooklyn/wavry-sub002/rifterr"
	"github.com/bybrooklyn/wavry-sub002/transport"
)

// mockMediaSource hands out a fixed list of frames, one per PollFrame
// call, then reports no more frames forever (§4.8).
type mockMediaSource struct {
	mu      sync.Mutex
	frames  [][]byte
	next    int
	bitrate float64
	keyReqs int
}

func newMockMediaSource(frames [][]byte) *mockMediaSource {
	return &mockMediaSource{frames: frames}
}

func (m *mockMediaSource) PollFrame() (Flags, []byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= len(m.frames) {
		return 0, nil, false
	}
	f := m.frames[m.next]
	m.next++
	flags := Flags(0)
	if m.next == 1 {
		flags |= FlagKeyframe
	}
	return flags, f, true
}

func (m *mockMediaSource) SetTargetBitrate(kbps float64) {
	m.mu.Lock()
	m.bitrate = kbps
	m.mu.Unlock()
}

func (m *mockMediaSource) RequestKeyframe() {
	m.mu.Lock()
	m.keyReqs++
	m.mu.Unlock()
}

// mockMediaSink records delivered groups by group id and losses in
// arrival order.
type mockMediaSink struct {
	mu       sync.Mutex
	groups   map[uint32][]byte
	lostIDs  []uint32
}

func newMockMediaSink() *mockMediaSink {
	return &mockMediaSink{groups: make(map[uint32][]byte)}
}

func (s *mockMediaSink) PushGroup(groupID uint32, payload []byte) {
	s.mu.Lock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.groups[groupID] = cp
	s.mu.Unlock()
}

func (s *mockMediaSink) SignalLoss(groupID uint32) {
	s.mu.Lock()
	s.lostIDs = append(s.lostIDs, groupID)
	s.mu.Unlock()
}

func (s *mockMediaSink) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

func (s *mockMediaSink) payload(groupID uint32) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.groups[groupID]
	return p, ok
}

// mockInputSink records submitted input events; unused by these media-
// only scenarios but required to satisfy InputSink.
type mockInputSink struct {
	mu     sync.Mutex
	events [][]byte
}

func (i *mockInputSink) Submit(event []byte) {
	i.mu.Lock()
	i.events = append(i.events, append([]byte(nil), event...))
	i.mu.Unlock()
}

// mockSignalChannel resolves to a fixed peer address with no relay,
// standing in for rendezvous/signaling (§4.8).
type mockSignalChannel struct {
	addr net.Addr
}

func (s mockSignalChannel) PeerAddr() (net.Addr, error) { return s.addr, nil }

func (s mockSignalChannel) RelayDescriptor() (RelayDescriptor, bool, error) {
	return RelayDescriptor{}, false, nil
}

func newTestIdentity(t *testing.T) Identity {
	t.Helper()
	static, err := crypto.GenerateStaticKeyPair()
	require.NoError(t, err)
	identity, err := crypto.GenerateIdentityKeyPair()
	require.NoError(t, err)
	return Identity{Static: static, Identity: identity}
}

func fastSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.DrainMs = 30
	cfg.Session.HandshakeBackoffMs = []int{50, 100, 200, 400, 800}
	return cfg
}

// TestE2E_MediaFlowsAndGracefulClose drives two in-process orchestrators
// over an in-memory lossless pair end to end: handshake, steady-state
// media delivery, then an application-initiated close that drains and
// closes both sides without either hitting its idle timeout (§8 E1).
func TestE2E_MediaFlowsAndGracefulClose(t *testing.T) {
	connI, connR := looptest.NewPair("initiator", "responder", 0, time.Millisecond)
	epI := transport.NewEndpoint(connI)
	epR := transport.NewEndpoint(connR)

	frames := [][]byte{[]byte("frame-0"), []byte("frame-1"), []byte("frame-2"), []byte("frame-3"), []byte("frame-4")}
	sourceI := newMockMediaSource(frames)
	sinkI := newMockMediaSink()
	sourceR := newMockMediaSource(nil)
	sinkR := newMockMediaSink()

	cfg := fastSessionConfig()
	orchI := NewOrchestrator(cfg, newTestIdentity(t), sourceI, sinkI, &mockInputSink{}, mockSignalChannel{addr: looptest.Addr("responder")}).WithEndpoint(epI)
	orchR := NewOrchestrator(cfg, newTestIdentity(t), sourceR, sinkR, &mockInputSink{}, mockSignalChannel{}).WithEndpoint(epR)

	type result struct {
		reason rifterr.CloseReason
		err    error
	}
	resultI := make(chan result, 1)
	resultR := make(chan result, 1)

	go func() {
		reason, err := orchI.Open()
		resultI <- result{reason, err}
	}()
	go func() {
		reason, err := orchR.Accept()
		resultR <- result{reason, err}
	}()

	require.Eventually(t, func() bool {
		return sinkR.deliveredCount() >= len(frames)
	}, 3*time.Second, 5*time.Millisecond, "responder must receive every frame the initiator sent")

	for i := range frames {
		payload, ok := sinkR.payload(uint32(i))
		require.True(t, ok, "group %d must have been delivered", i)
		require.Equal(t, frames[i], payload)
	}

	orchI.Close()

	var resI, resR result
	select {
	case resI = <-resultI:
	case <-time.After(3 * time.Second):
		t.Fatal("initiator did not close in time")
	}
	select {
	case resR = <-resultR:
	case <-time.After(3 * time.Second):
		t.Fatal("responder did not close in time")
	}

	require.NoError(t, resI.err)
	require.NoError(t, resR.err)
	require.Equal(t, rifterr.ReasonApplicationClose, resI.reason)
	require.Equal(t, rifterr.ReasonPeerClose, resR.reason)

	snap, ok := orchI.StatsSnapshot()
	require.True(t, ok)
	require.Zero(t, snap.IntegrityFailures)
	require.Zero(t, snap.MalformedPackets)
}

// TestE2E_LossyLinkStillDeliversViaFEC exercises FEC recovery end to end
// over a lossy looptest pair: with parity present, a dropped data shard
// must still surface at the sink (§8 E3).
func TestE2E_LossyLinkStillDeliversViaFEC(t *testing.T) {
	connI, connR := looptest.NewPair("initiator", "responder", 0.15, time.Millisecond)
	epI := transport.NewEndpoint(connI)
	epR := transport.NewEndpoint(connR)

	// Big enough to fragment into several shards, so K/N redundancy has
	// something to protect.
	bigFrame := make([]byte, 3000)
	for i := range bigFrame {
		bigFrame[i] = byte(i)
	}
	frames := [][]byte{bigFrame, bigFrame, bigFrame, bigFrame, bigFrame, bigFrame, bigFrame, bigFrame}

	sourceI := newMockMediaSource(frames)
	sinkI := newMockMediaSink()
	sourceR := newMockMediaSource(nil)
	sinkR := newMockMediaSink()

	cfg := fastSessionConfig()
	cfg.FEC.Schedule = []float64{0.25}
	orchI := NewOrchestrator(cfg, newTestIdentity(t), sourceI, sinkI, &mockInputSink{}, mockSignalChannel{addr: looptest.Addr("responder")}).WithEndpoint(epI)
	orchR := NewOrchestrator(cfg, newTestIdentity(t), sourceR, sinkR, &mockInputSink{}, mockSignalChannel{}).WithEndpoint(epR)

	done := make(chan struct{})
	go func() { orchI.Open(); close(done) }()
	go func() { orchR.Accept() }()

	require.Eventually(t, func() bool {
		return sinkR.deliveredCount()+len(func() []uint32 {
			sinkR.mu.Lock()
			defer sinkR.mu.Unlock()
			return sinkR.lostIDs
		}()) >= len(frames)
	}, 5*time.Second, 10*time.Millisecond, "every group must eventually be delivered or declared lost")

	require.GreaterOrEqual(t, sinkR.deliveredCount(), len(frames)/2, "most groups should survive a 15%% shard loss given 25%% parity")

	orchI.Close()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("initiator did not close in time")
	}
}

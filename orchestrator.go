// Package riftnet implements RIFT: packet framing, the crypto session,
// FEC, reorder buffering, congestion control, peer lifecycle, and the
// orchestration that binds them to a transport and a media pipeline.
package riftnet

import (
	"encoding/binary"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/bybrooklyn/wavry-sub002/crypto"
	"github.com/bybrooklyn/wavry-sub002/fec"
	"github.com/bybrooklyn/wavry-sub002/internal/timerwheel"
	"github.com/bybrooklyn/wavry-sub002/peer"
	"github.com/bybrooklyn/wavry-sub002/rifterr"
	"github.com/bybrooklyn/wavry-sub002/transport"
)

// tickInterval is the orchestrator's event loop resolution (§4.6, §5).
const tickInterval = 10 * time.Millisecond

// relayCheckInterval governs how often a held relay lease is checked for
// expiry (§4.7). The check itself runs off-loop on the shared scheduler;
// only the result crosses back onto the session goroutine, over relayCheck.
const relayCheckInterval = 2 * time.Second

// Identity bundles the long-term keys a peer presents during the
// handshake (§4.2).
type Identity struct {
	Static   crypto.StaticKeyPair
	Identity crypto.IdentityKeyPair
}

// Orchestrator binds the abstract collaborators named in §4.8 to the
// concrete RIFT subsystems. One Orchestrator drives one Session's
// entire lifecycle on a single goroutine (§5); MediaSource/MediaSink/
// InputSink callbacks may be invoked from that same goroutine only.
type Orchestrator struct {
	cfg      Config
	identity Identity

	session  *Session
	endpoint *transport.Endpoint
	pacer    *transport.Pacer

	source MediaSource
	sink   MediaSink
	input  InputSink
	signal SignalChannel

	hs *crypto.HandshakeState

	fecEncoder   *fec.Encoder
	sendGroupID  uint32
	sendShardIdx int

	relay      *transport.RelayClient
	relayCheck chan struct{}

	log *slog.Logger

	recvBuf [MTU]byte
}

// NewOrchestrator constructs an orchestrator for one session. The
// caller supplies the media collaborators; transport and crypto wiring
// happen inside Open or Accept.
func NewOrchestrator(cfg Config, identity Identity, source MediaSource, sink MediaSink, input InputSink, signal SignalChannel) *Orchestrator {
	return &Orchestrator{cfg: cfg, identity: identity, source: source, sink: sink, input: input, signal: signal, log: slog.Default()}
}

// WithLogger overrides the default logger, e.g. to attach a session id
// or route output somewhere other than slog's default handler.
func (o *Orchestrator) WithLogger(l *slog.Logger) *Orchestrator {
	o.log = l
	return o
}

// WithEndpoint preassigns the transport endpoint Open/Accept would
// otherwise bind themselves, e.g. one wrapping an in-memory
// net.PacketConn pair in tests (§10.5). The caller retains ownership
// and must close it; Open/Accept will not.
func (o *Orchestrator) WithEndpoint(ep *transport.Endpoint) *Orchestrator {
	o.endpoint = ep
	return o
}

// Open runs the full peer lifecycle as the initiator: resolve the
// remote address, bind a transport endpoint, drive the handshake and
// the steady-state loop, and return once the session reaches CLOSED
// (§4.8, §6 "exit conditions").
func (o *Orchestrator) Open() (rifterr.CloseReason, error) {
	remote, err := o.signal.PeerAddr()
	if err != nil {
		return rifterr.ReasonNone, err
	}

	ep := o.endpoint
	if ep == nil {
		bound, err := transport.Listen(o.cfg.Transport.ListenAddr)
		if err != nil {
			return rifterr.ReasonNone, err
		}
		ep = bound
		o.endpoint = ep
		defer ep.Close()
	}

	if o.cfg.Transport.STUNServer != "" {
		if _, err := transport.ProbeReflexive(ep, o.cfg.Transport.STUNServer); err != nil && o.cfg.Transport.RelayAllowed {
			if desc, ok, rerr := o.signal.RelayDescriptor(); rerr == nil && ok {
				o.attachRelay(desc)
			}
		}
	}

	o.pacer = transport.NewPacer(o.cfg.DELTA.MinKbps, time.Now())
	o.fecEncoder = fec.NewEncoder(o.cfg.FEC.GroupMin, 0)

	cb := peer.Callbacks{
		SendHandshake1: o.sendHandshake1,
		SendHandshake3: o.sendHandshake3,
		SendKeepalive:  o.sendKeepalive,
		SendBye:        o.sendBye,
		FlushPacing:    o.flushPacing,
		DeriveKeys:     o.deriveKeys,
	}
	o.session = NewSession(o.cfg, cb, o.onBitrateChange, o.source.RequestKeyframe)
	o.session.Remote = remote

	hs, err := crypto.NewHandshake(crypto.Initiator, o.identity.Static, o.identity.Identity)
	if err != nil {
		return rifterr.ReasonNone, err
	}
	o.hs = hs

	o.session.Machine.ApplicationOpen(time.Now())
	o.log.Info("session opening", "session_id", o.session.ID, "remote", remote)

	reason, err := o.runLoop()
	o.log.Info("session closed", "session_id", o.session.ID, "reason", reason)
	return reason, err
}

// Accept runs the responder side: it blocks on the endpoint until a
// HANDSHAKE_1 arrives, replies with HANDSHAKE_2/validates HANDSHAKE_3,
// then enters the same steady-state loop.
func (o *Orchestrator) Accept() (rifterr.CloseReason, error) {
	ep := o.endpoint
	if ep == nil {
		bound, err := transport.Listen(o.cfg.Transport.ListenAddr)
		if err != nil {
			return rifterr.ReasonNone, err
		}
		ep = bound
		o.endpoint = ep
		defer ep.Close()
	}

	o.pacer = transport.NewPacer(o.cfg.DELTA.MinKbps, time.Now())
	o.fecEncoder = fec.NewEncoder(o.cfg.FEC.GroupMin, 0)

	buf := make([]byte, o.cfg.Transport.MTU+HeaderSize+TagSize)
	for {
		n, from, err := ep.Recv(buf)
		if err != nil {
			return rifterr.ReasonNone, err
		}
		hdr, payload, err := DecodeHeader(buf[:n])
		if err != nil || hdr.Type != PacketHandshake1 {
			continue
		}

		hs, err := crypto.NewHandshake(crypto.Responder, o.identity.Static, o.identity.Identity)
		if err != nil {
			return rifterr.ReasonNone, err
		}
		o.hs = hs

		m1, err := DecodeHandshake1(payload)
		if err != nil {
			continue
		}
		if err := o.hs.ReadMessage1(m1); err != nil {
			continue
		}

		cb := peer.Callbacks{
			SendHandshake1: o.sendHandshake1,
			SendHandshake3: o.sendHandshake3,
			SendKeepalive:  o.sendKeepalive,
			SendBye:        o.sendBye,
			FlushPacing:    o.flushPacing,
			DeriveKeys:     o.deriveKeys,
		}
		o.session = NewSession(o.cfg, cb, o.onBitrateChange, o.source.RequestKeyframe)
		o.session.Remote = from
		// Adopt the initiator's wire session id so every later packet's
		// session_id_low matches on both sides (§3).
		o.session.ID = SessionIDFromLow64(hdr.SessionIDLow)

		m2, err := o.hs.WriteMessage2()
		if err != nil {
			return rifterr.ReasonNone, err
		}
		m2Payload, err := EncodeHandshake2(m2)
		if err != nil {
			return rifterr.ReasonNone, err
		}
		if err := o.sendHandshakeEncoded(PacketHandshake2, m2Payload); err != nil {
			return rifterr.ReasonNone, err
		}
		break
	}

	// Wait for HANDSHAKE_3 before entering steady state.
	for {
		n, _, err := ep.Recv(buf)
		if err != nil {
			return rifterr.ReasonNone, err
		}
		hdr, payload, err := DecodeHeader(buf[:n])
		if err != nil || hdr.Type != PacketHandshake3 {
			continue
		}
		m3, err := DecodeHandshake3(payload)
		if err != nil {
			continue
		}
		if err := o.hs.ReadMessage3(m3); err != nil {
			o.session.Machine.Unreachable()
			o.log.Warn("handshake_3 rejected", "session_id", o.session.ID, "error", err)
			return o.session.Machine.CloseReason(), rifterr.New(rifterr.HandshakeFailure)
		}
		o.deriveKeys()
		o.session.Machine.EstablishedByResponder(time.Now())
		break
	}
	o.log.Info("session established", "session_id", o.session.ID, "remote", o.session.Remote)

	reason, err := o.runLoop()
	o.log.Info("session closed", "session_id", o.session.ID, "reason", reason)
	return reason, err
}

func (o *Orchestrator) attachRelay(desc RelayDescriptor) {
	leaseID, _, ok := transport.UnwrapRelay(append([]byte{0x01}, desc.Lease...))
	if !ok {
		return
	}
	lease := transport.Lease{ID: leaseID}
	o.relay = transport.NewRelayClient(o.endpoint, desc.Addr, lease)

	if o.relayCheck == nil {
		o.relayCheck = make(chan struct{}, 1)
	}
	o.scheduleRelayCheck()
}

// scheduleRelayCheck arranges for relayCheckInterval to elapse on the
// shared scheduler, then wake runLoop to look at the lease. The
// scheduler's own goroutine never touches Orchestrator state directly,
// preserving the single-owner loop (§5).
func (o *Orchestrator) scheduleRelayCheck() {
	timerwheel.DefaultScheduler.After(func() {
		select {
		case o.relayCheck <- struct{}{}:
		default:
		}
	}, relayCheckInterval)
}

// checkRelayRenewal runs on the loop goroutine when relayCheck fires: if
// the held lease has expired, it asks SignalChannel for a fresh relay
// descriptor (§4.7) and reschedules the next check.
func (o *Orchestrator) checkRelayRenewal() {
	if o.relay != nil && o.relay.LeaseExpired(time.Now()) {
		if desc, ok, err := o.signal.RelayDescriptor(); err == nil && ok {
			o.attachRelay(desc)
			return
		}
	}
	o.scheduleRelayCheck()
}

func (o *Orchestrator) sendHandshake1() {
	m1 := o.hs.WriteMessage1()
	payload, err := EncodeHandshake1(m1)
	if err != nil {
		return
	}
	atomic.AddUint64(&o.session.Stats.HandshakeAttempts, 1)
	_ = o.sendHandshakeEncoded(PacketHandshake1, payload)
}

func (o *Orchestrator) sendHandshake3() {
	m3, err := o.hs.WriteMessage3()
	if err != nil {
		return
	}
	payload, err := EncodeHandshake3(m3)
	if err != nil {
		return
	}
	_ = o.sendHandshakeEncoded(PacketHandshake3, payload)
}

// sendHandshakeEncoded writes the 30-byte header around an
// already-encoded handshake payload and sends it unsealed — the
// handshake messages carry their own embedded encryption where the
// protocol requires it (§4.2), so the outer packet framing here is
// plaintext.
func (o *Orchestrator) sendHandshakeEncoded(t PacketType, payload []byte) error {
	hdr := Header{
		Type:         t,
		SessionIDLow: o.session.ID.Low64(),
		PacketID:     o.session.NextPacketID(),
		PayloadLen:   uint16(len(payload)),
	}
	buf := make([]byte, HeaderSize+len(payload))
	if err := hdr.Encode(buf[:HeaderSize]); err != nil {
		return err
	}
	copy(buf[HeaderSize:], payload)
	return o.endpoint.Send(buf, o.session.Remote)
}

func (o *Orchestrator) deriveKeys() {
	keys := o.hs.Split()
	cipher, err := crypto.NewPacketCipher(keys)
	if err != nil {
		return
	}
	o.session.Cipher = cipher
	o.session.Transcript = keys.Transcript
	o.session.Role = o.hs.Role()
}

func (o *Orchestrator) sendKeepalive() {
	o.sendControl(PacketKeepalive, nil)
}

func (o *Orchestrator) sendBye() {
	o.sendControl(PacketBye, nil)
}

func (o *Orchestrator) flushPacing() {
	_ = o.pacer.Drain(time.Now(), func(payload []byte, addr net.Addr) error {
		return o.endpoint.Send(payload, addr)
	})
}

func (o *Orchestrator) onBitrateChange(kbps float64) {
	o.pacer.SetRate(kbps)
	o.session.Stats.SetBitrate(kbps)
	o.source.SetTargetBitrate(kbps)
}

// sendControl emits a zero-payload or small-payload control packet
// (KEEPALIVE, BYE) sealed under the session's current send epoch.
func (o *Orchestrator) sendControl(t PacketType, payload []byte) {
	if o.session.Cipher == nil {
		return
	}
	hdr := Header{
		Type:         t,
		SessionIDLow: o.session.ID.Low64(),
		PacketID:     o.session.NextPacketID(),
		PayloadLen:   uint16(len(payload) + TagSize),
	}
	if o.session.Cipher.EpochParity() {
		hdr.Flags |= FlagEpochHigh
	}
	buf := make([]byte, HeaderSize)
	_ = hdr.Encode(buf)
	sealed := o.session.Cipher.Seal(nil, buf, payload, hdr.PacketID)
	out := append(buf, sealed...)
	_ = o.endpoint.Send(out, o.session.Remote)
}

func (o *Orchestrator) runLoop() (rifterr.CloseReason, error) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	recvCh := make(chan []byte, 64)
	go o.recvLoop(recvCh)

	for {
		select {
		case raw, ok := <-recvCh:
			if !ok {
				o.session.Machine.Unreachable()
				return o.session.Machine.CloseReason(), rifterr.New(rifterr.SocketError)
			}
			o.handleDatagram(raw)
		case <-o.relayCheck:
			o.checkRelayRenewal()
		case now := <-ticker.C:
			o.session.Machine.Tick(now)
			o.drainReorder(now)
			o.pollAndSendMedia(now)
			o.flushPacing()
			if o.session.Machine.State() == peer.Established && o.session.ShouldRekey() {
				o.rekey()
			}
		}
		if o.session.Machine.IsClosed() {
			return o.session.Machine.CloseReason(), nil
		}
		o.syncEndpointStats()
	}
}

// syncEndpointStats mirrors the endpoint's I/O counters into the
// session's published Stats, matching the teacher's Snmp.Copy-style
// aggregation of lower-layer counters into one snapshot surface.
func (o *Orchestrator) syncEndpointStats() {
	atomic.StoreUint64(&o.session.Stats.OutPkts, atomic.LoadUint64(&o.endpoint.OutPkts))
	atomic.StoreUint64(&o.session.Stats.OutBytes, atomic.LoadUint64(&o.endpoint.OutBytes))
	atomic.StoreUint64(&o.session.Stats.InPkts, atomic.LoadUint64(&o.endpoint.InPkts))
	atomic.StoreUint64(&o.session.Stats.InBytes, atomic.LoadUint64(&o.endpoint.InBytes))
	atomic.StoreUint64(&o.session.Stats.WriteErrors, atomic.LoadUint64(&o.endpoint.WriteErrors))
}

func (o *Orchestrator) recvLoop(out chan<- []byte) {
	defer close(out)
	buf := make([]byte, o.cfg.Transport.MTU+HeaderSize+TagSize)
	for {
		n, _, err := o.endpoint.Recv(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- cp
	}
}

func (o *Orchestrator) handleDatagram(raw []byte) {
	hdr, ciphertext, err := DecodeHeader(raw)
	if err != nil {
		atomic.AddUint64(&o.session.Stats.MalformedPackets, 1)
		return
	}
	if hdr.SessionIDLow != o.session.ID.Low64() {
		return
	}

	switch hdr.Type {
	case PacketHandshake2:
		m2, err := DecodeHandshake2(ciphertext)
		if err != nil {
			return
		}
		if err := o.hs.ReadMessage2(m2); err != nil {
			return
		}
		o.session.Machine.RxHandshake2(time.Now())
		return
	case PacketBye:
		o.session.Machine.RxBye(time.Now())
		return
	}

	if !o.session.AcceptReplay(hdr.PacketID) {
		return
	}

	headerBytes := raw[:HeaderSize]
	plaintext, err := o.session.Cipher.Open(nil, headerBytes, ciphertext, hdr.PacketID, hdr.Flags&FlagEpochHigh != 0, time.Now())
	if err != nil {
		if fatal := o.session.NoteIntegrityFailure(time.Now()); fatal {
			o.log.Warn("integrity failure threshold exceeded, closing", "session_id", o.session.ID)
			o.session.Machine.IntegrityExceeded()
		}
		return
	}
	o.session.NoteIntegritySuccess()
	o.session.Machine.RxData(time.Now())

	switch hdr.Type {
	case PacketDataMedia, PacketParity:
		o.handleMediaShard(hdr, plaintext)
	case PacketDataInput:
		if o.input != nil {
			o.input.Submit(plaintext)
		}
	case PacketFeedback:
		o.handleFeedback(plaintext)
	case PacketKeepalive:
		// liveness only; RxData above already reset the idle timer.
	case PacketDataControl:
		// RxData above already reset the idle timer; a non-empty
		// payload additionally carries a REKEY request (§4.2, §3).
		if len(plaintext) > 0 {
			o.handleRekeyRequest(plaintext)
		}
	}
}

// rekey advances the session to the next epoch: it announces the
// target epoch to the peer under the *current* (soon to be retired)
// epoch's key, then derives and installs that epoch locally. Sending
// before switching means the peer, still on the old epoch, can open
// the announcement with no special-casing (§4.2).
func (o *Orchestrator) rekey() {
	if o.session.Cipher == nil {
		return
	}
	targetEpoch := o.session.Cipher.CurrentEpoch() + 1
	o.sendControl(PacketDataControl, encodeRekeyEpoch(targetEpoch))

	keys := crypto.DeriveEpochKeys(o.session.Transcript, o.session.Role, targetEpoch)
	if err := o.session.Cipher.Rekey(keys, time.Now()); err != nil {
		o.log.Warn("rekey failed", "session_id", o.session.ID, "error", err)
		return
	}
	o.session.MarkRekeyed()
	o.log.Info("rekeyed", "session_id", o.session.ID, "epoch", targetEpoch)
}

// handleRekeyRequest installs the epoch the peer just announced. It
// only accepts the immediate next epoch, rejecting stale or
// out-of-order announcements rather than letting a replayed CONTROL
// packet rewind the session's key schedule.
func (o *Orchestrator) handleRekeyRequest(payload []byte) {
	if o.session.Cipher == nil {
		return
	}
	epoch, ok := decodeRekeyEpoch(payload)
	if !ok || epoch != o.session.Cipher.CurrentEpoch()+1 {
		return
	}
	keys := crypto.DeriveEpochKeys(o.session.Transcript, o.session.Role, epoch)
	if err := o.session.Cipher.Rekey(keys, time.Now()); err != nil {
		o.log.Warn("peer-requested rekey failed", "session_id", o.session.ID, "error", err)
		return
	}
	o.session.MarkRekeyed()
	o.log.Info("rekeyed by peer request", "session_id", o.session.ID, "epoch", epoch)
}

func encodeRekeyEpoch(epoch uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, epoch)
	return b
}

func decodeRekeyEpoch(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload[:4]), true
}

func (o *Orchestrator) handleMediaShard(hdr Header, payload []byte) {
	now := time.Now()
	o.session.Reorder.Arrive(hdr.GroupID, now)

	outcome, complete := o.session.Decoder.Submit(fec.Shard{
		GroupID:  hdr.GroupID,
		Index:    int(hdr.ShardIndex),
		Count:    int(hdr.ShardCount),
		IsParity: hdr.Type == PacketParity,
		Payload:  payload,
	}, now)
	if !complete {
		return
	}

	var joined []byte
	for _, d := range outcome.DataShards {
		joined = append(joined, d...)
	}
	o.session.Reorder.Complete(hdr.GroupID, joined)
	atomic.AddUint64(&o.session.Stats.FECGroupsComplete, 1)
	for _, recovered := range outcome.RecoveredMask {
		if recovered {
			atomic.AddUint64(&o.session.Stats.FECGroupsRecovered, 1)
			break
		}
	}
}

func (o *Orchestrator) drainReorder(now time.Time) {
	for _, d := range o.session.Reorder.Drain(now) {
		if d.Lost {
			o.session.Decoder.Evict(d.GroupID)
			atomic.AddUint64(&o.session.Stats.FECGroupsLost, 1)
			atomic.AddUint64(&o.session.Stats.ReorderEvicted, 1)
			o.sink.SignalLoss(d.GroupID)
			continue
		}
		o.session.Decoder.Forget(d.GroupID)
		atomic.AddUint64(&o.session.Stats.ReorderDelivered, 1)
		o.sink.PushGroup(d.GroupID, d.Payload)
	}
	atomic.StoreUint64(&o.session.Stats.ReorderInFlight, uint64(o.session.Reorder.InFlight()))
}

func (o *Orchestrator) handleFeedback(payload []byte) {
	report, err := DecodeFeedback(payload)
	if err != nil {
		return
	}
	snap := o.session.DELTA.Evaluate([]float64{float64(report.EWMAOwdUS)}, time.Now())
	o.session.Stats.SetFECFraction(snap.FECFraction)
	o.session.Stats.SetCongestionState(int(snap.State))
}

// pollAndSendMedia asks the source for one frame, fragments it into
// MTU-sized shards, and fans them out as a FEC group sized by DELTA's
// current K/N fraction (§4.5, §4.8 — "fragments are produced by the
// orchestrator, not the source").
func (o *Orchestrator) pollAndSendMedia(now time.Time) {
	if o.session.Machine.State() != peer.Established {
		return
	}
	flags, payload, ok := o.source.PollFrame()
	if !ok {
		return
	}
	o.emitGroup(flags, payload)
}

func (o *Orchestrator) emitGroup(flags Flags, payload []byte) {
	shardPayload := o.cfg.Transport.MTU - HeaderSize - TagSize
	if shardPayload <= 0 || len(payload) == 0 {
		return
	}
	var shards [][]byte
	for i := 0; i < len(payload); i += shardPayload {
		end := i + shardPayload
		if end > len(payload) {
			end = len(payload)
		}
		shards = append(shards, payload[i:end])
	}
	n := len(shards)

	snap := o.session.DELTA.Snapshot()
	k := fec.ShardsForFraction(n, snap.FECFraction)

	o.fecEncoder.Reset(n, k)
	for _, s := range shards {
		o.fecEncoder.AddDataShard(s)
	}

	groupID := o.sendGroupID
	o.sendGroupID++
	shardCount := uint16(n + k)

	for i, s := range shards {
		f := flags
		if i == n-1 {
			f |= FlagMarkerEndOfFrame
		}
		o.sealAndEnqueue(PacketDataMedia, groupID, uint16(i), shardCount, s, f)
	}
	if k > 0 {
		for j, p := range o.fecEncoder.Parity() {
			o.sealAndEnqueue(PacketParity, groupID, uint16(n+j), shardCount, p, flags)
		}
	}
	atomic.AddUint64(&o.session.Stats.FECShardsEmitted, uint64(n+k))
}

func (o *Orchestrator) sealAndEnqueue(t PacketType, groupID uint32, idx, count uint16, payload []byte, flags Flags) {
	if o.session.Cipher == nil {
		return
	}
	hdr := Header{
		Type:         t,
		Flags:        flags,
		SessionIDLow: o.session.ID.Low64(),
		PacketID:     o.session.NextPacketID(),
		GroupID:      groupID,
		ShardIndex:   idx,
		ShardCount:   count,
		PayloadLen:   uint16(len(payload) + TagSize),
	}
	if o.session.Cipher.EpochParity() {
		hdr.Flags |= FlagEpochHigh
	}
	buf := make([]byte, HeaderSize)
	_ = hdr.Encode(buf)
	sealed := o.session.Cipher.Seal(nil, buf, payload, hdr.PacketID)
	out := append(buf, sealed...)
	o.pacer.Enqueue(out, o.session.Remote)
}

// StatsSnapshot returns the current session's stats, or ok=false before
// the session has been created (Open creates it before the handshake;
// Accept creates it on the first valid HANDSHAKE_1).
func (o *Orchestrator) StatsSnapshot() (Snapshot, bool) {
	if o.session == nil {
		return Snapshot{}, false
	}
	return o.session.Stats.Snapshot(), true
}

// Close requests an application-initiated teardown (§4.6).
func (o *Orchestrator) Close() {
	if o.session == nil {
		return
	}
	o.session.Machine.ApplicationClose(time.Now())
}

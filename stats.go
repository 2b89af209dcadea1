package riftnet

import "sync/atomic"

// Stats holds the counters exposed to the application and to
// internal/metrics (§4.8: "the session exposes a stats snapshot,
// copy-on-read, covering every subsystem"). All fields are updated with
// atomic operations from the session loop and read by whichever
// goroutine calls Snapshot, adapted from the teacher's snmp.go counter
// set to RIFT's subsystems.
type Stats struct {
	// Transport
	OutPkts, OutBytes uint64
	InPkts, InBytes   uint64
	WriteErrors       uint64

	// Replay / integrity
	ReplayRejected    uint64
	IntegrityFailures uint64
	MalformedPackets  uint64

	// FEC
	FECGroupsComplete  uint64
	FECGroupsRecovered uint64
	FECGroupsLost      uint64
	FECShardsEmitted   uint64

	// Reorder buffer
	ReorderDelivered uint64
	ReorderEvicted   uint64
	ReorderInFlight  uint64

	// DELTA
	BitrateKbps    uint64 // fixed-point not needed; stored as integer kbps
	FECFractionX1e6 uint64 // FEC fraction scaled by 1e6 for atomic storage
	CongestionState uint64 // delta.State value

	// Peer
	HandshakeAttempts uint64
	Reconnects        uint64
}

// NewStats allocates a zeroed Stats structure.
func NewStats() *Stats { return &Stats{} }

// Snapshot is a point-in-time, non-atomic copy safe to hand to callers
// outside the session loop (metrics exporters, diagnostics commands).
type Snapshot struct {
	OutPkts, OutBytes uint64
	InPkts, InBytes   uint64
	WriteErrors       uint64

	ReplayRejected    uint64
	IntegrityFailures uint64
	MalformedPackets  uint64

	FECGroupsComplete  uint64
	FECGroupsRecovered uint64
	FECGroupsLost      uint64
	FECShardsEmitted   uint64

	ReorderDelivered uint64
	ReorderEvicted   uint64
	ReorderInFlight  uint64

	BitrateKbps     uint64
	FECFraction     float64
	CongestionState uint64

	HandshakeAttempts uint64
	Reconnects        uint64
}

// Snapshot atomically copies every counter, matching the teacher's
// Snmp.Copy pattern.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		OutPkts:            atomic.LoadUint64(&s.OutPkts),
		OutBytes:           atomic.LoadUint64(&s.OutBytes),
		InPkts:             atomic.LoadUint64(&s.InPkts),
		InBytes:            atomic.LoadUint64(&s.InBytes),
		WriteErrors:        atomic.LoadUint64(&s.WriteErrors),
		ReplayRejected:     atomic.LoadUint64(&s.ReplayRejected),
		IntegrityFailures:  atomic.LoadUint64(&s.IntegrityFailures),
		MalformedPackets:   atomic.LoadUint64(&s.MalformedPackets),
		FECGroupsComplete:  atomic.LoadUint64(&s.FECGroupsComplete),
		FECGroupsRecovered: atomic.LoadUint64(&s.FECGroupsRecovered),
		FECGroupsLost:      atomic.LoadUint64(&s.FECGroupsLost),
		FECShardsEmitted:   atomic.LoadUint64(&s.FECShardsEmitted),
		ReorderDelivered:   atomic.LoadUint64(&s.ReorderDelivered),
		ReorderEvicted:     atomic.LoadUint64(&s.ReorderEvicted),
		ReorderInFlight:    atomic.LoadUint64(&s.ReorderInFlight),
		BitrateKbps:        atomic.LoadUint64(&s.BitrateKbps),
		FECFraction:        float64(atomic.LoadUint64(&s.FECFractionX1e6)) / 1e6,
		CongestionState:    atomic.LoadUint64(&s.CongestionState),
		HandshakeAttempts:  atomic.LoadUint64(&s.HandshakeAttempts),
		Reconnects:         atomic.LoadUint64(&s.Reconnects),
	}
}

// SetBitrate records the DELTA-approved target bitrate.
func (s *Stats) SetBitrate(kbps float64) {
	atomic.StoreUint64(&s.BitrateKbps, uint64(kbps))
}

// SetFECFraction records the current FEC redundancy fraction.
func (s *Stats) SetFECFraction(frac float64) {
	atomic.StoreUint64(&s.FECFractionX1e6, uint64(frac*1e6))
}

// SetCongestionState records DELTA's current state (delta.State).
func (s *Stats) SetCongestionState(v int) {
	atomic.StoreUint64(&s.CongestionState, uint64(v))
}

// Package demo provides the standalone collaborators cmd/rift-host and
// cmd/rift-client wire into an Orchestrator in place of the out-of-scope
// capture/inject/signaling components (§10.4): a synthetic frame source,
// a discard sink, a discard input, and a fixed-address signal channel.
package demo

import (
	"encoding/binary"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	riftnet "github.com/bybrooklyn/wavry-sub002"
)

// FrameGenerator emits fixed-size synthetic frames at a steady rate,
// standing in for a real encoder (§10.4: "a synthetic frame generator...
// standing in for the out-of-scope capture/inject collaborators").
type FrameGenerator struct {
	size     int
	interval time.Duration
	seq      uint64
	lastSent time.Time

	targetKbps atomic.Uint64 // target bitrate stored as integer kbps
	keyframe   atomic.Bool
}

// NewFrameGenerator builds a generator emitting size-byte frames fps
// times per second.
func NewFrameGenerator(size, fps int) *FrameGenerator {
	g := &FrameGenerator{size: size, interval: time.Second / time.Duration(fps)}
	g.keyframe.Store(true)
	return g
}

// PollFrame returns a frame once per interval, marked FlagKeyframe on the
// first call and whenever RequestKeyframe has been called since.
func (g *FrameGenerator) PollFrame() (riftnet.Flags, []byte, bool) {
	now := time.Now()
	if now.Sub(g.lastSent) < g.interval {
		return 0, nil, false
	}
	g.lastSent = now

	payload := make([]byte, g.size)
	binary.BigEndian.PutUint64(payload, g.seq)
	g.seq++

	var flags riftnet.Flags
	if g.keyframe.Swap(false) {
		flags |= riftnet.FlagKeyframe
	}
	return flags, payload, true
}

func (g *FrameGenerator) SetTargetBitrate(kbps float64) { g.targetKbps.Store(uint64(kbps)) }
func (g *FrameGenerator) RequestKeyframe()              { g.keyframe.Store(true) }

// DiscardSink logs completed groups and losses instead of handing them to
// a real renderer, per §4.8's MediaSink contract.
type DiscardSink struct {
	Log *slog.Logger
}

func (d *DiscardSink) PushGroup(groupID uint32, payload []byte) {
	if d.Log != nil {
		d.Log.Debug("group delivered", "group_id", groupID, "bytes", len(payload))
	}
}

func (d *DiscardSink) SignalLoss(groupID uint32) {
	if d.Log != nil {
		d.Log.Debug("group lost", "group_id", groupID)
	}
}

// DiscardInput drops input events, standing in for the out-of-scope
// input-capture pipeline.
type DiscardInput struct{}

func (DiscardInput) Submit(_ []byte) {}

// StaticSignal resolves to a fixed remote address with no relay
// descriptor, standing in for real signaling/rendezvous (§4.8).
type StaticSignal struct {
	Addr net.Addr
}

func (s StaticSignal) PeerAddr() (net.Addr, error) { return s.Addr, nil }

func (s StaticSignal) RelayDescriptor() (riftnet.RelayDescriptor, bool, error) {
	return riftnet.RelayDescriptor{}, false, nil
}

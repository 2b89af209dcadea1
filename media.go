package riftnet

import "net"

// MediaSource is polled by the orchestrator for outgoing frames; it
// does not fragment them, the orchestrator does (§4.8).
type MediaSource interface {
	PollFrame() (flags Flags, payload []byte, ok bool)
	SetTargetBitrate(kbps float64)
	RequestKeyframe()
}

// MediaSink receives completed groups in order, or a loss signal when
// a group is evicted past its deadline (§4.8).
type MediaSink interface {
	PushGroup(groupID uint32, payload []byte)
	SignalLoss(groupID uint32)
}

// InputSink receives input events in the order their datagrams were
// received, duplicates already removed by the replay window (§4.8,
// §5).
type InputSink interface {
	Submit(eventBytes []byte)
}

// RelayDescriptor is what SignalChannel yields when direct traversal
// has failed and a relay lease is available (§4.7).
type RelayDescriptor struct {
	Addr  net.Addr
	Lease []byte // opaque, transport package decodes it
}

// SignalChannel resolves the remote peer's address (and, if direct
// traversal fails, a relay descriptor) before HANDSHAKING begins; it
// may yield updates afterward (§4.8).
type SignalChannel interface {
	PeerAddr() (net.Addr, error)
	RelayDescriptor() (RelayDescriptor, bool, error)
}

package transport

import (
	"net"
	"time"

	"github.com/bybrooklyn/wavry-sub002/internal/ringbuf"
)

// InputBypassCapPktsPerSec is the ceiling on input datagrams bypassing
// the pacing bucket, preserving responsiveness under saturation (§4.7).
const InputBypassCapPktsPerSec = 64

// queuedDatagram is one datagram waiting for a pacing token.
type queuedDatagram struct {
	payload []byte
	addr    net.Addr
}

// Pacer is a byte token bucket at the current DELTA-approved bitrate,
// backed by a queue of datagrams waiting for their turn (grounded on
// the teacher's ring buffer, repurposed here as the pacing backlog
// instead of a generic FIFO).
type Pacer struct {
	kbps       float64
	tokens     float64 // bytes available right now
	capacity   float64 // bucket size in bytes (burst allowance)
	lastRefill time.Time

	inputTokens     float64
	inputLastRefill time.Time

	queue *ringbuf.Buffer[queuedDatagram]
}

// NewPacer starts with a full bucket sized for ~20ms of burst at the
// initial rate.
func NewPacer(initialKbps float64, now time.Time) *Pacer {
	p := &Pacer{kbps: initialKbps, lastRefill: now, inputLastRefill: now}
	p.capacity = kbpsToBytesPerSec(initialKbps) * 0.02
	p.tokens = p.capacity
	p.inputTokens = InputBypassCapPktsPerSec
	p.queue = ringbuf.New[queuedDatagram](32)
	return p
}

// Enqueue holds a datagram until the bucket has tokens for it.
func (p *Pacer) Enqueue(payload []byte, addr net.Addr) {
	p.queue.Push(queuedDatagram{payload: payload, addr: addr})
}

// Pending reports how many datagrams are backlogged.
func (p *Pacer) Pending() int { return p.queue.Len() }

// Drain releases every datagram the bucket can currently afford, in
// FIFO order, via send. It stops at the first datagram that doesn't
// fit so ordering within a flow is preserved.
func (p *Pacer) Drain(now time.Time, send func(payload []byte, addr net.Addr) error) error {
	for {
		next, ok := p.queue.Peek()
		if !ok {
			return nil
		}
		if !p.Allow(now, len(next.payload)) {
			return nil
		}
		d, _ := p.queue.Pop()
		if err := send(d.payload, d.addr); err != nil {
			return err
		}
	}
}

func kbpsToBytesPerSec(kbps float64) float64 { return kbps * 1000 / 8 }

// SetRate updates the bucket's fill rate when DELTA pushes a new target
// bitrate (§4.5: "every change in bitrate_kbps is pushed to
// MediaSource.set_target_bitrate" — the pacer mirrors the same value so
// send-side shaping tracks the encoder's target).
func (p *Pacer) SetRate(kbps float64) {
	p.kbps = kbps
	p.capacity = kbpsToBytesPerSec(kbps) * 0.02
	if p.tokens > p.capacity {
		p.tokens = p.capacity
	}
}

func (p *Pacer) refill(now time.Time) {
	elapsed := now.Sub(p.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	p.tokens += elapsed * kbpsToBytesPerSec(p.kbps)
	if p.tokens > p.capacity {
		p.tokens = p.capacity
	}
	p.lastRefill = now

	inputElapsed := now.Sub(p.inputLastRefill).Seconds()
	if inputElapsed > 0 {
		p.inputTokens += inputElapsed * InputBypassCapPktsPerSec
		if p.inputTokens > InputBypassCapPktsPerSec {
			p.inputTokens = InputBypassCapPktsPerSec
		}
		p.inputLastRefill = now
	}
}

// Allow reports whether a datagram of size bytes may be sent now,
// consuming tokens if so.
func (p *Pacer) Allow(now time.Time, size int) bool {
	p.refill(now)
	if p.tokens < float64(size) {
		return false
	}
	p.tokens -= float64(size)
	return true
}

// AllowInput is the bypass path for input datagrams: capped at
// InputBypassCapPktsPerSec regardless of the main bucket's state.
func (p *Pacer) AllowInput(now time.Time) bool {
	p.refill(now)
	if p.inputTokens < 1 {
		return false
	}
	p.inputTokens--
	return true
}

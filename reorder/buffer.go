// Package reorder implements the RIFT receive-side reorder buffer (§4.4):
// a sliding window bounded by both group count and per-group deadline,
// delivering completed groups to the sink strictly in group_id order and
// evicting whatever hasn't completed by its deadline.
package reorder

import "time"

// groupDiff compares group ids that wrap mod 2^32 using signed-distance
// arithmetic, so "newer" is well defined across the wraparound boundary
// (§4.4) — the same idiom KCP-style sequence comparisons use.
func groupDiff(later, earlier uint32) int32 {
	return int32(later - earlier)
}

// State mirrors the group lifecycle in §3: OPEN -> (RECOVERABLE|COMPLETE)
// -> EVICTED. RECOVERABLE is folded into OPEN here since the FEC engine
// (not this package) performs recovery; this buffer only observes
// Complete/Evicted outcomes.
type State int

const (
	StateOpen State = iota
	StateComplete
	StateEvicted
)

type slot struct {
	state        State
	payload      []byte
	firstArrival time.Time
	deadline     time.Time
}

// Delivery is one unit handed to the sink: either a payload in order, or
// a loss signal for a group whose deadline elapsed incomplete.
type Delivery struct {
	GroupID uint32
	Payload []byte
	Lost    bool
}

// Buffer is owned exclusively by the session loop — no internal locking.
type Buffer struct {
	window   int
	deadline time.Duration

	slots map[uint32]*slot
	// oldestPending is the smallest not-yet-delivered group id once the
	// buffer has seen at least one arrival.
	oldestPending uint32
	have          bool
	pendingOrder  []uint32 // group ids currently open, complete or evicted-but-undrained, ascending group_id
}

// New builds a buffer bounded to window groups in flight, each given
// deadline (target_play_delay, §5) from its first shard's arrival.
func New(window int, deadline time.Duration) *Buffer {
	return &Buffer{window: window, deadline: deadline, slots: make(map[uint32]*slot)}
}

// Arrive registers a group's first shard arrival if this is the first
// time the buffer has seen groupID, establishing its deadline. Returns
// false if the group has already been delivered/evicted (a late
// duplicate, §4.4 "shards for already-completed or evicted groups are
// dropped and counted").
func (b *Buffer) Arrive(groupID uint32, now time.Time) bool {
	if !b.have {
		b.have = true
		b.oldestPending = groupID
	}
	if s, ok := b.slots[groupID]; ok {
		_ = s
		return true
	}
	if b.have && groupDiff(b.oldestPending, groupID) > 0 {
		// groupID is older than everything still pending: it was
		// already delivered or evicted.
		return false
	}
	b.slots[groupID] = &slot{state: StateOpen, firstArrival: now, deadline: now.Add(b.deadline)}
	pos := len(b.pendingOrder)
	for pos > 0 && groupDiff(groupID, b.pendingOrder[pos-1]) < 0 {
		pos--
	}
	b.pendingOrder = append(b.pendingOrder, 0)
	copy(b.pendingOrder[pos+1:], b.pendingOrder[pos:])
	b.pendingOrder[pos] = groupID
	b.enforceWindow(now)
	return true
}

// Complete marks a group's payload as ready for in-order delivery.
func (b *Buffer) Complete(groupID uint32, payload []byte) {
	if s, ok := b.slots[groupID]; ok && s.state == StateOpen {
		s.state = StateComplete
		s.payload = payload
	}
}

// enforceWindow evicts the oldest pending groups past the count bound W,
// even if incomplete (§4.4). Evicted groups stay in pendingOrder so the
// next Drain reports them as losses in order.
func (b *Buffer) enforceWindow(now time.Time) {
	for i := 0; i < len(b.pendingOrder)-b.window; i++ {
		if s, ok := b.slots[b.pendingOrder[i]]; ok && s.state == StateOpen {
			s.state = StateEvicted
		}
	}
}

// Drain delivers, in ascending group_id order, every completed prefix
// group, then evicts anything past its deadline. Called on every new
// arrival and on a periodic tick (§4.4, §5).
func (b *Buffer) Drain(now time.Time) []Delivery {
	var out []Delivery

	for len(b.pendingOrder) > 0 {
		id := b.pendingOrder[0]
		s := b.slots[id]
		if s == nil {
			b.pendingOrder = b.pendingOrder[1:]
			continue
		}
		if s.state == StateOpen && !now.Before(s.deadline) {
			s.state = StateEvicted
		}
		switch s.state {
		case StateComplete:
			out = append(out, Delivery{GroupID: id, Payload: s.payload})
			b.pendingOrder = b.pendingOrder[1:]
			delete(b.slots, id)
			b.advanceOldest(id)
		case StateEvicted:
			out = append(out, Delivery{GroupID: id, Lost: true})
			b.pendingOrder = b.pendingOrder[1:]
			delete(b.slots, id)
			b.advanceOldest(id)
		default:
			return out // oldest still open and within deadline: stop, preserve order
		}
	}
	return out
}

func (b *Buffer) advanceOldest(delivered uint32) {
	if len(b.pendingOrder) == 0 {
		b.oldestPending = delivered + 1
		return
	}
	b.oldestPending = b.pendingOrder[0]
}

// InFlight reports how many groups are currently pending (open or
// completed-but-not-yet-drained).
func (b *Buffer) InFlight() int { return len(b.pendingOrder) }

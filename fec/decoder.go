package fec

import "time"

// Shard is one datagram's payload contribution to a FEC group.
type Shard struct {
	GroupID    uint32
	Index      int
	Count      int // N+K, constant across the group (§3 invariant)
	IsParity   bool
	Payload    []byte
}

// GroupOutcome is returned once a group either completes or is evicted.
type GroupOutcome struct {
	GroupID       uint32
	N             int
	DataShards    [][]byte // len N, fully populated when Complete
	Complete      bool
	RecoveredMask []bool // RecoveredMask[i] true if shard i came from FEC, not the wire
}

type groupState struct {
	shardCount int
	n, k       int // -1 until resolved
	pattern    Pattern

	dataRaw   map[int][]byte
	parityRaw map[int][]byte

	dataShards [][]byte
	known      []bool
	knownCount int
	fecMask    []bool

	firstArrival time.Time
	complete     bool
}

func newGroupState(shardCount int, now time.Time) *groupState {
	return &groupState{
		shardCount:   shardCount,
		n:            -1,
		k:            -1,
		dataRaw:      make(map[int][]byte),
		parityRaw:    make(map[int][]byte),
		firstArrival: now,
	}
}

// Decoder accumulates shard arrivals per group and runs the peeling
// recovery described in §4.3. Owned exclusively by the session loop.
type Decoder struct {
	groups  map[uint32]*groupState
	evicted map[uint32]bool // remembers recently evicted/completed ids so late shards are dropped, not reopened
}

func NewDecoder() *Decoder {
	return &Decoder{
		groups:  make(map[uint32]*groupState),
		evicted: make(map[uint32]bool),
	}
}

// Submit feeds one shard into its group's state. It returns the group's
// outcome once the group transitions to Complete on this call; on every
// other call it returns (nil, false). Callers are responsible for
// deadline eviction (handled by the reorder buffer, which owns timing).
func (d *Decoder) Submit(s Shard, now time.Time) (*GroupOutcome, bool) {
	if d.evicted[s.GroupID] {
		return nil, false
	}
	gs, ok := d.groups[s.GroupID]
	if !ok {
		gs = newGroupState(s.Count, now)
		d.groups[s.GroupID] = gs
	}
	if gs.complete || gs.shardCount != s.Count {
		return nil, false
	}

	if s.IsParity {
		if _, dup := gs.parityRaw[s.Index]; dup {
			return nil, false
		}
		gs.parityRaw[s.Index] = s.Payload
		if gs.n == -1 {
			// Parity shards are emitted starting exactly at index N
			// (§9 pattern table convention); the smallest parity index
			// seen so far is the tightest bound on N.
			if n := s.Index; gs.n == -1 || n < gs.n {
				gs.n = s.Index
			}
		} else if s.Index < gs.n {
			gs.n = s.Index
		}
	} else {
		if _, dup := gs.dataRaw[s.Index]; dup {
			return nil, false
		}
		gs.dataRaw[s.Index] = s.Payload
		if s.Index+1 > gs.shardCount {
			return nil, false
		}
		// If every shard in the group has arrived as a data shard, K=0.
		if len(gs.dataRaw) == gs.shardCount {
			gs.n = gs.shardCount
		}
	}

	if gs.n == -1 {
		return nil, false
	}
	if gs.k == -1 {
		gs.k = gs.shardCount - gs.n
		gs.pattern = BuildPattern(gs.n, maxInt(gs.k, 0))
		gs.dataShards = make([][]byte, gs.n)
		gs.known = make([]bool, gs.n)
		for i, payload := range gs.dataRaw {
			if i < gs.n && !gs.known[i] {
				gs.dataShards[i] = payload
				gs.known[i] = true
				gs.knownCount++
			}
		}
	} else {
		if !s.IsParity && s.Index < gs.n && !gs.known[s.Index] {
			gs.dataShards[s.Index] = s.Payload
			gs.known[s.Index] = true
			gs.knownCount++
		}
	}

	if gs.knownCount < gs.n && gs.k > 0 {
		d.peel(gs)
	}

	if gs.knownCount >= gs.n {
		gs.complete = true
		delete(d.groups, s.GroupID)
		d.evicted[s.GroupID] = true
		mask := gs.fecMask
		if mask == nil {
			mask = make([]bool, gs.n)
		}
		return &GroupOutcome{
			GroupID:       s.GroupID,
			N:             gs.n,
			DataShards:    gs.dataShards,
			Complete:      true,
			RecoveredMask: mask,
		}, true
	}
	return nil, false
}

// peel runs one or more passes of the XOR peeling decoder: for each
// parity row whose unknown set (among data shards) has exactly one
// member, that member is recovered by XORing the parity payload against
// every other (known) data shard it covers. Repeats until a pass makes
// no progress.
func (d *Decoder) peel(gs *groupState) {
	if gs.fecMask == nil {
		gs.fecMask = make([]bool, gs.n)
	}
	for {
		progressed := false
		for j := 0; j < gs.k; j++ {
			parityPayload, have := gs.parityRaw[gs.n+j]
			if !have {
				continue
			}
			row := gs.pattern.Rows[j]
			unknownIdx := -1
			unknownCount := 0
			for i, covered := range row {
				if !covered {
					continue
				}
				if !gs.known[i] {
					unknownCount++
					unknownIdx = i
					if unknownCount > 1 {
						break
					}
				}
			}
			if unknownCount != 1 {
				continue
			}
			recovered := xorCopy(parityPayload)
			for i, covered := range row {
				if !covered || i == unknownIdx {
					continue
				}
				xorInto(recovered, gs.dataShards[i])
			}
			gs.dataShards[unknownIdx] = recovered
			gs.known[unknownIdx] = true
			gs.fecMask[unknownIdx] = true
			gs.knownCount++
			progressed = true
			if gs.knownCount == gs.n {
				return
			}
		}
		if !progressed {
			return
		}
	}
}

func xorCopy(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

func xorInto(dst, src []byte) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] ^= src[i]
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Evict marks groupID as terminally gone (its deadline elapsed without
// completing). Called by the reorder buffer; subsequent shards for this
// group are dropped and counted rather than reopening it.
func (d *Decoder) Evict(groupID uint32) {
	delete(d.groups, groupID)
	d.evicted[groupID] = true
}

// Forget drops the evicted-id memory for groupID once the reorder window
// has moved far enough past it that a replay can't reach this decoder.
func (d *Decoder) Forget(groupID uint32) {
	delete(d.evicted, groupID)
}

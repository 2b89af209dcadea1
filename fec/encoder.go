package fec

// Encoder buffers a group's data shards and produces its parity shards
// once all N have been seen, using the pattern table for the group's
// (N, K). One Encoder instance is reused across groups by the session
// loop; GroupID/sequencing is the caller's concern (§4.8: fragments are
// produced by the orchestrator, not the FEC engine).
type Encoder struct {
	n, k    int
	pattern Pattern

	shards  [][]byte
	maxLen  int
	count   int
}

// NewEncoder builds an encoder for a group of n data shards and k parity
// shards, per the current DELTA-selected K/N (§4.5). K may be 0.
func NewEncoder(n, k int) *Encoder {
	return &Encoder{n: n, k: k, pattern: BuildPattern(n, maxInt(k, 0)), shards: make([][]byte, 0, n)}
}

// AddDataShard appends one data shard's payload. Once N shards have been
// added, Parity returns the K parity payloads; until then it returns nil.
func (e *Encoder) AddDataShard(payload []byte) {
	e.shards = append(e.shards, payload)
	if len(payload) > e.maxLen {
		e.maxLen = len(payload)
	}
	e.count++
}

// Ready reports whether all N data shards have been collected.
func (e *Encoder) Ready() bool { return e.count == e.n }

// Parity computes the K parity payloads by XORing each pattern row's
// covered data shards, zero-padding shorter shards to the group's
// longest payload so XOR stays byte-aligned (§4.3).
func (e *Encoder) Parity() [][]byte {
	if e.k == 0 || e.count < e.n {
		return nil
	}
	out := make([][]byte, e.k)
	for j := 0; j < e.k; j++ {
		row := e.pattern.Rows[j]
		buf := make([]byte, e.maxLen)
		for i, covered := range row {
			if !covered || i >= len(e.shards) {
				continue
			}
			xorInto(buf, e.shards[i])
		}
		out[j] = buf
	}
	return out
}

// Reset clears the encoder for reuse with a new (n, k).
func (e *Encoder) Reset(n, k int) {
	e.n, e.k = n, k
	e.pattern = BuildPattern(n, maxInt(k, 0))
	e.shards = e.shards[:0]
	e.maxLen = 0
	e.count = 0
}

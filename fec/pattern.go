// Package fec implements the RIFT XOR parity scheme (§4.3): a frozen,
// wire-versioned lookup table of selection patterns, one per (N, K) pair
// drawn from the FEC schedule, and an iterative peeling decoder that
// recovers missing data shards from whichever parity currently covers
// exactly one unresolved unknown. Unlike a generic Reed-Solomon code this
// is plain binary XOR — no Galois field arithmetic — trading a
// guaranteed any-K-erasure recovery bound for a simple, auditable,
// wire-frozen pattern (see BuildPattern for which losses a K>1 pattern
// can and cannot recover, matching §4.3's own "high probability"
// language).
package fec

import "sync"

// Schedule is the K/N fraction ladder from §6's FEC configuration block.
var Schedule = []float64{0.05, 0.10, 0.20, 0.35, 0.50}

const (
	GroupMinDefault = 4
	GroupMaxDefault = 32
)

// Pattern is the selection table for one (N, K) pair: Pattern[j] is the
// set of data shard indices XORed into parity shard j.
type Pattern struct {
	N, K  int
	Rows  [][]bool // Rows[j][i] == true iff parity j covers data shard i
}

// patternCache memoizes patterns per (N,K) so sender and receiver that
// construct tables independently always agree (§9: "receivers must
// compute identical patterns"). Guarded by patternCacheMu since separate
// sessions' event-loop goroutines each call BuildPattern independently
// (§5's single-owner rule bounds one session's state, not this
// process-wide table).
var (
	patternCacheMu sync.RWMutex
	patternCache   = map[[2]int]Pattern{}
)

// BuildPattern deterministically derives the selection table for (N, K).
//
// K == 1 is the pure-XOR case: the single parity covers every data
// shard, which guarantees recovery of any one missing shard.
//
// K > 1 partitions the N data shards into K contiguous blocks and gives
// parity j every data shard EXCEPT block j. A single missing shard is
// always recoverable (by the K-1 parities that don't exclude its block,
// each of which reduces to one unknown once all other missing shards in
// that parity are known). Multiple missing shards drawn from the same
// block are not independently separable by XOR alone; the decoder falls
// back to peeling across parities as shards resolve.
func BuildPattern(n, k int) Pattern {
	key := [2]int{n, k}

	patternCacheMu.RLock()
	p, ok := patternCache[key]
	patternCacheMu.RUnlock()
	if ok {
		return p
	}

	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if p, ok := patternCache[key]; ok {
		return p
	}

	rows := make([][]bool, k)
	if k <= 1 {
		for j := range rows {
			row := make([]bool, n)
			for i := range row {
				row[i] = true
			}
			rows[j] = row
		}
	} else {
		blockSize := (n + k - 1) / k
		for j := 0; j < k; j++ {
			row := make([]bool, n)
			loExcl := j * blockSize
			hiExcl := loExcl + blockSize
			if hiExcl > n {
				hiExcl = n
			}
			for i := 0; i < n; i++ {
				row[i] = i < loExcl || i >= hiExcl
			}
			rows[j] = row
		}
	}
	p = Pattern{N: n, K: k, Rows: rows}
	patternCache[key] = p
	return p
}

// ShardsForFraction maps a DELTA-selected K/N fraction and a group size N
// to the nearest integer K clamped to [0, N), used by the FEC policy in
// §4.5.
func ShardsForFraction(n int, fraction float64) int {
	k := int(fraction*float64(n) + 0.5)
	if k < 0 {
		k = 0
	}
	if k >= n {
		k = n - 1
	}
	return k
}

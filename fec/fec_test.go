package fec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func shardPayloads(n int, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		p := make([]byte, size)
		for j := range p {
			p[j] = byte(i*31 + j)
		}
		out[i] = p
	}
	return out
}

func TestPattern_K1CoversEveryDataShard(t *testing.T) {
	p := BuildPattern(8, 1)
	require.Len(t, p.Rows, 1)
	for i, covered := range p.Rows[0] {
		require.Truef(t, covered, "k=1 parity must cover data shard %d", i)
	}
}

func TestPattern_IsMemoizedPerNK(t *testing.T) {
	a := BuildPattern(10, 3)
	b := BuildPattern(10, 3)
	require.Same(t, &a.Rows[0][0], &b.Rows[0][0], "identical (n,k) must return the cached table")
}

func TestShardsForFraction_ClampsToValidRange(t *testing.T) {
	require.Equal(t, 0, ShardsForFraction(10, 0))
	require.Equal(t, 5, ShardsForFraction(10, 0.5))
	require.Equal(t, 9, ShardsForFraction(10, 1.0), "k must stay below n")
	require.Equal(t, 0, ShardsForFraction(10, -1))
}

func TestEncoderDecoder_RoundTripNoLoss(t *testing.T) {
	const n, k = 6, 2
	enc := NewEncoder(n, k)
	payloads := shardPayloads(n, 64)
	for _, p := range payloads {
		enc.AddDataShard(p)
	}
	require.True(t, enc.Ready())
	parity := enc.Parity()
	require.Len(t, parity, k)

	dec := NewDecoder()
	now := time.Now()
	var outcome *GroupOutcome
	for i, p := range payloads {
		o, done := dec.Submit(Shard{GroupID: 1, Index: i, Count: n + k, Payload: p}, now)
		if done {
			outcome = o
		}
	}
	require.NotNil(t, outcome, "group completes once all data shards arrive directly")
	require.True(t, outcome.Complete)
	require.Equal(t, payloads, outcome.DataShards)
	_ = parity
}

func TestEncoderDecoder_RecoversSingleLossViaParity(t *testing.T) {
	const n, k = 6, 2
	enc := NewEncoder(n, k)
	payloads := shardPayloads(n, 32)
	for _, p := range payloads {
		enc.AddDataShard(p)
	}
	parity := enc.Parity()

	dec := NewDecoder()
	now := time.Now()
	var outcome *GroupOutcome
	missing := 2
	for i, p := range payloads {
		if i == missing {
			continue
		}
		o, done := dec.Submit(Shard{GroupID: 5, Index: i, Count: n + k, Payload: p}, now)
		if done {
			outcome = o
		}
	}
	for j, p := range parity {
		o, done := dec.Submit(Shard{GroupID: 5, Index: n + j, Count: n + k, IsParity: true, Payload: p}, now)
		if done {
			outcome = o
		}
	}

	require.NotNil(t, outcome, "single loss within one parity block must be recoverable")
	require.True(t, outcome.Complete)
	require.Equal(t, payloads[missing], outcome.DataShards[missing])
	require.True(t, outcome.RecoveredMask[missing])
	for i := range outcome.RecoveredMask {
		if i != missing {
			require.False(t, outcome.RecoveredMask[i])
		}
	}
}

func TestDecoder_DuplicateShardIsIgnored(t *testing.T) {
	dec := NewDecoder()
	now := time.Now()
	payload := []byte("data")

	_, done := dec.Submit(Shard{GroupID: 9, Index: 0, Count: 3, Payload: payload}, now)
	require.False(t, done)
	_, done = dec.Submit(Shard{GroupID: 9, Index: 0, Count: 3, Payload: payload}, now)
	require.False(t, done, "a duplicate index must not progress the group")
}

func TestDecoder_EvictedGroupDropsLateShards(t *testing.T) {
	dec := NewDecoder()
	now := time.Now()
	dec.Evict(42)

	_, done := dec.Submit(Shard{GroupID: 42, Index: 0, Count: 2, Payload: []byte("late")}, now)
	require.False(t, done, "shards for an evicted group must never complete it")
}

func TestDecoder_ForgetAllowsGroupIDReuse(t *testing.T) {
	dec := NewDecoder()
	now := time.Now()
	dec.Evict(7)
	dec.Forget(7)

	_, done := dec.Submit(Shard{GroupID: 7, Index: 0, Count: 1, Payload: []byte("x")}, now)
	require.True(t, done, "after Forget, a new group with the same id must be accepted fresh")
}

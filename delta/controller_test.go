package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KPersistence = 2
	return cfg
}

func TestController_StableIncreasesBitrate(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, nil, nil)
	start := c.Snapshot().BitrateKbps

	now := time.Now()
	snap := c.Evaluate([]float64{100, 100, 100, 100}, now)

	require.Equal(t, Stable, snap.State)
	require.Greater(t, snap.BitrateKbps, start)
}

func TestController_SustainedRisingTrendEntersRisingState(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, nil, nil)
	now := time.Now()

	var snap Snapshot
	next := 0.0
	for i := 0; i < cfg.KPersistence+1; i++ {
		batch := make([]float64, 8)
		for j := range batch {
			next += 500
			batch[j] = next
		}
		snap = c.Evaluate(batch, now)
	}
	require.Equal(t, Rising, snap.State)
}

func TestController_HighDelayEntersCongestedAndReducesBitrate(t *testing.T) {
	cfg := testConfig()
	var gotBitrate float64
	c := New(cfg, func(kbps float64) { gotBitrate = kbps }, nil)
	now := time.Now()

	// Drive the EWMA well above 1.5x target directly via repeated high samples.
	high := cfg.TargetDelayUS * 3
	samples := make([]float64, 32)
	for i := range samples {
		samples[i] = high
	}

	before := c.Snapshot().BitrateKbps
	var snap Snapshot
	for i := 0; i < cfg.KPersistence+2; i++ {
		snap = c.Evaluate(samples, now)
	}

	require.Equal(t, Congested, snap.State)
	require.Less(t, snap.BitrateKbps, before)
	require.Equal(t, snap.BitrateKbps, gotBitrate)
}

func TestController_SustainedCongestionRequestsKeyframe(t *testing.T) {
	cfg := testConfig()
	keyframes := 0
	c := New(cfg, nil, func() { keyframes++ })

	high := cfg.TargetDelayUS * 3
	samples := make([]float64, 32)
	for i := range samples {
		samples[i] = high
	}

	now := time.Now()
	for i := 0; i < cfg.KPersistence+1; i++ {
		c.Evaluate(samples, now)
	}
	require.Equal(t, Congested, c.Snapshot().State)
	require.Equal(t, 0, keyframes, "no keyframe until congestion has persisted 2s")

	c.Evaluate(samples, now.Add(3*time.Second))
	require.Equal(t, 1, keyframes, "sustained congestion past 2s requests exactly one keyframe")
}

func TestController_FECFractionNeverLeavesScheduleBounds(t *testing.T) {
	cfg := testConfig()
	c := New(cfg, nil, nil)
	now := time.Now()

	stable := []float64{10, 10, 10, 10}
	for i := 0; i < 10; i++ {
		snap := c.Evaluate(stable, now)
		require.GreaterOrEqual(t, snap.FECFraction, cfg.Schedule[0])
		require.LessOrEqual(t, snap.FECFraction, cfg.Schedule[len(cfg.Schedule)-1])
	}
}

func TestState_String(t *testing.T) {
	require.Equal(t, "STABLE", Stable.String())
	require.Equal(t, "RISING", Rising.String())
	require.Equal(t, "CONGESTED", Congested.String())
}

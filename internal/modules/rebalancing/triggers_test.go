package rebalancing

import (
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func snapshot(reserve int64, pools ...int64) balancing.Snapshot {
	s := balancing.Snapshot{Reserve: big.NewInt(reserve)}
	for _, p := range pools {
		s.Pools = append(s.Pools, big.NewInt(p))
	}
	return s
}

func twoPools(w1, w2 int64) balancing.Strategy {
	return balancing.Strategy{Pools: []balancing.PoolRef{"aave", "compound"}, Weights: []int64{w1, w2}}
}

func TestTriggerChecker_NoPools(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())
	result := tc.CheckTriggers(snapshot(100), balancing.Strategy{}, big.NewInt(0), 0.05)
	assert.False(t, result.ShouldRebalance)
	assert.Equal(t, "no active pools", result.Reason)
}

func TestTriggerChecker_IncompleteSnapshot(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())
	result := tc.CheckTriggers(snapshot(100, 1), twoPools(1, 1), big.NewInt(0), 0.05)
	assert.False(t, result.ShouldRebalance)
}

func TestTriggerChecker_ReserveShortfall(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())
	result := tc.CheckTriggers(snapshot(100, 500, 500), twoPools(1, 1), big.NewInt(150), 0.05)
	assert.True(t, result.ShouldRebalance)
	assert.True(t, strings.HasPrefix(result.Reason, "reserve shortfall"), result.Reason)
}

func TestTriggerChecker_IdleReserve(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())

	// 200 idle out of 1200 total is ~16.7%
	result := tc.CheckTriggers(snapshot(200, 500, 500), twoPools(1, 1), big.NewInt(0), 0.05)
	assert.True(t, result.ShouldRebalance)
	assert.True(t, strings.HasPrefix(result.Reason, "idle reserve"), result.Reason)

	// 10 idle out of 1010 is below 5%
	result = tc.CheckTriggers(snapshot(10, 500, 500), twoPools(1, 1), big.NewInt(0), 0.05)
	assert.False(t, result.ShouldRebalance)
	assert.Equal(t, "no triggers met", result.Reason)
}

func TestTriggerChecker_PoolDrift(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())

	// pooled 1000 split 700/300 against 50/50 weights: 20% drift each
	result := tc.CheckTriggers(snapshot(0, 700, 300), twoPools(1, 1), big.NewInt(0), 0.05)
	assert.True(t, result.ShouldRebalance)
	assert.InDelta(t, 0.2, result.MaxDrift, 1e-9)
	assert.Equal(t, "aave", result.DriftPool)
	assert.InDelta(t, 0.2, result.Drifts["compound"], 1e-9)
	assert.Contains(t, result.Reason, "pool drift: aave")
}

func TestTriggerChecker_PoolDriftBelowThreshold(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())

	// 620/380 against 60/40 weights: 2% drift
	result := tc.CheckTriggers(snapshot(0, 620, 380), twoPools(60, 40), big.NewInt(0), 0.05)
	assert.False(t, result.ShouldRebalance)
	assert.InDelta(t, 0.02, result.MaxDrift, 1e-9)
}

func TestTriggerChecker_PoolDriftHugeWeights(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())

	// weights whose sum does not fit in int64 still split evenly
	result := tc.CheckTriggers(snapshot(0, 500, 500), twoPools(math.MaxInt64, math.MaxInt64), big.NewInt(0), 0.05)
	assert.False(t, result.ShouldRebalance)
	assert.InDelta(t, 0, result.MaxDrift, 1e-9)
}

func TestTriggerChecker_NothingDeployedAndReserveAtTarget(t *testing.T) {
	tc := NewTriggerChecker(zerolog.Nop())
	result := tc.CheckTriggers(snapshot(100, 0, 0), twoPools(1, 1), big.NewInt(100), 0.05)
	assert.False(t, result.ShouldRebalance)
}

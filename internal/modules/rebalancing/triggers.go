package rebalancing

import (
	"fmt"
	"math"
	"math/big"

	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/aristath/dynamo/internal/utils"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// TriggerResult represents the result of a rebalancing trigger check
type TriggerResult struct {
	ShouldRebalance bool               `json:"should_rebalance"`
	Reason          string             `json:"reason"`
	MaxDrift        float64            `json:"max_drift"`
	DriftPool       string             `json:"drift_pool,omitempty"`
	Drifts          map[string]float64 `json:"drifts,omitempty"`
}

// TriggerChecker decides whether the vault's balances warrant a rebalance
type TriggerChecker struct {
	log zerolog.Logger
}

// NewTriggerChecker creates a new trigger checker
func NewTriggerChecker(log zerolog.Logger) *TriggerChecker {
	return &TriggerChecker{
		log: log.With().Str("component", "rebalancing_triggers").Logger(),
	}
}

// CheckTriggers evaluates, in order:
//  1. Reserve shortfall: the reserve is below targetReserve.
//  2. Idle reserve: the reserve exceeds targetReserve by at least driftThreshold of total assets.
//  3. Pool drift: some pool's share of the pooled funds is at least driftThreshold away from
//     its weight share.
func (tc *TriggerChecker) CheckTriggers(
	snapshot balancing.Snapshot,
	strategy balancing.Strategy,
	targetReserve *big.Int,
	driftThreshold float64,
) *TriggerResult {
	if strategy.Len() == 0 {
		return &TriggerResult{Reason: "no active pools"}
	}
	if snapshot.Reserve == nil || len(snapshot.Pools) != strategy.Len() {
		return &TriggerResult{Reason: "incomplete balance snapshot"}
	}

	if snapshot.Reserve.Cmp(targetReserve) < 0 {
		shortfall := new(big.Int).Sub(targetReserve, snapshot.Reserve)
		tc.log.Info().
			Str("reserve", snapshot.Reserve.String()).
			Str("target_reserve", targetReserve.String()).
			Msg("Reserve below target")
		return &TriggerResult{
			ShouldRebalance: true,
			Reason:          fmt.Sprintf("reserve shortfall: %s below target", shortfall),
		}
	}

	pooled := new(big.Int)
	for _, balance := range snapshot.Pools {
		pooled.Add(pooled, balance)
	}
	total := new(big.Int).Add(pooled, snapshot.Reserve)

	excess := new(big.Int).Sub(snapshot.Reserve, targetReserve)
	if idle := utils.Share(excess, total); excess.Sign() > 0 && idle >= driftThreshold {
		tc.log.Info().
			Float64("idle_share", idle).
			Float64("threshold", driftThreshold).
			Msg("Idle reserve detected")
		return &TriggerResult{
			ShouldRebalance: true,
			Reason: fmt.Sprintf("idle reserve: %.1f%% of assets above target (threshold: %.1f%%)",
				idle*100, driftThreshold*100),
		}
	}

	result := tc.checkPoolDrift(snapshot.Pools, pooled, strategy)
	if result.MaxDrift >= driftThreshold && pooled.Sign() > 0 {
		tc.log.Info().
			Str("pool", result.DriftPool).
			Float64("drift", result.MaxDrift).
			Float64("threshold", driftThreshold).
			Msg("Pool drift detected")
		result.ShouldRebalance = true
		result.Reason = fmt.Sprintf("pool drift: %s drifted %.1f%% from target (threshold: %.1f%%)",
			result.DriftPool, result.MaxDrift*100, driftThreshold*100)
		return result
	}

	result.Reason = "no triggers met"
	return result
}

// checkPoolDrift compares each pool's share of pooled funds with its weight share
func (tc *TriggerChecker) checkPoolDrift(
	balances []*big.Int,
	pooled *big.Int,
	strategy balancing.Strategy,
) *TriggerResult {
	n := strategy.Len()
	current := make([]float64, n)
	target := make([]float64, n)

	weights := make([]float64, n)
	for i, w := range strategy.Weights {
		weights[i] = float64(w)
	}
	totalWeight := floats.Sum(weights)

	for i := range strategy.Pools {
		current[i] = utils.Share(balances[i], pooled)
		if totalWeight > 0 {
			target[i] = weights[i] / totalWeight
		}
	}

	// Nothing deployed yet: drift is measured against an empty allocation
	if pooled.Sign() == 0 {
		return &TriggerResult{Drifts: map[string]float64{}}
	}

	diff := make([]float64, n)
	floats.SubTo(diff, current, target)
	drifts := make(map[string]float64, n)
	for i := range diff {
		diff[i] = math.Abs(diff[i])
		drifts[string(strategy.Pools[i])] = diff[i]
	}

	idx := floats.MaxIdx(diff)
	return &TriggerResult{
		MaxDrift:  floats.Distance(current, target, math.Inf(1)),
		DriftPool: string(strategy.Pools[idx]),
		Drifts:    drifts,
	}
}

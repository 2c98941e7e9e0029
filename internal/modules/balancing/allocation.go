package balancing

import (
	"fmt"
	"math/big"
)

// Allocation holds the per-pool targets and deltas for one snapshot.
type Allocation struct {
	// Total is the reserve plus every pool balance.
	Total *big.Int
	// Available is Total minus the target reserve. It is negative when the target
	// reserve exceeds everything the system holds.
	Available *big.Int
	Targets   []*big.Int
	// Deltas is target minus current balance, per pool.
	Deltas []*big.Int
	// Leftover is the truncation residual: Available minus the sum of Targets.
	Leftover *big.Int
}

// ComputeTargets splits the available balance across pools in proportion to their
// weights. Each target is (weight * available) / totalShares, truncated toward zero.
// The residual is reported in Leftover and left for EnforceTarget to absorb.
func ComputeTargets(snapshot Snapshot, strategy Strategy, targetReserve *big.Int) (Allocation, error) {
	if err := strategy.Validate(); err != nil {
		return Allocation{}, err
	}
	if err := snapshot.validate(strategy.Len()); err != nil {
		return Allocation{}, err
	}
	if err := validateTargetReserve(targetReserve); err != nil {
		return Allocation{}, err
	}

	total := new(big.Int).Set(snapshot.Reserve)
	for _, balance := range snapshot.Pools {
		total.Add(total, balance)
	}
	available := new(big.Int).Sub(total, targetReserve)

	totalShares := new(big.Int)
	for _, weight := range strategy.Weights {
		totalShares.Add(totalShares, big.NewInt(weight))
	}

	n := strategy.Len()
	alloc := Allocation{
		Total:     total,
		Available: available,
		Targets:   make([]*big.Int, n),
		Deltas:    make([]*big.Int, n),
		Leftover:  new(big.Int).Set(available),
	}
	if n == 0 {
		return alloc, nil
	}

	for i, weight := range strategy.Weights {
		target := new(big.Int).Mul(big.NewInt(weight), available)
		target.Quo(target, totalShares)

		alloc.Targets[i] = target
		alloc.Deltas[i] = new(big.Int).Sub(target, snapshot.Pools[i])
		alloc.Leftover.Sub(alloc.Leftover, target)
	}

	return alloc, nil
}

func validateTargetReserve(targetReserve *big.Int) error {
	if targetReserve == nil {
		return fmt.Errorf("%w: target reserve missing", ErrInvalidBalance)
	}
	if targetReserve.Sign() < 0 {
		return fmt.Errorf("%w: target reserve %s is negative", ErrInvalidBalance, targetReserve)
	}
	return nil
}

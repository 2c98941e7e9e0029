package balancing

import "math/big"

// SelectInstructions greedily turns deltas into at most maxInstructions
// instructions, one per pool, and pads the result to exactly maxInstructions.
//
// While the reserve is short of its target the most negative delta is pulled in
// first. Otherwise the largest delta by magnitude is chosen, skipping any candidate
// for which reserveGap+delta would go below zero. A step with no eligible pool
// produces nothing. Ties go to the earliest pool.
func SelectInstructions(
	pools []PoolRef,
	deltas []*big.Int,
	reserve *big.Int,
	targetReserve *big.Int,
	maxInstructions int,
) []Instruction {
	if maxInstructions < 0 {
		maxInstructions = 0
	}

	remaining := make([]*big.Int, len(deltas))
	for i, delta := range deltas {
		remaining[i] = new(big.Int).Set(delta)
	}
	selected := make([]bool, len(pools))
	reserveGap := new(big.Int).Sub(reserve, targetReserve)

	result := make([]Instruction, 0, maxInstructions)
	steps := min(len(pools), maxInstructions)
	for step := 0; step < steps; step++ {
		short := reserveGap.Sign() < 0

		var pos int
		if short {
			pos = mostNegative(remaining, selected)
		} else {
			pos = largestWithinGuard(remaining, selected, reserveGap)
		}
		if pos < 0 {
			continue
		}

		qty := new(big.Int).Set(remaining[pos])
		result = append(result, Instruction{Qty: qty, Pool: pools[pos]})
		remaining[pos].SetInt64(0)
		selected[pos] = true

		if short {
			reserveGap.Sub(reserveGap, qty)
		} else {
			reserveGap.Add(reserveGap, qty)
		}
	}

	for len(result) < maxInstructions {
		result = append(result, EmptyInstruction())
	}
	return result
}

// mostNegative returns the position of the most negative remaining delta, or -1.
func mostNegative(remaining []*big.Int, selected []bool) int {
	best := -1
	for i, delta := range remaining {
		if selected[i] || delta.Sign() >= 0 {
			continue
		}
		if best < 0 || delta.Cmp(remaining[best]) < 0 {
			best = i
		}
	}
	return best
}

// largestWithinGuard returns the position of the remaining delta with the largest
// magnitude that keeps reserveGap+delta non-negative, or -1.
func largestWithinGuard(remaining []*big.Int, selected []bool, reserveGap *big.Int) int {
	best := -1
	sum := new(big.Int)
	for i, delta := range remaining {
		if selected[i] || delta.Sign() == 0 {
			continue
		}
		if best >= 0 && delta.CmpAbs(remaining[best]) <= 0 {
			continue
		}
		if sum.Add(reserveGap, delta).Sign() < 0 {
			continue
		}
		best = i
	}
	return best
}

package balancing

import (
	"fmt"
	"math/big"
)

// EnforceTarget checks that applying instructions leaves the reserve at or above
// targetReserve. When it does not, the shortfall is pulled from the pools already
// referenced by the instructions, in order, each giving up to what it would still
// hold after its own instruction. Quantities only ever decrease.
//
// The input slice is not modified. ErrUnreachableTarget is returned when the
// shortfall survives every instruction.
func EnforceTarget(
	instructions []Instruction,
	reserve *big.Int,
	targetReserve *big.Int,
	pools []PoolRef,
	poolBalances []*big.Int,
) ([]Instruction, error) {
	running := runningBalance(reserve, instructions)
	if running.Cmp(targetReserve) >= 0 {
		return instructions, nil
	}

	balances := make(map[PoolRef]*big.Int, len(pools))
	for i, pool := range pools {
		if i < len(poolBalances) && poolBalances[i] != nil {
			balances[pool] = poolBalances[i]
		}
	}

	shortfall := new(big.Int).Sub(targetReserve, running)
	corrected := make([]Instruction, len(instructions))
	copy(corrected, instructions)

	for i, ins := range corrected {
		if shortfall.Sign() <= 0 {
			break
		}
		if ins.IsEmpty() {
			continue
		}

		balance, ok := balances[ins.Pool]
		if !ok {
			return nil, fmt.Errorf("%w: instruction references unknown pool %q", ErrInvalidStrategy, ins.Pool)
		}

		funds := new(big.Int).Add(balance, ins.Quantity())
		if funds.Sign() <= 0 {
			continue
		}

		absorbed := funds
		if funds.Cmp(shortfall) > 0 {
			absorbed = new(big.Int).Set(shortfall)
		}
		corrected[i].Qty = new(big.Int).Sub(ins.Quantity(), absorbed)
		shortfall.Sub(shortfall, absorbed)
	}

	if shortfall.Sign() > 0 {
		return nil, fmt.Errorf("%w: still %s short of %s after %d instructions",
			ErrUnreachableTarget, shortfall, targetReserve, len(instructions))
	}
	return corrected, nil
}

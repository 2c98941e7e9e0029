// Package balancing computes bounded rebalancing plans for a reserve and a set of
// weighted pools.
//
// The pipeline is: snapshot → ComputeTargets → SelectInstructions → EnforceTarget.
// Every stage is a pure function of its inputs; only Planner reads balances, once,
// from an injected BalanceSource.
package balancing

import (
	"fmt"
	"math/big"
)

// MaxPools is the maximum number of active pools in a strategy.
const MaxPools = 5

// PoolRef identifies a pool. The zero value means "no pool".
type PoolRef string

// Strategy holds the active pools and their weights, aligned by position.
type Strategy struct {
	Pools   []PoolRef
	Weights []int64
}

// Len returns the number of active pools.
func (s Strategy) Len() int {
	return len(s.Pools)
}

// Validate checks the strategy shape and weights.
func (s Strategy) Validate() error {
	if len(s.Pools) != len(s.Weights) {
		return fmt.Errorf("%w: %d pools but %d weights", ErrInvalidStrategy, len(s.Pools), len(s.Weights))
	}
	if len(s.Pools) > MaxPools {
		return fmt.Errorf("%w: %d pools exceeds maximum of %d", ErrInvalidStrategy, len(s.Pools), MaxPools)
	}

	seen := make(map[PoolRef]bool, len(s.Pools))
	anyWeight := false
	for i, pool := range s.Pools {
		if pool == "" {
			return fmt.Errorf("%w: pool at position %d has no reference", ErrInvalidStrategy, i)
		}
		if seen[pool] {
			return fmt.Errorf("%w: pool %q listed more than once", ErrInvalidStrategy, pool)
		}
		seen[pool] = true

		if s.Weights[i] < 0 {
			return fmt.Errorf("%w: pool %q has negative weight %d", ErrInvalidStrategy, pool, s.Weights[i])
		}
		if s.Weights[i] > 0 {
			anyWeight = true
		}
	}

	if len(s.Pools) > 0 && !anyWeight {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidStrategy)
	}
	return nil
}

// ValidateFor is Validate plus a check that no pool is the reserve holder itself.
func (s Strategy) ValidateFor(reserve string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	for _, pool := range s.Pools {
		if string(pool) == reserve {
			return fmt.Errorf("%w: pool %q is the reserve holder", ErrInvalidStrategy, pool)
		}
	}
	return nil
}

// Snapshot is the set of balances a plan is computed from.
// Pools is aligned with Strategy.Pools.
type Snapshot struct {
	Reserve *big.Int
	Pools   []*big.Int
}

func (s Snapshot) validate(poolCount int) error {
	if s.Reserve == nil {
		return fmt.Errorf("%w: reserve balance missing", ErrInvalidBalance)
	}
	if s.Reserve.Sign() < 0 {
		return fmt.Errorf("%w: reserve balance %s is negative", ErrInvalidBalance, s.Reserve)
	}
	if len(s.Pools) != poolCount {
		return fmt.Errorf("%w: %d pool balances for %d pools", ErrInvalidBalance, len(s.Pools), poolCount)
	}
	for i, balance := range s.Pools {
		if balance == nil {
			return fmt.Errorf("%w: balance missing for pool at position %d", ErrInvalidBalance, i)
		}
		if balance.Sign() < 0 {
			return fmt.Errorf("%w: pool at position %d has negative balance %s", ErrInvalidBalance, i, balance)
		}
	}
	return nil
}

// Instruction is one signed transfer between the reserve and a pool.
// A positive Qty moves funds from the reserve into Pool, a negative Qty pulls
// funds from Pool back into the reserve.
type Instruction struct {
	Qty  *big.Int
	Pool PoolRef
}

// EmptyInstruction returns the no-op instruction used for padding.
func EmptyInstruction() Instruction {
	return Instruction{Qty: new(big.Int)}
}

// IsEmpty reports whether the instruction is padding.
func (i Instruction) IsEmpty() bool {
	return i.Pool == ""
}

// Quantity returns Qty, treating nil as zero.
func (i Instruction) Quantity() *big.Int {
	if i.Qty == nil {
		return new(big.Int)
	}
	return i.Qty
}

func (i Instruction) String() string {
	if i.IsEmpty() {
		return "Qty:0, Pool:<none>"
	}
	return fmt.Sprintf("Qty:%s, Pool:%s", i.Quantity(), i.Pool)
}

// Plan is an ordered, fixed-length sequence of instructions.
// Instructions must be applied in order.
type Plan []Instruction

// Active returns the non-empty instructions in order.
func (p Plan) Active() []Instruction {
	active := make([]Instruction, 0, len(p))
	for _, ins := range p {
		if !ins.IsEmpty() {
			active = append(active, ins)
		}
	}
	return active
}

// FinalReserve returns the reserve balance after applying the plan to reserve.
func (p Plan) FinalReserve(reserve *big.Int) *big.Int {
	return runningBalance(reserve, p)
}

// Summary describes the net effect of a plan.
type Summary struct {
	Instructions int
	// Outflow is the total moved from the reserve into pools.
	Outflow *big.Int
	// Inflow is the total pulled from pools into the reserve.
	Inflow       *big.Int
	FinalReserve *big.Int
}

// Summary computes the plan's net effect on reserve.
func (p Plan) Summary(reserve *big.Int) Summary {
	s := Summary{
		Outflow:      new(big.Int),
		Inflow:       new(big.Int),
		FinalReserve: p.FinalReserve(reserve),
	}
	for _, ins := range p.Active() {
		s.Instructions++
		qty := ins.Quantity()
		if qty.Sign() > 0 {
			s.Outflow.Add(s.Outflow, qty)
		} else {
			s.Inflow.Sub(s.Inflow, qty)
		}
	}
	return s
}

func runningBalance(reserve *big.Int, instructions []Instruction) *big.Int {
	running := new(big.Int)
	if reserve != nil {
		running.Set(reserve)
	}
	for _, ins := range instructions {
		running.Sub(running, ins.Quantity())
	}
	return running
}

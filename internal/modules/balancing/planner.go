package balancing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
)

// BalanceSource reads the current balance of a holder (the reserve or a pool).
type BalanceSource interface {
	BalanceOf(ctx context.Context, holder string) (*big.Int, error)
}

// Result is a plan together with the inputs and intermediate vectors it was built from.
type Result struct {
	Plan       Plan
	Snapshot   Snapshot
	Allocation Allocation
	Strategy   Strategy
}

// BuildPlan runs the planning pipeline over a snapshot. An under-collateralized
// target is rejected with ErrUnreachableTarget rather than returned as a plan that
// would overdraw pools.
func BuildPlan(snapshot Snapshot, strategy Strategy, targetReserve *big.Int, maxInstructions int) (Plan, error) {
	result, err := Build(snapshot, strategy, targetReserve, maxInstructions)
	if err != nil {
		return nil, err
	}
	return result.Plan, nil
}

// Build runs the planning pipeline and keeps the intermediate allocation.
// An empty strategy yields maxInstructions empty instructions regardless of balances.
func Build(snapshot Snapshot, strategy Strategy, targetReserve *big.Int, maxInstructions int) (*Result, error) {
	if maxInstructions < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBudget, maxInstructions)
	}

	if strategy.Len() == 0 {
		return &Result{
			Plan:       emptyPlan(maxInstructions),
			Snapshot:   snapshot,
			Allocation: Allocation{},
			Strategy:   strategy,
		}, nil
	}

	alloc, err := ComputeTargets(snapshot, strategy, targetReserve)
	if err != nil {
		return nil, err
	}

	instructions := SelectInstructions(strategy.Pools, alloc.Deltas, snapshot.Reserve, targetReserve, maxInstructions)

	corrected, err := EnforceTarget(instructions, snapshot.Reserve, targetReserve, strategy.Pools, snapshot.Pools)
	if err != nil {
		return nil, err
	}
	if err := checkWithdrawable(corrected, strategy.Pools, snapshot.Pools); err != nil {
		return nil, err
	}

	return &Result{
		Plan:       Plan(corrected),
		Snapshot:   snapshot,
		Allocation: alloc,
		Strategy:   strategy,
	}, nil
}

// checkWithdrawable rejects plans that pull more from a pool than it holds. This
// only happens when the target reserve exceeds everything the system holds.
func checkWithdrawable(instructions []Instruction, pools []PoolRef, poolBalances []*big.Int) error {
	remaining := new(big.Int)
	for _, ins := range instructions {
		if ins.IsEmpty() {
			continue
		}
		for i, pool := range pools {
			if pool != ins.Pool {
				continue
			}
			if remaining.Add(poolBalances[i], ins.Quantity()).Sign() < 0 {
				return fmt.Errorf("%w: pool %s holds %s but the plan withdraws %s",
					ErrUnreachableTarget, pool, poolBalances[i], new(big.Int).Neg(ins.Quantity()))
			}
		}
	}
	return nil
}

func emptyPlan(size int) Plan {
	plan := make(Plan, size)
	for i := range plan {
		plan[i] = EmptyInstruction()
	}
	return plan
}

// Planner reads a balance snapshot from a BalanceSource and plans against it.
type Planner struct {
	source  BalanceSource
	reserve string
	log     zerolog.Logger
}

// NewPlanner creates a planner. reserve is the holder name of the reserve balance.
func NewPlanner(source BalanceSource, reserve string, log zerolog.Logger) *Planner {
	return &Planner{
		source:  source,
		reserve: reserve,
		log:     log.With().Str("component", "planner").Logger(),
	}
}

// Reserve returns the reserve holder name.
func (p *Planner) Reserve() string {
	return p.reserve
}

// Snapshot reads the reserve and pool balances once.
func (p *Planner) Snapshot(ctx context.Context, pools []PoolRef) (Snapshot, error) {
	reserve, err := p.source.BalanceOf(ctx, p.reserve)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read reserve balance: %w", err)
	}

	balances := make([]*big.Int, len(pools))
	for i, pool := range pools {
		balance, err := p.source.BalanceOf(ctx, string(pool))
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read balance of pool %s: %w", pool, err)
		}
		balances[i] = balance
	}

	return Snapshot{Reserve: reserve, Pools: balances}, nil
}

// PlanRebalance reads a snapshot and returns a plan of exactly maxInstructions
// instructions that leaves the reserve at or above targetReserve. A target larger
// than everything the reserve and pools hold fails with ErrUnreachableTarget
// instead of yielding a plan that overdraws a pool.
func (p *Planner) PlanRebalance(ctx context.Context, strategy Strategy, targetReserve *big.Int, maxInstructions int) (Plan, error) {
	result, err := p.Plan(ctx, strategy, targetReserve, maxInstructions)
	if err != nil {
		return nil, err
	}
	return result.Plan, nil
}

// Plan is PlanRebalance returning the full Result.
func (p *Planner) Plan(ctx context.Context, strategy Strategy, targetReserve *big.Int, maxInstructions int) (*Result, error) {
	if err := strategy.ValidateFor(p.reserve); err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if strategy.Len() > 0 {
		var err error
		snapshot, err = p.Snapshot(ctx, strategy.Pools)
		if err != nil {
			return nil, err
		}
	}

	result, err := Build(snapshot, strategy, targetReserve, maxInstructions)
	if err != nil {
		if errors.Is(err, ErrUnreachableTarget) {
			p.log.Warn().
				Err(err).
				Int("pools", strategy.Len()).
				Int("max_instructions", maxInstructions).
				Msg("Rebalance target unreachable")
		}
		return nil, err
	}

	summary := result.Plan.Summary(snapshot.Reserve)
	p.log.Debug().
		Int("pools", strategy.Len()).
		Int("instructions", summary.Instructions).
		Str("final_reserve", summary.FinalReserve.String()).
		Msg("Rebalance plan built")

	return result, nil
}

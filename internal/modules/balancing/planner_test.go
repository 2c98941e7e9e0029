package balancing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource is an in-memory BalanceSource.
type mapSource struct {
	balances map[string]int64
	reads    int
	err      error
}

func (m *mapSource) BalanceOf(_ context.Context, holder string) (*big.Int, error) {
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	return big.NewInt(m.balances[holder]), nil
}

func evenStrategy() Strategy {
	return Strategy{Pools: []PoolRef{"a1", "a2"}, Weights: []int64{50, 50}}
}

func TestBuildPlan_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		poolBalances []int64
		target       int64
		expected     []Instruction
		finalReserve string
	}{
		{
			name:         "A: fully deploy reserve",
			poolBalances: []int64{20, 0},
			target:       0,
			expected:     []Instruction{{Qty: amount(260), Pool: "a2"}, {Qty: amount(240), Pool: "a1"}},
			finalReserve: "0",
		},
		{
			name:         "B: keep half the reserve",
			poolBalances: []int64{20, 0},
			target:       250,
			expected:     []Instruction{{Qty: amount(135), Pool: "a2"}, {Qty: amount(115), Pool: "a1"}},
			finalReserve: "250",
		},
		{
			// available = 575 splits into 287 + 287; the unallocated unit stays in
			// the reserve, so it ends one above target. 546 is intended, not 545.
			name:         "C: reserve short of target",
			poolBalances: []int64{20, 600},
			target:       545,
			expected:     []Instruction{{Qty: amount(-313), Pool: "a2"}, {Qty: amount(267), Pool: "a1"}},
			finalReserve: "546",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := Snapshot{Reserve: amount(500), Pools: amounts(tt.poolBalances...)}

			plan, err := BuildPlan(snapshot, evenStrategy(), amount(tt.target), 5)
			require.NoError(t, err)

			require.Len(t, plan, 5)
			for i, want := range tt.expected {
				assertInstruction(t, plan[i], want.Pool, want.Qty.Int64())
			}
			assertEmpty(t, plan, len(tt.expected))

			final := plan.FinalReserve(snapshot.Reserve)
			assert.Equal(t, tt.finalReserve, final.String())
			assert.GreaterOrEqual(t, final.Cmp(amount(tt.target)), 0)
		})
	}
}

func TestBuildPlan_ScenarioA_TotalsMatchReserve(t *testing.T) {
	snapshot := Snapshot{Reserve: amount(500), Pools: amounts(20, 0)}

	plan, err := BuildPlan(snapshot, evenStrategy(), amount(0), 5)
	require.NoError(t, err)

	summary := plan.Summary(snapshot.Reserve)
	assert.Equal(t, 2, summary.Instructions)
	assert.Equal(t, "500", summary.Outflow.String())
	assert.Equal(t, "0", summary.Inflow.String())
}

func TestBuildPlan_ScenarioD_ZeroBudgetUnreachable(t *testing.T) {
	snapshot := Snapshot{Reserve: amount(0), Pools: amounts(100, 100)}

	_, err := BuildPlan(snapshot, evenStrategy(), amount(50), 0)
	assert.ErrorIs(t, err, ErrUnreachableTarget)
}

func TestBuildPlan_ScenarioE_ZeroShares(t *testing.T) {
	snapshot := Snapshot{Reserve: amount(500), Pools: amounts(20, 0)}
	strategy := Strategy{Pools: []PoolRef{"a1", "a2"}, Weights: []int64{0, 0}}

	_, err := BuildPlan(snapshot, strategy, amount(0), 5)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestBuildPlan_EmptyStrategyIsNoOp(t *testing.T) {
	for _, budget := range []int{0, 1, 5, 9} {
		// Balances and target are ignored entirely, including invalid ones.
		plan, err := BuildPlan(Snapshot{Reserve: amount(-7)}, Strategy{}, amount(1000), budget)
		require.NoError(t, err)

		assert.Len(t, plan, budget)
		assertEmpty(t, plan, 0)
	}
}

func TestBuildPlan_NegativeBudget(t *testing.T) {
	_, err := BuildPlan(Snapshot{Reserve: amount(1)}, Strategy{}, amount(0), -1)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestBuildPlan_CorrectorEngagesWhenBudgetTruncatesSelection(t *testing.T) {
	snapshot := Snapshot{Reserve: amount(0), Pools: amounts(200, 100)}
	strategy := Strategy{Pools: []PoolRef{"a", "b"}, Weights: []int64{1, 1}}

	plan, err := BuildPlan(snapshot, strategy, amount(150), 1)
	require.NoError(t, err)

	require.Len(t, plan, 1)
	assertInstruction(t, plan[0], "a", -150)
	assert.Equal(t, "150", plan.FinalReserve(snapshot.Reserve).String())
}

func TestBuildPlan_GuardSteeredPlanIsRepaired(t *testing.T) {
	// Deltas are -10 (a) and +10 (b) with the reserve at target. The guard skips a,
	// b pushes 10 out, and the corrector pulls it back.
	snapshot := Snapshot{Reserve: amount(10), Pools: amounts(60, 40)}
	strategy := Strategy{Pools: []PoolRef{"a", "b"}, Weights: []int64{1, 1}}

	plan, err := BuildPlan(snapshot, strategy, amount(10), 1)
	require.NoError(t, err)

	assertInstruction(t, plan[0], "b", 0)
	assert.Equal(t, "10", plan.FinalReserve(snapshot.Reserve).String())
}

func TestBuildPlan_GuardSkipLeavesStepsUnused(t *testing.T) {
	snapshot := Snapshot{Reserve: amount(10), Pools: amounts(1, 0)}
	strategy := Strategy{Pools: []PoolRef{"a", "b"}, Weights: []int64{1, 1}}

	plan, err := BuildPlan(snapshot, strategy, amount(10), 5)
	require.NoError(t, err)

	assertEmpty(t, plan, 0)
}

func TestBuildPlan_UnderCollateralizedTarget(t *testing.T) {
	snapshot := Snapshot{Reserve: amount(10), Pools: amounts(5, 5)}
	strategy := Strategy{Pools: []PoolRef{"a", "b"}, Weights: []int64{1, 1}}

	_, err := BuildPlan(snapshot, strategy, amount(100), 5)
	assert.ErrorIs(t, err, ErrUnreachableTarget)
}

func TestBuild_KeepsAllocation(t *testing.T) {
	snapshot := Snapshot{Reserve: amount(500), Pools: amounts(20, 600)}

	result, err := Build(snapshot, evenStrategy(), amount(545), 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"287", "287"}, toStrings(result.Allocation.Targets))
	assert.Equal(t, "1", result.Allocation.Leftover.String())
}

func TestPlanner_PlanRebalanceReadsSnapshotOnce(t *testing.T) {
	source := &mapSource{balances: map[string]int64{"reserve": 500, "a1": 20, "a2": 600}}
	planner := NewPlanner(source, "reserve", zerolog.Nop())

	plan, err := planner.PlanRebalance(context.Background(), evenStrategy(), amount(545), 5)
	require.NoError(t, err)

	assert.Equal(t, 3, source.reads)
	assertInstruction(t, plan[0], "a2", -313)
	assertInstruction(t, plan[1], "a1", 267)
}

func TestPlanner_EmptyStrategySkipsReads(t *testing.T) {
	source := &mapSource{balances: map[string]int64{}}
	planner := NewPlanner(source, "reserve", zerolog.Nop())

	plan, err := planner.PlanRebalance(context.Background(), Strategy{}, amount(0), 3)
	require.NoError(t, err)

	assert.Len(t, plan, 3)
	assert.Zero(t, source.reads)
}

func TestPlanner_SourceError(t *testing.T) {
	boom := errors.New("rpc down")
	source := &mapSource{err: boom}
	planner := NewPlanner(source, "reserve", zerolog.Nop())

	_, err := planner.PlanRebalance(context.Background(), evenStrategy(), amount(0), 5)
	assert.ErrorIs(t, err, boom)
}

func TestPlanner_RejectsReserveAsPool(t *testing.T) {
	source := &mapSource{balances: map[string]int64{"reserve": 100}}
	planner := NewPlanner(source, "reserve", zerolog.Nop())
	strategy := Strategy{Pools: []PoolRef{"reserve", "a1"}, Weights: []int64{1, 1}}

	plan, err := planner.PlanRebalance(context.Background(), strategy, amount(0), 5)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
	assert.Nil(t, plan)
	assert.Zero(t, source.reads)
}

func TestPlanner_UnreachableTarget(t *testing.T) {
	source := &mapSource{balances: map[string]int64{"reserve": 0, "a1": 100, "a2": 100}}
	planner := NewPlanner(source, "reserve", zerolog.Nop())

	_, err := planner.PlanRebalance(context.Background(), evenStrategy(), amount(150), 1)
	assert.ErrorIs(t, err, ErrUnreachableTarget)
}

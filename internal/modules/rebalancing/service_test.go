package rebalancing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/aristath/dynamo/internal/modules/ledger"
	"github.com/aristath/dynamo/internal/modules/strategy"
	testingpkg "github.com/aristath/dynamo/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	service    *Service
	ledger     *ledger.Repository
	strategies *strategy.Repository
	bus        *events.Bus
	received   []*events.Event
}

func newFixture(t *testing.T, executor Executor) *fixture {
	t.Helper()
	ledgerDB, _ := testingpkg.NewTestDB(t, "ledger")
	configDB, _ := testingpkg.NewTestDB(t, "config")
	cacheDB, _ := testingpkg.NewTestDB(t, "cache")

	f := &fixture{
		ledger:     ledger.NewRepository(ledgerDB.Conn(), zerolog.Nop()),
		strategies: strategy.NewRepository(configDB.Conn(), zerolog.Nop()),
		bus:        events.NewBus(zerolog.Nop()),
	}
	f.bus.SubscribeAll(func(e *events.Event) { f.received = append(f.received, e) })

	if executor == nil {
		executor = f.ledger
	}
	f.service = NewService(
		balancing.NewPlanner(f.ledger, "reserve", zerolog.Nop()),
		f.strategies,
		executor,
		NewPlanRepository(cacheDB.Conn(), zerolog.Nop()),
		NewTriggerChecker(zerolog.Nop()),
		events.NewManager(f.bus, zerolog.Nop()),
		Defaults{TargetReserve: big.NewInt(0), MaxInstructions: 5, DriftThreshold: 0.05},
		zerolog.Nop(),
	)
	return f
}

func (f *fixture) seed(t *testing.T, balances map[string]int64, weights map[string]int64, order ...string) {
	t.Helper()
	ctx := context.Background()
	for holder, amount := range balances {
		if amount > 0 {
			require.NoError(t, f.ledger.Deposit(ctx, holder, big.NewInt(amount)))
		}
	}
	s := balancing.Strategy{}
	for _, pool := range order {
		s.Pools = append(s.Pools, balancing.PoolRef(pool))
		s.Weights = append(s.Weights, weights[pool])
	}
	require.NoError(t, f.strategies.Replace(ctx, s))
}

func (f *fixture) balance(t *testing.T, holder string) int64 {
	t.Helper()
	v, err := f.ledger.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return v.Int64()
}

func (f *fixture) eventTypes() []events.EventType {
	var types []events.EventType
	for _, e := range f.received {
		types = append(types, e.Type)
	}
	return types
}

func intPtr(v int) *int { return &v }

func TestService_PlanIsDryRun(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, map[string]int64{"reserve": 500, "a1": 20}, map[string]int64{"a1": 50, "a2": 50}, "a1", "a2")

	record, err := f.service.Plan(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, StatusPlanned, record.Status)
	assert.Equal(t, 2, record.ActiveCount())
	assert.Len(t, record.Instructions, 5)
	assert.Equal(t, StoredInstruction{Pool: "a2", Qty: "260"}, record.Instructions[0])
	assert.Equal(t, StoredInstruction{Pool: "a1", Qty: "240"}, record.Instructions[1])
	assert.Equal(t, "0", record.FinalReserve)

	// balances untouched
	assert.Equal(t, int64(500), f.balance(t, "reserve"))

	stored, err := f.service.GetPlan(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Instructions, stored.Instructions)

	assert.Equal(t, []events.EventType{events.PlanGenerated}, f.eventTypes())
}

func TestService_ExecuteAppliesPlan(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, map[string]int64{"reserve": 500, "a1": 20, "a2": 600}, map[string]int64{"a1": 50, "a2": 50}, "a1", "a2")

	record, err := f.service.Execute(context.Background(), Request{
		TargetReserve:   big.NewInt(545),
		MaxInstructions: intPtr(2),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusExecuted, record.Status)
	require.NotNil(t, record.ExecutedAt)
	assert.Equal(t, int64(546), f.balance(t, "reserve"))
	assert.Equal(t, int64(287), f.balance(t, "a1"))
	assert.Equal(t, int64(287), f.balance(t, "a2"))

	stored, err := f.service.GetPlan(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, stored.Status)

	transfers, err := f.ledger.Transfers(context.Background(), record.ID, 10)
	require.NoError(t, err)
	assert.Len(t, transfers, 2)

	assert.Equal(t, []events.EventType{events.PlanGenerated, events.PlanExecuted}, f.eventTypes())
	assert.Equal(t, "546", f.received[1].Data["final_reserve"])
}

func TestService_UnreachableTargetIsNotStored(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, map[string]int64{"reserve": 10, "a1": 5, "a2": 5}, map[string]int64{"a1": 1, "a2": 1}, "a1", "a2")

	_, err := f.service.Execute(context.Background(), Request{TargetReserve: big.NewInt(100)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, balancing.ErrUnreachableTarget))
	assert.False(t, IsInputError(err))

	plans, err := f.service.ListPlans(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, plans)
	assert.Equal(t, int64(10), f.balance(t, "reserve"))
	assert.Equal(t, []events.EventType{events.PlanFailed}, f.eventTypes())
}

func TestService_InputErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, map[string]int64{"reserve": 10}, map[string]int64{"a1": 1}, "a1")

	_, err := f.service.Plan(context.Background(), Request{MaxInstructions: intPtr(-1)})
	assert.True(t, errors.Is(err, balancing.ErrInvalidBudget))
	assert.True(t, IsInputError(err))

	_, err = f.service.Plan(context.Background(), Request{TargetReserve: big.NewInt(-1)})
	assert.True(t, errors.Is(err, balancing.ErrInvalidBalance))
	assert.True(t, IsInputError(err))
}

type failingExecutor struct{ err error }

func (e failingExecutor) ApplyPlan(ctx context.Context, planID, reserve string, plan balancing.Plan) error {
	return e.err
}

func TestService_ExecuteFailureMarksPlanFailed(t *testing.T) {
	boom := errors.New("ledger offline")
	f := newFixture(t, failingExecutor{err: boom})
	f.seed(t, map[string]int64{"reserve": 500}, map[string]int64{"a1": 1}, "a1")

	record, err := f.service.Execute(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	require.NotNil(t, record)

	stored, err := f.service.GetPlan(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, boom.Error(), stored.Reason)
	assert.Equal(t, []events.EventType{events.PlanGenerated, events.PlanFailed}, f.eventTypes())
}

func TestService_EmptyStrategyPlansNothing(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.ledger.Deposit(context.Background(), "reserve", big.NewInt(100)))

	record, err := f.service.Execute(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, record.ActiveCount())
	assert.Len(t, record.Instructions, 5)
	assert.Equal(t, int64(100), f.balance(t, "reserve"))
}

func TestService_RebalanceIfNeeded(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, map[string]int64{"a1": 700, "a2": 300}, map[string]int64{"a1": 1, "a2": 1}, "a1", "a2")

	record, trigger, err := f.service.RebalanceIfNeeded(context.Background())
	require.NoError(t, err)
	require.True(t, trigger.ShouldRebalance)
	require.NotNil(t, record)
	assert.Equal(t, trigger.Reason, record.Reason)
	assert.Equal(t, int64(500), f.balance(t, "a1"))
	assert.Equal(t, int64(500), f.balance(t, "a2"))

	// balanced now: nothing to do
	record, trigger, err = f.service.RebalanceIfNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, trigger.ShouldRebalance)
	assert.Nil(t, record)
	assert.Equal(t, events.RebalanceSkipped, f.received[len(f.received)-1].Type)
}

package di

import (
	"fmt"

	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/modules/ledger"
	"github.com/aristath/dynamo/internal/modules/rebalancing"
	"github.com/aristath/dynamo/internal/modules/strategy"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories and the event bus
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	container.LedgerRepo = ledger.NewRepository(container.LedgerDB.Conn(), log)
	container.StrategyRepo = strategy.NewRepository(container.ConfigDB.Conn(), log)
	container.PlanRepo = rebalancing.NewPlanRepository(container.CacheDB.Conn(), log)

	return nil
}

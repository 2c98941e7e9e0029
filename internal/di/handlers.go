package di

import (
	"github.com/aristath/dynamo/internal/config"
	ledgerhandlers "github.com/aristath/dynamo/internal/modules/ledger/handlers"
	rebalancinghandlers "github.com/aristath/dynamo/internal/modules/rebalancing/handlers"
	strategyhandlers "github.com/aristath/dynamo/internal/modules/strategy/handlers"
	"github.com/aristath/dynamo/internal/server"
	"github.com/rs/zerolog"
)

// RouteModules builds the HTTP handlers of every module
func RouteModules(container *Container, cfg *config.Config, log zerolog.Logger) []server.RouteRegistrar {
	ledgerHandler := ledgerhandlers.NewHandler(container.LedgerRepo, cfg.Vault.ReserveHolder, cfg.Vault.AssetDecimals, log)
	ledgerHandler.SetEventManager(container.EventManager)

	strategyHandler := strategyhandlers.NewHandler(container.StrategyRepo, cfg.Vault.ReserveHolder, log)
	strategyHandler.SetEventManager(container.EventManager)

	return []server.RouteRegistrar{
		ledgerHandler,
		strategyHandler,
		rebalancinghandlers.NewHandler(container.RebalancingService, cfg.Vault.AssetDecimals, log),
	}
}

// NewServer builds the HTTP server over a wired container
func NewServer(container *Container, cfg *config.Config, log zerolog.Logger) *server.Server {
	return server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		EventBus:  container.EventBus,
		Databases: container.Databases(),
		Jobs:      container.Scheduler,
		Modules:   RouteModules(container, cfg, log),
	})
}

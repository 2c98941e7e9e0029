// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/dynamo/internal/database"
	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/aristath/dynamo/internal/modules/ledger"
	"github.com/aristath/dynamo/internal/modules/rebalancing"
	"github.com/aristath/dynamo/internal/modules/strategy"
	"github.com/aristath/dynamo/internal/reliability"
	"github.com/aristath/dynamo/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	LedgerDB *database.DB // Balances and the transfer audit trail
	ConfigDB *database.DB // Allocation strategy
	CacheDB  *database.DB // Stored plans, regenerable

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	LedgerRepo   *ledger.Repository
	StrategyRepo *strategy.Repository
	PlanRepo     *rebalancing.PlanRepository

	// Services
	Planner            *balancing.Planner
	TriggerChecker     *rebalancing.TriggerChecker
	RebalancingService *rebalancing.Service
	BackupService      *reliability.BackupService
	R2BackupService    *reliability.R2BackupService // nil when R2 is not configured
	MaintenanceService *reliability.MaintenanceService

	Scheduler *scheduler.Scheduler
}

// JobInstances holds the job instances created during wiring
type JobInstances struct {
	Rebalance   *scheduler.RebalanceJob
	Backup      *scheduler.BackupJob // nil when R2 is not configured
	Maintenance *scheduler.MaintenanceJob
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 3)
	for name, db := range map[string]*database.DB{
		"ledger": c.LedgerDB,
		"config": c.ConfigDB,
		"cache":  c.CacheDB,
	} {
		if db != nil {
			dbs[name] = db
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.LedgerDB, c.ConfigDB, c.CacheDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

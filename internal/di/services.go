package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/dynamo/internal/config"
	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/aristath/dynamo/internal/modules/rebalancing"
	"github.com/aristath/dynamo/internal/modules/strategy"
	"github.com/aristath/dynamo/internal/reliability"
	"github.com/aristath/dynamo/internal/scheduler"
	"github.com/rs/zerolog"
)

// InitializeServices creates the services and seeds the strategy
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.Planner = balancing.NewPlanner(container.LedgerRepo, cfg.Vault.ReserveHolder, log)
	container.TriggerChecker = rebalancing.NewTriggerChecker(log)
	container.RebalancingService = rebalancing.NewService(
		container.Planner,
		container.StrategyRepo,
		container.LedgerRepo,
		container.PlanRepo,
		container.TriggerChecker,
		container.EventManager,
		rebalancing.Defaults{
			TargetReserve:   cfg.Vault.TargetReserve,
			MaxInstructions: cfg.Vault.MaxInstructions,
			DriftThreshold:  cfg.Vault.DriftThreshold,
		},
		log,
	)

	if cfg.Vault.StrategyFile != "" {
		if err := strategy.Seed(ctx, container.StrategyRepo, cfg.Vault.StrategyFile, cfg.Vault.ReserveHolder, log); err != nil {
			return fmt.Errorf("failed to seed strategy: %w", err)
		}
	}

	databases := container.Databases()
	container.BackupService = reliability.NewBackupService(databases, log)
	container.MaintenanceService = reliability.NewMaintenanceService(
		databases,
		container.PlanRepo,
		cfg.DataDir,
		time.Duration(cfg.Schedule.PlanRetentionDays)*24*time.Hour,
		log,
	)

	if cfg.Backup != nil {
		r2Client, err := reliability.NewR2Client(ctx, cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create r2 client: %w", err)
		}
		container.R2BackupService = reliability.NewR2BackupService(
			r2Client,
			container.BackupService,
			container.EventManager,
			cfg.DataDir,
			log,
		)
	} else {
		log.Info().Msg("R2 backup not configured")
	}

	container.Scheduler = scheduler.New(container.EventManager, log)

	return nil
}

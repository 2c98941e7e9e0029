package di

import (
	"fmt"
	"time"

	"github.com/aristath/dynamo/internal/config"
	"github.com/aristath/dynamo/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	rebalanceTimeout   = 2 * time.Minute
	backupTimeout      = 30 * time.Minute
	maintenanceTimeout = 10 * time.Minute
)

// RegisterJobs creates the jobs and adds them to the scheduler. Jobs with an
// empty schedule are still registered for manual runs.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Scheduler == nil {
		return nil, fmt.Errorf("container has no scheduler")
	}

	instances := &JobInstances{
		Rebalance:   scheduler.NewRebalanceJob(container.RebalancingService, rebalanceTimeout, log),
		Maintenance: scheduler.NewMaintenanceJob(container.MaintenanceService, maintenanceTimeout),
	}
	if err := register(container.Scheduler, cfg.Schedule.Rebalance, instances.Rebalance); err != nil {
		return nil, err
	}
	if err := register(container.Scheduler, cfg.Schedule.Maintenance, instances.Maintenance); err != nil {
		return nil, err
	}

	if container.R2BackupService != nil {
		instances.Backup = scheduler.NewBackupJob(container.R2BackupService, cfg.Backup.RetentionDays, backupTimeout)
		if err := register(container.Scheduler, cfg.Schedule.Backup, instances.Backup); err != nil {
			return nil, err
		}
	}

	log.Info().Int("jobs", len(container.Scheduler.Jobs())).Msg("Jobs registered")
	return instances, nil
}

func register(s *scheduler.Scheduler, schedule string, job scheduler.Job) error {
	if schedule == "" {
		return s.Register(job)
	}
	return s.AddJob(schedule, job)
}

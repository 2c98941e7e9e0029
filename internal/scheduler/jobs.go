package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/dynamo/internal/modules/rebalancing"
	"github.com/aristath/dynamo/internal/reliability"
	"github.com/rs/zerolog"
)

// Rebalancer runs a trigger check and executes a plan when one fires
type Rebalancer interface {
	RebalanceIfNeeded(ctx context.Context) (*rebalancing.PlanRecord, *rebalancing.TriggerResult, error)
}

// Archiver uploads a backup and rotates expired ones
type Archiver interface {
	Run(ctx context.Context, retentionDays int) error
}

// Maintainer performs database upkeep
type Maintainer interface {
	Run(ctx context.Context) (*reliability.MaintenanceReport, error)
}

// RebalanceJob executes a rebalance when the drift triggers fire
type RebalanceJob struct {
	service Rebalancer
	timeout time.Duration
	log     zerolog.Logger
}

// NewRebalanceJob creates a new RebalanceJob
func NewRebalanceJob(service Rebalancer, timeout time.Duration, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		service: service,
		timeout: timeout,
		log:     log.With().Str("job", "auto_rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "auto_rebalance"
}

// Run executes the job
func (j *RebalanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	record, trigger, err := j.service.RebalanceIfNeeded(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebalance: %w", err)
	}

	if record == nil {
		reason := ""
		if trigger != nil {
			reason = trigger.Reason
		}
		j.log.Debug().Str("reason", reason).Msg("No rebalance needed")
		return nil
	}

	j.log.Info().
		Str("plan_id", record.ID).
		Int("instructions", record.ActiveCount()).
		Msg("Scheduled rebalance executed")
	return nil
}

// BackupJob archives the databases to object storage
type BackupJob struct {
	archiver      Archiver
	retentionDays int
	timeout       time.Duration
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(archiver Archiver, retentionDays int, timeout time.Duration) *BackupJob {
	return &BackupJob{archiver: archiver, retentionDays: retentionDays, timeout: timeout}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "r2_backup"
}

// Run executes the job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.archiver.Run(ctx, j.retentionDays)
}

// MaintenanceJob runs database maintenance
type MaintenanceJob struct {
	maintainer Maintainer
	timeout    time.Duration
}

// NewMaintenanceJob creates a new MaintenanceJob
func NewMaintenanceJob(maintainer Maintainer, timeout time.Duration) *MaintenanceJob {
	return &MaintenanceJob{maintainer: maintainer, timeout: timeout}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err := j.maintainer.Run(ctx)
	return err
}

package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/dynamo/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	criticalFreeBytes = 500 * 1000 * 1000
	lowFreeBytes      = 5 * 1000 * 1000 * 1000
)

// PlanPruner removes stored plans created before cutoff
type PlanPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintenanceReport summarizes one maintenance run
type MaintenanceReport struct {
	Checked       []string `json:"checked"`
	FreeBytes     uint64   `json:"free_bytes"`
	PlansPruned   int64    `json:"plans_pruned"`
	CheckpointErr []string `json:"checkpoint_errors,omitempty"`
}

// MaintenanceService runs periodic database upkeep
type MaintenanceService struct {
	databases     map[string]*database.DB
	plans         PlanPruner
	dataDir       string
	planRetention time.Duration
	diskUsage     func(path string) (uint64, error)
	log           zerolog.Logger
}

// NewMaintenanceService creates a maintenance service. plans may be nil,
// in which case stored plans are never pruned.
func NewMaintenanceService(
	databases map[string]*database.DB,
	plans PlanPruner,
	dataDir string,
	planRetention time.Duration,
	log zerolog.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		databases:     databases,
		plans:         plans,
		dataDir:       dataDir,
		planRetention: planRetention,
		diskUsage:     freeBytes,
		log:           log.With().Str("service", "maintenance").Logger(),
	}
}

// Run checks every database, truncates WAL files, checks free disk space
// and prunes old plans. A failed health check or a nearly full disk aborts the run.
func (s *MaintenanceService) Run(ctx context.Context) (*MaintenanceReport, error) {
	s.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &MaintenanceReport{Checked: names}

	for _, name := range names {
		if err := s.databases[name].HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Str("database", name).Msg("Health check failed")
			return report, fmt.Errorf("health check failed for %s: %w", name, err)
		}
	}

	for _, name := range names {
		if err := s.databases[name].WALCheckpoint("TRUNCATE"); err != nil {
			// not fatal, the next run retries
			s.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
			report.CheckpointErr = append(report.CheckpointErr, name)
		}
	}

	free, err := s.diskUsage(s.dataDir)
	if err != nil {
		return report, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	report.FreeBytes = free

	switch {
	case free < criticalFreeBytes:
		s.log.Error().Uint64("free_bytes", free).Msg("Insufficient disk space")
		return report, fmt.Errorf("only %d bytes free in %s", free, s.dataDir)
	case free < lowFreeBytes:
		s.log.Warn().Uint64("free_bytes", free).Msg("Disk space running low")
	}

	if s.plans != nil && s.planRetention > 0 {
		pruned, err := s.plans.DeleteOlderThan(ctx, time.Now().Add(-s.planRetention))
		if err != nil {
			return report, fmt.Errorf("failed to prune plans: %w", err)
		}
		report.PlansPruned = pruned
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Int64("plans_pruned", report.PlansPruned).
		Msg("Maintenance completed")

	return report, nil
}

func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

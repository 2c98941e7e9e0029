package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/dynamo/internal/modules/rebalancing"
	"github.com/aristath/dynamo/internal/reliability"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRebalancer struct {
	record  *rebalancing.PlanRecord
	trigger *rebalancing.TriggerResult
	err     error
	calls   int
	deadline bool
}

func (s *stubRebalancer) RebalanceIfNeeded(ctx context.Context) (*rebalancing.PlanRecord, *rebalancing.TriggerResult, error) {
	s.calls++
	_, s.deadline = ctx.Deadline()
	return s.record, s.trigger, s.err
}

type stubArchiver struct {
	retention int
	err       error
}

func (s *stubArchiver) Run(_ context.Context, retentionDays int) error {
	s.retention = retentionDays
	return s.err
}

type stubMaintainer struct {
	calls int
	err   error
}

func (s *stubMaintainer) Run(context.Context) (*reliability.MaintenanceReport, error) {
	s.calls++
	return &reliability.MaintenanceReport{}, s.err
}

func TestRebalanceJob(t *testing.T) {
	t.Run("skipped", func(t *testing.T) {
		svc := &stubRebalancer{trigger: &rebalancing.TriggerResult{Reason: "within threshold"}}
		job := NewRebalanceJob(svc, time.Minute, zerolog.Nop())

		assert.Equal(t, "auto_rebalance", job.Name())
		require.NoError(t, job.Run())
		assert.Equal(t, 1, svc.calls)
		assert.True(t, svc.deadline, "job runs under a deadline")
	})

	t.Run("executed", func(t *testing.T) {
		svc := &stubRebalancer{record: &rebalancing.PlanRecord{ID: "p1"}}
		require.NoError(t, NewRebalanceJob(svc, time.Minute, zerolog.Nop()).Run())
	})

	t.Run("error is wrapped", func(t *testing.T) {
		cause := errors.New("ledger locked")
		svc := &stubRebalancer{err: cause}
		err := NewRebalanceJob(svc, time.Minute, zerolog.Nop()).Run()
		assert.ErrorIs(t, err, cause)
	})
}

func TestBackupJob(t *testing.T) {
	archiver := &stubArchiver{}
	job := NewBackupJob(archiver, 14, time.Minute)

	assert.Equal(t, "r2_backup", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 14, archiver.retention)

	archiver.err = errors.New("upload failed")
	assert.Error(t, job.Run())
}

func TestMaintenanceJob(t *testing.T) {
	maintainer := &stubMaintainer{}
	job := NewMaintenanceJob(maintainer, time.Minute)

	assert.Equal(t, "maintenance", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, maintainer.calls)

	maintainer.err = errors.New("disk full")
	assert.Error(t, job.Run())
}

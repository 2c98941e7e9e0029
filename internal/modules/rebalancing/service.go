// Package rebalancing orchestrates planning and executing reserve rebalances: it reads the
// active strategy, builds a plan against current balances, stores it and applies it to the ledger.
package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/aristath/dynamo/internal/events"
	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/aristath/dynamo/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StrategyStore provides the active strategy
type StrategyStore interface {
	Get(ctx context.Context) (balancing.Strategy, error)
}

// Executor applies a plan to the balance book
type Executor interface {
	ApplyPlan(ctx context.Context, planID, reserve string, plan balancing.Plan) error
}

// Defaults are used for requests that leave a parameter unset
type Defaults struct {
	TargetReserve   *big.Int
	MaxInstructions int
	DriftThreshold  float64
}

// Request parameterises a plan. Nil fields fall back to Defaults.
type Request struct {
	TargetReserve   *big.Int
	MaxInstructions *int
	Reason          string
}

// Service orchestrates rebalancing operations
type Service struct {
	// mu serialises plan+execute so an executed plan always matches the snapshot it was built from
	mu sync.Mutex

	planner    *balancing.Planner
	strategies StrategyStore
	executor   Executor
	plans      *PlanRepository
	triggers   *TriggerChecker
	events     *events.Manager
	defaults   Defaults
	now        func() time.Time

	log zerolog.Logger
}

// NewService creates a new rebalancing service
func NewService(
	planner *balancing.Planner,
	strategies StrategyStore,
	executor Executor,
	plans *PlanRepository,
	triggers *TriggerChecker,
	eventManager *events.Manager,
	defaults Defaults,
	log zerolog.Logger,
) *Service {
	if defaults.TargetReserve == nil {
		defaults.TargetReserve = new(big.Int)
	}
	return &Service{
		planner:    planner,
		strategies: strategies,
		executor:   executor,
		plans:      plans,
		triggers:   triggers,
		events:     eventManager,
		defaults:   defaults,
		now:        time.Now,
		log:        log.With().Str("service", "rebalancing").Logger(),
	}
}

// Defaults returns the service defaults
func (s *Service) Defaults() Defaults {
	return s.defaults
}

// Plan builds and stores a plan without applying it
func (s *Service) Plan(ctx context.Context, req Request) (*PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, _, err := s.buildLocked(ctx, req)
	return record, err
}

// Execute builds, stores and applies a plan atomically with respect to other plan/execute calls
func (s *Service) Execute(ctx context.Context, req Request) (*PlanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.executeLocked(ctx, req)
}

func (s *Service) executeLocked(ctx context.Context, req Request) (*PlanRecord, error) {
	record, plan, err := s.buildLocked(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.executor.ApplyPlan(ctx, record.ID, s.planner.Reserve(), plan); err != nil {
		s.log.Error().Err(err).Str("plan_id", record.ID).Msg("Failed to apply plan")
		record.Status = StatusFailed
		record.Reason = err.Error()
		if updateErr := s.plans.UpdateStatus(ctx, record.ID, StatusFailed, err.Error(), nil); updateErr != nil {
			s.log.Error().Err(updateErr).Str("plan_id", record.ID).Msg("Failed to mark plan failed")
		}
		s.emit(&events.PlanFailedData{PlanID: record.ID, Stage: "execute", Error: err.Error()})
		return record, fmt.Errorf("failed to execute plan %s: %w", record.ID, err)
	}

	executedAt := s.now().UTC()
	record.Status = StatusExecuted
	record.ExecutedAt = &executedAt
	if err := s.plans.UpdateStatus(ctx, record.ID, StatusExecuted, record.Reason, &executedAt); err != nil {
		// The ledger already moved; the stored status is only bookkeeping
		s.log.Error().Err(err).Str("plan_id", record.ID).Msg("Failed to mark plan executed")
	}

	summary := plan.Summary(parseOrZero(record.Reserve))
	s.emit(&events.PlanExecutedData{
		PlanID:       record.ID,
		Instructions: summary.Instructions,
		Inflow:       summary.Inflow.String(),
		Outflow:      summary.Outflow.String(),
		FinalReserve: summary.FinalReserve.String(),
	})

	s.log.Info().
		Str("plan_id", record.ID).
		Int("instructions", summary.Instructions).
		Str("final_reserve", summary.FinalReserve.String()).
		Msg("Rebalance executed")

	return record, nil
}

func (s *Service) buildLocked(ctx context.Context, req Request) (*PlanRecord, balancing.Plan, error) {
	defer utils.OperationTimer("plan_rebalance", s.log)()

	targetReserve := s.defaults.TargetReserve
	if req.TargetReserve != nil {
		targetReserve = req.TargetReserve
	}
	maxInstructions := s.defaults.MaxInstructions
	if req.MaxInstructions != nil {
		maxInstructions = *req.MaxInstructions
	}

	strategy, err := s.strategies.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load strategy: %w", err)
	}

	result, err := s.planner.Plan(ctx, strategy, targetReserve, maxInstructions)
	if err != nil {
		s.emit(&events.PlanFailedData{Stage: "plan", Error: err.Error()})
		return nil, nil, err
	}

	record := NewPlanRecord(uuid.New().String(), result, targetReserve, maxInstructions, s.now())
	record.Reason = req.Reason
	if err := s.plans.Save(ctx, record); err != nil {
		return nil, nil, err
	}

	s.emit(&events.PlanGeneratedData{
		PlanID:        record.ID,
		Instructions:  record.ActiveCount(),
		TargetReserve: record.TargetReserve,
		FinalReserve:  record.FinalReserve,
		Reason:        record.Reason,
	})

	return record, result.Plan, nil
}

// CheckTriggers evaluates the drift triggers against current balances
func (s *Service) CheckTriggers(ctx context.Context) (*TriggerResult, error) {
	strategy, err := s.strategies.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy: %w", err)
	}

	snapshot, err := s.planner.Snapshot(ctx, strategy.Pools)
	if err != nil {
		return nil, err
	}

	return s.triggers.CheckTriggers(snapshot, strategy, s.defaults.TargetReserve, s.defaults.DriftThreshold), nil
}

// RebalanceIfNeeded executes a rebalance with default parameters when a trigger fires.
// It returns a nil record when no trigger fired.
func (s *Service) RebalanceIfNeeded(ctx context.Context) (*PlanRecord, *TriggerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trigger, err := s.CheckTriggers(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !trigger.ShouldRebalance {
		s.log.Debug().Str("reason", trigger.Reason).Msg("Rebalance not needed")
		s.emit(&events.RebalanceSkippedData{Reason: trigger.Reason})
		return nil, trigger, nil
	}

	record, err := s.executeLocked(ctx, Request{Reason: trigger.Reason})
	return record, trigger, err
}

// GetPlan returns a stored plan
func (s *Service) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	return s.plans.Get(ctx, id)
}

// ListPlans returns the most recent stored plans
func (s *Service) ListPlans(ctx context.Context, limit int) ([]*PlanRecord, error) {
	return s.plans.List(ctx, limit)
}

func (s *Service) emit(data events.EventData) {
	if s.events != nil {
		s.events.EmitData("rebalancing", data)
	}
}

// IsInputError reports whether err was caused by invalid caller input rather than system state
func IsInputError(err error) bool {
	return errors.Is(err, balancing.ErrInvalidStrategy) ||
		errors.Is(err, balancing.ErrInvalidBalance) ||
		errors.Is(err, balancing.ErrInvalidBudget)
}

func parseOrZero(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

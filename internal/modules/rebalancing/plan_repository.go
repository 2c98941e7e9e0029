package rebalancing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrPlanNotFound is returned when a plan ID has no stored record
var ErrPlanNotFound = errors.New("plan not found")

// Plan statuses
const (
	StatusPlanned  = "planned"
	StatusExecuted = "executed"
	StatusFailed   = "failed"
)

// StoredInstruction is one plan slot. An empty Pool marks a padding slot.
type StoredInstruction struct {
	Pool string `msgpack:"pool" json:"pool"`
	Qty  string `msgpack:"qty" json:"qty"`
}

// PoolReport is the per-pool target against the balance the plan leaves behind
type PoolReport struct {
	Pool    string `msgpack:"pool" json:"pool"`
	Weight  int64  `msgpack:"weight" json:"weight"`
	Balance string `msgpack:"balance" json:"balance"`
	Target  string `msgpack:"target" json:"target"`
	Delta   string `msgpack:"delta" json:"delta"`
	Final   string `msgpack:"final" json:"final"`
}

// PlanRecord is a generated plan together with the snapshot it was computed from
type PlanRecord struct {
	ID              string              `msgpack:"-" json:"id"`
	Status          string              `msgpack:"-" json:"status"`
	Reason          string              `msgpack:"-" json:"reason,omitempty"`
	CreatedAt       time.Time           `msgpack:"-" json:"created_at"`
	ExecutedAt      *time.Time          `msgpack:"-" json:"executed_at,omitempty"`
	Reserve         string              `msgpack:"reserve" json:"reserve"`
	TargetReserve   string              `msgpack:"target_reserve" json:"target_reserve"`
	FinalReserve    string              `msgpack:"final_reserve" json:"final_reserve"`
	Leftover        string              `msgpack:"leftover" json:"leftover"`
	MaxInstructions int                 `msgpack:"max_instructions" json:"max_instructions"`
	Instructions    []StoredInstruction `msgpack:"instructions" json:"instructions"`
	Pools           []PoolReport        `msgpack:"pools" json:"pools"`
}

// Plan rebuilds the balancing plan from the stored instructions
func (r *PlanRecord) Plan() (balancing.Plan, error) {
	plan := make(balancing.Plan, 0, len(r.Instructions))
	for i, ins := range r.Instructions {
		if ins.Pool == "" {
			plan = append(plan, balancing.EmptyInstruction())
			continue
		}
		qty, ok := new(big.Int).SetString(ins.Qty, 10)
		if !ok {
			return nil, fmt.Errorf("instruction %d has invalid quantity %q", i, ins.Qty)
		}
		plan = append(plan, balancing.Instruction{Qty: qty, Pool: balancing.PoolRef(ins.Pool)})
	}
	return plan, nil
}

// ActiveCount returns the number of non-padding instructions
func (r *PlanRecord) ActiveCount() int {
	count := 0
	for _, ins := range r.Instructions {
		if ins.Pool != "" {
			count++
		}
	}
	return count
}

// NewPlanRecord builds a record from a planning result
func NewPlanRecord(id string, result *balancing.Result, targetReserve *big.Int, maxInstructions int, now time.Time) *PlanRecord {
	reserve := result.Snapshot.Reserve
	if reserve == nil {
		reserve = new(big.Int)
	}

	record := &PlanRecord{
		ID:              id,
		Status:          StatusPlanned,
		CreatedAt:       now.UTC(),
		Reserve:         reserve.String(),
		TargetReserve:   targetReserve.String(),
		FinalReserve:    result.Plan.FinalReserve(reserve).String(),
		Leftover:        "0",
		MaxInstructions: maxInstructions,
		Instructions:    make([]StoredInstruction, 0, len(result.Plan)),
	}
	if result.Allocation.Leftover != nil {
		record.Leftover = result.Allocation.Leftover.String()
	}

	moved := make(map[balancing.PoolRef]*big.Int)
	for _, ins := range result.Plan {
		if ins.IsEmpty() {
			record.Instructions = append(record.Instructions, StoredInstruction{Qty: "0"})
			continue
		}
		record.Instructions = append(record.Instructions, StoredInstruction{
			Pool: string(ins.Pool),
			Qty:  ins.Quantity().String(),
		})
		if moved[ins.Pool] == nil {
			moved[ins.Pool] = new(big.Int)
		}
		moved[ins.Pool].Add(moved[ins.Pool], ins.Quantity())
	}

	for i, pool := range result.Strategy.Pools {
		report := PoolReport{Pool: string(pool), Weight: result.Strategy.Weights[i]}
		balance := new(big.Int)
		if i < len(result.Snapshot.Pools) {
			balance = result.Snapshot.Pools[i]
		}
		report.Balance = balance.String()
		if i < len(result.Allocation.Targets) {
			report.Target = result.Allocation.Targets[i].String()
			report.Delta = result.Allocation.Deltas[i].String()
		}
		final := new(big.Int).Set(balance)
		if m := moved[pool]; m != nil {
			final.Add(final, m)
		}
		report.Final = final.String()
		record.Pools = append(record.Pools, report)
	}

	return record
}

// PlanRepository stores generated plans in cache.db
type PlanRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(cacheDB *sql.DB, log zerolog.Logger) *PlanRepository {
	return &PlanRepository{
		db:  cacheDB,
		log: log.With().Str("repo", "plans").Logger(),
	}
}

// Save inserts a new plan record
func (r *PlanRepository) Save(ctx context.Context, record *PlanRecord) error {
	payload, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode plan %s: %w", record.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO plans (id, status, payload, reason, created_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Status, payload, nullString(record.Reason),
		record.CreatedAt.Unix(), nullTime(record.ExecutedAt))
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", record.ID, err)
	}
	return nil
}

// UpdateStatus records the outcome of executing a plan
func (r *PlanRepository) UpdateStatus(ctx context.Context, id, status, reason string, executedAt *time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, reason = ?, executed_at = ? WHERE id = ?`,
		status, nullString(reason), nullTime(executedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update plan %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return nil
}

// Get returns a stored plan
func (r *PlanRepository) Get(ctx context.Context, id string) (*PlanRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, payload, reason, created_at, executed_at FROM plans WHERE id = ?`, id)

	record, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", id, err)
	}
	return record, nil
}

// List returns the most recent plans, newest first
func (r *PlanRepository) List(ctx context.Context, limit int) ([]*PlanRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, payload, reason, created_at, executed_at
		FROM plans ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var records []*PlanRecord
	for rows.Next() {
		record, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return records, nil
}

// DeleteOlderThan removes plans created before cutoff and returns how many were removed
func (r *PlanRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM plans WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune plans: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("removed", n).Msg("Pruned old plans")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(s scanner) (*PlanRecord, error) {
	var (
		id, status string
		payload    []byte
		reason     sql.NullString
		createdAt  int64
		executedAt sql.NullInt64
	)
	if err := s.Scan(&id, &status, &payload, &reason, &createdAt, &executedAt); err != nil {
		return nil, err
	}

	record := &PlanRecord{}
	if err := msgpack.Unmarshal(payload, record); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", id, err)
	}
	record.ID = id
	record.Status = status
	record.Reason = reason.String
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	if executedAt.Valid {
		t := time.Unix(executedAt.Int64, 0).UTC()
		record.ExecutedAt = &t
	}
	return record, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

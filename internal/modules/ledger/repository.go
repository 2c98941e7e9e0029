// Package ledger keeps the vault's balance book: the reserve and every pool holder,
// with an append-only transfer trail.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/aristath/dynamo/internal/database"
	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/rs/zerolog"
)

// ErrInsufficientBalance is returned when a withdrawal or a plan would leave a holder negative
var ErrInsufficientBalance = errors.New("insufficient balance")

// Transfer kinds recorded in the audit trail
const (
	KindDeposit   = "deposit"
	KindWithdraw  = "withdraw"
	KindRebalance = "rebalance"
)

// Balance is one holder's position in the book
type Balance struct {
	Holder    string
	Amount    *big.Int
	UpdatedAt time.Time
}

// Transfer is one row of the audit trail
type Transfer struct {
	ID        int64
	PlanID    string
	Kind      string
	From      string
	To        string
	Amount    *big.Int
	CreatedAt time.Time
}

// Repository handles balance book operations on ledger.db
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "ledger").Logger(),
	}
}

// BalanceOf returns the balance of holder. Unknown holders hold zero.
func (r *Repository) BalanceOf(ctx context.Context, holder string) (*big.Int, error) {
	amount, err := balanceOf(ctx, r.ledgerDB, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance of %s: %w", holder, err)
	}
	return amount, nil
}

// Balances returns every holder with a row in the book, ordered by holder
func (r *Repository) Balances(ctx context.Context) ([]Balance, error) {
	rows, err := r.ledgerDB.QueryContext(ctx,
		`SELECT holder, amount, updated_at FROM balances ORDER BY holder`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		var amount string
		var updatedAt int64
		if err := rows.Scan(&b.Holder, &amount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		if b.Amount, err = parseStored(amount); err != nil {
			return nil, fmt.Errorf("corrupt balance for %s: %w", b.Holder, err)
		}
		b.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}

// Deposit credits amount to holder
func (r *Repository) Deposit(ctx context.Context, holder string, amount *big.Int) error {
	if err := checkTransfer(holder, amount); err != nil {
		return err
	}

	err := database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		if _, err := adjust(ctx, tx, holder, amount); err != nil {
			return err
		}
		return recordTransfer(ctx, tx, "", KindDeposit, "", holder, amount)
	})
	if err != nil {
		return fmt.Errorf("failed to deposit to %s: %w", holder, err)
	}

	r.log.Info().Str("holder", holder).Str("amount", amount.String()).Msg("Deposit recorded")
	return nil
}

// Withdraw debits amount from holder, failing with ErrInsufficientBalance when it would go negative
func (r *Repository) Withdraw(ctx context.Context, holder string, amount *big.Int) error {
	if err := checkTransfer(holder, amount); err != nil {
		return err
	}

	err := database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		after, err := adjust(ctx, tx, holder, new(big.Int).Neg(amount))
		if err != nil {
			return err
		}
		if after.Sign() < 0 {
			return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, holder, new(big.Int).Add(after, amount))
		}
		return recordTransfer(ctx, tx, "", KindWithdraw, holder, "", amount)
	})
	if err != nil {
		return fmt.Errorf("failed to withdraw from %s: %w", holder, err)
	}

	r.log.Info().Str("holder", holder).Str("amount", amount.String()).Msg("Withdrawal recorded")
	return nil
}

// ApplyPlan moves funds between reserve and the pools as the plan instructs, in plan order,
// inside one transaction. A positive quantity moves funds from the reserve into the pool, a
// negative one pulls them back. The whole plan is rolled back when any holder it touched ends
// up negative.
func (r *Repository) ApplyPlan(ctx context.Context, planID, reserve string, plan balancing.Plan) error {
	active := plan.Active()
	if len(active) == 0 {
		return nil
	}

	err := database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		touched := map[string]*big.Int{}
		for _, ins := range active {
			qty := ins.Quantity()
			if qty.Sign() == 0 {
				continue
			}
			pool := string(ins.Pool)
			if pool == reserve {
				return fmt.Errorf("instruction targets the reserve holder %s", reserve)
			}

			after, err := adjust(ctx, tx, pool, qty)
			if err != nil {
				return err
			}
			touched[pool] = after
			if after, err = adjust(ctx, tx, reserve, new(big.Int).Neg(qty)); err != nil {
				return err
			}
			touched[reserve] = after

			from, to, amount := reserve, pool, qty
			if qty.Sign() < 0 {
				from, to, amount = pool, reserve, new(big.Int).Neg(qty)
			}
			if err := recordTransfer(ctx, tx, planID, KindRebalance, from, to, amount); err != nil {
				return err
			}
		}

		for holder, balance := range touched {
			if balance.Sign() < 0 {
				return fmt.Errorf("%w: %s would end at %s", ErrInsufficientBalance, holder, balance)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply plan %s: %w", planID, err)
	}

	r.log.Info().
		Str("plan_id", planID).
		Int("instructions", len(active)).
		Msg("Plan applied to ledger")
	return nil
}

// Transfers returns the most recent transfers, newest first. A planID filters to one plan.
func (r *Repository) Transfers(ctx context.Context, planID string, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, COALESCE(plan_id, ''), kind, COALESCE(from_holder, ''), COALESCE(to_holder, ''),
	                 amount, created_at
	          FROM transfers WHERE 1=1`
	args := []interface{}{}
	if planID != "" {
		query += " AND plan_id = ?"
		args = append(args, planID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.ledgerDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		var amount string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.PlanID, &t.Kind, &t.From, &t.To, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		if t.Amount, err = parseStored(amount); err != nil {
			return nil, fmt.Errorf("corrupt transfer %d: %w", t.ID, err)
		}
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}

	return transfers, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func balanceOf(ctx context.Context, q querier, holder string) (*big.Int, error) {
	var amount string
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE holder = ?`, holder).Scan(&amount)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseStored(amount)
}

// adjust adds delta to holder's balance and returns the new balance. Negative results are
// stored; callers decide when to reject them.
func adjust(ctx context.Context, tx *sql.Tx, holder string, delta *big.Int) (*big.Int, error) {
	current, err := balanceOf(ctx, tx, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance of %s: %w", holder, err)
	}
	next := new(big.Int).Add(current, delta)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (holder, amount, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(holder) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		holder, next.String(), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to update balance of %s: %w", holder, err)
	}
	return next, nil
}

func recordTransfer(ctx context.Context, tx *sql.Tx, planID, kind, from, to string, amount *big.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfers (plan_id, kind, from_holder, to_holder, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullable(planID), kind, nullable(from), nullable(to), amount.String(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record %s transfer: %w", kind, err)
	}
	return nil
}

func checkTransfer(holder string, amount *big.Int) error {
	if holder == "" {
		return fmt.Errorf("holder must not be empty")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

func parseStored(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored amount %q", s)
	}
	return v, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

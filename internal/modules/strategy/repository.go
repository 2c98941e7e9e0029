// Package strategy persists the vault's allocation strategy: the ordered pool list and
// each pool's weight.
package strategy

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/dynamo/internal/database"
	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/rs/zerolog"
)

// Repository handles strategy database operations
// Database: config.db (strategy_pools, strategy_meta tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new strategy repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "strategy").Logger(),
	}
}

// Get returns the stored strategy in pool order. An unset strategy is empty, not an error.
func (r *Repository) Get(ctx context.Context) (balancing.Strategy, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT pool, weight FROM strategy_pools ORDER BY position")
	if err != nil {
		return balancing.Strategy{}, fmt.Errorf("failed to query strategy: %w", err)
	}
	defer rows.Close()

	var s balancing.Strategy
	for rows.Next() {
		var pool string
		var weight int64
		if err := rows.Scan(&pool, &weight); err != nil {
			return balancing.Strategy{}, fmt.Errorf("failed to scan strategy pool: %w", err)
		}
		s.Pools = append(s.Pools, balancing.PoolRef(pool))
		s.Weights = append(s.Weights, weight)
	}
	if err := rows.Err(); err != nil {
		return balancing.Strategy{}, fmt.Errorf("error iterating strategy pools: %w", err)
	}

	return s, nil
}

// Replace validates s and stores it in place of the current strategy.
// An empty strategy clears it.
func (r *Repository) Replace(ctx context.Context, s balancing.Strategy) error {
	if err := s.Validate(); err != nil {
		return err
	}

	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM strategy_pools"); err != nil {
			return fmt.Errorf("failed to clear strategy: %w", err)
		}
		for i, pool := range s.Pools {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO strategy_pools (position, pool, weight) VALUES (?, ?, ?)",
				i, string(pool), s.Weights[i]); err != nil {
				return fmt.Errorf("failed to insert pool %s: %w", pool, err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO strategy_meta (key, value) VALUES ('updated_at', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			strconv.FormatInt(time.Now().Unix(), 10))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to replace strategy: %w", err)
	}

	r.log.Info().Int("pools", s.Len()).Msg("Strategy replaced")
	return nil
}

// UpdatedAt returns when the strategy was last replaced, or the zero time if never
func (r *Repository) UpdatedAt(ctx context.Context) (time.Time, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM strategy_meta WHERE key = 'updated_at'").Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get strategy timestamp: %w", err)
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid strategy timestamp %q: %w", value, err)
	}
	return time.Unix(unix, 0).UTC(), nil
}

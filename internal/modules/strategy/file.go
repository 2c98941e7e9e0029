package strategy

import (
	"context"
	"fmt"
	"os"

	"github.com/aristath/dynamo/internal/modules/balancing"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a strategy seed file:
//
//	pools:
//	  - pool: aave
//	    weight: 60
//	  - pool: compound
//	    weight: 40
type File struct {
	Pools []PoolWeight `yaml:"pools" json:"pools"`
}

// PoolWeight is one pool entry of a strategy
type PoolWeight struct {
	Pool   string `yaml:"pool" json:"pool"`
	Weight int64  `yaml:"weight" json:"weight"`
}

// ToStrategy converts the entries in order
func (f File) ToStrategy() balancing.Strategy {
	s := balancing.Strategy{
		Pools:   make([]balancing.PoolRef, 0, len(f.Pools)),
		Weights: make([]int64, 0, len(f.Pools)),
	}
	for _, p := range f.Pools {
		s.Pools = append(s.Pools, balancing.PoolRef(p.Pool))
		s.Weights = append(s.Weights, p.Weight)
	}
	return s
}

// FromStrategy is the inverse of ToStrategy
func FromStrategy(s balancing.Strategy) File {
	f := File{Pools: make([]PoolWeight, 0, s.Len())}
	for i, pool := range s.Pools {
		var weight int64
		if i < len(s.Weights) {
			weight = s.Weights[i]
		}
		f.Pools = append(f.Pools, PoolWeight{Pool: string(pool), Weight: weight})
	}
	return f
}

// LoadFile reads and validates a YAML strategy file
func LoadFile(path string) (balancing.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return balancing.Strategy{}, fmt.Errorf("failed to read strategy file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return balancing.Strategy{}, fmt.Errorf("failed to parse strategy file %s: %w", path, err)
	}

	s := f.ToStrategy()
	if err := s.Validate(); err != nil {
		return balancing.Strategy{}, fmt.Errorf("strategy file %s: %w", path, err)
	}
	return s, nil
}

// Seed replaces the stored strategy with the one in path when the store is still empty.
// An empty path is a no-op. The file may not list the reserve holder as a pool.
func Seed(ctx context.Context, repo *Repository, path, reserve string, log zerolog.Logger) error {
	if path == "" {
		return nil
	}

	current, err := repo.Get(ctx)
	if err != nil {
		return err
	}
	if current.Len() > 0 {
		log.Debug().Str("file", path).Msg("Strategy already configured, seed file ignored")
		return nil
	}

	s, err := LoadFile(path)
	if err != nil {
		return err
	}
	if err := s.ValidateFor(reserve); err != nil {
		return fmt.Errorf("strategy file %s: %w", path, err)
	}
	if err := repo.Replace(ctx, s); err != nil {
		return err
	}

	log.Info().Str("file", path).Int("pools", s.Len()).Msg("Strategy seeded from file")
	return nil
}

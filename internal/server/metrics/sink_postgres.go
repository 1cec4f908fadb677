package metrics

import (
	"context"
	"errors"
	"fmt"

	"quickdrop/internal/server/database"
)

// PostgresSink stores counters in the metric_counters table.
type PostgresSink struct {
	repo *database.Repository
}

// NewPostgresSink creates a sink on top of a migrated database.
func NewPostgresSink(repo *database.Repository) *PostgresSink {
	return &PostgresSink{repo: repo}
}

func (s *PostgresSink) SetCounter(ctx context.Context, name string, value int64) error {
	if err := s.repo.Set(ctx, name, value); err != nil {
		return fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return nil
}

func (s *PostgresSink) GetCounter(ctx context.Context, name string) (int64, error) {
	c, err := s.repo.Get(ctx, name)
	if errors.Is(err, database.ErrCounterNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	return c.Value, nil
}

func (s *PostgresSink) ListCounters(ctx context.Context, prefix string) ([]string, error) {
	counters, err := s.repo.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	names := make([]string, len(counters))
	for i, c := range counters {
		names[i] = c.Name
	}
	return names, nil
}

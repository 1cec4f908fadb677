package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

var (
	ErrCounterNotFound = errors.New("counter not found")
)

// Repository reads and writes metric counters.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Set stores an absolute counter value, creating the row if needed.
func (r *Repository) Set(ctx context.Context, name string, value int64) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO metric_counters (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to set counter %s: %w", name, err)
	}
	return nil
}

// Get returns a counter by name.
func (r *Repository) Get(ctx context.Context, name string) (*Counter, error) {
	c := &Counter{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT name, value, updated_at FROM metric_counters WHERE name = $1
	`, name).Scan(&c.Name, &c.Value, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCounterNotFound
		}
		return nil, fmt.Errorf("failed to get counter %s: %w", name, err)
	}
	return c, nil
}

// ListByPrefix returns all counters whose name starts with prefix.
func (r *Repository) ListByPrefix(ctx context.Context, prefix string) ([]*Counter, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT name, value, updated_at FROM metric_counters
		WHERE name LIKE $1 || '%'
		ORDER BY name
	`, escapeLike(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	defer rows.Close()

	var counters []*Counter
	for rows.Next() {
		c := &Counter{}
		if err := rows.Scan(&c.Name, &c.Value, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

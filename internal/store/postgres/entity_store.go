package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// EntityStore implements domain.EntityStore: a generic keyed JSONB write used
// by the reconciler to patch fields outside the regular store API.
type EntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore creates a new EntityStore backed by the given pool.
func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

// Put upserts the value for (kind, id).
func (s *EntityStore) Put(ctx context.Context, kind, id string, value map[string]any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("postgres: marshal entity %s/%s: %w", kind, id, err)
	}

	const query = `
		INSERT INTO entities (kind, id, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, kind, id, data); err != nil {
		return fmt.Errorf("postgres: put entity %s/%s: %w", kind, id, err)
	}
	return nil
}

// Get returns the value for (kind, id) or domain.ErrNotFound.
func (s *EntityStore) Get(ctx context.Context, kind, id string) (map[string]any, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM entities WHERE kind = $1 AND id = $2`, kind, id,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get entity %s/%s: %w", kind, id, err)
	}

	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal entity %s/%s: %w", kind, id, err)
	}
	return value, nil
}

// Compile-time interface check.
var _ domain.EntityStore = (*EntityStore)(nil)

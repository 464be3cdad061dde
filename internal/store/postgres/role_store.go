package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// RoleStore implements domain.RolePolicy with a user_roles table. Users with
// no row default to the plain user role.
type RoleStore struct {
	pool *pgxpool.Pool
}

// NewRoleStore creates a new RoleStore backed by the given pool.
func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

// RoleOf returns the user's stored role, defaulting to RoleUser.
func (s *RoleStore) RoleOf(ctx context.Context, userID string) (domain.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1`, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RoleUser, nil
		}
		return "", fmt.Errorf("postgres: role of %s: %w", userID, err)
	}
	return domain.Role(role), nil
}

// Grant upserts the user's role.
func (s *RoleStore) Grant(ctx context.Context, userID string, role domain.Role) error {
	const query = `
		INSERT INTO user_roles (user_id, role, granted_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			role       = EXCLUDED.role,
			granted_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, userID, string(role)); err != nil {
		return fmt.Errorf("postgres: grant role %s to %s: %w", role, userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RolePolicy = (*RoleStore)(nil)

package auth

import (
	"context"
	"fmt"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// Policy resolves roles by consulting a configured seed list of admin user
// ids first and a persistent role store second. The seed list bootstraps
// the first admin before any user_roles row exists; everything else lives
// in the store so grants survive restarts.
type Policy struct {
	store domain.RolePolicy
	seed  map[string]struct{}
}

var _ domain.RolePolicy = (*Policy)(nil)

// NewPolicy wraps store with the seedAdmins bootstrap list.
func NewPolicy(store domain.RolePolicy, seedAdmins []string) *Policy {
	seed := make(map[string]struct{}, len(seedAdmins))
	for _, id := range seedAdmins {
		if id != "" {
			seed[id] = struct{}{}
		}
	}
	return &Policy{store: store, seed: seed}
}

// RoleOf returns the role for userID. Seeded admins are admins regardless of
// what the store says.
func (p *Policy) RoleOf(ctx context.Context, userID string) (domain.Role, error) {
	if _, ok := p.seed[userID]; ok {
		return domain.RoleAdmin, nil
	}
	role, err := p.store.RoleOf(ctx, userID)
	if err != nil {
		return domain.RoleUser, fmt.Errorf("auth: resolving role for %s: %w", userID, err)
	}
	return role, nil
}

// Grant persists a role for userID.
func (p *Policy) Grant(ctx context.Context, userID string, role domain.Role) error {
	if userID == "" {
		return fmt.Errorf("auth: %w: user id must not be empty", domain.ErrValidation)
	}
	if role != domain.RoleUser && role != domain.RoleAdmin {
		return fmt.Errorf("auth: %w: unknown role %q", domain.ErrValidation, role)
	}
	if err := p.store.Grant(ctx, userID, role); err != nil {
		return fmt.Errorf("auth: granting %s to %s: %w", role, userID, err)
	}
	return nil
}

// Identify builds the request identity for userID.
func (p *Policy) Identify(ctx context.Context, userID string) (domain.Identity, error) {
	role, err := p.RoleOf(ctx, userID)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{UserID: userID, Role: role}, nil
}

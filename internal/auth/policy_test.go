package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opwisdom/wisdomd/internal/domain"
)

type fakeRoleStore struct {
	roles map[string]domain.Role
}

func (f *fakeRoleStore) RoleOf(_ context.Context, userID string) (domain.Role, error) {
	if r, ok := f.roles[userID]; ok {
		return r, nil
	}
	return domain.RoleUser, nil
}

func (f *fakeRoleStore) Grant(_ context.Context, userID string, role domain.Role) error {
	if f.roles == nil {
		f.roles = make(map[string]domain.Role)
	}
	f.roles[userID] = role
	return nil
}

func TestPolicySeedAdmins(t *testing.T) {
	store := &fakeRoleStore{}
	p := NewPolicy(store, []string{"root", ""})

	role, err := p.RoleOf(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, role, "seeded admin wins without a store row")

	role, err = p.RoleOf(context.Background(), "someone")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, role)
}

func TestPolicySeedOverridesStore(t *testing.T) {
	store := &fakeRoleStore{roles: map[string]domain.Role{"root": domain.RoleUser}}
	p := NewPolicy(store, []string{"root"})

	role, err := p.RoleOf(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, role)
}

func TestPolicyGrant(t *testing.T) {
	store := &fakeRoleStore{}
	p := NewPolicy(store, nil)

	require.NoError(t, p.Grant(context.Background(), "u1", domain.RoleAdmin))

	id, err := p.Identify(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())

	require.NoError(t, p.Grant(context.Background(), "u1", domain.RoleUser))
	id, err = p.Identify(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, id.IsAdmin())
}

func TestPolicyGrantValidation(t *testing.T) {
	p := NewPolicy(&fakeRoleStore{}, nil)

	err := p.Grant(context.Background(), "", domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = p.Grant(context.Background(), "u1", domain.Role("superuser"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIdentityCanActFor(t *testing.T) {
	user := domain.Identity{UserID: "u1", Role: domain.RoleUser}
	admin := domain.Identity{UserID: "a1", Role: domain.RoleAdmin}

	assert.True(t, user.CanActFor("u1"))
	assert.False(t, user.CanActFor("u2"))
	assert.True(t, admin.CanActFor("u2"))
}

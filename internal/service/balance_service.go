package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// initialGrant is the starting balance credited when a user's account row is
// first created.
const initialGrant = 1000.0

// BalanceService serves user balance reads, creating the account row with
// the initial grant on first touch.
type BalanceService struct {
	balances domain.BalanceStore
	logger   *slog.Logger
}

// NewBalanceService creates a BalanceService.
func NewBalanceService(balances domain.BalanceStore, logger *slog.Logger) *BalanceService {
	return &BalanceService{balances: balances, logger: logger}
}

// GetBalance returns the user's balance, creating the account with the
// initial grant when it does not exist yet. Restricted to the owner or an
// admin.
func (s *BalanceService) GetBalance(ctx context.Context, id domain.Identity, userID string) (domain.UserBalance, error) {
	if !id.CanActFor(userID) {
		return domain.UserBalance{}, fmt.Errorf("balance_service: get: %w", domain.ErrUnauthorized)
	}

	b, err := s.balances.EnsureAccount(ctx, userID, initialGrant)
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("balance_service: get: %w", err)
	}
	return b, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. The
// prediction-creation debit lives on CustodyStore so it shares the custody
// transaction; this store covers reads, account creation, and settlement.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a new BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get returns a user's balance or domain.ErrNotFound.
func (s *BalanceStore) Get(ctx context.Context, userID string) (domain.UserBalance, error) {
	const query = `
		SELECT user_id, available_balance, in_predictions, updated_at
		FROM user_balances WHERE user_id = $1`

	var b domain.UserBalance
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&b.UserID, &b.AvailableBalance, &b.InPredictions, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserBalance{}, domain.ErrNotFound
		}
		return domain.UserBalance{}, fmt.Errorf("postgres: get balance %s: %w", userID, err)
	}
	return b, nil
}

// EnsureAccount creates the balance row with the initial grant when missing
// and returns the current balance either way.
func (s *BalanceStore) EnsureAccount(ctx context.Context, userID string, initial float64) (domain.UserBalance, error) {
	const query = `
		INSERT INTO user_balances (user_id, available_balance, in_predictions)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, userID, initial); err != nil {
		return domain.UserBalance{}, fmt.Errorf("postgres: ensure account %s: %w", userID, err)
	}
	return s.Get(ctx, userID)
}

// ApplyResolution settles a prediction: the staked amount leaves
// in_predictions and the payout (zero for a loss) is credited to
// available_balance.
func (s *BalanceStore) ApplyResolution(ctx context.Context, userID string, amount, payout float64) error {
	const query = `
		UPDATE user_balances SET
			available_balance = available_balance + $3,
			in_predictions    = GREATEST(in_predictions - $2, 0),
			updated_at        = NOW()
		WHERE user_id = $1`

	tag, err := s.pool.Exec(ctx, query, userID, amount, payout)
	if err != nil {
		return fmt.Errorf("postgres: apply resolution for %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)

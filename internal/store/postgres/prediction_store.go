package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
// Prediction creation lives on CustodyStore, which owns the atomic
// balance-debit + insert + receipt-mint write.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a new PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

const predictionColumns = `
	id, market_id, market_name, outcome_id, outcome_name,
	user_id, amount, status, potential_payout, receipt_id, created_at`

// GetByID returns a prediction or domain.ErrNotFound.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)

	p, err := scanPrediction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prediction{}, domain.ErrNotFound
		}
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// ListByUser returns a user's predictions, newest first.
func (s *PredictionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	return s.list(ctx, "user_id", userID, opts)
}

// ListByMarket returns a market's predictions, newest first.
func (s *PredictionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

func (s *PredictionStore) list(ctx context.Context, column, value string, opts domain.ListOpts) ([]domain.Prediction, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM predictions WHERE %s = $1 ORDER BY created_at DESC`,
		predictionColumns, column,
	)
	args := []any{value}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions by %s: %w", column, err)
	}
	defer rows.Close()

	var predictions []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: prediction rows: %w", err)
	}
	return predictions, nil
}

// UpdateStatus sets a prediction's settlement status and potential payout.
func (s *PredictionStore) UpdateStatus(ctx context.Context, id string, status domain.PredictionStatus, potentialPayout float64) error {
	const query = `
		UPDATE predictions SET status = $2, potential_payout = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), potentialPayout)
	if err != nil {
		return fmt.Errorf("postgres: update prediction %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Redeem marks a won prediction redeemed with its final payout.
func (s *PredictionStore) Redeem(ctx context.Context, id string, payout float64) error {
	const query = `
		UPDATE predictions SET status = 'redeemed', potential_payout = $2
		WHERE id = $1 AND status = 'won'`

	tag, err := s.pool.Exec(ctx, query, id, payout)
	if err != nil {
		return fmt.Errorf("postgres: redeem prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM predictions WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: redeem prediction %s check: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrNotWinning
	}
	return nil
}

// Delete removes a prediction and, via cascade, its receipt.
func (s *PredictionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM predictions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetReceipt returns an NFT receipt or domain.ErrNotFound.
func (s *PredictionStore) GetReceipt(ctx context.Context, receiptID string) (domain.NFTReceipt, error) {
	const query = `
		SELECT id, prediction_id, user_id, market_id, market_name,
		       outcome_id, outcome_name, amount, created_at
		FROM nft_receipts WHERE id = $1`

	var r domain.NFTReceipt
	err := s.pool.QueryRow(ctx, query, receiptID).Scan(
		&r.ID, &r.PredictionID, &r.UserID, &r.MarketID, &r.MarketName,
		&r.OutcomeID, &r.OutcomeName, &r.Amount, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NFTReceipt{}, domain.ErrNotFound
		}
		return domain.NFTReceipt{}, fmt.Errorf("postgres: get receipt %s: %w", receiptID, err)
	}
	return r, nil
}

// scanPrediction scans a single prediction row.
func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	var status string
	err := row.Scan(
		&p.ID, &p.MarketID, &p.MarketName, &p.OutcomeID, &p.OutcomeName,
		&p.UserID, &p.Amount, &status, &p.PotentialPayout, &p.ReceiptID,
		&p.CreatedAt,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Status = domain.PredictionStatus(status)
	return p, nil
}

// Compile-time interface check.
var _ domain.PredictionStore = (*PredictionStore)(nil)

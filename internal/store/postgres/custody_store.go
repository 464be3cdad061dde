package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// CustodyStore implements domain.CustodyStore using PostgreSQL. It owns every
// write that must be atomic with a custody transaction: balance moves,
// prediction inserts, receipt mints, and market aggregate updates all run in
// one SQL transaction here.
type CustodyStore struct {
	pool *pgxpool.Pool
}

// NewCustodyStore creates a new CustodyStore backed by the given pool.
func NewCustodyStore(pool *pgxpool.Pool) *CustodyStore {
	return &CustodyStore{pool: pool}
}

const custodyColumns = `
	id, user_id, tx_type, signature, nonce, signer, subnet_id,
	market_id, outcome_id, amount, receipt_id, prediction_id,
	status, blockchain_status, taken_custody_at, verified_at`

// CreatePredictionWithCustody atomically debits the user's available balance,
// creates the prediction and its NFT receipt, applies the market outcome
// aggregates, and records the pending custody transaction.
//
// The balance debit uses a conditional UPDATE so ErrInsufficientBalance is
// detected without a read-then-write race, and a failed debit aborts the
// transaction before any other row is touched.
func (s *CustodyStore) CreatePredictionWithCustody(ctx context.Context, intent domain.PredictionIntent) (domain.CustodyResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.CustodyResult{}, fmt.Errorf("postgres: begin custody create: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	// 1. Debit available balance into in_predictions.
	const debit = `
		UPDATE user_balances SET
			available_balance = available_balance - $2,
			in_predictions    = in_predictions + $2,
			updated_at        = NOW()
		WHERE user_id = $1 AND available_balance >= $2`

	tag, err := tx.Exec(ctx, debit, intent.UserID, intent.Amount)
	if err != nil {
		return domain.CustodyResult{}, fmt.Errorf("postgres: debit balance for %s: %w", intent.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM user_balances WHERE user_id = $1)`, intent.UserID,
		).Scan(&exists); err != nil {
			return domain.CustodyResult{}, fmt.Errorf("postgres: debit balance check for %s: %w", intent.UserID, err)
		}
		if !exists {
			return domain.CustodyResult{}, domain.ErrNotFound
		}
		return domain.CustodyResult{}, domain.ErrInsufficientBalance
	}

	// 2. Insert the prediction.
	prediction := domain.Prediction{
		ID:          uuid.New().String(),
		MarketID:    intent.MarketID,
		MarketName:  intent.MarketName,
		OutcomeID:   intent.OutcomeID,
		OutcomeName: intent.OutcomeName,
		UserID:      intent.UserID,
		Amount:      intent.Amount,
		Status:      domain.PredictionStatusPending,
		CreatedAt:   now,
	}

	receipt := domain.NFTReceipt{
		ID:           uuid.New().String(),
		PredictionID: prediction.ID,
		UserID:       intent.UserID,
		MarketID:     intent.MarketID,
		MarketName:   intent.MarketName,
		OutcomeID:    intent.OutcomeID,
		OutcomeName:  intent.OutcomeName,
		Amount:       intent.Amount,
		CreatedAt:    now,
	}
	prediction.ReceiptID = receipt.ID

	const insertPrediction = `
		INSERT INTO predictions (
			id, market_id, market_name, outcome_id, outcome_name,
			user_id, amount, status, potential_payout, receipt_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)`

	_, err = tx.Exec(ctx, insertPrediction,
		prediction.ID, prediction.MarketID, prediction.MarketName,
		prediction.OutcomeID, prediction.OutcomeName,
		prediction.UserID, prediction.Amount, string(prediction.Status),
		prediction.ReceiptID, prediction.CreatedAt,
	)
	if err != nil {
		return domain.CustodyResult{}, fmt.Errorf("postgres: insert prediction: %w", err)
	}

	// 3. Mint the receipt.
	const insertReceipt = `
		INSERT INTO nft_receipts (
			id, prediction_id, user_id, market_id, market_name,
			outcome_id, outcome_name, amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = tx.Exec(ctx, insertReceipt,
		receipt.ID, receipt.PredictionID, receipt.UserID,
		receipt.MarketID, receipt.MarketName,
		receipt.OutcomeID, receipt.OutcomeName, receipt.Amount, receipt.CreatedAt,
	)
	if err != nil {
		return domain.CustodyResult{}, fmt.Errorf("postgres: insert receipt: %w", err)
	}

	// 4. Apply market aggregates.
	if err := applyMarketAggregates(ctx, tx, intent.MarketID, intent.OutcomeID, intent.Amount, 1); err != nil {
		return domain.CustodyResult{}, err
	}

	// 5. Record the custody transaction.
	custody := domain.CustodyTransaction{
		ID:               uuid.New().String(),
		UserID:           intent.UserID,
		Type:             domain.TransactionTypePredict,
		Signature:        intent.Signature,
		Nonce:            intent.Nonce,
		Signer:           intent.Signer,
		SubnetID:         intent.SubnetID,
		MarketID:         intent.MarketID,
		OutcomeID:        intent.OutcomeID,
		Amount:           intent.Amount,
		ReceiptID:        receipt.ID,
		PredictionID:     prediction.ID,
		Status:           domain.CustodyStatusPending,
		BlockchainStatus: domain.BlockchainStatusUnresolved,
		TakenCustodyAt:   now,
	}

	if err := insertCustody(ctx, tx, custody); err != nil {
		return domain.CustodyResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CustodyResult{}, fmt.Errorf("postgres: commit custody create: %w", err)
	}

	return domain.CustodyResult{
		Transaction: custody,
		Prediction:  prediction,
		Receipt:     receipt,
	}, nil
}

// CreateClaimRewardWithCustody records a pending claim-reward transaction.
// The dedup check consults both the canonical nonce and the legacy receipt id
// inside the same transaction as the insert.
func (s *CustodyStore) CreateClaimRewardWithCustody(ctx context.Context, intent domain.ClaimIntent) (domain.CustodyTransaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.CustodyTransaction{}, fmt.Errorf("postgres: begin claim create: %w", err)
	}
	defer tx.Rollback(ctx)

	// A prior claim may carry the on-chain id in either column, and this
	// intent may know it under the nonce, the legacy receipt id, or both.
	// Empty values are excluded so legacy rows with blank columns never
	// match each other.
	ids := make([]string, 0, 2)
	if intent.Nonce != "" {
		ids = append(ids, intent.Nonce)
	}
	if intent.ReceiptID != "" && intent.ReceiptID != intent.Nonce {
		ids = append(ids, intent.ReceiptID)
	}

	const dedup = `
		SELECT EXISTS(
			SELECT 1 FROM custody_transactions
			WHERE tx_type = 'claim-reward'
			  AND (nonce = ANY($1) OR receipt_id = ANY($1))
		)`

	var claimed bool
	if err := tx.QueryRow(ctx, dedup, ids).Scan(&claimed); err != nil {
		return domain.CustodyTransaction{}, fmt.Errorf("postgres: claim dedup check: %w", err)
	}
	if claimed {
		return domain.CustodyTransaction{}, domain.ErrAlreadyClaimed
	}

	custody := domain.CustodyTransaction{
		ID:               uuid.New().String(),
		UserID:           intent.UserID,
		Type:             domain.TransactionTypeClaimReward,
		Signature:        intent.Signature,
		Nonce:            intent.Nonce,
		Signer:           intent.Signer,
		SubnetID:         intent.SubnetID,
		ReceiptID:        intent.ReceiptID,
		PredictionID:     intent.PredictionID,
		Status:           domain.CustodyStatusPending,
		BlockchainStatus: domain.BlockchainStatusUnresolved,
		TakenCustodyAt:   time.Now().UTC(),
	}

	if err := insertCustody(ctx, tx, custody); err != nil {
		return domain.CustodyTransaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CustodyTransaction{}, fmt.Errorf("postgres: commit claim create: %w", err)
	}
	return custody, nil
}

// GetTransaction returns a custody transaction or domain.ErrNotFound.
func (s *CustodyStore) GetTransaction(ctx context.Context, id string) (domain.CustodyTransaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+custodyColumns+` FROM custody_transactions WHERE id = $1`, id)

	t, err := scanCustody(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CustodyTransaction{}, domain.ErrNotFound
		}
		return domain.CustodyTransaction{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return t, nil
}

// GetByPredictionID returns the custody transaction linked to a prediction.
func (s *CustodyStore) GetByPredictionID(ctx context.Context, predictionID string) (domain.CustodyTransaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+custodyColumns+` FROM custody_transactions
		 WHERE prediction_id = $1 AND tx_type = 'predict'`, predictionID)

	t, err := scanCustody(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CustodyTransaction{}, domain.ErrNotFound
		}
		return domain.CustodyTransaction{}, fmt.Errorf("postgres: get transaction for prediction %s: %w", predictionID, err)
	}
	return t, nil
}

// ListByUser returns a user's custody transactions, newest first.
func (s *CustodyStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.CustodyTransaction, error) {
	return s.list(ctx, `WHERE user_id = $1`, []any{userID}, opts)
}

// ListByMarket returns a market's custody transactions, newest first.
func (s *CustodyStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.CustodyTransaction, error) {
	return s.list(ctx, `WHERE market_id = $1`, []any{marketID}, opts)
}

// ListUserClaims returns all of a user's claim-reward transactions.
func (s *CustodyStore) ListUserClaims(ctx context.Context, userID string) ([]domain.CustodyTransaction, error) {
	return s.list(ctx,
		`WHERE user_id = $1 AND tx_type = 'claim-reward'`,
		[]any{userID}, domain.ListOpts{})
}

// ListClaimsReferencing returns claim transactions that reference the given
// on-chain id through either the nonce or the legacy receipt id field.
func (s *CustodyStore) ListClaimsReferencing(ctx context.Context, nftID string) ([]domain.CustodyTransaction, error) {
	return s.list(ctx,
		`WHERE tx_type = 'claim-reward' AND (nonce = $1 OR receipt_id = $1)`,
		[]any{nftID}, domain.ListOpts{})
}

// ListPendingPredictions returns pending predict transactions regardless of
// age, optionally restricted to one market.
func (s *CustodyStore) ListPendingPredictions(ctx context.Context, marketID string) ([]domain.CustodyTransaction, error) {
	where := `WHERE tx_type = 'predict' AND status = 'pending'`
	args := []any{}
	if marketID != "" {
		where += ` AND market_id = $1`
		args = append(args, marketID)
	}
	return s.list(ctx, where, args, domain.ListOpts{})
}

// CountPendingPredictions counts pending predict transactions, optionally
// restricted to one market.
func (s *CustodyStore) CountPendingPredictions(ctx context.Context, marketID string) (int64, error) {
	query := `SELECT COUNT(*) FROM custody_transactions
	          WHERE tx_type = 'predict' AND status = 'pending'`
	args := []any{}
	if marketID != "" {
		query += ` AND market_id = $1`
		args = append(args, marketID)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count pending predictions: %w", err)
	}
	return count, nil
}

// ListPendingClaims returns pending claim-reward transactions taken into
// custody before the cutoff, oldest first.
func (s *CustodyStore) ListPendingClaims(ctx context.Context, before time.Time) ([]domain.CustodyTransaction, error) {
	return s.list(ctx,
		`WHERE tx_type = 'claim-reward' AND status = 'pending' AND taken_custody_at < $1`,
		[]any{before}, domain.ListOpts{})
}

// ListSettledBefore returns transactions in a terminal custody state taken
// into custody before the cutoff. Used by the archiver.
func (s *CustodyStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.CustodyTransaction, error) {
	return s.list(ctx,
		`WHERE status IN ('confirmed', 'rejected') AND taken_custody_at < $1`,
		[]any{before}, domain.ListOpts{})
}

// UpdateStatus sets the custody-axis status.
func (s *CustodyStore) UpdateStatus(ctx context.Context, id string, status domain.CustodyStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE custody_transactions SET status = $2 WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update transaction %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateBlockchainStatus sets the blockchain-axis status.
func (s *CustodyStore) UpdateBlockchainStatus(ctx context.Context, id string, status domain.BlockchainStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE custody_transactions SET blockchain_status = $2 WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update transaction %s blockchain status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkVerified records when the transaction's signature was verified.
func (s *CustodyStore) MarkVerified(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE custody_transactions SET verified_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark transaction %s verified: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a custody transaction.
func (s *CustodyStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM custody_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReturnPrediction cancels a pending predict transaction: refund the stake,
// reverse the market aggregates, delete the prediction (cascading to its
// receipt), and delete the transaction itself. The pending status and the
// return window are re-checked under the transaction so a concurrent batch
// submission cannot race a return.
func (s *CustodyStore) ReturnPrediction(ctx context.Context, txID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin return: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+custodyColumns+` FROM custody_transactions
		 WHERE id = $1 FOR UPDATE`, txID)

	t, err := scanCustody(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: load transaction %s for return: %w", txID, err)
	}

	now := time.Now().UTC()
	if t.Status != domain.CustodyStatusPending {
		return domain.ErrNotPending
	}
	if !t.Returnable(now) {
		return domain.ErrReturnWindowExpired
	}

	// Refund the stake.
	const refund = `
		UPDATE user_balances SET
			available_balance = available_balance + $2,
			in_predictions    = GREATEST(in_predictions - $2, 0),
			updated_at        = NOW()
		WHERE user_id = $1`
	if _, err := tx.Exec(ctx, refund, t.UserID, t.Amount); err != nil {
		return fmt.Errorf("postgres: refund balance for %s: %w", t.UserID, err)
	}

	// Reverse the market aggregates.
	if err := applyMarketAggregates(ctx, tx, t.MarketID, t.OutcomeID, -t.Amount, -1); err != nil {
		return err
	}

	// Delete prediction (receipt cascades) and the transaction.
	if t.PredictionID != "" {
		if _, err := tx.Exec(ctx,
			`DELETE FROM predictions WHERE id = $1`, t.PredictionID); err != nil {
			return fmt.Errorf("postgres: delete prediction %s on return: %w", t.PredictionID, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM custody_transactions WHERE id = $1`, txID); err != nil {
		return fmt.Errorf("postgres: delete transaction %s on return: %w", txID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit return %s: %w", txID, err)
	}
	return nil
}

// applyMarketAggregates adjusts the outcome and market aggregates by the given
// deltas. Negative deltas reverse a prediction's contribution.
func applyMarketAggregates(ctx context.Context, tx pgx.Tx, marketID string, outcomeID int, amountDelta float64, voteDelta int) error {
	const outcomeQuery = `
		UPDATE market_outcomes SET
			votes  = votes + $3,
			amount = amount + $4
		WHERE market_id = $1 AND outcome_id = $2`

	tag, err := tx.Exec(ctx, outcomeQuery, marketID, outcomeID, voteDelta, amountDelta)
	if err != nil {
		return fmt.Errorf("postgres: update outcome aggregates for %s/%d: %w", marketID, outcomeID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOutcomeNotFound
	}

	const marketQuery = `
		UPDATE markets SET
			pool_amount  = pool_amount + $2,
			participants = participants + $3,
			updated_at   = NOW()
		WHERE id = $1`
	if _, err := tx.Exec(ctx, marketQuery, marketID, amountDelta, voteDelta); err != nil {
		return fmt.Errorf("postgres: update market aggregates for %s: %w", marketID, err)
	}
	return nil
}

// insertCustody writes a custody transaction row inside the given tx.
func insertCustody(ctx context.Context, tx pgx.Tx, t domain.CustodyTransaction) error {
	const query = `
		INSERT INTO custody_transactions (
			id, user_id, tx_type, signature, nonce, signer, subnet_id,
			market_id, outcome_id, amount, receipt_id, prediction_id,
			status, blockchain_status, taken_custody_at, verified_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`

	marketID := nullString(t.MarketID)
	receiptID := nullString(t.ReceiptID)
	predictionID := nullString(t.PredictionID)

	_, err := tx.Exec(ctx, query,
		t.ID, t.UserID, string(t.Type), t.Signature, t.Nonce, t.Signer, t.SubnetID,
		marketID, t.OutcomeID, t.Amount, receiptID, predictionID,
		string(t.Status), string(t.BlockchainStatus), t.TakenCustodyAt, t.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *CustodyStore) list(ctx context.Context, where string, args []any, opts domain.ListOpts) ([]domain.CustodyTransaction, error) {
	query := `SELECT ` + custodyColumns + ` FROM custody_transactions ` + where +
		` ORDER BY taken_custody_at DESC`
	argIdx := len(args) + 1

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
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.CustodyTransaction
	for rows.Next() {
		t, err := scanCustody(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transaction rows: %w", err)
	}
	return txs, nil
}

// scanCustody scans a single custody transaction row.
func scanCustody(row pgx.Row) (domain.CustodyTransaction, error) {
	var t domain.CustodyTransaction
	var txType, status, chainStatus string
	var marketID, receiptID, predictionID *string
	var outcomeID *int
	var amount *float64

	err := row.Scan(
		&t.ID, &t.UserID, &txType, &t.Signature, &t.Nonce, &t.Signer, &t.SubnetID,
		&marketID, &outcomeID, &amount, &receiptID, &predictionID,
		&status, &chainStatus, &t.TakenCustodyAt, &t.VerifiedAt,
	)
	if err != nil {
		return domain.CustodyTransaction{}, err
	}

	t.Type = domain.TransactionType(txType)
	t.Status = domain.CustodyStatus(status)
	t.BlockchainStatus = domain.BlockchainStatus(chainStatus)
	if marketID != nil {
		t.MarketID = *marketID
	}
	if outcomeID != nil {
		t.OutcomeID = *outcomeID
	}
	if amount != nil {
		t.Amount = *amount
	}
	if receiptID != nil {
		t.ReceiptID = *receiptID
	}
	if predictionID != nil {
		t.PredictionID = *predictionID
	}
	return t, nil
}

// nullString maps "" to NULL for nullable text columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ domain.CustodyStore = (*CustodyStore)(nil)

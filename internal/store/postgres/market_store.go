package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Create inserts a market together with its outcomes in a single transaction.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertMarket = `
		INSERT INTO markets (
			id, name, description, category, pool_amount, participants,
			status, end_date, resolved_outcome_id, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`

	_, err = tx.Exec(ctx, insertMarket,
		m.ID, m.Name, m.Description, m.Category, m.PoolAmount, m.Participants,
		string(m.Status), m.EndDate, m.ResolvedOutcomeID, m.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}

	const insertOutcome = `
		INSERT INTO market_outcomes (market_id, outcome_id, name, votes, amount)
		VALUES ($1, $2, $3, $4, $5)`
	for _, o := range m.Outcomes {
		if _, err := tx.Exec(ctx, insertOutcome, m.ID, o.ID, o.Name, o.Votes, o.Amount); err != nil {
			return fmt.Errorf("postgres: insert outcome %d for market %s: %w", o.ID, m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market %s: %w", m.ID, err)
	}
	return nil
}

const marketColumns = `
	id, name, description, category, pool_amount, participants,
	status, end_date, resolved_outcome_id, created_by, created_at, updated_at`

// GetByID returns a market with its outcomes, or domain.ErrNotFound.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}

	if err := s.attachOutcomes(ctx, &m); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// List returns markets matching the filter, newest first.
func (s *MarketStore) List(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, filter.Category)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if err := s.attachOutcomes(ctx, &markets[i]); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

// ListRelated returns other active markets in the same category as the given
// market, newest first.
func (s *MarketStore) ListRelated(ctx context.Context, id string, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 4
	}

	const query = `
		SELECT ` + marketColumns + `
		FROM markets
		WHERE id != $1
		  AND status = 'active'
		  AND category = (SELECT category FROM markets WHERE id = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list related markets for %s: %w", id, err)
	}
	defer rows.Close()

	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if err := s.attachOutcomes(ctx, &markets[i]); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

// ListClosedBefore returns resolved or cancelled markets whose end date is
// before the cutoff. Used by the archiver.
func (s *MarketStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Market, error) {
	const query = `
		SELECT ` + marketColumns + `
		FROM markets
		WHERE status IN ('resolved', 'cancelled') AND end_date < $1
		ORDER BY end_date`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed markets: %w", err)
	}
	defer rows.Close()

	markets, err := scanMarkets(rows)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if err := s.attachOutcomes(ctx, &markets[i]); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

// Update rewrites the market's mutable fields and outcome names.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update market: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE markets SET
			name = $2, description = $3, category = $4, status = $5,
			end_date = $6, updated_at = NOW()
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		m.ID, m.Name, m.Description, m.Category, string(m.Status), m.EndDate,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	const outcomeQuery = `
		UPDATE market_outcomes SET name = $3
		WHERE market_id = $1 AND outcome_id = $2`
	for _, o := range m.Outcomes {
		if _, err := tx.Exec(ctx, outcomeQuery, m.ID, o.ID, o.Name); err != nil {
			return fmt.Errorf("postgres: update outcome %d for market %s: %w", o.ID, m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update market %s: %w", m.ID, err)
	}
	return nil
}

// Delete removes a market and, via cascade, its outcomes.
func (s *MarketStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM markets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve marks an active market resolved with the winning outcome.
func (s *MarketStore) Resolve(ctx context.Context, id string, outcomeID int) error {
	const query = `
		UPDATE markets SET
			status = 'resolved', resolved_outcome_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, id, outcomeID)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or not active; disambiguate for the caller.
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM markets WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: resolve market %s status check: %w", id, err)
		}
		return domain.ErrMarketNotActive
	}
	return nil
}

// Count returns the number of markets matching the filter.
func (s *MarketStore) Count(ctx context.Context, filter domain.MarketFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, filter.Category)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// attachOutcomes loads and attaches the market's outcomes in id order.
func (s *MarketStore) attachOutcomes(ctx context.Context, m *domain.Market) error {
	const query = `
		SELECT outcome_id, name, votes, amount
		FROM market_outcomes
		WHERE market_id = $1
		ORDER BY outcome_id`

	rows, err := s.pool.Query(ctx, query, m.ID)
	if err != nil {
		return fmt.Errorf("postgres: load outcomes for market %s: %w", m.ID, err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.Name, &o.Votes, &o.Amount); err != nil {
			return fmt.Errorf("postgres: scan outcome for market %s: %w", m.ID, err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: outcomes rows for market %s: %w", m.ID, err)
	}
	m.Outcomes = outcomes
	return nil
}

// scanMarket scans a single market row (without outcomes).
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.Name, &m.Description, &m.Category,
		&m.PoolAmount, &m.Participants,
		&status, &m.EndDate, &m.ResolvedOutcomeID, &m.CreatedBy,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// scanMarkets scans all market rows (without outcomes).
func scanMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL. Accuracy is
// derived at read time from the stored counters rather than persisted.
type StatsStore struct {
	pool *pgxpool.Pool
}

// NewStatsStore creates a new StatsStore backed by the given pool.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

const statsColumns = `
	user_id, total_predictions, correct_predictions,
	total_amount, total_earnings, last_updated`

// Get returns a user's stats or domain.ErrNotFound.
func (s *StatsStore) Get(ctx context.Context, userID string) (domain.UserStats, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+statsColumns+` FROM user_stats WHERE user_id = $1`, userID)

	st, err := scanStats(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserStats{}, domain.ErrNotFound
		}
		return domain.UserStats{}, fmt.Errorf("postgres: get stats %s: %w", userID, err)
	}
	return st, nil
}

// Leaderboard ranks users by total earnings, then accuracy.
func (s *StatsStore) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return s.ranked(ctx, `
		ORDER BY total_earnings DESC,
		         correct_predictions::float / GREATEST(total_predictions, 1) DESC`, limit)
}

// TopEarners ranks users by total earnings.
func (s *StatsStore) TopEarners(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return s.ranked(ctx, `ORDER BY total_earnings DESC`, limit)
}

// TopAccuracy ranks users by hit rate; users with fewer than five settled
// predictions are excluded so a single lucky hit does not top the board.
func (s *StatsStore) TopAccuracy(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return s.ranked(ctx, `
		WHERE total_predictions >= 5
		ORDER BY correct_predictions::float / GREATEST(total_predictions, 1) DESC`, limit)
}

func (s *StatsStore) ranked(ctx context.Context, tail string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + statsColumns + ` FROM user_stats ` + tail + ` LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard query: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	rank := 1
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stats: %w", err)
		}
		entries = append(entries, domain.LeaderboardEntry{Rank: rank, Stats: st})
		rank++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: leaderboard rows: %w", err)
	}
	return entries, nil
}

// RecordNewPrediction bumps the user's prediction counters.
func (s *StatsStore) RecordNewPrediction(ctx context.Context, userID string, amount float64) error {
	const query = `
		INSERT INTO user_stats (user_id, total_predictions, total_amount, last_updated)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_predictions = user_stats.total_predictions + 1,
			total_amount      = user_stats.total_amount + $2,
			last_updated      = NOW()`

	if _, err := s.pool.Exec(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("postgres: record new prediction for %s: %w", userID, err)
	}
	return nil
}

// RecordResolvedPrediction records a settlement outcome and its earnings
// (payout minus stake; negative for a loss).
func (s *StatsStore) RecordResolvedPrediction(ctx context.Context, userID string, won bool, earnings float64) error {
	correct := 0
	if won {
		correct = 1
	}

	const query = `
		INSERT INTO user_stats (user_id, correct_predictions, total_earnings, last_updated)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			correct_predictions = user_stats.correct_predictions + $2,
			total_earnings      = user_stats.total_earnings + $3,
			last_updated        = NOW()`

	if _, err := s.pool.Exec(ctx, query, userID, correct, earnings); err != nil {
		return fmt.Errorf("postgres: record resolved prediction for %s: %w", userID, err)
	}
	return nil
}

// scanStats scans a stats row and derives the accuracy field.
func scanStats(row pgx.Row) (domain.UserStats, error) {
	var st domain.UserStats
	err := row.Scan(
		&st.UserID, &st.TotalPredictions, &st.CorrectPredictions,
		&st.TotalAmount, &st.TotalEarnings, &st.LastUpdated,
	)
	if err != nil {
		return domain.UserStats{}, err
	}
	if st.TotalPredictions > 0 {
		st.Accuracy = float64(st.CorrectPredictions) / float64(st.TotalPredictions)
	}
	return st, nil
}

// Compile-time interface check.
var _ domain.StatsStore = (*StatsStore)(nil)

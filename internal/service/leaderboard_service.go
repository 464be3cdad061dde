package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// Leaderboard names accepted by LeaderboardService.Board.
const (
	BoardTop      = "top"
	BoardEarners  = "earners"
	BoardAccuracy = "accuracy"
)

// LeaderboardService serves ranked leaderboard views with a cache in front
// of the stats store.
type LeaderboardService struct {
	stats  domain.StatsStore
	boards domain.LeaderboardCache
	logger *slog.Logger
}

// NewLeaderboardService creates a LeaderboardService.
func NewLeaderboardService(stats domain.StatsStore, boards domain.LeaderboardCache, logger *slog.Logger) *LeaderboardService {
	return &LeaderboardService{stats: stats, boards: boards, logger: logger}
}

// Board returns the named leaderboard, cache-aside.
func (s *LeaderboardService) Board(ctx context.Context, board string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	if entries, err := s.boards.Get(ctx, board); err == nil && len(entries) >= limit {
		return entries[:limit], nil
	}

	var (
		entries []domain.LeaderboardEntry
		err     error
	)
	switch board {
	case BoardTop:
		entries, err = s.stats.Leaderboard(ctx, limit)
	case BoardEarners:
		entries, err = s.stats.TopEarners(ctx, limit)
	case BoardAccuracy:
		entries, err = s.stats.TopAccuracy(ctx, limit)
	default:
		return nil, fmt.Errorf("leaderboard_service: %w: unknown board %q", domain.ErrValidation, board)
	}
	if err != nil {
		return nil, fmt.Errorf("leaderboard_service: %s: %w", board, err)
	}

	if cacheErr := s.boards.Set(ctx, board, entries); cacheErr != nil {
		s.logger.WarnContext(ctx, "leaderboard_service: cache set failed",
			slog.String("board", board),
			slog.String("error", cacheErr.Error()),
		)
	}

	return entries, nil
}

// UserStats returns one user's aggregate stats. Public: the leaderboard
// already exposes them.
func (s *LeaderboardService) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats, err := s.stats.Get(ctx, userID)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("leaderboard_service: stats for %s: %w", userID, err)
	}
	return stats, nil
}

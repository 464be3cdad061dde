package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opwisdom/wisdomd/internal/domain"
)

const leaderboardTTL = 60 * time.Second

// LeaderboardCache implements domain.LeaderboardCache. Boards are cached as
// JSON arrays under a common prefix so InvalidateAll can sweep every ranking
// after a market resolves.
//
// Key schema:
//
//	leaderboard:{board} - JSON array of domain.LeaderboardEntry
type LeaderboardCache struct {
	rdb *redis.Client
}

// NewLeaderboardCache creates a LeaderboardCache backed by the given Client.
func NewLeaderboardCache(c *Client) *LeaderboardCache {
	return &LeaderboardCache{rdb: c.Underlying()}
}

func leaderboardKey(board string) string { return "leaderboard:" + board }

// Set stores a ranked board with a short TTL.
func (lc *LeaderboardCache) Set(ctx context.Context, board string, entries []domain.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("redis: marshal leaderboard %s: %w", board, err)
	}

	if err := lc.rdb.Set(ctx, leaderboardKey(board), data, leaderboardTTL).Err(); err != nil {
		return fmt.Errorf("redis: set leaderboard %s: %w", board, err)
	}
	return nil
}

// Get retrieves a cached board. It returns domain.ErrNotFound on a miss.
func (lc *LeaderboardCache) Get(ctx context.Context, board string) ([]domain.LeaderboardEntry, error) {
	data, err := lc.rdb.Get(ctx, leaderboardKey(board)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get leaderboard %s: %w", board, err)
	}

	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("redis: unmarshal leaderboard %s: %w", board, err)
	}
	return entries, nil
}

// Invalidate removes one cached board.
func (lc *LeaderboardCache) Invalidate(ctx context.Context, board string) error {
	if err := lc.rdb.Del(ctx, leaderboardKey(board)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate leaderboard %s: %w", board, err)
	}
	return nil
}

// InvalidateAll removes every cached board.
func (lc *LeaderboardCache) InvalidateAll(ctx context.Context) error {
	iter := lc.rdb.Scan(ctx, 0, leaderboardKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := lc.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis: invalidate leaderboard key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan leaderboard keys: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LeaderboardCache = (*LeaderboardCache)(nil)

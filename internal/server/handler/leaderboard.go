package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// LeaderboardReader serves ranked stats views.
type LeaderboardReader interface {
	Board(ctx context.Context, board string, limit int) ([]domain.LeaderboardEntry, error)
	UserStats(ctx context.Context, userID string) (domain.UserStats, error)
}

// LeaderboardHandler serves public leaderboard endpoints.
type LeaderboardHandler struct {
	boards LeaderboardReader
	logger *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(boards LeaderboardReader, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{boards: boards, logger: logger}
}

// GetBoard returns a named leaderboard.
// GET /api/leaderboard/{board}?limit=25
func (h *LeaderboardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	board := pathParam(r, "board")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	entries, err := h.boards.Board(r.Context(), board, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: leaderboard failed",
			slog.String("board", board),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"board": board, "entries": entries})
}

// GetUserStats returns one user's aggregate stats.
// GET /api/users/{user}/stats
func (h *LeaderboardHandler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.boards.UserStats(r.Context(), pathParam(r, "user"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

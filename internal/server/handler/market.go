package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// MarketReader defines the read methods the market handler requires from the
// service layer. Declared locally so the handler package does not depend on
// the concrete service implementation.
type MarketReader interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error)
	RelatedMarkets(ctx context.Context, id string, limit int) ([]domain.Market, error)
	Odds(ctx context.Context, id string) (map[int]float64, error)
}

// MarketPredictionLister serves public prediction reads on a market.
type MarketPredictionLister interface {
	ListMarketPredictions(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error)
}

// MarketHandler serves public market endpoints.
type MarketHandler struct {
	markets     MarketReader
	predictions MarketPredictionLister
	logger      *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketReader, predictions MarketPredictionLister, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, predictions: predictions, logger: logger}
}

// listMarketsResponse wraps the list endpoint output with paging metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets with optional status and category filters.
// GET /api/markets?status=active&category=sports&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	filter := domain.MarketFilter{
		Status:   domain.MarketStatus(r.URL.Query().Get("status")),
		Category: r.URL.Query().Get("category"),
	}

	markets, err := h.markets.ListMarkets(r.Context(), filter, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetOdds returns the current payout multiplier per outcome.
// GET /api/markets/{id}/odds
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	odds, err := h.markets.Odds(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Keyed by outcome id as a string for JSON clients.
	out := make(map[string]float64, len(odds))
	for outcomeID, multiplier := range odds {
		out[strconv.Itoa(outcomeID)] = multiplier
	}
	writeJSON(w, http.StatusOK, map[string]any{"marketId": id, "odds": out})
}

// GetRelated returns other active markets in the same category.
// GET /api/markets/{id}/related?limit=5
func (h *MarketHandler) GetRelated(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	markets, err := h.markets.RelatedMarkets(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// ListPredictions returns predictions placed on a market.
// GET /api/markets/{id}/predictions
func (h *MarketHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	preds, err := h.predictions.ListMarketPredictions(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": preds})
}

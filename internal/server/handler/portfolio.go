package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/service"
)

// PortfolioReader serves user position and receipt reads.
type PortfolioReader interface {
	GetPortfolio(ctx context.Context, id domain.Identity, userID string, opts domain.ListOpts) (service.Portfolio, error)
	GetPrediction(ctx context.Context, id domain.Identity, predictionID string) (domain.Prediction, error)
	GetReceipt(ctx context.Context, id domain.Identity, receiptID string) (domain.NFTReceipt, error)
}

// BalanceReader serves balance reads.
type BalanceReader interface {
	GetBalance(ctx context.Context, id domain.Identity, userID string) (domain.UserBalance, error)
}

// PortfolioHandler serves per-user position endpoints. All routes sit behind
// RequireAuth.
type PortfolioHandler struct {
	portfolio PortfolioReader
	balances  BalanceReader
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler.
func NewPortfolioHandler(portfolio PortfolioReader, balances BalanceReader, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, balances: balances, logger: logger}
}

// targetUser resolves the subject user for a request: the {user} path
// parameter when present, otherwise the caller.
func targetUser(r *http.Request) string {
	if u := pathParam(r, "user"); u != "" {
		return u
	}
	return identity(r).UserID
}

// GetPortfolio returns the user's balance and positions.
// GET /api/users/{user}/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := h.portfolio.GetPortfolio(r.Context(), identity(r), targetUser(r), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// GetBalance returns the user's fund buckets, creating the account on first
// touch.
// GET /api/users/{user}/balance
func (h *PortfolioHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.balances.GetBalance(r.Context(), identity(r), targetUser(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetPrediction returns one prediction.
// GET /api/predictions/{id}
func (h *PortfolioHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := h.portfolio.GetPrediction(r.Context(), identity(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetReceipt returns an NFT receipt.
// GET /api/receipts/{id}
func (h *PortfolioHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := h.portfolio.GetReceipt(r.Context(), identity(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/server/middleware"
	"github.com/opwisdom/wisdomd/internal/service"
)

// CustodyOrchestrator defines the custody operations the handler exposes.
type CustodyOrchestrator interface {
	CreatePredictionWithCustody(ctx context.Context, id domain.Identity, req service.PredictionRequest) (domain.CustodyResult, error)
	ClaimRewardWithCustody(ctx context.Context, id domain.Identity, req service.ClaimRequest) (domain.CustodyTransaction, error)
	CanClaimReward(ctx context.Context, id domain.Identity, predictionID string) (bool, error)
	ReturnPrediction(ctx context.Context, id domain.Identity, txID string) error
	CheckReturnable(ctx context.Context, id domain.Identity, txIDs []string) (map[string]bool, error)
	GetTransaction(ctx context.Context, id domain.Identity, txID string) (domain.CustodyTransaction, error)
	ListUserTransactions(ctx context.Context, id domain.Identity, userID string, opts domain.ListOpts) ([]domain.CustodyTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id domain.Identity, txID string, status domain.CustodyStatus) error
}

// CustodyHandler serves the custody lifecycle endpoints. Every route here
// sits behind RequireAuth, so the identity is always on the context.
type CustodyHandler struct {
	custody CustodyOrchestrator
	logger  *slog.Logger
}

// NewCustodyHandler creates a CustodyHandler.
func NewCustodyHandler(custody CustodyOrchestrator, logger *slog.Logger) *CustodyHandler {
	return &CustodyHandler{custody: custody, logger: logger}
}

// identity pulls the authenticated identity off the request context. The
// auth middleware guarantees it is present on protected routes.
func identity(r *http.Request) domain.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

// CreatePrediction places a prediction and takes custody of the signed
// transaction.
// POST /api/predictions
func (h *CustodyHandler) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req service.PredictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.custody.CreatePredictionWithCustody(r.Context(), identity(r), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create prediction failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// ClaimReward claims the payout on a won prediction.
// POST /api/predictions/{id}/claim
func (h *CustodyHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	var req service.ClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PredictionID = pathParam(r, "id")

	tx, err := h.custody.ClaimRewardWithCustody(r.Context(), identity(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CanClaim reports whether the prediction is currently claimable.
// GET /api/predictions/{id}/can-claim
func (h *CustodyHandler) CanClaim(w http.ResponseWriter, r *http.Request) {
	claimable, err := h.custody.CanClaimReward(r.Context(), identity(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"claimable": claimable})
}

// ReturnPrediction cancels a pending prediction inside the return window.
// POST /api/transactions/{id}/return
func (h *CustodyHandler) ReturnPrediction(w http.ResponseWriter, r *http.Request) {
	if err := h.custody.ReturnPrediction(r.Context(), identity(r), pathParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "returned"})
}

type returnableRequest struct {
	TransactionIDs []string `json:"transactionIds"`
}

// CheckReturnable reports returnability for a batch of transaction ids.
// POST /api/transactions/returnable
func (h *CustodyHandler) CheckReturnable(w http.ResponseWriter, r *http.Request) {
	var req returnableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.TransactionIDs) == 0 || len(req.TransactionIDs) > 100 {
		writeError(w, http.StatusBadRequest, "transactionIds must contain 1-100 ids")
		return
	}

	out, err := h.custody.CheckReturnable(r.Context(), identity(r), req.TransactionIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returnable": out})
}

// GetTransaction returns one custody transaction.
// GET /api/transactions/{id}
func (h *CustodyHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.custody.GetTransaction(r.Context(), identity(r), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListTransactions returns the caller's custody transactions.
// GET /api/transactions
func (h *CustodyHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = id.UserID
	}

	txs, err := h.custody.ListUserTransactions(r.Context(), id, userID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// ListUserTransactions returns a specific user's custody transactions.
// GET /api/users/{user}/transactions
func (h *CustodyHandler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.custody.ListUserTransactions(r.Context(), identity(r), pathParam(r, "user"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

// UpdateStatus moves a transaction along the custody axis.
// PATCH /api/transactions/{id}/status
func (h *CustodyHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := domain.CustodyStatus(req.Status)
	switch status {
	case domain.CustodyStatusSubmitted, domain.CustodyStatusConfirmed, domain.CustodyStatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "invalid target status")
		return
	}

	if err := h.custody.UpdateTransactionStatus(r.Context(), identity(r), pathParam(r, "id"), status); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

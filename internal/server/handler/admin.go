package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/opwisdom/wisdomd/internal/batch"
	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/service"
)

// MarketAdmin covers the privileged market lifecycle operations.
type MarketAdmin interface {
	CreateMarket(ctx context.Context, id domain.Identity, in service.MarketInput) (domain.Market, error)
	UpdateMarket(ctx context.Context, id domain.Identity, marketID string, in service.MarketInput) (domain.Market, error)
	DeleteMarket(ctx context.Context, id domain.Identity, marketID string) error
	ResolveMarket(ctx context.Context, id domain.Identity, marketID string, outcomeID int) error
}

// RoleGranter persists role changes.
type RoleGranter interface {
	Grant(ctx context.Context, userID string, role domain.Role) error
}

// BatchRunner triggers batch submission passes.
type BatchRunner interface {
	ProcessAll(ctx context.Context) ([]batch.Result, error)
	ProcessMarket(ctx context.Context, marketID string) (batch.Result, error)
}

// ChainSyncer triggers reconciliation passes against the chain.
type ChainSyncer interface {
	ReconcileClaims(ctx context.Context) error
	SyncMarkets(ctx context.Context) error
}

// BugReportTriager covers admin-side bug report operations.
type BugReportTriager interface {
	List(ctx context.Context, id domain.Identity, opts domain.ListOpts) ([]domain.BugReport, error)
	UpdateStatus(ctx context.Context, id domain.Identity, reportID string, status domain.BugReportStatus) error
}

// AdminHandler serves the admin surface. Every route sits behind
// RequireAdmin, so handlers only re-check ownership-level rules, not the
// role itself.
type AdminHandler struct {
	markets  MarketAdmin
	roles    RoleGranter
	batch    BatchRunner
	syncer   ChainSyncer
	archiver domain.Archiver
	audit    domain.AuditStore
	reports  BugReportTriager
	custody  domain.CustodyStore
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	markets MarketAdmin,
	roles RoleGranter,
	batchRunner BatchRunner,
	syncer ChainSyncer,
	archiver domain.Archiver,
	audit domain.AuditStore,
	reports BugReportTriager,
	custody domain.CustodyStore,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		markets:  markets,
		roles:    roles,
		batch:    batchRunner,
		syncer:   syncer,
		archiver: archiver,
		audit:    audit,
		reports:  reports,
		custody:  custody,
		logger:   logger,
	}
}

// CreateMarket creates a new market.
// POST /api/admin/markets
func (h *AdminHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var in service.MarketInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), identity(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// UpdateMarket updates an active market's editable fields.
// PUT /api/admin/markets/{id}
func (h *AdminHandler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	var in service.MarketInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.markets.UpdateMarket(r.Context(), identity(r), pathParam(r, "id"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMarket removes a market with no predictions.
// DELETE /api/admin/markets/{id}
func (h *AdminHandler) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	if err := h.markets.DeleteMarket(r.Context(), identity(r), pathParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveRequest struct {
	OutcomeID int `json:"outcomeId"`
}

// ResolveMarket resolves a market and settles its predictions.
// POST /api/admin/markets/{id}/resolve
func (h *AdminHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.markets.ResolveMarket(r.Context(), identity(r), pathParam(r, "id"), req.OutcomeID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

type setAdminRequest struct {
	UserID string `json:"userId"`
	Revoke bool   `json:"revoke"`
}

// SetAdmin grants or revokes the admin role.
// POST /api/admin/set-admin
func (h *AdminHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	var req setAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role := domain.RoleAdmin
	if req.Revoke {
		role = domain.RoleUser
	}
	if err := h.roles.Grant(r.Context(), req.UserID, role); err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: role changed",
		slog.String("user_id", req.UserID),
		slog.String("role", string(role)),
		slog.String("by", identity(r).UserID),
	)
	writeJSON(w, http.StatusOK, map[string]string{"userId": req.UserID, "role": string(role)})
}

// TriggerBatch runs a batch submission pass, optionally restricted to one
// market, and reports how many pending transactions it drained.
// POST /api/admin/batch/trigger?market={id}
func (h *AdminHandler) TriggerBatch(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market")

	before, err := h.custody.CountPendingPredictions(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var results []batch.Result
	if marketID != "" {
		res, err := h.batch.ProcessMarket(r.Context(), marketID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		results = []batch.Result{res}
	} else {
		results, err = h.batch.ProcessAll(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	after, err := h.custody.CountPendingPredictions(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"processed": before - after,
		"pending":   after,
		"results":   results,
	})
}

// GetCustody returns any custody transaction regardless of owner.
// GET /api/admin/custody/{id}
func (h *AdminHandler) GetCustody(w http.ResponseWriter, r *http.Request) {
	tx, err := h.custody.GetTransaction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type custodyStatusRequest struct {
	Status string `json:"status"`
}

// SetCustodyStatus forces a custody status transition. The normal lifecycle
// rules still apply; this exists for manual intervention, not to bypass the
// state machine.
// POST /api/admin/custody/{id}/status
func (h *AdminHandler) SetCustodyStatus(w http.ResponseWriter, r *http.Request) {
	var req custodyStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target := domain.CustodyStatus(req.Status)
	switch target {
	case domain.CustodyStatusPending, domain.CustodyStatusSubmitted, domain.CustodyStatusConfirmed, domain.CustodyStatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	tx, err := h.custody.GetTransaction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !tx.CanTransition(target) {
		writeDomainError(w, domain.ErrInvalidTransition)
		return
	}
	if err := h.custody.UpdateStatus(r.Context(), tx.ID, target); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": tx.ID, "status": req.Status})
}

// PendingCount reports how many predict transactions are waiting for batch
// submission, optionally for a single market.
// GET /api/admin/pending?marketId={id}
func (h *AdminHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("marketId")
	count, err := h.custody.CountPendingPredictions(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marketId": marketID, "pending": count})
}

// TriggerSync runs a reconciliation pass against the chain.
// POST /api/admin/sync
func (h *AdminHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.ReconcileClaims(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.syncer.SyncMarkets(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

type archiveRequest struct {
	Before time.Time `json:"before"`
}

// TriggerArchive exports settled transactions and closed markets older than
// the cutoff to cold storage.
// POST /api/admin/archive
func (h *AdminHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archival is not configured")
		return
	}

	var req archiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Before.IsZero() {
		req.Before = time.Now().UTC().AddDate(0, 0, -90)
	}

	txCount, err := h.archiver.ArchiveTransactions(r.Context(), req.Before)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	marketCount, err := h.archiver.ArchiveMarkets(r.Context(), req.Before)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txCount,
		"markets":      marketCount,
	})
}

// ListAudit returns the audit log, newest first.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListBugReports returns filed bug reports.
// GET /api/admin/bugreports
func (h *AdminHandler) ListBugReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context(), identity(r), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

type bugStatusRequest struct {
	Status string `json:"status"`
}

// UpdateBugReport moves a bug report through triage.
// PATCH /api/admin/bugreports/{id}
func (h *AdminHandler) UpdateBugReport(w http.ResponseWriter, r *http.Request) {
	var req bugStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.reports.UpdateStatus(r.Context(), identity(r), pathParam(r, "id"), domain.BugReportStatus(req.Status))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

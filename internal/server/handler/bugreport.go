package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/service"
)

// BugReportFiler files user bug reports.
type BugReportFiler interface {
	File(ctx context.Context, id domain.Identity, in service.BugReportInput) (domain.BugReport, error)
}

// BugReportHandler serves the user-facing bug report endpoint. Triage lives
// on the admin surface.
type BugReportHandler struct {
	reports BugReportFiler
	logger  *slog.Logger
}

// NewBugReportHandler creates a BugReportHandler.
func NewBugReportHandler(reports BugReportFiler, logger *slog.Logger) *BugReportHandler {
	return &BugReportHandler{reports: reports, logger: logger}
}

// File records a new bug report from the caller.
// POST /api/bugreports
func (h *BugReportHandler) File(w http.ResponseWriter, r *http.Request) {
	var in service.BugReportInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.reports.File(r.Context(), identity(r), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

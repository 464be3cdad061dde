package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// BugReportInput carries the user-supplied fields of a bug report.
type BugReportInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

var validSeverities = map[string]bool{
	"low":      true,
	"medium":   true,
	"high":     true,
	"critical": true,
}

// BugReportService files and triages bug reports.
type BugReportService struct {
	reports domain.BugReportStore
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewBugReportService creates a BugReportService.
func NewBugReportService(reports domain.BugReportStore, bus domain.SignalBus, logger *slog.Logger) *BugReportService {
	return &BugReportService{reports: reports, bus: bus, logger: logger}
}

// File records a new bug report from the given user.
func (s *BugReportService) File(ctx context.Context, id domain.Identity, in BugReportInput) (domain.BugReport, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.BugReport{}, fmt.Errorf("bugreport_service: %w: title must not be empty", domain.ErrValidation)
	}
	severity := strings.ToLower(strings.TrimSpace(in.Severity))
	if severity == "" {
		severity = "medium"
	}
	if !validSeverities[severity] {
		return domain.BugReport{}, fmt.Errorf("bugreport_service: %w: unknown severity %q", domain.ErrValidation, in.Severity)
	}

	now := time.Now().UTC()
	r := domain.BugReport{
		ID:          uuid.NewString(),
		UserID:      id.UserID,
		Title:       title,
		Description: in.Description,
		Severity:    severity,
		Status:      domain.BugReportStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.reports.Create(ctx, r); err != nil {
		return domain.BugReport{}, fmt.Errorf("bugreport_service: file: %w", err)
	}

	if payload, err := json.Marshal(domain.Event{
		Type:      domain.EventBugReportFiled,
		EntityID:  r.ID,
		UserID:    id.UserID,
		Detail:    map[string]any{"severity": severity},
		Timestamp: now,
	}); err == nil {
		if err := s.bus.Publish(ctx, domain.ChannelBugReports, payload); err != nil {
			s.logger.WarnContext(ctx, "bugreport_service: publish failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return r, nil
}

// List returns bug reports. Admin only.
func (s *BugReportService) List(ctx context.Context, id domain.Identity, opts domain.ListOpts) ([]domain.BugReport, error) {
	if !id.IsAdmin() {
		return nil, fmt.Errorf("bugreport_service: list: %w", domain.ErrUnauthorized)
	}
	reports, err := s.reports.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("bugreport_service: list: %w", err)
	}
	return reports, nil
}

// UpdateStatus moves a report through triage. Admin only.
func (s *BugReportService) UpdateStatus(ctx context.Context, id domain.Identity, reportID string, status domain.BugReportStatus) error {
	if !id.IsAdmin() {
		return fmt.Errorf("bugreport_service: update: %w", domain.ErrUnauthorized)
	}
	switch status {
	case domain.BugReportStatusOpen, domain.BugReportStatusAcknowledged, domain.BugReportStatusClosed:
	default:
		return fmt.Errorf("bugreport_service: update: %w: unknown status %q", domain.ErrValidation, status)
	}
	if err := s.reports.UpdateStatus(ctx, reportID, status); err != nil {
		return fmt.Errorf("bugreport_service: update: %w", err)
	}
	return nil
}

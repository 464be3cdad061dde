package domain

import "time"

// BugReportStatus tracks triage of a user-filed bug report.
type BugReportStatus string

const (
	BugReportStatusOpen         BugReportStatus = "open"
	BugReportStatusAcknowledged BugReportStatus = "acknowledged"
	BugReportStatusClosed       BugReportStatus = "closed"
)

// BugReport is a user-filed issue exposed through the tool server.
type BugReport struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    string          `json:"severity"`
	Status      BugReportStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

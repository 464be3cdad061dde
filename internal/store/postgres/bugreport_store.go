package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// BugReportStore implements domain.BugReportStore using PostgreSQL.
type BugReportStore struct {
	pool *pgxpool.Pool
}

// NewBugReportStore creates a new BugReportStore backed by the given pool.
func NewBugReportStore(pool *pgxpool.Pool) *BugReportStore {
	return &BugReportStore{pool: pool}
}

const bugReportColumns = `
	id, user_id, title, description, severity, status, created_at, updated_at`

// Create inserts a bug report.
func (s *BugReportStore) Create(ctx context.Context, r domain.BugReport) error {
	const query = `
		INSERT INTO bug_reports (
			id, user_id, title, description, severity, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.UserID, r.Title, r.Description, r.Severity, string(r.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bug report %s: %w", r.ID, err)
	}
	return nil
}

// GetByID returns a bug report or domain.ErrNotFound.
func (s *BugReportStore) GetByID(ctx context.Context, id string) (domain.BugReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bugReportColumns+` FROM bug_reports WHERE id = $1`, id)

	r, err := scanBugReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BugReport{}, domain.ErrNotFound
		}
		return domain.BugReport{}, fmt.Errorf("postgres: get bug report %s: %w", id, err)
	}
	return r, nil
}

// List returns bug reports, newest first.
func (s *BugReportStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.BugReport, error) {
	query := `SELECT ` + bugReportColumns + ` FROM bug_reports ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bug reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.BugReport
	for rows.Next() {
		r, err := scanBugReport(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bug report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bug report rows: %w", err)
	}
	return reports, nil
}

// UpdateStatus sets a bug report's triage status.
func (s *BugReportStore) UpdateStatus(ctx context.Context, id string, status domain.BugReportStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bug_reports SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update bug report %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanBugReport(row pgx.Row) (domain.BugReport, error) {
	var r domain.BugReport
	var status string
	err := row.Scan(
		&r.ID, &r.UserID, &r.Title, &r.Description, &r.Severity, &status,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return domain.BugReport{}, err
	}
	r.Status = domain.BugReportStatus(status)
	return r, nil
}

// Compile-time interface check.
var _ domain.BugReportStore = (*BugReportStore)(nil)

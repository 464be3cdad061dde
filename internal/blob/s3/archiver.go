package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these through purpose-built time-ranged queries; the archiver only
// needs reads.
// ---------------------------------------------------------------------------

// TransactionArchiveStore provides read access to settled custody
// transactions for archival purposes.
type TransactionArchiveStore interface {
	// ListSettledBefore returns custody transactions in a terminal custody
	// state (confirmed or rejected) taken into custody strictly before the
	// cutoff.
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.CustodyTransaction, error)
}

// MarketArchiveStore provides read access to closed markets for archival.
type MarketArchiveStore interface {
	// ListClosedBefore returns resolved or cancelled markets whose end date
	// is strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Market, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for settled
// records, serializing them to JSONL, and uploading the result to S3. The
// export is an audit trail; deletion from the primary store is a separate,
// explicit step executed only after the archive has been verified.
type ArchiveImpl struct {
	writer       domain.BlobWriter
	transactions TransactionArchiveStore
	markets      MarketArchiveStore
	audit        domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	transactions TransactionArchiveStore,
	markets MarketArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:       writer,
		transactions: transactions,
		markets:      markets,
		audit:        audit,
	}
}

// ArchiveTransactions exports all settled custody transactions taken into
// custody before the cutoff and records the export in the audit log. It
// returns the number of archived records.
func (a *ArchiveImpl) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	txs, err := a.transactions.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled transactions: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	path := archivePath("custody-transactions", before)
	if err := a.uploadJSONL(ctx, path, len(txs), func(i int) any { return txs[i] }); err != nil {
		return 0, err
	}

	a.logArchive(ctx, "archive_transactions", path, len(txs), before)
	return int64(len(txs)), nil
}

// ArchiveMarkets exports all resolved or cancelled markets that ended before
// the cutoff and records the export in the audit log.
func (a *ArchiveImpl) ArchiveMarkets(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list closed markets: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	path := archivePath("markets", before)
	if err := a.uploadJSONL(ctx, path, len(markets), func(i int) any { return markets[i] }); err != nil {
		return 0, err
	}

	a.logArchive(ctx, "archive_markets", path, len(markets), before)
	return int64(len(markets)), nil
}

// uploadJSONL serializes n records (via the get accessor) to JSONL and
// uploads the buffer in one object.
func (a *ArchiveImpl) uploadJSONL(ctx context.Context, path string, n int, get func(int) any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < n; i++ {
		if err := enc.Encode(get(i)); err != nil {
			return fmt.Errorf("s3blob: encode archive record: %w", err)
		}
	}

	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload archive %s: %w", path, err)
	}
	return nil
}

// logArchive records the export in the audit log; failures are swallowed
// because the archive itself already succeeded.
func (a *ArchiveImpl) logArchive(ctx context.Context, event, path string, count int, before time.Time) {
	_ = a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"cutoff": before.UTC().Format(time.RFC3339),
	})
}

// archivePath builds the object key for an archive export, partitioned by
// cutoff date.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

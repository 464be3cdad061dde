package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows market list queries.
type MarketFilter struct {
	Status   MarketStatus
	Category string
}

// MarketStore persists markets and their outcome aggregates.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, filter MarketFilter, opts ListOpts) ([]Market, error)
	ListRelated(ctx context.Context, id string, limit int) ([]Market, error)
	Update(ctx context.Context, m Market) error
	Delete(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string, outcomeID int) error
	Count(ctx context.Context, filter MarketFilter) (int64, error)
}

// PredictionStore persists predictions and their NFT receipts.
type PredictionStore interface {
	GetByID(ctx context.Context, id string) (Prediction, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Prediction, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Prediction, error)
	UpdateStatus(ctx context.Context, id string, status PredictionStatus, potentialPayout float64) error
	Redeem(ctx context.Context, id string, payout float64) error
	Delete(ctx context.Context, id string) error
	GetReceipt(ctx context.Context, receiptID string) (NFTReceipt, error)
}

// PredictionIntent carries the validated inputs for taking custody of a new
// predict transaction.
type PredictionIntent struct {
	UserID      string
	MarketID    string
	MarketName  string
	OutcomeID   int
	OutcomeName string
	Amount      float64
	Signature   string
	Nonce       string
	Signer      string
	SubnetID    string
}

// ClaimIntent carries the validated inputs for taking custody of a new
// claim-reward transaction.
type ClaimIntent struct {
	UserID       string
	PredictionID string
	ReceiptID    string
	Signature    string
	Nonce        string
	Signer       string
	SubnetID     string
}

// CustodyResult is returned by custody-taking writes.
type CustodyResult struct {
	Transaction CustodyTransaction
	Prediction  Prediction
	Receipt     NFTReceipt
}

// CustodyStore persists custody transactions and owns the multi-table writes
// that must happen atomically with them (balance debit, prediction insert,
// receipt mint, market aggregate update).
type CustodyStore interface {
	// CreatePredictionWithCustody atomically debits the user's balance,
	// creates the prediction and its receipt, applies the market aggregates,
	// and records the pending custody transaction. Fails with
	// ErrInsufficientBalance without any side effect when funds are short.
	CreatePredictionWithCustody(ctx context.Context, intent PredictionIntent) (CustodyResult, error)

	// CreateClaimRewardWithCustody records a pending claim-reward
	// transaction. Fails with ErrAlreadyClaimed when an existing claim
	// references the same on-chain id through nonce or receipt id.
	CreateClaimRewardWithCustody(ctx context.Context, intent ClaimIntent) (CustodyTransaction, error)

	GetTransaction(ctx context.Context, id string) (CustodyTransaction, error)
	GetByPredictionID(ctx context.Context, predictionID string) (CustodyTransaction, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]CustodyTransaction, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]CustodyTransaction, error)
	ListUserClaims(ctx context.Context, userID string) ([]CustodyTransaction, error)
	ListClaimsReferencing(ctx context.Context, nftID string) ([]CustodyTransaction, error)

	// ListPendingPredictions returns pending predict transactions, optionally
	// restricted to one market (empty marketID means all markets).
	ListPendingPredictions(ctx context.Context, marketID string) ([]CustodyTransaction, error)
	CountPendingPredictions(ctx context.Context, marketID string) (int64, error)

	// ListPendingClaims returns pending claim-reward transactions taken into
	// custody before the cutoff. Used by the reconciler to verify optimistic
	// settlements against the chain.
	ListPendingClaims(ctx context.Context, before time.Time) ([]CustodyTransaction, error)

	UpdateStatus(ctx context.Context, id string, status CustodyStatus) error
	UpdateBlockchainStatus(ctx context.Context, id string, status BlockchainStatus) error
	MarkVerified(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error

	// ReturnPrediction atomically deletes the transaction, prediction, and
	// receipt, reverses the market aggregates, and refunds the balance. The
	// store re-checks the pending status and return window under the
	// transaction to guard against races.
	ReturnPrediction(ctx context.Context, txID string) error
}

// BalanceStore persists user balances.
type BalanceStore interface {
	Get(ctx context.Context, userID string) (UserBalance, error)
	// EnsureAccount creates the user's balance row with the given starting
	// funds when it does not exist yet.
	EnsureAccount(ctx context.Context, userID string, initial float64) (UserBalance, error)
	// ApplyResolution moves amount out of InPredictions and credits payout
	// to AvailableBalance. A zero payout settles a loss.
	ApplyResolution(ctx context.Context, userID string, amount, payout float64) error
}

// StatsStore persists user leaderboard statistics.
type StatsStore interface {
	Get(ctx context.Context, userID string) (UserStats, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	TopEarners(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	TopAccuracy(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	RecordNewPrediction(ctx context.Context, userID string, amount float64) error
	RecordResolvedPrediction(ctx context.Context, userID string, won bool, earnings float64) error
}

// EntityStore is a generic keyed-value escape hatch used by the reconciler to
// patch fields outside the normal store API paths.
type EntityStore interface {
	Put(ctx context.Context, kind, id string, value map[string]any) error
	Get(ctx context.Context, kind, id string) (map[string]any, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BugReportStore persists bug reports filed through the tool server.
type BugReportStore interface {
	Create(ctx context.Context, r BugReport) error
	GetByID(ctx context.Context, id string) (BugReport, error)
	List(ctx context.Context, opts ListOpts) ([]BugReport, error)
	UpdateStatus(ctx context.Context, id string, status BugReportStatus) error
}

// Package batch submits pending custody transactions to the settlement
// contract in per-market batches and reconciles optimistic settlements
// against the chain.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// Config holds batch processing parameters.
type Config struct {
	Interval      time.Duration
	MaxPerMarket  int
	LockTTL       time.Duration
	MinPending    int
	SubmitTimeout time.Duration
	// ReconcileAfter is how old a pending claim must be before the
	// reconciler checks it against the chain.
	ReconcileAfter time.Duration
}

// Result summarizes one per-market batch run.
type Result struct {
	MarketID  string `json:"marketId"`
	Pending   int    `json:"pending"`
	Confirmed int    `json:"confirmed"`
	Rejected  int    `json:"rejected"`
	Skipped   bool   `json:"skipped"`
	TxHash    string `json:"txHash,omitempty"`
}

// Processor drains pending predict transactions into on-chain batches. One
// market per batch; a distributed lock keeps concurrent instances from
// double-submitting the same market.
type Processor struct {
	custody domain.CustodyStore
	chain   domain.ChainClient
	locks   domain.LockManager
	bus     domain.SignalBus
	audit   domain.AuditStore
	cfg     Config
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(
	custody domain.CustodyStore,
	chain domain.ChainClient,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		custody: custody,
		chain:   chain,
		locks:   locks,
		bus:     bus,
		audit:   audit,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run processes batches on a ticker until ctx is done. The first pass runs
// immediately.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("batch processor starting",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("max_per_market", p.cfg.MaxPerMarket),
	)

	if _, err := p.ProcessAll(ctx); err != nil {
		p.logger.Error("batch pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("batch processor stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.ProcessAll(ctx); err != nil {
				p.logger.Error("batch pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ProcessAll groups all pending predict transactions by market and submits
// one batch per market. Markets are processed in a stable order; a failure
// on one market does not stop the rest.
func (p *Processor) ProcessAll(ctx context.Context) ([]Result, error) {
	pending, err := p.custody.ListPendingPredictions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("batch: listing pending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	byMarket := make(map[string]struct{})
	for _, tx := range pending {
		if tx.MarketID != "" {
			byMarket[tx.MarketID] = struct{}{}
		}
	}
	markets := make([]string, 0, len(byMarket))
	for id := range byMarket {
		markets = append(markets, id)
	}
	sort.Strings(markets)

	results := make([]Result, 0, len(markets))
	for _, marketID := range markets {
		res, err := p.ProcessMarket(ctx, marketID)
		if err != nil {
			p.logger.Error("batch: market failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// ProcessMarket submits one batch for a single market. Transactions that
// fail to reach the chain stay pending and are retried on the next pass.
// A held lock means another instance is already on it; the market is
// skipped without error.
func (p *Processor) ProcessMarket(ctx context.Context, marketID string) (Result, error) {
	unlock, err := p.locks.Acquire(ctx, "batch:market:"+marketID, p.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return Result{MarketID: marketID, Skipped: true}, nil
		}
		return Result{}, fmt.Errorf("batch: locking market %s: %w", marketID, err)
	}
	defer unlock()

	pending, err := p.custody.ListPendingPredictions(ctx, marketID)
	if err != nil {
		return Result{}, fmt.Errorf("batch: listing pending for %s: %w", marketID, err)
	}

	res := Result{MarketID: marketID, Pending: len(pending)}
	if len(pending) < p.cfg.MinPending {
		res.Skipped = true
		return res, nil
	}
	if p.cfg.MaxPerMarket > 0 && len(pending) > p.cfg.MaxPerMarket {
		pending = pending[:p.cfg.MaxPerMarket]
	}

	byOnChainID := make(map[string]domain.CustodyTransaction, len(pending))
	ids := make([]string, 0, len(pending))
	for _, tx := range pending {
		ocid := tx.OnChainID()
		if ocid == "" {
			// No on-chain identity; nothing to submit. Leave it pending
			// for manual triage.
			p.logger.Warn("batch: transaction without on-chain id",
				slog.String("tx_id", tx.ID))
			continue
		}
		byOnChainID[ocid] = tx
		ids = append(ids, ocid)
	}
	if len(ids) == 0 {
		res.Skipped = true
		return res, nil
	}

	submitCtx := ctx
	if p.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, p.cfg.SubmitTimeout)
		defer cancel()
	}

	receipt, err := p.chain.SubmitBatch(submitCtx, marketID, ids)
	if err != nil {
		// Statuses untouched: everything stays pending and retryable.
		p.publishEvent(ctx, domain.Event{
			Type:      domain.EventBatchFailed,
			EntityID:  marketID,
			MarketID:  marketID,
			Detail:    map[string]any{"count": len(ids), "error": err.Error()},
			Timestamp: time.Now().UTC(),
		})
		return Result{}, fmt.Errorf("batch: submitting for %s: %w", marketID, err)
	}

	now := time.Now().UTC()
	for _, ocid := range receipt.Accepted {
		tx := byOnChainID[ocid]
		if err := p.custody.UpdateStatus(ctx, tx.ID, domain.CustodyStatusConfirmed); err != nil {
			p.logger.Error("batch: confirm failed",
				slog.String("tx_id", tx.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := p.custody.MarkVerified(ctx, tx.ID, now); err != nil {
			p.logger.Warn("batch: mark verified failed",
				slog.String("tx_id", tx.ID),
				slog.String("error", err.Error()),
			)
		}
		res.Confirmed++
	}
	for _, ocid := range receipt.Rejected {
		tx := byOnChainID[ocid]
		if err := p.custody.UpdateStatus(ctx, tx.ID, domain.CustodyStatusRejected); err != nil {
			p.logger.Error("batch: reject failed",
				slog.String("tx_id", tx.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Rejected++
	}
	res.TxHash = receipt.TxHash

	p.publishEvent(ctx, domain.Event{
		Type:     domain.EventBatchCompleted,
		EntityID: marketID,
		MarketID: marketID,
		Detail: map[string]any{
			"confirmed": res.Confirmed,
			"rejected":  res.Rejected,
			"tx_hash":   receipt.TxHash,
		},
		Timestamp: now,
	})
	if err := p.audit.Log(ctx, "batch.completed", map[string]any{
		"market_id": marketID,
		"confirmed": res.Confirmed,
		"rejected":  res.Rejected,
		"tx_hash":   receipt.TxHash,
	}); err != nil {
		p.logger.Warn("batch: audit log failed", slog.String("error", err.Error()))
	}

	p.logger.Info("batch: market processed",
		slog.String("market_id", marketID),
		slog.Int("confirmed", res.Confirmed),
		slog.Int("rejected", res.Rejected),
		slog.String("tx_hash", receipt.TxHash),
	)

	return res, nil
}

func (p *Processor) publishEvent(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelBatch, payload); err != nil {
		p.logger.Warn("batch: publish failed", slog.String("error", err.Error()))
	}
}

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/service"
)

// systemIdentity is the actor used for chain-driven writes.
var systemIdentity = domain.Identity{UserID: "system", Role: domain.RoleAdmin}

// Reconciler re-checks optimistic state against the chain: pending claims
// whose payout was credited before on-chain confirmation, and markets the
// contract has resolved while the local record is still active.
type Reconciler struct {
	custody  domain.CustodyStore
	preds    domain.PredictionStore
	markets  domain.MarketStore
	resolver *service.MarketService
	entities domain.EntityStore
	chain    domain.ChainClient
	audit    domain.AuditStore
	cfg      Config
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	custody domain.CustodyStore,
	preds domain.PredictionStore,
	markets domain.MarketStore,
	resolver *service.MarketService,
	entities domain.EntityStore,
	chain domain.ChainClient,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		custody:  custody,
		preds:    preds,
		markets:  markets,
		resolver: resolver,
		entities: entities,
		chain:    chain,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run reconciles on a ticker until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("reconciler starting", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.ReconcileClaims(ctx); err != nil {
				r.logger.Error("reconciler: claims pass failed", slog.String("error", err.Error()))
			}
			if err := r.SyncMarkets(ctx); err != nil {
				r.logger.Error("reconciler: market sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ReconcileClaims walks pending claim transactions old enough to have been
// batched and asks the contract what actually happened.
func (r *Reconciler) ReconcileClaims(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.ReconcileAfter)
	claims, err := r.custody.ListPendingClaims(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("batch: listing pending claims: %w", err)
	}

	for _, tx := range claims {
		status, err := r.chain.PredictionStatus(ctx, tx.OnChainID())
		if err != nil {
			r.logger.Warn("reconciler: status query failed",
				slog.String("tx_id", tx.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch status {
		case domain.BlockchainStatusRedeemed:
			// The optimistic settlement was right; confirm the custody row.
			if err := r.custody.UpdateStatus(ctx, tx.ID, domain.CustodyStatusConfirmed); err != nil {
				r.logger.Error("reconciler: confirm failed",
					slog.String("tx_id", tx.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := r.custody.UpdateBlockchainStatus(ctx, tx.ID, domain.BlockchainStatusRedeemed); err != nil {
				r.logger.Warn("reconciler: blockchain status update failed",
					slog.String("tx_id", tx.ID),
					slog.String("error", err.Error()),
				)
			}
			if err := r.custody.MarkVerified(ctx, tx.ID, time.Now().UTC()); err != nil {
				r.logger.Warn("reconciler: mark verified failed",
					slog.String("tx_id", tx.ID),
					slog.String("error", err.Error()),
				)
			}

		case domain.BlockchainStatusLost:
			// The chain disagrees with the optimistic settlement. Reject
			// the claim, patch the prediction back to lost, and leave a
			// loud audit trail for the balance correction.
			r.revertClaim(ctx, tx)

		default:
			// unresolved or won: the redeem just has not landed yet.
		}
	}

	return nil
}

func (r *Reconciler) revertClaim(ctx context.Context, tx domain.CustodyTransaction) {
	if err := r.custody.UpdateStatus(ctx, tx.ID, domain.CustodyStatusRejected); err != nil {
		r.logger.Error("reconciler: reject failed",
			slog.String("tx_id", tx.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.custody.UpdateBlockchainStatus(ctx, tx.ID, domain.BlockchainStatusLost); err != nil {
		r.logger.Warn("reconciler: blockchain status update failed",
			slog.String("tx_id", tx.ID),
			slog.String("error", err.Error()),
		)
	}
	if tx.PredictionID != "" {
		// Flip the prediction row itself so portfolio and claim reads see
		// the loss, then mirror the patch into the entity shadow for the
		// legacy sync consumers.
		if err := r.preds.UpdateStatus(ctx, tx.PredictionID, domain.PredictionStatusLost, 0); err != nil {
			r.logger.Error("reconciler: prediction revert failed",
				slog.String("prediction_id", tx.PredictionID),
				slog.String("error", err.Error()),
			)
		}
		if err := r.entities.Put(ctx, "predictions", tx.PredictionID, map[string]any{
			"status":           string(domain.PredictionStatusLost),
			"potential_payout": 0,
		}); err != nil {
			r.logger.Error("reconciler: prediction patch failed",
				slog.String("prediction_id", tx.PredictionID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := r.audit.Log(ctx, "reconciler.claim_reverted", map[string]any{
		"tx_id":         tx.ID,
		"prediction_id": tx.PredictionID,
		"user_id":       tx.UserID,
	}); err != nil {
		r.logger.Warn("reconciler: audit log failed", slog.String("error", err.Error()))
	}

	r.logger.Error("reconciler: optimistic claim reverted",
		slog.String("tx_id", tx.ID),
		slog.String("user_id", tx.UserID),
	)
}

// SyncMarkets resolves any local market the contract has already resolved.
func (r *Reconciler) SyncMarkets(ctx context.Context) error {
	active, err := r.markets.List(ctx,
		domain.MarketFilter{Status: domain.MarketStatusActive},
		domain.ListOpts{Limit: 500})
	if err != nil {
		return fmt.Errorf("batch: listing active markets: %w", err)
	}

	for _, m := range active {
		resolved, outcomeID, err := r.chain.MarketResolution(ctx, m.ID)
		if err != nil {
			r.logger.Warn("reconciler: market resolution query failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !resolved {
			continue
		}

		if err := r.resolver.ResolveMarket(ctx, systemIdentity, m.ID, outcomeID); err != nil {
			r.logger.Error("reconciler: market resolve failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Info("reconciler: market resolved from chain",
			slog.String("market_id", m.ID),
			slog.Int("outcome_id", outcomeID),
		)
	}

	return nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// claimLockTTL bounds how long the per-receipt claim lock is held. The lock
// only needs to cover the dedup-check-and-insert, so it is short.
const claimLockTTL = 30 * time.Second

// SignatureVerifier checks that signature is a valid signature of message by
// the given signer address. Wired to the chain package in production and to
// a stub in tests.
type SignatureVerifier func(signer, message, signature string) error

// PredictionRequest is the inbound payload for placing a prediction.
type PredictionRequest struct {
	UserID    string  `json:"userId"`
	MarketID  string  `json:"marketId"`
	OutcomeID int     `json:"outcomeId"`
	Amount    float64 `json:"amount"`
	Signature string  `json:"signature"`
	Nonce     string  `json:"nonce"`
	Signer    string  `json:"signer"`
	SubnetID  string  `json:"subnetId"`
}

// ClaimRequest is the inbound payload for claiming a won prediction.
type ClaimRequest struct {
	PredictionID string `json:"predictionId"`
	Signature    string `json:"signature"`
	Nonce        string `json:"nonce"`
	Signer       string `json:"signer"`
	SubnetID     string `json:"subnetId"`
}

// CustodyService orchestrates the custody lifecycle: validation happens here,
// before any side effect; atomic multi-table writes happen in the store.
type CustodyService struct {
	custody     domain.CustodyStore
	markets     *MarketService
	predictions domain.PredictionStore
	balances    domain.BalanceStore
	locks       domain.LockManager
	bus         domain.SignalBus
	audit       domain.AuditStore
	verify      SignatureVerifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewCustodyService creates a CustodyService with all required dependencies.
// verify may be nil, in which case signatures are accepted unchecked (chain
// disabled).
func NewCustodyService(
	custody domain.CustodyStore,
	markets *MarketService,
	predictions domain.PredictionStore,
	balances domain.BalanceStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	verify SignatureVerifier,
	logger *slog.Logger,
) *CustodyService {
	return &CustodyService{
		custody:     custody,
		markets:     markets,
		predictions: predictions,
		balances:    balances,
		locks:       locks,
		bus:         bus,
		audit:       audit,
		verify:      verify,
		logger:      logger,
		now:         time.Now,
	}
}

// CreatePredictionWithCustody validates the request and atomically creates
// the prediction, its receipt, the balance debit, and the pending custody
// transaction. All guards run before any side effect.
func (s *CustodyService) CreatePredictionWithCustody(ctx context.Context, id domain.Identity, req PredictionRequest) (domain.CustodyResult, error) {
	if req.UserID == "" {
		req.UserID = id.UserID
	}
	if !id.CanActFor(req.UserID) {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", domain.ErrUnauthorized)
	}
	if req.Amount <= 0 {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w: amount must be positive", domain.ErrValidation)
	}
	if req.Nonce == "" {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", domain.ErrMissingNonce)
	}

	m, err := s.markets.GetMarket(ctx, req.MarketID)
	if err != nil {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", err)
	}
	if m.Status != domain.MarketStatusActive {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", domain.ErrMarketNotActive)
	}
	if m.Ended(s.now()) {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", domain.ErrMarketEnded)
	}
	outcome, ok := m.Outcome(req.OutcomeID)
	if !ok {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", domain.ErrOutcomeNotFound)
	}

	if err := s.verifySignature(req.Signer, predictMessage(req), req.Signature); err != nil {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", err)
	}

	// First touch may happen here rather than on a balance read; create the
	// account with the initial grant so the debit has a row to work on.
	if _, err := s.balances.EnsureAccount(ctx, req.UserID, initialGrant); err != nil {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", err)
	}

	res, err := s.custody.CreatePredictionWithCustody(ctx, domain.PredictionIntent{
		UserID:      req.UserID,
		MarketID:    m.ID,
		MarketName:  m.Name,
		OutcomeID:   outcome.ID,
		OutcomeName: outcome.Name,
		Amount:      req.Amount,
		Signature:   req.Signature,
		Nonce:       req.Nonce,
		Signer:      req.Signer,
		SubnetID:    req.SubnetID,
	})
	if err != nil {
		return domain.CustodyResult{}, fmt.Errorf("custody_service: predict: %w", err)
	}

	// Aggregates changed; readers must not see the stale cached market.
	s.markets.invalidate(ctx, m.ID)

	s.publish(ctx, domain.ChannelPredictions, domain.Event{
		Type:      domain.EventPredictionCreated,
		EntityID:  res.Prediction.ID,
		UserID:    req.UserID,
		MarketID:  m.ID,
		Detail:    map[string]any{"amount": req.Amount, "outcome_id": outcome.ID},
		Timestamp: s.now().UTC(),
	})

	s.logger.InfoContext(ctx, "custody_service: prediction in custody",
		slog.String("tx_id", res.Transaction.ID),
		slog.String("prediction_id", res.Prediction.ID),
		slog.String("user_id", req.UserID),
		slog.Float64("amount", req.Amount),
	)

	return res, nil
}

// ClaimRewardWithCustody validates a claim on a won prediction, records the
// pending claim transaction, and optimistically settles the payout. The
// reconciler later verifies the on-chain redemption.
func (s *CustodyService) ClaimRewardWithCustody(ctx context.Context, id domain.Identity, req ClaimRequest) (domain.CustodyTransaction, error) {
	p, err := s.predictions.GetByID(ctx, req.PredictionID)
	if err != nil {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", err)
	}
	if !id.CanActFor(p.UserID) {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", domain.ErrUnauthorized)
	}
	if p.Status == domain.PredictionStatusRedeemed {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", domain.ErrAlreadyClaimed)
	}
	if p.Status != domain.PredictionStatusWon {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", domain.ErrNotWinning)
	}

	onChainID := req.Nonce
	if onChainID == "" {
		onChainID = p.ReceiptID
	}
	if onChainID == "" {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", domain.ErrMissingNonce)
	}

	if err := s.verifySignature(req.Signer, claimMessage(p.UserID, req.PredictionID, onChainID), req.Signature); err != nil {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", err)
	}

	// Per-receipt lock closes the race between two concurrent claims on
	// the same receipt across processes; the store's in-transaction dedup
	// is the backstop.
	unlock, err := s.locks.Acquire(ctx, "claim:"+onChainID, claimLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", domain.ErrAlreadyClaimed)
		}
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", err)
	}
	defer unlock()

	tx, err := s.custody.CreateClaimRewardWithCustody(ctx, domain.ClaimIntent{
		UserID:       p.UserID,
		PredictionID: p.ID,
		ReceiptID:    p.ReceiptID,
		Signature:    req.Signature,
		Nonce:        onChainID,
		Signer:       req.Signer,
		SubnetID:     req.SubnetID,
	})
	if err != nil {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: claim: %w", err)
	}

	// Optimistic settlement: credit the payout now so the user sees funds
	// immediately. The reconciler re-checks against the chain and repairs
	// any divergence.
	if err := s.settleClaim(ctx, p); err != nil {
		s.logger.ErrorContext(ctx, "custody_service: optimistic settle failed",
			slog.String("prediction_id", p.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, domain.ChannelCustody, domain.Event{
		Type:      domain.EventClaimCreated,
		EntityID:  tx.ID,
		UserID:    p.UserID,
		MarketID:  p.MarketID,
		Detail:    map[string]any{"prediction_id": p.ID, "payout": p.PotentialPayout},
		Timestamp: s.now().UTC(),
	})
	s.auditLog(ctx, "custody.claim_created", map[string]any{
		"tx_id": tx.ID, "prediction_id": p.ID, "user_id": p.UserID,
	})

	return tx, nil
}

// settleClaim marks the prediction redeemed and credits the payout.
func (s *CustodyService) settleClaim(ctx context.Context, p domain.Prediction) error {
	if err := s.predictions.Redeem(ctx, p.ID, p.PotentialPayout); err != nil {
		return err
	}
	if err := s.balances.ApplyResolution(ctx, p.UserID, p.Amount, p.PotentialPayout); err != nil {
		return err
	}
	s.publish(ctx, domain.ChannelPredictions, domain.Event{
		Type:      domain.EventPredictionRedeemed,
		EntityID:  p.ID,
		UserID:    p.UserID,
		MarketID:  p.MarketID,
		Detail:    map[string]any{"payout": p.PotentialPayout},
		Timestamp: s.now().UTC(),
	})
	return nil
}

// CanClaimReward reports whether the prediction is currently claimable by
// the caller: it is a winner, not yet redeemed, and no claim transaction
// references its receipt.
func (s *CustodyService) CanClaimReward(ctx context.Context, id domain.Identity, predictionID string) (bool, error) {
	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return false, fmt.Errorf("custody_service: can-claim: %w", err)
	}
	if !id.CanActFor(p.UserID) {
		return false, fmt.Errorf("custody_service: can-claim: %w", domain.ErrUnauthorized)
	}
	if p.Status != domain.PredictionStatusWon {
		return false, nil
	}
	if p.ReceiptID == "" {
		return false, nil
	}
	claims, err := s.custody.ListClaimsReferencing(ctx, p.ReceiptID)
	if err != nil {
		return false, fmt.Errorf("custody_service: can-claim: %w", err)
	}
	return len(claims) == 0, nil
}

// ReturnPrediction cancels a pending predict transaction inside the return
// window, refunding the stake and deleting the prediction and receipt. The
// store re-checks the guards under its transaction.
func (s *CustodyService) ReturnPrediction(ctx context.Context, id domain.Identity, txID string) error {
	tx, err := s.custody.GetTransaction(ctx, txID)
	if err != nil {
		return fmt.Errorf("custody_service: return: %w", err)
	}
	if !id.CanActFor(tx.UserID) {
		return fmt.Errorf("custody_service: return: %w", domain.ErrUnauthorized)
	}
	if tx.Type != domain.TransactionTypePredict {
		return fmt.Errorf("custody_service: return: %w: only predict transactions are returnable", domain.ErrValidation)
	}
	if tx.Status != domain.CustodyStatusPending {
		return fmt.Errorf("custody_service: return: %w", domain.ErrNotPending)
	}
	if !tx.Returnable(s.now()) {
		return fmt.Errorf("custody_service: return: %w", domain.ErrReturnWindowExpired)
	}

	if err := s.custody.ReturnPrediction(ctx, txID); err != nil {
		return fmt.Errorf("custody_service: return: %w", err)
	}

	if tx.MarketID != "" {
		s.markets.invalidate(ctx, tx.MarketID)
	}

	s.publish(ctx, domain.ChannelCustody, domain.Event{
		Type:      domain.EventPredictionReturned,
		EntityID:  txID,
		UserID:    tx.UserID,
		MarketID:  tx.MarketID,
		Detail:    map[string]any{"amount": tx.Amount},
		Timestamp: s.now().UTC(),
	})
	s.auditLog(ctx, "custody.returned", map[string]any{
		"tx_id": txID, "user_id": tx.UserID, "amount": tx.Amount,
	})

	return nil
}

// CheckReturnable reports, for each distinct transaction id, whether the
// transaction is currently returnable by the caller. Unknown ids map to
// false rather than failing the whole batch.
func (s *CustodyService) CheckReturnable(ctx context.Context, id domain.Identity, txIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(txIDs))
	now := s.now()

	for _, txID := range txIDs {
		if txID == "" {
			continue
		}
		if _, seen := out[txID]; seen {
			continue
		}
		tx, err := s.custody.GetTransaction(ctx, txID)
		if err != nil {
			if isNotFound(err) {
				out[txID] = false
				continue
			}
			return nil, fmt.Errorf("custody_service: check returnable: %w", err)
		}
		out[txID] = id.CanActFor(tx.UserID) && tx.Returnable(now)
	}

	return out, nil
}

// GetTransaction returns one custody transaction, restricted to its owner or
// an admin.
func (s *CustodyService) GetTransaction(ctx context.Context, id domain.Identity, txID string) (domain.CustodyTransaction, error) {
	tx, err := s.custody.GetTransaction(ctx, txID)
	if err != nil {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: get: %w", err)
	}
	if !id.CanActFor(tx.UserID) {
		return domain.CustodyTransaction{}, fmt.Errorf("custody_service: get: %w", domain.ErrUnauthorized)
	}
	return tx, nil
}

// ListUserTransactions returns the user's custody transactions, restricted
// to the owner or an admin.
func (s *CustodyService) ListUserTransactions(ctx context.Context, id domain.Identity, userID string, opts domain.ListOpts) ([]domain.CustodyTransaction, error) {
	if !id.CanActFor(userID) {
		return nil, fmt.Errorf("custody_service: list: %w", domain.ErrUnauthorized)
	}
	txs, err := s.custody.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("custody_service: list: %w", err)
	}
	return txs, nil
}

// UpdateTransactionStatus moves a transaction along the custody axis.
// Owners may update their own transactions; admins may update any. The
// transition must be legal for the current status.
func (s *CustodyService) UpdateTransactionStatus(ctx context.Context, id domain.Identity, txID string, status domain.CustodyStatus) error {
	tx, err := s.custody.GetTransaction(ctx, txID)
	if err != nil {
		return fmt.Errorf("custody_service: update status: %w", err)
	}
	if !id.CanActFor(tx.UserID) {
		return fmt.Errorf("custody_service: update status: %w", domain.ErrUnauthorized)
	}
	if !tx.CanTransition(status) {
		return fmt.Errorf("custody_service: update status: %w: %s -> %s", domain.ErrInvalidTransition, tx.Status, status)
	}

	if err := s.custody.UpdateStatus(ctx, txID, status); err != nil {
		return fmt.Errorf("custody_service: update status: %w", err)
	}

	s.publish(ctx, domain.ChannelCustody, domain.Event{
		Type:      domain.EventCustodyStatus,
		EntityID:  txID,
		UserID:    tx.UserID,
		MarketID:  tx.MarketID,
		Detail:    map[string]any{"from": string(tx.Status), "to": string(status)},
		Timestamp: s.now().UTC(),
	})

	return nil
}

// verifySignature applies the configured verifier when both a signer and a
// signature are present. With no verifier configured, signatures pass
// unchecked.
func (s *CustodyService) verifySignature(signer, message, signature string) error {
	if s.verify == nil {
		return nil
	}
	if signer == "" || signature == "" {
		return domain.ErrInvalidSignature
	}
	return s.verify(signer, message, signature)
}

func (s *CustodyService) publish(ctx context.Context, channel string, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "custody_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CustodyService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "custody_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// predictMessage is the canonical signed payload for a predict request.
func predictMessage(req PredictionRequest) string {
	return fmt.Sprintf("predict|%s|%s|%d|%.2f|%s", req.UserID, req.MarketID, req.OutcomeID, req.Amount, req.Nonce)
}

// claimMessage is the canonical signed payload for a claim request.
func claimMessage(userID, predictionID, onChainID string) string {
	return fmt.Sprintf("claim|%s|%s|%s", userID, predictionID, onChainID)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

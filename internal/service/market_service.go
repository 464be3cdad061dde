// Package service implements the application layer: market lifecycle,
// custody orchestration, portfolio reads, and leaderboards. Services own
// the business rules; stores own persistence and atomicity.
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

// MarketInput carries the fields for creating or updating a market.
type MarketInput struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Outcomes    []string  `json:"outcomes"`
	EndDate     time.Time `json:"endDate"`
}

// MarketService handles market lifecycle and resolution settlement.
type MarketService struct {
	markets     domain.MarketStore
	predictions domain.PredictionStore
	custody     domain.CustodyStore
	balances    domain.BalanceStore
	stats       domain.StatsStore
	cache       domain.MarketCache
	boards      domain.LeaderboardCache
	bus         domain.SignalBus
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	predictions domain.PredictionStore,
	custody domain.CustodyStore,
	balances domain.BalanceStore,
	stats domain.StatsStore,
	cache domain.MarketCache,
	boards domain.LeaderboardCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:     markets,
		predictions: predictions,
		custody:     custody,
		balances:    balances,
		stats:       stats,
		cache:       cache,
		boards:      boards,
		bus:         bus,
		audit:       audit,
		logger:      logger,
	}
}

// CreateMarket creates a new active market. Admin only.
func (s *MarketService) CreateMarket(ctx context.Context, id domain.Identity, in MarketInput) (domain.Market, error) {
	if !id.IsAdmin() {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", domain.ErrUnauthorized)
	}
	if err := validateMarketInput(in); err != nil {
		return domain.Market{}, err
	}

	now := time.Now().UTC()
	m := domain.Market{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		Status:      domain.MarketStatusActive,
		EndDate:     in.EndDate,
		CreatedBy:   id.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, name := range in.Outcomes {
		m.Outcomes = append(m.Outcomes, domain.Outcome{ID: i + 1, Name: strings.TrimSpace(name)})
	}

	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.publish(ctx, domain.ChannelMarkets, domain.Event{
		Type:      domain.EventMarketCreated,
		EntityID:  m.ID,
		UserID:    id.UserID,
		MarketID:  m.ID,
		Timestamp: now,
	})
	s.auditLog(ctx, "market.created", map[string]any{"market_id": m.ID, "by": id.UserID})

	return m, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the persistent store on a cache miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %q: %w", id, err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	return m, nil
}

// ListMarkets returns markets matching the filter.
func (s *MarketService) ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// RelatedMarkets returns other active markets in the same category.
func (s *MarketService) RelatedMarkets(ctx context.Context, id string, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 5
	}
	markets, err := s.markets.ListRelated(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service: related for %q: %w", id, err)
	}
	return markets, nil
}

// Odds returns the current parimutuel multiplier for every outcome of a
// market.
func (s *MarketService) Odds(ctx context.Context, id string) (map[int]float64, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.MarketOdds(m), nil
}

// UpdateMarket updates a market's editable fields. Admin only. Outcomes
// cannot change once the market exists; aggregates hang off them.
func (s *MarketService) UpdateMarket(ctx context.Context, id domain.Identity, marketID string, in MarketInput) (domain.Market, error) {
	if !id.IsAdmin() {
		return domain.Market{}, fmt.Errorf("market_service: update: %w", domain.ErrUnauthorized)
	}

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: update: %w", err)
	}
	if m.Status != domain.MarketStatusActive {
		return domain.Market{}, fmt.Errorf("market_service: update: %w", domain.ErrMarketNotActive)
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		m.Name = name
	}
	if in.Description != "" {
		m.Description = in.Description
	}
	if in.Category != "" {
		m.Category = in.Category
	}
	if !in.EndDate.IsZero() {
		m.EndDate = in.EndDate
	}
	m.UpdatedAt = time.Now().UTC()

	if err := s.markets.Update(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: update: %w", err)
	}
	s.invalidate(ctx, marketID)

	s.publish(ctx, domain.ChannelMarkets, domain.Event{
		Type:      domain.EventMarketUpdated,
		EntityID:  marketID,
		MarketID:  marketID,
		Timestamp: m.UpdatedAt,
	})

	return m, nil
}

// DeleteMarket removes a market. Admin only, and refused while predictions
// still reference it.
func (s *MarketService) DeleteMarket(ctx context.Context, id domain.Identity, marketID string) error {
	if !id.IsAdmin() {
		return fmt.Errorf("market_service: delete: %w", domain.ErrUnauthorized)
	}

	preds, err := s.predictions.ListByMarket(ctx, marketID, domain.ListOpts{Limit: 1})
	if err != nil {
		return fmt.Errorf("market_service: delete: %w", err)
	}
	if len(preds) > 0 {
		return fmt.Errorf("market_service: delete: %w: market has predictions", domain.ErrValidation)
	}

	if err := s.markets.Delete(ctx, marketID); err != nil {
		return fmt.Errorf("market_service: delete: %w", err)
	}
	s.invalidate(ctx, marketID)
	s.auditLog(ctx, "market.deleted", map[string]any{"market_id": marketID, "by": id.UserID})
	return nil
}

// ResolveMarket marks the winning outcome and settles every prediction on
// the market. Admin only.
//
// Settlement: losers have their stake moved out of custody with no payout;
// winners are marked won with their payout locked in at the multiplier
// current as of resolution, and keep funds in custody until they redeem.
func (s *MarketService) ResolveMarket(ctx context.Context, id domain.Identity, marketID string, outcomeID int) error {
	if !id.IsAdmin() {
		return fmt.Errorf("market_service: resolve: %w", domain.ErrUnauthorized)
	}

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return fmt.Errorf("market_service: resolve: %w", err)
	}
	winning, ok := m.Outcome(outcomeID)
	if !ok {
		return fmt.Errorf("market_service: resolve: %w", domain.ErrOutcomeNotFound)
	}

	if err := s.markets.Resolve(ctx, marketID, outcomeID); err != nil {
		return fmt.Errorf("market_service: resolve: %w", err)
	}
	s.invalidate(ctx, marketID)

	// Multiplier is frozen at resolution time from the final aggregates.
	multiplier := domain.OddsMultiplier(m.PoolAmount, winning.Amount)

	if err := s.settlePredictions(ctx, marketID, outcomeID, multiplier); err != nil {
		// The market is already resolved; settlement failures are logged
		// and repaired by the reconciler rather than rolled back.
		s.logger.ErrorContext(ctx, "market_service: settlement incomplete",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.boards.InvalidateAll(ctx); err != nil {
		s.logger.WarnContext(ctx, "market_service: leaderboard invalidate failed",
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, domain.ChannelMarkets, domain.Event{
		Type:      domain.EventMarketResolved,
		EntityID:  marketID,
		MarketID:  marketID,
		Detail:    map[string]any{"outcome_id": outcomeID, "multiplier": multiplier},
		Timestamp: time.Now().UTC(),
	})
	s.auditLog(ctx, "market.resolved", map[string]any{
		"market_id": marketID, "outcome_id": outcomeID, "by": id.UserID,
	})

	return nil
}

// settlePredictions walks every prediction on the market and applies the
// win/loss outcome. Each prediction settles independently so one failure
// does not abort the rest.
func (s *MarketService) settlePredictions(ctx context.Context, marketID string, outcomeID int, multiplier float64) error {
	var failed int
	opts := domain.ListOpts{Limit: 500}

	for {
		preds, err := s.predictions.ListByMarket(ctx, marketID, opts)
		if err != nil {
			return fmt.Errorf("listing predictions: %w", err)
		}
		if len(preds) == 0 {
			break
		}

		for _, p := range preds {
			if p.Status != domain.PredictionStatusPending {
				continue
			}
			if err := s.settleOne(ctx, p, outcomeID, multiplier); err != nil {
				failed++
				s.logger.ErrorContext(ctx, "market_service: settle failed",
					slog.String("prediction_id", p.ID),
					slog.String("error", err.Error()),
				)
			}
		}

		if len(preds) < opts.Limit {
			break
		}
		opts.Offset += opts.Limit
	}

	if failed > 0 {
		return fmt.Errorf("%d predictions failed to settle", failed)
	}
	return nil
}

func (s *MarketService) settleOne(ctx context.Context, p domain.Prediction, outcomeID int, multiplier float64) error {
	won := p.OutcomeID == outcomeID

	if won {
		payout := p.Amount * multiplier
		if err := s.predictions.UpdateStatus(ctx, p.ID, domain.PredictionStatusWon, payout); err != nil {
			return err
		}
		if err := s.markCustodyResolution(ctx, p.ID, domain.BlockchainStatusWon); err != nil {
			return err
		}
		return s.stats.RecordResolvedPrediction(ctx, p.UserID, true, payout-p.Amount)
	}

	if err := s.predictions.UpdateStatus(ctx, p.ID, domain.PredictionStatusLost, 0); err != nil {
		return err
	}
	if err := s.markCustodyResolution(ctx, p.ID, domain.BlockchainStatusLost); err != nil {
		return err
	}
	// Losing stake leaves the custody bucket with no payout.
	if err := s.balances.ApplyResolution(ctx, p.UserID, p.Amount, 0); err != nil {
		return err
	}
	return s.stats.RecordResolvedPrediction(ctx, p.UserID, false, -p.Amount)
}

// markCustodyResolution flips the custody transaction's blockchain axis for
// a settled prediction. A missing transaction is tolerated: transfers and
// archived rows have none.
func (s *MarketService) markCustodyResolution(ctx context.Context, predictionID string, status domain.BlockchainStatus) error {
	tx, err := s.custody.GetByPredictionID(ctx, predictionID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return s.custody.UpdateBlockchainStatus(ctx, tx.ID, status)
}

func (s *MarketService) invalidate(ctx context.Context, marketID string) {
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publish(ctx context.Context, channel string, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "market_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "market_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func validateMarketInput(in MarketInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("market_service: %w: name must not be empty", domain.ErrValidation)
	}
	if len(in.Outcomes) < 2 {
		return fmt.Errorf("market_service: %w: at least two outcomes required", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(in.Outcomes))
	for _, o := range in.Outcomes {
		name := strings.ToLower(strings.TrimSpace(o))
		if name == "" {
			return fmt.Errorf("market_service: %w: outcome name must not be empty", domain.ErrValidation)
		}
		if seen[name] {
			return fmt.Errorf("market_service: %w: duplicate outcome %q", domain.ErrValidation, o)
		}
		seen[name] = true
	}
	if in.EndDate.IsZero() || !in.EndDate.After(time.Now()) {
		return fmt.Errorf("market_service: %w: end date must be in the future", domain.ErrValidation)
	}
	return nil
}

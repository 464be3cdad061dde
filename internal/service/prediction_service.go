package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// PortfolioItem pairs a prediction with its custody transaction, when one
// still exists.
type PortfolioItem struct {
	Prediction  domain.Prediction          `json:"prediction"`
	Transaction *domain.CustodyTransaction `json:"transaction,omitempty"`
	Returnable  bool                       `json:"returnable"`
}

// Portfolio is a user's full position view.
type Portfolio struct {
	UserID  string          `json:"userId"`
	Balance domain.UserBalance `json:"balance"`
	Items   []PortfolioItem `json:"items"`
}

// PredictionService serves prediction and portfolio reads.
type PredictionService struct {
	predictions domain.PredictionStore
	custody     domain.CustodyStore
	balances    domain.BalanceStore
	logger      *slog.Logger
}

// NewPredictionService creates a PredictionService.
func NewPredictionService(
	predictions domain.PredictionStore,
	custody domain.CustodyStore,
	balances domain.BalanceStore,
	logger *slog.Logger,
) *PredictionService {
	return &PredictionService{
		predictions: predictions,
		custody:     custody,
		balances:    balances,
		logger:      logger,
	}
}

// GetPrediction returns one prediction, restricted to its owner or an admin.
func (s *PredictionService) GetPrediction(ctx context.Context, id domain.Identity, predictionID string) (domain.Prediction, error) {
	p, err := s.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("prediction_service: get: %w", err)
	}
	if !id.CanActFor(p.UserID) {
		return domain.Prediction{}, fmt.Errorf("prediction_service: get: %w", domain.ErrUnauthorized)
	}
	return p, nil
}

// GetReceipt returns the NFT receipt for a prediction, restricted to its
// owner or an admin.
func (s *PredictionService) GetReceipt(ctx context.Context, id domain.Identity, receiptID string) (domain.NFTReceipt, error) {
	r, err := s.predictions.GetReceipt(ctx, receiptID)
	if err != nil {
		return domain.NFTReceipt{}, fmt.Errorf("prediction_service: receipt: %w", err)
	}
	if !id.CanActFor(r.UserID) {
		return domain.NFTReceipt{}, fmt.Errorf("prediction_service: receipt: %w", domain.ErrUnauthorized)
	}
	return r, nil
}

// ListMarketPredictions returns predictions on a market. Market-level reads
// are public: amounts are already visible through the aggregates.
func (s *PredictionService) ListMarketPredictions(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	preds, err := s.predictions.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("prediction_service: list market: %w", err)
	}
	return preds, nil
}

// GetPortfolio assembles a user's balance, predictions, and the custody
// transaction attached to each. Restricted to the owner or an admin.
func (s *PredictionService) GetPortfolio(ctx context.Context, id domain.Identity, userID string, opts domain.ListOpts) (Portfolio, error) {
	if !id.CanActFor(userID) {
		return Portfolio{}, fmt.Errorf("prediction_service: portfolio: %w", domain.ErrUnauthorized)
	}

	balance, err := s.balances.Get(ctx, userID)
	if err != nil && !isNotFound(err) {
		return Portfolio{}, fmt.Errorf("prediction_service: portfolio: %w", err)
	}

	preds, err := s.predictions.ListByUser(ctx, userID, opts)
	if err != nil {
		return Portfolio{}, fmt.Errorf("prediction_service: portfolio: %w", err)
	}

	pf := Portfolio{UserID: userID, Balance: balance, Items: make([]PortfolioItem, 0, len(preds))}
	for _, p := range preds {
		item := PortfolioItem{Prediction: p}
		tx, err := s.custody.GetByPredictionID(ctx, p.ID)
		switch {
		case err == nil:
			item.Transaction = &tx
			item.Returnable = tx.Returnable(time.Now())
		case isNotFound(err):
			// Archived or settled away; the prediction stands alone.
		default:
			s.logger.WarnContext(ctx, "prediction_service: custody lookup failed",
				slog.String("prediction_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
		pf.Items = append(pf.Items, item)
	}

	return pf, nil
}

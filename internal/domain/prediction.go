package domain

import "time"

// PredictionStatus tracks a prediction from placement to settlement.
type PredictionStatus string

const (
	PredictionStatusPending  PredictionStatus = "pending"
	PredictionStatusWon      PredictionStatus = "won"
	PredictionStatusLost     PredictionStatus = "lost"
	PredictionStatusRedeemed PredictionStatus = "redeemed"
)

// Prediction is a user's stake on a single market outcome. Market and outcome
// names are denormalized at creation time so the record stays readable after
// the market changes.
type Prediction struct {
	ID              string           `json:"id"`
	MarketID        string           `json:"marketId"`
	MarketName      string           `json:"marketName"`
	OutcomeID       int              `json:"outcomeId"`
	OutcomeName     string           `json:"outcomeName"`
	UserID          string           `json:"userId"`
	Amount          float64          `json:"amount"`
	Status          PredictionStatus `json:"status"`
	PotentialPayout float64          `json:"potentialPayout,omitempty"`
	ReceiptID       string           `json:"receiptId"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// NFTReceipt is the immutable proof-of-prediction record minted together with
// a prediction. It snapshots market, outcome, and amount so the proof remains
// valid even if the market record is later mutated.
type NFTReceipt struct {
	ID           string    `json:"id"`
	PredictionID string    `json:"predictionId"`
	UserID       string    `json:"userId"`
	MarketID     string    `json:"marketId"`
	MarketName   string    `json:"marketName"`
	OutcomeID    int       `json:"outcomeId"`
	OutcomeName  string    `json:"outcomeName"`
	Amount       float64   `json:"amount"`
	CreatedAt    time.Time `json:"createdAt"`
}

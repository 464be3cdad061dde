package domain

import "time"

// UserBalance is the per-user fund ledger. Funds move from AvailableBalance
// to InPredictions when a prediction is created, and back (plus any payout)
// on return, resolution, or redemption.
type UserBalance struct {
	UserID           string    `json:"userId"`
	AvailableBalance float64   `json:"availableBalance"`
	InPredictions    float64   `json:"inPredictions"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Total returns the user's combined funds across both buckets.
func (b UserBalance) Total() float64 {
	return b.AvailableBalance + b.InPredictions
}

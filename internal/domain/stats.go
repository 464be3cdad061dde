package domain

import "time"

// UserStats aggregates a user's prediction history for leaderboards.
type UserStats struct {
	UserID             string    `json:"userId"`
	TotalPredictions   int       `json:"totalPredictions"`
	CorrectPredictions int       `json:"correctPredictions"`
	Accuracy           float64   `json:"accuracy"`
	TotalAmount        float64   `json:"totalAmount"`
	TotalEarnings      float64   `json:"totalEarnings"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// LeaderboardEntry is a ranked row returned by leaderboard queries.
type LeaderboardEntry struct {
	Rank  int       `json:"rank"`
	Stats UserStats `json:"stats"`
}

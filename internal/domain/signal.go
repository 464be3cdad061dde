package domain

import "time"

// Signal bus channel names. The WebSocket hub bridges these to connected
// clients; the tool server's poller republishes resource changes onto them.
const (
	ChannelMarkets     = "markets"
	ChannelPredictions = "predictions"
	ChannelCustody     = "custody"
	ChannelBatch       = "batch"
	ChannelLeaderboard = "leaderboard"
	ChannelBugReports  = "bug_reports"
)

// Event is the envelope published on the signal bus for every domain change.
type Event struct {
	Type      string         `json:"type"`
	EntityID  string         `json:"entityId"`
	UserID    string         `json:"userId,omitempty"`
	MarketID  string         `json:"marketId,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event type names.
const (
	EventMarketCreated      = "market_created"
	EventMarketUpdated      = "market_updated"
	EventMarketResolved     = "market_resolved"
	EventPredictionCreated  = "prediction_created"
	EventPredictionReturned = "prediction_returned"
	EventPredictionRedeemed = "prediction_redeemed"
	EventCustodyStatus      = "custody_status_changed"
	EventClaimCreated       = "claim_created"
	EventBatchCompleted     = "batch_completed"
	EventBatchFailed        = "batch_failed"
	EventBugReportFiled     = "bug_report_filed"
)

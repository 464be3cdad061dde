package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "active"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Outcome is a single answer a market can resolve to. Votes and Amount are
// aggregates maintained on every prediction; the market's PoolAmount mirrors
// the sum of all outcome amounts.
type Outcome struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Votes  int     `json:"votes"`
	Amount float64 `json:"amount"`
}

// Market represents a prediction market.
type Market struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Description       string       `json:"description"`
	Category          string       `json:"category"`
	Outcomes          []Outcome    `json:"outcomes"`
	PoolAmount        float64      `json:"poolAmount"`
	Participants      int          `json:"participants"`
	Status            MarketStatus `json:"status"`
	EndDate           time.Time    `json:"endDate"`
	ResolvedOutcomeID *int         `json:"resolvedOutcomeId,omitempty"`
	CreatedBy         string       `json:"createdBy"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// Outcome returns the outcome with the given id, or false when the market has
// no such outcome.
func (m Market) Outcome(id int) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// Ended reports whether the market's end date has passed at the given time.
func (m Market) Ended(now time.Time) bool {
	return now.After(m.EndDate)
}

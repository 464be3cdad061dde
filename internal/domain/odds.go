package domain

import "math"

// houseEdge is the fraction of the pool paid out to winners under the
// parimutuel formula. The remaining 5% is retained by the house.
const houseEdge = 0.95

// defaultMultiplier is the display multiplier when a market or outcome has no
// stakes yet.
const defaultMultiplier = 2.0

// OddsMultiplier computes the parimutuel payout multiplier for an outcome
// with outcomeTotal staked out of poolTotal staked across the whole market:
//
//	m = round2(poolTotal * 0.95 / outcomeTotal)
//
// When either total is zero the multiplier defaults to 2.0.
func OddsMultiplier(poolTotal, outcomeTotal float64) float64 {
	if poolTotal <= 0 || outcomeTotal <= 0 {
		return defaultMultiplier
	}
	return round2(poolTotal * houseEdge / outcomeTotal)
}

// MarketOdds returns the multiplier for every outcome of a market, keyed by
// outcome id.
func MarketOdds(m Market) map[int]float64 {
	odds := make(map[int]float64, len(m.Outcomes))
	for _, o := range m.Outcomes {
		odds[o.ID] = OddsMultiplier(m.PoolAmount, o.Amount)
	}
	return odds
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

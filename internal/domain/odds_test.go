package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOddsMultiplier(t *testing.T) {
	tests := []struct {
		name         string
		poolTotal    float64
		outcomeTotal float64
		want         float64
	}{
		{"empty market", 0, 0, 2.0},
		{"empty outcome", 100, 0, 2.0},
		{"zero pool with stake", 0, 50, 2.0},
		{"even split", 100, 50, 1.9},
		{"long shot", 100, 10, 9.5},
		{"favorite", 100, 90, 1.06},
		{"whole pool on one side", 100, 100, 0.95},
		{"rounds to two decimals", 100, 3, 31.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OddsMultiplier(tt.poolTotal, tt.outcomeTotal))
		})
	}
}

// The house keeps 5%: summing stake-weighted payouts across outcomes must
// never exceed 95% of the pool.
func TestOddsHouseEdgeConservation(t *testing.T) {
	m := Market{
		PoolAmount: 200,
		Outcomes: []Outcome{
			{ID: 1, Amount: 120},
			{ID: 2, Amount: 50},
			{ID: 3, Amount: 30},
		},
	}

	odds := MarketOdds(m)
	for _, o := range m.Outcomes {
		payout := o.Amount * odds[o.ID]
		// Each outcome pays out at most the house-adjusted pool (plus
		// rounding slack from round2).
		assert.LessOrEqual(t, payout, m.PoolAmount*0.95+0.01*o.Amount,
			"outcome %d would overpay", o.ID)
	}
}

func TestMarketOddsDefaults(t *testing.T) {
	m := Market{
		Outcomes: []Outcome{{ID: 1}, {ID: 2}},
	}

	odds := MarketOdds(m)
	assert.Equal(t, map[int]float64{1: 2.0, 2: 2.0}, odds)
}

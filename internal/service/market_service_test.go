package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opwisdom/wisdomd/internal/domain"
)

func marketInput() MarketInput {
	return MarketInput{
		Name:     "Will ETH close above 5k this year?",
		Category: "crypto",
		Outcomes: []string{"Yes", "No"},
		EndDate:  time.Now().Add(72 * time.Hour),
	}
}

func TestCreateMarket(t *testing.T) {
	f := newFixture()

	m, err := f.marketSvc.CreateMarket(context.Background(), root, marketInput())
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	require.Len(t, m.Outcomes, 2)
	assert.Equal(t, 1, m.Outcomes[0].ID)
	assert.Equal(t, 2, m.Outcomes[1].ID)
	assert.Equal(t, "Yes", m.Outcomes[0].Name)

	stored, err := f.markets.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Name, stored.Name)
}

func TestCreateMarketGuards(t *testing.T) {
	f := newFixture()

	t.Run("admin only", func(t *testing.T) {
		_, err := f.marketSvc.CreateMarket(context.Background(), alice, marketInput())
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("empty name", func(t *testing.T) {
		in := marketInput()
		in.Name = "   "
		_, err := f.marketSvc.CreateMarket(context.Background(), root, in)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("single outcome", func(t *testing.T) {
		in := marketInput()
		in.Outcomes = []string{"Yes"}
		_, err := f.marketSvc.CreateMarket(context.Background(), root, in)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("duplicate outcomes ignore case", func(t *testing.T) {
		in := marketInput()
		in.Outcomes = []string{"Yes", " yes "}
		_, err := f.marketSvc.CreateMarket(context.Background(), root, in)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("end date in the past", func(t *testing.T) {
		in := marketInput()
		in.EndDate = time.Now().Add(-time.Hour)
		_, err := f.marketSvc.CreateMarket(context.Background(), root, in)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestGetMarketCacheAside(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")

	m, err := f.marketSvc.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)

	cached, err := f.cache.Get(context.Background(), "m1")
	require.NoError(t, err, "store hit back-fills the cache")
	assert.Equal(t, m.Name, cached.Name)

	// Subsequent reads are served from cache even if the store row changes.
	stale := f.markets.markets["m1"]
	stale.Name = "renamed behind the cache"
	f.markets.markets["m1"] = stale

	m, err = f.marketSvc.GetMarket(context.Background(), "m1")
	require.NoError(t, err)
	assert.NotEqual(t, "renamed behind the cache", m.Name)
}

func TestMarketServiceOdds(t *testing.T) {
	f := newFixture()
	m := f.seedMarket("m1")
	m.PoolAmount = 100
	m.Outcomes[0].Amount = 40
	m.Outcomes[1].Amount = 60
	f.markets.markets["m1"] = m

	odds, err := f.marketSvc.Odds(context.Background(), "m1")
	require.NoError(t, err)
	assert.InDelta(t, 2.38, odds[1], 1e-9)
	assert.InDelta(t, 1.58, odds[2], 1e-9)
}

func TestUpdateMarket(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")

	updated, err := f.marketSvc.UpdateMarket(context.Background(), root, "m1", MarketInput{Name: "New title"})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Name)
	assert.Equal(t, "weather", updated.Category, "unset fields keep their values")
	assert.Len(t, updated.Outcomes, 2, "outcomes are immutable")

	t.Run("admin only", func(t *testing.T) {
		_, err := f.marketSvc.UpdateMarket(context.Background(), alice, "m1", MarketInput{Name: "x"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("resolved markets are frozen", func(t *testing.T) {
		m := f.markets.markets["m1"]
		m.Status = domain.MarketStatusResolved
		f.markets.markets["m1"] = m
		_, err := f.marketSvc.UpdateMarket(context.Background(), root, "m1", MarketInput{Name: "x"})
		assert.ErrorIs(t, err, domain.ErrMarketNotActive)
	})
}

func TestDeleteMarket(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)

	err = f.marketSvc.DeleteMarket(context.Background(), root, "m1")
	assert.ErrorIs(t, err, domain.ErrValidation, "markets with predictions cannot be deleted")

	f.seedMarket("m2")
	require.NoError(t, f.marketSvc.DeleteMarket(context.Background(), root, "m2"))
	_, err = f.markets.GetByID(context.Background(), "m2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.marketSvc.DeleteMarket(context.Background(), alice, "m1")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestResolveMarketSettlement(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)
	f.seedBalance("bob", 100)

	aliceRes, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)

	bobReq := predictRequest("bob", "m1")
	bobReq.OutcomeID = 2
	bobReq.Amount = 60
	bobReq.Nonce = "nonce-bob"
	bobRes, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), bob, bobReq)
	require.NoError(t, err)

	// Pool 100, winning outcome holds 40: multiplier 100*0.95/40 = 2.38.
	require.NoError(t, f.marketSvc.ResolveMarket(context.Background(), root, "m1", 1))

	m, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	require.NotNil(t, m.ResolvedOutcomeID)
	assert.Equal(t, 1, *m.ResolvedOutcomeID)

	winner, err := f.preds.GetByID(context.Background(), aliceRes.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusWon, winner.Status)
	assert.InDelta(t, 95.2, winner.PotentialPayout, 1e-9)

	loser, err := f.preds.GetByID(context.Background(), bobRes.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusLost, loser.Status)
	assert.Zero(t, loser.PotentialPayout)

	// Winner's stake stays in custody until the claim; loser's is released
	// with no payout.
	ab, _ := f.balances.Get(context.Background(), "alice")
	assert.Equal(t, 60.0, ab.AvailableBalance)
	assert.Equal(t, 40.0, ab.InPredictions)
	bb, _ := f.balances.Get(context.Background(), "bob")
	assert.Equal(t, 40.0, bb.AvailableBalance)
	assert.Zero(t, bb.InPredictions)

	winTx, err := f.custody.GetTransaction(context.Background(), aliceRes.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockchainStatusWon, winTx.BlockchainStatus)
	loseTx, err := f.custody.GetTransaction(context.Background(), bobRes.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockchainStatusLost, loseTx.BlockchainStatus)

	require.Len(t, f.stats.resolved, 2)
	byUser := map[string]resolvedRecord{}
	for _, r := range f.stats.resolved {
		byUser[r.userID] = r
	}
	assert.True(t, byUser["alice"].won)
	assert.InDelta(t, 55.2, byUser["alice"].earnings, 1e-9)
	assert.False(t, byUser["bob"].won)
	assert.InDelta(t, -60, byUser["bob"].earnings, 1e-9)

	assert.Equal(t, 1, f.boards.invalidatedAll, "stale leaderboards dropped")
}

func TestResolveMarketGuards(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")

	err := f.marketSvc.ResolveMarket(context.Background(), alice, "m1", 1)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = f.marketSvc.ResolveMarket(context.Background(), root, "m1", 9)
	assert.ErrorIs(t, err, domain.ErrOutcomeNotFound)

	err = f.marketSvc.ResolveMarket(context.Background(), root, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveToleratesPredictionsWithoutCustody(t *testing.T) {
	f := newFixture()
	m := f.seedMarket("m1")
	m.PoolAmount = 50
	m.Outcomes[0].Amount = 50
	f.markets.markets["m1"] = m
	f.seedBalance("carol", 0)
	f.balances.balances["carol"] = domain.UserBalance{UserID: "carol", InPredictions: 50}

	// Legacy row with no custody transaction behind it.
	f.preds.predictions["p-legacy"] = domain.Prediction{
		ID:        "p-legacy",
		MarketID:  "m1",
		OutcomeID: 1,
		UserID:    "carol",
		Amount:    50,
		Status:    domain.PredictionStatusPending,
	}

	require.NoError(t, f.marketSvc.ResolveMarket(context.Background(), root, "m1", 1))

	p, err := f.preds.GetByID(context.Background(), "p-legacy")
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusWon, p.Status)
}

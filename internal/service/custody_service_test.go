package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opwisdom/wisdomd/internal/domain"
)

func predictRequest(userID, marketID string) PredictionRequest {
	return PredictionRequest{
		UserID:    userID,
		MarketID:  marketID,
		OutcomeID: 1,
		Amount:    40,
		Nonce:     "nonce-1",
	}
}

func TestCreatePredictionWithCustody(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)

	assert.Equal(t, domain.CustodyStatusPending, res.Transaction.Status)
	assert.Equal(t, domain.BlockchainStatusUnresolved, res.Transaction.BlockchainStatus)
	assert.Equal(t, domain.TransactionTypePredict, res.Transaction.Type)
	assert.Equal(t, "nonce-1", res.Transaction.Nonce)
	assert.Equal(t, res.Receipt.ID, res.Prediction.ReceiptID)
	assert.Equal(t, domain.PredictionStatusPending, res.Prediction.Status)

	b, err := f.balances.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 60.0, b.AvailableBalance)
	assert.Equal(t, 40.0, b.InPredictions)

	m, err := f.markets.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, m.PoolAmount)
	assert.Equal(t, 1, m.Participants)
	assert.Equal(t, 40.0, m.Outcomes[0].Amount)
	assert.Equal(t, 1, m.Outcomes[0].Votes)

	assert.Contains(t, f.bus.channels(), domain.ChannelPredictions)
}

func TestCreatePredictionFirstTouchCreatesAccount(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")

	// No prior balance read: the predict path itself opens the account
	// with the initial grant before debiting.
	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusPending, res.Prediction.Status)

	b, err := f.balances.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, initialGrant-40, b.AvailableBalance, 1e-9)
	assert.InDelta(t, 40, b.InPredictions, 1e-9)
}

func TestCreatePredictionGuards(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	t.Run("unauthorized", func(t *testing.T) {
		_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), bob, predictRequest("alice", "m1"))
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("nonpositive amount", func(t *testing.T) {
		req := predictRequest("alice", "m1")
		req.Amount = 0
		_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, req)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("missing nonce", func(t *testing.T) {
		req := predictRequest("alice", "m1")
		req.Nonce = ""
		_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, req)
		assert.ErrorIs(t, err, domain.ErrMissingNonce)
	})

	t.Run("unknown market", func(t *testing.T) {
		_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "nope"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown outcome", func(t *testing.T) {
		req := predictRequest("alice", "m1")
		req.OutcomeID = 9
		_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, req)
		assert.ErrorIs(t, err, domain.ErrOutcomeNotFound)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		req := predictRequest("alice", "m1")
		req.Amount = 500
		_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, req)
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})
}

func TestCreatePredictionOnEndedMarketHasNoSideEffects(t *testing.T) {
	f := newFixture()
	m := f.seedMarket("m1")
	m.EndDate = f.now.Add(-time.Hour)
	f.markets.markets["m1"] = m
	f.seedBalance("alice", 100)

	_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	assert.ErrorIs(t, err, domain.ErrMarketEnded)

	b, _ := f.balances.Get(context.Background(), "alice")
	assert.Equal(t, 100.0, b.AvailableBalance, "no debit on rejected prediction")
	assert.Zero(t, b.InPredictions)
	assert.Empty(t, f.custody.txs, "no custody row on rejected prediction")
	assert.Empty(t, f.preds.predictions)

	got, _ := f.markets.GetByID(context.Background(), "m1")
	assert.Zero(t, got.PoolAmount)
	assert.Zero(t, got.Participants)
}

func TestCreatePredictionOnInactiveMarket(t *testing.T) {
	f := newFixture()
	m := f.seedMarket("m1")
	m.Status = domain.MarketStatusResolved
	f.markets.markets["m1"] = m
	f.seedBalance("alice", 100)

	_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)
}

func TestReturnPredictionRoundTrip(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	require.NoError(t, f.custodySvc.ReturnPrediction(context.Background(), alice, res.Transaction.ID))

	b, _ := f.balances.Get(context.Background(), "alice")
	assert.Equal(t, 100.0, b.AvailableBalance, "full refund")
	assert.Zero(t, b.InPredictions)

	m, _ := f.markets.GetByID(context.Background(), "m1")
	assert.Zero(t, m.PoolAmount)
	assert.Zero(t, m.Participants)
	assert.Zero(t, m.Outcomes[0].Amount)
	assert.Zero(t, m.Outcomes[0].Votes)

	_, err = f.preds.GetByID(context.Background(), res.Prediction.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "prediction removed")
	_, err = f.custody.GetTransaction(context.Background(), res.Transaction.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "transaction removed")
}

func TestReturnPredictionGuards(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 200)

	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)
	txID := res.Transaction.ID

	t.Run("not owner", func(t *testing.T) {
		err := f.custodySvc.ReturnPrediction(context.Background(), bob, txID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("window expired", func(t *testing.T) {
		f.now = f.now.Add(16 * time.Minute)
		err := f.custodySvc.ReturnPrediction(context.Background(), alice, txID)
		assert.ErrorIs(t, err, domain.ErrReturnWindowExpired)
		f.now = f.now.Add(-16 * time.Minute)
	})

	t.Run("not pending", func(t *testing.T) {
		require.NoError(t, f.custody.UpdateStatus(context.Background(), txID, domain.CustodyStatusSubmitted))
		err := f.custodySvc.ReturnPrediction(context.Background(), alice, txID)
		assert.ErrorIs(t, err, domain.ErrNotPending)
		require.NoError(t, f.custody.UpdateStatus(context.Background(), txID, domain.CustodyStatusPending))
	})

	t.Run("claim transactions are not returnable", func(t *testing.T) {
		claim, err := f.custody.CreateClaimRewardWithCustody(context.Background(), domain.ClaimIntent{
			UserID: "alice", PredictionID: res.Prediction.ID, ReceiptID: res.Receipt.ID, Nonce: "claim-nonce",
		})
		require.NoError(t, err)
		err = f.custodySvc.ReturnPrediction(context.Background(), alice, claim.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestClaimRewardWithCustody(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)
	require.NoError(t, f.preds.UpdateStatus(context.Background(), res.Prediction.ID, domain.PredictionStatusWon, 76))

	claim, err := f.custodySvc.ClaimRewardWithCustody(context.Background(), alice, ClaimRequest{
		PredictionID: res.Prediction.ID,
		Nonce:        "claim-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeClaimReward, claim.Type)
	assert.Equal(t, domain.CustodyStatusPending, claim.Status)

	// Optimistic settlement: redeemed immediately, funds released.
	p, err := f.preds.GetByID(context.Background(), res.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusRedeemed, p.Status)

	b, _ := f.balances.Get(context.Background(), "alice")
	assert.Equal(t, 136.0, b.AvailableBalance, "stake released plus payout")
	assert.Zero(t, b.InPredictions)
}

func TestClaimRewardGuards(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)
	pid := res.Prediction.ID

	t.Run("not winning while pending", func(t *testing.T) {
		_, err := f.custodySvc.ClaimRewardWithCustody(context.Background(), alice, ClaimRequest{PredictionID: pid, Nonce: "n"})
		assert.ErrorIs(t, err, domain.ErrNotWinning)
	})

	t.Run("not winning when lost", func(t *testing.T) {
		require.NoError(t, f.preds.UpdateStatus(context.Background(), pid, domain.PredictionStatusLost, 0))
		_, err := f.custodySvc.ClaimRewardWithCustody(context.Background(), alice, ClaimRequest{PredictionID: pid, Nonce: "n"})
		assert.ErrorIs(t, err, domain.ErrNotWinning)
	})

	t.Run("not owner", func(t *testing.T) {
		require.NoError(t, f.preds.UpdateStatus(context.Background(), pid, domain.PredictionStatusWon, 76))
		_, err := f.custodySvc.ClaimRewardWithCustody(context.Background(), bob, ClaimRequest{PredictionID: pid, Nonce: "n"})
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("lock held reads as already claimed", func(t *testing.T) {
		unlock, err := f.locks.Acquire(context.Background(), "claim:other-nonce", time.Minute)
		require.NoError(t, err)
		defer unlock()
		_, err = f.custodySvc.ClaimRewardWithCustody(context.Background(), alice, ClaimRequest{PredictionID: pid, Nonce: "other-nonce"})
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})

	t.Run("second claim rejected", func(t *testing.T) {
		_, err := f.custodySvc.ClaimRewardWithCustody(context.Background(), alice, ClaimRequest{PredictionID: pid, Nonce: "claim-1"})
		require.NoError(t, err)
		_, err = f.custodySvc.ClaimRewardWithCustody(context.Background(), alice, ClaimRequest{PredictionID: pid, Nonce: "claim-2"})
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed, "prediction already redeemed")
	})
}

func TestClaimRewardDedupsLegacyRows(t *testing.T) {
	f := newFixture()

	// Legacy prediction: the on-chain id lives only in the claim nonce,
	// the receipt id column is blank on both the prediction and the claim.
	f.preds.predictions["p-legacy"] = domain.Prediction{
		ID:     "p-legacy",
		UserID: "alice",
		Status: domain.PredictionStatusWon,
	}
	f.custody.txs["tx-prior"] = domain.CustodyTransaction{
		ID:           "tx-prior",
		UserID:       "alice",
		Type:         domain.TransactionTypeClaimReward,
		Nonce:        "nft-legacy-1",
		PredictionID: "p-legacy",
		Status:       domain.CustodyStatusConfirmed,
	}

	// The blank receipt id must not hide the prior claim on the nonce.
	_, err := f.custodySvc.ClaimRewardWithCustody(context.Background(), alice,
		ClaimRequest{PredictionID: "p-legacy", Nonce: "nft-legacy-1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	// And blank columns must not collide with each other: a claim under a
	// different on-chain id still goes through.
	f.preds.predictions["p-legacy-2"] = domain.Prediction{
		ID:     "p-legacy-2",
		UserID: "alice",
		Status: domain.PredictionStatusWon,
	}
	_, err = f.custodySvc.ClaimRewardWithCustody(context.Background(), alice,
		ClaimRequest{PredictionID: "p-legacy-2", Nonce: "nft-legacy-2"})
	require.NoError(t, err)
}

func TestCanClaimReward(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)
	pid := res.Prediction.ID

	ok, err := f.custodySvc.CanClaimReward(context.Background(), alice, pid)
	require.NoError(t, err)
	assert.False(t, ok, "pending prediction is not claimable")

	require.NoError(t, f.preds.UpdateStatus(context.Background(), pid, domain.PredictionStatusWon, 76))
	ok, err = f.custodySvc.CanClaimReward(context.Background(), alice, pid)
	require.NoError(t, err)
	assert.True(t, ok, "won and unclaimed")

	// A claim referencing the receipt makes it unclaimable, whatever field matched.
	_, err = f.custody.CreateClaimRewardWithCustody(context.Background(), domain.ClaimIntent{
		UserID: "alice", PredictionID: pid, ReceiptID: res.Receipt.ID, Nonce: "n-x",
	})
	require.NoError(t, err)
	ok, err = f.custodySvc.CanClaimReward(context.Background(), alice, pid)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckReturnable(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 200)
	f.seedBalance("bob", 200)

	fresh, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)

	req := predictRequest("bob", "m1")
	req.Nonce = "nonce-bob"
	other, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), bob, req)
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	req2 := predictRequest("alice", "m1")
	req2.Nonce = "nonce-2"
	late, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, req2)
	require.NoError(t, err)

	f.now = f.now.Add(12 * time.Minute)
	got, err := f.custodySvc.CheckReturnable(context.Background(), alice, []string{
		fresh.Transaction.ID,
		fresh.Transaction.ID, // duplicate collapses
		late.Transaction.ID,
		other.Transaction.ID,
		"missing",
		"",
	})
	require.NoError(t, err)

	assert.Len(t, got, 4)
	assert.False(t, got[fresh.Transaction.ID], "17 minutes old")
	assert.True(t, got[late.Transaction.ID], "12 minutes old")
	assert.False(t, got[other.Transaction.ID], "owned by someone else")
	assert.False(t, got["missing"])
}

func TestUpdateTransactionStatus(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedBalance("alice", 100)

	res, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, predictRequest("alice", "m1"))
	require.NoError(t, err)
	txID := res.Transaction.ID

	require.NoError(t, f.custodySvc.UpdateTransactionStatus(context.Background(), root, txID, domain.CustodyStatusSubmitted))
	require.NoError(t, f.custodySvc.UpdateTransactionStatus(context.Background(), root, txID, domain.CustodyStatusConfirmed))

	err = f.custodySvc.UpdateTransactionStatus(context.Background(), root, txID, domain.CustodyStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "confirmed is terminal")
}

func TestCountPendingPredictionsByMarket(t *testing.T) {
	f := newFixture()
	f.seedMarket("m1")
	f.seedMarket("m2")
	f.seedBalance("alice", 500)

	for i, marketID := range []string{"m1", "m1", "m2"} {
		req := predictRequest("alice", marketID)
		req.Nonce = req.Nonce + string(rune('a'+i))
		_, err := f.custodySvc.CreatePredictionWithCustody(context.Background(), alice, req)
		require.NoError(t, err)
	}

	// Submitting one removes it from the pending set.
	pending, err := f.custody.ListPendingPredictions(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.NoError(t, f.custody.UpdateStatus(context.Background(), pending[0].ID, domain.CustodyStatusSubmitted))

	n, err := f.custody.CountPendingPredictions(context.Background(), "m1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.custody.CountPendingPredictions(context.Background(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "unfiltered count spans markets")
}

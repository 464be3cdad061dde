package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCustodyTransactionOnChainID(t *testing.T) {
	tx := CustodyTransaction{Nonce: "nonce-1", ReceiptID: "nft-1"}
	assert.Equal(t, "nonce-1", tx.OnChainID(), "nonce is canonical")

	legacy := CustodyTransaction{ReceiptID: "nft-1"}
	assert.Equal(t, "nft-1", legacy.OnChainID(), "legacy rows fall back to receipt id")

	assert.Empty(t, CustodyTransaction{}.OnChainID())
}

func TestCustodyTransactionReferences(t *testing.T) {
	tx := CustodyTransaction{Nonce: "nonce-1", ReceiptID: "nft-1"}

	assert.True(t, tx.References("nonce-1"))
	assert.True(t, tx.References("nft-1"))
	assert.False(t, tx.References("other"))
	assert.False(t, tx.References(""), "empty id never matches")
}

func TestCustodyTransactionReturnable(t *testing.T) {
	now := time.Now()
	base := CustodyTransaction{
		Type:           TransactionTypePredict,
		Status:         CustodyStatusPending,
		TakenCustodyAt: now.Add(-5 * time.Minute),
	}

	assert.True(t, base.Returnable(now))

	expired := base
	expired.TakenCustodyAt = now.Add(-16 * time.Minute)
	assert.False(t, expired.Returnable(now), "outside the return window")

	boundary := base
	boundary.TakenCustodyAt = now.Add(-ReturnWindow)
	assert.False(t, boundary.Returnable(now), "window is exclusive at exactly 15m")

	submitted := base
	submitted.Status = CustodyStatusSubmitted
	assert.False(t, submitted.Returnable(now), "only pending transactions return")

	claim := base
	claim.Type = TransactionTypeClaimReward
	assert.False(t, claim.Returnable(now), "only predict transactions return")
}

func TestCustodyTransactionCanTransition(t *testing.T) {
	tests := []struct {
		from CustodyStatus
		to   CustodyStatus
		want bool
	}{
		{CustodyStatusPending, CustodyStatusSubmitted, true},
		{CustodyStatusPending, CustodyStatusConfirmed, true},
		{CustodyStatusPending, CustodyStatusRejected, true},
		{CustodyStatusSubmitted, CustodyStatusConfirmed, true},
		{CustodyStatusSubmitted, CustodyStatusRejected, true},
		{CustodyStatusSubmitted, CustodyStatusPending, false},
		{CustodyStatusConfirmed, CustodyStatusRejected, false},
		{CustodyStatusConfirmed, CustodyStatusPending, false},
		{CustodyStatusRejected, CustodyStatusConfirmed, false},
	}

	for _, tt := range tests {
		tx := CustodyTransaction{Status: tt.from}
		assert.Equal(t, tt.want, tx.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

package domain

import "time"

// ReturnWindow is how long after custody is taken a user may cancel a pending
// predict transaction and get their stake back.
const ReturnWindow = 15 * time.Minute

// TransactionType classifies custody transactions.
type TransactionType string

const (
	TransactionTypeTransfer    TransactionType = "transfer"
	TransactionTypePredict     TransactionType = "predict"
	TransactionTypeClaimReward TransactionType = "claim-reward"
)

// CustodyStatus is the off-chain custody/submission lifecycle of a
// transaction. It is independent of BlockchainStatus.
type CustodyStatus string

const (
	CustodyStatusPending   CustodyStatus = "pending"
	CustodyStatusSubmitted CustodyStatus = "submitted"
	CustodyStatusConfirmed CustodyStatus = "confirmed"
	CustodyStatusRejected  CustodyStatus = "rejected"
)

// BlockchainStatus is the on-chain resolution state of a prediction, tracked
// on a separate axis from the custody lifecycle.
type BlockchainStatus string

const (
	BlockchainStatusUnresolved BlockchainStatus = "unresolved"
	BlockchainStatusWon        BlockchainStatus = "won"
	BlockchainStatusLost       BlockchainStatus = "lost"
	BlockchainStatusRedeemed   BlockchainStatus = "redeemed"
)

// CustodyTransaction records that the server holds a user-signed blockchain
// operation pending submission and confirmation.
//
// Nonce is the canonical on-chain identifier. ReceiptID is kept as a legacy
// alias because historical rows stored the on-chain id there; dedup checks
// consult both fields.
type CustodyTransaction struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	Type             TransactionType  `json:"type"`
	Signature        string           `json:"signature"`
	Nonce            string           `json:"nonce"`
	Signer           string           `json:"signer"`
	SubnetID         string           `json:"subnetId"`
	MarketID         string           `json:"marketId,omitempty"`
	OutcomeID        int              `json:"outcomeId,omitempty"`
	Amount           float64          `json:"amount,omitempty"`
	ReceiptID        string           `json:"receiptId,omitempty"`
	PredictionID     string           `json:"predictionId,omitempty"`
	Status           CustodyStatus    `json:"status"`
	BlockchainStatus BlockchainStatus `json:"blockchainStatus"`
	TakenCustodyAt   time.Time        `json:"takenCustodyAt"`
	VerifiedAt       *time.Time       `json:"verifiedAt,omitempty"`
}

// OnChainID returns the identifier used to reference this transaction on
// chain: the nonce when present, otherwise the legacy receipt id.
func (t CustodyTransaction) OnChainID() string {
	if t.Nonce != "" {
		return t.Nonce
	}
	return t.ReceiptID
}

// References reports whether this transaction points at the given on-chain
// id through either the canonical nonce or the legacy receipt id field.
func (t CustodyTransaction) References(nftID string) bool {
	if nftID == "" {
		return false
	}
	return t.Nonce == nftID || t.ReceiptID == nftID
}

// Returnable reports whether the transaction can still be returned at the
// given time: only pending predict transactions inside the return window.
func (t CustodyTransaction) Returnable(now time.Time) bool {
	if t.Type != TransactionTypePredict {
		return false
	}
	if t.Status != CustodyStatusPending {
		return false
	}
	return now.Sub(t.TakenCustodyAt) < ReturnWindow
}

// CanTransition reports whether the custody axis permits moving from the
// transaction's current status to the target status.
func (t CustodyTransaction) CanTransition(to CustodyStatus) bool {
	switch t.Status {
	case CustodyStatusPending:
		return to == CustodyStatusSubmitted || to == CustodyStatusConfirmed || to == CustodyStatusRejected
	case CustodyStatusSubmitted:
		return to == CustodyStatusConfirmed || to == CustodyStatusRejected
	default:
		// confirmed and rejected are terminal.
		return false
	}
}

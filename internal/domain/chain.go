package domain

import "context"

// BatchReceipt summarizes one on-chain batch submission.
type BatchReceipt struct {
	TxHash   string   `json:"txHash"`
	MarketID string   `json:"marketId"`
	Accepted []string `json:"accepted"` // on-chain ids accepted into the batch
	Rejected []string `json:"rejected"` // on-chain ids the contract refused
}

// ChainClient talks to the settlement contract. Implementations must be safe
// for concurrent use.
type ChainClient interface {
	// SubmitBatch submits the given on-chain ids for a single market and
	// blocks until the transaction is mined or ctx is done.
	SubmitBatch(ctx context.Context, marketID string, onChainIDs []string) (*BatchReceipt, error)

	// PredictionStatus returns the contract's view of a prediction.
	PredictionStatus(ctx context.Context, onChainID string) (BlockchainStatus, error)

	// MarketResolution reports whether the contract has resolved the market
	// and, if so, the winning outcome id.
	MarketResolution(ctx context.Context, marketID string) (resolved bool, outcomeID int, err error)
}

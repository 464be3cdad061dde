package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// Nop is the domain.ChainClient used when chain submission is disabled. It
// accepts every batch with a synthetic transaction hash and reports every
// prediction as unresolved, which keeps the custody pipeline exercisable in
// development without an RPC endpoint.
type Nop struct{}

var _ domain.ChainClient = Nop{}

func (Nop) SubmitBatch(_ context.Context, marketID string, onChainIDs []string) (*domain.BatchReceipt, error) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", marketID, strings.Join(onChainIDs, ","), time.Now().UnixNano())))
	return &domain.BatchReceipt{
		TxHash:   "0x" + hex.EncodeToString(sum[:]),
		MarketID: marketID,
		Accepted: onChainIDs,
	}, nil
}

func (Nop) PredictionStatus(context.Context, string) (domain.BlockchainStatus, error) {
	return domain.BlockchainStatusUnresolved, nil
}

func (Nop) MarketResolution(context.Context, string) (bool, int, error) {
	return false, 0, nil
}

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// Method selectors: first 4 bytes of keccak256 of the canonical signature.
var (
	selSubmitBatch      = ethcrypto.Keccak256([]byte("submitBatch(bytes32,bytes32[])"))[:4]
	selPredictionStatus = ethcrypto.Keccak256([]byte("predictionStatus(bytes32)"))[:4]
	selMarketResolution = ethcrypto.Keccak256([]byte("marketResolution(bytes32)"))[:4]
)

// Config holds the parameters for a contract-backed client.
type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	Key             *ecdsa.PrivateKey
}

// Client is the JSON-RPC implementation of domain.ChainClient. All writes go
// through a single signing key, so SubmitBatch serializes nonce allocation
// internally via the pending-nonce query.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	log      *slog.Logger
}

var _ domain.ChainClient = (*Client)(nil)

// New dials the RPC endpoint and verifies the configured chain id matches
// the node's.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dialing %s: %w", cfg.RPCURL, err)
	}

	nodeChainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: querying chain id: %w", err)
	}
	if nodeChainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: node reports chain id %d, config says %d", nodeChainID.Int64(), cfg.ChainID)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		eth.Close()
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}

	return &Client{
		eth:      eth,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  big.NewInt(cfg.ChainID),
		key:      cfg.Key,
		from:     ethcrypto.PubkeyToAddress(cfg.Key.PublicKey),
		log:      log.With("component", "chain"),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// From returns the submitting address.
func (c *Client) From() common.Address {
	return c.from
}

// SubmitBatch submits the on-chain ids for one market and waits for the
// transaction to be mined. A mined-but-reverted transaction is an error;
// callers treat it as retryable.
func (c *Client) SubmitBatch(ctx context.Context, marketID string, onChainIDs []string) (*domain.BatchReceipt, error) {
	if len(onChainIDs) == 0 {
		return &domain.BatchReceipt{MarketID: marketID}, nil
	}

	data := packSubmitBatch(marketID, onChainIDs)

	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("chain: fetching nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fetching gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: estimating gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gasLimit + gasLimit/5, // headroom over the estimate
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("chain: signing transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: sending transaction: %w", err)
	}

	c.log.Info("batch submitted",
		"market_id", marketID,
		"count", len(onChainIDs),
		"tx_hash", signed.Hash().Hex())

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("chain: batch transaction %s reverted", signed.Hash().Hex())
	}

	return &domain.BatchReceipt{
		TxHash:   signed.Hash().Hex(),
		MarketID: marketID,
		Accepted: onChainIDs,
	}, nil
}

// PredictionStatus reads the contract's status word for one prediction.
func (c *Client) PredictionStatus(ctx context.Context, onChainID string) (domain.BlockchainStatus, error) {
	data := append(append([]byte{}, selPredictionStatus...), idWord(onChainID)...)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("chain: predictionStatus call: %w", err)
	}
	if len(out) < 32 {
		return "", fmt.Errorf("chain: predictionStatus returned %d bytes", len(out))
	}

	switch out[31] {
	case 0:
		return domain.BlockchainStatusUnresolved, nil
	case 1:
		return domain.BlockchainStatusWon, nil
	case 2:
		return domain.BlockchainStatusLost, nil
	case 3:
		return domain.BlockchainStatusRedeemed, nil
	default:
		return "", fmt.Errorf("chain: unknown prediction status %d", out[31])
	}
}

// MarketResolution reads the contract's (resolved, outcomeId) pair for a
// market.
func (c *Client) MarketResolution(ctx context.Context, marketID string) (bool, int, error) {
	data := append(append([]byte{}, selMarketResolution...), idWord(marketID)...)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return false, 0, fmt.Errorf("chain: marketResolution call: %w", err)
	}
	if len(out) < 64 {
		return false, 0, fmt.Errorf("chain: marketResolution returned %d bytes", len(out))
	}

	resolved := out[31] != 0
	outcomeID := int(new(big.Int).SetBytes(out[32:64]).Int64())
	return resolved, outcomeID, nil
}

// waitMined polls for the transaction receipt until the context expires.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			c.log.Warn("receipt poll failed", "tx_hash", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// packSubmitBatch ABI-encodes submitBatch(bytes32 marketId, bytes32[] ids).
func packSubmitBatch(marketID string, ids []string) []byte {
	data := append([]byte{}, selSubmitBatch...)
	data = append(data, idWord(marketID)...)
	// Offset of the dynamic array: two head words.
	data = append(data, uintWord(64)...)
	data = append(data, uintWord(uint64(len(ids)))...)
	for _, id := range ids {
		data = append(data, idWord(id)...)
	}
	return data
}

// idWord maps an application-level id (uuid, nonce) to the bytes32 the
// contract keys on: keccak256 of the id's UTF-8 bytes.
func idWord(id string) []byte {
	return ethcrypto.Keccak256([]byte(id))
}

// uintWord encodes v as a left-padded 32-byte big-endian word.
func uintWord(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

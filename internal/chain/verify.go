package chain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// personalHash computes the EIP-191 ("personal_sign") digest of message.
func personalHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// VerifyPersonalSignature checks that sigHex is a valid personal_sign
// signature of message by address. It returns domain.ErrInvalidSignature on
// any mismatch so callers can map it to a 401 without string matching.
func VerifyPersonalSignature(address, message, sigHex string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: bad address", domain.ErrInvalidSignature)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("%w: malformed signature", domain.ErrInvalidSignature)
	}

	// Wallets emit v in {27,28}; Ecrecover wants {0,1}.
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := ethcrypto.SigToPub(personalHash(message), sig)
	if err != nil {
		return fmt.Errorf("%w: recovery failed", domain.ErrInvalidSignature)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(address) {
		return fmt.Errorf("%w: signer mismatch", domain.ErrInvalidSignature)
	}
	return nil
}

// SignPersonal produces a personal_sign signature of message with key. The
// returned hex string uses v in {27,28} to match wallet output.
func SignPersonal(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := ethcrypto.Sign(personalHash(message), key)
	if err != nil {
		return "", fmt.Errorf("chain: signing message: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

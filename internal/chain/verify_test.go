package chain

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opwisdom/wisdomd/internal/domain"
)

func TestPersonalSignatureRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	msg := "predict|user-1|market-1|2|40.00|nonce-abc"
	sig, err := SignPersonal(key, msg)
	require.NoError(t, err)

	assert.NoError(t, VerifyPersonalSignature(address, msg, sig))
}

func TestPersonalSignatureWrongSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	otherAddr := ethcrypto.PubkeyToAddress(other.PublicKey).Hex()

	sig, err := SignPersonal(key, "hello")
	require.NoError(t, err)

	err = VerifyPersonalSignature(otherAddr, "hello", sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestPersonalSignatureWrongMessage(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := SignPersonal(key, "hello")
	require.NoError(t, err)

	err = VerifyPersonalSignature(address, "goodbye", sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestPersonalSignatureMalformedInput(t *testing.T) {
	err := VerifyPersonalSignature("not-an-address", "msg", "0x00")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = VerifyPersonalSignature("0x0000000000000000000000000000000000000001", "msg", "zz")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = VerifyPersonalSignature("0x0000000000000000000000000000000000000001", "msg", "0xdeadbeef")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestEncryptedKeyRoundTrip(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hex.EncodeToString(ethcrypto.FromECDSA(key))

	encrypted, err := EncryptKey(hexKey, "correct horse")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, encrypted, 0o600))

	loaded, err := LoadKey(KeyConfig{
		EncryptedKeyPath: path,
		KeyPassword:      "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, key.D, loaded.D)
}

func TestEncryptedKeyWrongPassword(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hex.EncodeToString(ethcrypto.FromECDSA(key))

	encrypted, err := EncryptKey(hexKey, "right")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, encrypted, 0o600))

	_, err = LoadKey(KeyConfig{
		EncryptedKeyPath: path,
		KeyPassword:      "wrong",
	})
	assert.Error(t, err)
}

func TestLoadKeyRaw(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hex.EncodeToString(ethcrypto.FromECDSA(key))

	loaded, err := LoadKey(KeyConfig{RawPrivateKey: hexKey})
	require.NoError(t, err)
	assert.Equal(t, key.D, loaded.D)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err, "no key source configured")
}

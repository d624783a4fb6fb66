package tron

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tronmech "github.com/open-aibank/x402-tron/mechanisms/tron"
)

func TestNewKeyFromHex(t *testing.T) {
	key, err := NewKeyFromHex("0x1faabbccddeeff00112233445566778899aabbccddeeff001122334455667788")
	require.NoError(t, err)

	// The address is valid Base58Check and stable across parses.
	_, err = tronmech.DecodeBase58(key.Address())
	require.NoError(t, err)

	again, err := NewKeyFromHex("1faabbccddeeff00112233445566778899aabbccddeeff001122334455667788")
	require.NoError(t, err)
	assert.Equal(t, key.Address(), again.Address())
}

func TestNewKeyFromHexRejectsGarbage(t *testing.T) {
	_, err := NewKeyFromHex("not-a-key")
	assert.Error(t, err)

	_, err = NewKeyFromHex("0x1234")
	assert.Error(t, err)
}

func TestKeyAddressMatchesPublicKey(t *testing.T) {
	generated, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := NewKey(generated)

	expected := tronmech.EncodeBase58([20]byte(crypto.PubkeyToAddress(generated.PublicKey)))
	assert.Equal(t, expected, key.Address())
}

func TestSignDigestRecoversToKey(t *testing.T) {
	generated, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := NewKey(generated)

	digest := sha256.Sum256([]byte("payload"))
	signature, err := key.SignDigest(digest[:])
	require.NoError(t, err)
	require.Len(t, signature, 65)

	publicKey, err := crypto.SigToPub(digest[:], signature)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(generated.PublicKey), crypto.PubkeyToAddress(*publicKey))
}

func TestSignTransaction(t *testing.T) {
	generated, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := NewKey(generated)

	rawData := []byte("raw transaction bytes")
	digest := sha256.Sum256(rawData)

	tx := &Transaction{
		TxID:       hex.EncodeToString(digest[:]),
		RawDataHex: hex.EncodeToString(rawData),
	}

	require.NoError(t, signTransaction(key, tx))
	require.Len(t, tx.Signature, 1)

	signature, err := hex.DecodeString(tx.Signature[0])
	require.NoError(t, err)
	publicKey, err := crypto.SigToPub(digest[:], signature)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(generated.PublicKey), crypto.PubkeyToAddress(*publicKey))
}

func TestSignTransactionRejectsMismatchedID(t *testing.T) {
	generated, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := NewKey(generated)

	tx := &Transaction{
		TxID:       "00112233",
		RawDataHex: hex.EncodeToString([]byte("raw transaction bytes")),
	}
	assert.Error(t, signTransaction(key, tx))
	assert.Empty(t, tx.Signature)
}

package tron

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	tronmech "github.com/open-aibank/x402-tron/mechanisms/tron"
)

// Key is a local secp256k1 signing key with its derived TRON address. It is
// the in-process Provider implementation.
type Key struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewKeyFromHex parses a hex-encoded private key, with or without the 0x
// prefix.
func NewKeyFromHex(privateKeyHex string) (*Key, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKey(privateKey), nil
}

// NewKey wraps an existing private key. The TRON address is the Base58Check
// form of the key's EVM address.
func NewKey(privateKey *ecdsa.PrivateKey) *Key {
	evmAddress := crypto.PubkeyToAddress(privateKey.PublicKey)
	return &Key{
		privateKey: privateKey,
		address:    tronmech.EncodeBase58([20]byte(evmAddress)),
	}
}

// Address returns the key's Base58Check address.
func (k *Key) Address() string {
	return k.address
}

// SignDigest signs a 32-byte digest and returns the 65-byte signature with a
// raw recovery id (v = 0/1).
func (k *Key) SignDigest(digest []byte) ([]byte, error) {
	signature, err := crypto.Sign(digest, k.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return signature, nil
}


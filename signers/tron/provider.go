package tron

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Provider abstracts where the signing key lives. Key implements it with an
// in-process key; remote or HSM-backed providers implement the same two
// methods.
type Provider interface {
	// Address returns the provider's Base58Check address.
	Address() string

	// SignDigest signs a 32-byte digest and returns the 65-byte signature
	// with a raw recovery id (v = 0/1).
	SignDigest(digest []byte) ([]byte, error)
}

// signTransaction signs a node-built transaction in place. The transaction
// id is the SHA-256 of the raw transaction bytes; signing it authorizes the
// transaction.
func signTransaction(provider Provider, tx *Transaction) error {
	rawData, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return fmt.Errorf("malformed raw_data_hex: %w", err)
	}

	digest := sha256.Sum256(rawData)
	if tx.TxID != "" && tx.TxID != hex.EncodeToString(digest[:]) {
		return fmt.Errorf("transaction id does not match raw data")
	}

	signature, err := provider.SignDigest(digest[:])
	if err != nil {
		return err
	}
	tx.Signature = append(tx.Signature, hex.EncodeToString(signature))
	return nil
}

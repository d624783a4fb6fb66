package tron

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"

	x402 "github.com/open-aibank/x402-tron"
)

// TRON addresses are 20-byte payloads carried in two encodings: Base58Check
// with a 0x41 version byte ("T..."), and the EVM hex form ("0x" + 20 bytes)
// used inside EIP-712 messages.

const tronAddressPrefix = 0x41

// ZeroAddressBase58 is the Base58Check form of the all-zero address.
const ZeroAddressBase58 = "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb"

// ZeroAddressEVM is the hex form of the all-zero address.
const ZeroAddressEVM = "0x0000000000000000000000000000000000000000"

// EncodeBase58 encodes a 20-byte address payload as Base58Check.
func EncodeBase58(payload [20]byte) string {
	versioned := append([]byte{tronAddressPrefix}, payload[:]...)
	checksum := doubleSHA256(versioned)[:4]
	return base58.Encode(append(versioned, checksum...))
}

// DecodeBase58 decodes a Base58Check address into its 20-byte payload,
// rejecting bad checksums and wrong version bytes.
func DecodeBase58(address string) ([20]byte, error) {
	var payload [20]byte

	raw, err := base58.Decode(address)
	if err != nil {
		return payload, &x402.InvalidAddressError{Address: address, Reason: "not valid base58"}
	}
	if len(raw) != 25 {
		return payload, &x402.InvalidAddressError{Address: address, Reason: "wrong length"}
	}
	if raw[0] != tronAddressPrefix {
		return payload, &x402.InvalidAddressError{Address: address, Reason: "wrong version byte"}
	}

	versioned, checksum := raw[:21], raw[21:]
	if !bytes.Equal(doubleSHA256(versioned)[:4], checksum) {
		return payload, &x402.InvalidAddressError{Address: address, Reason: "bad checksum"}
	}

	copy(payload[:], versioned[1:])
	return payload, nil
}

// ToEVMHex converts an address in either encoding to its 0x hex form.
func ToEVMHex(address string) (string, error) {
	payload, err := addressPayload(address)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(payload[:]), nil
}

// NormalizeAddress converts an address in either encoding to Base58Check.
// Contract calls and whitelist comparisons always use this form.
func NormalizeAddress(address string) (string, error) {
	payload, err := addressPayload(address)
	if err != nil {
		return "", err
	}
	return EncodeBase58(payload), nil
}

// AddressPayload returns the raw 20-byte payload of an address in either
// encoding.
func AddressPayload(address string) ([20]byte, error) {
	return addressPayload(address)
}

func addressPayload(address string) ([20]byte, error) {
	var payload [20]byte

	switch {
	case strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X"):
		raw, err := hex.DecodeString(address[2:])
		if err != nil || len(raw) != 20 {
			return payload, &x402.InvalidAddressError{Address: address, Reason: "not a 20-byte hex address"}
		}
		copy(payload[:], raw)
		return payload, nil
	case len(address) == 42 && isHex(address):
		// 41-prefixed hex form used by TRON node APIs.
		raw, err := hex.DecodeString(address)
		if err != nil || raw[0] != tronAddressPrefix {
			return payload, &x402.InvalidAddressError{Address: address, Reason: "not a 41-prefixed hex address"}
		}
		copy(payload[:], raw[1:])
		return payload, nil
	default:
		return DecodeBase58(address)
	}
}

// SameAddress reports whether two addresses in any encoding name the same
// 20-byte payload.
func SameAddress(a, b string) bool {
	pa, err := addressPayload(a)
	if err != nil {
		return false
	}
	pb, err := addressPayload(b)
	if err != nil {
		return false
	}
	return pa == pb
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return len(s) > 0
}

func doubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

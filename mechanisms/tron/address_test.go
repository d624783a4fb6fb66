package tron

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mainnet USDT: payload a614f803b6fd780986a42c78ec9c7f77e6ded13c.
const (
	usdtBase58 = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	usdtHex    = "0xa614f803b6fd780986a42c78ec9c7f77e6ded13c"
)

func TestEncodeBase58KnownVector(t *testing.T) {
	raw, err := hex.DecodeString(usdtHex[2:])
	require.NoError(t, err)

	var payload [20]byte
	copy(payload[:], raw)
	assert.Equal(t, usdtBase58, EncodeBase58(payload))
}

func TestDecodeBase58RoundTrip(t *testing.T) {
	payload, err := DecodeBase58(usdtBase58)
	require.NoError(t, err)
	assert.Equal(t, usdtHex[2:], hex.EncodeToString(payload[:]))
	assert.Equal(t, usdtBase58, EncodeBase58(payload))
}

func TestDecodeBase58Rejects(t *testing.T) {
	cases := []struct {
		name    string
		address string
	}{
		{"bad checksum", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u"},
		{"not base58", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjL0OI"},
		{"too short", "T9yD14Nj9j7xAB"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBase58(tc.address)
			assert.Error(t, err)
		})
	}
}

func TestZeroAddress(t *testing.T) {
	var zero [20]byte
	assert.Equal(t, ZeroAddressBase58, EncodeBase58(zero))

	evm, err := ToEVMHex(ZeroAddressBase58)
	require.NoError(t, err)
	assert.Equal(t, ZeroAddressEVM, evm)
}

func TestToEVMHexFromEitherForm(t *testing.T) {
	fromBase58, err := ToEVMHex(usdtBase58)
	require.NoError(t, err)
	assert.Equal(t, usdtHex, fromBase58)

	fromHex, err := ToEVMHex(usdtHex)
	require.NoError(t, err)
	assert.Equal(t, usdtHex, fromHex)

	from41, err := ToEVMHex("41a614f803b6fd780986a42c78ec9c7f77e6ded13c")
	require.NoError(t, err)
	assert.Equal(t, usdtHex, from41)
}

func TestNormalizeAddress(t *testing.T) {
	normalized, err := NormalizeAddress(usdtHex)
	require.NoError(t, err)
	assert.Equal(t, usdtBase58, normalized)

	normalized, err = NormalizeAddress(usdtBase58)
	require.NoError(t, err)
	assert.Equal(t, usdtBase58, normalized)

	_, err = NormalizeAddress("not-an-address")
	assert.Error(t, err)
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress(usdtBase58, usdtHex))
	assert.True(t, SameAddress(usdtHex, "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"))
	assert.False(t, SameAddress(usdtBase58, ZeroAddressBase58))
	assert.False(t, SameAddress("garbage", usdtBase58))
}

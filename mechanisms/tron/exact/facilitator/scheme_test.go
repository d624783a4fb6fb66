package facilitator

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/open-aibank/x402-tron"
	"github.com/open-aibank/x402-tron/mechanisms/tron"
)

type writeCall struct {
	contract string
	calldata []byte
}

type mockFacilitatorSigner struct {
	address string

	verifyFunc  func(ctx context.Context, address string, domain tron.TypedDataDomain, types map[string][]tron.TypedDataField, primaryType string, message map[string]interface{}, signature string) (bool, error)
	writeFunc   func(ctx context.Context, contract string, calldata []byte, network x402.Network) (string, error)
	receiptFunc func(ctx context.Context, txHash string, network x402.Network) (tron.TransactionReceipt, error)

	writeCalls []writeCall
}

func (m *mockFacilitatorSigner) Address() string { return m.address }

func (m *mockFacilitatorSigner) VerifyTypedData(ctx context.Context, address string, domain tron.TypedDataDomain, types map[string][]tron.TypedDataField, primaryType string, message map[string]interface{}, signature string) (bool, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, address, domain, types, primaryType, message, signature)
	}
	return true, nil
}

func (m *mockFacilitatorSigner) WriteContract(ctx context.Context, contract string, calldata []byte, network x402.Network) (string, error) {
	m.writeCalls = append(m.writeCalls, writeCall{contract, calldata})
	if m.writeFunc != nil {
		return m.writeFunc(ctx, contract, calldata, network)
	}
	return "txhash123", nil
}

func (m *mockFacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string, network x402.Network) (tron.TransactionReceipt, error) {
	if m.receiptFunc != nil {
		return m.receiptFunc(ctx, txHash, network)
	}
	return tron.TransactionReceipt{Hash: txHash, BlockNumber: "1", Status: tron.ReceiptConfirmed}, nil
}

const (
	buyerAddr       = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	merchantAddr    = "TCR6EaRtLRYjWPr7YWHqt4uL81rfevtE8p"
	tokenAddr       = "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf"
	facilitatorAddr = "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs"
)

func nileRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:  tron.SchemeExact,
		Network: tron.NetworkNile,
		Amount:  "1000000",
		Asset:   tokenAddr,
		PayTo:   merchantAddr,
	}
}

func validPermit() x402.PaymentPermit {
	now := time.Now().Unix()
	return x402.PaymentPermit{
		Meta: x402.PermitMeta{
			Kind:        x402.KindPaymentOnly,
			PaymentID:   "0x0102030405060708090a0b0c0d0e0f10",
			Nonce:       "7",
			ValidAfter:  now - 60,
			ValidBefore: now + 3600,
		},
		Buyer:  buyerAddr,
		Caller: facilitatorAddr,
		Payment: x402.PermitPayment{
			PayToken:     tokenAddr,
			MaxPayAmount: "1000000",
			PayTo:        merchantAddr,
		},
		Fee: x402.PermitFee{
			FeeTo:     facilitatorAddr,
			FeeAmount: "0",
		},
		Delivery: x402.PermitDelivery{
			ReceiveToken:      tron.ZeroAddressBase58,
			MiniReceiveAmount: "0",
			TokenID:           "0",
		},
	}
}

func payloadFor(permit x402.PaymentPermit) x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 2,
		Accepted:    nileRequirements(),
		Payload: x402.PaymentPayloadData{
			Signature:     "0x" + strings.Repeat("ab", 65),
			PaymentPermit: &permit,
		},
	}
}

func TestSchemeName(t *testing.T) {
	scheme := New(&mockFacilitatorSigner{address: facilitatorAddr})
	assert.Equal(t, "exact", scheme.Scheme())
}

func TestFeeQuote(t *testing.T) {
	frozen := time.Unix(1_700_000_000, 0)
	scheme := New(&mockFacilitatorSigner{address: facilitatorAddr},
		WithClock(func() time.Time { return frozen }))

	quote, err := scheme.FeeQuote(context.Background(), nileRequirements())
	require.NoError(t, err)
	assert.Equal(t, facilitatorAddr, quote.Fee.FeeTo)
	assert.Equal(t, "1000000", quote.Fee.FeeAmount)
	assert.Equal(t, "per_accept", quote.Pricing)
	assert.Equal(t, tron.NetworkNile, quote.Network)
	assert.Equal(t, frozen.Unix()+300, quote.ExpiresAt)
}

func TestFeeQuoteOverrides(t *testing.T) {
	scheme := New(&mockFacilitatorSigner{address: facilitatorAddr},
		WithFeeTo(merchantAddr), WithBaseFee(42))

	quote, err := scheme.FeeQuote(context.Background(), nileRequirements())
	require.NoError(t, err)
	assert.Equal(t, merchantAddr, quote.Fee.FeeTo)
	assert.Equal(t, "42", quote.Fee.FeeAmount)
}

func TestVerifyValid(t *testing.T) {
	scheme := New(&mockFacilitatorSigner{address: facilitatorAddr})

	result, err := scheme.Verify(context.Background(), payloadFor(validPermit()), nileRequirements())
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.InvalidReason)
}

func TestVerifyMissingPermit(t *testing.T) {
	scheme := New(&mockFacilitatorSigner{address: facilitatorAddr})

	payload := payloadFor(validPermit())
	payload.Payload.PaymentPermit = nil

	result, err := scheme.Verify(context.Background(), payload, nileRequirements())
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "missing_payment_permit", result.InvalidReason)
}

func TestVerifyFailureReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*x402.PaymentPermit)
		reason string
	}{
		{
			"amount below required",
			func(p *x402.PaymentPermit) { p.Payment.MaxPayAmount = "999999" },
			"amount_mismatch",
		},
		{
			"payto mismatch",
			func(p *x402.PaymentPermit) { p.Payment.PayTo = tokenAddr },
			"payto_mismatch",
		},
		{
			"token mismatch",
			func(p *x402.PaymentPermit) { p.Payment.PayToken = merchantAddr },
			"token_mismatch",
		},
		{
			"expired",
			func(p *x402.PaymentPermit) { p.Meta.ValidBefore = time.Now().Unix() - 10 },
			"expired",
		},
		{
			"not yet valid",
			func(p *x402.PaymentPermit) { p.Meta.ValidAfter = time.Now().Unix() + 3600 },
			"not_yet_valid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scheme := New(&mockFacilitatorSigner{address: facilitatorAddr})
			permit := validPermit()
			tc.mutate(&permit)

			result, err := scheme.Verify(context.Background(), payloadFor(permit), nileRequirements())
			require.NoError(t, err)
			assert.False(t, result.IsValid)
			assert.Equal(t, tc.reason, result.InvalidReason)
		})
	}
}

func TestVerifyCheckOrder(t *testing.T) {
	// A permit that is both underfunded and expired reports the amount first.
	scheme := New(&mockFacilitatorSigner{address: facilitatorAddr})
	permit := validPermit()
	permit.Payment.MaxPayAmount = "1"
	permit.Meta.ValidBefore = time.Now().Unix() - 10

	result, err := scheme.Verify(context.Background(), payloadFor(permit), nileRequirements())
	require.NoError(t, err)
	assert.Equal(t, "amount_mismatch", result.InvalidReason)
}

func TestVerifyEqualAmountPasses(t *testing.T) {
	scheme := New(&mockFacilitatorSigner{address: facilitatorAddr})
	permit := validPermit()
	permit.Payment.MaxPayAmount = nileRequirements().Amount

	result, err := scheme.Verify(context.Background(), payloadFor(permit), nileRequirements())
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestVerifyInvalidSignature(t *testing.T) {
	signer := &mockFacilitatorSigner{
		address: facilitatorAddr,
		verifyFunc: func(ctx context.Context, address string, domain tron.TypedDataDomain, types map[string][]tron.TypedDataField, primaryType string, message map[string]interface{}, signature string) (bool, error) {
			return false, nil
		},
	}
	scheme := New(signer)

	result, err := scheme.Verify(context.Background(), payloadFor(validPermit()), nileRequirements())
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "invalid_signature", result.InvalidReason)
}

func TestVerifyTokenWhitelist(t *testing.T) {
	t.Run("nil whitelist allows all", func(t *testing.T) {
		scheme := New(&mockFacilitatorSigner{address: facilitatorAddr})
		result, err := scheme.Verify(context.Background(), payloadFor(validPermit()), nileRequirements())
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})

	t.Run("allowed token passes", func(t *testing.T) {
		scheme := New(&mockFacilitatorSigner{address: facilitatorAddr},
			WithAllowedTokens([]string{tokenAddr}))
		result, err := scheme.Verify(context.Background(), payloadFor(validPermit()), nileRequirements())
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})

	t.Run("disallowed token rejected", func(t *testing.T) {
		scheme := New(&mockFacilitatorSigner{address: facilitatorAddr},
			WithAllowedTokens([]string{merchantAddr}))
		result, err := scheme.Verify(context.Background(), payloadFor(validPermit()), nileRequirements())
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		assert.Equal(t, "token_not_allowed", result.InvalidReason)
	})

	t.Run("empty whitelist rejects all", func(t *testing.T) {
		scheme := New(&mockFacilitatorSigner{address: facilitatorAddr},
			WithAllowedTokens([]string{}))
		result, err := scheme.Verify(context.Background(), payloadFor(validPermit()), nileRequirements())
		require.NoError(t, err)
		assert.Equal(t, "token_not_allowed", result.InvalidReason)
	})

	t.Run("whitelist matches across encodings", func(t *testing.T) {
		hexToken, err := tron.ToEVMHex(tokenAddr)
		require.NoError(t, err)
		scheme := New(&mockFacilitatorSigner{address: facilitatorAddr},
			WithAllowedTokens([]string{hexToken}))
		result, err := scheme.Verify(context.Background(), payloadFor(validPermit()), nileRequirements())
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})
}

func TestSettleSuccess(t *testing.T) {
	signer := &mockFacilitatorSigner{address: facilitatorAddr}
	scheme := New(signer)

	result, err := scheme.Settle(context.Background(), payloadFor(validPermit()), nileRequirements())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "txhash123", result.Transaction)
	assert.Equal(t, tron.NetworkNile, result.Network)
}

func TestSettlePaymentOnlyTargetsPermitContract(t *testing.T) {
	signer := &mockFacilitatorSigner{address: facilitatorAddr}
	scheme := New(signer)

	_, err := scheme.Settle(context.Background(), payloadFor(validPermit()), nileRequirements())
	require.NoError(t, err)

	require.Len(t, signer.writeCalls, 1)
	call := signer.writeCalls[0]
	assert.Equal(t, tron.PaymentPermitAddress(tron.NetworkNile), call.contract)
	assert.Equal(t, tron.MethodID(tron.SigPermitTransferFrom), call.calldata[:4])
}

func TestSettleDeliveryTargetsMerchantContract(t *testing.T) {
	signer := &mockFacilitatorSigner{address: facilitatorAddr}
	scheme := New(signer)

	permit := validPermit()
	permit.Meta.Kind = x402.KindPaymentAndDelivery
	permit.Delivery = x402.PermitDelivery{
		ReceiveToken:      tokenAddr,
		MiniReceiveAmount: "1",
		TokenID:           "9",
	}

	_, err := scheme.Settle(context.Background(), payloadFor(permit), nileRequirements())
	require.NoError(t, err)

	require.Len(t, signer.writeCalls, 1)
	call := signer.writeCalls[0]
	assert.Equal(t, merchantAddr, call.contract)
	assert.Equal(t, tron.MethodID(tron.SigMerchantSettle), call.calldata[:4])
}

func TestSettleRejectsInvalidPayloadWithoutChainCall(t *testing.T) {
	signer := &mockFacilitatorSigner{address: facilitatorAddr}
	scheme := New(signer)

	permit := validPermit()
	permit.Payment.MaxPayAmount = "1"

	result, err := scheme.Settle(context.Background(), payloadFor(permit), nileRequirements())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "amount_mismatch", result.ErrorReason)
	assert.Empty(t, signer.writeCalls)
}

func TestSettleBroadcastFailure(t *testing.T) {
	signer := &mockFacilitatorSigner{
		address: facilitatorAddr,
		writeFunc: func(ctx context.Context, contract string, calldata []byte, network x402.Network) (string, error) {
			return "", errors.New("node rejected transaction")
		},
	}
	scheme := New(signer)

	result, err := scheme.Settle(context.Background(), payloadFor(validPermit()), nileRequirements())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "transaction_failed", result.ErrorReason)
}

func TestSettleOnChainFailure(t *testing.T) {
	signer := &mockFacilitatorSigner{
		address: facilitatorAddr,
		receiptFunc: func(ctx context.Context, txHash string, network x402.Network) (tron.TransactionReceipt, error) {
			return tron.TransactionReceipt{Hash: txHash, Status: tron.ReceiptFailed}, nil
		},
	}
	scheme := New(signer)

	result, err := scheme.Settle(context.Background(), payloadFor(validPermit()), nileRequirements())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "transaction_failed_on_chain", result.ErrorReason)
	assert.Equal(t, "txhash123", result.Transaction)
}

func TestSettleReceiptTimeoutIsAnError(t *testing.T) {
	timeout := &x402.TransactionTimeoutError{TxHash: "txhash123", Timeout: "120s"}
	signer := &mockFacilitatorSigner{
		address: facilitatorAddr,
		receiptFunc: func(ctx context.Context, txHash string, network x402.Network) (tron.TransactionReceipt, error) {
			return tron.TransactionReceipt{}, timeout
		},
	}
	scheme := New(signer)

	result, err := scheme.Settle(context.Background(), payloadFor(validPermit()), nileRequirements())
	require.Error(t, err)
	var timeoutErr *x402.TransactionTimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	// The outcome is unknown; there is no protocol error reason.
	assert.Empty(t, result.ErrorReason)
}

// recoveringSigner verifies signatures by actual digest recovery instead of
// a canned answer.
type recoveringSigner struct {
	mockFacilitatorSigner
}

func (r *recoveringSigner) VerifyTypedData(ctx context.Context, address string, domain tron.TypedDataDomain, types map[string][]tron.TypedDataField, primaryType string, message map[string]interface{}, signature string) (bool, error) {
	digest, err := tron.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return false, err
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return false, nil
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, nil
	}
	recovered := tron.EncodeBase58([20]byte(crypto.PubkeyToAddress(*pub)))
	return tron.SameAddress(recovered, address), nil
}

func signPermit(t *testing.T, key *ecdsa.PrivateKey, permit x402.PaymentPermit, network x402.Network) string {
	t.Helper()

	domain, err := tron.PermitDomain(network)
	require.NoError(t, err)
	message, err := tron.EncodePermitMessage(permit)
	require.NoError(t, err)
	digest, err := tron.HashTypedData(domain, tron.PermitTypes(), tron.PermitPrimaryType, message)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func TestVerifyEndToEndSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	buyer := tron.EncodeBase58([20]byte(crypto.PubkeyToAddress(key.PublicKey)))

	permit := validPermit()
	permit.Buyer = buyer

	payload := payloadFor(permit)
	payload.Payload.Signature = signPermit(t, key, permit, tron.NetworkNile)

	scheme := New(&recoveringSigner{mockFacilitatorSigner{address: facilitatorAddr}})

	result, err := scheme.Verify(context.Background(), payload, nileRequirements())
	require.NoError(t, err)
	assert.True(t, result.IsValid)

	// Tampering with any signed field invalidates the signature.
	tampered := permit
	tampered.Fee.FeeAmount = "1"
	tamperedPayload := payloadFor(tampered)
	tamperedPayload.Payload.Signature = payload.Payload.Signature

	result, err = scheme.Verify(context.Background(), tamperedPayload, nileRequirements())
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Equal(t, "invalid_signature", result.InvalidReason)

	// A signature from a different key fails against the stated buyer.
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	forgedPayload := payloadFor(permit)
	forgedPayload.Payload.Signature = signPermit(t, otherKey, permit, tron.NetworkNile)

	result, err = scheme.Verify(context.Background(), forgedPayload, nileRequirements())
	require.NoError(t, err)
	assert.False(t, result.IsValid)
}

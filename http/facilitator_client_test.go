package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/open-aibank/x402-tron"
)

func TestFacilitatorClientVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req x402.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "exact", req.PaymentRequirements.Scheme)
		assert.Equal(t, 2, req.PaymentPayload.X402Version)

		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true})
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	resp, err := client.Verify(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.True(t, resp.IsValid)
}

func TestFacilitatorClientSettle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/settle", r.URL.Path)
		json.NewEncoder(w).Encode(x402.SettleResponse{
			Success:     true,
			Transaction: "deadbeef",
			Network:     "tron:3448148188",
		})
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	resp, err := client.Settle(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "deadbeef", resp.Transaction)
}

func TestFacilitatorClientFeeQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fee-quote", r.URL.Path)

		var requirements x402.PaymentRequirements
		require.NoError(t, json.NewDecoder(r.Body).Decode(&requirements))
		assert.Equal(t, "1000000", requirements.Amount)

		json.NewEncoder(w).Encode(x402.FeeQuoteResponse{
			Fee:     x402.FeeInfo{FeeTo: "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs", FeeAmount: "1000000"},
			Pricing: "per_accept",
			Network: requirements.Network,
		})
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	quote, err := client.FeeQuote(context.Background(), testRequirements())
	require.NoError(t, err)
	assert.Equal(t, "1000000", quote.Fee.FeeAmount)
}

func TestFacilitatorClientNon200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	_, err := client.Verify(context.Background(), testPayload(), testRequirements())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFacilitatorClientGetSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/supported", r.URL.Path)
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{
				{X402Version: 2, Scheme: "exact", Network: "tron:3448148188"},
				{X402Version: 2, Scheme: "native_exact", Network: "tron:3448148188"},
			},
		})
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	supported, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	require.Len(t, supported.Kinds, 2)
	assert.Equal(t, "native_exact", supported.Kinds[1].Scheme)
}

func TestFacilitatorClientGetSupportedRetriesOnRateLimit(t *testing.T) {
	original := getSupportedRetryBaseDelay
	getSupportedRetryBaseDelay = time.Millisecond
	defer func() { getSupportedRetryBaseDelay = original }()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{{X402Version: 2, Scheme: "exact", Network: "tron:3448148188"}},
		})
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	supported, err := client.GetSupported(context.Background())
	require.NoError(t, err)
	assert.Len(t, supported.Kinds, 1)
	assert.Equal(t, int32(3), calls.Load())
}

type staticAuth struct{}

func (staticAuth) GetAuthHeaders(context.Context) (map[string]string, error) {
	return map[string]string{"Authorization": "Bearer token123"}, nil
}

func TestFacilitatorClientAuthHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true})
	}))
	defer server.Close()

	client := NewFacilitatorClient(&FacilitatorConfig{URL: server.URL, AuthProvider: staticAuth{}})
	_, err := client.Verify(context.Background(), testPayload(), testRequirements())
	require.NoError(t, err)
}

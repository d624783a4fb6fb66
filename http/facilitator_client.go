package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/open-aibank/x402-tron"
)

// FacilitatorClient talks to a remote facilitator service. Resource servers
// use it to verify and settle payments without holding chain access
// themselves.
type FacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
}

// AuthProvider generates authentication headers for facilitator requests.
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (map[string]string, error)
}

// FacilitatorConfig configures the facilitator client.
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service.
	URL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional).
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s). Settlement waits
	// for on-chain confirmation, so this must cover the receipt poll.
	Timeout time.Duration
}

// getSupportedRetries bounds retry attempts for GetSupported on 429s.
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff.
var getSupportedRetryBaseDelay = 1 * time.Second

// NewFacilitatorClient creates a facilitator client.
func NewFacilitatorClient(config *FacilitatorConfig) *FacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &FacilitatorClient{
		url:          config.URL,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
	}
}

// Verify checks a payment payload against requirements.
func (c *FacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var resp x402.VerifyResponse
	err := c.post(ctx, "/verify", x402.VerifyRequest{PaymentPayload: payload, PaymentRequirements: requirements}, &resp)
	return resp, err
}

// Settle executes a payment.
func (c *FacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	var resp x402.SettleResponse
	err := c.post(ctx, "/settle", x402.SettleRequest{PaymentPayload: payload, PaymentRequirements: requirements}, &resp)
	return resp, err
}

// FeeQuote fetches the facilitator's fee offer for one requirements entry.
func (c *FacilitatorClient) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements) (x402.FeeQuoteResponse, error) {
	var resp x402.FeeQuoteResponse
	err := c.post(ctx, "/fee-quote", requirements, &resp)
	return resp, err
}

// GetSupported fetches the facilitator's supported payment kinds. Retries
// with exponential backoff on 429 rate limits.
func (c *FacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := 0; attempt < getSupportedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		if err := c.applyHeaders(ctx, req); err != nil {
			return x402.SupportedResponse{}, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supported x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supported); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supported, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, responseBody)

		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

func (c *FacilitatorClient) post(ctx context.Context, path string, request, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.applyHeaders(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s failed (%d): %s", path, resp.StatusCode, responseBody)
	}

	if err := json.Unmarshal(responseBody, response); err != nil {
		return fmt.Errorf("failed to decode facilitator response: %w", err)
	}
	return nil
}

func (c *FacilitatorClient) applyHeaders(ctx context.Context, req *http.Request) error {
	if c.authProvider == nil {
		return nil
	}
	headers, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

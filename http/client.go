package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/open-aibank/x402-tron"
)

// Payment header names. The payload travels base64-encoded so proxies never
// mangle the JSON.
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// Client wraps an X402Client with HTTP 402 handling: it retries a
// payment-required response once with a signed payment attached.
type Client struct {
	client     *x402.X402Client
	httpClient *http.Client
}

// NewClient creates an HTTP-aware payment client.
func NewClient(client *x402.X402Client, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{client: client, httpClient: httpClient}
}

// EncodePaymentHeader encodes a payment payload for the X-PAYMENT header.
func EncodePaymentHeader(payload x402.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader decodes an X-PAYMENT header value.
func DecodePaymentHeader(header string) (x402.PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to decode payment header: %w", err)
	}
	var payload x402.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to decode payment payload: %w", err)
	}
	return payload, nil
}

// DecodePaymentResponseHeader decodes an X-PAYMENT-RESPONSE header value.
func DecodePaymentResponseHeader(header string) (x402.SettleResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to decode payment response header: %w", err)
	}
	var resp x402.SettleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to decode settle response: %w", err)
	}
	return resp, nil
}

// EncodePaymentResponseHeader encodes a settle response for the
// X-PAYMENT-RESPONSE header resource servers attach to paid responses.
func EncodePaymentResponseHeader(resp x402.SettleResponse) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to encode settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Do performs the request and, on a 402 response, pays and retries once.
// The request must have a rewindable body (GetBody set) to be retried.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	required, err := decodePaymentRequired(resp)
	if err != nil {
		return nil, err
	}

	payload, err := c.client.CreatePaymentForRequired(ctx, required)
	if err != nil {
		return nil, err
	}
	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set(PaymentHeader, header)

	return c.httpClient.Do(retry)
}

// Get performs a GET request with automatic payment handling.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

func decodePaymentRequired(resp *http.Response) (x402.PaymentRequired, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("failed to read 402 response: %w", err)
	}
	var required x402.PaymentRequired
	if err := json.Unmarshal(raw, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("failed to decode 402 response: %w", err)
	}
	return required, nil
}

package x402

import "context"

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// CreatePaymentPayload assembles and signs a payload for one requirements
// entry; extensions carries server-declared context such as
// paymentPermitContext.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements, resource string, extensions map[string]interface{}) (PaymentPayload, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment
// mechanisms. Verify is pure and side-effect free; Settle re-verifies before
// touching the chain. FeeQuote returns the mechanism's fee offer for one
// requirements entry.
type SchemeNetworkFacilitator interface {
	Scheme() string
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
	FeeQuote(ctx context.Context, requirements PaymentRequirements) (FeeQuoteResponse, error)
}

// SchemeNetworkServer is implemented by server-side payment mechanisms:
// price parsing and requirements enrichment for a resource server issuing
// 402 responses.
type SchemeNetworkServer interface {
	Scheme() string
	ParsePrice(price string, network Network) (AssetAmount, error)
	EnhancePaymentRequirements(ctx context.Context, requirements PaymentRequirements) (PaymentRequirements, error)
	ValidatePaymentRequirements(requirements PaymentRequirements) error
}

// AssetAmount is a parsed price: an asset address and an amount in its
// smallest unit.
type AssetAmount struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Decimals int    `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
}

// PaymentPolicy filters or reorders payment requirements before mechanism
// selection on the client side.
type PaymentPolicy interface {
	Apply(ctx context.Context, requirements []PaymentRequirements) ([]PaymentRequirements, error)
}

// BalanceReader reads a token balance for the signer's own address. Client
// signers implement it; policies consume it.
type BalanceReader interface {
	CheckBalance(ctx context.Context, token string, network Network) (string, error)
}

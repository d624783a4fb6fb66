package x402

import (
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 protocol version this module speaks.
const ProtocolVersion = 2

// Network is a blockchain network identifier in CAIP-2 format:
// namespace:reference (e.g. "tron:728126428" for TRON mainnet).
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards).
// e.g. "tron:3448148188" matches "tron:*" and vice versa.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// Delivery kinds for a payment permit. The numeric codes used inside signed
// messages and contract calls live in mechanisms/tron.
const (
	KindPaymentOnly        = "PAYMENT_ONLY"
	KindPaymentAndDelivery = "PAYMENT_AND_DELIVERY"
)

// FeeInfo carries a facilitator's fee terms inside payment requirements.
type FeeInfo struct {
	FacilitatorID string `json:"facilitatorId,omitempty"`
	FeeTo         string `json:"feeTo"`
	FeeAmount     string `json:"feeAmount"`
}

// PaymentRequirementsExtra holds optional token metadata and fee hints.
type PaymentRequirementsExtra struct {
	Name    string   `json:"name,omitempty"`
	Version string   `json:"version,omitempty"`
	Fee     *FeeInfo `json:"fee,omitempty"`
}

// PaymentRequirements defines what payment is acceptable for a resource.
// Amount is a decimal integer string in the asset's smallest unit.
type PaymentRequirements struct {
	Scheme            string                    `json:"scheme" validate:"required"`
	Network           Network                   `json:"network" validate:"required"`
	Amount            string                    `json:"amount" validate:"required"`
	Asset             string                    `json:"asset" validate:"required"`
	PayTo             string                    `json:"payTo" validate:"required"`
	MaxTimeoutSeconds int                       `json:"maxTimeoutSeconds,omitempty"`
	Extra             *PaymentRequirementsExtra `json:"extra,omitempty"`
}

// PermitMeta is the metadata block of a payment permit.
// ValidAfter and ValidBefore are Unix timestamps in SECONDS; the unit is part
// of the wire contract and is never converted inside this module.
type PermitMeta struct {
	Kind        string `json:"kind"`
	PaymentID   string `json:"paymentId"`
	Nonce       string `json:"nonce"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
}

// PermitPayment names the token, cap and destination of the payment leg.
type PermitPayment struct {
	PayToken     string `json:"payToken"`
	MaxPayAmount string `json:"maxPayAmount"`
	PayTo        string `json:"payTo"`
}

// PermitFee names the facilitator fee leg.
type PermitFee struct {
	FeeTo     string `json:"feeTo"`
	FeeAmount string `json:"feeAmount"`
}

// PermitDelivery names the on-chain delivery leg (PAYMENT_AND_DELIVERY only).
type PermitDelivery struct {
	ReceiveToken      string `json:"receiveToken"`
	MiniReceiveAmount string `json:"miniReceiveAmount"`
	TokenID           string `json:"tokenId"`
}

// PaymentPermit is the signed payment authorization. Every field contributes
// to the typed-data hash; mutating any field after signing invalidates the
// signature. The buyer authorizes maxPayAmount + feeAmount in total.
type PaymentPermit struct {
	Meta     PermitMeta     `json:"meta"`
	Buyer    string         `json:"buyer"`
	Caller   string         `json:"caller"`
	Payment  PermitPayment  `json:"payment"`
	Fee      PermitFee      `json:"fee"`
	Delivery PermitDelivery `json:"delivery"`
}

// PaymentPayloadData is the scheme payload: a signature plus, for the exact
// scheme, the permit it signs. native_exact payloads carry the signed
// transfer authorization in the envelope's extensions instead.
type PaymentPayloadData struct {
	Signature         string         `json:"signature"`
	MerchantSignature string         `json:"merchantSignature,omitempty"`
	PaymentPermit     *PaymentPermit `json:"paymentPermit,omitempty"`
}

// ResourceInfo describes the resource being paid for.
type ResourceInfo struct {
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentPayload is the wire envelope a client sends to pay.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version" validate:"required"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Payload     PaymentPayloadData     `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentRequired is the 402 response sent to clients.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyResponse is the verification result. Failures are data, not errors:
// InvalidReason is drawn from the fixed vocabulary in mechanisms/tron.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// SettleResponse is the settlement result.
type SettleResponse struct {
	Success     bool    `json:"success"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network,omitempty"`
	ErrorReason string  `json:"errorReason,omitempty"`
}

// FeeQuoteResponse is a facilitator's fee offer for a requirements set.
// ExpiresAt is a Unix timestamp in seconds; quotes past it are stale.
type FeeQuoteResponse struct {
	Fee       FeeInfo `json:"fee"`
	Pricing   string  `json:"pricing"`
	Network   Network `json:"network"`
	ExpiresAt int64   `json:"expiresAt,omitempty"`
}

// SupportedKind is a single supported payment configuration.
type SupportedKind struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     Network `json:"network"`
}

// SupportedFee advertises a facilitator's fee policy.
type SupportedFee struct {
	FeeTo   string `json:"feeTo"`
	Pricing string `json:"pricing"`
}

// SupportedResponse describes what a facilitator supports.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
	Fee   *SupportedFee   `json:"fee,omitempty"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"payload"`
	PaymentRequirements PaymentRequirements `json:"requirements"`
}

// SettleRequest is the body of POST /settle.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"payload"`
	PaymentRequirements PaymentRequirements `json:"requirements"`
}

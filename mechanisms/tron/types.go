package tron

import (
	"context"
	"math/big"

	x402 "github.com/open-aibank/x402-tron"
)

// KindCode returns the numeric code a delivery kind takes inside signed
// messages and contract tuples. Unknown kinds map to payment-only.
func KindCode(kind string) uint8 {
	if kind == x402.KindPaymentAndDelivery {
		return 1
	}
	return 0
}

// TypedDataDomain is an EIP-712 domain separator. A nil Version is encoded
// as a domain without the version field, which is how the PaymentPermit
// contract declares its domain.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField is one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// TransferAuthorization is the EIP-3009 style message the native_exact
// scheme signs. Amounts and timestamps are decimal strings; timestamps are
// Unix seconds. Nonce is a 32-byte hex string.
type TransferAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PermitContext is the server-declared context a client needs to build a
// permit: the permit contract's nonce and validity window, plus the
// delivery terms for PAYMENT_AND_DELIVERY sales.
type PermitContext struct {
	Kind        string `json:"kind"`
	PaymentID   string `json:"paymentId"`
	Nonce       string `json:"nonce"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`

	Caller   string                `json:"caller,omitempty"`
	Delivery *PermitContextDeliver `json:"delivery,omitempty"`
}

// PermitContextDeliver carries the delivery leg of a permit context.
type PermitContextDeliver struct {
	ReceiveToken      string `json:"receiveToken"`
	MiniReceiveAmount string `json:"miniReceiveAmount"`
	TokenID           string `json:"tokenId"`
}

// AllowanceMode controls how EnsureAllowance reacts to a shortfall.
type AllowanceMode string

const (
	// AllowanceAuto submits an approval transaction automatically.
	AllowanceAuto AllowanceMode = "auto"
	// AllowanceSkip trusts that allowance is already in place.
	AllowanceSkip AllowanceMode = "skip"
	// AllowanceInteractive is reserved for wallet-prompting flows.
	AllowanceInteractive AllowanceMode = "interactive"
)

// TransactionReceipt is the confirmed state of a broadcast transaction.
type TransactionReceipt struct {
	Hash        string
	BlockNumber string
	Status      ReceiptStatus
}

// ReceiptStatus is the terminal state of a transaction.
type ReceiptStatus string

const (
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFailed    ReceiptStatus = "failed"
)

// ClientTronSigner is what client-side mechanisms need from a wallet:
// identity, typed-data signing and allowance management. Implementations
// may hold a local key or delegate to an external provider.
type ClientTronSigner interface {
	// Address returns the signer's Base58Check address.
	Address() string

	// SignTypedData signs the EIP-712 digest of the given typed data and
	// returns a 65-byte hex signature with a legacy recovery id (v = 27/28).
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) (string, error)

	// EnsureAllowance guarantees the spender may move at least amount of
	// token on the signer's behalf, approving when mode permits.
	EnsureAllowance(ctx context.Context, token string, spender string, amount *big.Int, network x402.Network, mode AllowanceMode) error
}

// FacilitatorTronSigner is what facilitator-side mechanisms need: signature
// recovery, contract writes and receipt tracking. Calldata is built by the
// mechanism; the signer only wraps, signs and broadcasts it.
type FacilitatorTronSigner interface {
	// Address returns the signer's Base58Check address.
	Address() string

	// VerifyTypedData recovers the signer of an EIP-712 signature and
	// reports whether it matches the expected Base58Check address.
	VerifyTypedData(ctx context.Context, address string, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}, signature string) (bool, error)

	// WriteContract signs and broadcasts a contract call with prebuilt
	// calldata (method id plus packed arguments). Returns the transaction
	// hash.
	WriteContract(ctx context.Context, contract string, calldata []byte, network x402.Network) (string, error)

	// WaitForTransactionReceipt polls until the transaction is confirmed or
	// the deadline passes.
	WaitForTransactionReceipt(ctx context.Context, txHash string, network x402.Network) (TransactionReceipt, error)
}

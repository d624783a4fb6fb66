package tron

import (
	"time"

	x402 "github.com/open-aibank/x402-tron"
)

// Payment scheme identifiers.
const (
	SchemeExact       = "exact"
	SchemeNativeExact = "native_exact"
)

// TRON networks in CAIP-2 form. The reference is the chain ID the genesis
// block hash maps to.
const (
	NetworkMainnet x402.Network = "tron:728126428"
	NetworkShasta  x402.Network = "tron:2494104990"
	NetworkNile    x402.Network = "tron:3448148188"
)

// ChainIDs maps networks to the chain ID used in EIP-712 domains.
var ChainIDs = map[x402.Network]int64{
	NetworkMainnet: 728126428,
	NetworkShasta:  2494104990,
	NetworkNile:    3448148188,
}

// PaymentPermitAddresses maps networks to the deployed PaymentPermit
// contract. Mainnet and shasta deployments are pending.
var PaymentPermitAddresses = map[x402.Network]string{
	NetworkNile: "TCR6EaRtLRYjWPr7YWHqt4uL81rfevtE8p",
}

// Verification failure reasons. These are wire values consumed by clients
// and resource servers; they never change spelling.
const (
	ReasonAmountMismatch       = "amount_mismatch"
	ReasonPayToMismatch        = "payto_mismatch"
	ReasonTokenMismatch        = "token_mismatch"
	ReasonTokenNotAllowed      = "token_not_allowed"
	ReasonExpired              = "expired"
	ReasonNotYetValid          = "not_yet_valid"
	ReasonInvalidSignature     = "invalid_signature"
	ReasonMissingTransferAuth  = "missing_transfer_authorization"
	ReasonTransactionFailed    = "transaction_failed"
	ReasonTransactionOnChain   = "transaction_failed_on_chain"
	ReasonUnsupportedNetwork   = "unsupported_network"
	ReasonMissingPaymentPermit = "missing_payment_permit"
)

// Transaction limits and receipt polling parameters.
const (
	// SettlementFeeLimit caps energy spend on settlement calls, in sun.
	SettlementFeeLimit = 1_000_000_000
	// ApprovalFeeLimit caps energy spend on TRC-20 approvals, in sun.
	ApprovalFeeLimit = 100_000_000

	ReceiptPollInterval = 3 * time.Second
	ReceiptPollTimeout  = 120 * time.Second
)

// DefaultBaseFee is the facilitator's default fee for the exact scheme, in
// the payment token's smallest unit.
const DefaultBaseFee = 1_000_000

// FeeQuoteTTL is how long a fee quote stays fresh.
const FeeQuoteTTL = 300 * time.Second

// ChainID returns the EIP-712 chain ID for a network.
func ChainID(network x402.Network) (int64, error) {
	id, ok := ChainIDs[network]
	if !ok {
		return 0, &x402.UnsupportedNetworkError{Network: network}
	}
	return id, nil
}

// PaymentPermitAddress returns the PaymentPermit contract address for a
// network, or the zero address when none is deployed.
func PaymentPermitAddress(network x402.Network) string {
	if addr, ok := PaymentPermitAddresses[network]; ok {
		return addr
	}
	return ZeroAddressBase58
}

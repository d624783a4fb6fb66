// Package tron implements the TRON payment mechanisms: the permit-based
// "exact" scheme settled through the PaymentPermit contract, and the
// EIP-3009 style "native_exact" scheme settled directly on the token
// contract. It provides the typed-data codec, Base58Check address handling,
// calldata builders and signer interfaces the scheme subpackages share.
package tron

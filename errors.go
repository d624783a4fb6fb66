package x402

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by reserved operating modes (e.g. the
// interactive allowance mode) instead of silently degrading.
var ErrNotImplemented = errors.New("not implemented")

// ErrUnsupportedScheme is wrapped by the facilitator when no mechanism is
// registered for a requested scheme/network pair.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// ValidationError reports client-side input that can never verify: missing
// permit context, malformed price strings, unsupported networks. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// EncodingError reports a field that cannot be canonicalized for signing or
// settlement: malformed decimal strings, out-of-range integers.
type EncodingError struct {
	Field string
	Value string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// InvalidAddressError reports an address that fails Base58Check or canonical
// form validation.
type InvalidAddressError struct {
	Address string
	Reason  string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Address, e.Reason)
}

// AllowanceError distinguishes "approval needed" from "approval failed" so
// callers can react differently to each.
type AllowanceError struct {
	Token    string
	Required string
	Current  string
	Err      error
}

func (e *AllowanceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("allowance for token %s: %v", e.Token, e.Err)
	}
	return fmt.Sprintf("insufficient allowance for token %s: have %s, need %s",
		e.Token, e.Current, e.Required)
}

func (e *AllowanceError) Unwrap() error { return e.Err }

// TransactionTimeoutError means a broadcast transaction was not confirmed
// within the polling deadline. It signals uncertainty, not failure: the
// transaction may still land on-chain. Callers must treat it as "unknown,
// check chain" and must never coerce it into SettleResponse{Success:false}.
type TransactionTimeoutError struct {
	TxHash  string
	Timeout string
}

func (e *TransactionTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed within %s", e.TxHash, e.Timeout)
}

// UnsupportedNetworkError reports a network this process has no mechanism or
// configuration for.
type UnsupportedNetworkError struct {
	Network Network
}

func (e *UnsupportedNetworkError) Error() string {
	return fmt.Sprintf("unsupported network: %s", e.Network)
}

// UnknownTokenError reports a token the registry has no metadata for.
type UnknownTokenError struct {
	Network Network
	Token   string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token %s on %s", e.Token, e.Network)
}

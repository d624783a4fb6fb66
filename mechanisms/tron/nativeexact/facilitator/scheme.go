// Package facilitator implements the facilitator side of the native_exact
// scheme: verifying transfer authorizations and submitting them to the
// token contract.
package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	"github.com/open-aibank/x402-tron/mechanisms/tron"
	"github.com/open-aibank/x402-tron/tokens"
)

// Scheme verifies and settles EIP-3009 transfer authorizations. Settlement
// goes straight to the token contract; no intermediary contract or fee leg
// is involved, so quotes are always zero.
type Scheme struct {
	signer   tron.FacilitatorTronSigner
	registry *tokens.Registry

	// allowedTokens restricts which tokens settle through this facilitator.
	// nil allows all tokens; an empty set allows none.
	allowedTokens map[string]struct{}

	logger *zap.Logger
	now    func() time.Time
}

// Option configures the scheme.
type Option func(*Scheme)

// WithAllowedTokens restricts settlement to the given token contracts.
// Passing an empty, non-nil slice rejects every token.
func WithAllowedTokens(addresses []string) Option {
	return func(s *Scheme) {
		allowed := make(map[string]struct{}, len(addresses))
		for _, addr := range addresses {
			if normalized, err := tron.NormalizeAddress(addr); err == nil {
				allowed[normalized] = struct{}{}
			}
		}
		s.allowedTokens = allowed
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheme) {
		s.logger = logger
	}
}

// WithClock replaces the wall clock used for validity-window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheme) {
		s.now = now
	}
}

// New creates the facilitator mechanism. The registry supplies token names
// and versions for signature recovery; nil uses the built-in registry.
func New(signer tron.FacilitatorTronSigner, registry *tokens.Registry, opts ...Option) *Scheme {
	s := &Scheme{
		signer:   signer,
		registry: registry,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	if s.registry == nil {
		s.registry = tokens.DefaultRegistry()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheme) Scheme() string { return tron.SchemeNativeExact }

// FeeQuote always quotes zero: the facilitator cannot collect a fee from a
// transfer it merely relays.
func (s *Scheme) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements) (x402.FeeQuoteResponse, error) {
	return x402.FeeQuoteResponse{
		Fee: x402.FeeInfo{
			FeeTo:     tron.ZeroAddressBase58,
			FeeAmount: "0",
		},
		Pricing:   "per_accept",
		Network:   requirements.Network,
		ExpiresAt: s.now().Add(tron.FeeQuoteTTL).Unix(),
	}, nil
}

// Verify checks the authorization against the requirements and the clock,
// then verifies the EIP-712 signature against the from address. The check
// order is fixed so clients get a stable first-failure reason.
func (s *Scheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	auth, ok := decodeTransferAuthorization(payload.Extensions)
	if !ok {
		return invalid(tron.ReasonMissingTransferAuth), nil
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(tron.ReasonAmountMismatch), nil
	}
	required, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalid(tron.ReasonAmountMismatch), nil
	}
	if value.Cmp(required) < 0 {
		s.logger.Warn("amount mismatch",
			zap.String("value", auth.Value),
			zap.String("required", requirements.Amount))
		return invalid(tron.ReasonAmountMismatch), nil
	}

	if !tron.SameAddress(auth.To, requirements.PayTo) {
		return invalid(tron.ReasonPayToMismatch), nil
	}

	if !s.tokenAllowed(requirements.Asset) {
		return invalid(tron.ReasonTokenNotAllowed), nil
	}

	now := s.now().Unix()
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok || validBefore.Int64() < now {
		return invalid(tron.ReasonExpired), nil
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok || validAfter.Int64() > now {
		return invalid(tron.ReasonNotYetValid), nil
	}

	domain, err := s.tokenDomain(requirements)
	if err != nil {
		return x402.VerifyResponse{IsValid: false}, err
	}
	message, err := tron.EncodeTransferAuthMessage(auth)
	if err != nil {
		s.logger.Warn("unencodable transfer authorization", zap.Error(err))
		return invalid(tron.ReasonInvalidSignature), nil
	}

	valid, err := s.signer.VerifyTypedData(ctx, auth.From, domain, tron.TransferAuthTypes(), tron.TransferAuthPrimaryType, message, payload.Payload.Signature)
	if err != nil {
		return x402.VerifyResponse{IsValid: false}, fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return invalid(tron.ReasonInvalidSignature), nil
	}

	return x402.VerifyResponse{IsValid: true}, nil
}

// Settle re-verifies the payload and calls transferWithAuthorization on the
// token contract.
func (s *Scheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verifyResult, err := s.Verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{Success: false, Network: requirements.Network}, err
	}
	if !verifyResult.IsValid {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: verifyResult.InvalidReason,
			Network:     requirements.Network,
		}, nil
	}

	auth, _ := decodeTransferAuthorization(payload.Extensions)
	calldata, err := tron.EncodeTransferWithAuthorization(auth, payload.Payload.Signature)
	if err != nil {
		return x402.SettleResponse{Success: false, Network: requirements.Network}, err
	}

	txHash, err := s.signer.WriteContract(ctx, requirements.Asset, calldata, requirements.Network)
	if err != nil || txHash == "" {
		s.logger.Error("settlement broadcast failed",
			zap.String("token", requirements.Asset),
			zap.Error(err))
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: tron.ReasonTransactionFailed,
			Network:     requirements.Network,
		}, nil
	}

	s.logger.Info("settlement broadcast",
		zap.String("txHash", txHash),
		zap.String("from", auth.From),
		zap.String("value", auth.Value))

	receipt, err := s.signer.WaitForTransactionReceipt(ctx, txHash, requirements.Network)
	if err != nil {
		// Timeouts mean the outcome is unknown, never a failure.
		return x402.SettleResponse{Success: false, Network: requirements.Network}, err
	}
	if receipt.Status != tron.ReceiptConfirmed {
		return x402.SettleResponse{
			Success:     false,
			Transaction: txHash,
			ErrorReason: tron.ReasonTransactionOnChain,
			Network:     requirements.Network,
		}, nil
	}

	return x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     requirements.Network,
	}, nil
}

// tokenDomain resolves the token's signing domain, preferring server-sent
// metadata over the local registry.
func (s *Scheme) tokenDomain(requirements x402.PaymentRequirements) (tron.TypedDataDomain, error) {
	name := ""
	version := "1"
	if requirements.Extra != nil && requirements.Extra.Name != "" {
		name = requirements.Extra.Name
		if requirements.Extra.Version != "" {
			version = requirements.Extra.Version
		}
	} else if info, ok := s.registry.FindByAddress(requirements.Network, requirements.Asset); ok {
		name = info.Name
		version = info.Version
	} else {
		return tron.TypedDataDomain{}, &x402.UnknownTokenError{Network: requirements.Network, Token: requirements.Asset}
	}
	return tron.TransferAuthDomain(requirements.Network, requirements.Asset, name, version)
}

func (s *Scheme) tokenAllowed(token string) bool {
	if s.allowedTokens == nil {
		return true
	}
	normalized, err := tron.NormalizeAddress(token)
	if err != nil {
		return false
	}
	_, ok := s.allowedTokens[normalized]
	return ok
}

func decodeTransferAuthorization(extensions map[string]interface{}) (tron.TransferAuthorization, bool) {
	var auth tron.TransferAuthorization

	raw, ok := extensions["transferAuthorization"]
	if !ok || raw == nil {
		return auth, false
	}

	switch v := raw.(type) {
	case tron.TransferAuthorization:
		auth = v
	case *tron.TransferAuthorization:
		auth = *v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return auth, false
		}
		if err := json.Unmarshal(encoded, &auth); err != nil {
			return auth, false
		}
	}

	if auth.From == "" || auth.To == "" || auth.Value == "" {
		return auth, false
	}
	return auth, true
}

func invalid(reason string) x402.VerifyResponse {
	return x402.VerifyResponse{IsValid: false, InvalidReason: reason}
}

// Package client implements the client side of the native_exact scheme:
// signing EIP-3009 transfer authorizations against tokens that support
// transferWithAuthorization natively.
package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	"github.com/open-aibank/x402-tron/mechanisms/tron"
	"github.com/open-aibank/x402-tron/tokens"
)

// validityLeeway backdates validAfter so slight clock skew between the
// client and the chain never makes a fresh authorization not-yet-valid.
const validityLeeway = 60 * time.Second

// defaultValidity bounds how long an authorization stays usable when the
// requirements carry no timeout.
const defaultValidity = 600 * time.Second

// Scheme signs transfer authorizations. Unlike the permit flow there is no
// allowance step: the token contract itself honors the signature.
type Scheme struct {
	signer   tron.ClientTronSigner
	registry *tokens.Registry
	logger   *zap.Logger
}

// Option configures the scheme.
type Option func(*Scheme)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheme) {
		s.logger = logger
	}
}

// New creates the client mechanism. The registry supplies token names and
// versions for the per-token signing domain; nil uses the built-in registry.
func New(signer tron.ClientTronSigner, registry *tokens.Registry, opts ...Option) *Scheme {
	s := &Scheme{
		signer:   signer,
		registry: registry,
		logger:   zap.NewNop(),
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

// CreatePaymentPayload signs a transferWithAuthorization message for the
// exact required amount and returns a payload carrying the signature and
// the authorization parameters.
func (s *Scheme) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements, resource string, extensions map[string]interface{}) (x402.PaymentPayload, error) {
	tokenName, tokenVersion, err := s.tokenDomain(requirements)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	nonce, err := randomNonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	validity := defaultValidity
	if requirements.MaxTimeoutSeconds > 0 {
		validity = time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	now := time.Now()

	auth := tron.TransferAuthorization{
		From:        s.signer.Address(),
		To:          requirements.PayTo,
		Value:       requirements.Amount,
		ValidAfter:  fmt.Sprintf("%d", now.Add(-validityLeeway).Unix()),
		ValidBefore: fmt.Sprintf("%d", now.Add(validity).Unix()),
		Nonce:       nonce,
	}

	domain, err := tron.TransferAuthDomain(requirements.Network, requirements.Asset, tokenName, tokenVersion)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	message, err := tron.EncodeTransferAuthMessage(auth)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := s.signer.SignTypedData(ctx, domain, tron.TransferAuthTypes(), tron.TransferAuthPrimaryType, message)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign transfer authorization: %w", err)
	}

	s.logger.Debug("signed transfer authorization",
		zap.String("from", auth.From),
		zap.String("to", auth.To),
		zap.String("value", auth.Value))

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Resource:    &x402.ResourceInfo{URL: resource},
		Accepted:    requirements,
		Payload: x402.PaymentPayloadData{
			Signature: signature,
		},
		Extensions: map[string]interface{}{
			"transferAuthorization": auth,
		},
	}, nil
}

// tokenDomain resolves the token's EIP-712 name and version, preferring the
// metadata the server sent over the local registry.
func (s *Scheme) tokenDomain(requirements x402.PaymentRequirements) (name, version string, err error) {
	if requirements.Extra != nil && requirements.Extra.Name != "" {
		version = requirements.Extra.Version
		if version == "" {
			version = "1"
		}
		return requirements.Extra.Name, version, nil
	}
	if info, ok := s.registry.FindByAddress(requirements.Network, requirements.Asset); ok {
		return info.Name, info.Version, nil
	}
	return "", "", &x402.UnknownTokenError{Network: requirements.Network, Token: requirements.Asset}
}

// randomNonce draws a fresh 32-byte nonce. The token contract tracks spent
// nonces per authorizer, so uniqueness is all that matters.
func randomNonce() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate authorization nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(buf[:]), nil
}

// Package client implements the client side of the exact scheme: building
// and signing payment permits.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	"github.com/open-aibank/x402-tron/mechanisms/tron"
)

// Scheme builds signed payment permits for the exact scheme. The resource
// server supplies the permit context (nonce, validity window, delivery
// terms) through the 402 response's extensions.
type Scheme struct {
	signer        tron.ClientTronSigner
	allowanceMode tron.AllowanceMode
	logger        *zap.Logger
}

// Option configures the scheme.
type Option func(*Scheme)

// WithAllowanceMode controls how the scheme reacts to insufficient
// allowance. The default approves automatically.
func WithAllowanceMode(mode tron.AllowanceMode) Option {
	return func(s *Scheme) {
		s.allowanceMode = mode
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheme) {
		s.logger = logger
	}
}

// New creates the client mechanism.
func New(signer tron.ClientTronSigner, opts ...Option) *Scheme {
	s := &Scheme{
		signer:        signer,
		allowanceMode: tron.AllowanceAuto,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheme) Scheme() string { return tron.SchemeExact }

// CreatePaymentPayload assembles a permit from the requirements and the
// server's permit context, ensures the permit contract may pull the total
// amount, signs the permit and wraps it into a payload.
func (s *Scheme) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements, resource string, extensions map[string]interface{}) (x402.PaymentPayload, error) {
	permitCtx, err := decodePermitContext(extensions)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	feeTo := tron.ZeroAddressBase58
	feeAmount := "0"
	if requirements.Extra != nil && requirements.Extra.Fee != nil {
		feeTo = requirements.Extra.Fee.FeeTo
		feeAmount = requirements.Extra.Fee.FeeAmount
	}

	// The caller is who may submit the settlement transaction. It defaults
	// to the fee recipient, which is the facilitator's signing address.
	caller := permitCtx.Caller
	if caller == "" {
		caller = feeTo
	}

	paymentID := permitCtx.PaymentID
	if paymentID == "" {
		id := uuid.New()
		paymentID = "0x" + fmt.Sprintf("%x", id[:])
	}

	kind := permitCtx.Kind
	if kind == "" {
		kind = x402.KindPaymentOnly
	}

	delivery := x402.PermitDelivery{
		ReceiveToken:      tron.ZeroAddressBase58,
		MiniReceiveAmount: "0",
		TokenID:           "0",
	}
	if permitCtx.Delivery != nil {
		delivery = x402.PermitDelivery{
			ReceiveToken:      permitCtx.Delivery.ReceiveToken,
			MiniReceiveAmount: permitCtx.Delivery.MiniReceiveAmount,
			TokenID:           permitCtx.Delivery.TokenID,
		}
	}

	permit := x402.PaymentPermit{
		Meta: x402.PermitMeta{
			Kind:        kind,
			PaymentID:   paymentID,
			Nonce:       permitCtx.Nonce,
			ValidAfter:  permitCtx.ValidAfter,
			ValidBefore: permitCtx.ValidBefore,
		},
		Buyer:  s.signer.Address(),
		Caller: caller,
		Payment: x402.PermitPayment{
			PayToken:     requirements.Asset,
			MaxPayAmount: requirements.Amount,
			PayTo:        requirements.PayTo,
		},
		Fee: x402.PermitFee{
			FeeTo:     feeTo,
			FeeAmount: feeAmount,
		},
		Delivery: delivery,
	}

	total, err := permitTotal(permit)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	spender := tron.PaymentPermitAddress(requirements.Network)
	if err := s.signer.EnsureAllowance(ctx, permit.Payment.PayToken, spender, total, requirements.Network, s.allowanceMode); err != nil {
		return x402.PaymentPayload{}, err
	}

	domain, err := tron.PermitDomain(requirements.Network)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	message, err := tron.EncodePermitMessage(permit)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := s.signer.SignTypedData(ctx, domain, tron.PermitTypes(), tron.PermitPrimaryType, message)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign payment permit: %w", err)
	}

	s.logger.Debug("signed payment permit",
		zap.String("paymentId", permit.Meta.PaymentID),
		zap.String("buyer", permit.Buyer),
		zap.String("maxPayAmount", permit.Payment.MaxPayAmount))

	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Resource:    &x402.ResourceInfo{URL: resource},
		Accepted:    requirements,
		Payload: x402.PaymentPayloadData{
			Signature:     signature,
			PaymentPermit: &permit,
		},
	}, nil
}

// permitTotal is the allowance the buyer must grant: payment cap plus fee.
func permitTotal(permit x402.PaymentPermit) (*big.Int, error) {
	maxPay, ok := new(big.Int).SetString(permit.Payment.MaxPayAmount, 10)
	if !ok {
		return nil, &x402.EncodingError{Field: "maxPayAmount", Value: permit.Payment.MaxPayAmount, Err: fmt.Errorf("not a decimal integer")}
	}
	fee, ok := new(big.Int).SetString(permit.Fee.FeeAmount, 10)
	if !ok {
		return nil, &x402.EncodingError{Field: "feeAmount", Value: permit.Fee.FeeAmount, Err: fmt.Errorf("not a decimal integer")}
	}
	return new(big.Int).Add(maxPay, fee), nil
}

func decodePermitContext(extensions map[string]interface{}) (tron.PermitContext, error) {
	var permitCtx tron.PermitContext

	raw, ok := extensions["paymentPermitContext"]
	if !ok || raw == nil {
		return permitCtx, &x402.ValidationError{
			Field:   "extensions.paymentPermitContext",
			Message: "paymentPermitContext is required for the exact scheme",
		}
	}

	switch v := raw.(type) {
	case tron.PermitContext:
		return v, nil
	case *tron.PermitContext:
		return *v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return permitCtx, &x402.ValidationError{
				Field:   "extensions.paymentPermitContext",
				Message: "malformed permit context",
			}
		}
		if err := json.Unmarshal(encoded, &permitCtx); err != nil {
			return permitCtx, &x402.ValidationError{
				Field:   "extensions.paymentPermitContext",
				Message: "malformed permit context",
			}
		}
		return permitCtx, nil
	}
}

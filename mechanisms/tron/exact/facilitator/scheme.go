// Package facilitator implements the facilitator side of the exact scheme:
// permit verification, on-chain settlement and fee quoting.
package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	"github.com/open-aibank/x402-tron/mechanisms/tron"
)

// Scheme verifies and settles payment permits. Verification runs a fixed
// check sequence and reports the first failure; settlement re-verifies
// before touching the chain.
type Scheme struct {
	signer  tron.FacilitatorTronSigner
	feeTo   string
	baseFee *big.Int

	// allowedTokens restricts which payment tokens settle through this
	// facilitator. nil allows all tokens; an empty set allows none.
	allowedTokens map[string]struct{}

	logger *zap.Logger
	now    func() time.Time
}

// Option configures the scheme.
type Option func(*Scheme)

// WithFeeTo overrides the fee recipient. The default is the signer address.
func WithFeeTo(feeTo string) Option {
	return func(s *Scheme) {
		s.feeTo = feeTo
	}
}

// WithBaseFee overrides the flat fee quoted per accept, in the payment
// token's smallest unit.
func WithBaseFee(baseFee int64) Option {
	return func(s *Scheme) {
		s.baseFee = big.NewInt(baseFee)
	}
}

// WithAllowedTokens restricts settlement to the given payment tokens.
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

// New creates the facilitator mechanism.
func New(signer tron.FacilitatorTronSigner, opts ...Option) *Scheme {
	s := &Scheme{
		signer:  signer,
		baseFee: big.NewInt(tron.DefaultBaseFee),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.feeTo == "" {
		s.feeTo = signer.Address()
	}
	return s
}

func (s *Scheme) Scheme() string { return tron.SchemeExact }

// FeeQuote returns the flat per-accept fee.
func (s *Scheme) FeeQuote(ctx context.Context, requirements x402.PaymentRequirements) (x402.FeeQuoteResponse, error) {
	return x402.FeeQuoteResponse{
		Fee: x402.FeeInfo{
			FeeTo:     s.feeTo,
			FeeAmount: s.baseFee.String(),
		},
		Pricing:   "per_accept",
		Network:   requirements.Network,
		ExpiresAt: s.now().Add(tron.FeeQuoteTTL).Unix(),
	}, nil
}

// Verify checks a permit against the requirements and the clock, then
// verifies the EIP-712 signature. The check order is fixed so clients get a
// stable first-failure reason.
func (s *Scheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	permit := payload.Payload.PaymentPermit
	if permit == nil {
		return invalid(tron.ReasonMissingPaymentPermit), nil
	}

	maxPay, ok := new(big.Int).SetString(permit.Payment.MaxPayAmount, 10)
	if !ok {
		return invalid(tron.ReasonAmountMismatch), nil
	}
	required, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalid(tron.ReasonAmountMismatch), nil
	}
	if maxPay.Cmp(required) < 0 {
		s.logger.Warn("amount mismatch",
			zap.String("maxPayAmount", permit.Payment.MaxPayAmount),
			zap.String("required", requirements.Amount))
		return invalid(tron.ReasonAmountMismatch), nil
	}

	if !tron.SameAddress(permit.Payment.PayTo, requirements.PayTo) {
		return invalid(tron.ReasonPayToMismatch), nil
	}

	if !tron.SameAddress(permit.Payment.PayToken, requirements.Asset) {
		return invalid(tron.ReasonTokenMismatch), nil
	}

	if !s.tokenAllowed(permit.Payment.PayToken) {
		return invalid(tron.ReasonTokenNotAllowed), nil
	}

	now := s.now().Unix()
	if permit.Meta.ValidBefore < now {
		return invalid(tron.ReasonExpired), nil
	}
	if permit.Meta.ValidAfter > now {
		return invalid(tron.ReasonNotYetValid), nil
	}

	domain, err := tron.PermitDomain(requirements.Network)
	if err != nil {
		return x402.VerifyResponse{IsValid: false}, err
	}
	message, err := tron.EncodePermitMessage(*permit)
	if err != nil {
		s.logger.Warn("unencodable permit", zap.Error(err))
		return invalid(tron.ReasonInvalidSignature), nil
	}

	valid, err := s.signer.VerifyTypedData(ctx, permit.Buyer, domain, tron.PermitTypes(), tron.PermitPrimaryType, message, payload.Payload.Signature)
	if err != nil {
		return x402.VerifyResponse{IsValid: false}, fmt.Errorf("signature verification failed: %w", err)
	}
	if !valid {
		return invalid(tron.ReasonInvalidSignature), nil
	}

	return x402.VerifyResponse{IsValid: true}, nil
}

// Settle re-verifies the payload and executes it on-chain. PAYMENT_ONLY
// permits settle through the PaymentPermit contract; PAYMENT_AND_DELIVERY
// permits settle through the merchant contract at the pay-to address.
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

	permit := payload.Payload.PaymentPermit
	signature := payload.Payload.Signature

	var contract string
	var calldata []byte
	if permit.Meta.Kind == x402.KindPaymentAndDelivery {
		contract = requirements.PayTo
		calldata, err = tron.EncodeMerchantSettle(*permit, signature)
	} else {
		contract = tron.PaymentPermitAddress(requirements.Network)
		calldata, err = tron.EncodePermitTransferFrom(*permit, signature)
	}
	if err != nil {
		return x402.SettleResponse{Success: false, Network: requirements.Network}, err
	}

	txHash, err := s.signer.WriteContract(ctx, contract, calldata, requirements.Network)
	if err != nil || txHash == "" {
		s.logger.Error("settlement broadcast failed",
			zap.String("contract", contract),
			zap.Error(err))
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: tron.ReasonTransactionFailed,
			Network:     requirements.Network,
		}, nil
	}

	s.logger.Info("settlement broadcast",
		zap.String("txHash", txHash),
		zap.String("paymentId", permit.Meta.PaymentID),
		zap.String("kind", permit.Meta.Kind))

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

func invalid(reason string) x402.VerifyResponse {
	return x402.VerifyResponse{IsValid: false, InvalidReason: reason}
}

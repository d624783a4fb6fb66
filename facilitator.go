package x402

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// X402Facilitator routes verification, settlement and fee quoting to
// registered scheme mechanisms. Verification is side-effect free; settlement
// re-verifies before touching the chain inside each mechanism.
type X402Facilitator struct {
	mu sync.RWMutex

	// network -> scheme -> facilitator implementation
	schemes map[Network]map[string]SchemeNetworkFacilitator

	fee    *SupportedFee
	cache  *SettlementCache
	logger *zap.Logger
}

// FacilitatorOption configures the facilitator.
type FacilitatorOption func(*X402Facilitator)

// WithFacilitatorLogger sets the structured logger.
func WithFacilitatorLogger(logger *zap.Logger) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.logger = logger
	}
}

// WithSupportedFee advertises the facilitator's fee policy via GetSupported.
func WithSupportedFee(fee SupportedFee) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.fee = &fee
	}
}

// WithSettlementCache enables process-local settlement idempotency: a retried
// payload that is byte-identical to an in-flight or recently settled one gets
// the cached result instead of a second contract call.
func WithSettlementCache(cache *SettlementCache) FacilitatorOption {
	return func(f *X402Facilitator) {
		f.cache = cache
	}
}

// NewX402Facilitator creates a new facilitator.
func NewX402Facilitator(opts ...FacilitatorOption) *X402Facilitator {
	f := &X402Facilitator{
		schemes: make(map[Network]map[string]SchemeNetworkFacilitator),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Register registers a facilitator mechanism for a network pattern.
func (f *X402Facilitator) Register(network Network, facilitator SchemeNetworkFacilitator) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schemes[network] == nil {
		f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
	}
	f.schemes[network][facilitator.Scheme()] = facilitator

	return f
}

func (f *X402Facilitator) find(scheme string, network Network) (SchemeNetworkFacilitator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	impl := findByNetworkAndScheme(f.schemes, scheme, network)
	if impl == nil {
		return nil, fmt.Errorf("%w: no facilitator for scheme %s on network %s", ErrUnsupportedScheme, scheme, network)
	}
	return impl, nil
}

// Verify checks a payment payload against requirements. Protocol failures
// come back as VerifyResponse{IsValid: false} with a reason; a non-nil error
// means the check itself could not run.
func (f *X402Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	if err := ValidatePaymentPayload(payload); err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: "invalid_payload"}, nil
	}

	impl, err := f.find(requirements.Scheme, requirements.Network)
	if err != nil {
		return VerifyResponse{IsValid: false}, err
	}

	resp, err := impl.Verify(ctx, payload, requirements)
	if err != nil {
		f.logger.Error("verification failed",
			zap.String("scheme", requirements.Scheme),
			zap.String("network", string(requirements.Network)),
			zap.Error(err))
		return resp, err
	}

	f.logger.Debug("verified payment",
		zap.String("scheme", requirements.Scheme),
		zap.String("network", string(requirements.Network)),
		zap.Bool("isValid", resp.IsValid),
		zap.String("invalidReason", resp.InvalidReason))

	return resp, nil
}

// Settle executes a verified payment on-chain. Identical retried payloads are
// deduplicated through the settlement cache when one is configured.
func (f *X402Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	if err := ValidatePaymentPayload(payload); err != nil {
		return SettleResponse{Success: false, ErrorReason: "invalid_payload", Network: requirements.Network}, nil
	}

	impl, err := f.find(requirements.Scheme, requirements.Network)
	if err != nil {
		return SettleResponse{Success: false, Network: requirements.Network}, err
	}

	if f.cache == nil {
		return f.settle(ctx, impl, payload, requirements)
	}

	key := SettlementKey(payload, requirements)
	if cached, inFlight := f.cache.CheckAndMark(key); cached != nil {
		f.logger.Info("settlement served from cache", zap.String("key", key))
		return *cached, nil
	} else if inFlight {
		f.logger.Info("settlement already in flight, waiting", zap.String("key", key))
		return f.cache.WaitForResult(ctx, key)
	}

	resp, err := f.settle(ctx, impl, payload, requirements)
	if err != nil {
		f.cache.Fail(key, err)
		return resp, err
	}
	f.cache.Complete(key, resp)
	return resp, nil
}

func (f *X402Facilitator) settle(ctx context.Context, impl SchemeNetworkFacilitator, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	resp, err := impl.Settle(ctx, payload, requirements)
	if err != nil {
		f.logger.Error("settlement failed",
			zap.String("scheme", requirements.Scheme),
			zap.String("network", string(requirements.Network)),
			zap.Error(err))
		return resp, err
	}

	f.logger.Info("settled payment",
		zap.String("scheme", requirements.Scheme),
		zap.String("network", string(requirements.Network)),
		zap.Bool("success", resp.Success),
		zap.String("transaction", resp.Transaction),
		zap.String("errorReason", resp.ErrorReason))

	return resp, nil
}

// FeeQuote returns the fee offer of the mechanism handling the requirements.
func (f *X402Facilitator) FeeQuote(ctx context.Context, requirements PaymentRequirements) (FeeQuoteResponse, error) {
	impl, err := f.find(requirements.Scheme, requirements.Network)
	if err != nil {
		return FeeQuoteResponse{}, err
	}

	return impl.FeeQuote(ctx, requirements)
}

// GetSupported describes the registered payment kinds and the advertised fee
// policy.
func (f *X402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []SupportedKind
	for network, schemeMap := range f.schemes {
		for scheme := range schemeMap {
			kinds = append(kinds, SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     network,
			})
		}
	}

	return SupportedResponse{
		Kinds: kinds,
		Fee:   f.fee,
	}
}

package x402

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// X402Client manages client-side payment mechanisms and builds signed payment
// payloads for 402 responses.
type X402Client struct {
	mu sync.RWMutex

	// network -> scheme -> client implementation
	schemes map[Network]map[string]SchemeNetworkClient

	policies []PaymentPolicy

	// Selects one requirements entry when multiple remain after policies.
	requirementsSelector PaymentRequirementsSelector

	logger *zap.Logger
}

// PaymentRequirementsSelector chooses which payment option to use.
type PaymentRequirementsSelector func(requirements []PaymentRequirements) PaymentRequirements

// ClientOption configures the client.
type ClientOption func(*X402Client)

// WithPaymentSelector sets a custom payment requirements selector.
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time.
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.registerScheme(network, client)
	}
}

// WithPolicy appends a payment policy. Policies run in registration order
// before the selector.
func WithPolicy(policy PaymentPolicy) ClientOption {
	return func(c *X402Client) {
		c.policies = append(c.policies, policy)
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *X402Client) {
		c.logger = logger
	}
}

// NewX402Client creates a new x402 client.
func NewX402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
		logger:               zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first available payment option.
func defaultPaymentSelector(requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for a network pattern.
// Wildcard networks such as "tron:*" match every reference in the namespace.
func (c *X402Client) RegisterScheme(network Network, client SchemeNetworkClient) *X402Client {
	return c.registerScheme(network, client)
}

func (c *X402Client) registerScheme(network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client

	return c
}

// SelectPaymentRequirements filters the accepted requirements to those this
// client can fulfill, applies policies, and picks one entry.
func (c *X402Client) SelectPaymentRequirements(ctx context.Context, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	var supported []PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(c.schemes, req.Network)
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}
	policies := c.policies
	selector := c.requirementsSelector
	c.mu.RUnlock()

	if len(supported) == 0 {
		return PaymentRequirements{}, &ValidationError{
			Field:   "accepts",
			Message: "no supported payment schemes available",
		}
	}

	for _, policy := range policies {
		filtered, err := policy.Apply(ctx, supported)
		if err != nil {
			return PaymentRequirements{}, fmt.Errorf("payment policy failed: %w", err)
		}
		supported = filtered
		if len(supported) == 0 {
			return PaymentRequirements{}, &ValidationError{
				Field:   "accepts",
				Message: "all payment options rejected by policy",
			}
		}
	}

	return selector(supported), nil
}

// CreatePaymentPayload builds and signs a payment payload for one
// requirements entry. Extensions carries server-declared context such as
// paymentPermitContext and is forwarded to the mechanism.
func (c *X402Client) CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements, resource *ResourceInfo, extensions map[string]interface{}) (PaymentPayload, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayload{}, err
	}

	c.mu.RLock()
	client := findByNetworkAndScheme(c.schemes, requirements.Scheme, requirements.Network)
	c.mu.RUnlock()

	if client == nil {
		return PaymentPayload{}, &ValidationError{
			Field:   "scheme",
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", requirements.Scheme, requirements.Network),
		}
	}

	resourceURL := ""
	if resource != nil {
		resourceURL = resource.URL
	}

	payload, err := client.CreatePaymentPayload(ctx, requirements, resourceURL, extensions)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	payload.Accepted = requirements
	payload.Resource = resource

	if err := ValidatePaymentPayload(payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	c.logger.Debug("created payment payload",
		zap.String("scheme", requirements.Scheme),
		zap.String("network", string(requirements.Network)))

	return payload, nil
}

// CreatePaymentForRequired selects a payment option from a 402 response and
// builds a payment for it.
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(ctx, required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	return c.CreatePaymentPayload(ctx, selected, required.Resource, required.Extensions)
}

// CanPay reports whether any of the given requirements can be fulfilled.
func (c *X402Client) CanPay(ctx context.Context, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(ctx, requirements)
	return err == nil
}

// RegisteredSchemes lists the registered network/scheme pairs.
func (c *X402Client) RegisteredSchemes() []SupportedKind {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var kinds []SupportedKind
	for network, schemeMap := range c.schemes {
		for scheme := range schemeMap {
			kinds = append(kinds, SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     network,
			})
		}
	}
	return kinds
}

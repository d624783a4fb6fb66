package x402

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidatePaymentPayload performs structural validation on a payment payload.
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version != 2 {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if err := validate.Struct(p.Accepted); err != nil {
		return fmt.Errorf("invalid accepted requirements: %w", err)
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("payment signature is required")
	}
	return nil
}

// ValidatePaymentRequirements performs structural validation on requirements.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid payment requirements: %w", err)
	}
	return nil
}

// findByNetworkAndScheme finds a mechanism for a network/scheme combination,
// with wildcard network matching (e.g. "tron:*").
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) T {
	var zero T

	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl
		}
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) || registeredNetwork.Match(network) {
			if impl, exists := schemeMap[scheme]; exists {
				return impl
			}
		}
	}

	return zero
}

// findSchemesByNetwork finds all mechanisms registered for a network.
func findSchemesByNetwork[T any](networkMap map[Network]map[string]T, network Network) map[string]T {
	if schemeMap, exists := networkMap[network]; exists {
		return schemeMap
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) || registeredNetwork.Match(network) {
			return schemeMap
		}
	}

	return nil
}

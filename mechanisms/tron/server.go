package tron

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	x402 "github.com/open-aibank/x402-tron"
	"github.com/open-aibank/x402-tron/tokens"
)

// ServerMechanism is the resource-server side of the TRON schemes: it parses
// human-readable prices into base units and enriches requirements with the
// token metadata clients need for signing.
type ServerMechanism struct {
	scheme   string
	registry *tokens.Registry
}

// NewServerMechanism creates a server mechanism for the given scheme backed
// by the given token registry.
func NewServerMechanism(scheme string, registry *tokens.Registry) *ServerMechanism {
	if registry == nil {
		registry = tokens.DefaultRegistry()
	}
	return &ServerMechanism{scheme: scheme, registry: registry}
}

func (s *ServerMechanism) Scheme() string { return s.scheme }

// ParsePrice converts a price like "100 USDT" or "0.5 USDT" into a base-unit
// amount for the token registered under that symbol on the network.
func (s *ServerMechanism) ParsePrice(price string, network x402.Network) (x402.AssetAmount, error) {
	parts := strings.Fields(price)
	if len(parts) != 2 {
		return x402.AssetAmount{}, &x402.ValidationError{
			Field:   "price",
			Message: fmt.Sprintf("expected \"<amount> <symbol>\", got %q", price),
		}
	}

	amount, err := decimal.NewFromString(parts[0])
	if err != nil {
		return x402.AssetAmount{}, &x402.ValidationError{
			Field:   "price",
			Message: fmt.Sprintf("invalid amount %q", parts[0]),
		}
	}
	if amount.Sign() <= 0 {
		return x402.AssetAmount{}, &x402.ValidationError{
			Field:   "price",
			Message: "amount must be positive",
		}
	}

	symbol := strings.ToUpper(parts[1])
	info, ok := s.registry.FindBySymbol(network, symbol)
	if !ok {
		return x402.AssetAmount{}, &x402.UnknownTokenError{Network: network, Token: symbol}
	}

	base := amount.Shift(int32(info.Decimals))
	if !base.IsInteger() {
		return x402.AssetAmount{}, &x402.ValidationError{
			Field:   "price",
			Message: fmt.Sprintf("amount %s has more than %d decimal places", parts[0], info.Decimals),
		}
	}

	return x402.AssetAmount{
		Asset:    info.Address,
		Amount:   base.String(),
		Decimals: info.Decimals,
		Symbol:   info.Symbol,
		Name:     info.Name,
		Version:  info.Version,
	}, nil
}

// EnhancePaymentRequirements fills extra.name and extra.version from the
// token registry so clients can build per-token typed-data domains.
func (s *ServerMechanism) EnhancePaymentRequirements(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	info, ok := s.registry.FindByAddress(requirements.Network, requirements.Asset)
	if !ok {
		return requirements, nil
	}

	if requirements.Extra == nil {
		requirements.Extra = &x402.PaymentRequirementsExtra{}
	}
	requirements.Extra.Name = info.Name
	requirements.Extra.Version = info.Version
	return requirements, nil
}

// ValidatePaymentRequirements checks the TRON-specific invariants of a
// requirements entry.
func (s *ServerMechanism) ValidatePaymentRequirements(requirements x402.PaymentRequirements) error {
	if !strings.HasPrefix(string(requirements.Network), "tron:") {
		return &x402.ValidationError{Field: "network", Message: "not a TRON network"}
	}
	if _, err := DecodeBase58(requirements.Asset); err != nil {
		return &x402.ValidationError{Field: "asset", Message: "not a Base58Check TRON address"}
	}
	if _, err := DecodeBase58(requirements.PayTo); err != nil {
		return &x402.ValidationError{Field: "payTo", Message: "not a Base58Check TRON address"}
	}

	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return &x402.ValidationError{Field: "amount", Message: "must be a positive decimal integer"}
	}

	return nil
}

// Package tokens holds per-network token metadata used to fill EIP-712
// domains and human-readable price parsing. Registries are explicit
// instances handed to the components that need them.
package tokens

import (
	"strings"
	"sync"

	x402 "github.com/open-aibank/x402-tron"
)

// TokenInfo is the metadata needed to build a token's typed-data domain and
// to convert human amounts to base units.
type TokenInfo struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int
	Version  string
}

// Registry maps networks to known tokens. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tokens map[x402.Network][]TokenInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[x402.Network][]TokenInfo),
	}
}

// Register adds or replaces a token entry for a network. Matching is by
// case-insensitive address.
func (r *Registry) Register(network x402.Network, info TokenInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.tokens[network]
	for i, existing := range list {
		if strings.EqualFold(existing.Address, info.Address) {
			list[i] = info
			return
		}
	}
	r.tokens[network] = append(list, info)
}

// FindByAddress looks up a token by address on a network.
func (r *Registry) FindByAddress(network x402.Network, address string) (TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, info := range r.tokens[network] {
		if strings.EqualFold(info.Address, address) {
			return info, true
		}
	}
	return TokenInfo{}, false
}

// FindBySymbol looks up a token by symbol on a network.
func (r *Registry) FindBySymbol(network x402.Network, symbol string) (TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, info := range r.tokens[network] {
		if strings.EqualFold(info.Symbol, symbol) {
			return info, true
		}
	}
	return TokenInfo{}, false
}

// Networks lists the networks with at least one registered token.
func (r *Registry) Networks() []x402.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]x402.Network, 0, len(r.tokens))
	for network := range r.tokens {
		networks = append(networks, network)
	}
	return networks
}

// DefaultRegistry returns a registry seeded with the well-known TRON tokens.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("tron:728126428", TokenInfo{
		Address:  "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		Symbol:   "USDT",
		Name:     "Tether USD",
		Decimals: 6,
		Version:  "1",
	})
	r.Register("tron:2494104990", TokenInfo{
		Address:  "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs",
		Symbol:   "USDT",
		Name:     "Tether USD",
		Decimals: 6,
		Version:  "1",
	})
	r.Register("tron:3448148188", TokenInfo{
		Address:  "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
		Symbol:   "USDT",
		Name:     "Tether USD",
		Decimals: 6,
		Version:  "1",
	})

	return r
}

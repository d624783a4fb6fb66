package x402

import (
	"context"
	"math/big"

	"go.uber.org/zap"
)

// SufficientBalancePolicy drops payment options the buyer cannot afford. It
// checks the buyer's balance of each option's asset and keeps only options
// where balance >= amount plus any facilitator fee, which is the total the
// permit signing will authorize. Options on networks outside the configured
// patterns pass through unchecked.
type SufficientBalancePolicy struct {
	reader   BalanceReader
	networks []Network
	logger   *zap.Logger
}

// NewSufficientBalancePolicy creates the policy. networks limits which
// options are balance-checked; empty means all.
func NewSufficientBalancePolicy(reader BalanceReader, networks []Network, logger *zap.Logger) *SufficientBalancePolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SufficientBalancePolicy{
		reader:   reader,
		networks: networks,
		logger:   logger,
	}
}

func (p *SufficientBalancePolicy) covers(network Network) bool {
	if len(p.networks) == 0 {
		return true
	}
	for _, pattern := range p.networks {
		if network.Match(pattern) {
			return true
		}
	}
	return false
}

// Apply filters requirements to those the buyer can afford. When the balance
// read fails the option is kept: the signer cannot query that network, so the
// decision falls to downstream mechanism matching.
func (p *SufficientBalancePolicy) Apply(ctx context.Context, requirements []PaymentRequirements) ([]PaymentRequirements, error) {
	var kept []PaymentRequirements

	for _, req := range requirements {
		if !p.covers(req.Network) {
			kept = append(kept, req)
			continue
		}

		balance, err := p.reader.CheckBalance(ctx, req.Asset, req.Network)
		if err != nil {
			p.logger.Warn("balance check failed, keeping option",
				zap.String("asset", req.Asset),
				zap.String("network", string(req.Network)),
				zap.Error(err))
			kept = append(kept, req)
			continue
		}

		have, ok := new(big.Int).SetString(balance, 10)
		if !ok {
			p.logger.Warn("unparseable balance, dropping option",
				zap.String("asset", req.Asset),
				zap.String("balance", balance))
			continue
		}
		need, ok := new(big.Int).SetString(req.Amount, 10)
		if !ok {
			continue
		}
		if req.Extra != nil && req.Extra.Fee != nil && req.Extra.Fee.FeeAmount != "" {
			fee, ok := new(big.Int).SetString(req.Extra.Fee.FeeAmount, 10)
			if !ok {
				continue
			}
			need.Add(need, fee)
		}

		if have.Cmp(need) >= 0 {
			kept = append(kept, req)
		} else {
			p.logger.Debug("insufficient balance for option",
				zap.String("asset", req.Asset),
				zap.String("have", have.String()),
				zap.String("need", need.String()))
		}
	}

	return kept, nil
}

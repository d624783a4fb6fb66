package tron

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	tronmech "github.com/open-aibank/x402-tron/mechanisms/tron"
)

// approvalAmount is what auto-approval grants: the maximum value the permit
// contract accepts for an allowance (uint160).
var approvalAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

// ClientSigner signs payment permits and transfer authorizations through a
// Provider. With a node attached it also reads balances and manages TRC-20
// allowances.
type ClientSigner struct {
	provider Provider
	node     Node
	logger   *zap.Logger
}

// ClientOption configures a ClientSigner.
type ClientOption func(*ClientSigner)

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(s *ClientSigner) {
		s.logger = logger
	}
}

// NewClientSigner creates a client signer. The node may be nil for
// sign-only use; allowance management and balance reads then fail.
func NewClientSigner(provider Provider, node Node, opts ...ClientOption) *ClientSigner {
	s := &ClientSigner{
		provider: provider,
		node:     node,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded
// private key, connected to the public TronGrid endpoints.
func NewClientSignerFromPrivateKey(privateKeyHex string, opts ...ClientOption) (*ClientSigner, error) {
	key, err := NewKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewClientSigner(key, NewTronGridNode(), opts...), nil
}

// Address returns the signer's Base58Check address.
func (s *ClientSigner) Address() string {
	return s.provider.Address()
}

// SignTypedData signs the EIP-712 digest of the typed data and returns a
// 65-byte hex signature with a legacy recovery id (v = 27/28).
func (s *ClientSigner) SignTypedData(ctx context.Context, domain tronmech.TypedDataDomain, types map[string][]tronmech.TypedDataField, primaryType string, message map[string]interface{}) (string, error) {
	digest, err := tronmech.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return "", err
	}

	signature, err := s.provider.SignDigest(digest)
	if err != nil {
		return "", err
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// EnsureAllowance guarantees the spender may move at least amount of token
// on the signer's behalf. Auto mode approves the maximum allowance when the
// current one falls short; skip trusts the caller; interactive is reserved
// for wallet-prompting flows.
func (s *ClientSigner) EnsureAllowance(ctx context.Context, token, spender string, amount *big.Int, network x402.Network, mode tronmech.AllowanceMode) error {
	switch mode {
	case tronmech.AllowanceSkip:
		return nil
	case tronmech.AllowanceInteractive:
		return &x402.AllowanceError{Token: token, Required: amount.String(), Err: x402.ErrNotImplemented}
	}

	if s.node == nil {
		return &x402.AllowanceError{Token: token, Required: amount.String(), Err: fmt.Errorf("no node configured")}
	}

	current, err := s.Allowance(ctx, token, spender, network)
	if err != nil {
		return &x402.AllowanceError{Token: token, Required: amount.String(), Err: err}
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	s.logger.Info("approving allowance",
		zap.String("token", token),
		zap.String("spender", spender),
		zap.String("current", current.String()),
		zap.String("required", amount.String()))

	if err := s.approve(ctx, token, spender, network); err != nil {
		return &x402.AllowanceError{
			Token:    token,
			Required: amount.String(),
			Current:  current.String(),
			Err:      err,
		}
	}
	return nil
}

// CheckBalance reads the signer's balance of a TRC-20 token, in the token's
// smallest unit.
func (s *ClientSigner) CheckBalance(ctx context.Context, token string, network x402.Network) (string, error) {
	if s.node == nil {
		return "", fmt.Errorf("no node configured")
	}

	calldata, err := tronmech.EncodeBalanceOf(s.Address())
	if err != nil {
		return "", err
	}
	result, err := s.node.TriggerConstantContract(ctx, network, s.Address(), token, calldata)
	if err != nil {
		return "", err
	}
	balance, err := tronmech.DecodeUint256Result(result)
	if err != nil {
		return "", err
	}
	return balance.String(), nil
}

// Allowance reads what the spender may currently move on the signer's
// behalf.
func (s *ClientSigner) Allowance(ctx context.Context, token, spender string, network x402.Network) (*big.Int, error) {
	calldata, err := tronmech.EncodeAllowance(s.Address(), spender)
	if err != nil {
		return nil, err
	}
	result, err := s.node.TriggerConstantContract(ctx, network, s.Address(), token, calldata)
	if err != nil {
		return nil, err
	}
	return tronmech.DecodeUint256Result(result)
}

func (s *ClientSigner) approve(ctx context.Context, token, spender string, network x402.Network) error {
	calldata, err := tronmech.EncodeApprove(spender, approvalAmount)
	if err != nil {
		return err
	}

	tx, err := s.node.CreateSmartContractTransaction(ctx, network, s.Address(), token, calldata, tronmech.ApprovalFeeLimit)
	if err != nil {
		return err
	}
	if err := signTransaction(s.provider, tx); err != nil {
		return err
	}
	txHash, err := s.node.BroadcastTransaction(ctx, network, tx)
	if err != nil {
		return err
	}

	receipt, err := waitForReceipt(ctx, s.node, network, txHash, tronmech.ReceiptPollInterval, tronmech.ReceiptPollTimeout)
	if err != nil {
		return err
	}
	if receipt.Status != tronmech.ReceiptConfirmed {
		return fmt.Errorf("approval transaction %s failed on-chain", txHash)
	}

	s.logger.Info("allowance approved", zap.String("txHash", txHash))
	return nil
}

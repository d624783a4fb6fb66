package tron

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
	tronmech "github.com/open-aibank/x402-tron/mechanisms/tron"
)

// FacilitatorSigner holds the facilitator's settlement Provider. It recovers
// typed-data signatures and broadcasts mechanism-built calldata through a
// node.
type FacilitatorSigner struct {
	provider Provider
	node     Node

	pollInterval time.Duration
	pollTimeout  time.Duration

	logger *zap.Logger
}

// FacilitatorOption configures a FacilitatorSigner.
type FacilitatorOption func(*FacilitatorSigner)

// WithFacilitatorLogger sets the structured logger.
func WithFacilitatorLogger(logger *zap.Logger) FacilitatorOption {
	return func(s *FacilitatorSigner) {
		s.logger = logger
	}
}

// WithReceiptPolling overrides how often and how long receipt polling runs.
func WithReceiptPolling(interval, timeout time.Duration) FacilitatorOption {
	return func(s *FacilitatorSigner) {
		s.pollInterval = interval
		s.pollTimeout = timeout
	}
}

// NewFacilitatorSigner creates a facilitator signer.
func NewFacilitatorSigner(provider Provider, node Node, opts ...FacilitatorOption) *FacilitatorSigner {
	s := &FacilitatorSigner{
		provider:     provider,
		node:         node,
		pollInterval: tronmech.ReceiptPollInterval,
		pollTimeout:  tronmech.ReceiptPollTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFacilitatorSignerFromPrivateKey creates a facilitator signer from a
// hex-encoded private key, connected to the public TronGrid endpoints.
func NewFacilitatorSignerFromPrivateKey(privateKeyHex string, opts ...FacilitatorOption) (*FacilitatorSigner, error) {
	key, err := NewKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewFacilitatorSigner(key, NewTronGridNode(), opts...), nil
}

// Address returns the signer's Base58Check address.
func (s *FacilitatorSigner) Address() string {
	return s.provider.Address()
}

// VerifyTypedData recovers the signer of an EIP-712 signature and reports
// whether it matches the expected Base58Check address. A malformed
// signature is a verification failure, not an error.
func (s *FacilitatorSigner) VerifyTypedData(ctx context.Context, address string, domain tronmech.TypedDataDomain, types map[string][]tronmech.TypedDataField, primaryType string, message map[string]interface{}, signature string) (bool, error) {
	digest, err := tronmech.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return false, err
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(raw) != 65 {
		return false, nil
	}

	// Normalize a legacy recovery id.
	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	publicKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, nil
	}
	recovered := tronmech.EncodeBase58([20]byte(crypto.PubkeyToAddress(*publicKey)))

	return tronmech.SameAddress(recovered, address), nil
}

// WriteContract signs and broadcasts a contract call with prebuilt calldata
// and returns the transaction hash.
func (s *FacilitatorSigner) WriteContract(ctx context.Context, contract string, calldata []byte, network x402.Network) (string, error) {
	tx, err := s.node.CreateSmartContractTransaction(ctx, network, s.Address(), contract, calldata, tronmech.SettlementFeeLimit)
	if err != nil {
		return "", err
	}
	if err := signTransaction(s.provider, tx); err != nil {
		return "", err
	}

	txHash, err := s.node.BroadcastTransaction(ctx, network, tx)
	if err != nil {
		return "", err
	}

	s.logger.Info("contract write broadcast",
		zap.String("contract", contract),
		zap.String("txHash", txHash))
	return txHash, nil
}

// WaitForTransactionReceipt polls until the transaction is confirmed or the
// deadline passes. A deadline produces a TransactionTimeoutError: the
// outcome is unknown, not failed.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string, network x402.Network) (tronmech.TransactionReceipt, error) {
	return waitForReceipt(ctx, s.node, network, txHash, s.pollInterval, s.pollTimeout)
}

func waitForReceipt(ctx context.Context, node Node, network x402.Network, txHash string, interval, timeout time.Duration) (tronmech.TransactionReceipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := node.TransactionInfo(ctx, network, txHash)
		if err == nil && info != nil {
			receipt := tronmech.TransactionReceipt{
				Hash:        info.ID,
				BlockNumber: blockNumberString(info.BlockNumber),
				Status:      tronmech.ReceiptFailed,
			}
			if info.Receipt.Result == "SUCCESS" {
				receipt.Status = tronmech.ReceiptConfirmed
			}
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return tronmech.TransactionReceipt{}, &x402.TransactionTimeoutError{
				TxHash:  txHash,
				Timeout: timeout.String(),
			}
		}

		select {
		case <-ctx.Done():
			return tronmech.TransactionReceipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func blockNumberString(blockNumber int64) string {
	if blockNumber == 0 {
		return ""
	}
	return strconv.FormatInt(blockNumber, 10)
}

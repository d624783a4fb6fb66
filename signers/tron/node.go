// Package tron provides local-key signers for the TRON payment mechanisms:
// a client signer that signs typed data and manages TRC-20 allowances, and a
// facilitator signer that recovers signatures and broadcasts settlement
// transactions through a TronGrid-compatible node.
package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	x402 "github.com/open-aibank/x402-tron"
)

// DefaultEndpoints maps networks to public TronGrid base URLs.
var DefaultEndpoints = map[x402.Network]string{
	"tron:728126428":  "https://api.trongrid.io",
	"tron:2494104990": "https://api.shasta.trongrid.io",
	"tron:3448148188": "https://nile.trongrid.io",
}

// Transaction is an unsigned or signed transaction as the node returns it.
// RawData is kept opaque; only the signature list is ever appended to.
type Transaction struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Visible    bool            `json:"visible,omitempty"`
	Signature  []string        `json:"signature,omitempty"`
}

// TransactionInfo is the confirmed execution record of a transaction. An
// empty ID means the transaction is not yet included in a block.
type TransactionInfo struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Receipt     struct {
		Result string `json:"result"`
	} `json:"receipt"`
}

// Node is the chain access the signers need. All addresses are Base58Check
// and all calldata is raw ABI-encoded bytes including the method id.
type Node interface {
	// TriggerConstantContract executes a read-only contract call and returns
	// the raw ABI-encoded result.
	TriggerConstantContract(ctx context.Context, network x402.Network, owner, contract string, data []byte) ([]byte, error)

	// CreateSmartContractTransaction builds an unsigned transaction invoking
	// a contract with the given calldata and fee limit in sun.
	CreateSmartContractTransaction(ctx context.Context, network x402.Network, owner, contract string, data []byte, feeLimit int64) (*Transaction, error)

	// BroadcastTransaction submits a signed transaction and returns its hash.
	BroadcastTransaction(ctx context.Context, network x402.Network, tx *Transaction) (string, error)

	// TransactionInfo fetches the execution record of a transaction, or nil
	// when it is not yet confirmed.
	TransactionInfo(ctx context.Context, network x402.Network, txID string) (*TransactionInfo, error)
}

// TronGridNode talks to TronGrid's full-node HTTP API.
type TronGridNode struct {
	endpoints  map[x402.Network]string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NodeOption configures a TronGridNode.
type NodeOption func(*TronGridNode)

// WithEndpoint overrides or adds the base URL for one network.
func WithEndpoint(network x402.Network, baseURL string) NodeOption {
	return func(n *TronGridNode) {
		n.endpoints[network] = baseURL
	}
}

// WithAPIKey sets the TronGrid API key sent with every request.
func WithAPIKey(key string) NodeOption {
	return func(n *TronGridNode) {
		n.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) NodeOption {
	return func(n *TronGridNode) {
		n.httpClient = client
	}
}

// WithNodeLogger sets the structured logger.
func WithNodeLogger(logger *zap.Logger) NodeOption {
	return func(n *TronGridNode) {
		n.logger = logger
	}
}

// NewTronGridNode creates a node client preloaded with the public TronGrid
// endpoints.
func NewTronGridNode(opts ...NodeOption) *TronGridNode {
	n := &TronGridNode{
		endpoints:  make(map[x402.Network]string, len(DefaultEndpoints)),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for network, url := range DefaultEndpoints {
		n.endpoints[network] = url
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type constantCallResult struct {
	Result struct {
		Result  bool   `json:"result"`
		Message string `json:"message"`
	} `json:"result"`
	ConstantResult []string `json:"constant_result"`
}

func (n *TronGridNode) TriggerConstantContract(ctx context.Context, network x402.Network, owner, contract string, data []byte) ([]byte, error) {
	request := map[string]interface{}{
		"owner_address":    owner,
		"contract_address": contract,
		"data":             hex.EncodeToString(data),
		"visible":          true,
	}

	var result constantCallResult
	if err := n.post(ctx, network, "/wallet/triggerconstantcontract", request, &result); err != nil {
		return nil, err
	}
	if !result.Result.Result {
		return nil, fmt.Errorf("constant call rejected: %s", decodeNodeMessage(result.Result.Message))
	}
	if len(result.ConstantResult) == 0 {
		return nil, fmt.Errorf("constant call returned no result")
	}
	return hex.DecodeString(result.ConstantResult[0])
}

type createTransactionResult struct {
	Result struct {
		Result  bool   `json:"result"`
		Message string `json:"message"`
	} `json:"result"`
	Transaction *Transaction `json:"transaction"`
}

func (n *TronGridNode) CreateSmartContractTransaction(ctx context.Context, network x402.Network, owner, contract string, data []byte, feeLimit int64) (*Transaction, error) {
	request := map[string]interface{}{
		"owner_address":    owner,
		"contract_address": contract,
		"data":             hex.EncodeToString(data),
		"fee_limit":        feeLimit,
		"call_value":       0,
		"visible":          true,
	}

	var result createTransactionResult
	if err := n.post(ctx, network, "/wallet/triggersmartcontract", request, &result); err != nil {
		return nil, err
	}
	if !result.Result.Result || result.Transaction == nil {
		return nil, fmt.Errorf("transaction build rejected: %s", decodeNodeMessage(result.Result.Message))
	}
	return result.Transaction, nil
}

type broadcastResult struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (n *TronGridNode) BroadcastTransaction(ctx context.Context, network x402.Network, tx *Transaction) (string, error) {
	var result broadcastResult
	if err := n.post(ctx, network, "/wallet/broadcasttransaction", tx, &result); err != nil {
		return "", err
	}
	if !result.Result {
		return "", fmt.Errorf("broadcast rejected: %s: %s", result.Code, decodeNodeMessage(result.Message))
	}
	if result.TxID != "" {
		return result.TxID, nil
	}
	return tx.TxID, nil
}

func (n *TronGridNode) TransactionInfo(ctx context.Context, network x402.Network, txID string) (*TransactionInfo, error) {
	request := map[string]interface{}{"value": txID}

	var info TransactionInfo
	if err := n.post(ctx, network, "/wallet/gettransactioninfobyid", request, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, nil
	}
	return &info, nil
}

func (n *TronGridNode) post(ctx context.Context, network x402.Network, path string, request, response interface{}) error {
	baseURL, ok := n.endpoints[network]
	if !ok {
		return &x402.UnsupportedNetworkError{Network: network}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode node request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read node response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("node returned non-200",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("node returned status %d: %s", resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, response); err != nil {
		return fmt.Errorf("failed to decode node response: %w", err)
	}
	return nil
}

// decodeNodeMessage converts the node's hex-encoded error message to text.
func decodeNodeMessage(message string) string {
	if raw, err := hex.DecodeString(message); err == nil && len(raw) > 0 {
		return string(raw)
	}
	return message
}

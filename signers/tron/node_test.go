package tron

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/open-aibank/x402-tron"
)

func newTestNode(t *testing.T, handler http.HandlerFunc) (*TronGridNode, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	node := NewTronGridNode(
		WithEndpoint("tron:3448148188", server.URL),
		WithAPIKey("test-api-key"),
	)
	return node, server
}

func TestTriggerConstantContract(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallet/triggerconstantcontract", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("TRON-PRO-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var request map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, true, request["visible"])
		assert.Equal(t, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", request["owner_address"])
		assert.Equal(t, "deadbeef", request["data"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result":          map[string]interface{}{"result": true},
			"constant_result": []string{"00000000000000000000000000000000000000000000000000000000000000ff"},
		})
	})

	data, _ := hex.DecodeString("deadbeef")
	result, err := node.TriggerConstantContract(context.Background(), "tron:3448148188",
		"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", data)
	require.NoError(t, err)
	assert.Len(t, result, 32)
	assert.Equal(t, byte(0xff), result[31])
}

func TestTriggerConstantContractRejected(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"result":  false,
				"message": hex.EncodeToString([]byte("contract validate error")),
			},
		})
	})

	_, err := node.TriggerConstantContract(context.Background(), "tron:3448148188", "owner", "contract", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contract validate error")
}

func TestCreateSmartContractTransaction(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallet/triggersmartcontract", r.URL.Path)

		var request map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, float64(1_000_000_000), request["fee_limit"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"result": true},
			"transaction": map[string]interface{}{
				"txID":         "abc123",
				"raw_data_hex": "cafe",
			},
		})
	})

	tx, err := node.CreateSmartContractTransaction(context.Background(), "tron:3448148188",
		"owner", "contract", []byte{0x01}, 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, "abc123", tx.TxID)
	assert.Equal(t, "cafe", tx.RawDataHex)
}

func TestBroadcastTransaction(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallet/broadcasttransaction", r.URL.Path)

		var tx Transaction
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tx))
		assert.NotEmpty(t, tx.Signature)

		json.NewEncoder(w).Encode(map[string]interface{}{"result": true, "txid": tx.TxID})
	})

	tx := &Transaction{TxID: "abc123", Signature: []string{"00ff"}}
	txHash, err := node.BroadcastTransaction(context.Background(), "tron:3448148188", tx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", txHash)
}

func TestBroadcastTransactionRejected(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result":  false,
			"code":    "BANDWITH_ERROR",
			"message": hex.EncodeToString([]byte("insufficient bandwidth")),
		})
	})

	_, err := node.BroadcastTransaction(context.Background(), "tron:3448148188", &Transaction{TxID: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient bandwidth")
}

func TestTransactionInfo(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wallet/gettransactioninfobyid", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "abc123",
			"blockNumber": 77,
			"receipt":     map[string]interface{}{"result": "SUCCESS"},
		})
	})

	info, err := node.TransactionInfo(context.Background(), "tron:3448148188", "abc123")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(77), info.BlockNumber)
	assert.Equal(t, "SUCCESS", info.Receipt.Result)
}

func TestTransactionInfoPending(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		// An unconfirmed transaction returns an empty object.
		w.Write([]byte("{}"))
	})

	info, err := node.TransactionInfo(context.Background(), "tron:3448148188", "abc123")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestUnknownNetwork(t *testing.T) {
	node := NewTronGridNode()

	_, err := node.TransactionInfo(context.Background(), "tron:999", "abc123")
	require.Error(t, err)
	var unsupported *x402.UnsupportedNetworkError
	assert.ErrorAs(t, err, &unsupported)
}

func TestNodeErrorStatus(t *testing.T) {
	node, _ := newTestNode(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	})

	_, err := node.TransactionInfo(context.Background(), "tron:3448148188", "abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

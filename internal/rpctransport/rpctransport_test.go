package rpctransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEthCallDecodesHexResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_call", req.Method)
		require.Len(t, req.Params, 2)
		assert.Equal(t, "0x64", req.Params[1])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "0x0000000000000000000000000000000000000000000000000000000000000001",
		})
	}))
	defer srv.Close()

	transport := NewHTTPTransport(map[string]string{"ethereum": srv.URL}, nil)
	got, err := transport.EthCall(context.Background(), "ethereum", common.HexToAddress("0xabc"), []byte{0x01, 0x02}, 100)
	require.NoError(t, err)
	assert.Len(t, got, 32)
	assert.Equal(t, byte(1), got[31])
}

func TestEthCallPropagatesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "execution reverted"},
		})
	}))
	defer srv.Close()

	transport := NewHTTPTransport(map[string]string{"ethereum": srv.URL}, nil)
	_, err := transport.EthCall(context.Background(), "ethereum", common.HexToAddress("0xabc"), nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestEthCallUnknownNetworkErrors(t *testing.T) {
	transport := NewHTTPTransport(map[string]string{"ethereum": "http://unused"}, nil)
	_, err := transport.EthCall(context.Background(), "polygon", common.Address{}, nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"polygon"`)
}

// Package rpctransport implements the RPC Transport boundary (spec.md
// §6.2): eth_call(address, calldata, block_number) -> hex result | error.
// HTTPTransport is the one illustrative client SPEC_FULL.md calls for —
// a thin net/http JSON-RPC 2.0 caller, one HTTP endpoint per network, so
// internal/viewcall never has to know how a call actually reaches a node.
package rpctransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// request is the JSON-RPC 2.0 envelope sent to a node.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// response is the JSON-RPC 2.0 envelope returned by a node. Result is
// left as json.RawMessage since its shape depends on the method called;
// eth_call always resolves it to a single hex string.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpctransport: node returned error %d: %s", e.Code, e.Message)
}

// callObject is the eth_call first parameter: {to, data}.
type callObject struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// HTTPTransport is the reference Transport: one net/http client, with a
// configured JSON-RPC endpoint per network name.
type HTTPTransport struct {
	endpoints map[string]string
	client    *http.Client
}

// NewHTTPTransport builds a Transport that dials endpoints[network] for
// calls against that network. A nil client defaults to http.DefaultClient.
func NewHTTPTransport(endpoints map[string]string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	eps := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		eps[k] = v
	}
	return &HTTPTransport{endpoints: eps, client: client}
}

// EthCall implements viewcall.Caller: it encodes the calldata and block
// number per the JSON-RPC quantity/data encoding rules, posts an
// eth_call, and decodes the hex result back into raw bytes.
func (t *HTTPTransport) EthCall(ctx context.Context, network string, target common.Address, calldata []byte, blockNumber uint64) ([]byte, error) {
	endpoint, ok := t.endpoints[network]
	if !ok {
		return nil, fmt.Errorf("rpctransport: no endpoint configured for network %q", network)
	}

	reqBody := request{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params: []any{
			callObject{To: target.Hex(), Data: hexutil.Encode(calldata)},
			hexutil.EncodeUint64(blockNumber),
		},
		ID: 1,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("rpctransport: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpctransport: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpctransport: eth_call to %q: %w", network, err)
	}
	defer httpResp.Body.Close()

	var rpcResp response
	if err := json.NewDecoder(httpResp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("rpctransport: decoding response from %q: %w", network, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	var hexResult string
	if err := json.Unmarshal(rpcResp.Result, &hexResult); err != nil {
		return nil, fmt.Errorf("rpctransport: malformed eth_call result from %q: %w", network, err)
	}

	raw, err := hexutil.Decode(hexResult)
	if err != nil {
		return nil, fmt.Errorf("rpctransport: decoding hex result from %q: %w", network, err)
	}
	return raw, nil
}

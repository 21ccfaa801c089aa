package aasession

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	getAddressSelector = crypto.Keccak256([]byte("getAddress(address,uint256)"))[:4]
	getNonceSelector   = crypto.Keccak256([]byte("getNonce(address,uint192)"))[:4]
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// testChain is a JSON-RPC chain stub standing in for a local test node. It
// records per-method call counts so tests can assert which remote calls a
// code path performed.
type testChain struct {
	server *httptest.Server

	mu          sync.Mutex
	calls       map[string]int
	accountAddr common.Address
	balances    map[common.Address]*big.Int
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()
	c := &testChain{
		calls:       make(map[string]int),
		accountAddr: common.HexToAddress("0x00000000000000000000000000000000000cafe1"),
		balances:    make(map[common.Address]*big.Int),
	}
	c.server = httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(c.server.Close)
	return c
}

func (c *testChain) URL() string {
	return c.server.URL
}

func (c *testChain) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *testChain) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *testChain) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.calls[req.Method]++
	c.mu.Unlock()

	var result string
	switch req.Method {
	case "eth_chainId":
		result = `"0x7a69"`
	case "eth_getCode":
		result = `"0x"`
	case "eth_call":
		result = c.handleCall(req.Params)
	case "eth_getBalance":
		var addr common.Address
		_ = json.Unmarshal(req.Params[0], &addr)
		c.mu.Lock()
		balance, ok := c.balances[addr]
		c.mu.Unlock()
		if !ok {
			balance = big.NewInt(0)
		}
		result = fmt.Sprintf("%q", hexutil.EncodeBig(balance))
	case "anvil_setBalance":
		var addr common.Address
		var amount string
		_ = json.Unmarshal(req.Params[0], &addr)
		_ = json.Unmarshal(req.Params[1], &amount)
		c.mu.Lock()
		c.balances[addr] = HexToBigInt(amount)
		c.mu.Unlock()
		result = "null"
	default:
		result = "null"
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
}

func (c *testChain) handleCall(params []json.RawMessage) string {
	var msg struct {
		To    common.Address `json:"to"`
		Input hexutil.Bytes  `json:"input"`
		Data  hexutil.Bytes  `json:"data"`
	}
	_ = json.Unmarshal(params[0], &msg)
	calldata := msg.Input
	if len(calldata) == 0 {
		calldata = msg.Data
	}
	if len(calldata) < 4 {
		return `"0x"`
	}
	selector := calldata[:4]
	switch {
	case string(selector) == string(getAddressSelector):
		word := common.LeftPadBytes(c.accountAddr.Bytes(), 32)
		return fmt.Sprintf("%q", hexutil.Encode(word))
	case string(selector) == string(getNonceSelector):
		word := make([]byte, 32)
		return fmt.Sprintf("%q", hexutil.Encode(word))
	default:
		return `"0x"`
	}
}

// rpcStub is a bundler/paymaster JSON-RPC stub with canned per-method
// responses (raw result or error JSON) and call counting.
type rpcStub struct {
	server *httptest.Server

	mu      sync.Mutex
	calls   map[string]int
	results map[string]string
	errors  map[string]string
}

func newRPCStub(t *testing.T) *rpcStub {
	t.Helper()
	s := &rpcStub{
		calls:   make(map[string]int),
		results: make(map[string]string),
		errors:  make(map[string]string),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *rpcStub) URL() string {
	return s.server.URL
}

func (s *rpcStub) Respond(method, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[method] = result
}

func (s *rpcStub) Fail(method, errorJSON string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[method] = errorJSON
}

func (s *rpcStub) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *rpcStub) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.calls[req.Method]++
	errorJSON, failed := s.errors[req.Method]
	result, ok := s.results[req.Method]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failed {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":%s}`, req.ID, errorJSON)
		return
	}
	if !ok {
		result = "null"
	}
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
}

package aasession

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

const jsonrpcVersion = "2.0"

// rpcClient is a minimal JSON-RPC-over-HTTP client shared by the bundler and
// paymaster clients. The standard geth rpc client is not used here because
// both services speak custom method namespaces (eth_sendUserOperation,
// pm_sponsorUserOperation, pimlico_getUserOperationGasPrice) with non-geth
// result shapes.
type rpcClient struct {
	url  string
	http *http.Client
	id   atomic.Uint64
}

func newRPCClient(url string) *rpcClient {
	return &rpcClient{url: url, http: http.DefaultClient}
}

// call makes a JSON-RPC call and returns the raw response body.
func (c *rpcClient) call(ctx context.Context, method string, params []any) ([]byte, error) {
	if params == nil {
		params = []any{}
	}

	request := map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      c.id.Add(1),
		"method":  method,
		"params":  params,
	}
	payloadBytes, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("error marshalling payload: %v", err)
	}

	payload := strings.NewReader(string(payloadBytes))
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, payload)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Add("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return body, nil
}

type jsonRpcResponse[T any] struct {
	JsonRpc *string        `json:"jsonrpc"`
	Id      *int           `json:"id"`
	Result  T              `json:"result"`
	Error   *errorResponse `json:"error"`
}

type errorResponse struct {
	Code    *int    `json:"code"`
	Message *string `json:"message"`
}

// UnmarshalJSON implements custom unmarshaling for errorResponse
func (e *errorResponse) UnmarshalJSON(b []byte) error {
	// First, try to unmarshal as a simple string
	var errStr string
	if err := json.Unmarshal(b, &errStr); err == nil && errStr != "" {
		// If it's a string, set the message and leave code nil
		e.Message = &errStr
		e.Code = nil
		return nil
	}

	// Otherwise, try to unmarshal as an object
	type Alias struct {
		Code    *int    `json:"code"`
		Message *string `json:"message"`
	}
	var alias Alias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}

	// Populate the fields from the object
	e.Code = alias.Code
	e.Message = alias.Message
	return nil
}

func (e *errorResponse) String() string {
	result := ""
	if e.Code != nil {
		result += fmt.Sprintf("code: %d", *e.Code)
	}
	if e.Message != nil {
		if result != "" {
			result += ", "
		}
		result += fmt.Sprintf("message: %s", *e.Message)
	}
	return result
}

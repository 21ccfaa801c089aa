package aasession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const defaultWaitTimeout = 30 * time.Second

// BundlerClient talks to an ERC-4337 bundler over JSON-RPC.
type BundlerClient struct {
	rpc                 *rpcClient
	waitReceiptInterval time.Duration
}

var _ Bundler = (*BundlerClient)(nil)

func NewBundlerClient(url string, waitReceiptInterval time.Duration) *BundlerClient {
	if waitReceiptInterval <= 0 {
		waitReceiptInterval = 2 * time.Second
	}
	return &BundlerClient{
		rpc:                 newRPCClient(url),
		waitReceiptInterval: waitReceiptInterval,
	}
}

// SendUserOperation submits the signed, sponsored operation to the bundler
// pool. The returned hash only proves bundler-level admission, not on-chain
// inclusion.
func (c *BundlerClient) SendUserOperation(ctx context.Context, userOp *UserOperation, entryPoint common.Address) (common.Hash, error) {
	bytes, err := c.rpc.call(ctx, "eth_sendUserOperation", []any{userOp.ToBody(), entryPoint})
	if err != nil {
		return common.Hash{}, fmt.Errorf("error calling eth_sendUserOperation: %w", err)
	}
	var response jsonRpcResponse[common.Hash]
	if err = json.Unmarshal(bytes, &response); err != nil {
		return common.Hash{}, fmt.Errorf("error unmarshalling when sending user operation: %v", err)
	}
	if response.Error != nil {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrBundlerRejected, response.Error.String())
	}
	return response.Result, nil
}

// EstimateUserOperationGas asks the bundler for gas limits of the operation.
func (c *BundlerClient) EstimateUserOperationGas(ctx context.Context, userOp *UserOperation, entryPoint common.Address) (*GasEstimates, error) {
	bytes, err := c.rpc.call(ctx, "eth_estimateUserOperationGas", []any{userOp.ToBody(), entryPoint})
	if err != nil {
		return nil, fmt.Errorf("error calling eth_estimateUserOperationGas: %w", err)
	}
	type gasEstimates struct {
		PreVerificationGas   *string `json:"preVerificationGas"`
		VerificationGasLimit *string `json:"verificationGasLimit"`
		CallGasLimit         *string `json:"callGasLimit"`
		VerificationGas      *string `json:"verificationGas"`
		MaxFeePerGas         *string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas *string `json:"maxPriorityFeePerGas"`
	}
	var response jsonRpcResponse[*gasEstimates]
	if err = json.Unmarshal(bytes, &response); err != nil {
		return nil, fmt.Errorf("error unmarshalling user gas estimates: %v", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrBundlerRejected, response.Error.String())
	}
	if response.Result == nil {
		return nil, fmt.Errorf("no gas estimates response")
	}

	result := &GasEstimates{}
	if response.Result.PreVerificationGas != nil {
		result.PreVerificationGas = HexToBigInt(*response.Result.PreVerificationGas)
	}
	if response.Result.VerificationGasLimit != nil {
		result.VerificationGasLimit = HexToBigInt(*response.Result.VerificationGasLimit)
	}
	if response.Result.CallGasLimit != nil {
		result.CallGasLimit = HexToBigInt(*response.Result.CallGasLimit)
	}
	if response.Result.VerificationGas != nil {
		result.VerificationGas = HexToBigInt(*response.Result.VerificationGas)
	}
	if response.Result.MaxFeePerGas != nil {
		result.MaxFeePerGas = HexToBigInt(*response.Result.MaxFeePerGas)
	}
	if response.Result.MaxPriorityFeePerGas != nil {
		result.MaxPriorityFeePerGas = HexToBigInt(*response.Result.MaxPriorityFeePerGas)
	}
	return result, nil
}

// GetUserOperationReceipt returns the receipt, or nil while still pending.
func (c *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOpReceipt, error) {
	bytes, err := c.rpc.call(ctx, "eth_getUserOperationReceipt", []any{hash})
	if err != nil {
		return nil, fmt.Errorf("error calling eth_getUserOperationReceipt: %w", err)
	}
	var response jsonRpcResponse[*UserOpReceipt]
	if err = json.Unmarshal(bytes, &response); err != nil {
		return nil, fmt.Errorf("error unmarshalling user op receipt: %v", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrBundlerRejected, response.Error.String())
	}
	return response.Result, nil
}

// SupportedEntryPoints lists the entry point contracts the bundler serves.
func (c *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	bytes, err := c.rpc.call(ctx, "eth_supportedEntryPoints", nil)
	if err != nil {
		return nil, fmt.Errorf("error calling eth_supportedEntryPoints: %w", err)
	}
	var response jsonRpcResponse[[]common.Address]
	if err = json.Unmarshal(bytes, &response); err != nil {
		return nil, fmt.Errorf("error unmarshalling entry points: %v", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrBundlerRejected, response.Error.String())
	}
	return response.Result, nil
}

// WaitForUserOperation polls the bundler until a receipt shows up or the wait
// times out.
func (c *BundlerClient) WaitForUserOperation(ctx context.Context, hash common.Hash) (*UserOpReceipt, error) {
	ticker := time.NewTicker(c.waitReceiptInterval)
	defer ticker.Stop()
	ctx, cancel := context.WithTimeout(ctx, defaultWaitTimeout)
	defer cancel()
	for {
		select {
		case <-ticker.C:
			receipt, err := c.GetUserOperationReceipt(ctx, hash)
			if err != nil {
				return nil, fmt.Errorf("error getting user operation receipt: %w", err)
			}
			if receipt != nil {
				return receipt, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("no receipt found for user operation %s", hash.Hex())
		}
	}
}

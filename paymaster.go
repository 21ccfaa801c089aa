package aasession

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// PaymasterClient talks to a pimlico-style paymaster endpoint. It doubles as
// the fee oracle (pimlico_getUserOperationGasPrice) and the sponsorship
// service (pm_sponsorUserOperation).
type PaymasterClient struct {
	rpc *rpcClient
}

var _ FeeSource = (*PaymasterClient)(nil)
var _ Sponsor = (*PaymasterClient)(nil)

func NewPaymasterClient(url string) *PaymasterClient {
	return &PaymasterClient{rpc: newRPCClient(url)}
}

type gasPriceTier struct {
	MaxFeePerGas         *string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *string `json:"maxPriorityFeePerGas"`
}

type gasPriceTiers struct {
	Slow     *gasPriceTier `json:"slow"`
	Standard *gasPriceTier `json:"standard"`
	Fast     *gasPriceTier `json:"fast"`
}

// EstimateFeesPerGas queries the oracle and returns the fast tier. The quote
// is never cached: prices are time-sensitive and a stale value risks an
// underpriced, rejected operation. Failures propagate; fees are not defaulted.
func (c *PaymasterClient) EstimateFeesPerGas(ctx context.Context) (*FeeEstimate, error) {
	bytes, err := c.rpc.call(ctx, "pimlico_getUserOperationGasPrice", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeeEstimation, err)
	}
	var response jsonRpcResponse[*gasPriceTiers]
	if err = json.Unmarshal(bytes, &response); err != nil {
		return nil, fmt.Errorf("%w: error unmarshalling gas price: %v", ErrFeeEstimation, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrFeeEstimation, response.Error.String())
	}
	tiers := response.Result
	if tiers == nil || tiers.Fast == nil || tiers.Fast.MaxFeePerGas == nil || tiers.Fast.MaxPriorityFeePerGas == nil {
		return nil, fmt.Errorf("%w: no fast tier in gas price response", ErrFeeEstimation)
	}
	// An unparseable quote must not degrade into a zero-fee operation.
	maxFee, err := ParseHexQuantity(*tiers.Fast.MaxFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeeEstimation, err)
	}
	maxPriorityFee, err := ParseHexQuantity(*tiers.Fast.MaxPriorityFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeeEstimation, err)
	}
	return &FeeEstimate{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriorityFee,
	}, nil
}

type sponsorResult struct {
	Paymaster                     *common.Address `json:"paymaster"`
	PaymasterData                 *string         `json:"paymasterData"`
	PaymasterVerificationGasLimit *string         `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *string         `json:"paymasterPostOpGasLimit"`
	PreVerificationGas            *string         `json:"preVerificationGas"`
	VerificationGasLimit          *string         `json:"verificationGasLimit"`
	CallGasLimit                  *string         `json:"callGasLimit"`
}

// SponsorUserOperation asks the paymaster to cover gas for the operation and
// fills the paymaster and gas fields of userOp in place.
func (c *PaymasterClient) SponsorUserOperation(ctx context.Context, userOp *UserOperation, entryPoint common.Address) error {
	bytes, err := c.rpc.call(ctx, "pm_sponsorUserOperation", []any{userOp.ToBody(), entryPoint})
	if err != nil {
		return fmt.Errorf("error calling pm_sponsorUserOperation: %w", err)
	}
	var response jsonRpcResponse[*sponsorResult]
	if err = json.Unmarshal(bytes, &response); err != nil {
		return fmt.Errorf("error unmarshalling sponsorship: %v", err)
	}
	if response.Error != nil {
		return fmt.Errorf("%w: %s", ErrPaymasterRejected, response.Error.String())
	}
	result := response.Result
	if result == nil || result.Paymaster == nil {
		return fmt.Errorf("%w: empty sponsorship response", ErrPaymasterRejected)
	}

	userOp.Paymaster = *result.Paymaster
	if result.PaymasterData != nil {
		userOp.PaymasterData = common.FromHex(*result.PaymasterData)
	}
	if result.PaymasterVerificationGasLimit != nil {
		userOp.PaymasterVerificationGasLimit = HexToBigInt(*result.PaymasterVerificationGasLimit)
	}
	if result.PaymasterPostOpGasLimit != nil {
		userOp.PaymasterPostOpGasLimit = HexToBigInt(*result.PaymasterPostOpGasLimit)
	}
	if result.PreVerificationGas != nil {
		userOp.PreVerificationGas = HexToBigInt(*result.PreVerificationGas)
	}
	if result.VerificationGasLimit != nil {
		userOp.VerificationGasLimit = HexToBigInt(*result.VerificationGasLimit)
	}
	if result.CallGasLimit != nil {
		userOp.CallGasLimit = HexToBigInt(*result.CallGasLimit)
	}
	return nil
}

package aasession

import (
	"context"
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	DefaultCallGasLimit                  = int64(2000000)
	DefaultVerificationGasLimit          = int64(200000)
	DefaultPreVerificationGas            = int64(20000)
	DefaultPaymasterVerificationGasLimit = int64(3e5)
	DefaultPaymasterPostOpGasLimit       = int64(100)
)

// Call is one destination/value pair executed by the smart account. Data is
// empty for native transfers but the shape carries arbitrary calldata.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// FeeEstimate is one gas price tier returned by the paymaster oracle.
type FeeEstimate struct {
	MaxFeePerGas         *big.Int `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas"`
}

// UserOperation represents the base structure for operations by ERC-4337
// in the unpacked v0.7+ wire shape.
type UserOperation struct {
	Sender                        common.Address `json:"sender"`
	Nonce                         *big.Int       `json:"nonce"`
	CallData                      []byte         `json:"callData"`
	CallGasLimit                  *big.Int       `json:"callGasLimit"`
	VerificationGasLimit          *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas            *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas                  *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *big.Int       `json:"maxPriorityFeePerGas"`
	Signature                     []byte         `json:"signature"`
	Paymaster                     common.Address `json:"paymaster"`
	PaymasterData                 []byte         `json:"paymasterData"`
	PaymasterVerificationGasLimit *big.Int       `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *big.Int       `json:"paymasterPostOpGasLimit"`
	Factory                       common.Address `json:"factory"`
	FactoryData                   []byte         `json:"factoryData"`
	InitCode                      []byte         `json:"initCode"`
}

// PackedUserOperation is the on-chain EntryPoint representation of a user
// operation, with paired gas fields packed into single 32-byte words.
type PackedUserOperation struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   common.Hash
	PreVerificationGas *big.Int
	GasFees            common.Hash
	PaymasterAndData   []byte
	Signature          []byte
}

// NewUserOpWithDefault builds a user operation with conservative default gas
// limits. Fee fields are left nil on purpose: they are filled from a fresh
// oracle quote at submission time.
func NewUserOpWithDefault(sender common.Address, calldata []byte) *UserOperation {
	return &UserOperation{
		Sender:                        sender,
		CallData:                      calldata,
		CallGasLimit:                  big.NewInt(DefaultCallGasLimit),
		VerificationGasLimit:          big.NewInt(DefaultVerificationGasLimit),
		PreVerificationGas:            big.NewInt(DefaultPreVerificationGas),
		PaymasterVerificationGasLimit: big.NewInt(DefaultPaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       big.NewInt(DefaultPaymasterPostOpGasLimit),
	}
}

// ToBody converts the UserOperation to a map of strings.
// It helps to perform json request.
func (u *UserOperation) ToBody() map[string]string {
	body := make(map[string]string)
	if u.Sender != (common.Address{}) {
		body["sender"] = u.Sender.Hex()
	}
	if u.Nonce != nil {
		body["nonce"] = "0x" + u.Nonce.Text(16)
	}
	if len(u.CallData) > 0 {
		body["callData"] = "0x" + hex.EncodeToString(u.CallData)
	}
	if u.CallGasLimit != nil {
		body["callGasLimit"] = "0x" + u.CallGasLimit.Text(16)
	}
	if u.VerificationGasLimit != nil {
		body["verificationGasLimit"] = "0x" + u.VerificationGasLimit.Text(16)
	}
	if u.PreVerificationGas != nil {
		body["preVerificationGas"] = "0x" + u.PreVerificationGas.Text(16)
	}
	if u.MaxFeePerGas != nil {
		body["maxFeePerGas"] = "0x" + u.MaxFeePerGas.Text(16)
	}
	if u.MaxPriorityFeePerGas != nil {
		body["maxPriorityFeePerGas"] = "0x" + u.MaxPriorityFeePerGas.Text(16)
	}
	if len(u.Signature) > 0 {
		body["signature"] = "0x" + hex.EncodeToString(u.Signature)
	}
	if u.Paymaster != (common.Address{}) {
		body["paymaster"] = u.Paymaster.Hex()
	}
	if len(u.PaymasterData) > 0 {
		body["paymasterData"] = "0x" + hex.EncodeToString(u.PaymasterData)
	}
	if u.PaymasterVerificationGasLimit != nil {
		body["paymasterVerificationGasLimit"] = "0x" + u.PaymasterVerificationGasLimit.Text(16)
	}
	if u.PaymasterPostOpGasLimit != nil {
		body["paymasterPostOpGasLimit"] = "0x" + u.PaymasterPostOpGasLimit.Text(16)
	}
	if u.Factory != (common.Address{}) {
		body["factory"] = u.Factory.Hex()
	}
	if len(u.FactoryData) > 0 {
		body["factoryData"] = "0x" + hex.EncodeToString(u.FactoryData)
	}
	return body
}

type receipt struct {
	BlockHash         common.Hash    `json:"blockHash"`
	BlockNumber       string         `json:"blockNumber"`
	From              common.Address `json:"from"`
	CumulativeGasUsed string         `json:"cumulativeGasUsed"`
	GasUsed           string         `json:"gasUsed"`
	Logs              []*types.Log   `json:"logs"`
	LogsBloom         types.Bloom    `json:"logsBloom"`
	TransactionHash   common.Hash    `json:"transactionHash"`
	TransactionIndex  string         `json:"transactionIndex"`
	EffectiveGasPrice string         `json:"effectiveGasPrice"`
}

// UserOpReceipt is the bundler's view of an included user operation.
type UserOpReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Paymaster     common.Address `json:"paymaster"`
	Nonce         string         `json:"nonce"`
	Success       bool           `json:"success"`
	ActualGasCost string         `json:"actualGasCost"`
	ActualGasUsed string         `json:"actualGasUsed"`
	From          common.Address `json:"from"`
	Receipt       *receipt       `json:"receipt"`
	Logs          []*types.Log   `json:"logs"`
	ReturnData    []byte         `json:"returnData"`
}

// GasEstimates provides estimate values for all gas fields in a UserOperation.
type GasEstimates struct {
	PreVerificationGas   *big.Int `json:"preVerificationGas"`
	VerificationGasLimit *big.Int `json:"verificationGasLimit"`
	CallGasLimit         *big.Int `json:"callGasLimit"`
	VerificationGas      *big.Int `json:"verificationGas"`
	MaxFeePerGas         *big.Int `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas"`
}

// FeeSource supplies the fee quote for a submission.
type FeeSource interface {
	// EstimateFeesPerGas queries the pricing oracle. Implementations must not
	// cache across calls; stale prices get operations rejected.
	EstimateFeesPerGas(ctx context.Context) (*FeeEstimate, error)
}

// Sponsor asks a paymaster service to cover gas for a user operation.
type Sponsor interface {
	// SponsorUserOperation fills the paymaster fields of userOp in place.
	SponsorUserOperation(ctx context.Context, userOp *UserOperation, entryPoint common.Address) error
}

// Bundler submits user operations and reports on their fate.
type Bundler interface {
	// SendUserOperation sends the signed user operation to the bundler pool
	// and returns its hash. Acceptance does not imply on-chain inclusion.
	SendUserOperation(ctx context.Context, userOp *UserOperation, entryPoint common.Address) (common.Hash, error)

	// EstimateUserOperationGas estimates the gas needed for the user operation.
	EstimateUserOperationGas(ctx context.Context, userOp *UserOperation, entryPoint common.Address) (*GasEstimates, error)

	// GetUserOperationReceipt returns the receipt of the user operation.
	GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOpReceipt, error)

	// SupportedEntryPoints returns the entry points the bundler serves.
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
}

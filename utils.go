package aasession

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	packedUserOpTypeHash = crypto.Keccak256Hash([]byte(
		"PackedUserOperation(address sender,uint256 nonce,bytes initCode,bytes callData,bytes32 accountGasLimits,uint256 preVerificationGas,bytes32 gasFees,bytes paymasterAndData)"))
	entryPointV08DomainName    = crypto.Keccak256Hash([]byte("ERC4337"))
	entryPointV08DomainVersion = crypto.Keccak256Hash([]byte("1"))
)

// IsAccountDeployed checks if the account is deployed by querying its bytecode
func IsAccountDeployed(ctx context.Context, client *ethclient.Client, address common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, address, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// GetUserOpHash computes the hash the owner signs over. The formula depends on
// the entry point version: v0.7 hashes the packed operation together with the
// entry point address and chain id, v0.8 wraps the same struct hash in an
// EIP-712 "ERC4337" domain.
func GetUserOpHash(packed *PackedUserOperation, entryPoint EntryPointSpec, chainId *big.Int) (common.Hash, error) {
	if entryPoint.Version == EntryPointV08 {
		return getUserOpHashV08(packed, entryPoint.Address, chainId)
	}
	hashed, err := HashedUserOp(packed)
	if err != nil {
		return common.Hash{}, err
	}
	hashArgs := abi.Arguments{
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // userOp.hash
		{Type: abi.Type{T: abi.AddressTy}},              // entrypoint address
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // chainID
	}
	packedHash, err := hashArgs.Pack(hashed, entryPoint.Address, chainId)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error packing user op hash: %v", err)
	}
	// Compute final Keccak-256 hash
	return crypto.Keccak256Hash(packedHash), nil
}

func getUserOpHashV08(packed *PackedUserOperation, entryPoint common.Address, chainId *big.Int) (common.Hash, error) {
	domainArgs := abi.Arguments{
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // EIP712Domain typehash
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // name hash
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // version hash
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // chainId
		{Type: abi.Type{T: abi.AddressTy}},              // verifying contract
	}
	domainPacked, err := domainArgs.Pack(
		eip712DomainTypeHash,
		entryPointV08DomainName,
		entryPointV08DomainVersion,
		chainId,
		entryPoint,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error packing domain separator: %v", err)
	}
	domainSeparator := crypto.Keccak256Hash(domainPacked)

	structArgs := abi.Arguments{
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // PackedUserOperation typehash
		{Type: abi.Type{T: abi.AddressTy}},              // sender
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // nonce
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashInitCode
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashCallData
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // accountGasLimits
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // preVerificationGas
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // gasFees
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashPaymasterAndData
	}
	structPacked, err := structArgs.Pack(
		packedUserOpTypeHash,
		packed.Sender,
		packed.Nonce,
		crypto.Keccak256Hash(packed.InitCode),
		crypto.Keccak256Hash(packed.CallData),
		packed.AccountGasLimits,
		packed.PreVerificationGas,
		packed.GasFees,
		crypto.Keccak256Hash(packed.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error packing user op struct hash: %v", err)
	}
	structHash := crypto.Keccak256Hash(structPacked)

	digest := make([]byte, 0, 2+32+32)
	digest = append(digest, 0x19, 0x01)
	digest = append(digest, domainSeparator.Bytes()...)
	digest = append(digest, structHash.Bytes()...)
	return crypto.Keccak256Hash(digest), nil
}

// HashedUserOp computes the entry point's inner struct hash of the operation.
func HashedUserOp(userOp *PackedUserOperation) (common.Hash, error) {
	arguments := abi.Arguments{
		{Type: abi.Type{T: abi.AddressTy}},              // sender
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // nonce
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashInitCode
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashCallData
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // accountGasLimits
		{Type: abi.Type{T: abi.UintTy, Size: 256}},      // preVerificationGas
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // gasFees
		{Type: abi.Type{T: abi.FixedBytesTy, Size: 32}}, // hashPaymasterAndData
	}

	// Compute hashes for dynamic fields
	hashInitCode := crypto.Keccak256Hash(userOp.InitCode)
	hashCallData := crypto.Keccak256Hash(userOp.CallData)
	hashPaymasterAndData := crypto.Keccak256Hash(userOp.PaymasterAndData)

	packed, err := arguments.Pack(
		userOp.Sender,
		userOp.Nonce,
		hashInitCode,
		hashCallData,
		userOp.AccountGasLimits,
		userOp.PreVerificationGas,
		userOp.GasFees,
		hashPaymasterAndData,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error packing user op fields: %v", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// HexToBigInt converts a hex string to a big.Int.
// If the hex string is prefixed with "0x", it will be removed. Unparseable
// input yields zero.
func HexToBigInt(hex string) *big.Int {
	value, ok := new(big.Int).SetString(strings.TrimPrefix(hex, "0x"), 16)
	if !ok {
		return new(big.Int)
	}
	return value
}

// ParseHexQuantity converts a hex string to a big.Int, rejecting input that
// does not parse. Used where a silent zero would be dangerous, such as fee
// quotes.
func ParseHexQuantity(hex string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimPrefix(hex, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", hex)
	}
	return value, nil
}

// PackInt packs two big.Ints into a common.Hash.
// The first 16 bytes are the first big.Int and the last 16 bytes are the second big.Int.
// It panics if one of the big.Ints is nil.
func PackInt(a *big.Int, b *big.Int) common.Hash {
	if a == nil || b == nil {
		panic("nil data")
	}
	var result common.Hash
	copy(result[:], append(
		common.LeftPadBytes(a.Bytes(), 16),
		common.LeftPadBytes(b.Bytes(), 16)...,
	))
	return result
}

// PackPaymasterAndData constructs the paymasterAndData field.
func PackPaymasterAndData(paymaster common.Address, verGasLimit, postOpGasLimit *big.Int, data []byte) []byte {
	verGasBytes := common.LeftPadBytes(verGasLimit.Bytes(), 16)
	postOpGasBytes := common.LeftPadBytes(postOpGasLimit.Bytes(), 16)

	length := len(paymaster) + len(verGasBytes) + len(postOpGasBytes) + len(data)
	result := make([]byte, 0, length)
	result = append(result, paymaster[:]...)   // 20 bytes
	result = append(result, verGasBytes...)    // 16 bytes
	result = append(result, postOpGasBytes...) // 16 bytes
	result = append(result, data...)           // variable length

	return result
}

// PackUserOperation packs a user operation into a PackedUserOperation.
// It panics if the user operation is nil.
func PackUserOperation(userOp *UserOperation) PackedUserOperation {
	if userOp == nil {
		panic("nil user operation")
	}
	paymasterAndData := []byte{}
	if userOp.Paymaster != (common.Address{}) {
		paymasterAndData = PackPaymasterAndData(
			userOp.Paymaster,
			userOp.PaymasterVerificationGasLimit,
			userOp.PaymasterPostOpGasLimit,
			userOp.PaymasterData,
		)
	}
	return PackedUserOperation{
		Sender:             userOp.Sender,
		Nonce:              userOp.Nonce,
		CallData:           userOp.CallData,
		AccountGasLimits:   PackInt(userOp.VerificationGasLimit, userOp.CallGasLimit),
		PreVerificationGas: userOp.PreVerificationGas,
		GasFees:            PackInt(userOp.MaxPriorityFeePerGas, userOp.MaxFeePerGas),
		PaymasterAndData:   paymasterAndData,
		Signature:          userOp.Signature,
		InitCode:           userOp.InitCode,
	}
}

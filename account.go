package aasession

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// AccountKind selects the smart account variant.
type AccountKind string

const (
	// KindSafe is the Safe-based account: richer feature set (multi-owner
	// ready, passkeys), entry point v0.7 only.
	KindSafe AccountKind = "safe"
	// KindSimple is the reference simple account: minimal feature set,
	// entry point v0.7 and v0.8.
	KindSimple AccountKind = "simple"
)

func (k AccountKind) Valid() bool {
	return k == KindSafe || k == KindSimple
}

func (k AccountKind) String() string {
	return string(k)
}

// Both account factories expose the same counterfactual surface.
const accountFactoryABIJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

const simpleAccountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

const safeModuleABIJSON = `[
	{"type":"function","name":"executeUserOp","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}],"outputs":[]}
]`

const multiSendABIJSON = `[
	{"type":"function","name":"multiSend","stateMutability":"payable","inputs":[{"name":"transactions","type":"bytes"}],"outputs":[]}
]`

const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

var (
	simpleFactoryV07 = common.HexToAddress("0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985")
	simpleFactoryV08 = common.HexToAddress("0x13E9ed32155810FDbd067D4522C492D6f68E5944")
	// safeFactoryV07 must be a wrapper factory exposing the shared
	// createAccount/getAddress surface and deploying the Safe singleton with
	// the 4337 module enabled. The raw SafeProxyFactory does not implement
	// getAddress(address,uint256).
	safeFactoryV07   = common.HexToAddress("0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67")
	multiSendAddress = common.HexToAddress("0x38869bf66a61cF6bDB996A6aE40D5853Fd43B526")
)

// accountSalt pins one smart account per owner key.
var accountSalt = big.NewInt(0)

// AccountVariant is the capability set shared by the concrete variants:
// locate the factory for an entry point version and encode execution calldata.
type AccountVariant interface {
	Kind() AccountKind

	// FactoryAddress returns the account factory deployed for the version.
	// Only called after the compatibility check has passed.
	FactoryAddress(version EntryPointVersion) common.Address

	// PackCalls encodes an ordered call sequence into account calldata.
	PackCalls(calls []Call) ([]byte, error)
}

type simpleVariant struct {
	accountABI abi.ABI
}

func (v *simpleVariant) Kind() AccountKind { return KindSimple }

func (v *simpleVariant) FactoryAddress(version EntryPointVersion) common.Address {
	if version == EntryPointV08 {
		return simpleFactoryV08
	}
	return simpleFactoryV07
}

func (v *simpleVariant) PackCalls(calls []Call) ([]byte, error) {
	if len(calls) == 1 {
		return v.accountABI.Pack("execute", calls[0].To, callValue(calls[0]), callData(calls[0]))
	}
	dest := make([]common.Address, len(calls))
	value := make([]*big.Int, len(calls))
	data := make([][]byte, len(calls))
	for i, call := range calls {
		dest[i] = call.To
		value[i] = callValue(call)
		data[i] = callData(call)
	}
	return v.accountABI.Pack("executeBatch", dest, value, data)
}

type safeVariant struct {
	moduleABI    abi.ABI
	multiSendABI abi.ABI
}

func (v *safeVariant) Kind() AccountKind { return KindSafe }

func (v *safeVariant) FactoryAddress(version EntryPointVersion) common.Address {
	return safeFactoryV07
}

// PackCalls routes a single call through the 4337 module's executeUserOp and
// folds batches into one delegatecalled MultiSend transaction.
func (v *safeVariant) PackCalls(calls []Call) ([]byte, error) {
	if len(calls) == 1 {
		return v.moduleABI.Pack("executeUserOp", calls[0].To, callValue(calls[0]), callData(calls[0]), uint8(0))
	}
	var transactions []byte
	for _, call := range calls {
		data := callData(call)
		transactions = append(transactions, 0) // operation: call
		transactions = append(transactions, call.To.Bytes()...)
		transactions = append(transactions, common.LeftPadBytes(callValue(call).Bytes(), 32)...)
		transactions = append(transactions, common.LeftPadBytes(big.NewInt(int64(len(data))).Bytes(), 32)...)
		transactions = append(transactions, data...)
	}
	inner, err := v.multiSendABI.Pack("multiSend", transactions)
	if err != nil {
		return nil, err
	}
	return v.moduleABI.Pack("executeUserOp", multiSendAddress, big.NewInt(0), inner, uint8(1))
}

func callValue(c Call) *big.Int {
	if c.Value == nil {
		return big.NewInt(0)
	}
	return c.Value
}

func callData(c Call) []byte {
	if c.Data == nil {
		return []byte{}
	}
	return c.Data
}

func newVariant(kind AccountKind) (AccountVariant, error) {
	switch kind {
	case KindSimple:
		accountABI, err := abi.JSON(strings.NewReader(simpleAccountABIJSON))
		if err != nil {
			return nil, fmt.Errorf("error parsing simple account ABI: %v", err)
		}
		return &simpleVariant{accountABI: accountABI}, nil
	case KindSafe:
		moduleABI, err := abi.JSON(strings.NewReader(safeModuleABIJSON))
		if err != nil {
			return nil, fmt.Errorf("error parsing safe module ABI: %v", err)
		}
		multiSendABI, err := abi.JSON(strings.NewReader(multiSendABIJSON))
		if err != nil {
			return nil, fmt.Errorf("error parsing multisend ABI: %v", err)
		}
		return &safeVariant{moduleABI: moduleABI, multiSendABI: multiSendABI}, nil
	default:
		return nil, fmt.Errorf("%w: unknown account kind %q", ErrIncompatibleConfig, string(kind))
	}
}

// Factory constructs smart account variants and derives their deterministic
// addresses through the variant's on-chain account factory.
type Factory struct {
	eth           *ethclient.Client
	factoryABI    abi.ABI
	entryPointABI abi.ABI
	cache         LRUCache
}

func NewFactory(eth *ethclient.Client, cache LRUCache) (*Factory, error) {
	factoryABI, err := abi.JSON(strings.NewReader(accountFactoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("error parsing account factory ABI: %v", err)
	}
	entryPointABI, err := abi.JSON(strings.NewReader(entryPointABIJSON))
	if err != nil {
		return nil, fmt.Errorf("error parsing entry point ABI: %v", err)
	}
	return &Factory{eth: eth, factoryABI: factoryABI, entryPointABI: entryPointABI, cache: cache}, nil
}

// Build validates the kind/version pairing and constructs the variant with
// its counterfactual address. The compatibility check runs before any RPC:
// a bad pairing must fail synchronously, not via a remote error.
func (f *Factory) Build(ctx context.Context, owner *ecdsa.PrivateKey, entryPoint EntryPointSpec, kind AccountKind) (*SmartAccount, error) {
	if !IsCompatible(kind, entryPoint.Version) {
		return nil, fmt.Errorf("%w: %s does not support entry point v%s",
			ErrIncompatibleConfig, kind, entryPoint.Version)
	}
	variant, err := newVariant(kind)
	if err != nil {
		return nil, err
	}
	ownerAddr := crypto.PubkeyToAddress(owner.PublicKey)
	factoryAddr := variant.FactoryAddress(entryPoint.Version)
	address, err := f.counterfactualAddress(ctx, factoryAddr, ownerAddr)
	if err != nil {
		return nil, err
	}
	return &SmartAccount{
		address:       address,
		owner:         owner,
		ownerAddr:     ownerAddr,
		variant:       variant,
		entryPoint:    entryPoint,
		factory:       factoryAddr,
		factoryABI:    f.factoryABI,
		entryPointABI: f.entryPointABI,
		eth:           f.eth,
	}, nil
}

// counterfactualAddress asks the factory for the deterministic account
// address of owner+salt. The result never changes for a fixed input, so it
// is memoized in the LRU cache.
func (f *Factory) counterfactualAddress(ctx context.Context, factory, owner common.Address) (common.Address, error) {
	key := fmt.Sprintf("%s-%s-%s", factory.Hex(), owner.Hex(), accountSalt.String())
	if f.cache != nil {
		if addr, ok := f.cache.Get(key); ok {
			return addr.(common.Address), nil
		}
	}
	data, err := f.factoryABI.Pack("getAddress", owner, accountSalt)
	if err != nil {
		return common.Address{}, fmt.Errorf("error packing getAddress call: %v", err)
	}
	out, err := f.eth.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("error getting account address: %w", err)
	}
	results, err := f.factoryABI.Unpack("getAddress", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("error decoding account address: %v", err)
	}
	addr := results[0].(common.Address)
	if f.cache != nil {
		f.cache.Set(key, addr)
	}
	return addr, nil
}

// SmartAccount is a constructed account variant bound to an owner key and an
// entry point. It signs user operation hashes and encodes its own calldata.
type SmartAccount struct {
	address       common.Address
	owner         *ecdsa.PrivateKey
	ownerAddr     common.Address
	variant       AccountVariant
	entryPoint    EntryPointSpec
	factory       common.Address
	factoryABI    abi.ABI
	entryPointABI abi.ABI
	eth           *ethclient.Client
}

// Address returns the deterministic smart account address.
func (a *SmartAccount) Address() common.Address {
	return a.address
}

// Owner returns the owner's EOA address.
func (a *SmartAccount) Owner() common.Address {
	return a.ownerAddr
}

// Kind returns the variant kind the account was built as.
func (a *SmartAccount) Kind() AccountKind {
	return a.variant.Kind()
}

// EntryPoint returns the entry point the account was built against.
func (a *SmartAccount) EntryPoint() EntryPointSpec {
	return a.entryPoint
}

// FactoryAddress returns the account factory the address was derived from.
func (a *SmartAccount) FactoryAddress() common.Address {
	return a.factory
}

// PackCalls encodes the call sequence into account execution calldata.
func (a *SmartAccount) PackCalls(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("no calls to pack")
	}
	return a.variant.PackCalls(calls)
}

// InitCode returns factory address ++ createAccount calldata when the account
// is not deployed yet, and empty slices once it is.
func (a *SmartAccount) InitCode(ctx context.Context) (initCode, factoryData []byte, err error) {
	deployed, err := IsAccountDeployed(ctx, a.eth, a.address)
	if err != nil {
		return nil, nil, fmt.Errorf("error checking if account is deployed: %w", err)
	}
	if deployed {
		return nil, nil, nil
	}
	factoryData, err = a.factoryABI.Pack("createAccount", a.ownerAddr, accountSalt)
	if err != nil {
		return nil, nil, fmt.Errorf("error packing account init code: %v", err)
	}
	initCode = append(a.factory.Bytes(), factoryData...)
	return initCode, factoryData, nil
}

// Nonce reads the account's current nonce from the entry point.
func (a *SmartAccount) Nonce(ctx context.Context) (*big.Int, error) {
	data, err := a.entryPointABI.Pack("getNonce", a.address, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("error packing getNonce call: %v", err)
	}
	out, err := a.eth.CallContract(ctx, ethereum.CallMsg{To: &a.entryPoint.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("error getting nonce: %w", err)
	}
	results, err := a.entryPointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("error decoding nonce: %v", err)
	}
	return results[0].(*big.Int), nil
}

// SignUserOpHash signs the user operation hash with the owner key using the
// EIP-191 personal message scheme both account implementations validate.
func (a *SmartAccount) SignUserOpHash(hash common.Hash) ([]byte, error) {
	sig, err := SignMessage(a.owner, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

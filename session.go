package aasession

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Session drives one smart account through the sponsored submission flow:
// identity resolution, account construction, and the
// build -> estimate fees -> sponsor -> sign -> submit pipeline.
//
// Submissions are strictly sequential. The session keeps no nonce bookkeeping
// for concurrent in-flight operations; callers must not submit for the same
// account from multiple goroutines.
type Session struct {
	config  *Config
	store   RecordStore
	chain   *ChainClient
	factory *Factory
	fees    FeeSource
	sponsor Sponsor
	bundler Bundler

	account *SmartAccount
	record  *AccountRecord
}

// NewSession wires a session from explicit collaborators. Config is validated
// up front so a bad kind/version pairing fails before any network traffic.
func NewSession(config *Config, store RecordStore, chain *ChainClient, factory *Factory, fees FeeSource, sponsor Sponsor, bundler Bundler) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		config:  config,
		store:   store,
		chain:   chain,
		factory: factory,
		fees:    fees,
		sponsor: sponsor,
		bundler: bundler,
	}, nil
}

// Init resolves the owner identity and constructs the smart account.
//
// A persisted record always wins: its key is reused verbatim and no new
// identity is ever minted over it. The freshly derived address is compared
// against the stored one; a mismatch means the configuration changed after
// the account was recorded, and the run aborts instead of silently operating
// on an account the active variant cannot reproduce. The record is written
// only after construction succeeded, so a failed run leaves no partial state.
func (s *Session) Init(ctx context.Context) (*SmartAccount, error) {
	record, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	var owner *ecdsa.PrivateKey
	if record != nil {
		owner, err = record.OwnerKey()
		if err != nil {
			return nil, err
		}
	} else {
		owner, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("error generating owner key: %w", err)
		}
	}

	entryPoint, err := ResolveEntryPoint(s.config.EntryPointVersion)
	if err != nil {
		return nil, err
	}
	account, err := s.factory.Build(ctx, owner, entryPoint, s.config.AccountKind)
	if err != nil {
		return nil, err
	}

	if record != nil {
		if record.SmartAccountAddress != account.Address() {
			return nil, fmt.Errorf("%w: stored %s, derived %s for %s v%s",
				ErrRecordMismatch,
				record.SmartAccountAddress.Hex(), account.Address().Hex(),
				s.config.AccountKind, s.config.EntryPointVersion)
		}
	} else {
		record = NewAccountRecord(owner, account.Address())
		if err := s.store.Persist(record); err != nil {
			return nil, err
		}
	}

	s.account = account
	s.record = record
	return account, nil
}

// Account returns the constructed smart account, or nil before Init.
func (s *Session) Account() *SmartAccount {
	return s.account
}

// Record returns the active account record, or nil before Init.
func (s *Session) Record() *AccountRecord {
	return s.record
}

// SendSponsored builds a sponsored user operation from the call sequence and
// submits it to the bundler. The fee quote is fetched fresh for every
// submission and fee failure stops the pipeline before the bundler is ever
// contacted. The returned hash is a correlatable handle, not a confirmation.
func (s *Session) SendSponsored(ctx context.Context, calls []Call) (common.Hash, error) {
	if s.account == nil {
		return common.Hash{}, fmt.Errorf("session not initialized")
	}

	calldata, err := s.account.PackCalls(calls)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error packing calls: %w", err)
	}
	userOp := NewUserOpWithDefault(s.account.Address(), calldata)

	nonce, err := s.account.Nonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	userOp.Nonce = nonce

	initCode, factoryData, err := s.account.InitCode(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	if len(initCode) != 0 {
		userOp.InitCode = initCode
		userOp.Factory = s.account.FactoryAddress()
		userOp.FactoryData = factoryData
	} else {
		userOp.InitCode = []byte{}
	}

	fees, err := s.fees.EstimateFeesPerGas(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	userOp.MaxFeePerGas = fees.MaxFeePerGas
	userOp.MaxPriorityFeePerGas = fees.MaxPriorityFeePerGas

	entryPoint := s.account.EntryPoint()
	if err := s.sponsor.SponsorUserOperation(ctx, userOp, entryPoint.Address); err != nil {
		return common.Hash{}, err
	}

	packed := PackUserOperation(userOp)
	hash, err := GetUserOpHash(&packed, entryPoint, s.chain.ChainId())
	if err != nil {
		return common.Hash{}, fmt.Errorf("error hashing user operation: %w", err)
	}
	sig, err := s.account.SignUserOpHash(hash)
	if err != nil {
		return common.Hash{}, err
	}
	userOp.Signature = sig

	return s.bundler.SendUserOperation(ctx, userOp, entryPoint.Address)
}

// Balance reads the native balance of an address, for the pre/post
// observation around a submission.
func (s *Session) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return s.chain.Balance(ctx, account)
}

// Fund seeds the account balance on a local test chain.
func (s *Session) Fund(ctx context.Context, account common.Address, amount *big.Int) error {
	return s.chain.SetBalance(ctx, account, amount)
}

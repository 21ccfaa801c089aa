package aasession

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFees struct {
	calls int
	err   error
}

func (f *fakeFees) EstimateFeesPerGas(ctx context.Context) (*FeeEstimate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &FeeEstimate{
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}, nil
}

type fakeSponsor struct {
	calls int
	err   error
}

func (f *fakeSponsor) SponsorUserOperation(ctx context.Context, userOp *UserOperation, entryPoint common.Address) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	userOp.Paymaster = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	userOp.PaymasterData = []byte{0x01}
	return nil
}

type fakeBundler struct {
	sends int
	ops   []*UserOperation
}

func (f *fakeBundler) SendUserOperation(ctx context.Context, userOp *UserOperation, entryPoint common.Address) (common.Hash, error) {
	f.sends++
	clone := *userOp
	f.ops = append(f.ops, &clone)
	return common.BigToHash(big.NewInt(int64(f.sends))), nil
}

func (f *fakeBundler) EstimateUserOperationGas(ctx context.Context, userOp *UserOperation, entryPoint common.Address) (*GasEstimates, error) {
	return &GasEstimates{}, nil
}

func (f *fakeBundler) GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOpReceipt, error) {
	return nil, nil
}

func (f *fakeBundler) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	return nil, nil
}

type sessionFixture struct {
	session *Session
	chain   *testChain
	fees    *fakeFees
	sponsor *fakeSponsor
	bundler *fakeBundler
}

func newSessionFixture(t *testing.T, store RecordStore) *sessionFixture {
	t.Helper()
	chain := newTestChain(t)
	chainClient, err := NewChainClient(context.Background(), chain.URL())
	require.NoError(t, err)
	t.Cleanup(chainClient.Close)

	factory, err := NewFactory(chainClient.Eth(), NewLRUCache(16))
	require.NoError(t, err)

	config := &Config{
		NodeURL:           chain.URL(),
		BundlerURL:        chain.URL(),
		PaymasterURL:      chain.URL(),
		EntryPointVersion: EntryPointV07,
		AccountKind:       KindSafe,
	}
	fees := &fakeFees{}
	sponsor := &fakeSponsor{}
	bundler := &fakeBundler{}

	session, err := NewSession(config, store, chainClient, factory, fees, sponsor, bundler)
	require.NoError(t, err)
	return &sessionFixture{session: session, chain: chain, fees: fees, sponsor: sponsor, bundler: bundler}
}

func TestNewSessionRejectsIncompatibleConfig(t *testing.T) {
	config := &Config{
		EntryPointVersion: EntryPointV08,
		AccountKind:       KindSafe,
	}
	_, err := NewSession(config, NewMemoryStore(), nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrIncompatibleConfig)
}

func TestInitCreatesAndPersistsRecord(t *testing.T) {
	store := NewMemoryStore()
	fx := newSessionFixture(t, store)

	account, err := fx.session.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fx.chain.accountAddr, account.Address())

	record, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, account.Address(), record.SmartAccountAddress)
	assert.Equal(t, account.Owner(), record.OwnerAddress)

	key, err := record.OwnerKey()
	require.NoError(t, err)
	assert.Equal(t, account.Owner(), crypto.PubkeyToAddress(key.PublicKey))
}

func TestInitIdempotentIdentity(t *testing.T) {
	store := NewMemoryStore()

	first := newSessionFixture(t, store)
	a1, err := first.session.Init(context.Background())
	require.NoError(t, err)
	r1, err := store.Load()
	require.NoError(t, err)

	// A second run against the same store reuses the key verbatim.
	second := newSessionFixture(t, store)
	a2, err := second.session.Init(context.Background())
	require.NoError(t, err)
	r2, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, a1.Owner(), a2.Owner())
	assert.Equal(t, a1.Address(), a2.Address())
	assert.Equal(t, r1, r2)
}

func TestInitRecordMismatchFailsLoudly(t *testing.T) {
	store := NewMemoryStore()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	stale := NewAccountRecord(key, common.HexToAddress("0x00000000000000000000000000000000000000ff"))
	require.NoError(t, store.Persist(stale))

	fx := newSessionFixture(t, store)
	_, err = fx.session.Init(context.Background())
	assert.ErrorIs(t, err, ErrRecordMismatch)

	// The stale record is left untouched.
	record, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, stale.SmartAccountAddress, record.SmartAccountAddress)
}

func TestInitCorruptStoreAborts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smart-account.json")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o600))

	fx := newSessionFixture(t, NewFileStore(path))
	_, err := fx.session.Init(context.Background())
	assert.ErrorIs(t, err, ErrStoreCorrupt)

	// No fresh identity was minted over the unreadable record.
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "junk", string(data))
}

func TestSendSponsoredFlow(t *testing.T) {
	fx := newSessionFixture(t, NewMemoryStore())
	account, err := fx.session.Init(context.Background())
	require.NoError(t, err)

	target := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	hash, err := fx.session.SendSponsored(context.Background(), []Call{
		{To: target, Value: big.NewInt(1e15)},
	})
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	require.Equal(t, 1, fx.bundler.sends)

	sent := fx.bundler.ops[0]
	assert.Equal(t, account.Address(), sent.Sender)
	assert.Equal(t, big.NewInt(2_000_000_000), sent.MaxFeePerGas)
	assert.Equal(t, big.NewInt(1_000_000_000), sent.MaxPriorityFeePerGas)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), sent.Paymaster)
	// Account is undeployed on the stub chain, so init code travels along.
	assert.Equal(t, account.FactoryAddress(), sent.Factory)
	assert.NotEmpty(t, sent.InitCode)
	require.Len(t, sent.Signature, 65)

	// The signature recovers to the owner over the version-specific hash.
	packed := PackUserOperation(sent)
	opHash, err := GetUserOpHash(&packed, account.EntryPoint(), big.NewInt(31337))
	require.NoError(t, err)
	prefixed := crypto.Keccak256Hash(append(
		[]byte("\x19Ethereum Signed Message:\n32"), opHash.Bytes()...))
	sig := make([]byte, 65)
	copy(sig, sent.Signature)
	sig[64] -= 27
	pub, err := crypto.SigToPub(prefixed.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, account.Owner(), crypto.PubkeyToAddress(*pub))
}

func TestSendSponsoredFeeFreshness(t *testing.T) {
	fx := newSessionFixture(t, NewMemoryStore())
	_, err := fx.session.Init(context.Background())
	require.NoError(t, err)

	calls := []Call{{To: common.HexToAddress("0x1"), Value: big.NewInt(1)}}
	_, err = fx.session.SendSponsored(context.Background(), calls)
	require.NoError(t, err)
	_, err = fx.session.SendSponsored(context.Background(), calls)
	require.NoError(t, err)

	// Each submission re-queries the oracle; quotes are never reused.
	assert.Equal(t, 2, fx.fees.calls)
	assert.Equal(t, 2, fx.bundler.sends)
}

func TestSendSponsoredFeeFailureStopsPipeline(t *testing.T) {
	fx := newSessionFixture(t, NewMemoryStore())
	_, err := fx.session.Init(context.Background())
	require.NoError(t, err)

	fx.fees.err = ErrFeeEstimation
	_, err = fx.session.SendSponsored(context.Background(), []Call{
		{To: common.HexToAddress("0x1"), Value: big.NewInt(1)},
	})
	assert.ErrorIs(t, err, ErrFeeEstimation)
	assert.Equal(t, 0, fx.sponsor.calls, "no sponsorship after fee failure")
	assert.Equal(t, 0, fx.bundler.sends, "no call reaches the bundler after fee failure")
}

func TestSendSponsoredPaymasterRejectionStopsPipeline(t *testing.T) {
	fx := newSessionFixture(t, NewMemoryStore())
	_, err := fx.session.Init(context.Background())
	require.NoError(t, err)

	fx.sponsor.err = ErrPaymasterRejected
	_, err = fx.session.SendSponsored(context.Background(), []Call{
		{To: common.HexToAddress("0x1"), Value: big.NewInt(1)},
	})
	assert.ErrorIs(t, err, ErrPaymasterRejected)
	assert.Equal(t, 0, fx.bundler.sends)
}

func TestSendSponsoredBeforeInit(t *testing.T) {
	fx := newSessionFixture(t, NewMemoryStore())
	_, err := fx.session.SendSponsored(context.Background(), []Call{
		{To: common.HexToAddress("0x1"), Value: big.NewInt(1)},
	})
	assert.Error(t, err)
	assert.Equal(t, 0, fx.fees.calls)
	assert.Equal(t, 0, fx.bundler.sends)
}

func TestRerunReusesRecordAcrossSubmissions(t *testing.T) {
	store := NewMemoryStore()
	calls := []Call{{To: common.HexToAddress("0x1"), Value: big.NewInt(1)}}

	first := newSessionFixture(t, store)
	_, err := first.session.Init(context.Background())
	require.NoError(t, err)
	h1, err := first.session.SendSponsored(context.Background(), calls)
	require.NoError(t, err)
	r1, err := store.Load()
	require.NoError(t, err)

	second := newSessionFixture(t, store)
	_, err = second.session.Init(context.Background())
	require.NoError(t, err)
	h2, err := second.session.SendSponsored(context.Background(), calls)
	require.NoError(t, err)
	r2, err := store.Load()
	require.NoError(t, err)

	assert.NotEqual(t, common.Hash{}, h1)
	assert.NotEqual(t, common.Hash{}, h2)
	assert.Equal(t, r1, r2, "one record serves every run")
}

func TestFundAndBalance(t *testing.T) {
	fx := newSessionFixture(t, NewMemoryStore())
	account, err := fx.session.Init(context.Background())
	require.NoError(t, err)

	amount := big.NewInt(1e15)
	require.NoError(t, fx.session.Fund(context.Background(), account.Address(), amount))

	balance, err := fx.session.Balance(context.Background(), account.Address())
	require.NoError(t, err)
	assert.Equal(t, amount, balance)
}

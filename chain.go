package aasession

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient wraps the chain RPC endpoint: balance reads for the pre/post
// observation and, against a local test chain, the privileged balance-set
// used to seed the demo account.
type ChainClient struct {
	eth     *ethclient.Client
	chainId *big.Int
}

func NewChainClient(ctx context.Context, nodeURL string) (*ChainClient, error) {
	eth, err := ethclient.Dial(nodeURL)
	if err != nil {
		return nil, fmt.Errorf("error creating eth client: %w", err)
	}
	chainId, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting chain id: %w", err)
	}
	return &ChainClient{eth: eth, chainId: chainId}, nil
}

// Eth exposes the underlying client for contract reads.
func (c *ChainClient) Eth() *ethclient.Client {
	return c.eth
}

// ChainId returns the chain ID of the node.
func (c *ChainClient) ChainId() *big.Int {
	return c.chainId
}

// Balance returns the native balance of the given account.
func (c *ChainClient) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("error getting account balance: %w", err)
	}
	return balance, nil
}

// SetBalance overwrites an account balance. Only available against local test
// chains (anvil); a real network rejects the method.
func (c *ChainClient) SetBalance(ctx context.Context, account common.Address, amount *big.Int) error {
	err := c.eth.Client().CallContext(ctx, nil, "anvil_setBalance", account, hexutil.EncodeBig(amount))
	if err != nil {
		return fmt.Errorf("error setting account balance: %w", err)
	}
	return nil
}

func (c *ChainClient) Close() {
	c.eth.Close()
}

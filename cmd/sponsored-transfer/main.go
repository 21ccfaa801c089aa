package main

import (
	"context"
	"log"
	"log/slog"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	aasession "github.com/nhancv/script-erc4337-aa-pimlico-example"
)

var (
	burnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	// 0.001 native units.
	transferAmount = big.NewInt(1e15)
)

func main() {
	// Endpoint urls and the account selection come from the environment; a
	// local .env file is picked up when present.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env: %v", err)
	}
	config, err := aasession.ConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to parse config: %v", err)
	}

	ctx := context.Background()

	chain, err := aasession.NewChainClient(ctx, config.NodeURL)
	if err != nil {
		log.Fatalf("Failed to connect to node: %v", err)
	}
	defer chain.Close()
	slog.Info("Connected to chain", "chainId", chain.ChainId())

	factory, err := aasession.NewFactory(chain.Eth(), aasession.NewLRUCache(1024))
	if err != nil {
		log.Fatalf("Failed to create account factory: %v", err)
	}
	paymaster := aasession.NewPaymasterClient(config.PaymasterURL)
	bundler := aasession.NewBundlerClient(config.BundlerURL, config.WaitReceiptInterval)
	store := aasession.NewFileStore(config.StorePath)

	session, err := aasession.NewSession(config, store, chain, factory, paymaster, paymaster, bundler)
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	account, err := session.Init(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize session: %v", err)
	}
	slog.Info("Smart account ready",
		"kind", account.Kind(),
		"entryPointVersion", account.EntryPoint().Version,
		"address", account.Address().Hex(),
		"owner", account.Owner().Hex(),
	)

	// Seed the smart account on the local test chain so the sponsored
	// transfer has something to move.
	if err := session.Fund(ctx, account.Address(), transferAmount); err != nil {
		log.Fatalf("Failed to fund smart account: %v", err)
	}

	accountBefore, err := session.Balance(ctx, account.Address())
	if err != nil {
		log.Fatalf("Failed to read smart account balance: %v", err)
	}
	destBefore, err := session.Balance(ctx, burnAddress)
	if err != nil {
		log.Fatalf("Failed to read destination balance: %v", err)
	}
	slog.Info("Balances before", "account", accountBefore, "destination", destBefore)

	hash, err := session.SendSponsored(ctx, []aasession.Call{
		{To: burnAddress, Value: transferAmount},
	})
	if err != nil {
		log.Fatalf("Failed to send user operation: %v", err)
	}
	slog.Info("User operation sent", "userOpHash", hash.Hex())

	receipt, err := bundler.WaitForUserOperation(ctx, hash)
	if err != nil {
		log.Fatalf("Failed to wait for user operation: %v", err)
	}
	slog.Info("User operation included",
		"success", receipt.Success,
		"actualGasCost", receipt.ActualGasCost,
		"actualGasUsed", receipt.ActualGasUsed,
	)

	accountAfter, err := session.Balance(ctx, account.Address())
	if err != nil {
		log.Fatalf("Failed to read smart account balance: %v", err)
	}
	destAfter, err := session.Balance(ctx, burnAddress)
	if err != nil {
		log.Fatalf("Failed to read destination balance: %v", err)
	}
	slog.Info("Balances after", "account", accountAfter, "destination", destAfter)
	slog.Info("Destination delta", "wei", new(big.Int).Sub(destAfter, destBefore))
}

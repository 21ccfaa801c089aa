package aasession

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything a Session needs. It is passed explicitly to the
// constructors; there is no package-level configuration state, so multiple
// independent sessions can coexist in one process.
type Config struct {
	// The url of node.
	NodeURL string `env:"RPC_URL,required,notEmpty"`
	// The url of bundler.
	BundlerURL string `env:"BUNDLER_URL,required,notEmpty"`
	// The url of the paymaster / gas price oracle.
	PaymasterURL string `env:"PAYMASTER_URL,required,notEmpty"`
	// The entry point protocol version to run against.
	EntryPointVersion EntryPointVersion `env:"ENTRYPOINT_VERSION" envDefault:"0.7"`
	// The smart account variant to construct.
	AccountKind AccountKind `env:"ACCOUNT_KIND" envDefault:"safe"`
	// Path of the JSON file persisting the owner identity and smart account
	// address across runs.
	StorePath string `env:"ACCOUNT_STORE" envDefault:"smart-account.json"`
	// The interval to query the receipt.
	WaitReceiptInterval time.Duration `env:"WAIT_RECEIPT_INTERVAL" envDefault:"2s"`
}

// ConfigFromEnv parses the configuration from environment variables.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the version/kind pairing without touching the network.
func (c *Config) Validate() error {
	if _, err := ResolveEntryPoint(c.EntryPointVersion); err != nil {
		return err
	}
	if !c.AccountKind.Valid() {
		return fmt.Errorf("%w: unknown account kind %q", ErrIncompatibleConfig, string(c.AccountKind))
	}
	if !IsCompatible(c.AccountKind, c.EntryPointVersion) {
		return fmt.Errorf("%w: %s does not support entry point v%s",
			ErrIncompatibleConfig, c.AccountKind, c.EntryPointVersion)
	}
	if c.NodeURL == "" || c.BundlerURL == "" || c.PaymasterURL == "" {
		return fmt.Errorf("node, bundler and paymaster urls must not be empty")
	}
	return nil
}

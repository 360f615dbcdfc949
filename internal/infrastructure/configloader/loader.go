package configloader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LedgerConfig holds the RPC provider and contract scan configuration.
type LedgerConfig struct {
	RPCURL               string  `yaml:"rpcURL"`
	ContractAddress      string  `yaml:"contractAddress"`
	FromBlock            uint64  `yaml:"fromBlock"`
	ToBlock              uint64  `yaml:"toBlock"`
	MaxBlockRange        uint64  `yaml:"maxBlockRange"`
	TokenSymbol          string  `yaml:"tokenSymbol"`
	NativeSymbol         string  `yaml:"nativeSymbol"`
	RequestTimeoutMillis int64   `yaml:"requestTimeoutMillis"`
	RateLimitPerSecond   float64 `yaml:"rateLimitPerSecond"`
	BurstLimit           int     `yaml:"burstLimit"`
	RetryAttempts        int     `yaml:"retryAttempts"`
	RetryBaseDelayMillis int64   `yaml:"retryBaseDelayMillis"`
}

// CoinGeckoConfig holds CoinGecko API specific configurations.
type CoinGeckoConfig struct {
	BaseURL              string            `yaml:"baseURL"`
	APIKey               string            `yaml:"apiKey"`
	RequestTimeoutMillis int64             `yaml:"requestTimeoutMillis"`
	AssetIDMapping       map[string]string `yaml:"assetIdMapping"`
}

// CryptoCompareConfig holds CryptoCompare API specific configurations.
type CryptoCompareConfig struct {
	Enabled              bool   `yaml:"enabled"`
	BaseURL              string `yaml:"baseURL"`
	APIKey               string `yaml:"apiKey"`
	RequestTimeoutMillis int64  `yaml:"requestTimeoutMillis"`
}

// PriceOracleConfig holds configuration for the price oracle service.
type PriceOracleConfig struct {
	RateLimitPerSecond   float64 `yaml:"rateLimitPerSecond"`
	BurstLimit           int     `yaml:"burstLimit"`
	RetryAttempts        int     `yaml:"retryAttempts"`
	RetryBaseDelayMillis int64   `yaml:"retryBaseDelayMillis"`
}

// PerformanceConfig holds performance-related configurations.
type PerformanceConfig struct {
	MaxConcurrentEvents int `yaml:"max_concurrent_events"`
}

// Config is the top-level configuration structure.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	CoinGecko     CoinGeckoConfig     `yaml:"coingecko"`
	CryptoCompare CryptoCompareConfig `yaml:"cryptoCompare"`
	Oracle        PriceOracleConfig   `yaml:"priceOracle"`
	Performance   PerformanceConfig   `yaml:"performance"`
}

// KlerosLiquid on Ethereum mainnet, deployed at block 7303699.
const (
	defaultContractAddress = "0x988b3A538b618C7A603e1c11Ab82Cd16dbE28069"
	defaultFromBlock       = 7303699
)

// Load reads the YAML configuration file from the given path, unmarshals it
// and fills defaults. Credentials may be supplied through the environment
// (ETH_RPC_URL, COINGECKO_API_KEY, CRYPTOCOMPARE_API_KEY) so they stay out
// of config files.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}

	// Environment overrides for credentials.
	if v := os.Getenv("ETH_RPC_URL"); v != "" {
		cfg.Ledger.RPCURL = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.CoinGecko.APIKey = v
	}
	if v := os.Getenv("CRYPTOCOMPARE_API_KEY"); v != "" {
		cfg.CryptoCompare.APIKey = v
	}

	// Defaults for LedgerConfig
	if cfg.Ledger.ContractAddress == "" {
		cfg.Ledger.ContractAddress = defaultContractAddress
	}
	if cfg.Ledger.FromBlock == 0 {
		cfg.Ledger.FromBlock = defaultFromBlock
	}
	if cfg.Ledger.MaxBlockRange == 0 {
		cfg.Ledger.MaxBlockRange = 100000 // typical provider log-range ceiling
	}
	if cfg.Ledger.TokenSymbol == "" {
		cfg.Ledger.TokenSymbol = "PNK"
	}
	if cfg.Ledger.NativeSymbol == "" {
		cfg.Ledger.NativeSymbol = "ETH"
	}
	if cfg.Ledger.RequestTimeoutMillis == 0 {
		cfg.Ledger.RequestTimeoutMillis = 15000
	}
	if cfg.Ledger.RateLimitPerSecond <= 0 {
		cfg.Ledger.RateLimitPerSecond = 4
	}
	if cfg.Ledger.BurstLimit <= 0 {
		cfg.Ledger.BurstLimit = 1
	}
	if cfg.Ledger.RetryAttempts <= 0 {
		cfg.Ledger.RetryAttempts = 4
	}
	if cfg.Ledger.RetryBaseDelayMillis <= 0 {
		cfg.Ledger.RetryBaseDelayMillis = 500
	}

	// Defaults for CoinGeckoConfig
	if cfg.CoinGecko.BaseURL == "" {
		cfg.CoinGecko.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.CoinGecko.RequestTimeoutMillis == 0 {
		cfg.CoinGecko.RequestTimeoutMillis = 10000
	}
	if cfg.CoinGecko.AssetIDMapping == nil {
		cfg.CoinGecko.AssetIDMapping = map[string]string{
			"PNK": "kleros",
			"ETH": "ethereum",
		}
	}

	// Defaults for CryptoCompareConfig
	if cfg.CryptoCompare.BaseURL == "" {
		cfg.CryptoCompare.BaseURL = "https://min-api.cryptocompare.com"
	}
	if cfg.CryptoCompare.RequestTimeoutMillis == 0 {
		cfg.CryptoCompare.RequestTimeoutMillis = 10000
	}

	// Defaults for PriceOracleConfig
	if cfg.Oracle.RateLimitPerSecond <= 0 {
		cfg.Oracle.RateLimitPerSecond = 0.5 // free-tier historical endpoints are strict
	}
	if cfg.Oracle.BurstLimit <= 0 {
		cfg.Oracle.BurstLimit = 1
	}
	if cfg.Oracle.RetryAttempts <= 0 {
		cfg.Oracle.RetryAttempts = 4
	}
	if cfg.Oracle.RetryBaseDelayMillis <= 0 {
		cfg.Oracle.RetryBaseDelayMillis = 1000
	}

	// Defaults for PerformanceConfig
	if cfg.Performance.MaxConcurrentEvents <= 0 {
		cfg.Performance.MaxConcurrentEvents = 4
	}

	if cfg.Ledger.RPCURL == "" {
		return nil, fmt.Errorf("ledger.rpcURL is required: set it in %s or via ETH_RPC_URL", path)
	}

	return &cfg, nil
}

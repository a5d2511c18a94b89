// Package config loads the YAML configuration shared by the HTLC tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/evm"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Config holds all configuration.
type Config struct {
	// Network is the default network (mainnet, testnet, regtest).
	Network chain.Network `yaml:"network"`

	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Fees    FeeConfig     `yaml:"fees"`

	// Backends holds blockchain API configurations per chain symbol.
	// If not specified, defaults to public APIs (mempool.space, etc.)
	Backends map[string]*backend.Config `yaml:"backends,omitempty"`

	// Chains overrides or extends the built-in chain parameters.
	Chains []ChainOverride `yaml:"chains,omitempty"`

	// EVMContracts maps chain ID to HTLC contract address.
	EVMContracts map[uint64]string `yaml:"evm_contracts,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is text, logfmt or json.
	Format string `yaml:"format,omitempty"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file,omitempty"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// FeeTarget selects a backend fee estimate.
type FeeTarget string

const (
	FeeTargetFastest  FeeTarget = "fastest"
	FeeTargetHalfHour FeeTarget = "half_hour"
	FeeTargetHour     FeeTarget = "hour"
	FeeTargetEconomy  FeeTarget = "economy"
	FeeTargetMinimum  FeeTarget = "minimum"
)

// FeeConfig holds fee-rate settings.
type FeeConfig struct {
	// DefaultRate is the sat/vB rate used when no estimate is available.
	DefaultRate uint64 `yaml:"default_rate"`

	// Target picks which backend estimate to use.
	Target FeeTarget `yaml:"target"`
}

// Rate returns the fee rate for est according to Target, falling back to
// DefaultRate when the estimate is missing or zero.
func (f FeeConfig) Rate(est *backend.FeeEstimate) uint64 {
	if est == nil {
		return f.DefaultRate
	}
	var rate uint64
	switch f.Target {
	case FeeTargetFastest:
		rate = est.FastestFee
	case FeeTargetHalfHour, "":
		rate = est.HalfHourFee
	case FeeTargetHour:
		rate = est.HourFee
	case FeeTargetEconomy:
		rate = est.EconomyFee
	case FeeTargetMinimum:
		rate = est.MinimumFee
	}
	if rate == 0 {
		return f.DefaultRate
	}
	return rate
}

// ChainOverride layers address-encoding constants onto the chain table.
// Unset fields keep the built-in value; a new (symbol, network) pair must
// name its type.
type ChainOverride struct {
	Symbol  string        `yaml:"symbol"`
	Network chain.Network `yaml:"network"`

	Name             string          `yaml:"name,omitempty"`
	Type             chain.ChainType `yaml:"type,omitempty"`
	Decimals         *uint8          `yaml:"decimals,omitempty"`
	PubKeyHashAddrID *uint8          `yaml:"pubkey_hash_addr_id,omitempty"`
	ScriptHashAddrID *uint8          `yaml:"script_hash_addr_id,omitempty"`
	Bech32HRP        *string         `yaml:"bech32_hrp,omitempty"`
	WIF              *uint8          `yaml:"wif,omitempty"`
	CoinType         *uint32         `yaml:"coin_type,omitempty"`
	ChainID          *uint64         `yaml:"chain_id,omitempty"`
	SupportsSegWit   *bool           `yaml:"segwit,omitempty"`
}

// apply returns base with the override's set fields.
func (o *ChainOverride) apply(base chain.Params) chain.Params {
	p := base
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.Type != "" {
		p.Type = o.Type
	}
	if o.Decimals != nil {
		p.Decimals = *o.Decimals
	}
	if o.PubKeyHashAddrID != nil {
		p.PubKeyHashAddrID = *o.PubKeyHashAddrID
	}
	if o.ScriptHashAddrID != nil {
		p.ScriptHashAddrID = *o.ScriptHashAddrID
	}
	if o.Bech32HRP != nil {
		p.Bech32HRP = *o.Bech32HRP
	}
	if o.WIF != nil {
		p.WIF = *o.WIF
	}
	if o.CoinType != nil {
		p.CoinType = *o.CoinType
	}
	if o.ChainID != nil {
		p.ChainID = *o.ChainID
	}
	if o.SupportsSegWit != nil {
		p.SupportsSegWit = *o.SupportsSegWit
	}
	return p
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Network: chain.Mainnet,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			DataDir: "~/.klingon-htlc",
		},
		Fees: FeeConfig{
			DefaultRate: 10,
			Target:      FeeTargetHalfHour,
		},
	}
}

// Load reads configuration from a YAML file. If the file doesn't exist, one
// with default values is written and returned.
func Load(path string) (*Config, error) {
	path = expandPath(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# HTLC engine configuration\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks every section and reports the first problem found.
func (c *Config) Validate() error {
	if _, err := chain.ParseNetwork(string(c.Network)); err != nil {
		return fmt.Errorf("%w: network: %v", ErrInvalidConfig, err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "logfmt", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("%w: storage.data_dir is empty", ErrInvalidConfig)
	}

	switch c.Fees.Target {
	case "", FeeTargetFastest, FeeTargetHalfHour, FeeTargetHour, FeeTargetEconomy, FeeTargetMinimum:
	default:
		return fmt.Errorf("%w: fees.target %q", ErrInvalidConfig, c.Fees.Target)
	}

	for symbol, b := range c.Backends {
		if b == nil {
			return fmt.Errorf("%w: backends.%s is empty", ErrInvalidConfig, symbol)
		}
		if _, err := backend.ParseType(string(b.Type)); err != nil {
			return fmt.Errorf("%w: backends.%s: %v", ErrInvalidConfig, symbol, err)
		}
	}

	if _, err := c.ChainTable(); err != nil {
		return err
	}
	if _, err := c.EVMContractTable(); err != nil {
		return err
	}
	return nil
}

// ChainTable returns the built-in chain table with the overrides applied.
func (c *Config) ChainTable() (chain.Table, error) {
	table := chain.DefaultTable()
	for i := range c.Chains {
		o := &c.Chains[i]
		if o.Symbol == "" {
			return chain.Table{}, fmt.Errorf("%w: chains[%d]: symbol required", ErrInvalidConfig, i)
		}
		network, err := chain.ParseNetwork(string(o.Network))
		if err != nil {
			return chain.Table{}, fmt.Errorf("%w: chains[%d]: %v", ErrInvalidConfig, i, err)
		}

		var base chain.Params
		if existing, err := table.Lookup(o.Symbol, network); err == nil {
			base = *existing
		} else if o.Type == "" {
			return chain.Table{}, fmt.Errorf("%w: chains[%d]: new chain %s needs a type", ErrInvalidConfig, i, o.Symbol)
		}

		params := o.apply(base)
		table = table.With(o.Symbol, network, &params)
	}
	return table, nil
}

// EVMContractTable returns the built-in contract table with the configured
// addresses applied.
func (c *Config) EVMContractTable() (evm.ContractTable, error) {
	table := evm.DefaultContracts()
	for chainID, addr := range c.EVMContracts {
		var err error
		table, err = table.WithHex(chainID, addr)
		if err != nil {
			return evm.ContractTable{}, fmt.Errorf("%w: evm_contracts.%d: %v", ErrInvalidConfig, chainID, err)
		}
	}
	return table, nil
}

// BackendConfig returns the backend config for a chain symbol.
// Returns the default config if not explicitly configured.
func (c *Config) BackendConfig(symbol string) *backend.Config {
	if cfg, ok := c.Backends[symbol]; ok {
		return cfg
	}
	return backend.DefaultConfigs()[symbol]
}

// BackendConfigs returns the defaults merged with the configured backends.
func (c *Config) BackendConfigs() map[string]*backend.Config {
	merged := backend.DefaultConfigs()
	for symbol, cfg := range c.Backends {
		merged[symbol] = cfg
	}
	return merged
}

// LoggerConfig converts the logging section for pkg/logging.
func (c *Config) LoggerConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	if c.Logging.Format != "" {
		cfg.Format = c.Logging.Format
	}
	return cfg
}

// DataDir returns the expanded storage directory.
func (c *Config) DataDir() string {
	return expandPath(c.Storage.DataDir)
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

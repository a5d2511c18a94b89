// Package backend provides the blockchain API collaborators of the HTLC engine:
// UTXO and fee-rate lookup, and broadcast of signed transactions.
// No private keys are handled here.
package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrNoBackendURL       = errors.New("no backend URL for network")
	ErrNoFeeEstimates     = errors.New("no fee estimates")
)

// Type selects the API dialect of a backend. It is fixed by configuration.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// ParseType parses a backend type name.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(s)) {
	case TypeMempool:
		return TypeMempool, nil
	case TypeEsplora:
		return TypeEsplora, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
	}
}

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"value"`        // in smallest unit (satoshis)
	ScriptPubKey  string `json:"scriptpubkey"` // hex encoded, may be empty
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height,omitempty"`
}

// Transaction is the subset of an indexed transaction the engine needs.
type Transaction struct {
	TxID        string    `json:"txid"`
	Confirmed   bool      `json:"confirmed"`
	BlockHeight int64     `json:"block_height,omitempty"`
	Inputs      []TxInput `json:"vin"`
}

// TxInput represents a transaction input.
type TxInput struct {
	TxID     string   `json:"txid"`
	Vout     uint32   `json:"vout"`
	Witness  []string `json:"witness,omitempty"`
	Sequence uint32   `json:"sequence"`
	// PrevOutAddr is the address of the output being spent.
	PrevOutAddr string `json:"prevout_address,omitempty"`
}

// FeeEstimate contains fee estimation for different confirmation targets.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`   // sat/vB for next block
	HalfHourFee uint64 `json:"half_hour_fee"` // sat/vB for ~30 min
	HourFee     uint64 `json:"hour_fee"`      // sat/vB for ~1 hour
	EconomyFee  uint64 `json:"economy_fee"`   // sat/vB for low priority
	MinimumFee  uint64 `json:"minimum_fee"`   // sat/vB minimum relay fee
}

// UTXOSource returns spendable outputs and fee rates.
type UTXOSource interface {
	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)
	GetFeeEstimates(ctx context.Context) (*FeeEstimate, error)
}

// Broadcaster submits raw signed transactions and returns their txid.
// Rejections are reported as *BroadcastError.
type Broadcaster interface {
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)
}

// Backend is a blockchain data provider.
type Backend interface {
	UTXOSource
	Broadcaster

	// Type returns the backend type (mempool, esplora)
	Type() Type

	GetBlockHeight(ctx context.Context) (int64, error)
	GetAddressTxs(ctx context.Context, address string) ([]Transaction, error)
	GetRawTransaction(ctx context.Context, txID string) ([]byte, error)
}

// BroadcastError is a transaction rejected by the backend.
type BroadcastError struct {
	Status int
	Reason string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrBroadcastFailed, e.Status, e.Reason)
}

// Unwrap returns ErrBroadcastFailed.
func (e *BroadcastError) Unwrap() error {
	return ErrBroadcastFailed
}

// Config contains backend configuration.
type Config struct {
	Type       Type   `yaml:"type"`
	MainnetURL string `yaml:"mainnet"`
	TestnetURL string `yaml:"testnet"`
	RegtestURL string `yaml:"regtest,omitempty"`

	// Optional settings
	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

// URL returns the endpoint for network.
func (c *Config) URL(network chain.Network) string {
	switch network {
	case chain.Mainnet:
		return c.MainnetURL
	case chain.Testnet:
		return c.TestnetURL
	case chain.Regtest:
		return c.RegtestURL
	default:
		return ""
	}
}

// DefaultConfigs returns default backend configurations for the UTXO chains.
func DefaultConfigs() map[string]*Config {
	return map[string]*Config{
		"BTC": {
			Type:       TypeMempool,
			MainnetURL: "https://mempool.space/api",
			TestnetURL: "https://mempool.space/testnet4/api",
			RegtestURL: "http://127.0.0.1:3002/api",
		},
		"LTC": {
			Type:       TypeMempool,
			MainnetURL: "https://litecoinspace.org/api",
			TestnetURL: "https://litecoinspace.org/testnet/api",
		},
	}
}

// New creates the backend selected by cfg.Type for network.
func New(cfg *Config, network chain.Network) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrUnsupportedBackend)
	}
	url := cfg.URL(network)
	if url == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBackendURL, network)
	}

	switch cfg.Type {
	case TypeMempool:
		return NewMempoolBackend(url, cfg.Timeout), nil
	case TypeEsplora:
		return NewEsploraBackend(url, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Type)
	}
}

// ToSwapUTXOs converts backend outputs to transaction assembler inputs.
func ToSwapUTXOs(utxos []UTXO) ([]swap.UTXO, error) {
	out := make([]swap.UTXO, 0, len(utxos))
	for _, u := range utxos {
		var pkScript []byte
		if u.ScriptPubKey != "" {
			var err error
			pkScript, err = hex.DecodeString(u.ScriptPubKey)
			if err != nil {
				return nil, fmt.Errorf("invalid scriptpubkey for %s:%d: %w", u.TxID, u.Vout, err)
			}
		}
		out = append(out, swap.UTXO{
			TxID:     u.TxID,
			Vout:     u.Vout,
			Value:    u.Amount,
			PkScript: pkScript,
		})
	}
	return out, nil
}

// Registry holds backend instances by chain symbol.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates a backend for every configured symbol that has an
// endpoint on network.
func NewRegistry(configs map[string]*Config, network chain.Network) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend)}
	for symbol, cfg := range configs {
		if cfg.URL(network) == "" {
			continue
		}
		b, err := New(cfg, network)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", symbol, err)
		}
		r.backends[symbol] = b
	}
	return r, nil
}

// Register adds a backend to the registry.
func (r *Registry) Register(symbol string, backend Backend) {
	r.backends[symbol] = backend
}

// Get returns a backend by symbol.
func (r *Registry) Get(symbol string) (Backend, bool) {
	b, ok := r.backends[symbol]
	return b, ok
}

// List returns all registered symbols, sorted.
func (r *Registry) List() []string {
	symbols := make([]string, 0, len(r.backends))
	for s := range r.backends {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

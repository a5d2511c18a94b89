// Package chain defines the address-encoding parameters of every chain the
// HTLC engine can target. Parameters live in an immutable Table that is passed
// explicitly to whatever needs it; there is no package-level registry.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Lookup errors.
var (
	ErrUnsupportedChain   = errors.New("unsupported chain")
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// Network represents mainnet, testnet or a local regression-test network.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// ParseNetwork parses a network name. "testnet3" and "testnet4" are accepted
// as aliases for Testnet.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "main":
		return Mainnet, nil
	case "testnet", "testnet3", "testnet4", "test":
		return Testnet, nil
	case "regtest", "regnet":
		return Regtest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, s)
	}
}

// ChainType represents the blockchain family.
type ChainType string

const (
	ChainTypeBitcoin   ChainType = "bitcoin"   // BTC and forks (LTC, DOGE)
	ChainTypeEVM       ChainType = "evm"       // Ethereum and EVM chains
	ChainTypeFederated ChainType = "federated" // Stellar-style ledger consensus chains
)

// Params contains all parameters for a blockchain.
type Params struct {
	// Identity
	Symbol   string
	Name     string
	Type     ChainType
	Decimals uint8

	// Address encoding (Bitcoin-like)
	PubKeyHashAddrID byte   // P2PKH version byte
	ScriptHashAddrID byte   // P2SH version byte
	Bech32HRP        string // empty when the chain has no segwit
	WIF              byte   // private key version byte

	// BIP44 coin type of the default derivation path
	CoinType uint32

	// BIP32 HD key magic bytes (for xpub/xprv serialization)
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	// EVM chain ID
	ChainID uint64

	SupportsSegWit bool
}

// NetParams derives a btcd chaincfg.Params carrying this chain's address
// encoding constants. A new value is returned on every call so callers never
// share mutable state with btcd's built-in networks.
func (p *Params) NetParams() *chaincfg.Params {
	hdPrivateKeyID := p.HDPrivateKeyID
	hdPublicKeyID := p.HDPublicKeyID
	if hdPrivateKeyID == [4]byte{} {
		hdPrivateKeyID = [4]byte{0x04, 0x88, 0xad, 0xe4} // xprv
	}
	if hdPublicKeyID == [4]byte{} {
		hdPublicKeyID = [4]byte{0x04, 0x88, 0xb2, 0x1e} // xpub
	}

	return &chaincfg.Params{
		Name:             strings.ToLower(p.Name),
		PubKeyHashAddrID: p.PubKeyHashAddrID,
		ScriptHashAddrID: p.ScriptHashAddrID,
		PrivateKeyID:     p.WIF,
		Bech32HRPSegwit:  p.Bech32HRP,
		HDPrivateKeyID:   hdPrivateKeyID,
		HDPublicKeyID:    hdPublicKeyID,
	}
}

// IsUTXO reports whether the chain uses the Bitcoin script model.
func (p *Params) IsUTXO() bool {
	return p.Type == ChainTypeBitcoin
}

// Entry is a single (symbol, network) row of a Table.
type Entry struct {
	Symbol  string
	Network Network
	Params  Params
}

type key struct {
	symbol  string
	network Network
}

// Table is an immutable lookup of chain parameters by (symbol, network).
// The zero value is an empty table.
type Table struct {
	entries map[key]Params
}

// NewTable builds a table from entries. Later entries win over earlier ones
// with the same key.
func NewTable(entries ...Entry) Table {
	m := make(map[key]Params, len(entries))
	for _, e := range entries {
		p := e.Params
		if p.Symbol == "" {
			p.Symbol = e.Symbol
		}
		m[key{symbol: e.Symbol, network: e.Network}] = p
	}
	return Table{entries: m}
}

// DefaultTable returns the built-in chain parameters.
func DefaultTable() Table {
	var entries []Entry
	entries = append(entries, bitcoinEntries()...)
	entries = append(entries, litecoinEntries()...)
	entries = append(entries, dogecoinEntries()...)
	entries = append(entries, evmEntries()...)
	entries = append(entries, stellarEntries()...)
	return NewTable(entries...)
}

// Lookup returns a copy of the parameters for symbol on network.
func (t Table) Lookup(symbol string, network Network) (*Params, error) {
	if p, ok := t.entries[key{symbol: symbol, network: network}]; ok {
		return &p, nil
	}
	for k := range t.entries {
		if k.symbol == symbol {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedNetwork, symbol, network)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, symbol)
}

// With returns a new table with params layered over the receiver for
// (symbol, network). The receiver is not modified.
func (t Table) With(symbol string, network Network, params *Params) Table {
	m := make(map[key]Params, len(t.entries)+1)
	for k, v := range t.entries {
		m[k] = v
	}
	p := *params
	if p.Symbol == "" {
		p.Symbol = symbol
	}
	m[key{symbol: symbol, network: network}] = p
	return Table{entries: m}
}

// Symbols returns the distinct chain symbols in the table, sorted.
func (t Table) Symbols() []string {
	seen := make(map[string]struct{})
	for k := range t.entries {
		seen[k.symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Networks returns the networks registered for symbol, sorted.
func (t Table) Networks(symbol string) []Network {
	var nets []Network
	for k := range t.entries {
		if k.symbol == symbol {
			nets = append(nets, k.network)
		}
	}
	sort.Slice(nets, func(i, j int) bool { return nets[i] < nets[j] })
	return nets
}

// Len returns the number of (symbol, network) rows.
func (t Table) Len() int {
	return len(t.entries)
}

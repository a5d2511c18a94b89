// Package engine selects the HTLC engine for a chain: Bitcoin script,
// EVM contract, or an externally supplied federated-ledger engine.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/evm"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

var (
	ErrMissingEngineConfig = errors.New("missing engine config")
	ErrUnsupportedKind     = errors.New("unsupported engine kind")
	ErrChainIDMismatch     = errors.New("chain id mismatch")
)

// Kind identifies which engine serves a chain.
type Kind int

const (
	KindUTXO Kind = iota + 1
	KindEVM
	KindFederated
)

func (k Kind) String() string {
	switch k {
	case KindUTXO:
		return "utxo"
	case KindEVM:
		return "evm"
	case KindFederated:
		return "federated"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf maps a chain family to its engine kind.
func KindOf(t chain.ChainType) (Kind, error) {
	switch t {
	case chain.ChainTypeBitcoin:
		return KindUTXO, nil
	case chain.ChainTypeEVM:
		return KindEVM, nil
	case chain.ChainTypeFederated:
		return KindFederated, nil
	default:
		return 0, fmt.Errorf("%w: chain type %q", ErrUnsupportedKind, t)
	}
}

// FederatedHTLC is an HTLC engine for federated-consensus ledgers. Each call
// returns the signed transaction envelope as base64 XDR.
type FederatedHTLC interface {
	Fund(ctx context.Context) (string, error)
	Claim(ctx context.Context, secret []byte) (string, error)
	Refund(ctx context.Context) (string, error)
}

// Engine holds exactly one engine, selected by Kind.
type Engine struct {
	Kind      Kind
	Symbol    string
	Network   chain.Network
	UTXO      *swap.HTLC
	EVM       *evm.HTLC
	Federated FederatedHTLC
}

// Options carries per-kind engine configuration. Only the config matching
// the chain's kind is used.
type Options struct {
	Chains    chain.Table
	UTXO      *swap.Config
	EVM       *evm.Config
	Federated *FederatedConfig
	Logger    *logging.Logger
}

// New builds the engine for symbol on network.
func New(symbol string, network chain.Network, opts Options) (*Engine, error) {
	chains := opts.Chains
	if chains.Len() == 0 {
		chains = chain.DefaultTable()
	}
	params, err := chains.Lookup(symbol, network)
	if err != nil {
		return nil, err
	}
	kind, err := KindOf(params.Type)
	if err != nil {
		return nil, err
	}

	log := opts.Logger.Component("engine")

	e := &Engine{Kind: kind, Symbol: symbol, Network: network}

	switch kind {
	case KindUTXO:
		if opts.UTXO == nil {
			return nil, fmt.Errorf("%w: %s needs a utxo config", ErrMissingEngineConfig, symbol)
		}
		cfg := *opts.UTXO
		cfg.Symbol = symbol
		cfg.Network = network
		cfg.Chains = chains
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		e.UTXO, err = swap.New(&cfg)

	case KindEVM:
		if opts.EVM == nil {
			return nil, fmt.Errorf("%w: %s needs an evm config", ErrMissingEngineConfig, symbol)
		}
		cfg := *opts.EVM
		if cfg.ChainID == 0 {
			cfg.ChainID = params.ChainID
		} else if cfg.ChainID != params.ChainID {
			return nil, fmt.Errorf("%w: config %d, %s on %s is %d",
				ErrChainIDMismatch, cfg.ChainID, symbol, network, params.ChainID)
		}
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		e.EVM, err = evm.New(&cfg)

	case KindFederated:
		if opts.Federated == nil {
			return nil, fmt.Errorf("%w: %s needs a federated config", ErrMissingEngineConfig, symbol)
		}
		e.Federated, err = opts.Federated.build(params, network)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("Engine selected", "symbol", symbol, "network", network, "kind", kind)
	return e, nil
}

package swap

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// Config configures an HTLC. Exactly one of Script and Params is set.
type Config struct {
	Symbol  string
	Network chain.Network

	// Chains resolves chain parameters. Defaults to chain.DefaultTable().
	Chains chain.Table

	// Script is an existing redeem script.
	Script []byte

	// Params builds a new redeem script of Topology (PubKeyHashTopology when
	// unset).
	Params   *SwapParams
	Topology Topology

	Logger *logging.Logger
}

// HTLC is a redeem script bound to a chain together with its decompiled
// details. It is immutable and safe for concurrent use.
type HTLC struct {
	symbol      string
	network     chain.Network
	chainParams *chain.Params
	script      []byte
	details     *SwapDetails
	log         *logging.Logger
}

// New resolves the chain, builds the script if needed and decompiles it.
func New(cfg *Config) (*HTLC, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if (len(cfg.Script) == 0) == (cfg.Params == nil) {
		return nil, fmt.Errorf("%w: exactly one of script and params required", ErrInvalidConfig)
	}

	chains := cfg.Chains
	if chains.Len() == 0 {
		chains = chain.DefaultTable()
	}
	chainParams, err := chains.Lookup(cfg.Symbol, cfg.Network)
	if err != nil {
		return nil, err
	}
	if !chainParams.IsUTXO() {
		return nil, fmt.Errorf("%w: %s is a %s chain", ErrInvalidConfig, cfg.Symbol, chainParams.Type)
	}
	if !chainParams.SupportsSegWit {
		return nil, fmt.Errorf("%w: %s", ErrSegWitUnsupported, cfg.Symbol)
	}

	log := cfg.Logger.Component("htlc").ForChain(cfg.Symbol, string(cfg.Network))

	script := cloneBytes(cfg.Script)
	if cfg.Params != nil {
		switch cfg.Topology {
		case PubKeyTopology:
			script, err = BuildPubKeyRedeemScript(*cfg.Params)
		case PubKeyHashTopology, 0:
			script, err = BuildRedeemScript(*cfg.Params, chainParams)
		default:
			err = fmt.Errorf("%w: unknown topology %d", ErrInvalidConfig, cfg.Topology)
		}
		if err != nil {
			return nil, err
		}
	}

	details, err := Decompile(script, cfg.Symbol, cfg.Network, chainParams)
	if err != nil {
		return nil, err
	}

	log.Debug("HTLC ready",
		"topology", details.Topology,
		"address", details.Addresses.P2SHP2WSH,
		"timelock", details.Timelock.Value,
	)

	return &HTLC{
		symbol:      cfg.Symbol,
		network:     cfg.Network,
		chainParams: chainParams,
		script:      script,
		details:     details,
		log:         log,
	}, nil
}

// Symbol returns the chain symbol.
func (h *HTLC) Symbol() string { return h.symbol }

// Network returns the chain network.
func (h *HTLC) Network() chain.Network { return h.network }

// Script returns a copy of the redeem script.
func (h *HTLC) Script() []byte { return cloneBytes(h.script) }

// ScriptHex returns the hex encoded redeem script.
func (h *HTLC) ScriptHex() string { return hex.EncodeToString(h.script) }

// Details returns a deep copy of the decompiled details.
func (h *HTLC) Details() *SwapDetails { return h.details.Clone() }

// FundingAddress returns the wrapped-witness address funded by Fund.
func (h *HTLC) FundingAddress() string { return h.details.Addresses.P2SHP2WSH }

// FundRequest are the inputs of Fund.
type FundRequest struct {
	UTXOs  []UTXO
	Amount uint64
	// Fee is used as is when non-zero, otherwise derived from FeeRate.
	Fee     uint64
	FeeRate uint64
	Key     *btcec.PrivateKey
	// Native pays the P2WSH output instead of the wrapped one.
	Native bool
}

// Fund builds a signed transaction paying Amount into the swap.
func (h *HTLC) Fund(req FundRequest) (*wire.MsgTx, error) {
	if req.Fee == 0 && req.FeeRate == 0 {
		return nil, fmt.Errorf("%w: fee or fee rate required", ErrInvalidConfig)
	}
	pkScript := h.details.Addresses.P2SHP2WSHScript
	if req.Native {
		pkScript = h.details.Addresses.P2WSHScript
	}

	tx, err := BuildFundingTx(&FundingTxParams{
		ChainParams: h.chainParams,
		UTXOs:       req.UTXOs,
		Key:         req.Key,
		PkScript:    pkScript,
		Amount:      req.Amount,
		Fee:         req.Fee,
		FeeRate:     req.FeeRate,
	})
	if err != nil {
		return nil, err
	}

	h.log.Info("Built funding transaction", "txid", TxID(tx), "amount", req.Amount)
	return tx, nil
}

// SpendRequest are the inputs of Claim and Refund. Secret is ignored by Refund.
type SpendRequest struct {
	UTXOs       []UTXO
	Secret      []byte
	Destination string
	FeeRate     uint64
	Key         *btcec.PrivateKey
}

// Claim builds a signed transaction spending the swap outputs with the secret.
func (h *HTLC) Claim(req SpendRequest) (*wire.MsgTx, error) {
	if len(req.Secret) == 0 {
		return nil, ErrMissingUnlockElement
	}
	if !bytes.Equal(btcutil.Hash160(req.Secret), h.details.PaymentHashRipemd) {
		return nil, ErrSecretMismatch
	}
	if req.Key == nil {
		return nil, ErrMissingKey
	}
	if !bytes.Equal(req.Key.PubKey().SerializeCompressed(), h.details.ClaimerPubKey) {
		return nil, fmt.Errorf("%w: not the claimer key", ErrKeyMismatch)
	}

	tx, err := h.spend(req, req.Secret, false)
	if err != nil {
		return nil, err
	}
	h.log.Info("Built claim transaction", "txid", TxID(tx))
	return tx, nil
}

// Refund builds a signed transaction returning the swap outputs to the refund
// key once the timelock allows.
func (h *HTLC) Refund(req SpendRequest) (*wire.MsgTx, error) {
	if req.Key == nil {
		return nil, ErrMissingKey
	}
	pubKey := req.Key.PubKey().SerializeCompressed()
	if !bytes.Equal(btcutil.Hash160(pubKey), h.details.RefundPubKeyHash) {
		return nil, fmt.Errorf("%w: not the refund key", ErrKeyMismatch)
	}

	tx, err := h.spend(req, pubKey, true)
	if err != nil {
		return nil, err
	}
	h.log.Info("Built refund transaction", "txid", TxID(tx),
		"locktime", tx.LockTime, "timelock", h.details.Timelock.Kind)
	return tx, nil
}

func (h *HTLC) spend(req SpendRequest, unlock []byte, refund bool) (*wire.MsgTx, error) {
	if req.FeeRate == 0 {
		return nil, fmt.Errorf("%w: fee rate required", ErrInvalidConfig)
	}
	return BuildSpendTx(&SpendTxParams{
		ChainParams: h.chainParams,
		UTXOs:       req.UTXOs,
		Script:      h.script,
		Timelock:    h.details.Timelock,
		Refund:      refund,
		Unlock:      unlock,
		Destination: req.Destination,
		FeeRate:     req.FeeRate,
		Key:         req.Key,
	})
}

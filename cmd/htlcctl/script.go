package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/engine"
	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

var errAuditFailed = errors.New("audit failed")

// utxoHTLC dispatches cfg through the engine factory. Non-UTXO chains fail
// with engine.ErrMissingEngineConfig.
func (a *app) utxoHTLC(symbol string, network chain.Network, cfg *swap.Config) (*swap.HTLC, error) {
	e, err := engine.New(symbol, network, engine.Options{
		Chains: a.chains,
		UTXO:   cfg,
		Logger: a.log,
	})
	if err != nil {
		return nil, err
	}
	return e.UTXO, nil
}

// swapRef selects a swap either by store id or by redeem script.
type swapRef struct {
	id     string
	script string
	symbol string
}

func (r *swapRef) register(fs *flag.FlagSet) {
	fs.StringVar(&r.id, "id", "", "Tracked swap id")
	fs.StringVar(&r.script, "script", "", "Redeem script hex (when not using -id)")
	fs.StringVar(&r.symbol, "symbol", "BTC", "Chain symbol (when not using -id)")
}

// resolve loads the HTLC and, when the swap is tracked, its record.
func (a *app) resolve(r *swapRef) (*swap.HTLC, *storage.SwapRecord, error) {
	if r.id != "" {
		store, err := a.openStore()
		if err != nil {
			return nil, nil, err
		}
		rec, err := store.GetSwap(r.id)
		if err != nil {
			return nil, nil, err
		}
		script, err := hex.DecodeString(rec.ScriptHex)
		if err != nil {
			return nil, nil, fmt.Errorf("stored script for %s: %w", rec.ID, err)
		}
		h, err := a.utxoHTLC(rec.Symbol, chain.Network(rec.Network), &swap.Config{Script: script})
		if err != nil {
			return nil, nil, err
		}
		return h, rec, nil
	}

	if r.script == "" {
		return nil, nil, fmt.Errorf("-id or -script required")
	}
	script, err := helpers.HexToBytes(r.script)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid script hex: %w", err)
	}
	h, err := a.utxoHTLC(r.symbol, a.cfg.Network, &swap.Config{Script: script})
	if err != nil {
		return nil, nil, err
	}

	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	rec, err := store.GetSwapByAddress(h.Symbol(), string(h.Network()), h.FundingAddress())
	if errors.Is(err, storage.ErrSwapNotFound) {
		return h, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return h, rec, nil
}

// track returns the stored record for h, saving a new one if needed.
func (a *app) track(h *swap.HTLC) (*storage.SwapRecord, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	rec, err := store.GetSwapByAddress(h.Symbol(), string(h.Network()), h.FundingAddress())
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrSwapNotFound) {
		return nil, err
	}

	d := h.Details()
	rec = &storage.SwapRecord{
		Symbol:         h.Symbol(),
		Network:        string(h.Network()),
		ScriptHex:      h.ScriptHex(),
		FundingAddress: h.FundingAddress(),
		PaymentHash:    hex.EncodeToString(d.PaymentHash),
		Timelock:       d.Timelock.Value,
	}
	if err := store.SaveSwap(rec); err != nil {
		return nil, err
	}
	a.log.Info("Swap tracked", "id", rec.ID, "symbol", rec.Symbol, "address", rec.FundingAddress)
	return rec, nil
}

func (a *app) printDetails(h *swap.HTLC) {
	d := h.Details()
	a.printf("symbol:            %s\n", d.Symbol)
	a.printf("network:           %s\n", d.Network)
	a.printf("topology:          %s\n", d.Topology)
	a.printf("script:            %s\n", h.ScriptHex())
	a.printf("claimer pubkey:    %x\n", d.ClaimerPubKey)
	a.printf("payment hash:      %x\n", d.PaymentHash)
	a.printf("payment hash160:   %x\n", d.PaymentHashRipemd)
	if len(d.RefundPubKey) > 0 {
		a.printf("refund pubkey:     %x\n", d.RefundPubKey)
	}
	a.printf("refund pubkeyhash: %x\n", d.RefundPubKeyHash)
	a.printf("timelock:          %s %d\n", d.Timelock.Kind, d.Timelock.Value)
	a.printf("address p2sh:      %s\n", d.Addresses.P2SH)
	a.printf("address p2wsh:     %s\n", d.Addresses.P2WSH)
	a.printf("address wrapped:   %s\n", d.Addresses.P2SHP2WSH)
	if d.Addresses.RefundP2PKH != "" {
		a.printf("refund p2pkh:      %s\n", d.Addresses.RefundP2PKH)
	}
	if d.Addresses.RefundP2WPKH != "" {
		a.printf("refund p2wpkh:     %s\n", d.Addresses.RefundP2WPKH)
	}
}

func parseTimelock(value uint, relative bool) swap.Timelock {
	if relative {
		return swap.RelativeTimelock(uint32(value))
	}
	return swap.AbsoluteTimelock(uint32(value))
}

func runBuild(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	var (
		symbol      = fs.String("symbol", "BTC", "Chain symbol")
		claimer     = fs.String("claimer-pubkey", "", "Claimer compressed public key (hex)")
		paymentHash = fs.String("payment-hash", "", "SHA256 payment hash (hex)")
		refundAddr  = fs.String("refund-address", "", "Refund address (P2PKH or P2WPKH)")
		refundPKH   = fs.String("refund-pkh", "", "Refund public key hash (hex), instead of -refund-address")
		refundPub   = fs.String("refund-pubkey", "", "Refund public key (hex), pubkey topology only")
		topology    = fs.String("topology", "pubkeyhash", "Script layout (pubkeyhash, pubkey)")
		timelock    = fs.Uint("timelock", 0, "Refund timelock (block height, or blocks with -relative)")
		relative    = fs.Bool("relative", false, "Use a relative (CSV) timelock")
		save        = fs.Bool("save", false, "Track the swap in the local store")
	)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := &swap.SwapParams{
		RefundAddress: *refundAddr,
		Timelock:      parseTimelock(*timelock, *relative),
	}
	var err error
	if params.ClaimerPubKey, err = helpers.HexToFixed(*claimer, swap.PubKeyLength); err != nil {
		return fmt.Errorf("claimer pubkey: %w", err)
	}
	if params.PaymentHash, err = helpers.HexToBytes(*paymentHash); err != nil {
		return fmt.Errorf("payment hash: %w", err)
	}
	if *refundPKH != "" {
		if params.RefundPubKeyHash, err = helpers.HexToFixed(*refundPKH, swap.PubKeyHashLength); err != nil {
			return fmt.Errorf("refund pubkey hash: %w", err)
		}
	}

	cfg := &swap.Config{Params: params}
	switch strings.ToLower(*topology) {
	case "pubkeyhash", "pkh":
		cfg.Topology = swap.PubKeyHashTopology
	case "pubkey":
		cfg.Topology = swap.PubKeyTopology
		if params.RefundPubKey, err = helpers.HexToFixed(*refundPub, swap.PubKeyLength); err != nil {
			return fmt.Errorf("refund pubkey: %w", err)
		}
	default:
		return fmt.Errorf("unknown topology %q", *topology)
	}

	h, err := a.utxoHTLC(*symbol, a.cfg.Network, cfg)
	if err != nil {
		return err
	}
	a.printDetails(h)

	if *save {
		rec, err := a.track(h)
		if err != nil {
			return err
		}
		a.printf("id:                %s\n", rec.ID)
	}
	return nil
}

// runAudit decompiles a counterparty script and checks it against what the
// caller expects to have agreed on. Any mismatch fails the command.
func runAudit(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	var (
		symbol      = fs.String("symbol", "BTC", "Chain symbol")
		script      = fs.String("script", "", "Redeem script hex")
		paymentHash = fs.String("payment-hash", "", "Expected payment hash (SHA256 or HASH160, hex)")
		claimer     = fs.String("claimer-pubkey", "", "Expected claimer public key (hex)")
		address     = fs.String("address", "", "Expected funding address")
		minTimelock = fs.Uint("min-timelock", 0, "Minimum acceptable timelock value")
	)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := helpers.HexToBytes(*script)
	if err != nil || len(raw) == 0 {
		return fmt.Errorf("-script: invalid redeem script hex")
	}
	h, err := a.utxoHTLC(*symbol, a.cfg.Network, &swap.Config{Script: raw})
	if err != nil {
		return err
	}
	a.printDetails(h)

	d := h.Details()
	var problems []string
	if *paymentHash != "" {
		want, err := helpers.HexToBytes(*paymentHash)
		if err != nil {
			return fmt.Errorf("payment hash: %w", err)
		}
		if !bytes.Equal(want, d.PaymentHash) && !bytes.Equal(want, d.PaymentHashRipemd) {
			problems = append(problems, "payment hash mismatch")
		}
	}
	if *claimer != "" {
		want, err := helpers.HexToBytes(*claimer)
		if err != nil {
			return fmt.Errorf("claimer pubkey: %w", err)
		}
		if !bytes.Equal(want, d.ClaimerPubKey) {
			problems = append(problems, "claimer pubkey mismatch")
		}
	}
	if *address != "" {
		addrs := d.Addresses
		if *address != addrs.P2SHP2WSH && *address != addrs.P2WSH && *address != addrs.P2SH {
			problems = append(problems, "funding address mismatch")
		}
	}
	if *minTimelock > 0 && uint(d.Timelock.Value) < *minTimelock {
		problems = append(problems, fmt.Sprintf("timelock %d below %d", d.Timelock.Value, *minTimelock))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errAuditFailed, strings.Join(problems, ", "))
	}
	a.printf("audit:             ok\n")
	return nil
}

func runGenSecret(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("gensecret", flag.ContinueOnError)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, hash, err := swap.GenerateSecret()
	if err != nil {
		return err
	}
	a.printf("secret:            %x\n", secret)
	a.printf("payment hash:      %x\n", hash)
	a.printf("payment hash160:   %x\n", btcutil.Hash160(secret))
	return nil
}

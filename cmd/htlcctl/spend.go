package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// feeRate returns override when set, otherwise the configured pick from the
// backend's estimates.
func (a *app) feeRate(ctx context.Context, b backend.Backend, override uint64) uint64 {
	if override > 0 {
		return override
	}
	est, err := b.GetFeeEstimates(ctx)
	if err != nil {
		a.log.Warn("Fee estimates unavailable, using default rate", "error", err, "rate", a.cfg.Fees.DefaultRate)
		return a.cfg.Fees.DefaultRate
	}
	return a.cfg.Fees.Rate(est)
}

// addressUTXOs fetches and converts the unspent outputs of address.
func addressUTXOs(ctx context.Context, b backend.Backend, address string) ([]swap.UTXO, error) {
	utxos, err := b.GetAddressUTXOs(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch UTXOs for %s: %w", address, err)
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("%w: %s", swap.ErrNoUTXOs, address)
	}
	return backend.ToSwapUTXOs(utxos)
}

// emit prints the signed transaction and broadcasts it when asked. The
// returned txid is empty when nothing was broadcast.
func (a *app) emit(ctx context.Context, b backend.Backend, tx *wire.MsgTx, broadcast bool) (string, error) {
	raw, err := swap.SerializeTx(tx)
	if err != nil {
		return "", err
	}
	a.printf("txid:              %s\n", swap.TxID(tx))
	a.printf("tx:                %s\n", raw)
	if !broadcast {
		return "", nil
	}

	txid, err := b.BroadcastTransaction(ctx, raw)
	if err != nil {
		return "", err
	}
	a.printf("broadcast:         %s\n", txid)
	a.log.Info("Transaction broadcast", "txid", txid)
	return txid, nil
}

// spendFlags are shared by claim and refund.
type spendFlags struct {
	ref       swapRef
	key       keySource
	dest      string
	feeRate   uint64
	native    bool
	broadcast bool
}

func (f *spendFlags) register(fs *flag.FlagSet) {
	f.ref.register(fs)
	f.key.register(fs, "Private key (WIF or hex)")
	fs.StringVar(&f.dest, "dest", "", "Destination address")
	fs.Uint64Var(&f.feeRate, "fee-rate", 0, "Fee rate in sat/vB (default: backend estimate)")
	fs.BoolVar(&f.native, "native", false, "Spend outputs paid to the native P2WSH address")
	fs.BoolVar(&f.broadcast, "broadcast", false, "Broadcast the signed transaction")
}

// spendPlan is everything claim and refund need besides the unlock data.
type spendPlan struct {
	htlc    *swap.HTLC
	rec     *storage.SwapRecord
	backend backend.Backend
	req     swap.SpendRequest
}

// prepareSpend resolves the swap, key, backend and swap outputs.
func (a *app) prepareSpend(ctx context.Context, f *spendFlags) (*spendPlan, error) {
	h, rec, err := a.resolve(&f.ref)
	if err != nil {
		return nil, err
	}
	params, err := a.chains.Lookup(h.Symbol(), h.Network())
	if err != nil {
		return nil, err
	}
	key, err := a.utxoKey(&f.key, params)
	if err != nil {
		return nil, err
	}
	if f.dest == "" {
		return nil, swap.ErrInvalidDestination
	}

	b, err := a.backend(h.Symbol(), h.Network())
	if err != nil {
		return nil, err
	}
	address := h.FundingAddress()
	if f.native {
		address = h.Details().Addresses.P2WSH
	}
	utxos, err := addressUTXOs(ctx, b, address)
	if err != nil {
		return nil, err
	}

	return &spendPlan{
		htlc:    h,
		rec:     rec,
		backend: b,
		req: swap.SpendRequest{
			UTXOs:       utxos,
			Destination: f.dest,
			FeeRate:     a.feeRate(ctx, b, f.feeRate),
			Key:         key,
		},
	}, nil
}

// ensureFunded moves an unfunded record to funded using the swap output's
// transaction.
func (a *app) ensureFunded(store *storage.Storage, rec *storage.SwapRecord, fundingTxID string) error {
	if rec.State != storage.SwapStateUnfunded {
		return nil
	}
	if err := store.MarkFunded(rec.ID, fundingTxID); err != nil {
		return err
	}
	rec.State = storage.SwapStateFunded
	return nil
}

func runFund(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("fund", flag.ContinueOnError)
	var (
		ref swapRef
		key keySource
	)
	var (
		amount    = fs.String("amount", "", "Amount in coin units (e.g. 0.001)")
		fee       = fs.Uint64("fee", 0, "Absolute fee in base units (overrides -fee-rate)")
		feeRate   = fs.Uint64("fee-rate", 0, "Fee rate in sat/vB (default: backend estimate)")
		native    = fs.Bool("native", false, "Pay the native P2WSH address")
		broadcast = fs.Bool("broadcast", false, "Broadcast and track the funding transaction")
	)
	ref.register(fs)
	key.register(fs, "Funder private key (WIF or hex), spends its P2WPKH outputs")
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	h, _, err := a.resolve(&ref)
	if err != nil {
		return err
	}
	params, err := a.chains.Lookup(h.Symbol(), h.Network())
	if err != nil {
		return err
	}
	value, err := helpers.ParseAmount(*amount, params.Decimals)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	privKey, err := a.utxoKey(&key, params)
	if err != nil {
		return err
	}
	funder, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(privKey.PubKey().SerializeCompressed()), params.NetParams())
	if err != nil {
		return err
	}

	b, err := a.backend(h.Symbol(), h.Network())
	if err != nil {
		return err
	}
	utxos, err := addressUTXOs(ctx, b, funder.EncodeAddress())
	if err != nil {
		return err
	}

	req := swap.FundRequest{
		UTXOs:  utxos,
		Amount: value,
		Fee:    *fee,
		Key:    privKey,
		Native: *native,
	}
	if req.Fee == 0 {
		req.FeeRate = a.feeRate(ctx, b, *feeRate)
	}
	tx, err := h.Fund(req)
	if err != nil {
		return err
	}
	a.printf("amount:            %s %s\n", helpers.FormatAmount(value, params.Decimals), params.Symbol)

	txid, err := a.emit(ctx, b, tx, *broadcast)
	if err != nil || txid == "" {
		return err
	}

	rec, err := a.track(h)
	if err != nil {
		return err
	}
	if err := a.ensureFunded(a.store, rec, txid); err != nil {
		return err
	}
	a.printf("id:                %s\n", rec.ID)
	return nil
}

func runClaim(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	var f spendFlags
	f.register(fs)
	secretHex := fs.String("secret", "", "Swap secret (hex)")
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := helpers.HexToBytes(*secretHex)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}

	plan, err := a.prepareSpend(ctx, &f)
	if err != nil {
		return err
	}
	plan.req.Secret = secret
	tx, err := plan.htlc.Claim(plan.req)
	if err != nil {
		return err
	}

	txid, err := a.emit(ctx, plan.backend, tx, f.broadcast)
	if err != nil || txid == "" || plan.rec == nil {
		return err
	}
	if err := a.ensureFunded(a.store, plan.rec, plan.req.UTXOs[0].TxID); err != nil {
		return err
	}
	return a.store.MarkClaimed(plan.rec.ID, txid, hex.EncodeToString(secret))
}

func runRefund(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("refund", flag.ContinueOnError)
	var f spendFlags
	f.register(fs)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	plan, err := a.prepareSpend(ctx, &f)
	if err != nil {
		return err
	}
	tx, err := plan.htlc.Refund(plan.req)
	if err != nil {
		return err
	}

	txid, err := a.emit(ctx, plan.backend, tx, f.broadcast)
	if err != nil || txid == "" || plan.rec == nil {
		return err
	}
	if err := a.ensureFunded(a.store, plan.rec, plan.req.UTXOs[0].TxID); err != nil {
		return err
	}
	return a.store.MarkRefunded(plan.rec.ID, txid)
}

// runSecret finds the transaction spending the swap output and extracts the
// secret from its claim witness.
func runSecret(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("secret", flag.ContinueOnError)
	var ref swapRef
	ref.register(fs)
	native := fs.Bool("native", false, "Watch the native P2WSH address")
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	h, rec, err := a.resolve(&ref)
	if err != nil {
		return err
	}
	b, err := a.backend(h.Symbol(), h.Network())
	if err != nil {
		return err
	}
	address := h.FundingAddress()
	if *native {
		address = h.Details().Addresses.P2WSH
	}

	txs, err := b.GetAddressTxs(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions for %s: %w", address, err)
	}
	spend := backend.FindSpend(txs, address)
	if spend == nil {
		return fmt.Errorf("%w: no spend of %s yet", swap.ErrSecretNotFound, address)
	}

	raw, err := b.GetRawTransaction(ctx, spend.TxID)
	if err != nil {
		return err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to decode %s: %w", spend.TxID, err)
	}
	secret, err := swap.ExtractSecret(&tx, h.Script())
	if err != nil {
		return fmt.Errorf("spend %s: %w", spend.TxID, err)
	}

	a.printf("spend txid:        %s\n", spend.TxID)
	a.printf("secret:            %x\n", secret)

	if rec == nil || rec.State.IsTerminal() {
		return nil
	}
	if err := a.ensureFunded(a.store, rec, backend.SpentTxID(spend, address)); err != nil {
		return err
	}
	return a.store.MarkClaimed(rec.ID, spend.TxID, hex.EncodeToString(secret))
}

// Package watch polls blockchain backends for the tracked swaps in the store
// and moves them through unfunded, funded, claimed and refunded as their
// outputs confirm and are spent. Secrets revealed by claims are recovered
// from the spending witness.
package watch

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// ErrInvalidConfig is returned by New.
var ErrInvalidConfig = errors.New("invalid watcher config")

const (
	defaultInterval = 30 * time.Second
	checkTimeout    = 10 * time.Second
	eventBuffer     = 100
)

// EventKind names what the watcher observed.
type EventKind string

const (
	EventFunded     EventKind = "funded"
	EventClaimed    EventKind = "claimed"
	EventRefunded   EventKind = "refunded"
	EventRefundable EventKind = "refundable"
)

// Event is emitted on every state change and once when a funded swap
// becomes refundable.
type Event struct {
	SwapID    string
	Symbol    string
	Network   chain.Network
	Kind      EventKind
	TxID      string
	Secret    []byte
	Timestamp time.Time
}

// Store is the part of the swap store the watcher drives.
type Store interface {
	ListSwaps(state storage.SwapState) ([]*storage.SwapRecord, error)
	MarkFunded(id, fundingTxID string) error
	MarkClaimed(id, spendTxID, secretHex string) error
	MarkRefunded(id, spendTxID string) error
}

// BackendFunc resolves the backend for a chain.
type BackendFunc func(symbol string, network chain.Network) (backend.Backend, error)

// Config holds configuration for the Watcher.
type Config struct {
	Store    Store
	Backends BackendFunc
	Chains   chain.Table

	// Interval is the polling interval, default 30s.
	Interval time.Duration

	// MinConfirmations a swap output needs before the swap counts as
	// funded, default 1.
	MinConfirmations int64

	Logger *logging.Logger
}

// Watcher polls backends for tracked swaps.
type Watcher struct {
	store    Store
	backends BackendFunc
	chains   chain.Table
	interval time.Duration
	minConf  int64
	log      *logging.Logger

	events chan Event

	mu         sync.Mutex
	refundable map[string]bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a watcher. It does nothing until Start or CheckNow.
func New(cfg *Config) (*Watcher, error) {
	if cfg == nil || cfg.Store == nil || cfg.Backends == nil {
		return nil, fmt.Errorf("%w: store and backends required", ErrInvalidConfig)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	minConf := cfg.MinConfirmations
	if minConf <= 0 {
		minConf = 1
	}
	chains := cfg.Chains
	if chains.Len() == 0 {
		chains = chain.DefaultTable()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		store:      cfg.Store,
		backends:   cfg.Backends,
		chains:     chains,
		interval:   interval,
		minConf:    minConf,
		log:        cfg.Logger.Component("watch"),
		events:     make(chan Event, eventBuffer),
		refundable: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Events returns the event channel. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start runs the polling loop in the background.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("Swap watcher started", "interval", w.interval, "min_confirmations", w.minConf)
}

// Stop stops the polling loop and closes the event channel.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
	w.closeOnce.Do(func() { close(w.events) })
	w.log.Info("Swap watcher stopped")
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.CheckNow(w.ctx); err != nil {
			w.log.Debug("Watch pass incomplete", "error", err)
		}
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckNow runs one pass over every unfunded and funded swap. Per-swap
// failures do not stop the pass; they are joined into the returned error.
// It must not be called after Stop.
func (w *Watcher) CheckNow(ctx context.Context) error {
	var pending []*storage.SwapRecord
	for _, state := range []storage.SwapState{storage.SwapStateUnfunded, storage.SwapStateFunded} {
		records, err := w.store.ListSwaps(state)
		if err != nil {
			return err
		}
		pending = append(pending, records...)
	}

	var errs []error
	for _, rec := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.checkSwap(ctx, rec); err != nil {
			w.log.Debug("Error checking swap", "id", rec.ID, "error", err)
			errs = append(errs, fmt.Errorf("swap %s: %w", rec.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Watcher) checkSwap(parent context.Context, rec *storage.SwapRecord) error {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	network := chain.Network(rec.Network)
	b, err := w.backends(rec.Symbol, network)
	if err != nil {
		return err
	}
	script, err := hex.DecodeString(rec.ScriptHex)
	if err != nil {
		return fmt.Errorf("stored script: %w", err)
	}
	h, err := swap.New(&swap.Config{
		Symbol:  rec.Symbol,
		Network: network,
		Chains:  w.chains,
		Script:  script,
		Logger:  logging.Nop(),
	})
	if err != nil {
		return err
	}

	// The swap may be funded at the wrapped or the native witness address.
	addresses := swapAddresses(rec, h)
	for _, addr := range addresses {
		txs, err := b.GetAddressTxs(ctx, addr)
		if err != nil && !errors.Is(err, backend.ErrAddressNotFound) {
			return err
		}
		if spend := backend.FindSpend(txs, addr); spend != nil {
			return w.settle(ctx, b, h, rec, spend, addr)
		}
	}

	var utxos []backend.UTXO
	for _, addr := range addresses {
		out, err := b.GetAddressUTXOs(ctx, addr)
		if err != nil && !errors.Is(err, backend.ErrAddressNotFound) {
			return err
		}
		utxos = append(utxos, out...)
	}

	if rec.State == storage.SwapStateUnfunded {
		for _, u := range utxos {
			if u.Confirmations < w.minConf {
				continue
			}
			if err := w.markFunded(rec, u.TxID); err != nil {
				return err
			}
			break
		}
	}
	if rec.State == storage.SwapStateFunded {
		return w.checkRefundable(ctx, b, h, rec, utxos)
	}
	return nil
}

// settle records the spend of the swap output as a claim when its witness
// reveals the secret and as a refund otherwise.
func (w *Watcher) settle(ctx context.Context, b backend.Backend, h *swap.HTLC, rec *storage.SwapRecord, spend *backend.Transaction, address string) error {
	if rec.State == storage.SwapStateUnfunded {
		if err := w.markFunded(rec, backend.SpentTxID(spend, address)); err != nil {
			return err
		}
	}

	raw, err := b.GetRawTransaction(ctx, spend.TxID)
	if err != nil {
		return err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("decode %s: %w", spend.TxID, err)
	}

	secret, err := swap.ExtractSecret(&tx, h.Script())
	switch {
	case err == nil:
		if err := w.store.MarkClaimed(rec.ID, spend.TxID, hex.EncodeToString(secret)); err != nil {
			return err
		}
		w.log.ForChain(rec.Symbol, rec.Network).Info("Secret revealed", "id", rec.ID, "txid", spend.TxID)
		w.emit(rec, EventClaimed, spend.TxID, secret)
	case errors.Is(err, swap.ErrSecretNotFound):
		if err := w.store.MarkRefunded(rec.ID, spend.TxID); err != nil {
			return err
		}
		w.emit(rec, EventRefunded, spend.TxID, nil)
	default:
		return err
	}

	w.mu.Lock()
	delete(w.refundable, rec.ID)
	w.mu.Unlock()
	return nil
}

func (w *Watcher) markFunded(rec *storage.SwapRecord, txID string) error {
	if err := w.store.MarkFunded(rec.ID, txID); err != nil {
		return err
	}
	rec.State = storage.SwapStateFunded
	rec.FundingTxID = txID
	w.emit(rec, EventFunded, txID, nil)
	return nil
}

// checkRefundable emits EventRefundable once the refund branch's timelock
// has passed: the chain tip for absolute locks, the swap output's
// confirmations for relative ones.
func (w *Watcher) checkRefundable(ctx context.Context, b backend.Backend, h *swap.HTLC, rec *storage.SwapRecord, utxos []backend.UTXO) error {
	w.mu.Lock()
	seen := w.refundable[rec.ID]
	w.mu.Unlock()
	if seen {
		return nil
	}

	timelock := h.Details().Timelock
	ready := false
	switch timelock.Kind {
	case swap.Absolute:
		height, err := b.GetBlockHeight(ctx)
		if err != nil {
			return err
		}
		ready = height >= int64(timelock.Value)
	case swap.Relative:
		for _, u := range utxos {
			if u.Confirmations >= int64(timelock.Value) {
				ready = true
				break
			}
		}
	}
	if !ready {
		return nil
	}

	w.mu.Lock()
	w.refundable[rec.ID] = true
	w.mu.Unlock()
	w.log.ForChain(rec.Symbol, rec.Network).Info("Swap refundable", "id", rec.ID,
		"timelock", timelock.Kind, "value", timelock.Value)
	w.emit(rec, EventRefundable, "", nil)
	return nil
}

func (w *Watcher) emit(rec *storage.SwapRecord, kind EventKind, txID string, secret []byte) {
	ev := Event{
		SwapID:    rec.ID,
		Symbol:    rec.Symbol,
		Network:   chain.Network(rec.Network),
		Kind:      kind,
		TxID:      txID,
		Secret:    secret,
		Timestamp: time.Now(),
	}
	select {
	case w.events <- ev:
	default:
		w.log.Warn("Event channel full, dropping event", "id", rec.ID, "kind", kind)
	}
}

// swapAddresses lists the recorded funding address followed by the other
// witness addresses of the script, without duplicates.
func swapAddresses(rec *storage.SwapRecord, h *swap.HTLC) []string {
	addrs := h.Details().Addresses
	out := make([]string, 0, 2)
	for _, a := range []string{rec.FundingAddress, addrs.P2SHP2WSH, addrs.P2WSH} {
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

package watch

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/storage"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

const (
	fundingTxID  = "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"
	destination  = "tb1qq6hag67dl53wl99vzg42z8eyzfz2xlkvvlryfj"
	swapTimelock = 3041
)

type fakeBackend struct {
	mu     sync.Mutex
	height int64
	utxos  map[string][]backend.UTXO
	txs    map[string][]backend.Transaction
	raw    map[string][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		utxos: make(map[string][]backend.UTXO),
		txs:   make(map[string][]backend.Transaction),
		raw:   make(map[string][]byte),
	}
}

func (f *fakeBackend) Type() backend.Type { return backend.TypeMempool }

func (f *fakeBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeBackend) GetAddressUTXOs(ctx context.Context, address string) ([]backend.UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.utxos[address], nil
}

func (f *fakeBackend) GetFeeEstimates(ctx context.Context) (*backend.FeeEstimate, error) {
	return &backend.FeeEstimate{HalfHourFee: 2}, nil
}

func (f *fakeBackend) GetAddressTxs(ctx context.Context, address string) ([]backend.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[address], nil
}

func (f *fakeBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.raw[txID]
	if !ok {
		return nil, backend.ErrTxNotFound
	}
	return raw, nil
}

func (f *fakeBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	return "", backend.ErrBroadcastFailed
}

// spent records tx as the spend of the swap output at address.
func (f *fakeBackend) spent(t *testing.T, address string, tx *wire.MsgTx) string {
	t.Helper()
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	txid := swap.TxID(tx)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[txid] = buf.Bytes()
	f.txs[address] = append(f.txs[address],
		backend.Transaction{TxID: fundingTxID},
		backend.Transaction{TxID: txid, Inputs: []backend.TxInput{{TxID: fundingTxID, PrevOutAddr: address}}},
	)
	return txid
}

func testKey(n byte) *btcec.PrivateKey {
	var scalar [32]byte
	scalar[31] = n
	key, _ := btcec.PrivKeyFromBytes(scalar[:])
	return key
}

func testSecret() []byte {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	return secret
}

type fixture struct {
	store   *storage.Storage
	backend *fakeBackend
	watcher *Watcher
	htlc    *swap.HTLC
	rec     *storage.SwapRecord
}

func newFixture(t *testing.T, timelock swap.Timelock) *fixture {
	t.Helper()

	store, err := storage.New(&storage.Config{DataDir: t.TempDir(), Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h, err := swap.New(&swap.Config{
		Symbol:  "BTC",
		Network: chain.Testnet,
		Params: &swap.SwapParams{
			ClaimerPubKey:    testKey(1).PubKey().SerializeCompressed(),
			PaymentHash:      swap.HashSecret(testSecret()),
			RefundPubKeyHash: mustHex(t, "06afd46bcdfd22ef94ac122aa11f241244a37ecc"),
			Timelock:         timelock,
		},
		Logger: logging.Nop(),
	})
	if err != nil {
		t.Fatalf("swap.New() error = %v", err)
	}

	rec := &storage.SwapRecord{
		Symbol:         "BTC",
		Network:        string(chain.Testnet),
		ScriptHex:      h.ScriptHex(),
		FundingAddress: h.FundingAddress(),
		Timelock:       timelock.Value,
	}
	if err := store.SaveSwap(rec); err != nil {
		t.Fatalf("SaveSwap() error = %v", err)
	}

	fake := newFakeBackend()
	w, err := New(&Config{
		Store: store,
		Backends: func(symbol string, network chain.Network) (backend.Backend, error) {
			return fake, nil
		},
		Interval: 10 * time.Millisecond,
		Logger:   logging.Nop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &fixture{store: store, backend: fake, watcher: w, htlc: h, rec: rec}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func (f *fixture) fundingOutput(confirmations int64) {
	f.fundingOutputAt(f.rec.FundingAddress, confirmations)
}

func (f *fixture) fundingOutputAt(address string, confirmations int64) {
	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	f.backend.utxos[address] = []backend.UTXO{{
		TxID:          fundingTxID,
		Amount:        100000,
		Confirmations: confirmations,
	}}
}

func (f *fixture) spendRequest(key *btcec.PrivateKey) swap.SpendRequest {
	return swap.SpendRequest{
		UTXOs:       []swap.UTXO{{TxID: fundingTxID, Value: 100000}},
		Destination: destination,
		FeeRate:     2,
		Key:         key,
	}
}

func (f *fixture) state(t *testing.T) *storage.SwapRecord {
	t.Helper()
	rec, err := f.store.GetSwap(f.rec.ID)
	if err != nil {
		t.Fatalf("GetSwap() error = %v", err)
	}
	return rec
}

// drain returns the events buffered so far.
func (f *fixture) drain() []Event {
	var events []Event
	for {
		select {
		case ev := <-f.watcher.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func sameKinds(got []Event, want ...EventKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i].Kind != want[i] {
			return false
		}
	}
	return true
}

func TestNewValidation(t *testing.T) {
	backends := func(string, chain.Network) (backend.Backend, error) { return nil, nil }
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"no store", &Config{Backends: backends}},
		{"no backends", &Config{Store: &storage.Storage{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestFundingNeedsConfirmations(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
	ctx := context.Background()

	f.fundingOutput(0)
	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if got := f.state(t).State; got != storage.SwapStateUnfunded {
		t.Errorf("State = %s, want unfunded while unconfirmed", got)
	}
	if events := f.drain(); len(events) != 0 {
		t.Errorf("events = %v, want none", kinds(events))
	}

	f.fundingOutput(1)
	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	rec := f.state(t)
	if rec.State != storage.SwapStateFunded || rec.FundingTxID != fundingTxID {
		t.Errorf("record = %+v, want funded by %s", rec, fundingTxID)
	}
	if events := f.drain(); !sameKinds(events, EventFunded) {
		t.Errorf("events = %v, want [funded]", kinds(events))
	}
}

func TestClaimRevealsSecret(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
	ctx := context.Background()

	f.fundingOutput(3)
	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}

	req := f.spendRequest(testKey(1))
	req.Secret = testSecret()
	claim, err := f.htlc.Claim(req)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	claimID := f.backend.spent(t, f.rec.FundingAddress, claim)

	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}

	rec := f.state(t)
	if rec.State != storage.SwapStateClaimed || rec.SpendTxID != claimID {
		t.Errorf("record = %+v, want claimed by %s", rec, claimID)
	}
	if rec.Secret != hex.EncodeToString(testSecret()) {
		t.Errorf("Secret = %s", rec.Secret)
	}

	events := f.drain()
	if !sameKinds(events, EventFunded, EventClaimed) {
		t.Fatalf("events = %v, want [funded claimed]", kinds(events))
	}
	if !bytes.Equal(events[1].Secret, testSecret()) || events[1].TxID != claimID {
		t.Errorf("claim event = %+v", events[1])
	}
}

func TestSpendOfUnfundedSwap(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))

	req := f.spendRequest(testKey(1))
	req.Secret = testSecret()
	claim, err := f.htlc.Claim(req)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	f.backend.spent(t, f.rec.FundingAddress, claim)

	if err := f.watcher.CheckNow(context.Background()); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}

	rec := f.state(t)
	if rec.State != storage.SwapStateClaimed || rec.FundingTxID != fundingTxID {
		t.Errorf("record = %+v", rec)
	}
	if events := f.drain(); !sameKinds(events, EventFunded, EventClaimed) {
		t.Errorf("events = %v, want [funded claimed]", kinds(events))
	}
}

func TestRefundSpend(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
	ctx := context.Background()

	f.fundingOutput(1)
	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}

	refund, err := f.htlc.Refund(f.spendRequest(testKey(2)))
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	refundID := f.backend.spent(t, f.rec.FundingAddress, refund)

	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}

	rec := f.state(t)
	if rec.State != storage.SwapStateRefunded || rec.SpendTxID != refundID || rec.Secret != "" {
		t.Errorf("record = %+v, want refunded by %s", rec, refundID)
	}
	if events := f.drain(); !sameKinds(events, EventFunded, EventRefunded) {
		t.Errorf("events = %v, want [funded refunded]", kinds(events))
	}
}

func TestRefundableAbsolute(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
	ctx := context.Background()

	f.fundingOutput(1)
	f.backend.height = swapTimelock - 1
	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if events := f.drain(); !sameKinds(events, EventFunded) {
		t.Fatalf("events = %v, want [funded]", kinds(events))
	}

	f.backend.height = swapTimelock
	for i := 0; i < 2; i++ {
		if err := f.watcher.CheckNow(ctx); err != nil {
			t.Fatalf("CheckNow() error = %v", err)
		}
	}
	if events := f.drain(); !sameKinds(events, EventRefundable) {
		t.Errorf("events = %v, want a single [refundable]", kinds(events))
	}
}

func TestRefundableRelative(t *testing.T) {
	f := newFixture(t, swap.RelativeTimelock(6))
	ctx := context.Background()

	f.fundingOutput(5)
	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if events := f.drain(); !sameKinds(events, EventFunded) {
		t.Fatalf("events = %v, want [funded]", kinds(events))
	}

	f.fundingOutput(6)
	if err := f.watcher.CheckNow(ctx); err != nil {
		t.Fatalf("CheckNow() error = %v", err)
	}
	if events := f.drain(); !sameKinds(events, EventRefundable) {
		t.Errorf("events = %v, want [refundable]", kinds(events))
	}
}

func TestNativeWitnessOutput(t *testing.T) {
	t.Run("claim", func(t *testing.T) {
		f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
		ctx := context.Background()
		native := f.htlc.Details().Addresses

		f.fundingOutputAt(native.P2WSH, 1)
		if err := f.watcher.CheckNow(ctx); err != nil {
			t.Fatalf("CheckNow() error = %v", err)
		}
		if got := f.state(t); got.State != storage.SwapStateFunded || got.FundingTxID != fundingTxID {
			t.Fatalf("record = %+v, want funded by %s", got, fundingTxID)
		}

		req := f.spendRequest(testKey(1))
		req.UTXOs[0].PkScript = native.P2WSHScript
		req.Secret = testSecret()
		claim, err := f.htlc.Claim(req)
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		claimID := f.backend.spent(t, native.P2WSH, claim)

		if err := f.watcher.CheckNow(ctx); err != nil {
			t.Fatalf("CheckNow() error = %v", err)
		}
		rec := f.state(t)
		if rec.State != storage.SwapStateClaimed || rec.SpendTxID != claimID {
			t.Errorf("record = %+v, want claimed by %s", rec, claimID)
		}
		if rec.Secret != hex.EncodeToString(testSecret()) {
			t.Errorf("Secret = %s", rec.Secret)
		}
		if events := f.drain(); !sameKinds(events, EventFunded, EventClaimed) {
			t.Errorf("events = %v, want [funded claimed]", kinds(events))
		}
	})

	t.Run("relative refundable", func(t *testing.T) {
		f := newFixture(t, swap.RelativeTimelock(6))
		ctx := context.Background()
		native := f.htlc.Details().Addresses.P2WSH

		f.fundingOutputAt(native, 6)
		if err := f.watcher.CheckNow(ctx); err != nil {
			t.Fatalf("CheckNow() error = %v", err)
		}
		if events := f.drain(); !sameKinds(events, EventFunded, EventRefundable) {
			t.Errorf("events = %v, want [funded refundable]", kinds(events))
		}
	})
}

func TestSwapAddresses(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
	addrs := f.htlc.Details().Addresses

	got := swapAddresses(f.rec, f.htlc)
	want := []string{addrs.P2SHP2WSH, addrs.P2WSH}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("swapAddresses() = %v, want %v", got, want)
	}
}

func TestCheckNowReportsSwapErrors(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
	f.watcher.backends = func(string, chain.Network) (backend.Backend, error) {
		return nil, backend.ErrNoBackendURL
	}

	err := f.watcher.CheckNow(context.Background())
	if !errors.Is(err, backend.ErrNoBackendURL) {
		t.Errorf("CheckNow() error = %v, want ErrNoBackendURL", err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, swap.AbsoluteTimelock(swapTimelock))
	f.fundingOutput(1)

	f.watcher.Start()

	select {
	case ev := <-f.watcher.Events():
		if ev.Kind != EventFunded || ev.SwapID != f.rec.ID {
			t.Errorf("event = %+v, want funded %s", ev, f.rec.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for funded event")
	}

	f.watcher.Stop()
	for range f.watcher.Events() {
	}
	f.watcher.Stop()
}

package swap

import (
	"encoding/hex"
	"io"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// Fixture: claimer key 1, refund key 2, secret 0x00..0x1f, absolute height 3041.
const (
	fixtureClaimerPubKey = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	fixtureRefundPubKey  = "02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5"
	fixtureRefundPKH     = "06afd46bcdfd22ef94ac122aa11f241244a37ecc"
	fixturePaymentHash   = "630dcd2966c4336691125448bbb25b4ff412a49c732db2c8abc1b8581bd710dd"
	fixturePaymentRipemd = "ea4beb47def8492389a1e16634795441e1b87245"
	fixtureTimelock      = 3041

	fixtureScript = "76a820" + fixturePaymentHash + "876375" + "21" + fixtureClaimerPubKey +
		"67" + "02e10b" + "b1" + "7576a914" + fixtureRefundPKH + "8868ac"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// testKey returns the private key with scalar n.
func testKey(n byte) *btcec.PrivateKey {
	var scalar [32]byte
	scalar[31] = n
	key, _ := btcec.PrivKeyFromBytes(scalar[:])
	return key
}

func fixtureSecret() []byte {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	return secret
}

func fixtureParams(t *testing.T) SwapParams {
	t.Helper()
	return SwapParams{
		ClaimerPubKey:    mustHex(t, fixtureClaimerPubKey),
		PaymentHash:      mustHex(t, fixturePaymentHash),
		RefundPubKeyHash: mustHex(t, fixtureRefundPKH),
		Timelock:         AbsoluteTimelock(fixtureTimelock),
	}
}

func lookup(t *testing.T, symbol string, network chain.Network) *chain.Params {
	t.Helper()
	params, err := chain.DefaultTable().Lookup(symbol, network)
	if err != nil {
		t.Fatalf("Lookup(%s, %s) failed: %v", symbol, network, err)
	}
	return params
}

func quietLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "error", Output: io.Discard})
}

// executeInput runs the script VM for one input of tx.
func executeInput(t *testing.T, tx *wire.MsgTx, idx int, prevOuts map[wire.OutPoint]*wire.TxOut) error {
	t.Helper()
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	prevOut := prevOuts[tx.TxIn[idx].PreviousOutPoint]
	if prevOut == nil {
		t.Fatalf("no previous output for input %d", idx)
	}
	vm, err := txscript.NewEngine(prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags,
		nil, txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher)
	if err != nil {
		return err
	}
	return vm.Execute()
}

// fundingOutput returns the UTXO and previous output map for output vout of tx.
func fundingOutput(tx *wire.MsgTx, vout uint32) (UTXO, map[wire.OutPoint]*wire.TxOut) {
	out := tx.TxOut[vout]
	utxo := UTXO{
		TxID:     tx.TxHash().String(),
		Vout:     vout,
		Value:    uint64(out.Value),
		PkScript: out.PkScript,
	}
	prevOuts := map[wire.OutPoint]*wire.TxOut{
		{Hash: tx.TxHash(), Index: vout}: out,
	}
	return utxo, prevOuts
}

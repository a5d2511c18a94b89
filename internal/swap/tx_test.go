package swap

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

const (
	regtestDest = "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"
	fakeTxID    = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// funderUTXO returns a P2WPKH output of the funder key (scalar 3).
func funderUTXO(t *testing.T, txid string, value uint64) (UTXO, map[wire.OutPoint]*wire.TxOut) {
	t.Helper()
	script, err := p2wpkhScript(testKey(3).PubKey())
	if err != nil {
		t.Fatalf("p2wpkhScript() failed: %v", err)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		t.Fatalf("bad txid: %v", err)
	}
	utxo := UTXO{TxID: txid, Vout: 1, Value: value, PkScript: script}
	return utxo, map[wire.OutPoint]*wire.TxOut{
		{Hash: *hash, Index: 1}: wire.NewTxOut(int64(value), script),
	}
}

// fundScript funds pkScript with amount from a fresh funder output.
func fundScript(t *testing.T, pkScript []byte, amount uint64, txid string) *wire.MsgTx {
	t.Helper()
	utxo, prevOuts := funderUTXO(t, txid, amount+100000)
	tx, err := BuildFundingTx(&FundingTxParams{
		ChainParams: lookup(t, "BTC", chain.Regtest),
		UTXOs:       []UTXO{utxo},
		Key:         testKey(3),
		PkScript:    pkScript,
		Amount:      amount,
		FeeRate:     5,
	})
	if err != nil {
		t.Fatalf("BuildFundingTx() failed: %v", err)
	}
	if err := executeInput(t, tx, 0, prevOuts); err != nil {
		t.Fatalf("funding input does not validate: %v", err)
	}
	return tx
}

func regtestScript(t *testing.T, timelock Timelock) ([]byte, *Addresses) {
	t.Helper()
	regtest := lookup(t, "BTC", chain.Regtest)
	params := fixtureParams(t)
	params.Timelock = timelock
	script, err := BuildRedeemScript(params, regtest)
	if err != nil {
		t.Fatalf("BuildRedeemScript() failed: %v", err)
	}
	addrs, err := DeriveAddresses(script, params.RefundPubKeyHash, regtest)
	if err != nil {
		t.Fatalf("DeriveAddresses() failed: %v", err)
	}
	return script, addrs
}

func TestFundThenClaim(t *testing.T) {
	script, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))
	fundTx := fundScript(t, addrs.P2SHP2WSHScript, 500000, fakeTxID)
	utxo, prevOuts := fundingOutput(fundTx, 0)

	claim, err := BuildSpendTx(&SpendTxParams{
		ChainParams: lookup(t, "BTC", chain.Regtest),
		UTXOs:       []UTXO{utxo},
		Script:      script,
		Timelock:    AbsoluteTimelock(fixtureTimelock),
		Unlock:      fixtureSecret(),
		Destination: regtestDest,
		FeeRate:     10,
		Key:         testKey(1),
	})
	if err != nil {
		t.Fatalf("BuildSpendTx() failed: %v", err)
	}

	if err := executeInput(t, claim, 0, prevOuts); err != nil {
		t.Fatalf("claim does not validate: %v", err)
	}

	if claim.Version != SpendTxVersion {
		t.Errorf("Version = %d, want %d", claim.Version, SpendTxVersion)
	}
	if claim.LockTime != 0 {
		t.Errorf("LockTime = %d, want 0", claim.LockTime)
	}
	if claim.TxIn[0].Sequence != wire.MaxTxInSequenceNum {
		t.Errorf("Sequence = %#x, want final", claim.TxIn[0].Sequence)
	}
	if !bytes.Equal(claim.TxIn[0].SignatureScript[1:], addrs.WitnessProgram) {
		t.Error("wrapped spend should push the witness program")
	}

	witness := claim.TxIn[0].Witness
	if len(witness) != 3 {
		t.Fatalf("witness has %d elements, want 3", len(witness))
	}
	if witness[0][len(witness[0])-1] != byte(txscript.SigHashAll) {
		t.Error("signature should end with SIGHASH_ALL")
	}
	if !bytes.Equal(witness[1], fixtureSecret()) || !bytes.Equal(witness[2], script) {
		t.Error("witness should be [sig, secret, script]")
	}

	fee := EstimateFee(int64(claim.SerializeSizeStripped()*WitnessScaleFactor), len(script), 32, 1, 10)
	if got := uint64(claim.TxOut[0].Value); got != 500000-fee {
		t.Errorf("output = %d, want %d", got, 500000-fee)
	}
	if err := CheckDustRatio(500000, fee); err != nil {
		t.Errorf("fee %d should be within the dust bound: %v", fee, err)
	}
}

func TestClaimWithWrongSecretFailsScript(t *testing.T) {
	script, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))
	fundTx := fundScript(t, addrs.P2SHP2WSHScript, 500000, fakeTxID)
	utxo, prevOuts := fundingOutput(fundTx, 0)

	claim, err := BuildSpendTx(&SpendTxParams{
		ChainParams: lookup(t, "BTC", chain.Regtest),
		UTXOs:       []UTXO{utxo},
		Script:      script,
		Timelock:    AbsoluteTimelock(fixtureTimelock),
		Unlock:      make([]byte, 32),
		Destination: regtestDest,
		FeeRate:     10,
		Key:         testKey(1),
	})
	if err != nil {
		t.Fatalf("BuildSpendTx() failed: %v", err)
	}
	if err := executeInput(t, claim, 0, prevOuts); err == nil {
		t.Error("claim with the wrong secret should not validate")
	}
}

func TestRefundAbsolute(t *testing.T) {
	script, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))
	fundTx := fundScript(t, addrs.P2SHP2WSHScript, 500000, fakeTxID)
	utxo, prevOuts := fundingOutput(fundTx, 0)

	refund, err := BuildSpendTx(&SpendTxParams{
		ChainParams: lookup(t, "BTC", chain.Regtest),
		UTXOs:       []UTXO{utxo},
		Script:      script,
		Timelock:    AbsoluteTimelock(fixtureTimelock),
		Refund:      true,
		Unlock:      testKey(2).PubKey().SerializeCompressed(),
		Destination: regtestDest,
		FeeRate:     10,
		Key:         testKey(2),
	})
	if err != nil {
		t.Fatalf("BuildSpendTx() failed: %v", err)
	}

	if refund.LockTime != fixtureTimelock {
		t.Errorf("LockTime = %d, want %d", refund.LockTime, fixtureTimelock)
	}
	if refund.TxIn[0].Sequence != wire.MaxTxInSequenceNum-1 {
		t.Errorf("Sequence = %#x, want %#x", refund.TxIn[0].Sequence, wire.MaxTxInSequenceNum-1)
	}
	if err := executeInput(t, refund, 0, prevOuts); err != nil {
		t.Fatalf("refund does not validate: %v", err)
	}

	// A refund whose locktime is before the script's height is rejected.
	early := refund.Copy()
	early.LockTime = fixtureTimelock - 1
	if err := executeInput(t, early, 0, prevOuts); err == nil {
		t.Error("refund before the timelock should not validate")
	}
}

func TestRefundRelative(t *testing.T) {
	script, addrs := regtestScript(t, RelativeTimelock(144))
	fundTx := fundScript(t, addrs.P2SHP2WSHScript, 500000, fakeTxID)
	utxo, prevOuts := fundingOutput(fundTx, 0)

	refund, err := BuildSpendTx(&SpendTxParams{
		ChainParams: lookup(t, "BTC", chain.Regtest),
		UTXOs:       []UTXO{utxo},
		Script:      script,
		Timelock:    RelativeTimelock(144),
		Refund:      true,
		Unlock:      testKey(2).PubKey().SerializeCompressed(),
		Destination: regtestDest,
		FeeRate:     10,
		Key:         testKey(2),
	})
	if err != nil {
		t.Fatalf("BuildSpendTx() failed: %v", err)
	}

	if refund.LockTime != 0 {
		t.Errorf("LockTime = %d, want 0", refund.LockTime)
	}
	if refund.TxIn[0].Sequence != 144 {
		t.Errorf("Sequence = %d, want 144", refund.TxIn[0].Sequence)
	}
	if err := executeInput(t, refund, 0, prevOuts); err != nil {
		t.Fatalf("refund does not validate: %v", err)
	}

	early := refund.Copy()
	early.TxIn[0].Sequence = 143
	if err := executeInput(t, early, 0, prevOuts); err == nil {
		t.Error("refund before the relative timelock should not validate")
	}
}

func TestSpendNativeP2WSH(t *testing.T) {
	script, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))
	fundTx := fundScript(t, addrs.P2WSHScript, 300000, fakeTxID)
	utxo, prevOuts := fundingOutput(fundTx, 0)

	claim, err := BuildSpendTx(&SpendTxParams{
		ChainParams: lookup(t, "BTC", chain.Regtest),
		UTXOs:       []UTXO{utxo},
		Script:      script,
		Timelock:    AbsoluteTimelock(fixtureTimelock),
		Unlock:      fixtureSecret(),
		Destination: regtestDest,
		FeeRate:     2,
		Key:         testKey(1),
	})
	if err != nil {
		t.Fatalf("BuildSpendTx() failed: %v", err)
	}
	if len(claim.TxIn[0].SignatureScript) != 0 {
		t.Error("native P2WSH spend should have an empty signature script")
	}
	if err := executeInput(t, claim, 0, prevOuts); err != nil {
		t.Fatalf("claim does not validate: %v", err)
	}
}

func TestSpendMultipleInputs(t *testing.T) {
	script, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))
	first := fundScript(t, addrs.P2SHP2WSHScript, 200000, fakeTxID)
	second := fundScript(t, addrs.P2SHP2WSHScript, 300000, strings.Repeat("bb", 32))

	utxo1, prevOuts := fundingOutput(first, 0)
	utxo2, more := fundingOutput(second, 0)
	for op, out := range more {
		prevOuts[op] = out
	}

	claim, err := BuildSpendTx(&SpendTxParams{
		ChainParams: lookup(t, "BTC", chain.Regtest),
		UTXOs:       []UTXO{utxo1, utxo2},
		Script:      script,
		Timelock:    AbsoluteTimelock(fixtureTimelock),
		Unlock:      fixtureSecret(),
		Destination: regtestDest,
		FeeRate:     10,
		Key:         testKey(1),
	})
	if err != nil {
		t.Fatalf("BuildSpendTx() failed: %v", err)
	}

	if len(claim.TxIn) != 2 || len(claim.TxOut) != 1 {
		t.Fatalf("tx has %d inputs and %d outputs, want 2 and 1", len(claim.TxIn), len(claim.TxOut))
	}
	for i := range claim.TxIn {
		if err := executeInput(t, claim, i, prevOuts); err != nil {
			t.Errorf("input %d does not validate: %v", i, err)
		}
	}

	fee := EstimateFee(int64(claim.SerializeSizeStripped()*WitnessScaleFactor), len(script), 32, 2, 10)
	if got := uint64(claim.TxOut[0].Value); got != 500000-fee {
		t.Errorf("output = %d, want %d", got, 500000-fee)
	}
}

func TestSpendPubKeyTopology(t *testing.T) {
	params := fixtureParams(t)
	params.RefundPubKey = testKey(2).PubKey().SerializeCompressed()
	params.Timelock = RelativeTimelock(10)
	script, err := BuildPubKeyRedeemScript(params)
	if err != nil {
		t.Fatalf("BuildPubKeyRedeemScript() failed: %v", err)
	}
	addrs, err := DeriveAddresses(script, mustHex(t, fixtureRefundPKH), lookup(t, "BTC", chain.Regtest))
	if err != nil {
		t.Fatalf("DeriveAddresses() failed: %v", err)
	}

	tests := []struct {
		name   string
		refund bool
		unlock []byte
		key    byte
	}{
		{"claim", false, fixtureSecret(), 1},
		{"refund", true, testKey(2).PubKey().SerializeCompressed(), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fundTx := fundScript(t, addrs.P2SHP2WSHScript, 250000, fakeTxID)
			utxo, prevOuts := fundingOutput(fundTx, 0)

			tx, err := BuildSpendTx(&SpendTxParams{
				ChainParams: lookup(t, "BTC", chain.Regtest),
				UTXOs:       []UTXO{utxo},
				Script:      script,
				Timelock:    params.Timelock,
				Refund:      tt.refund,
				Unlock:      tt.unlock,
				Destination: regtestDest,
				FeeRate:     3,
				Key:         testKey(tt.key),
			})
			if err != nil {
				t.Fatalf("BuildSpendTx() failed: %v", err)
			}
			if err := executeInput(t, tx, 0, prevOuts); err != nil {
				t.Fatalf("%s does not validate: %v", tt.name, err)
			}
		})
	}
}

func TestBuildSpendTxValidation(t *testing.T) {
	script := mustHex(t, fixtureScript)
	valid := func() *SpendTxParams {
		return &SpendTxParams{
			ChainParams: lookup(t, "BTC", chain.Regtest),
			UTXOs:       []UTXO{{TxID: fakeTxID, Vout: 0, Value: 500000}},
			Script:      script,
			Timelock:    AbsoluteTimelock(fixtureTimelock),
			Unlock:      fixtureSecret(),
			Destination: regtestDest,
			FeeRate:     10,
			Key:         testKey(1),
		}
	}

	tests := []struct {
		name    string
		modify  func(p *SpendTxParams)
		wantErr error
	}{
		{"no UTXOs", func(p *SpendTxParams) { p.UTXOs = nil }, ErrNoUTXOs},
		{"no unlock element", func(p *SpendTxParams) { p.Unlock = nil }, ErrMissingUnlockElement},
		{"no key", func(p *SpendTxParams) { p.Key = nil }, ErrMissingKey},
		{"no script", func(p *SpendTxParams) { p.Script = nil }, ErrInvalidConfig},
		{"bad destination", func(p *SpendTxParams) { p.Destination = "bogus" }, ErrInvalidDestination},
		{"mainnet destination on regtest", func(p *SpendTxParams) {
			p.Destination = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
		}, ErrInvalidDestination},
		{"bad txid", func(p *SpendTxParams) { p.UTXOs[0].TxID = "xyz" }, ErrInvalidTxID},
		{"refund without timelock kind", func(p *SpendTxParams) {
			p.Refund = true
			p.Timelock = Timelock{}
		}, ErrInvalidTimelock},
		{"fee exceeds value", func(p *SpendTxParams) { p.UTXOs[0].Value = 1000 }, ErrFeeExceedsValue},
		{"dust ratio", func(p *SpendTxParams) { p.UTXOs[0].Value = 5000 }, ErrDustRatioExceeded},
		{"duplicate outpoint", func(p *SpendTxParams) { p.UTXOs = append(p.UTXOs, p.UTXOs[0]) }, ErrInvalidConfig},
		{"value above int64", func(p *SpendTxParams) { p.UTXOs[0].Value = math.MaxInt64 + 1 }, ErrInvalidConfig},
		{"total above int64", func(p *SpendTxParams) {
			p.UTXOs = []UTXO{
				{TxID: fakeTxID, Vout: 0, Value: math.MaxInt64},
				{TxID: fakeTxID, Vout: 1, Value: 1},
			}
		}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid()
			tt.modify(params)
			tx, err := BuildSpendTx(params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildSpendTx() error = %v, want %v", err, tt.wantErr)
			}
			if tx != nil {
				t.Error("no transaction should be returned on error")
			}
		})
	}
}

func TestBuildSpendTxDustBoundary(t *testing.T) {
	params := func(value uint64) *SpendTxParams {
		return &SpendTxParams{
			ChainParams: lookup(t, "BTC", chain.Regtest),
			UTXOs:       []UTXO{{TxID: fakeTxID, Vout: 0, Value: value}},
			Script:      mustHex(t, fixtureScript),
			Timelock:    AbsoluteTimelock(fixtureTimelock),
			Unlock:      fixtureSecret(),
			Destination: regtestDest,
			FeeRate:     10,
			Key:         testKey(1),
		}
	}

	// The fee does not depend on the input value.
	const sampleValue = 1000000
	tx, err := BuildSpendTx(params(sampleValue))
	if err != nil {
		t.Fatalf("BuildSpendTx() error = %v", err)
	}
	fee := uint64(sampleValue - tx.TxOut[0].Value)

	// fee/(value-fee) reaches exactly 1/3 at value = 4*fee.
	tests := []struct {
		name    string
		value   uint64
		wantErr error
	}{
		{"one below a third", 4*fee + 1, nil},
		{"exactly a third", 4 * fee, ErrDustRatioExceeded},
		{"one above a third", 4*fee - 1, ErrDustRatioExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := BuildSpendTx(params(tt.value))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BuildSpendTx(%d) error = %v, want %v", tt.value, err, tt.wantErr)
			}
			if tt.wantErr == nil && uint64(tx.TxOut[0].Value) != tt.value-fee {
				t.Errorf("output = %d, want %d", tx.TxOut[0].Value, tt.value-fee)
			}
		})
	}
}

func TestBuildFundingTx(t *testing.T) {
	_, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))

	tests := []struct {
		name        string
		inputValue  uint64
		fee         uint64
		wantOutputs int
		wantChange  uint64
		wantErr     error
	}{
		{"change output", 1000000, 0, 2, 1000000 - 500000 - 1430, nil},
		{"explicit fee", 1000000, 2000, 2, 1000000 - 500000 - 2000, nil},
		{"dust change dropped", 500000 + 1430 + 500, 0, 1, 0, nil},
		{"insufficient funds", 500000, 0, 0, 0, ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			utxo, prevOuts := funderUTXO(t, fakeTxID, tt.inputValue)
			tx, err := BuildFundingTx(&FundingTxParams{
				ChainParams: lookup(t, "BTC", chain.Regtest),
				UTXOs:       []UTXO{utxo},
				Key:         testKey(3),
				PkScript:    addrs.P2SHP2WSHScript,
				Amount:      500000,
				Fee:         tt.fee,
				FeeRate:     10,
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("BuildFundingTx() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildFundingTx() failed: %v", err)
			}

			if len(tx.TxOut) != tt.wantOutputs {
				t.Fatalf("got %d outputs, want %d", len(tx.TxOut), tt.wantOutputs)
			}
			if !bytes.Equal(tx.TxOut[0].PkScript, addrs.P2SHP2WSHScript) || tx.TxOut[0].Value != 500000 {
				t.Error("output 0 should pay the swap")
			}
			if tt.wantOutputs == 2 && uint64(tx.TxOut[1].Value) != tt.wantChange {
				t.Errorf("change = %d, want %d", tx.TxOut[1].Value, tt.wantChange)
			}
			if err := executeInput(t, tx, 0, prevOuts); err != nil {
				t.Errorf("funding input does not validate: %v", err)
			}
		})
	}
}

func TestBuildFundingTxValidation(t *testing.T) {
	_, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))
	utxo, _ := funderUTXO(t, fakeTxID, 1000000)
	foreign := utxo
	foreign.PkScript = addrs.P2WSHScript

	tests := []struct {
		name    string
		params  FundingTxParams
		wantErr error
	}{
		{"no UTXOs", FundingTxParams{Key: testKey(3), PkScript: addrs.P2WSHScript, Amount: 10000}, ErrNoUTXOs},
		{"no key", FundingTxParams{UTXOs: []UTXO{utxo}, PkScript: addrs.P2WSHScript, Amount: 10000}, ErrMissingKey},
		{"no swap script", FundingTxParams{UTXOs: []UTXO{utxo}, Key: testKey(3), Amount: 10000}, ErrInvalidConfig},
		{"dust amount", FundingTxParams{UTXOs: []UTXO{utxo}, Key: testKey(3), PkScript: addrs.P2WSHScript, Amount: 100}, ErrInsufficientFunds},
		{"input of another key", FundingTxParams{UTXOs: []UTXO{foreign}, Key: testKey(3), PkScript: addrs.P2WSHScript, Amount: 10000}, ErrKeyMismatch},
		{"duplicate input", FundingTxParams{UTXOs: []UTXO{utxo, utxo}, Key: testKey(3), PkScript: addrs.P2WSHScript, Amount: 10000}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.params
			params.FeeRate = 1
			if _, err := BuildFundingTx(&params); !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildFundingTx() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddressToScript(t *testing.T) {
	p2wpkh := append([]byte{txscript.OP_0, txscript.OP_DATA_20},
		mustHex(t, "751e76e8199196d454941c45d1b3a323f1433bd6")...)

	tests := []struct {
		name    string
		symbol  string
		network chain.Network
		address string
		wantErr bool
	}{
		{"BTC regtest P2WPKH", "BTC", chain.Regtest, regtestDest, false},
		{"BTC testnet P2WPKH", "BTC", chain.Testnet, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", false},
		{"LTC mainnet P2WPKH", "LTC", chain.Mainnet, "ltc1qw508d6qejxtdg4y5r3zarvary0c5xw7kgmn4n9", false},
		{"LTC testnet P2WPKH", "LTC", chain.Testnet, "tltc1qw508d6qejxtdg4y5r3zarvary0c5xw7klfsuq0", false},
		{"BTC testnet address on regtest", "BTC", chain.Regtest, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", true},
		{"BTC address on LTC", "LTC", chain.Mainnet, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", true},
		{"garbage", "BTC", chain.Mainnet, "hello", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := addressToScript(tt.address, lookup(t, tt.symbol, tt.network))
			if tt.wantErr {
				if err == nil {
					t.Errorf("addressToScript() = %x, want error", script)
				}
				return
			}
			if err != nil {
				t.Fatalf("addressToScript() failed: %v", err)
			}
			if !bytes.Equal(script, p2wpkh) {
				t.Errorf("addressToScript() = %x, want %x", script, p2wpkh)
			}
		})
	}
}

func TestSerializeDeserializeTx(t *testing.T) {
	_, addrs := regtestScript(t, AbsoluteTimelock(fixtureTimelock))
	tx := fundScript(t, addrs.P2SHP2WSHScript, 500000, fakeTxID)

	raw, err := SerializeTx(tx)
	if err != nil {
		t.Fatalf("SerializeTx() failed: %v", err)
	}
	decoded, err := DeserializeTx(raw)
	if err != nil {
		t.Fatalf("DeserializeTx() failed: %v", err)
	}
	if decoded.TxHash() != tx.TxHash() || decoded.WitnessHash() != tx.WitnessHash() {
		t.Error("round trip changed the transaction")
	}
	if TxID(decoded) != tx.TxHash().String() {
		t.Errorf("TxID() = %s", TxID(decoded))
	}

	if _, err := DeserializeTx("zz"); err == nil {
		t.Error("DeserializeTx() should reject bad hex")
	}
}

// Transaction building for HTLC swaps: funding the swap output, and claim and
// refund spends of it.
package swap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// SpendTxVersion enables BIP 68 relative lock-times.
const SpendTxVersion = 2

// UTXO is an output supplied by the caller.
type UTXO struct {
	TxID  string
	Vout  uint32
	Value uint64
	// PkScript of the output. Optional: swap outputs default to the
	// wrapped-witness script and funding inputs to the funder's P2WPKH.
	PkScript []byte
}

func (u UTXO) outPoint() (*wire.OutPoint, error) {
	txHash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTxID, u.TxID)
	}
	return wire.NewOutPoint(txHash, u.Vout), nil
}

// sumUTXOs totals utxos. Repeated outpoints and totals that do not fit an
// output value are ErrInvalidConfig.
func sumUTXOs(utxos []UTXO) (uint64, error) {
	seen := make(map[wire.OutPoint]struct{}, len(utxos))
	var total uint64
	for _, u := range utxos {
		op, err := u.outPoint()
		if err != nil {
			return 0, err
		}
		if _, dup := seen[*op]; dup {
			return 0, fmt.Errorf("%w: duplicate input %s:%d", ErrInvalidConfig, u.TxID, u.Vout)
		}
		seen[*op] = struct{}{}
		if u.Value > math.MaxInt64-total {
			return 0, fmt.Errorf("%w: input value overflow at %s:%d", ErrInvalidConfig, u.TxID, u.Vout)
		}
		total += u.Value
	}
	return total, nil
}

// FundingTxParams contains parameters for creating a funding transaction.
type FundingTxParams struct {
	ChainParams *chain.Params

	// Funder's P2WPKH outputs and the key that owns them. Change returns to
	// the same P2WPKH script.
	UTXOs []UTXO
	Key   *btcec.PrivateKey

	// Swap output
	PkScript []byte
	Amount   uint64

	// Fee is used as is when non-zero, otherwise derived from FeeRate (sat/vB).
	Fee     uint64
	FeeRate uint64
}

// BuildFundingTx creates and signs a transaction paying Amount to PkScript.
func BuildFundingTx(params *FundingTxParams) (*wire.MsgTx, error) {
	if len(params.UTXOs) == 0 {
		return nil, ErrNoUTXOs
	}
	if params.Key == nil {
		return nil, ErrMissingKey
	}
	if len(params.PkScript) == 0 {
		return nil, fmt.Errorf("%w: swap output script required", ErrInvalidConfig)
	}
	if params.ChainParams != nil && !params.ChainParams.SupportsSegWit {
		return nil, fmt.Errorf("%w: %s", ErrSegWitUnsupported, params.ChainParams.Symbol)
	}
	if params.Amount < DustThreshold {
		return nil, fmt.Errorf("%w: amount %d below dust %d", ErrInsufficientFunds, params.Amount, DustThreshold)
	}
	totalInput, err := sumUTXOs(params.UTXOs)
	if err != nil {
		return nil, err
	}

	funderScript, err := p2wpkhScript(params.Key.PubKey())
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(SpendTxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(params.UTXOs))

	for _, utxo := range params.UTXOs {
		outpoint, err := utxo.outPoint()
		if err != nil {
			return nil, err
		}
		pkScript := utxo.PkScript
		if len(pkScript) == 0 {
			pkScript = funderScript
		}
		if !bytes.Equal(pkScript, funderScript) {
			return nil, fmt.Errorf("%w: input %s:%d is not owned by the funding key",
				ErrKeyMismatch, utxo.TxID, utxo.Vout)
		}
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2 // Enable RBF
		tx.AddTxIn(txIn)
		prevOuts[*outpoint] = wire.NewTxOut(int64(utxo.Value), pkScript)
	}

	tx.AddTxOut(wire.NewTxOut(int64(params.Amount), params.PkScript))

	fee := params.Fee
	if fee == 0 {
		// Assume a change output; dropping it only overpays.
		fee = FundingFee(len(params.UTXOs), 2, params.FeeRate)
	}

	totalOutput := params.Amount + fee
	if totalInput < totalOutput {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, totalOutput, totalInput)
	}

	change := totalInput - totalOutput
	if change > DustThreshold {
		tx.AddTxOut(wire.NewTxOut(int64(change), funderScript))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prevOut := prevOuts[txIn.PreviousOutPoint]
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, prevOut.Value,
			prevOut.PkScript, txscript.SigHashAll, params.Key, true)
		if err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		txIn.Witness = witness
	}

	return tx, nil
}

// SpendTxParams contains parameters for a claim or refund of swap outputs.
type SpendTxParams struct {
	ChainParams *chain.Params

	// Swap outputs to spend.
	UTXOs []UTXO

	Script   []byte
	Timelock Timelock
	Refund   bool

	// Unlock is the secret when claiming and the refund pubkey when refunding.
	Unlock []byte

	Destination string
	FeeRate     uint64
	Key         *btcec.PrivateKey
}

// BuildSpendTx creates a fully signed claim or refund transaction that sends
// the swap outputs, less the fee, to Destination.
//
// Witness structure per input: [signature, unlock, redeem_script]
func BuildSpendTx(params *SpendTxParams) (*wire.MsgTx, error) {
	if len(params.UTXOs) == 0 {
		return nil, ErrNoUTXOs
	}
	if len(params.Unlock) == 0 {
		return nil, ErrMissingUnlockElement
	}
	if params.Key == nil {
		return nil, ErrMissingKey
	}
	if len(params.Script) == 0 {
		return nil, fmt.Errorf("%w: redeem script required", ErrInvalidConfig)
	}
	total, err := sumUTXOs(params.UTXOs)
	if err != nil {
		return nil, err
	}

	destScript, err := addressToScript(params.Destination, params.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}

	witnessProgram := witnessScriptHash(params.Script)
	nestedScript, err := nestedWitnessScript(witnessProgram)
	if err != nil {
		return nil, err
	}
	sigScript, err := txscript.NewScriptBuilder().AddData(witnessProgram).Script()
	if err != nil {
		return nil, fmt.Errorf("failed to build signature script: %w", err)
	}

	tx := wire.NewMsgTx(SpendTxVersion)
	sequence := uint32(wire.MaxTxInSequenceNum)
	if params.Refund {
		switch params.Timelock.Kind {
		case Absolute:
			tx.LockTime = params.Timelock.Value
			sequence = wire.MaxTxInSequenceNum - 1
		case Relative:
			sequence = params.Timelock.Value
		default:
			return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidTimelock, params.Timelock.Kind)
		}
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(params.UTXOs))
	for _, utxo := range params.UTXOs {
		outpoint, err := utxo.outPoint()
		if err != nil {
			return nil, err
		}
		pkScript := utxo.PkScript
		if len(pkScript) == 0 {
			pkScript = nestedScript
		}

		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = sequence
		// Native P2WSH spends carry nothing in the signature script.
		if !txscript.IsPayToWitnessScriptHash(pkScript) {
			txIn.SignatureScript = sigScript
		}
		tx.AddTxIn(txIn)
		prevOuts[*outpoint] = wire.NewTxOut(int64(utxo.Value), pkScript)
	}

	txOut := wire.NewTxOut(int64(total), destScript)
	tx.AddTxOut(txOut)

	baseWeight := int64(tx.SerializeSizeStripped() * WitnessScaleFactor)
	fee := EstimateFee(baseWeight, len(params.Script), len(params.Unlock), len(params.UTXOs), params.FeeRate)
	if err := CheckDustRatio(total, fee); err != nil {
		return nil, err
	}
	txOut.Value = int64(total - fee)

	// Sighashes commit to every input and output, so sign last.
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, txIn := range tx.TxIn {
		prevOut := prevOuts[txIn.PreviousOutPoint]
		hash, err := txscript.CalcWitnessSigHash(params.Script, sigHashes,
			txscript.SigHashAll, tx, i, prevOut.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to compute sighash for input %d: %w", i, err)
		}
		sig := btcecdsa.Sign(params.Key, hash)
		txIn.Witness = wire.TxWitness{
			append(sig.Serialize(), byte(txscript.SigHashAll)),
			params.Unlock,
			params.Script,
		}
	}

	return tx, nil
}

// witnessScriptHash returns the P2WSH witness program OP_0 <sha256(script)>.
func witnessScriptHash(script []byte) []byte {
	hash := sha256.Sum256(script)
	return append([]byte{txscript.OP_0, txscript.OP_DATA_32}, hash[:]...)
}

// nestedWitnessScript returns the P2SH output script wrapping witnessProgram.
func nestedWitnessScript(witnessProgram []byte) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(witnessProgram)).
		AddOp(txscript.OP_EQUAL).
		Script()
	if err != nil {
		return nil, fmt.Errorf("failed to build P2SH script: %w", err)
	}
	return script, nil
}

func p2wpkhScript(pubKey *btcec.PublicKey) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey.SerializeCompressed())).
		Script()
	if err != nil {
		return nil, fmt.Errorf("failed to build P2WPKH script: %w", err)
	}
	return script, nil
}

// addressToScript converts an address string to a scriptPubKey.
// btcutil only recognises bech32 prefixes of the networks it ships, so other
// chains' segwit addresses are decoded by hand.
func addressToScript(address string, params *chain.Params) ([]byte, error) {
	if params == nil {
		return nil, fmt.Errorf("chain params required to decode %s", address)
	}
	netParams := params.NetParams()

	addr, err := btcutil.DecodeAddress(address, netParams)
	if err == nil {
		if !addr.IsForNet(netParams) {
			return nil, fmt.Errorf("address %s is not for %s", address, params.Symbol)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to create script: %w", err)
		}
		return script, nil
	}

	if params.Bech32HRP != "" {
		hrp, data, bech32Err := bech32.Decode(address)
		if bech32Err == nil && len(data) > 0 && hrp == params.Bech32HRP && data[0] == 0 {
			witnessProgram, convErr := bech32.ConvertBits(data[1:], 5, 8, false)
			if convErr != nil {
				return nil, fmt.Errorf("invalid bech32 witness program: %w", convErr)
			}

			switch len(witnessProgram) {
			case 20: // P2WPKH
				return append([]byte{txscript.OP_0, txscript.OP_DATA_20}, witnessProgram...), nil
			case 32: // P2WSH
				return append([]byte{txscript.OP_0, txscript.OP_DATA_32}, witnessProgram...), nil
			}
		}
	}

	return nil, fmt.Errorf("failed to decode address: %w", err)
}

// SerializeTx serializes a transaction to hex.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeTx deserializes a transaction from hex.
func DeserializeTx(hexStr string) (*wire.MsgTx, error) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %w", err)
	}

	return tx, nil
}

// TxID returns the hex txid of a transaction.
func TxID(tx *wire.MsgTx) string {
	return tx.TxHash().String()
}

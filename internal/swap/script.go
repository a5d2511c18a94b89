// Package swap builds, decompiles and spends HTLC redeem scripts on
// Bitcoin-family chains.
package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the script grammar

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// Sizes of the script literals.
const (
	PubKeyLength      = 33
	PubKeyHashLength  = 20
	Sha256HashLength  = 32
	Ripemd160HashSize = 20

	// MaxRelativeTimelock is the largest block-based CSV value (BIP 68).
	MaxRelativeTimelock = 0xFFFF
)

// TimelockKind selects the timelock opcode of the refund branch.
type TimelockKind uint8

const (
	// Absolute is an exact block height enforced with OP_CHECKLOCKTIMEVERIFY.
	Absolute TimelockKind = iota + 1
	// Relative is a block count since confirmation, enforced with
	// OP_CHECKSEQUENCEVERIFY.
	Relative
)

func (k TimelockKind) String() string {
	switch k {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	default:
		return "unknown"
	}
}

// Timelock is the refund-branch lock. Use AbsoluteTimelock or RelativeTimelock
// to construct one.
type Timelock struct {
	Kind  TimelockKind
	Value uint32
}

// AbsoluteTimelock returns a CLTV timelock at the given block height.
func AbsoluteTimelock(height uint32) Timelock {
	return Timelock{Kind: Absolute, Value: height}
}

// RelativeTimelock returns a CSV timelock of the given number of blocks.
func RelativeTimelock(blocks uint32) Timelock {
	return Timelock{Kind: Relative, Value: blocks}
}

func (t Timelock) opcode() byte {
	if t.Kind == Relative {
		return txscript.OP_CHECKSEQUENCEVERIFY
	}
	return txscript.OP_CHECKLOCKTIMEVERIFY
}

// Validate checks the kind and range of the timelock.
func (t Timelock) Validate() error {
	switch t.Kind {
	case Absolute:
		if t.Value == 0 {
			return fmt.Errorf("%w: absolute height must be > 0", ErrInvalidTimelock)
		}
	case Relative:
		if t.Value == 0 {
			return fmt.Errorf("%w: relative blocks must be > 0", ErrInvalidTimelock)
		}
		if t.Value > MaxRelativeTimelock {
			return fmt.Errorf("%w: relative blocks exceed %d", ErrInvalidTimelock, MaxRelativeTimelock)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidTimelock, t.Kind)
	}
	return nil
}

// SwapParams are the inputs of the redeem script builders.
type SwapParams struct {
	// ClaimerPubKey is the 33-byte compressed key of the party that claims
	// with the secret.
	ClaimerPubKey []byte

	// PaymentHash is SHA256(secret). BuildPubKeyRedeemScript also accepts
	// the 20-byte RIPEMD160(SHA256(secret)) form.
	PaymentHash []byte

	// Refund destination for the pubkey-hash topology: either an address
	// (base58check P2PKH or bech32 P2WPKH) or the raw 20-byte hash.
	RefundAddress    string
	RefundPubKeyHash []byte

	// RefundPubKey is the 33-byte refund key of the pubkey topology.
	RefundPubKey []byte

	Timelock Timelock
}

// BuildRedeemScript creates the pubkey-hash topology redeem script.
//
// Script structure:
//
//	OP_DUP OP_SHA256 <payment_hash> OP_EQUAL
//	OP_IF
//	    OP_DROP <claimer_pubkey>
//	OP_ELSE
//	    <timelock> OP_CHECKLOCKTIMEVERIFY|OP_CHECKSEQUENCEVERIFY OP_DROP
//	    OP_DUP OP_HASH160 <refund_pubkey_hash> OP_EQUALVERIFY
//	OP_ENDIF
//	OP_CHECKSIG
//
// Claim path: <signature> <secret>
// Refund path: <signature> <refund_pubkey>
func BuildRedeemScript(params SwapParams, chainParams *chain.Params) ([]byte, error) {
	if len(params.ClaimerPubKey) != PubKeyLength {
		return nil, fmt.Errorf("%w: claimer pubkey must be %d bytes, got %d",
			ErrInvalidPubKeyLength, PubKeyLength, len(params.ClaimerPubKey))
	}
	if len(params.PaymentHash) != Sha256HashLength {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d",
			ErrInvalidPaymentHash, Sha256HashLength, len(params.PaymentHash))
	}
	if err := params.Timelock.Validate(); err != nil {
		return nil, err
	}

	refundHash, err := resolveRefundHash(params, chainParams)
	if err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(params.PaymentHash)
	builder.AddOp(txscript.OP_EQUAL)

	// Claim branch
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(params.ClaimerPubKey)

	// Refund branch
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(params.Timelock.Value))
	builder.AddOp(params.Timelock.opcode())
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(refundHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// BuildPubKeyRedeemScript creates the pubkey topology redeem script.
//
// Script structure:
//
//	OP_HASH160 <payment_hash160> OP_EQUAL
//	OP_IF
//	    <claimer_pubkey>
//	OP_ELSE
//	    <timelock> OP_CHECKLOCKTIMEVERIFY|OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <refund_pubkey>
//	OP_ENDIF
//	OP_CHECKSIG
func BuildPubKeyRedeemScript(params SwapParams) ([]byte, error) {
	if len(params.ClaimerPubKey) != PubKeyLength {
		return nil, fmt.Errorf("%w: claimer pubkey must be %d bytes, got %d",
			ErrInvalidPubKeyLength, PubKeyLength, len(params.ClaimerPubKey))
	}
	if len(params.RefundPubKey) != PubKeyLength {
		return nil, fmt.Errorf("%w: refund pubkey must be %d bytes, got %d",
			ErrInvalidPubKeyLength, PubKeyLength, len(params.RefundPubKey))
	}
	if err := params.Timelock.Validate(); err != nil {
		return nil, err
	}

	var hash160 []byte
	switch len(params.PaymentHash) {
	case Ripemd160HashSize:
		hash160 = params.PaymentHash
	case Sha256HashLength:
		hash160 = ripemd160Sum(params.PaymentHash)
	default:
		return nil, fmt.Errorf("%w: must be %d or %d bytes, got %d", ErrInvalidPaymentHash,
			Ripemd160HashSize, Sha256HashLength, len(params.PaymentHash))
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(hash160)
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)
	builder.AddData(params.ClaimerPubKey)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(params.Timelock.Value))
	builder.AddOp(params.Timelock.opcode())
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(params.RefundPubKey)

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// resolveRefundHash returns the 20-byte refund hash from either the raw hash
// or the refund address.
func resolveRefundHash(params SwapParams, chainParams *chain.Params) ([]byte, error) {
	if len(params.RefundPubKeyHash) > 0 {
		if params.RefundAddress != "" {
			return nil, fmt.Errorf("%w: both refund address and refund hash set", ErrInvalidRefundAddress)
		}
		if len(params.RefundPubKeyHash) != PubKeyHashLength {
			return nil, fmt.Errorf("%w: must be %d bytes, got %d",
				ErrInvalidRefundHashLength, PubKeyHashLength, len(params.RefundPubKeyHash))
		}
		return params.RefundPubKeyHash, nil
	}
	if params.RefundAddress == "" {
		return nil, fmt.Errorf("%w: refund address or refund hash required", ErrInvalidRefundAddress)
	}
	return DecodeRefundAddress(params.RefundAddress, chainParams)
}

// DecodeRefundAddress recovers the 20-byte pubkey hash of a refund address.
// Base58check (P2PKH) is tried first, then bech32 (P2WPKH).
func DecodeRefundAddress(address string, chainParams *chain.Params) ([]byte, error) {
	if chainParams == nil {
		return nil, fmt.Errorf("%w: chain params required to decode %s", ErrInvalidRefundAddress, address)
	}

	payload, version, err := base58.CheckDecode(address)
	if err == nil {
		if version != chainParams.PubKeyHashAddrID {
			return nil, fmt.Errorf("%w: version byte %#x is not a %s pubkey hash",
				ErrInvalidRefundAddress, version, chainParams.Symbol)
		}
		if len(payload) != PubKeyHashLength {
			return nil, fmt.Errorf("%w: payload is %d bytes", ErrInvalidRefundAddress, len(payload))
		}
		return payload, nil
	}

	hrp, data, bechErr := bech32.Decode(address)
	if bechErr != nil {
		return nil, fmt.Errorf("%w: %s is neither base58check (%v) nor bech32 (%v)",
			ErrInvalidRefundAddress, address, err, bechErr)
	}
	if chainParams.Bech32HRP == "" || hrp != chainParams.Bech32HRP {
		return nil, fmt.Errorf("%w: hrp %q does not belong to %s", ErrInvalidRefundAddress, hrp, chainParams.Symbol)
	}
	if len(data) == 0 || data[0] != 0 {
		return nil, fmt.Errorf("%w: only witness version 0 is supported", ErrInvalidRefundAddress)
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefundAddress, err)
	}
	if len(program) != PubKeyHashLength {
		return nil, fmt.Errorf("%w: witness program is %d bytes", ErrInvalidRefundAddress, len(program))
	}
	return program, nil
}

// ripemd160Sum returns RIPEMD160(b).
func ripemd160Sum(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}

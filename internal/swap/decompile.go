package swap

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// Topology identifies which of the two redeem script layouts a script uses.
type Topology uint8

const (
	// PubKeyTopology is the 12-token layout whose refund branch checks a
	// literal public key.
	PubKeyTopology Topology = iota + 1
	// PubKeyHashTopology is the 17-token layout whose refund branch checks a
	// public key hash.
	PubKeyHashTopology
)

// Token counts of the two topologies.
const (
	pubKeyTokenCount     = 12
	pubKeyHashTokenCount = 17

	maxTimelockBytes = 5
)

func (t Topology) String() string {
	switch t {
	case PubKeyTopology:
		return "pubkey"
	case PubKeyHashTopology:
		return "pubkeyhash"
	default:
		return "unknown"
	}
}

// SwapDetails is the structured form of a decompiled redeem script.
type SwapDetails struct {
	Symbol   string
	Network  chain.Network
	Topology Topology
	Script   []byte

	ClaimerPubKey []byte

	// PaymentHash is the hash literal as it appears in the script (32 bytes
	// for OP_SHA256, 20 bytes for OP_HASH160).
	PaymentHash []byte
	// PaymentHashRipemd is the 20-byte RIPEMD160 form of the payment hash.
	PaymentHashRipemd []byte

	// RefundPubKey is only set for PubKeyTopology.
	RefundPubKey     []byte
	RefundPubKeyHash []byte

	Timelock  Timelock
	Addresses *Addresses
}

// Clone returns a deep copy of the details.
func (d *SwapDetails) Clone() *SwapDetails {
	if d == nil {
		return nil
	}
	c := *d
	c.Script = cloneBytes(d.Script)
	c.ClaimerPubKey = cloneBytes(d.ClaimerPubKey)
	c.PaymentHash = cloneBytes(d.PaymentHash)
	c.PaymentHashRipemd = cloneBytes(d.PaymentHashRipemd)
	c.RefundPubKey = cloneBytes(d.RefundPubKey)
	c.RefundPubKeyHash = cloneBytes(d.RefundPubKeyHash)
	c.Addresses = d.Addresses.Clone()
	return &c
}

type token struct {
	op   byte
	data []byte
}

// tokenize splits a script into opcodes and their push data.
func tokenize(script []byte) ([]token, error) {
	var tokens []token
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		tokens = append(tokens, token{
			op:   tokenizer.Opcode(),
			data: cloneBytes(tokenizer.Data()),
		})
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedScript, err)
	}
	return tokens, nil
}

// layout describes where the fixed opcodes and literals sit in a topology.
type layout struct {
	fixed      map[int]byte
	hashOp     int
	hash       int
	claimer    int
	timelock   int
	method     int
	refund     int
	refundSize int
}

var pubKeyLayout = layout{
	fixed: map[int]byte{
		2:  txscript.OP_EQUAL,
		3:  txscript.OP_IF,
		5:  txscript.OP_ELSE,
		8:  txscript.OP_DROP,
		10: txscript.OP_ENDIF,
		11: txscript.OP_CHECKSIG,
	},
	hashOp:     0,
	hash:       1,
	claimer:    4,
	timelock:   6,
	method:     7,
	refund:     9,
	refundSize: PubKeyLength,
}

var pubKeyHashLayout = layout{
	fixed: map[int]byte{
		0:  txscript.OP_DUP,
		3:  txscript.OP_EQUAL,
		4:  txscript.OP_IF,
		5:  txscript.OP_DROP,
		7:  txscript.OP_ELSE,
		10: txscript.OP_DROP,
		11: txscript.OP_DUP,
		12: txscript.OP_HASH160,
		14: txscript.OP_EQUALVERIFY,
		15: txscript.OP_ENDIF,
		16: txscript.OP_CHECKSIG,
	},
	hashOp:     1,
	hash:       2,
	claimer:    6,
	timelock:   8,
	method:     9,
	refund:     13,
	refundSize: PubKeyHashLength,
}

// Decompile parses a redeem script of either topology into SwapDetails and
// derives its addresses with the given chain parameters.
func Decompile(script []byte, symbol string, network chain.Network, chainParams *chain.Params) (*SwapDetails, error) {
	if chainParams == nil {
		return nil, fmt.Errorf("%w: chain params required", ErrInvalidConfig)
	}

	tokens, err := tokenize(script)
	if err != nil {
		return nil, err
	}

	var (
		l        layout
		topology Topology
		hashOp   byte
	)
	switch len(tokens) {
	case pubKeyTokenCount:
		l, topology, hashOp = pubKeyLayout, PubKeyTopology, txscript.OP_HASH160
	case pubKeyHashTokenCount:
		l, topology, hashOp = pubKeyHashLayout, PubKeyHashTopology, txscript.OP_SHA256
	default:
		return nil, fmt.Errorf("%w: %d tokens, want %d or %d", ErrInvalidScriptLength,
			len(tokens), pubKeyTokenCount, pubKeyHashTokenCount)
	}

	// Fixed opcodes are checked in script order so the first mismatch wins.
	for pos := range tokens {
		if pos == l.hashOp {
			op := tokens[pos].op
			if op != txscript.OP_HASH160 && op != txscript.OP_SHA256 {
				return nil, &OpcodeError{Position: pos, Expected: hashOp, Got: op}
			}
			continue
		}
		want, ok := l.fixed[pos]
		if ok && tokens[pos].op != want {
			return nil, &OpcodeError{Position: pos, Expected: want, Got: tokens[pos].op}
		}
	}

	details := &SwapDetails{
		Symbol:   symbol,
		Network:  network,
		Topology: topology,
		Script:   cloneBytes(script),
	}

	hash := tokens[l.hash].data
	switch tokens[l.hashOp].op {
	case txscript.OP_SHA256:
		if len(hash) != Sha256HashLength {
			return nil, fmt.Errorf("%w: OP_SHA256 hash is %d bytes", ErrInvalidPaymentHash, len(hash))
		}
		details.PaymentHashRipemd = ripemd160Sum(hash)
	default:
		if len(hash) != Ripemd160HashSize {
			return nil, fmt.Errorf("%w: OP_HASH160 hash is %d bytes", ErrInvalidPaymentHash, len(hash))
		}
		details.PaymentHashRipemd = cloneBytes(hash)
	}
	details.PaymentHash = hash

	claimer := tokens[l.claimer].data
	if len(claimer) != PubKeyLength {
		return nil, fmt.Errorf("%w: claimer pubkey is %d bytes", ErrInvalidPubKeyLength, len(claimer))
	}
	details.ClaimerPubKey = claimer

	refund := tokens[l.refund].data
	if len(refund) != l.refundSize {
		if topology == PubKeyTopology {
			return nil, fmt.Errorf("%w: refund pubkey is %d bytes", ErrInvalidPubKeyLength, len(refund))
		}
		return nil, fmt.Errorf("%w: refund hash is %d bytes", ErrInvalidRefundHashLength, len(refund))
	}
	if topology == PubKeyTopology {
		details.RefundPubKey = refund
		details.RefundPubKeyHash = btcutil.Hash160(refund)
	} else {
		details.RefundPubKeyHash = refund
	}

	var kind TimelockKind
	switch tokens[l.method].op {
	case txscript.OP_CHECKSEQUENCEVERIFY:
		kind = Relative
	case txscript.OP_CHECKLOCKTIMEVERIFY:
		kind = Absolute
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimelockMethod, opcodeName(tokens[l.method].op))
	}
	value, err := decodeTimelock(tokens[l.timelock])
	if err != nil {
		return nil, err
	}
	details.Timelock = Timelock{Kind: kind, Value: value}

	details.Addresses, err = DeriveAddresses(script, details.RefundPubKeyHash, chainParams)
	if err != nil {
		return nil, err
	}

	return details, nil
}

// decodeTimelock reads a timelock token. OP_0..OP_16 are small integers,
// anything else is a little-endian unsigned push of at most 5 bytes.
func decodeTimelock(tok token) (uint32, error) {
	if txscript.IsSmallInt(tok.op) {
		return uint32(txscript.AsSmallInt(tok.op)), nil
	}
	if tok.op > txscript.OP_PUSHDATA4 || len(tok.data) == 0 {
		return 0, fmt.Errorf("%w: %s is not a number push", ErrInvalidTimelock, opcodeName(tok.op))
	}
	if len(tok.data) > maxTimelockBytes {
		return 0, fmt.Errorf("%w: %d byte literal", ErrInvalidTimelock, len(tok.data))
	}

	var buf [8]byte
	copy(buf[:], tok.data)
	value := binary.LittleEndian.Uint64(buf[:])
	if value > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d overflows uint32", ErrInvalidTimelock, value)
	}
	return uint32(value), nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

package swap

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// Malformed-script errors.
var (
	ErrMalformedScript         = errors.New("malformed script")
	ErrInvalidScriptLength     = errors.New("invalid script length")
	ErrInvalidPubKeyLength     = errors.New("invalid public key length")
	ErrInvalidRefundHashLength = errors.New("invalid refund hash length")
	ErrInvalidPaymentHash      = errors.New("invalid payment hash")
	ErrInvalidTimelockMethod   = errors.New("invalid timelock method")
	ErrInvalidTimelock         = errors.New("invalid timelock")

	ErrExpectedDup         = errors.New("expected OP_DUP")
	ErrExpectedSha256      = errors.New("expected OP_SHA256")
	ErrExpectedHash160     = errors.New("expected OP_HASH160")
	ErrExpectedEqual       = errors.New("expected OP_EQUAL")
	ErrExpectedIf          = errors.New("expected OP_IF")
	ErrExpectedDrop        = errors.New("expected OP_DROP")
	ErrExpectedElse        = errors.New("expected OP_ELSE")
	ErrExpectedEqualVerify = errors.New("expected OP_EQUALVERIFY")
	ErrExpectedEndIf       = errors.New("expected OP_ENDIF")
	ErrExpectedCheckSig    = errors.New("expected OP_CHECKSIG")
)

// Malformed-input errors.
var (
	ErrInvalidRefundAddress = errors.New("invalid refund address")
	ErrMissingUnlockElement = errors.New("missing unlock element")
	ErrNoUTXOs              = errors.New("no UTXOs available")
	ErrInvalidTxID          = errors.New("invalid transaction ID")
	ErrMissingKey           = errors.New("private key required")
	ErrKeyMismatch          = errors.New("key does not match script")
	ErrSecretMismatch       = errors.New("secret does not match payment hash")
	ErrInvalidDestination   = errors.New("invalid destination address")
	ErrInvalidConfig        = errors.New("invalid htlc config")
	ErrSegWitUnsupported    = errors.New("chain does not support segwit")
	ErrSecretNotFound       = errors.New("secret not found in transaction")
)

// Economic-safety errors.
var (
	ErrFeeExceedsValue   = errors.New("fee exceeds spendable value")
	ErrDustRatioExceeded = errors.New("fee to value ratio exceeds dust bound")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// expectedOpcodeErrs maps each fixed-position opcode to its sentinel.
var expectedOpcodeErrs = map[byte]error{
	txscript.OP_DUP:         ErrExpectedDup,
	txscript.OP_SHA256:      ErrExpectedSha256,
	txscript.OP_HASH160:     ErrExpectedHash160,
	txscript.OP_EQUAL:       ErrExpectedEqual,
	txscript.OP_IF:          ErrExpectedIf,
	txscript.OP_DROP:        ErrExpectedDrop,
	txscript.OP_ELSE:        ErrExpectedElse,
	txscript.OP_EQUALVERIFY: ErrExpectedEqualVerify,
	txscript.OP_ENDIF:       ErrExpectedEndIf,
	txscript.OP_CHECKSIG:    ErrExpectedCheckSig,
}

// OpcodeError reports an unexpected opcode at a fixed position of a redeem
// script. errors.Is matches it against the ErrExpected* sentinel for the
// opcode that should have been there.
type OpcodeError struct {
	Position int
	Expected byte
	Got      byte
}

func (e *OpcodeError) Error() string {
	return fmt.Sprintf("token %d: expected %s, got %s", e.Position,
		opcodeName(e.Expected), opcodeName(e.Got))
}

// Is matches the sentinel of the expected opcode.
func (e *OpcodeError) Is(target error) bool {
	sentinel, ok := expectedOpcodeErrs[e.Expected]
	return ok && sentinel == target
}

// Unwrap lets errors.Is reach ErrMalformedScript as well.
func (e *OpcodeError) Unwrap() error {
	return ErrMalformedScript
}

var opcodeNames = map[byte]string{
	txscript.OP_DUP:                 "OP_DUP",
	txscript.OP_SHA256:              "OP_SHA256",
	txscript.OP_HASH160:             "OP_HASH160",
	txscript.OP_EQUAL:               "OP_EQUAL",
	txscript.OP_IF:                  "OP_IF",
	txscript.OP_DROP:                "OP_DROP",
	txscript.OP_ELSE:                "OP_ELSE",
	txscript.OP_EQUALVERIFY:         "OP_EQUALVERIFY",
	txscript.OP_ENDIF:               "OP_ENDIF",
	txscript.OP_CHECKSIG:            "OP_CHECKSIG",
	txscript.OP_CHECKLOCKTIMEVERIFY: "OP_CHECKLOCKTIMEVERIFY",
	txscript.OP_CHECKSEQUENCEVERIFY: "OP_CHECKSEQUENCEVERIFY",
}

func opcodeName(op byte) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", op)
}

package swap

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// SecretSize is the size of generated swap secrets.
const SecretSize = 32

// GenerateSecret generates a random 32-byte secret and its SHA256 hash.
func GenerateSecret() (secret, hash []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(SecretSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, HashSecret(secret), nil
}

// HashSecret computes SHA256 hash of a secret.
func HashSecret(secret []byte) []byte {
	hash := sha256.Sum256(secret)
	return hash[:]
}

// VerifySecret checks a secret against a payment hash in either its 32-byte
// SHA256 or 20-byte RIPEMD160(SHA256) form.
func VerifySecret(secret, paymentHash []byte) bool {
	switch len(paymentHash) {
	case Sha256HashLength:
		return helpers.ConstantTimeCompare(HashSecret(secret), paymentHash)
	case Ripemd160HashSize:
		return helpers.ConstantTimeCompare(btcutil.Hash160(secret), paymentHash)
	default:
		return false
	}
}

// ExtractSecret recovers the secret revealed by a claim of script in tx.
func ExtractSecret(tx *wire.MsgTx, script []byte) ([]byte, error) {
	paymentHash, err := scriptPaymentHash(script)
	if err != nil {
		return nil, err
	}

	for _, txIn := range tx.TxIn {
		// Claim witness: [signature, secret, redeem_script]
		if len(txIn.Witness) != 3 || !bytes.Equal(txIn.Witness[2], script) {
			continue
		}
		if VerifySecret(txIn.Witness[1], paymentHash) {
			return cloneBytes(txIn.Witness[1]), nil
		}
	}
	return nil, ErrSecretNotFound
}

// scriptPaymentHash returns the hash literal of either topology without
// validating the rest of the script.
func scriptPaymentHash(script []byte) ([]byte, error) {
	tokens, err := tokenize(script)
	if err != nil {
		return nil, err
	}
	var idx int
	switch len(tokens) {
	case pubKeyTokenCount:
		idx = pubKeyLayout.hash
	case pubKeyHashTokenCount:
		idx = pubKeyHashLayout.hash
	default:
		return nil, fmt.Errorf("%w: %d tokens", ErrInvalidScriptLength, len(tokens))
	}
	op := tokens[idx-1].op
	if op != txscript.OP_SHA256 && op != txscript.OP_HASH160 {
		return nil, &OpcodeError{Position: idx - 1, Expected: txscript.OP_SHA256, Got: op}
	}
	return tokens[idx].data, nil
}

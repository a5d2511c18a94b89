// Package wallet derives swap keys from a BIP39 seed. The seed is kept on
// disk encrypted with Argon2id + AES-256-GCM.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// Wallet errors.
var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrInvalidPath     = errors.New("invalid derivation path")
)

// Derivation purposes.
const (
	PurposeBIP44 = 44 // legacy and EVM
	PurposeBIP84 = 84 // native segwit
)

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256) // 256 bits = 24 words
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// Wallet holds the master key of a seed. It is immutable and safe for
// concurrent use.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey
}

// NewFromMnemonic creates a wallet from a BIP39 mnemonic.
// The passphrase is optional (can be empty string).
func NewFromMnemonic(mnemonic, passphrase string, params *chain.Params) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	defer SecureClear(seed)

	return NewFromSeed(seed, params)
}

// NewFromSeed creates a wallet from a raw seed. params only selects the
// extended-key version bytes; derived private keys are the same on every
// chain.
func NewFromSeed(seed []byte, params *chain.Params) (*Wallet, error) {
	masterKey, err := hdkeychain.NewMaster(seed, params.NetParams())
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	return &Wallet{masterKey: masterKey}, nil
}

// DefaultPath returns the first external key path for a chain:
// m/84'/coin'/0'/0/0 for segwit chains, m/44'/coin'/0'/0/0 otherwise.
func DefaultPath(params *chain.Params) string {
	purpose := PurposeBIP44
	if params.IsUTXO() && params.SupportsSegWit {
		purpose = PurposeBIP84
	}
	return fmt.Sprintf("m/%d'/%d'/0'/0/0", purpose, params.CoinType)
}

// ParsePath parses a BIP32 path such as m/84'/0'/0'/0/5. Both ' and h mark
// hardened elements.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("%w: %q must start with m", ErrInvalidPath, path)
	}

	indexes := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil || n >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: bad element %q in %q", ErrInvalidPath, part, path)
		}
		idx := uint32(n)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// DeriveKey derives the extended key at path.
func (w *Wallet) DeriveKey(path string) (*hdkeychain.ExtendedKey, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	key := w.masterKey
	for _, idx := range indexes {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
	}
	return key, nil
}

// DerivePrivateKey derives a secp256k1 private key at path.
func (w *Wallet) DerivePrivateKey(path string) (*btcec.PrivateKey, error) {
	key, err := w.DeriveKey(path)
	if err != nil {
		return nil, err
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return privKey, nil
}

// DeriveECDSA derives the key at path in the form go-ethereum signs with.
func (w *Wallet) DeriveECDSA(path string) (*ecdsa.PrivateKey, error) {
	privKey, err := w.DerivePrivateKey(path)
	if err != nil {
		return nil, err
	}
	return privKey.ToECDSA(), nil
}

package main

import (
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// Secrets are read from the environment to keep them out of shell history.
const (
	keyEnv      = "HTLCCTL_KEY"
	passwordEnv = "HTLCCTL_PASSWORD"
	mnemonicEnv = "HTLCCTL_MNEMONIC"
)

var (
	errMissingKey      = errors.New("private key required (-key, " + keyEnv + " or a wallet seed)")
	errInvalidKey      = errors.New("invalid private key")
	errMissingPassword = errors.New("wallet password required (" + passwordEnv + ")")
)

// keyInput returns the flag value or, when empty, the environment variable.
func keyInput(flagValue string) (string, error) {
	s := strings.TrimSpace(flagValue)
	if s == "" {
		s = strings.TrimSpace(os.Getenv(keyEnv))
	}
	if s == "" {
		return "", errMissingKey
	}
	return s, nil
}

// parseUTXOKey accepts a WIF for the chain or a 32-byte hex scalar.
func parseUTXOKey(s string, params *chain.Params) (*btcec.PrivateKey, error) {
	if wif, err := btcutil.DecodeWIF(s); err == nil {
		if !wif.IsForNet(params.NetParams()) {
			return nil, fmt.Errorf("%w: WIF is not for %s", errInvalidKey, params.Name)
		}
		return wif.PrivKey, nil
	}

	scalar, err := helpers.HexToFixed(s, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidKey, err)
	}
	if helpers.IsZeroBytes(scalar) {
		return nil, fmt.Errorf("%w: zero scalar", errInvalidKey)
	}
	return secp256k1.PrivKeyFromBytes(scalar), nil
}

// keySource is the -key/-path pair of the signing commands. An explicit key
// wins; otherwise the key is derived from the wallet seed.
type keySource struct {
	key  string
	path string
}

func (k *keySource) register(fs *flag.FlagSet, keyUsage string) {
	fs.StringVar(&k.key, "key", "", keyUsage)
	fs.StringVar(&k.path, "path", "", "Wallet derivation path (default: first receive key of the chain)")
}

func (a *app) seedPath() string {
	return filepath.Join(a.cfg.DataDir(), wallet.SeedFileName)
}

func (a *app) hasSeed() bool {
	_, err := os.Stat(a.seedPath())
	return err == nil
}

// openWallet decrypts the seed file with the password from the environment.
func (a *app) openWallet(params *chain.Params) (*wallet.Wallet, error) {
	encrypted, err := wallet.LoadEncryptedSeed(a.seedPath())
	if err != nil {
		return nil, err
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		return nil, errMissingPassword
	}
	mnemonic, err := wallet.DecryptMnemonic(encrypted, password)
	if err != nil {
		return nil, err
	}
	return wallet.NewFromMnemonic(mnemonic, "", params)
}

// derivationPath returns the -path value or the chain's default path.
func (k *keySource) derivationPath(params *chain.Params) string {
	if k.path != "" {
		return k.path
	}
	return wallet.DefaultPath(params)
}

func (a *app) utxoKey(k *keySource, params *chain.Params) (*btcec.PrivateKey, error) {
	s, err := keyInput(k.key)
	if err == nil {
		return parseUTXOKey(s, params)
	}
	if !a.hasSeed() {
		return nil, err
	}
	w, err := a.openWallet(params)
	if err != nil {
		return nil, err
	}
	path := k.derivationPath(params)
	a.log.Debug("Deriving key from wallet", "symbol", params.Symbol, "path", path)
	return w.DerivePrivateKey(path)
}

func (a *app) evmKey(k *keySource, params *chain.Params) (*ecdsa.PrivateKey, error) {
	s, err := keyInput(k.key)
	if err == nil {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidKey, err)
		}
		return key, nil
	}
	if !a.hasSeed() {
		return nil, err
	}
	w, err := a.openWallet(params)
	if err != nil {
		return nil, err
	}
	path := k.derivationPath(params)
	a.log.Debug("Deriving key from wallet", "symbol", params.Symbol, "path", path)
	return w.DeriveECDSA(path)
}

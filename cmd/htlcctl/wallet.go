package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
)

var errWalletExists = errors.New("wallet seed already exists")

// runWallet manages the encrypted seed that signing commands fall back to
// when no -key is given.
func runWallet(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("wallet", flag.ContinueOnError)
	var (
		action = fs.String("action", "address", "Wallet action (create, import, address)")
		symbol = fs.String("symbol", "BTC", "Chain symbol, address only")
		path   = fs.String("path", "", "Derivation path, address only (default: first receive key of the chain)")
	)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *action {
	case "create":
		mnemonic, err := wallet.GenerateMnemonic()
		if err != nil {
			return err
		}
		if err := a.saveSeed(mnemonic); err != nil {
			return err
		}
		a.printf("mnemonic:          %s\n", mnemonic)
		a.printf("Write the mnemonic down; it is not shown again.\n")
		return nil
	case "import":
		mnemonic := strings.Join(strings.Fields(os.Getenv(mnemonicEnv)), " ")
		if mnemonic == "" {
			return fmt.Errorf("%w: set %s", wallet.ErrInvalidMnemonic, mnemonicEnv)
		}
		return a.saveSeed(mnemonic)
	case "address":
		params, err := a.chains.Lookup(*symbol, a.cfg.Network)
		if err != nil {
			return err
		}
		return a.printWalletAddress(params, &keySource{path: *path})
	default:
		return fmt.Errorf("unknown action %q", *action)
	}
}

func (a *app) saveSeed(mnemonic string) error {
	if a.hasSeed() {
		return fmt.Errorf("%w: %s", errWalletExists, a.seedPath())
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		return errMissingPassword
	}
	encrypted, err := wallet.EncryptMnemonic(mnemonic, password)
	if err != nil {
		return err
	}
	if err := wallet.SaveEncryptedSeed(encrypted, a.seedPath()); err != nil {
		return err
	}
	a.log.Info("Wallet seed saved", "path", a.seedPath())
	a.printf("seed:              %s\n", a.seedPath())
	return nil
}

// printWalletAddress shows the key at k's path and the address it receives
// on: P2WPKH or P2PKH for script chains, the account address for EVM chains.
func (a *app) printWalletAddress(params *chain.Params, k *keySource) error {
	if !a.hasSeed() {
		return fmt.Errorf("no wallet seed at %s", a.seedPath())
	}
	w, err := a.openWallet(params)
	if err != nil {
		return err
	}
	path := k.derivationPath(params)

	switch {
	case params.Type == chain.ChainTypeEVM:
		key, err := w.DeriveECDSA(path)
		if err != nil {
			return err
		}
		a.printf("path:              %s\n", path)
		a.printf("address:           %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	case params.IsUTXO():
		key, err := w.DerivePrivateKey(path)
		if err != nil {
			return err
		}
		pub := key.PubKey().SerializeCompressed()
		var addr btcutil.Address
		if params.SupportsSegWit {
			addr, err = btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub), params.NetParams())
		} else {
			addr, err = btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub), params.NetParams())
		}
		if err != nil {
			return err
		}
		a.printf("path:              %s\n", path)
		a.printf("pubkey:            %s\n", hex.EncodeToString(pub))
		a.printf("address:           %s\n", addr.EncodeAddress())
		return nil
	default:
		return fmt.Errorf("%s has no wallet addresses", params.Symbol)
	}
}

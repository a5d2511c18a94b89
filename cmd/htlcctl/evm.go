package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-exchange/klingon-htlc/internal/engine"
	"github.com/klingon-exchange/klingon-htlc/internal/evm"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// runEVM signs an initiate, redeem or refund call for the HTLC contract. The
// transaction is printed, not sent.
func runEVM(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("evm", flag.ContinueOnError)
	var key keySource
	var (
		symbol     = fs.String("symbol", "ETH", "Chain symbol")
		action     = fs.String("action", "fund", "Contract call (fund, claim, refund)")
		redeemer   = fs.String("redeemer", "", "Redeemer address")
		secretHash = fs.String("secret-hash", "", "SHA256 secret hash (hex)")
		secret     = fs.String("secret", "", "Secret (hex), claim only")
		expiry     = fs.Uint64("expiry", 0, "Timelock in blocks")
		amount     = fs.String("amount", "0", "Amount in base units (wei)")
		contract   = fs.String("contract", "", "HTLC contract address (default: contract table)")
		nonce      = fs.Uint64("nonce", 0, "Transaction nonce")
		gasLimit   = fs.Uint64("gas-limit", 200000, "Gas limit")
		gasPrice   = fs.String("gas-price", "1000000000", "Gas price in wei")
	)
	key.register(fs, "Initiator private key (hex)")
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	params, err := a.chains.Lookup(*symbol, a.cfg.Network)
	if err != nil {
		return err
	}
	privKey, err := a.evmKey(&key, params)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(*redeemer) {
		return fmt.Errorf("invalid redeemer address %q", *redeemer)
	}
	hash, err := helpers.HexToFixed(*secretHash, 32)
	if err != nil {
		return fmt.Errorf("secret hash: %w", err)
	}
	value, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", *amount)
	}
	price, ok := new(big.Int).SetString(*gasPrice, 10)
	if !ok {
		return fmt.Errorf("invalid gas price %q", *gasPrice)
	}
	contracts, err := a.cfg.EVMContractTable()
	if err != nil {
		return err
	}

	cfg := &evm.Config{
		Contract:   *contract,
		Contracts:  &contracts,
		PrivateKey: privKey,
		Redeemer:   common.HexToAddress(*redeemer),
		Expiry:     *expiry,
		Amount:     value,
	}
	copy(cfg.SecretHash[:], hash)

	e, err := engine.New(*symbol, a.cfg.Network, engine.Options{
		Chains: a.chains,
		EVM:    cfg,
		Logger: a.log,
	})
	if err != nil {
		return err
	}

	opts := evm.TxOpts{Nonce: *nonce, GasLimit: *gasLimit, GasPrice: price}
	var tx *types.Transaction
	switch *action {
	case "fund":
		tx, err = e.EVM.Fund(opts)
	case "claim":
		var s []byte
		if s, err = helpers.HexToBytes(*secret); err != nil {
			return fmt.Errorf("secret: %w", err)
		}
		tx, err = e.EVM.Claim(s, opts)
	case "refund":
		tx, err = e.EVM.Refund(opts)
	default:
		return fmt.Errorf("unknown action %q", *action)
	}
	if err != nil {
		return err
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	orderID := e.EVM.OrderID()
	a.printf("contract:          %s\n", e.EVM.Contract().Hex())
	a.printf("initiator:         %s\n", e.EVM.Initiator().Hex())
	a.printf("order id:          %s\n", hexutil.Encode(orderID[:]))
	a.printf("txhash:            %s\n", tx.Hash().Hex())
	a.printf("tx:                %s\n", hexutil.Encode(raw))
	return nil
}

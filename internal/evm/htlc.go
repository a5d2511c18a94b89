// Package evm builds and signs calls to an HTLC contract on account-model
// chains. The contract itself holds the escrow; this package only serializes
// and signs its initiate, redeem and refund calls.
package evm

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

var (
	ErrInvalidConfig       = errors.New("invalid evm htlc config")
	ErrInvalidContract     = errors.New("invalid contract address")
	ErrContractNotDeployed = errors.New("htlc contract not deployed")
	ErrSecretMismatch      = errors.New("secret does not match secret hash")
	ErrInvalidTxOpts       = errors.New("invalid transaction options")
)

// htlcABI describes the contract's escrow entry points.
const htlcABI = `[
	{"type":"function","name":"initiate","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"redeemer","type":"address"},
		{"name":"timelock","type":"uint256"},
		{"name":"amount","type":"uint256"},
		{"name":"secretHash","type":"bytes32"}]},
	{"type":"function","name":"redeem","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"orderID","type":"bytes32"},
		{"name":"secret","type":"bytes"}]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"orderID","type":"bytes32"}]}
]`

var parsedABI = mustParseABI(htlcABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("evm: invalid htlc abi: %v", err))
	}
	return parsed
}

// Config describes one HTLC order on an EVM chain.
type Config struct {
	ChainID uint64
	// Contract overrides the contract table when set.
	Contract  string
	Contracts *ContractTable

	PrivateKey *ecdsa.PrivateKey
	Redeemer   common.Address
	SecretHash [32]byte
	// Expiry is the relative timelock in blocks enforced by the contract.
	Expiry uint64
	Amount *big.Int

	Logger *logging.Logger
}

// TxOpts carries the caller-managed transaction envelope fields.
type TxOpts struct {
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
}

// HTLC signs contract calls for a single order. It holds no mutable state.
type HTLC struct {
	chainID    *big.Int
	contract   common.Address
	key        *ecdsa.PrivateKey
	initiator  common.Address
	redeemer   common.Address
	secretHash [32]byte
	expiry     *big.Int
	amount     *big.Int
	orderID    [32]byte
	log        *logging.Logger
}

// New validates cfg and resolves the contract address.
func New(cfg *Config) (*HTLC, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: chain id required", ErrInvalidConfig)
	}
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("%w: private key required", ErrInvalidConfig)
	}
	if cfg.Redeemer == (common.Address{}) {
		return nil, fmt.Errorf("%w: redeemer required", ErrInvalidConfig)
	}
	if helpers.IsZeroBytes(cfg.SecretHash[:]) {
		return nil, fmt.Errorf("%w: secret hash required", ErrInvalidConfig)
	}
	if cfg.Expiry == 0 {
		return nil, fmt.Errorf("%w: expiry required", ErrInvalidConfig)
	}
	if cfg.Amount == nil || cfg.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidConfig)
	}

	contract, err := resolveContract(cfg)
	if err != nil {
		return nil, err
	}

	h := &HTLC{
		chainID:    new(big.Int).SetUint64(cfg.ChainID),
		contract:   contract,
		key:        cfg.PrivateKey,
		initiator:  crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		redeemer:   cfg.Redeemer,
		secretHash: cfg.SecretHash,
		expiry:     new(big.Int).SetUint64(cfg.Expiry),
		amount:     new(big.Int).Set(cfg.Amount),
		log:        cfg.Logger.Component("evm"),
	}
	h.orderID = OrderID(cfg.SecretHash, h.initiator)

	h.log.Debug("EVM HTLC ready", "chain_id", cfg.ChainID, "contract", contract.Hex(),
		"order_id", helpers.BytesToHex(h.orderID[:]))
	return h, nil
}

func resolveContract(cfg *Config) (common.Address, error) {
	if cfg.Contract != "" {
		if !common.IsHexAddress(cfg.Contract) {
			return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidContract, cfg.Contract)
		}
		return common.HexToAddress(cfg.Contract), nil
	}
	table := DefaultContracts()
	if cfg.Contracts != nil {
		table = *cfg.Contracts
	}
	return table.Lookup(cfg.ChainID)
}

// OrderID is the contract's key for an order:
// sha256(secretHash || left-padded initiator address).
func OrderID(secretHash [32]byte, initiator common.Address) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, secretHash[:]...)
	buf = append(buf, common.LeftPadBytes(initiator.Bytes(), 32)...)
	return sha256.Sum256(buf)
}

// OrderID returns this order's contract key.
func (h *HTLC) OrderID() [32]byte { return h.orderID }

// Contract returns the resolved contract address.
func (h *HTLC) Contract() common.Address { return h.contract }

// Initiator returns the address derived from the signing key.
func (h *HTLC) Initiator() common.Address { return h.initiator }

// Fund signs an initiate call locking Amount for the redeemer.
func (h *HTLC) Fund(opts TxOpts) (*types.Transaction, error) {
	data, err := parsedABI.Pack("initiate", h.redeemer, h.expiry, h.amount, h.secretHash)
	if err != nil {
		return nil, fmt.Errorf("failed to pack initiate: %w", err)
	}
	return h.sign(opts, data, "initiate")
}

// Claim signs a redeem call revealing secret.
func (h *HTLC) Claim(secret []byte, opts TxOpts) (*types.Transaction, error) {
	hash := sha256.Sum256(secret)
	if !helpers.ConstantTimeCompare(hash[:], h.secretHash[:]) {
		return nil, ErrSecretMismatch
	}
	data, err := parsedABI.Pack("redeem", h.orderID, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to pack redeem: %w", err)
	}
	return h.sign(opts, data, "redeem")
}

// Refund signs a refund call for an expired order.
func (h *HTLC) Refund(opts TxOpts) (*types.Transaction, error) {
	data, err := parsedABI.Pack("refund", h.orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack refund: %w", err)
	}
	return h.sign(opts, data, "refund")
}

func (h *HTLC) sign(opts TxOpts, data []byte, method string) (*types.Transaction, error) {
	if opts.GasLimit == 0 {
		return nil, fmt.Errorf("%w: gas limit required", ErrInvalidTxOpts)
	}
	if opts.GasPrice == nil || opts.GasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: gas price required", ErrInvalidTxOpts)
	}

	contract := h.contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    opts.Nonce,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      opts.GasLimit,
		GasPrice: new(big.Int).Set(opts.GasPrice),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(h.chainID), h.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", method, err)
	}

	h.log.Info("Signed contract call", "method", method, "tx", signed.Hash().Hex(), "nonce", opts.Nonce)
	return signed, nil
}

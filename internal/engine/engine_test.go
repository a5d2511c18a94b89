package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/evm"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

const (
	// ed25519 base point
	basePointHex = "5866666666666666666666666666666666666666666666666666666666666666"
	// y = 2 has no x on the curve
	nonPointHex = "0200000000000000000000000000000000000000000000000000000000000000"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func utxoConfig(t *testing.T) *swap.Config {
	t.Helper()
	return &swap.Config{
		Params: &swap.SwapParams{
			ClaimerPubKey:    mustHex(t, "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"),
			PaymentHash:      mustHex(t, "630dcd2966c4336691125448bbb25b4ff412a49c732db2c8abc1b8581bd710dd"),
			RefundPubKeyHash: mustHex(t, "06afd46bcdfd22ef94ac122aa11f241244a37ecc"),
			Timelock:         swap.AbsoluteTimelock(3041),
		},
	}
}

func evmConfig(t *testing.T) *evm.Config {
	t.Helper()
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("HexToECDSA() error = %v", err)
	}
	return &evm.Config{
		Contract:   "0x1111111111111111111111111111111111111111",
		PrivateKey: key,
		Redeemer:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
		SecretHash: sha256.Sum256([]byte("secret")),
		Expiry:     100,
		Amount:     big.NewInt(1),
	}
}

type stubFederated struct {
	signers [][]byte
}

func (s *stubFederated) Fund(ctx context.Context) (string, error) {
	return "fund", nil
}

func (s *stubFederated) Claim(ctx context.Context, secret []byte) (string, error) {
	return "claim", nil
}

func (s *stubFederated) Refund(ctx context.Context) (string, error) {
	return "refund", nil
}

func stubBuilder(params *chain.Params, network chain.Network, signers [][]byte) (FederatedHTLC, error) {
	return &stubFederated{signers: signers}, nil
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		in      chain.ChainType
		want    Kind
		wantErr bool
	}{
		{chain.ChainTypeBitcoin, KindUTXO, false},
		{chain.ChainTypeEVM, KindEVM, false},
		{chain.ChainTypeFederated, KindFederated, false},
		{"solana", 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := KindOf(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedKind) {
					t.Errorf("KindOf(%s) error = %v, want ErrUnsupportedKind", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("KindOf(%s) = %v, %v, want %v", tt.in, got, err, tt.want)
			}
		})
	}

	if KindEVM.String() != "evm" || Kind(9).String() != "Kind(9)" {
		t.Errorf("String() = %s, %s", KindEVM, Kind(9))
	}
}

func TestNewUTXO(t *testing.T) {
	e, err := New("BTC", chain.Testnet, Options{UTXO: utxoConfig(t), Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Kind != KindUTXO || e.UTXO == nil || e.EVM != nil || e.Federated != nil {
		t.Fatalf("engine = %+v, want only UTXO set", e)
	}
	if got := e.UTXO.FundingAddress(); got != "2N1cJoDnUHC6MEoMcyDhTXZrv3d22e8t2iL" {
		t.Errorf("FundingAddress() = %s", got)
	}
	if e.UTXO.Symbol() != "BTC" || e.UTXO.Network() != chain.Testnet {
		t.Errorf("engine bound to %s/%s", e.UTXO.Symbol(), e.UTXO.Network())
	}
}

func TestNewEVM(t *testing.T) {
	e, err := New("ETH", chain.Testnet, Options{EVM: evmConfig(t), Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Kind != KindEVM || e.EVM == nil || e.UTXO != nil {
		t.Fatalf("engine = %+v, want only EVM set", e)
	}

	tx, err := e.EVM.Refund(evm.TxOpts{GasLimit: 50000, GasPrice: big.NewInt(1)})
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if tx.ChainId().Uint64() != 11155111 {
		t.Errorf("ChainId = %s, want chain table value 11155111", tx.ChainId())
	}

	cfg := evmConfig(t)
	cfg.ChainID = 1
	if _, err := New("ETH", chain.Testnet, Options{EVM: cfg, Logger: logging.Nop()}); !errors.Is(err, ErrChainIDMismatch) {
		t.Errorf("mismatched chain id error = %v, want ErrChainIDMismatch", err)
	}
}

func TestNewFederated(t *testing.T) {
	opts := Options{
		Federated: &FederatedConfig{SignerKeys: []string{basePointHex}, Build: stubBuilder},
		Logger:    logging.Nop(),
	}

	e, err := New("XLM", chain.Testnet, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Kind != KindFederated || e.Federated == nil {
		t.Fatalf("engine = %+v, want federated", e)
	}
	stub := e.Federated.(*stubFederated)
	if len(stub.signers) != 1 || hex.EncodeToString(stub.signers[0]) != basePointHex {
		t.Errorf("signers = %x", stub.signers)
	}
	if env, _ := e.Federated.Claim(context.Background(), []byte("s")); env != "claim" {
		t.Errorf("Claim() = %q", env)
	}
}

func TestNewErrors(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		network chain.Network
		opts    Options
		wantErr error
	}{
		{"unknown chain", "FOO", chain.Mainnet, Options{}, chain.ErrUnsupportedChain},
		{"unknown network", "LTC", chain.Regtest, Options{UTXO: &swap.Config{}}, chain.ErrUnsupportedNetwork},
		{"missing utxo config", "BTC", chain.Mainnet, Options{EVM: &evm.Config{}}, ErrMissingEngineConfig},
		{"missing evm config", "ETH", chain.Mainnet, Options{UTXO: &swap.Config{}}, ErrMissingEngineConfig},
		{"missing federated config", "XLM", chain.Mainnet, Options{}, ErrMissingEngineConfig},
		{"missing builder", "XLM", chain.Mainnet, Options{Federated: &FederatedConfig{SignerKeys: []string{basePointHex}}}, ErrMissingEngineConfig},
		{"no signers", "XLM", chain.Mainnet, Options{Federated: &FederatedConfig{Build: stubBuilder}}, ErrInvalidSignerKey},
		{"off-curve signer", "XLM", chain.Mainnet, Options{Federated: &FederatedConfig{SignerKeys: []string{nonPointHex}, Build: stubBuilder}}, ErrInvalidSignerKey},
		{"short signer", "XLM", chain.Mainnet, Options{Federated: &FederatedConfig{SignerKeys: []string{"5866"}, Build: stubBuilder}}, ErrInvalidSignerKey},
		{"segwit unsupported", "DOGE", chain.Mainnet, Options{UTXO: utxoConfig(t)}, swap.ErrSegWitUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = logging.Nop()
			if _, err := New(tt.symbol, tt.network, tt.opts); !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewUsesCustomChainTable(t *testing.T) {
	params, err := chain.DefaultTable().Lookup("BTC", chain.Regtest)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	custom := *params
	custom.Name = "Signet"
	table := chain.NewTable(chain.Entry{Symbol: "SIG", Network: chain.Testnet, Params: custom})

	e, err := New("SIG", chain.Testnet, Options{Chains: table, UTXO: utxoConfig(t), Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.UTXO.Details().Symbol != "SIG" {
		t.Errorf("Details().Symbol = %s, want SIG", e.UTXO.Details().Symbol)
	}
}

func TestParseSignerKey(t *testing.T) {
	if _, err := ParseSignerKey("0x" + basePointHex); err != nil {
		t.Errorf("ParseSignerKey(base point) error = %v", err)
	}
	if _, err := ParseSignerKey(nonPointHex); !errors.Is(err, ErrInvalidSignerKey) {
		t.Errorf("ParseSignerKey(non-point) error = %v, want ErrInvalidSignerKey", err)
	}
	if _, err := ParseSignerKey("zz"); !errors.Is(err, ErrInvalidSignerKey) {
		t.Errorf("ParseSignerKey(zz) error = %v, want ErrInvalidSignerKey", err)
	}
}

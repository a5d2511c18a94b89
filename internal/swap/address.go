package swap

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// Addresses are the funding and refund addresses derived from a redeem script.
// Witness fields are empty on chains without segwit.
type Addresses struct {
	// P2SH pays to HASH160(script).
	P2SH       string
	P2SHScript []byte

	// P2WSH pays to SHA256(script).
	P2WSH       string
	P2WSHScript []byte

	// P2SHP2WSH is the P2WSH output nested in P2SH. WitnessProgram is the
	// redeem script of that P2SH output (OP_0 <sha256(script)>).
	P2SHP2WSH       string
	P2SHP2WSHScript []byte
	WitnessProgram  []byte

	RefundP2PKH  string
	RefundP2WPKH string
}

// Clone returns a deep copy.
func (a *Addresses) Clone() *Addresses {
	if a == nil {
		return nil
	}
	c := *a
	c.P2SHScript = cloneBytes(a.P2SHScript)
	c.P2WSHScript = cloneBytes(a.P2WSHScript)
	c.P2SHP2WSHScript = cloneBytes(a.P2SHP2WSHScript)
	c.WitnessProgram = cloneBytes(a.WitnessProgram)
	return &c
}

// DeriveAddresses computes every address form of a redeem script plus the
// refund-side addresses of refundPubKeyHash.
func DeriveAddresses(script, refundPubKeyHash []byte, chainParams *chain.Params) (*Addresses, error) {
	if chainParams == nil {
		return nil, fmt.Errorf("%w: chain params required", ErrInvalidConfig)
	}
	if len(refundPubKeyHash) != PubKeyHashLength {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d",
			ErrInvalidRefundHashLength, PubKeyHashLength, len(refundPubKeyHash))
	}
	net := chainParams.NetParams()
	out := &Addresses{}

	p2sh, err := btcutil.NewAddressScriptHash(script, net)
	if err != nil {
		return nil, fmt.Errorf("failed to create P2SH address: %w", err)
	}
	out.P2SH = p2sh.EncodeAddress()
	if out.P2SHScript, err = txscript.PayToAddrScript(p2sh); err != nil {
		return nil, fmt.Errorf("failed to create P2SH script: %w", err)
	}

	refundP2PKH, err := btcutil.NewAddressPubKeyHash(refundPubKeyHash, net)
	if err != nil {
		return nil, fmt.Errorf("failed to create P2PKH address: %w", err)
	}
	out.RefundP2PKH = refundP2PKH.EncodeAddress()

	if !chainParams.SupportsSegWit {
		return out, nil
	}

	if err := deriveWitnessAddresses(out, script, refundPubKeyHash, net); err != nil {
		return nil, err
	}
	return out, nil
}

func deriveWitnessAddresses(out *Addresses, script, refundPubKeyHash []byte, net *chaincfg.Params) error {
	scriptHash := sha256.Sum256(script)

	p2wsh, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], net)
	if err != nil {
		return fmt.Errorf("failed to create P2WSH address: %w", err)
	}
	out.P2WSH = p2wsh.EncodeAddress()
	if out.P2WSHScript, err = txscript.PayToAddrScript(p2wsh); err != nil {
		return fmt.Errorf("failed to create P2WSH script: %w", err)
	}

	// The witness program is the P2WSH output script itself.
	out.WitnessProgram = cloneBytes(out.P2WSHScript)
	nested, err := btcutil.NewAddressScriptHash(out.WitnessProgram, net)
	if err != nil {
		return fmt.Errorf("failed to create P2SH-P2WSH address: %w", err)
	}
	out.P2SHP2WSH = nested.EncodeAddress()
	if out.P2SHP2WSHScript, err = txscript.PayToAddrScript(nested); err != nil {
		return fmt.Errorf("failed to create P2SH-P2WSH script: %w", err)
	}

	refundP2WPKH, err := btcutil.NewAddressWitnessPubKeyHash(refundPubKeyHash, net)
	if err != nil {
		return fmt.Errorf("failed to create P2WPKH address: %w", err)
	}
	out.RefundP2WPKH = refundP2WPKH.EncodeAddress()
	return nil
}

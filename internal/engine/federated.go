package engine

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// ErrInvalidSignerKey is returned for signer keys that are not ed25519 points.
var ErrInvalidSignerKey = errors.New("invalid ed25519 signer key")

// FederatedBuilder constructs a federated engine from validated signer keys.
type FederatedBuilder func(params *chain.Params, network chain.Network, signers [][]byte) (FederatedHTLC, error)

// FederatedConfig configures an externally implemented federated engine.
type FederatedConfig struct {
	// SignerKeys are hex encoded ed25519 public keys.
	SignerKeys []string
	Build      FederatedBuilder
}

// ParseSignerKey decodes a hex ed25519 public key and checks that it is a
// point on the curve.
func ParseSignerKey(s string) ([]byte, error) {
	b, err := helpers.HexToFixed(s, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignerKey, err)
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignerKey, err)
	}
	return b, nil
}

func (c *FederatedConfig) build(params *chain.Params, network chain.Network) (FederatedHTLC, error) {
	if c.Build == nil {
		return nil, fmt.Errorf("%w: federated builder required", ErrMissingEngineConfig)
	}
	if len(c.SignerKeys) == 0 {
		return nil, fmt.Errorf("%w: at least one signer key required", ErrInvalidSignerKey)
	}

	signers := make([][]byte, 0, len(c.SignerKeys))
	for i, k := range c.SignerKeys {
		b, err := ParseSignerKey(k)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		signers = append(signers, b)
	}
	return c.Build(params, network, signers)
}

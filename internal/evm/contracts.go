package evm

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ContractTable maps an EVM chain ID to its HTLC contract address.
// The zero value is empty; tables are never modified after construction.
type ContractTable struct {
	contracts map[uint64]common.Address
}

// NewContractTable builds a table from a chainID -> address map.
func NewContractTable(contracts map[uint64]common.Address) ContractTable {
	m := make(map[uint64]common.Address, len(contracts))
	for id, addr := range contracts {
		m[id] = addr
	}
	return ContractTable{contracts: m}
}

// DefaultContracts returns the deployed HTLC contracts.
func DefaultContracts() ContractTable {
	return NewContractTable(map[uint64]common.Address{
		// Ethereum Sepolia
		11155111: common.HexToAddress("0x628c677e7b8889e64564d3f381565a9e6656aade"),
		// BSC Testnet
		97: common.HexToAddress("0xC8515f07b08b586a2Fd6A389585D9a182D03adFB"),
	})
}

// With returns a copy of the table with address registered for chainID.
func (t ContractTable) With(chainID uint64, address common.Address) ContractTable {
	m := make(map[uint64]common.Address, len(t.contracts)+1)
	for id, addr := range t.contracts {
		m[id] = addr
	}
	m[chainID] = address
	return ContractTable{contracts: m}
}

// WithHex is With for a hex encoded address.
func (t ContractTable) WithHex(chainID uint64, address string) (ContractTable, error) {
	if !common.IsHexAddress(address) {
		return t, fmt.Errorf("%w: %q", ErrInvalidContract, address)
	}
	return t.With(chainID, common.HexToAddress(address)), nil
}

// Lookup returns the HTLC contract for chainID.
func (t ContractTable) Lookup(chainID uint64) (common.Address, error) {
	addr, ok := t.contracts[chainID]
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: chain %d", ErrContractNotDeployed, chainID)
	}
	return addr, nil
}

// ChainIDs returns the chains with a deployed contract, sorted.
func (t ContractTable) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(t.contracts))
	for id, addr := range t.contracts {
		if addr != (common.Address{}) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

package chain

func evmEntries() []Entry {
	return []Entry{
		// Ethereum
		{Symbol: "ETH", Network: Mainnet, Params: Params{Name: "Ethereum", Type: ChainTypeEVM, Decimals: 18, ChainID: 1, CoinType: 60}},
		{Symbol: "ETH", Network: Testnet, Params: Params{Name: "Ethereum Sepolia", Type: ChainTypeEVM, Decimals: 18, ChainID: 11155111, CoinType: 60}},

		// Arbitrum
		{Symbol: "ARBITRUM", Network: Mainnet, Params: Params{Name: "Arbitrum One", Type: ChainTypeEVM, Decimals: 18, ChainID: 42161, CoinType: 60}},
		{Symbol: "ARBITRUM", Network: Testnet, Params: Params{Name: "Arbitrum Sepolia", Type: ChainTypeEVM, Decimals: 18, ChainID: 421614, CoinType: 60}},

		// Local devnet (anvil / hardhat)
		{Symbol: "ETH", Network: Regtest, Params: Params{Name: "Ethereum Devnet", Type: ChainTypeEVM, Decimals: 18, ChainID: 31337, CoinType: 60}},
	}
}

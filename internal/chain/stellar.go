package chain

func stellarEntries() []Entry {
	return []Entry{
		{Symbol: "XLM", Network: Mainnet, Params: Params{Name: "Stellar", Type: ChainTypeFederated, Decimals: 7, CoinType: 148}},
		{Symbol: "XLM", Network: Testnet, Params: Params{Name: "Stellar Testnet", Type: ChainTypeFederated, Decimals: 7, CoinType: 148}},
	}
}

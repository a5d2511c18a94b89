package chain

func dogecoinEntries() []Entry {
	var (
		dgpv = [4]byte{0x02, 0xfa, 0xc3, 0x98}
		dgub = [4]byte{0x02, 0xfa, 0xca, 0xfd}
	)
	// No segwit: an empty HRP leaves SupportsSegWit false.
	return []Entry{
		utxoChain{"Dogecoin", 0x1e, 0x16, "", 0x9e, 3, dgpv, dgub}.entry("DOGE", Mainnet),
		utxoChain{"Dogecoin Testnet", 0x71, 0xc4, "", 0xf1, 1, tprv, tpub}.entry("DOGE", Testnet),
	}
}

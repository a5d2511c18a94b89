package chain

func litecoinEntries() []Entry {
	var (
		ltpv = [4]byte{0x01, 0x9d, 0x9c, 0xfe}
		ltub = [4]byte{0x01, 0x9d, 0xa4, 0x62}
		ttpv = [4]byte{0x04, 0x36, 0xef, 0x7d}
		ttub = [4]byte{0x04, 0x36, 0xf6, 0xe1}
	)
	// P2SH uses the M and Q prefixes; the legacy 3 prefix is not produced.
	return []Entry{
		utxoChain{"Litecoin", 0x30, 0x32, "ltc", 0xb0, 2, ltpv, ltub}.entry("LTC", Mainnet),
		utxoChain{"Litecoin Testnet", 0x6f, 0x3a, "tltc", 0xef, 1, ttpv, ttub}.entry("LTC", Testnet),
	}
}

package chain

// BIP32 serialization versions shared by Bitcoin and its test networks.
var (
	xprv = [4]byte{0x04, 0x88, 0xad, 0xe4}
	xpub = [4]byte{0x04, 0x88, 0xb2, 0x1e}
	tprv = [4]byte{0x04, 0x35, 0x83, 0x94}
	tpub = [4]byte{0x04, 0x35, 0x87, 0xcf}
)

// utxoChain is the compact form of a Bitcoin-family Params.
type utxoChain struct {
	name     string
	p2pkh    byte
	p2sh     byte
	hrp      string
	wif      byte
	coinType uint32
	hdPriv   [4]byte
	hdPub    [4]byte
}

func (u utxoChain) entry(symbol string, network Network) Entry {
	return Entry{
		Symbol:  symbol,
		Network: network,
		Params: Params{
			Name:             u.name,
			Type:             ChainTypeBitcoin,
			Decimals:         8,
			PubKeyHashAddrID: u.p2pkh,
			ScriptHashAddrID: u.p2sh,
			Bech32HRP:        u.hrp,
			WIF:              u.wif,
			CoinType:         u.coinType,
			HDPrivateKeyID:   u.hdPriv,
			HDPublicKeyID:    u.hdPub,
			SupportsSegWit:   u.hrp != "",
		},
	}
}

func bitcoinEntries() []Entry {
	// Addresses: 1/3/bc1 on mainnet, m|n/2/tb1 on testnet.
	return []Entry{
		utxoChain{"Bitcoin", 0x00, 0x05, "bc", 0x80, 0, xprv, xpub}.entry("BTC", Mainnet),
		utxoChain{"Bitcoin Testnet", 0x6f, 0xc4, "tb", 0xef, 1, tprv, tpub}.entry("BTC", Testnet),
		utxoChain{"Bitcoin Regtest", 0x6f, 0xc4, "bcrt", 0xef, 1, tprv, tpub}.entry("BTC", Regtest),
	}
}

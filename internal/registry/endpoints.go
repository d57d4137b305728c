package registry

const (
	// Aggregated yield index (DefiLlama-compatible API).
	LlamaYieldsBaseURL = "https://yields.llama.fi"

	// Vault protocol HTTP API.
	VaultBaseURL = "https://api.kamino.finance"

	// Default EVM RPC endpoint for the on-chain pool reader.
	DefaultRPCURL = "https://mainnet.base.org"

	// Chain the on-chain reader targets by default.
	DefaultChainID = 8453
)

// AavePoolDataProvider returns the Aave V3 protocol data provider contract
// for the given chain, used by the on-chain reader to fetch live reserve
// rates.
var aavePoolDataProviderByChainID = map[int64]string{
	1:     "0x41393e5e337606dc3821075Af65AeE84D7688CBD", // Ethereum
	8453:  "0x793177a6Cf19655E6A5ECB9D48ecd849D1790b29", // Base
	42161: "0x7F23D86Ee20D869112572136221e173428DD740B", // Arbitrum
}

func AavePoolDataProvider(chainID int64) (string, bool) {
	value, ok := aavePoolDataProviderByChainID[chainID]
	return value, ok
}

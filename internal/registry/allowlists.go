package registry

import "strings"

// Protocols whose pools are eligible for aggregation. Everything else is
// filtered out before ranking.
var allowedProtocols = map[string]struct{}{
	"aave-v3":     {},
	"kamino":      {},
	"kamino-lend": {},
	"drift":       {},
	"marginfi":    {},
	"save":        {},
	"solend":      {},
	"lulo":        {},
}

// Stablecoin symbols eligible for lending aggregation.
var allowedStablecoins = map[string]struct{}{
	"USDC":  {},
	"USDT":  {},
	"USDS":  {},
	"PYUSD": {},
	"USDG":  {},
	"FDUSD": {},
}

// SentinelProject is the vault protocol spliced into the top three when it
// qualifies anywhere in the ranked list but missed the cut.
const SentinelProject = "kamino"

func IsAllowedProtocol(project string) bool {
	_, ok := allowedProtocols[strings.ToLower(strings.TrimSpace(project))]
	return ok
}

func IsAllowedStablecoin(symbol string) bool {
	_, ok := allowedStablecoins[strings.ToUpper(strings.TrimSpace(symbol))]
	return ok
}

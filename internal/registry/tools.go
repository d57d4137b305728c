package registry

import "strings"

// Tool identifiers are canonical snake_case ids at the routing boundary.
// Agents expose them under namespaced names; this table is the single place
// that mapping lives so call sites never need to string-munge.
var namespacedTools = map[string]map[string]string{
	"lending": {
		"get_lending_yields": "lending_get_lending_yields_action",
		"lend":               "lending_lend_action",
		"withdraw":           "lending_withdraw_action",
		"get_balances":       "lending_get_balances_action",
	},
	"staking": {
		"get_staking_yields": "staking_get_staking_yields_action",
		"stake":              "staking_stake_action",
		"unstake":            "staking_unstake_action",
	},
	"trading": {
		"trade":               "trading_trade_action",
		"transfer":            "trading_transfer_action",
		"get_trending_tokens": "trading_get_trending_tokens_action",
		"get_top_traders":     "trading_get_top_traders_action",
	},
	"liquidity": {
		"deposit_liquidity":  "liquidity_deposit_liquidity_action",
		"withdraw_liquidity": "liquidity_withdraw_liquidity_action",
	},
	"wallet": {
		"get_wallet_address": "wallet_get_wallet_address_action",
		"get_balances":       "wallet_get_balances_action",
	},
}

// NamespacedTool resolves a canonical tool id to the name an agent exposes
// it under. Falls back to the canonical id when no mapping exists.
func NamespacedTool(agent, tool string) string {
	agent = strings.ToLower(strings.TrimSpace(agent))
	tool = strings.ToLower(strings.TrimSpace(tool))
	if byAgent, ok := namespacedTools[agent]; ok {
		if namespaced, ok := byAgent[tool]; ok {
			return namespaced
		}
	}
	return tool
}

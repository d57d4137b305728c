package router

import "strings"

// Canonical tool ids. Agents expose these under namespaced names (see
// internal/registry); matching here is tolerant of that namespacing.
const (
	ToolGetLendingYields  = "get_lending_yields"
	ToolGetStakingYields  = "get_staking_yields"
	ToolLend              = "lend"
	ToolWithdraw          = "withdraw"
	ToolStake             = "stake"
	ToolUnstake           = "unstake"
	ToolTrade             = "trade"
	ToolTransfer          = "transfer"
	ToolDepositLiquidity  = "deposit_liquidity"
	ToolWithdrawLiquidity = "withdraw_liquidity"
	ToolGetBalances       = "get_balances"
	ToolGetWalletAddress  = "get_wallet_address"
	ToolGetTrendingTokens = "get_trending_tokens"
	ToolGetTopTraders     = "get_top_traders"
)

var yieldTools = map[string]struct{}{
	ToolGetLendingYields: {},
	ToolGetStakingYields: {},
}

var executionTools = map[string]struct{}{
	ToolLend:              {},
	ToolWithdraw:          {},
	ToolStake:             {},
	ToolUnstake:           {},
	ToolTrade:             {},
	ToolTransfer:          {},
	ToolDepositLiquidity:  {},
	ToolWithdrawLiquidity: {},
}

// canonicalToolName lower-cases and normalizes separators to underscores.
func canonicalToolName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

// MatchesTool reports whether a (possibly namespaced) tool name refers to
// the given canonical id: equal, equal with an "_action" suffix, or ending
// with the id under an agent prefix.
func MatchesTool(name, canonical string) bool {
	norm := canonicalToolName(name)
	if norm == "" {
		return false
	}
	norm = strings.TrimSuffix(norm, "_action")
	return norm == canonical || strings.HasSuffix(norm, "_"+canonical)
}

func matchAnyTool(name string, set map[string]struct{}) (string, bool) {
	for canonical := range set {
		if MatchesTool(name, canonical) {
			return canonical, true
		}
	}
	return "", false
}

func IsYieldTool(name string) bool {
	_, ok := matchAnyTool(name, yieldTools)
	return ok
}

func IsExecutionTool(name string) bool {
	_, ok := matchAnyTool(name, executionTools)
	return ok
}

func IsBalancesTool(name string) bool {
	return MatchesTool(name, ToolGetBalances)
}

func IsWalletAddressTool(name string) bool {
	return MatchesTool(name, ToolGetWalletAddress)
}

// agentForTool infers the owning agent from a canonical or namespaced name.
func agentForTool(name string) Agent {
	switch {
	case MatchesTool(name, ToolGetLendingYields), MatchesTool(name, ToolLend), MatchesTool(name, ToolWithdraw):
		return AgentLending
	case MatchesTool(name, ToolGetStakingYields), MatchesTool(name, ToolStake), MatchesTool(name, ToolUnstake):
		return AgentStaking
	case MatchesTool(name, ToolTrade), MatchesTool(name, ToolTransfer),
		MatchesTool(name, ToolGetTrendingTokens), MatchesTool(name, ToolGetTopTraders):
		return AgentTrading
	case MatchesTool(name, ToolDepositLiquidity), MatchesTool(name, ToolWithdrawLiquidity):
		return AgentLiquidity
	case MatchesTool(name, ToolGetWalletAddress), MatchesTool(name, ToolGetBalances):
		return AgentWallet
	default:
		return AgentNone
	}
}

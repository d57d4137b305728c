package router

import (
	"strings"

	"github.com/defipilot/defipilot/internal/model"
)

// ContextOptions carries caller-supplied overrides: cross-turn memory
// (remembered selection and preferences) and profile data live outside this
// core and are handed in as plain data.
type ContextOptions struct {
	WalletAddress string
	LastSelection *Selection
	UserPrefs     *Preferences
	Profile       *ProfileContext
}

const maxPoolSamples = 6

// BuildContext reconstructs conversation state by scanning messages newest
// to oldest. It never mutates the history and never fails; missing data
// simply leaves fields nil.
func BuildContext(messages []Message, opts ContextOptions) RouterContext {
	rc := RouterContext{UserPrefs: opts.UserPrefs}
	if opts.Profile != nil {
		rc.Profile = *opts.Profile
	}
	if strings.TrimSpace(opts.WalletAddress) != "" {
		rc.Profile.WalletAddress = opts.WalletAddress
	}
	rc.Wallet.HasWalletAddress = strings.TrimSpace(rc.Profile.WalletAddress) != ""

	var (
		haveYield    bool
		haveAction   bool
		haveBalances bool
	)

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]

		if rc.LatestUserText == "" && !msg.Internal && strings.EqualFold(msg.Role, "user") {
			rc.LatestUserText = msg.Content
		}

		// Internal messages are still scanned for tool invocations.
		for j := len(msg.Invocations) - 1; j >= 0; j-- {
			inv := msg.Invocations[j]

			if !haveYield && IsYieldTool(inv.Tool) {
				rc.LastYield = &LastYield{
					Tool:  inv.Tool,
					Args:  inv.Args,
					Pools: samplePools(inv),
				}
				haveYield = true
			}

			if !haveAction && IsExecutionTool(inv.Tool) {
				rc.LastAction = &LastAction{Tool: inv.Tool, Args: inv.Args, Status: inv.Status}
				haveAction = true
				if rc.LastSelection == nil {
					rc.LastSelection = extractSelection(inv)
				}
			}

			if !haveBalances && IsBalancesTool(inv.Tool) {
				rc.Profile.HasBalances = true
				haveBalances = true
			}
		}

		if haveYield && haveAction && haveBalances {
			break
		}
	}

	// Remembered selection from earlier turns is a fallback only; anything
	// found in the scanned history is fresher.
	if rc.LastSelection == nil {
		rc.LastSelection = opts.LastSelection
	}

	return rc
}

func samplePools(inv ToolInvocation) []model.PoolSample {
	if len(inv.Pools) <= maxPoolSamples {
		return inv.Pools
	}
	return inv.Pools[:maxPoolSamples]
}

// extractSelection derives what the user acted on from a mutating action's
// arguments. Each action family sources the fields differently.
func extractSelection(inv ToolInvocation) *Selection {
	args := inv.Args
	if args == nil {
		return nil
	}

	switch {
	case MatchesTool(inv.Tool, ToolLend), MatchesTool(inv.Tool, ToolWithdraw):
		sel := &Selection{
			TokenSymbol: stringArg(args, "tokenSymbol"),
			Protocol:    stringArg(args, "protocol"),
			PoolID:      firstNonEmpty(stringArg(args, "protocolAddress"), stringArg(args, "tokenAddress")),
		}
		return selectionOrNil(sel)
	case MatchesTool(inv.Tool, ToolStake), MatchesTool(inv.Tool, ToolUnstake):
		sel := &Selection{PoolID: stringArg(args, "contractAddress")}
		if pool, ok := args["poolData"].(map[string]any); ok {
			sel.TokenSymbol = stringArg(pool, "tokenSymbol")
			sel.Protocol = stringArg(pool, "protocol")
		}
		return selectionOrNil(sel)
	case MatchesTool(inv.Tool, ToolDepositLiquidity), MatchesTool(inv.Tool, ToolWithdrawLiquidity):
		sel := &Selection{
			TokenSymbol: stringArg(args, "tokenSymbol"),
			Protocol:    stringArg(args, "protocol"),
			PoolID:      stringArg(args, "poolId"),
		}
		return selectionOrNil(sel)
	default:
		return nil
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func selectionOrNil(sel *Selection) *Selection {
	if sel.TokenSymbol == "" && sel.Protocol == "" && sel.PoolID == "" {
		return nil
	}
	return sel
}

package router

import (
	"reflect"
	"testing"
)

func confidentIntent() *Intent {
	return &Intent{Goal: GoalExplore, Domain: AgentLending, Confidence: 0.9}
}

func TestNormalizeDecisionIdempotent(t *testing.T) {
	rc := RouterContext{
		Intent: confidentIntent(),
		Wallet: WalletState{HasWalletAddress: false},
	}
	raw := RouterDecision{
		Agent:    "Lending",
		Mode:     "EXECUTE",
		UI:       "cards",
		ToolPlan: []ToolCall{{Tool: "lending_lend_action"}},
		Layout:   []LayoutBlock{"Text", "tool", "card"},
	}

	once := NormalizeDecision(raw, rc)
	twice := NormalizeDecision(once, rc)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("normalization must be a fixed point:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestClarificationShortCircuit(t *testing.T) {
	rc := RouterContext{
		Intent: &Intent{NeedsClarification: true, ClarifyingQuestion: "which token?"},
	}
	raw := RouterDecision{
		Agent:         AgentLending,
		Mode:          ModeExecute,
		UI:            UICards,
		ToolPlan:      []ToolCall{{Tool: ToolLend}},
		StopCondition: StopAfterPlan,
	}

	got := NormalizeDecision(raw, rc)
	if got.Agent != AgentNone || got.Mode != ModeExplore || got.UI != UIText {
		t.Fatalf("clarification must collapse the decision: %+v", got)
	}
	if len(got.ToolPlan) != 0 {
		t.Fatalf("clarification must clear the plan: %+v", got.ToolPlan)
	}
	if got.StopCondition != StopNone {
		t.Fatalf("stopCondition = %q, want none", got.StopCondition)
	}
	if len(got.Layout) != 1 || got.Layout[0] != LayoutText {
		t.Fatalf("layout = %v, want [text]", got.Layout)
	}
}

func TestWalletPrepend(t *testing.T) {
	raw := RouterDecision{
		Agent:    AgentLending,
		Mode:     ModeExecute,
		UI:       UIText,
		ToolPlan: []ToolCall{{Tool: ToolLend, Args: map[string]any{"tokenSymbol": "USDC"}}},
	}

	got := NormalizeDecision(raw, RouterContext{Intent: confidentIntent()})
	if len(got.ToolPlan) != 2 || got.ToolPlan[0].Tool != ToolGetWalletAddress {
		t.Fatalf("wallet fetch not prepended: %+v", got.ToolPlan)
	}

	withWallet := RouterContext{Intent: confidentIntent(), Wallet: WalletState{HasWalletAddress: true}}
	got = NormalizeDecision(raw, withWallet)
	if len(got.ToolPlan) != 1 {
		t.Fatalf("known wallet must not trigger a prepend: %+v", got.ToolPlan)
	}

	already := raw
	already.ToolPlan = []ToolCall{{Tool: "wallet_get_wallet_address_action"}, {Tool: ToolLend}}
	got = NormalizeDecision(already, RouterContext{Intent: confidentIntent()})
	if len(got.ToolPlan) != 2 {
		t.Fatalf("existing wallet fetch must not double: %+v", got.ToolPlan)
	}
}

func TestToolCoercion(t *testing.T) {
	rc := RouterContext{Intent: confidentIntent(), Wallet: WalletState{HasWalletAddress: true}}

	yields := NormalizeDecision(RouterDecision{
		Agent:    AgentLending,
		UI:       UIText,
		ToolPlan: []ToolCall{{Tool: ToolGetLendingYields}},
	}, rc)
	if yields.UI != UICards {
		t.Fatalf("yield plan must render cards, got %q", yields.UI)
	}
	if yields.StopCondition != StopOnFirstYields {
		t.Fatalf("stopCondition = %q, want %q", yields.StopCondition, StopOnFirstYields)
	}

	mixed := NormalizeDecision(RouterDecision{
		Agent:    AgentLending,
		UI:       UICardsThenText,
		ToolPlan: []ToolCall{{Tool: ToolGetLendingYields}},
	}, rc)
	if mixed.StopCondition != StopAfterPlan {
		t.Fatalf("cards_then_text should wait for the full plan, got %q", mixed.StopCondition)
	}

	exec := NormalizeDecision(RouterDecision{
		Agent:    AgentStaking,
		Mode:     ModeExplore,
		ToolPlan: []ToolCall{{Tool: "staking_stake_action"}},
	}, rc)
	if exec.Mode != ModeExecute {
		t.Fatalf("execution tool must force execute mode, got %q", exec.Mode)
	}
}

func TestEmptyAgentClearsPlan(t *testing.T) {
	got := NormalizeDecision(RouterDecision{
		Agent:         "mystery",
		ToolPlan:      []ToolCall{{Tool: ToolLend}},
		StopCondition: StopAfterPlan,
	}, RouterContext{Intent: confidentIntent()})
	if len(got.ToolPlan) != 0 || got.StopCondition != StopNone {
		t.Fatalf("unknown agent must not execute: %+v", got)
	}
}

func TestConstraintInjectionFillsAbsentArgs(t *testing.T) {
	limit := 5.0
	rc := RouterContext{
		Intent: &Intent{
			Goal:       GoalExplore,
			Domain:     AgentLending,
			Confidence: 0.9,
			Constraints: &Constraints{
				TokenSymbol: "USDC",
				Protocol:    "aave-v3",
				Limit:       &limit,
			},
		},
		Wallet: WalletState{HasWalletAddress: true},
	}
	raw := RouterDecision{
		Agent: AgentLending,
		UI:    UICards,
		ToolPlan: []ToolCall{
			{Tool: ToolGetLendingYields, Args: map[string]any{"tokenSymbol": "USDT"}},
			{Tool: ToolLend},
		},
	}

	got := NormalizeDecision(raw, rc)
	args := got.ToolPlan[0].Args
	if args["tokenSymbol"] != "USDT" {
		t.Fatalf("explicit arg overridden: %v", args["tokenSymbol"])
	}
	if args["protocol"] != "aave-v3" {
		t.Fatalf("protocol not filled: %v", args["protocol"])
	}
	if args["limit"] != 5 {
		t.Fatalf("limit not filled as int: %v", args["limit"])
	}
	if len(got.ToolPlan[1].Args) != 0 {
		t.Fatalf("non-yield tool must stay untouched: %v", got.ToolPlan[1].Args)
	}
}

func TestPreferenceInjection(t *testing.T) {
	stable := true
	rc := RouterContext{
		Intent:    confidentIntent(),
		UserPrefs: &Preferences{Risk: "low", TimeHorizon: "long", StablecoinOnly: &stable},
	}
	raw := RouterDecision{
		Agent:    AgentLending,
		UI:       UICards,
		ToolPlan: []ToolCall{{Tool: ToolGetLendingYields, Args: map[string]any{"risk": "high"}}},
	}

	got := NormalizeDecision(raw, rc)
	args := got.ToolPlan[0].Args
	if args["risk"] != "high" {
		t.Fatalf("explicit risk overridden: %v", args["risk"])
	}
	if args["timeHorizon"] != "long" || args["stablecoinOnly"] != true {
		t.Fatalf("preferences not injected: %v", args)
	}
}

func TestFromLastYieldAnswersFromMemory(t *testing.T) {
	rc := RouterContext{
		Intent: &Intent{
			Goal:       GoalDecide,
			Domain:     AgentLending,
			Confidence: 0.9,
			References: &References{FromLastYield: true},
		},
		LastYield: &LastYield{Tool: "lending_get_lending_yields_action"},
	}
	raw := RouterDecision{
		Agent:    AgentNone,
		UI:       UICards,
		ToolPlan: []ToolCall{{Tool: ToolGetLendingYields}},
	}

	got := NormalizeDecision(raw, rc)
	if got.Agent != AgentLending {
		t.Fatalf("agent not inferred from the remembered tool: %q", got.Agent)
	}
	if got.UI != UIText || len(got.ToolPlan) != 0 {
		t.Fatalf("reference turns answer in text without re-running tools: %+v", got)
	}
	if got.Mode != ModeDecide {
		t.Fatalf("decide goal should set decide mode, got %q", got.Mode)
	}
}

func TestFromLastActionReplaysPlan(t *testing.T) {
	rc := RouterContext{
		Intent: &Intent{
			Goal:       GoalExecute,
			Domain:     AgentLending,
			Confidence: 0.9,
			References: &References{FromLastAction: true},
		},
		LastAction: &LastAction{
			Tool: "lending_lend_action",
			Args: map[string]any{"tokenSymbol": "USDC", "amount": 25.0},
		},
		Wallet: WalletState{HasWalletAddress: true},
	}

	got := NormalizeDecision(RouterDecision{Agent: AgentNone}, rc)
	if len(got.ToolPlan) != 1 || got.ToolPlan[0].Tool != "lending_lend_action" {
		t.Fatalf("last action not replayed: %+v", got.ToolPlan)
	}
	if got.Agent != AgentLending {
		t.Fatalf("agent not inferred from replayed tool: %q", got.Agent)
	}
	if got.Mode != ModeExecute {
		t.Fatalf("replayed execution must run in execute mode, got %q", got.Mode)
	}
}

func TestFinalizeLayout(t *testing.T) {
	rc := RouterContext{Intent: confidentIntent(), Wallet: WalletState{HasWalletAddress: true}}

	// Derived from the UI when the proposal brings none.
	derived := NormalizeDecision(RouterDecision{
		Agent:    AgentLending,
		UI:       UICardsThenText,
		ToolPlan: []ToolCall{{Tool: ToolGetLendingYields}},
	}, rc)
	want := []LayoutBlock{LayoutTool, LayoutText}
	if !reflect.DeepEqual(derived.Layout, want) {
		t.Fatalf("layout = %v, want %v", derived.Layout, want)
	}

	// Card and tool collapse to tool; priority order is fixed; duplicates
	// and unknown blocks drop.
	messy := NormalizeDecision(RouterDecision{
		Agent:    AgentLending,
		UI:       UICards,
		ToolPlan: []ToolCall{{Tool: ToolGetLendingYields}},
		Layout:   []LayoutBlock{"summary", "card", "banner", "tool", "text", "text"},
	}, rc)
	want = []LayoutBlock{LayoutTool, LayoutText, LayoutSummary}
	if !reflect.DeepEqual(messy.Layout, want) {
		t.Fatalf("layout = %v, want %v", messy.Layout, want)
	}

	// Tool-free plans cannot render tool or card blocks.
	textual := NormalizeDecision(RouterDecision{
		Agent:  AgentLending,
		UI:     UIText,
		Layout: []LayoutBlock{LayoutCard, LayoutTool},
	}, rc)
	if !reflect.DeepEqual(textual.Layout, []LayoutBlock{LayoutText}) {
		t.Fatalf("layout = %v, want [text]", textual.Layout)
	}
}

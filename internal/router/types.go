// Package router turns noisy language-model routing proposals into safe,
// canonical, executable plans. Proposals are treated as untrusted input:
// every safety invariant is enforced here, never assumed from the model.
package router

import "github.com/defipilot/defipilot/internal/model"

type Goal string

const (
	GoalExplore Goal = "explore"
	GoalDecide  Goal = "decide"
	GoalExecute Goal = "execute"
	GoalLearn   Goal = "learn"
)

type Agent string

const (
	AgentLending   Agent = "lending"
	AgentStaking   Agent = "staking"
	AgentTrading   Agent = "trading"
	AgentLiquidity Agent = "liquidity"
	AgentWallet    Agent = "wallet"
	AgentNone      Agent = "none"
)

type Mode string

const (
	ModeExplore Mode = "explore"
	ModeDecide  Mode = "decide"
	ModeExecute Mode = "execute"
)

type UI string

const (
	UICards         UI = "cards"
	UICardsThenText UI = "cards_then_text"
	UIText          UI = "text"
)

type StopCondition string

const (
	StopOnFirstYields StopCondition = "when_first_yields_result_received"
	StopAfterPlan     StopCondition = "after_tool_plan_complete"
	StopNone          StopCondition = "none"
)

type LayoutBlock string

const (
	LayoutCard    LayoutBlock = "card"
	LayoutTool    LayoutBlock = "tool"
	LayoutText    LayoutBlock = "text"
	LayoutSummary LayoutBlock = "summary"
)

// Constraints narrow a query. Pointer fields distinguish "unset" from an
// explicit zero so remembered preferences only ever fill gaps.
type Constraints struct {
	TokenSymbol    string   `json:"tokenSymbol,omitempty"`
	Protocol       string   `json:"protocol,omitempty"`
	StablecoinOnly *bool    `json:"stablecoinOnly,omitempty"`
	Amount         *float64 `json:"amount,omitempty"`
	// Limit is kept as float64 so out-of-schema proposals (fractional or
	// out-of-range values) survive decoding and can be coerced; after
	// normalization it is always a whole number in [1,50].
	Limit       *float64 `json:"limit,omitempty"`
	WalletOnly  *bool    `json:"walletOnly,omitempty"`
	Risk        string   `json:"risk,omitempty"`
	TimeHorizon string   `json:"timeHorizon,omitempty"`
}

type References struct {
	FromLastYield     bool `json:"fromLastYield,omitempty"`
	FromLastAction    bool `json:"fromLastAction,omitempty"`
	FromLastSelection bool `json:"fromLastSelection,omitempty"`
}

// Intent is the model's belief about what the user wants, after
// normalization. Constructed fresh per turn, never persisted.
type Intent struct {
	Goal               Goal         `json:"goal"`
	Domain             Agent        `json:"domain"`
	QueryType          string       `json:"queryType"`
	Constraints        *Constraints `json:"constraints,omitempty"`
	Assumptions        []string     `json:"assumptions,omitempty"`
	Confidence         float64      `json:"confidence"`
	NeedsClarification bool         `json:"needsClarification,omitempty"`
	ClarifyingQuestion string       `json:"clarifyingQuestion,omitempty"`
	References         *References  `json:"references,omitempty"`
}

type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// RouterDecision is the canonical, executable output of a turn.
type RouterDecision struct {
	Agent         Agent         `json:"agent"`
	Mode          Mode          `json:"mode"`
	UI            UI            `json:"ui"`
	ToolPlan      []ToolCall    `json:"toolPlan"`
	StopCondition StopCondition `json:"stopCondition"`
	Layout        []LayoutBlock `json:"layout,omitempty"`
}

type LastYield struct {
	Tool  string             `json:"tool"`
	Args  map[string]any     `json:"args,omitempty"`
	Pools []model.PoolSample `json:"pools,omitempty"`
}

type LastAction struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Status string         `json:"status,omitempty"`
}

type Selection struct {
	TokenSymbol string `json:"tokenSymbol,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	PoolID      string `json:"poolId,omitempty"`
}

type Preferences struct {
	Risk           string `json:"risk,omitempty"`
	StablecoinOnly *bool  `json:"stablecoinOnly,omitempty"`
	TimeHorizon    string `json:"timeHorizon,omitempty"`
}

type ProfileContext struct {
	WalletAddress string `json:"walletAddress,omitempty"`
	HasBalances   bool   `json:"hasBalances,omitempty"`
}

type WalletState struct {
	HasWalletAddress bool `json:"hasWalletAddress"`
}

// RouterContext is a read-only snapshot of conversation state, rebuilt on
// every turn by scanning message history.
type RouterContext struct {
	LastYield      *LastYield     `json:"lastYield,omitempty"`
	LastAction     *LastAction    `json:"lastAction,omitempty"`
	LastSelection  *Selection     `json:"lastSelection,omitempty"`
	UserPrefs      *Preferences   `json:"userPrefs,omitempty"`
	Profile        ProfileContext `json:"profileContext"`
	Wallet         WalletState    `json:"wallet"`
	Intent         *Intent        `json:"intent,omitempty"`
	LatestUserText string         `json:"-"`
}

// ToolInvocation is one embedded tool-call record inside a message. Yield
// queries carry their result pools so later turns can reference them.
type ToolInvocation struct {
	Tool   string             `json:"tool"`
	Args   map[string]any     `json:"args,omitempty"`
	Status string             `json:"status,omitempty"`
	Pools  []model.PoolSample `json:"pools,omitempty"`
}

type Message struct {
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Internal    bool             `json:"internal,omitempty"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
}

package router

import "strings"

// NormalizeDecision coerces a proposed decision into a canonical, safely
// executable plan. The rules form an ordered pipeline of pure transforms;
// the function is a fixed point of itself (normalizing twice changes
// nothing). The proposer is never trusted to enforce any of this.
func NormalizeDecision(raw RouterDecision, rc RouterContext) RouterDecision {
	d := sanitizeDecision(raw)

	for _, r := range decisionRules {
		if done := r.apply(&d, &rc); done {
			break
		}
	}

	finalizeLayout(&d)
	return d
}

type decisionRule struct {
	name string
	// apply mutates the working decision; returning true stops the
	// pipeline (layout finalization still runs).
	apply func(*RouterDecision, *RouterContext) bool
}

var decisionRules = []decisionRule{
	{name: "clarification short-circuit", apply: ruleClarification},
	{name: "resolve last-yield reference", apply: ruleFromLastYield},
	{name: "replay last action", apply: ruleFromLastAction},
	{name: "adopt last selection", apply: ruleFromLastSelection},
	{name: "inject intent constraints", apply: ruleInjectConstraints},
	{name: "inject remembered preferences", apply: ruleInjectPreferences},
	{name: "collapse empty agent", apply: ruleEmptyAgent},
	{name: "empty plan pass-through", apply: ruleEmptyPlan},
	{name: "coerce mode and ui from tools", apply: ruleToolCoercion},
	{name: "prepend wallet fetch", apply: ruleWalletPrepend},
}

// sanitizeDecision coerces enum fields to known values before any rule
// runs, so the rules only ever see canonical states.
func sanitizeDecision(raw RouterDecision) RouterDecision {
	d := raw
	d.Agent = normalizeAgent(raw.Agent)
	d.Mode = normalizeMode(raw.Mode)
	d.UI = normalizeUI(raw.UI)
	if d.ToolPlan == nil {
		d.ToolPlan = []ToolCall{}
	}
	d.StopCondition = normalizeStop(raw.StopCondition)
	return d
}

// Rule 1: a clarifying intent collapses the whole decision, regardless of
// what was proposed.
func ruleClarification(d *RouterDecision, rc *RouterContext) bool {
	if rc.Intent == nil || !rc.Intent.NeedsClarification {
		return false
	}
	*d = RouterDecision{
		Agent:         AgentNone,
		Mode:          ModeExplore,
		UI:            UIText,
		ToolPlan:      []ToolCall{},
		StopCondition: StopNone,
	}
	return true
}

// Rule 2: "tell me about those yields": answer from the remembered yield
// query in text, without re-running tools.
func ruleFromLastYield(d *RouterDecision, rc *RouterContext) bool {
	if rc.Intent == nil || rc.Intent.References == nil || !rc.Intent.References.FromLastYield {
		return false
	}
	if rc.LastYield == nil {
		return false
	}
	if agent := agentForTool(rc.LastYield.Tool); agent != AgentNone {
		d.Agent = agent
	}
	d.UI = UIText
	d.ToolPlan = []ToolCall{}
	if rc.Intent.Goal == GoalDecide {
		d.Mode = ModeDecide
	}
	return false
}

// Rule 3: "do that again": replay the last executed action when the
// proposal brought no plan of its own.
func ruleFromLastAction(d *RouterDecision, rc *RouterContext) bool {
	if rc.Intent == nil || rc.Intent.References == nil || !rc.Intent.References.FromLastAction {
		return false
	}
	if rc.LastAction == nil || len(d.ToolPlan) > 0 {
		return false
	}
	d.ToolPlan = []ToolCall{{Tool: rc.LastAction.Tool, Args: rc.LastAction.Args}}
	if d.Agent == AgentNone {
		if agent := agentForTool(rc.LastAction.Tool); agent != AgentNone {
			d.Agent = agent
		}
	}
	return false
}

// Rule 4: "what about that one": the remembered selection names the
// domain when the proposal did not.
func ruleFromLastSelection(d *RouterDecision, rc *RouterContext) bool {
	if rc.Intent == nil || rc.Intent.References == nil || !rc.Intent.References.FromLastSelection {
		return false
	}
	if rc.LastSelection == nil || len(d.ToolPlan) > 0 {
		return false
	}
	if d.Agent == AgentNone {
		d.Agent = rc.Intent.Domain
	}
	if rc.Intent.Goal == GoalDecide {
		d.Mode = ModeDecide
	}
	return false
}

// Rule 5: fill yield-tool arguments from intent constraints. Explicit args
// always win; this only fills gaps.
func ruleInjectConstraints(d *RouterDecision, rc *RouterContext) bool {
	if rc.Intent == nil || rc.Intent.Constraints == nil {
		return false
	}
	c := rc.Intent.Constraints
	for i := range d.ToolPlan {
		if !IsYieldTool(d.ToolPlan[i].Tool) {
			continue
		}
		args := ensureArgs(&d.ToolPlan[i])
		fillString(args, "tokenSymbol", c.TokenSymbol)
		fillString(args, "protocol", c.Protocol)
		if c.Limit != nil {
			fillAny(args, "limit", int(*c.Limit))
		}
	}
	return false
}

// Rule 6: same fill-only-if-absent treatment for remembered preferences.
func ruleInjectPreferences(d *RouterDecision, rc *RouterContext) bool {
	if rc.UserPrefs == nil {
		return false
	}
	p := rc.UserPrefs
	for i := range d.ToolPlan {
		if !IsYieldTool(d.ToolPlan[i].Tool) {
			continue
		}
		args := ensureArgs(&d.ToolPlan[i])
		if p.StablecoinOnly != nil {
			fillAny(args, "stablecoinOnly", *p.StablecoinOnly)
		}
		fillString(args, "timeHorizon", p.TimeHorizon)
		fillString(args, "risk", p.Risk)
	}
	return false
}

// Rule 7: no agent means nothing may execute.
func ruleEmptyAgent(d *RouterDecision, rc *RouterContext) bool {
	if d.Agent != AgentNone {
		return false
	}
	d.ToolPlan = []ToolCall{}
	d.StopCondition = StopNone
	return false
}

// Rule 8: nothing to run; no tool-derived rules apply.
func ruleEmptyPlan(d *RouterDecision, rc *RouterContext) bool {
	if len(d.ToolPlan) > 0 {
		return false
	}
	d.StopCondition = StopNone
	return true
}

// Rule 9: execution tools force execute mode; yield tools force card UI and
// pick the stop condition.
func ruleToolCoercion(d *RouterDecision, rc *RouterContext) bool {
	hasYield := false
	for _, call := range d.ToolPlan {
		if IsExecutionTool(call.Tool) {
			d.Mode = ModeExecute
		}
		if IsYieldTool(call.Tool) {
			hasYield = true
		}
	}
	if hasYield {
		if d.UI == UIText {
			d.UI = UICards
		}
		if d.UI == UICards {
			d.StopCondition = StopOnFirstYields
		} else {
			d.StopCondition = StopAfterPlan
		}
	}
	return false
}

// Rule 10: execute-mode plans never run without a wallet address; fetch it
// first unless the plan already does.
func ruleWalletPrepend(d *RouterDecision, rc *RouterContext) bool {
	if d.Mode != ModeExecute || rc.Wallet.HasWalletAddress {
		return false
	}
	if len(d.ToolPlan) > 0 && IsWalletAddressTool(d.ToolPlan[0].Tool) {
		return false
	}
	d.ToolPlan = append([]ToolCall{{Tool: ToolGetWalletAddress}}, d.ToolPlan...)
	return false
}

// finalizeLayout derives the layout from the UI when absent, then dedupes,
// drops tool/card blocks for tool-free plans, collapses card+tool, and
// sorts into the fixed display priority.
func finalizeLayout(d *RouterDecision) {
	layout := d.Layout
	if len(layout) == 0 {
		switch d.UI {
		case UICards:
			layout = []LayoutBlock{LayoutTool}
		case UICardsThenText:
			layout = []LayoutBlock{LayoutTool, LayoutText}
		default:
			layout = []LayoutBlock{LayoutText}
		}
	}

	hasTools := len(d.ToolPlan) > 0
	seen := map[LayoutBlock]bool{}
	kept := make([]LayoutBlock, 0, len(layout))
	for _, block := range layout {
		block = LayoutBlock(strings.ToLower(strings.TrimSpace(string(block))))
		switch block {
		case LayoutCard, LayoutTool, LayoutText, LayoutSummary:
		default:
			continue
		}
		if (block == LayoutCard || block == LayoutTool) && !hasTools {
			continue
		}
		if seen[block] {
			continue
		}
		seen[block] = true
		kept = append(kept, block)
	}

	// Card and tool render in the same slot; tool wins when both appear.
	if seen[LayoutCard] && seen[LayoutTool] {
		filtered := kept[:0]
		for _, block := range kept {
			if block != LayoutCard {
				filtered = append(filtered, block)
			}
		}
		kept = filtered
	}

	ordered := make([]LayoutBlock, 0, len(kept))
	for _, want := range []LayoutBlock{LayoutCard, LayoutTool, LayoutText, LayoutSummary} {
		for _, block := range kept {
			if block == want {
				ordered = append(ordered, block)
			}
		}
	}
	if len(ordered) == 0 {
		ordered = []LayoutBlock{LayoutText}
	}
	d.Layout = ordered
}

func ensureArgs(call *ToolCall) map[string]any {
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return call.Args
}

func fillString(args map[string]any, key, value string) {
	if value == "" {
		return
	}
	if existing, ok := args[key]; ok {
		if s, isStr := existing.(string); !isStr || strings.TrimSpace(s) != "" {
			return
		}
	}
	args[key] = value
}

func fillAny(args map[string]any, key string, value any) {
	if _, ok := args[key]; ok {
		return
	}
	args[key] = value
}

func normalizeMode(m Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(string(m)))) {
	case ModeDecide:
		return ModeDecide
	case ModeExecute:
		return ModeExecute
	default:
		return ModeExplore
	}
}

func normalizeUI(u UI) UI {
	switch UI(strings.ToLower(strings.TrimSpace(string(u)))) {
	case UICards:
		return UICards
	case UICardsThenText:
		return UICardsThenText
	default:
		return UIText
	}
}

func normalizeStop(s StopCondition) StopCondition {
	switch StopCondition(strings.ToLower(strings.TrimSpace(string(s)))) {
	case StopOnFirstYields:
		return StopOnFirstYields
	case StopAfterPlan:
		return StopAfterPlan
	default:
		return StopNone
	}
}

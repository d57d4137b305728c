package router

import (
	"math"
	"strings"
)

// DefaultClarifyingQuestion is used whenever clarification is required but
// the proposal did not supply a question of its own.
const DefaultClarifyingQuestion = "Could you tell me a bit more about what you'd like to do?"

// Confidence below this threshold always routes to a clarifying question
// instead of a guessed action.
const clarifyThreshold = 0.45

const (
	minLimit = 1
	maxLimit = 50
)

// NormalizeIntent coerces a proposed intent into canonical, schema-valid
// form. Pure: the input is never mutated.
func NormalizeIntent(raw Intent) Intent {
	out := raw

	out.Goal = normalizeGoal(raw.Goal)
	out.Domain = normalizeAgent(raw.Domain)
	out.QueryType = strings.TrimSpace(raw.QueryType)
	if out.QueryType == "" {
		out.QueryType = "unknown"
	}

	out.Confidence = clampConfidence(raw.Confidence)

	if raw.Constraints != nil {
		c := *raw.Constraints
		c.TokenSymbol = strings.ToUpper(strings.TrimSpace(c.TokenSymbol))
		c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
		if c.Limit != nil {
			limit := clampLimit(*c.Limit)
			c.Limit = &limit
		}
		c.Risk = normalizeEnum(c.Risk, "low", "medium", "high")
		c.TimeHorizon = normalizeEnum(c.TimeHorizon, "short", "medium", "long")
		out.Constraints = &c
	}

	if len(raw.Assumptions) > 0 {
		kept := make([]string, 0, len(raw.Assumptions))
		for _, a := range raw.Assumptions {
			if strings.TrimSpace(a) != "" {
				kept = append(kept, a)
			}
		}
		out.Assumptions = kept
	}

	out.NeedsClarification = raw.NeedsClarification || out.Confidence < clarifyThreshold
	if out.NeedsClarification {
		if strings.TrimSpace(raw.ClarifyingQuestion) == "" {
			out.ClarifyingQuestion = DefaultClarifyingQuestion
		}
	} else {
		out.ClarifyingQuestion = ""
	}

	return out
}

// MergePreferences folds remembered user preferences into the intent's
// constraints wherever the proposal left the field unset. Remembered values
// never override an explicit constraint.
func MergePreferences(intent Intent, prefs *Preferences) Intent {
	if prefs == nil {
		return intent
	}
	c := Constraints{}
	if intent.Constraints != nil {
		c = *intent.Constraints
	}
	if c.Risk == "" && prefs.Risk != "" {
		c.Risk = normalizeEnum(prefs.Risk, "low", "medium", "high")
	}
	if c.TimeHorizon == "" && prefs.TimeHorizon != "" {
		c.TimeHorizon = normalizeEnum(prefs.TimeHorizon, "short", "medium", "long")
	}
	if c.StablecoinOnly == nil && prefs.StablecoinOnly != nil {
		v := *prefs.StablecoinOnly
		c.StablecoinOnly = &v
	}
	intent.Constraints = &c
	return intent
}

// FallbackIntent is substituted when the model call fails or the user text
// is empty.
func FallbackIntent() Intent {
	return Intent{
		Goal:               GoalExplore,
		Domain:             AgentNone,
		QueryType:          "unknown",
		Confidence:         0.2,
		NeedsClarification: true,
		ClarifyingQuestion: DefaultClarifyingQuestion,
	}
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampLimit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return minLimit
	}
	if v < minLimit {
		return minLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return math.Round(v)
}

func normalizeGoal(g Goal) Goal {
	switch Goal(strings.ToLower(strings.TrimSpace(string(g)))) {
	case GoalDecide:
		return GoalDecide
	case GoalExecute:
		return GoalExecute
	case GoalLearn:
		return GoalLearn
	default:
		return GoalExplore
	}
}

func normalizeAgent(a Agent) Agent {
	switch Agent(strings.ToLower(strings.TrimSpace(string(a)))) {
	case AgentLending:
		return AgentLending
	case AgentStaking:
		return AgentStaking
	case AgentTrading:
		return AgentTrading
	case AgentLiquidity:
		return AgentLiquidity
	case AgentWallet:
		return AgentWallet
	default:
		return AgentNone
	}
}

func normalizeEnum(v string, allowed ...string) string {
	norm := strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if norm == a {
			return a
		}
	}
	return ""
}

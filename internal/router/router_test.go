package router

import (
	"context"
	"errors"
	"testing"
)

type stubProposer struct {
	intent      Intent
	intentErr   error
	decision    RouterDecision
	decisionErr error
}

func (s *stubProposer) ProposeIntent(ctx context.Context, userText string, rc RouterContext) (Intent, error) {
	return s.intent, s.intentErr
}

func (s *stubProposer) ProposeDecision(ctx context.Context, userText string, intent Intent, rc RouterContext) (RouterDecision, error) {
	return s.decision, s.decisionErr
}

func TestRouteTurnHappyPath(t *testing.T) {
	proposer := &stubProposer{
		intent: Intent{
			Goal:       "explore",
			Domain:     "lending",
			QueryType:  "yield_search",
			Confidence: 0.9,
		},
		decision: RouterDecision{
			Agent:    "lending",
			UI:       "cards",
			ToolPlan: []ToolCall{{Tool: "lending_get_lending_yields_action"}},
		},
	}

	result := New(proposer).RouteTurn(context.Background(), []Message{
		{Role: "user", Content: "best stablecoin yields?"},
	}, ContextOptions{})

	if result.RequestID == "" {
		t.Fatal("request id missing")
	}
	if result.Intent.Domain != AgentLending || result.Intent.NeedsClarification {
		t.Fatalf("unexpected intent: %+v", result.Intent)
	}
	if result.Decision.Agent != AgentLending || result.Decision.UI != UICards {
		t.Fatalf("unexpected decision: %+v", result.Decision)
	}
	if result.Decision.StopCondition != StopOnFirstYields {
		t.Fatalf("stopCondition = %q", result.Decision.StopCondition)
	}
}

func TestRouteTurnIntentErrorFallsBack(t *testing.T) {
	proposer := &stubProposer{
		intentErr: errors.New("model down"),
		decision:  RouterDecision{Agent: "lending", ToolPlan: []ToolCall{{Tool: "lend"}}},
	}

	result := New(proposer).RouteTurn(context.Background(), []Message{
		{Role: "user", Content: "lend it all"},
	}, ContextOptions{})

	if !result.Intent.NeedsClarification {
		t.Fatalf("fallback intent must clarify: %+v", result.Intent)
	}
	// The clarifying fallback collapses whatever the decision proposed.
	if result.Decision.Agent != AgentNone || len(result.Decision.ToolPlan) != 0 {
		t.Fatalf("clarification must suppress execution: %+v", result.Decision)
	}
}

func TestRouteTurnDecisionErrorFallsBack(t *testing.T) {
	proposer := &stubProposer{
		intent:      Intent{Goal: "explore", Domain: "lending", Confidence: 0.9},
		decisionErr: errors.New("model down"),
	}

	result := New(proposer).RouteTurn(context.Background(), []Message{
		{Role: "user", Content: "show yields"},
	}, ContextOptions{})

	if result.Decision.Agent != AgentNone || result.Decision.Mode != ModeExplore || result.Decision.UI != UIText {
		t.Fatalf("fallback decision expected: %+v", result.Decision)
	}
}

func TestRouteTurnNilProposer(t *testing.T) {
	result := New(nil).RouteTurn(context.Background(), []Message{
		{Role: "user", Content: "anything"},
	}, ContextOptions{})

	if !result.Intent.NeedsClarification {
		t.Fatalf("nil proposer must fall back: %+v", result.Intent)
	}
	if len(result.Decision.ToolPlan) != 0 {
		t.Fatalf("nil proposer must not plan tools: %+v", result.Decision.ToolPlan)
	}
}

func TestRouteTurnEmptyUserTextFallsBack(t *testing.T) {
	proposer := &stubProposer{
		intent: Intent{Goal: "execute", Domain: "lending", Confidence: 0.99},
	}

	result := New(proposer).RouteTurn(context.Background(), []Message{
		{Role: "assistant", Content: "hello"},
	}, ContextOptions{})

	if !result.Intent.NeedsClarification || result.Intent.Goal != GoalExplore {
		t.Fatalf("empty user text must fall back: %+v", result.Intent)
	}
}

func TestRouteTurnMergesRememberedPreferences(t *testing.T) {
	proposer := &stubProposer{
		intent: Intent{Goal: "explore", Domain: "lending", Confidence: 0.9},
		decision: RouterDecision{
			Agent:    "lending",
			UI:       "cards",
			ToolPlan: []ToolCall{{Tool: "get_lending_yields"}},
		},
	}

	result := New(proposer).RouteTurn(context.Background(), []Message{
		{Role: "user", Content: "yields please"},
	}, ContextOptions{
		UserPrefs: &Preferences{Risk: "low"},
	})

	if result.Intent.Constraints == nil || result.Intent.Constraints.Risk != "low" {
		t.Fatalf("remembered risk not merged: %+v", result.Intent.Constraints)
	}
	if args := result.Decision.ToolPlan[0].Args; args["risk"] != "low" {
		t.Fatalf("remembered risk not injected into the plan: %v", args)
	}
}

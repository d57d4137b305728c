package router

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/defipilot/defipilot/internal/logging"
)

// Proposer is the language-model boundary. Implementations return a
// structured proposal or an error; the output is never used without
// normalization.
type Proposer interface {
	ProposeIntent(ctx context.Context, userText string, rc RouterContext) (Intent, error)
	ProposeDecision(ctx context.Context, userText string, intent Intent, rc RouterContext) (RouterDecision, error)
}

// Router drives one conversational turn: context building, intent
// proposal, decision proposal, and the normalization of both.
type Router struct {
	proposer Proposer
	log      *zap.SugaredLogger
}

type Option func(*Router)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

func New(proposer Proposer, opts ...Option) *Router {
	r := &Router{
		proposer: proposer,
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TurnResult is everything a caller needs to act on one turn.
type TurnResult struct {
	RequestID string         `json:"request_id"`
	Context   RouterContext  `json:"context"`
	Intent    Intent         `json:"intent"`
	Decision  RouterDecision `json:"decision"`
}

// RouteTurn never fails: any upstream error degrades to the fixed fallback
// intent or decision, so callers always receive an executable plan.
func (r *Router) RouteTurn(ctx context.Context, messages []Message, opts ContextOptions) TurnResult {
	requestID := uuid.NewString()
	rc := BuildContext(messages, opts)

	intent := r.proposeIntent(ctx, requestID, rc)
	intent = NormalizeIntent(intent)
	intent = MergePreferences(intent, rc.UserPrefs)
	rc.Intent = &intent

	decision := r.proposeDecision(ctx, requestID, rc, intent)
	decision = NormalizeDecision(decision, rc)

	return TurnResult{
		RequestID: requestID,
		Context:   rc,
		Intent:    intent,
		Decision:  decision,
	}
}

func (r *Router) proposeIntent(ctx context.Context, requestID string, rc RouterContext) Intent {
	if r.proposer == nil || strings.TrimSpace(rc.LatestUserText) == "" {
		return FallbackIntent()
	}
	intent, err := r.proposer.ProposeIntent(ctx, rc.LatestUserText, rc)
	if err != nil {
		r.log.Warnw("intent proposal failed, using fallback", "request_id", requestID, "error", err)
		return FallbackIntent()
	}
	return intent
}

// FallbackDecision is substituted when the decision proposal fails.
func FallbackDecision() RouterDecision {
	return RouterDecision{
		Agent:         AgentNone,
		Mode:          ModeExplore,
		UI:            UIText,
		ToolPlan:      []ToolCall{},
		StopCondition: StopNone,
	}
}

func (r *Router) proposeDecision(ctx context.Context, requestID string, rc RouterContext, intent Intent) RouterDecision {
	if r.proposer == nil {
		return FallbackDecision()
	}
	decision, err := r.proposer.ProposeDecision(ctx, rc.LatestUserText, intent, rc)
	if err != nil {
		r.log.Warnw("decision proposal failed, using fallback", "request_id", requestID, "error", err)
		return FallbackDecision()
	}
	return decision
}

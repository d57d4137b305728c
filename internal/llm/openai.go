// Package llm adapts a chat-completion model into the router's Proposer
// boundary. The model's output is decoded but never validated here; the
// router's normalizers own every safety guarantee.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	pilerr "github.com/defipilot/defipilot/internal/errors"
	"github.com/defipilot/defipilot/internal/router"
)

const defaultModel = openai.GPT4oMini

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Client struct {
	api   *openai.Client
	model string
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pilerr.New(pilerr.CodeAuth, "model API key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Client{api: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

const intentSystemPrompt = `You classify a user's DeFi chat message into a JSON intent object with
fields: goal (explore|decide|execute|learn), domain
(lending|staking|trading|liquidity|wallet|none), queryType (short label),
constraints (optional: tokenSymbol, protocol, stablecoinOnly, amount,
limit, walletOnly, risk, timeHorizon), assumptions (string list),
confidence (0..1), needsClarification (bool), clarifyingQuestion
(string), references (optional: fromLastYield, fromLastAction,
fromLastSelection booleans). Respond with the JSON object only.`

const decisionSystemPrompt = `You plan the next step for a DeFi assistant as a JSON decision object
with fields: agent (lending|staking|trading|liquidity|wallet|none), mode
(explore|decide|execute), ui (cards|cards_then_text|text), toolPlan
(list of {tool, args}), stopCondition
(when_first_yields_result_received|after_tool_plan_complete|none),
layout (optional ordered list of card|tool|text|summary). Respond with
the JSON object only.`

func (c *Client) ProposeIntent(ctx context.Context, userText string, rc router.RouterContext) (router.Intent, error) {
	payload, err := buildPayload(userText, rc, nil)
	if err != nil {
		return router.Intent{}, err
	}
	content, err := c.complete(ctx, intentSystemPrompt, payload)
	if err != nil {
		return router.Intent{}, err
	}
	var intent router.Intent
	if err := json.Unmarshal([]byte(content), &intent); err != nil {
		return router.Intent{}, pilerr.Wrap(pilerr.CodeProposal, "decode intent proposal", err)
	}
	return intent, nil
}

func (c *Client) ProposeDecision(ctx context.Context, userText string, intent router.Intent, rc router.RouterContext) (router.RouterDecision, error) {
	payload, err := buildPayload(userText, rc, &intent)
	if err != nil {
		return router.RouterDecision{}, err
	}
	content, err := c.complete(ctx, decisionSystemPrompt, payload)
	if err != nil {
		return router.RouterDecision{}, err
	}
	var decision router.RouterDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return router.RouterDecision{}, pilerr.Wrap(pilerr.CodeProposal, "decode decision proposal", err)
	}
	return decision, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", pilerr.Wrap(pilerr.CodeUnavailable, "model call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", pilerr.New(pilerr.CodeUnavailable, "model returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", pilerr.New(pilerr.CodeUnavailable, "model returned empty content")
	}
	return content, nil
}

// buildPayload serializes the user text, conversation context, and (for
// decisions) the normalized intent into the model's user message.
func buildPayload(userText string, rc router.RouterContext, intent *router.Intent) (string, error) {
	body := map[string]any{
		"message": userText,
		"context": rc,
	}
	if intent != nil {
		body["intent"] = intent
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", pilerr.Wrap(pilerr.CodeInternal, "encode model payload", err)
	}
	return string(encoded), nil
}

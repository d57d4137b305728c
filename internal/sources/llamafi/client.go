// Package llamafi fetches pools from the aggregated yield index
// (DefiLlama-compatible /pools API). It is the descriptive source: rich
// metadata and forecast bands, but possibly minutes stale.
package llamafi

import (
	"context"
	"strings"

	pilerr "github.com/defipilot/defipilot/internal/errors"
	"github.com/defipilot/defipilot/internal/httpx"
	"github.com/defipilot/defipilot/internal/model"
	"github.com/defipilot/defipilot/internal/registry"
)

type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.LlamaYieldsBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) Info() model.SourceInfo {
	return model.SourceInfo{
		Name:        "llamafi",
		Type:        "aggregated-index",
		RequiresKey: false,
		Capabilities: []string{
			"yield.pools",
			"yield.predictions",
			"token.metadata",
		},
	}
}

type poolsEnvelope struct {
	Status string      `json:"status"`
	Data   []poolEntry `json:"data"`
}

type poolEntry struct {
	Pool        string           `json:"pool"`
	Chain       string           `json:"chain"`
	Project     string           `json:"project"`
	Symbol      string           `json:"symbol"`
	Underlying  []string         `json:"underlyingTokens"`
	Reward      []string         `json:"rewardTokens"`
	APY         *float64         `json:"apy"`
	APYBase     *float64         `json:"apyBase"`
	APYReward   *float64         `json:"apyReward"`
	TVLUSD      *float64         `json:"tvlUsd"`
	Predictions *poolPredictions `json:"predictions"`
	TokenData   *poolTokenData   `json:"tokenData"`
}

type poolPredictions struct {
	PredictedClass       string  `json:"predictedClass"`
	PredictedProbability float64 `json:"predictedProbability"`
	BinnedConfidence     int     `json:"binnedConfidence"`
}

type poolTokenData struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

// Fetch returns every pool the index reports. The first underlying token is
// the pool's join key; entries without one still pass through and are
// dropped later with a warning.
func (c *Client) Fetch(ctx context.Context) ([]model.YieldPool, error) {
	var resp poolsEnvelope
	if err := c.http.GetJSON(ctx, c.baseURL+"/pools", &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "success") {
		return nil, pilerr.New(pilerr.CodeUnavailable, "yield index reported status "+resp.Status)
	}

	out := make([]model.YieldPool, 0, len(resp.Data))
	for _, entry := range resp.Data {
		out = append(out, toPool(entry))
	}
	return out, nil
}

func toPool(entry poolEntry) model.YieldPool {
	pool := model.YieldPool{
		Symbol:           strings.TrimSpace(entry.Symbol),
		Project:          strings.ToLower(strings.TrimSpace(entry.Project)),
		APYBase:          deref(entry.APYBase),
		APYReward:        deref(entry.APYReward),
		TVLUSD:           deref(entry.TVLUSD),
		RewardTokens:     entry.Reward,
		UnderlyingTokens: entry.Underlying,
	}
	pool.Yield = deref(entry.APY)
	if pool.Yield == 0 {
		pool.Yield = pool.APYBase + pool.APYReward
	}
	if len(entry.Underlying) > 0 {
		pool.TokenMint = strings.TrimSpace(entry.Underlying[0])
	}
	if entry.Predictions != nil {
		pool.Predictions = &model.Predictions{
			PredictedClass:       entry.Predictions.PredictedClass,
			PredictedProbability: entry.Predictions.PredictedProbability,
			BinnedConfidence:     entry.Predictions.BinnedConfidence,
		}
	}
	if entry.TokenData != nil {
		pool.TokenData = &model.TokenData{
			Symbol:   entry.TokenData.Symbol,
			Name:     entry.TokenData.Name,
			Decimals: entry.TokenData.Decimals,
			LogoURI:  entry.TokenData.LogoURI,
		}
	}
	return pool
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Package vault fetches reserve metrics from the vault protocol's HTTP API
// (Kamino-compatible). Vault pools are additive in aggregation: they never
// override the index or on-chain sources.
package vault

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	pilerr "github.com/defipilot/defipilot/internal/errors"
	"github.com/defipilot/defipilot/internal/httpx"
	"github.com/defipilot/defipilot/internal/model"
	"github.com/defipilot/defipilot/internal/registry"
)

const marketFetchWorkers = 4

type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.VaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) Info() model.SourceInfo {
	return model.SourceInfo{
		Name:        "vault",
		Type:        "vault-api",
		RequiresKey: false,
		Capabilities: []string{
			"yield.reserves",
		},
	}
}

type marketInfo struct {
	LendingMarket string `json:"lendingMarket"`
	Name          string `json:"name"`
	IsPrimary     bool   `json:"isPrimary"`
}

type reserveMetric struct {
	Reserve            string `json:"reserve"`
	LiquidityToken     string `json:"liquidityToken"`
	LiquidityTokenMint string `json:"liquidityTokenMint"`
	SupplyAPY          string `json:"supplyApy"`
	TotalSupplyUSD     string `json:"totalSupplyUsd"`
}

// Fetch lists every reserve across the vault's lending markets. Reserves
// without a mint or with zero supply are dropped here; everything else is
// left to the aggregator's filters.
func (c *Client) Fetch(ctx context.Context) ([]model.YieldPool, error) {
	markets, err := c.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	type marketResult struct {
		reserves []reserveMetric
		err      error
	}
	results := make([]marketResult, len(markets))

	workers := marketFetchWorkers
	if workers > len(markets) {
		workers = len(markets)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, market := range markets {
		wg.Add(1)
		go func(index int, market marketInfo) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[index] = marketResult{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			reserves, err := c.fetchMarketReserves(ctx, market.LendingMarket)
			results[index] = marketResult{reserves: reserves, err: err}
		}(i, market)
	}
	wg.Wait()

	out := make([]model.YieldPool, 0, len(markets)*8)
	var firstErr error
	for _, result := range results {
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
			}
			continue
		}
		for _, reserve := range result.reserves {
			mint := strings.TrimSpace(reserve.LiquidityTokenMint)
			tvl := parseNonNegative(reserve.TotalSupplyUSD)
			if mint == "" || tvl <= 0 {
				continue
			}
			apy := ratioToPercent(reserve.SupplyAPY)
			out = append(out, model.YieldPool{
				Symbol:           strings.ToUpper(strings.TrimSpace(reserve.LiquidityToken)),
				Project:          registry.SentinelProject,
				Yield:            apy,
				APYBase:          apy,
				TVLUSD:           tvl,
				UnderlyingTokens: []string{mint},
				TokenMint:        mint,
			})
		}
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (c *Client) fetchMarkets(ctx context.Context) ([]marketInfo, error) {
	var markets []marketInfo
	if err := c.http.GetJSON(ctx, c.baseURL+"/v2/kamino-market", &markets); err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, pilerr.New(pilerr.CodeUnavailable, "vault returned no lending markets")
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].IsPrimary != markets[j].IsPrimary {
			return markets[i].IsPrimary
		}
		return markets[i].LendingMarket < markets[j].LendingMarket
	})
	return markets, nil
}

func (c *Client) fetchMarketReserves(ctx context.Context, market string) ([]reserveMetric, error) {
	url := fmt.Sprintf("%s/kamino-market/%s/reserves/metrics?env=mainnet-beta", c.baseURL, market)
	var reserves []reserveMetric
	if err := c.http.GetJSON(ctx, url, &reserves); err != nil {
		return nil, err
	}
	return reserves, nil
}

func ratioToPercent(v string) float64 {
	return parseNonNegative(v) * 100
}

func parseNonNegative(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Command   string         `json:"command"`
	Sources   []SourceStatus `json:"sources,omitempty"`
	Cache     CacheStatus    `json:"cache"`
	Partial   bool           `json:"partial"`
}

type SourceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type SourceInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	RequiresKey  bool     `json:"requires_key"`
	Capabilities []string `json:"capabilities"`
}

// YieldPool is one lending or staking opportunity after aggregation. The
// token's canonical on-chain address (ERC-20 contract on EVM chains, SPL
// mint on Solana-style sources) is the cross-source join key.
type YieldPool struct {
	Symbol           string       `json:"symbol"`
	Project          string       `json:"project"`
	Yield            float64      `json:"yield"`
	APYBase          float64      `json:"apyBase"`
	APYReward        float64      `json:"apyReward"`
	TVLUSD           float64      `json:"tvlUsd"`
	RewardTokens     []string     `json:"rewardTokens,omitempty"`
	UnderlyingTokens []string     `json:"underlyingTokens,omitempty"`
	TokenMint        string       `json:"tokenMintAddress"`
	Predictions      *Predictions `json:"predictions,omitempty"`
	TokenData        *TokenData   `json:"tokenData,omitempty"`
}

// Predictions carries the aggregated index's forecast band for a pool.
type Predictions struct {
	PredictedClass       string  `json:"predictedClass,omitempty"`
	PredictedProbability float64 `json:"predictedProbability,omitempty"`
	BinnedConfidence     int     `json:"binnedConfidence,omitempty"`
}

type TokenData struct {
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals,omitempty"`
	LogoURI  string `json:"logoURI,omitempty"`
}

// YieldResult distinguishes "nothing available" from an empty in-progress
// response: NoneFound is set with a message when every source returned zero
// qualifying pools.
type YieldResult struct {
	Pools     []YieldPool `json:"pools,omitempty"`
	NoneFound bool        `json:"noneFound,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// PoolSample is the trimmed pool view embedded in conversation context
// (at most a handful per remembered yield query).
type PoolSample struct {
	Symbol    string  `json:"symbol"`
	Project   string  `json:"project"`
	Yield     float64 `json:"yield"`
	TVLUSD    float64 `json:"tvlUsd"`
	TokenMint string  `json:"tokenMintAddress,omitempty"`
}

package yield

import (
	"context"
	"errors"
	"testing"

	"github.com/defipilot/defipilot/internal/model"
)

type stubAdapter struct {
	name  string
	pools []model.YieldPool
	err   error
}

func (s *stubAdapter) Info() model.SourceInfo {
	return model.SourceInfo{Name: s.name, Type: "stub"}
}

func (s *stubAdapter) Fetch(ctx context.Context) ([]model.YieldPool, error) {
	return s.pools, s.err
}

func lendingPool(symbol, project, mint string, apy, tvl float64) model.YieldPool {
	return model.YieldPool{
		Symbol:           symbol,
		Project:          project,
		Yield:            apy,
		APYBase:          apy,
		TVLUSD:           tvl,
		UnderlyingTokens: []string{mint},
		TokenMint:        mint,
	}
}

func TestMergeOnchainOverlay(t *testing.T) {
	agg := New(nil, nil, nil)

	index := []model.YieldPool{
		{
			Symbol:           "USDC",
			Project:          "aave-v3",
			Yield:            5.0,
			APYBase:          4.5,
			TVLUSD:           1_000_000,
			UnderlyingTokens: []string{"M1"},
			TokenMint:        "M1",
			Predictions:      &model.Predictions{PredictedClass: "Stable/Up", PredictedProbability: 70},
		},
	}
	onchain := []model.YieldPool{
		lendingPool("USDC", "aave-v3", "M1", 6.0, 1_200_000),
	}

	merged := agg.Merge(index, onchain, nil)
	if len(merged) != 1 {
		t.Fatalf("got %d pools, want 1", len(merged))
	}
	got := merged[0]
	if got.Yield != 6.0 {
		t.Fatalf("higher on-chain APY should win, got %v", got.Yield)
	}
	if got.TVLUSD != 1_200_000 {
		t.Fatalf("on-chain TVL should always win, got %v", got.TVLUSD)
	}
	if got.Predictions == nil || got.Predictions.PredictedClass != "Stable/Up" {
		t.Fatalf("index metadata should survive the overlay: %+v", got.Predictions)
	}
}

func TestMergeJoinsMixedCaseAddresses(t *testing.T) {
	agg := New(nil, nil, nil)

	// The index reports EVM addresses lowercase; the on-chain reader emits
	// them checksummed. Both spellings are the same reserve.
	lower := "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
	checksummed := "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

	index := []model.YieldPool{lendingPool("USDC", "aave-v3", lower, 5.0, 1_000_000)}
	onchain := []model.YieldPool{lendingPool("USDC", "aave-v3", checksummed, 6.0, 1_200_000)}

	merged := agg.Merge(index, onchain, nil)
	if len(merged) != 1 {
		t.Fatalf("casing must not split the join: got %d pools", len(merged))
	}
	if merged[0].Yield != 6.0 || merged[0].TVLUSD != 1_200_000 {
		t.Fatalf("overlay not applied across casings: %+v", merged[0])
	}

	// Base58 mints are case-sensitive; differing case means different mints.
	solA := lendingPool("USDC", "kamino", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 4.0, 1)
	solB := lendingPool("USDC", "kamino", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDT1V", 3.0, 1)
	merged = agg.Merge([]model.YieldPool{solA}, nil, []model.YieldPool{solB})
	if len(merged) != 2 {
		t.Fatalf("base58 mints must stay distinct: %+v", merged)
	}
}

func TestMergeOnchainLowerAPYKeepsIndexRate(t *testing.T) {
	agg := New(nil, nil, nil)
	index := []model.YieldPool{lendingPool("USDC", "aave-v3", "M1", 5.0, 1_000_000)}
	onchain := []model.YieldPool{lendingPool("USDC", "aave-v3", "M1", 4.0, 900_000)}

	merged := agg.Merge(index, onchain, nil)
	if merged[0].Yield != 5.0 {
		t.Fatalf("lower on-chain APY must not replace index APY, got %v", merged[0].Yield)
	}
	if merged[0].TVLUSD != 900_000 {
		t.Fatalf("TVL should still come from on-chain, got %v", merged[0].TVLUSD)
	}
}

func TestMergeVaultIsAdditiveOnly(t *testing.T) {
	agg := New(nil, nil, nil)
	index := []model.YieldPool{lendingPool("USDC", "kamino-lend", "M1", 5.0, 1_000_000)}
	vault := []model.YieldPool{
		lendingPool("USDC", "kamino", "M1", 9.0, 2_000_000),
		lendingPool("USDT", "kamino", "M2", 4.0, 500_000),
	}

	merged := agg.Merge(index, nil, vault)
	if len(merged) != 2 {
		t.Fatalf("got %d pools, want 2", len(merged))
	}
	if merged[0].Yield != 5.0 || merged[0].Project != "kamino-lend" {
		t.Fatalf("vault must not override an existing mint: %+v", merged[0])
	}
	if merged[1].TokenMint != "M2" {
		t.Fatalf("vault-only mint missing: %+v", merged[1])
	}
}

func TestMergeDropsMissingMint(t *testing.T) {
	agg := New(nil, nil, nil)
	index := []model.YieldPool{
		{Symbol: "USDC", Project: "aave-v3", Yield: 5.0},
		lendingPool("USDT", "aave-v3", "M2", 4.0, 100_000),
	}
	merged := agg.Merge(index, nil, nil)
	if len(merged) != 1 || merged[0].TokenMint != "M2" {
		t.Fatalf("mintless record should be dropped: %+v", merged)
	}
}

func TestCenterHighestOrdering(t *testing.T) {
	pools := []model.YieldPool{
		lendingPool("A", "aave-v3", "M1", 20, 1),
		lendingPool("B", "aave-v3", "M2", 15, 1),
		lendingPool("C", "aave-v3", "M3", 10, 1),
	}
	got := CenterHighest(pools)
	want := []float64{15, 20, 10}
	for i, y := range want {
		if got[i].Yield != y {
			t.Fatalf("slot %d has yield %v, want %v", i, got[i].Yield, y)
		}
	}

	two := pools[:2]
	if out := CenterHighest(two); len(out) != 2 || out[0].Yield != 20 {
		t.Fatalf("short lists must pass through: %+v", out)
	}
}

func TestAggregateEndToEnd(t *testing.T) {
	index := &stubAdapter{name: "llamafi", pools: []model.YieldPool{
		lendingPool("USDC", "aave-v3", "M1", 5.0, 1_000_000),
		lendingPool("USDT", "drift", "M2", 7.0, 800_000),
		lendingPool("USDS", "marginfi", "M3", 4.0, 600_000),
		lendingPool("PYUSD", "solend", "M4", 3.0, 300_000),
	}}
	onchain := &stubAdapter{name: "onchain", pools: []model.YieldPool{
		lendingPool("USDC", "aave-v3", "M1", 6.0, 1_200_000),
	}}
	vault := &stubAdapter{name: "vault", pools: []model.YieldPool{
		lendingPool("USDG", "kamino", "M5", 2.0, 400_000),
	}}

	agg := New(index, onchain, vault)
	result, statuses, err := agg.Aggregate(context.Background(), Query{Kind: KindLending})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.NoneFound {
		t.Fatalf("unexpected NoneFound: %+v", result)
	}
	if len(result.Pools) != 3 {
		t.Fatalf("got %d pools, want 3", len(result.Pools))
	}

	// Ranked top-3 is [7.0 drift, 6.0 aave, 4.0 marginfi]; the sentinel
	// vault pool (2.0) replaces the third slot, the trio re-sorts to
	// [7.0, 6.0, 2.0], and center-highest renders [6.0, 7.0, 2.0].
	wantYields := []float64{6.0, 7.0, 2.0}
	for i, want := range wantYields {
		if result.Pools[i].Yield != want {
			t.Fatalf("slot %d has yield %v, want %v (%+v)", i, result.Pools[i].Yield, want, result.Pools)
		}
	}
	if result.Pools[2].Project != "kamino" {
		t.Fatalf("sentinel provider missing from top three: %+v", result.Pools[2])
	}

	if len(statuses) != 3 {
		t.Fatalf("got %d source statuses, want 3", len(statuses))
	}
	for _, status := range statuses {
		if status.Status != "ok" {
			t.Fatalf("source %s reported %s", status.Name, status.Status)
		}
	}
}

func TestAggregateToleratesPartialSourceFailure(t *testing.T) {
	index := &stubAdapter{name: "llamafi", err: errors.New("index down")}
	onchain := &stubAdapter{name: "onchain", pools: []model.YieldPool{
		lendingPool("USDC", "aave-v3", "M1", 6.0, 1_200_000),
	}}

	agg := New(index, onchain, nil, WithSentinel(nil))
	result, statuses, err := agg.Aggregate(context.Background(), Query{Kind: KindLending})
	if err != nil {
		t.Fatalf("partial failure must not surface as an error: %v", err)
	}
	if result.NoneFound {
		t.Fatalf("surviving source should still produce pools: %+v", result)
	}
	if len(result.Pools) != 1 || result.Pools[0].TokenMint != "M1" {
		t.Fatalf("unexpected pools: %+v", result.Pools)
	}

	byName := map[string]string{}
	for _, status := range statuses {
		byName[status.Name] = status.Status
	}
	if byName["llamafi"] != "failed" || byName["onchain"] != "ok" {
		t.Fatalf("unexpected statuses: %v", byName)
	}
}

func TestAggregateTotalFailureReturnsError(t *testing.T) {
	index := &stubAdapter{name: "llamafi", err: errors.New("connection refused")}
	onchain := &stubAdapter{name: "onchain", err: errors.New("connection refused")}

	agg := New(index, onchain, nil)
	result, _, err := agg.Aggregate(context.Background(), Query{Kind: KindLending})
	if err == nil {
		t.Fatal("all sources failing should surface an error for warmers")
	}
	if !result.NoneFound {
		t.Fatalf("total failure should still carry the NoneFound result: %+v", result)
	}
}

func TestAggregateNoneFound(t *testing.T) {
	index := &stubAdapter{name: "llamafi", pools: []model.YieldPool{
		// LP pair, disallowed protocol, zero yield: all filtered out.
		lendingPool("USDC-USDT", "aave-v3", "M1", 5.0, 1_000_000),
		lendingPool("USDC", "shady-farm", "M2", 90.0, 1_000),
		lendingPool("USDT", "aave-v3", "M3", 0, 1_000_000),
	}}

	agg := New(index, nil, nil)
	result, _, err := agg.Aggregate(context.Background(), Query{Kind: KindLending})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !result.NoneFound {
		t.Fatalf("expected NoneFound, got %+v", result)
	}
	if result.Message == "" {
		t.Fatal("NoneFound must carry a message")
	}
	if len(result.Pools) != 0 {
		t.Fatalf("NoneFound must not carry pools: %+v", result.Pools)
	}
}

func TestFilterLendingRequiresStablecoinAndUnderlying(t *testing.T) {
	pools := []model.YieldPool{
		lendingPool("USDC", "aave-v3", "M1", 5.0, 1_000_000),
		{Symbol: "USDT", Project: "aave-v3", Yield: 4.0, TokenMint: "M2"},
		lendingPool("WETH", "aave-v3", "M3", 3.0, 1_000_000),
	}
	kept := filterPools(pools, Query{Kind: KindLending})
	if len(kept) != 1 || kept[0].Symbol != "USDC" {
		t.Fatalf("unexpected survivors: %+v", kept)
	}

	// Staking drops the lending-only requirements.
	kept = filterPools(pools, Query{Kind: KindStaking})
	if len(kept) != 3 {
		t.Fatalf("staking filter should keep all three, got %+v", kept)
	}

	kept = filterPools(pools, Query{Kind: KindStaking, StablecoinOnly: true})
	if len(kept) != 2 {
		t.Fatalf("stablecoin-only should drop WETH, got %+v", kept)
	}
}

func TestFilterByTokenAndProtocol(t *testing.T) {
	pools := []model.YieldPool{
		lendingPool("USDC", "aave-v3", "M1", 5.0, 1_000_000),
		lendingPool("USDC", "drift", "M2", 6.0, 500_000),
		lendingPool("USDT", "drift", "M3", 7.0, 400_000),
	}
	kept := filterPools(pools, Query{Kind: KindLending, TokenSymbol: "usdc", Protocol: "DRIFT"})
	if len(kept) != 1 || kept[0].TokenMint != "M2" {
		t.Fatalf("unexpected survivors: %+v", kept)
	}
}

func TestPreferenceScoringFavorsTVLAtLowRisk(t *testing.T) {
	highAPY := lendingPool("USDC", "drift", "M1", 12.0, 10_000)
	deepTVL := lendingPool("USDT", "aave-v3", "M2", 8.0, 500_000_000)

	ranked := rankPools([]model.YieldPool{highAPY, deepTVL}, Query{Risk: "low", TimeHorizon: "long"})
	if ranked[0].TokenMint != "M2" {
		t.Fatalf("low-risk long-horizon should favor deep TVL: %+v", ranked)
	}

	ranked = rankPools([]model.YieldPool{highAPY, deepTVL}, Query{Risk: "high", TimeHorizon: "short"})
	if ranked[0].TokenMint != "M1" {
		t.Fatalf("high-risk short-horizon should favor APY: %+v", ranked)
	}
}

func TestScoreWeightsTable(t *testing.T) {
	cases := []struct {
		risk, horizon string
		apy, tvl      float64
	}{
		{"low", "", 0.8, 0.7},
		{"medium", "", 1.2, 0.25},
		{"high", "", 1.6, 0.1},
		{"low", "short", 1.2, 0.7},
		{"medium", "long", 1.2, 0.5},
	}
	for _, tc := range cases {
		apy, tvl := scoreWeights(tc.risk, tc.horizon)
		if apy != tc.apy || tvl != tc.tvl {
			t.Fatalf("weights(%s,%s) = %v/%v, want %v/%v", tc.risk, tc.horizon, apy, tvl, tc.apy, tc.tvl)
		}
	}
}

// Package yield merges the source adapters into one ranked view: the
// aggregated index seeds descriptive records, the on-chain reader overlays
// authoritative rates, and vault reserves fill remaining gaps. Filtering,
// ranking, the sentinel splice, and the center-highest display order all
// live here.
package yield

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/defipilot/defipilot/internal/logging"
	"github.com/defipilot/defipilot/internal/model"
	"github.com/defipilot/defipilot/internal/registry"
	"github.com/defipilot/defipilot/internal/sources"
)

const (
	defaultLimit = 3
	maxLimit     = 50

	noneFoundMessage = "No qualifying yield opportunities found right now."
)

// Kind selects the filter set.
type Kind string

const (
	KindLending Kind = "lending"
	KindStaking Kind = "staking"
)

// Query narrows and ranks the aggregated list.
type Query struct {
	Kind           Kind
	TokenSymbol    string
	Protocol       string
	Limit          int
	Risk           string
	TimeHorizon    string
	StablecoinOnly bool
}

// SentinelPolicy decides which pools must be represented in the top three
// even when they miss the cut on raw rank.
type SentinelPolicy interface {
	Qualifies(pool model.YieldPool) bool
}

type projectSentinel string

func (p projectSentinel) Qualifies(pool model.YieldPool) bool {
	return strings.EqualFold(pool.Project, string(p))
}

// ProjectSentinel marks every pool of one protocol slug as must-include.
func ProjectSentinel(project string) SentinelPolicy {
	return projectSentinel(project)
}

type Aggregator struct {
	index    sources.Adapter
	onchain  sources.Adapter
	vault    sources.Adapter
	sentinel SentinelPolicy
	log      *zap.SugaredLogger
	now      func() time.Time
}

type Option func(*Aggregator)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(a *Aggregator) {
		if log != nil {
			a.log = log
		}
	}
}

// WithSentinel replaces the default must-include policy. Pass nil to
// disable the splice entirely.
func WithSentinel(policy SentinelPolicy) Option {
	return func(a *Aggregator) {
		a.sentinel = policy
	}
}

// New wires the three adapter roles. Any adapter may be nil; its source is
// simply absent from aggregation.
func New(index, onchain, vault sources.Adapter, opts ...Option) *Aggregator {
	a := &Aggregator{
		index:    index,
		onchain:  onchain,
		vault:    vault,
		sentinel: ProjectSentinel(registry.SentinelProject),
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate fetches every available source, merges, filters, and ranks.
// Partial source failure is tolerated; zero qualifying pools produces the
// explicit NoneFound result. The error is non-nil only when every
// configured source failed, so callers warming caches can detect a dead
// network; interactive callers surface the NoneFound result instead.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (model.YieldResult, []model.SourceStatus, error) {
	indexPools, onchainPools, vaultPools, statuses, fetchErr := a.fetchAll(ctx)

	merged := a.Merge(indexPools, onchainPools, vaultPools)
	filtered := filterPools(merged, q)
	ranked := rankPools(filtered, q)
	selected := a.selectTop(ranked, normalizeLimit(q.Limit))

	if len(selected) == 0 {
		return model.YieldResult{NoneFound: true, Message: noneFoundMessage}, statuses, fetchErr
	}
	return model.YieldResult{Pools: selected}, statuses, nil
}

func (a *Aggregator) fetchAll(ctx context.Context) (index, onchain, vault []model.YieldPool, statuses []model.SourceStatus, totalFailure error) {
	type slot struct {
		adapter sources.Adapter
		pools   []model.YieldPool
		status  model.SourceStatus
		err     error
	}
	slots := []*slot{
		{adapter: a.index},
		{adapter: a.onchain},
		{adapter: a.vault},
	}

	var wg sync.WaitGroup
	for _, s := range slots {
		if s.adapter == nil {
			continue
		}
		wg.Add(1)
		go func(s *slot) {
			defer wg.Done()
			start := a.now()
			pools, err := s.adapter.Fetch(ctx)
			s.status = model.SourceStatus{
				Name:      s.adapter.Info().Name,
				Status:    "ok",
				LatencyMS: a.now().Sub(start).Milliseconds(),
			}
			if err != nil {
				s.status.Status = "failed"
				s.err = err
				a.log.Warnw("source fetch failed", "source", s.status.Name, "error", err)
				return
			}
			s.pools = pools
		}(s)
	}
	wg.Wait()

	allFailed := true
	for _, s := range slots {
		if s.adapter == nil {
			continue
		}
		statuses = append(statuses, s.status)
		if s.err != nil {
			if totalFailure == nil {
				totalFailure = s.err
			}
		} else {
			allFailed = false
		}
	}
	if !allFailed || len(statuses) == 0 {
		totalFailure = nil
	}
	return slots[0].pools, slots[1].pools, slots[2].pools, statuses, totalFailure
}

// Merge joins the three source outputs by mint address. The index seeds
// descriptive records; the on-chain overlay replaces APY when numerically
// higher and TVL always; vault pools are additive only. Records without a
// mint are dropped with a warning.
func (a *Aggregator) Merge(index, onchain, vault []model.YieldPool) []model.YieldPool {
	out := make([]model.YieldPool, 0, len(index)+len(onchain)+len(vault))
	byMint := map[string]int{}

	add := func(pool model.YieldPool, source string) (int, bool) {
		if pool.TokenMint == "" {
			a.log.Warnw("dropping pool without mint address", "source", source, "symbol", pool.Symbol, "project", pool.Project)
			return 0, false
		}
		key := canonicalMint(pool.TokenMint)
		if i, ok := byMint[key]; ok {
			return i, false
		}
		out = append(out, pool)
		byMint[key] = len(out) - 1
		return len(out) - 1, true
	}

	for _, pool := range index {
		add(pool, "index")
	}
	for _, pool := range onchain {
		i, added := add(pool, "onchain")
		if added || pool.TokenMint == "" {
			continue
		}
		if pool.Yield > out[i].Yield {
			out[i].Yield = pool.Yield
			out[i].APYBase = pool.APYBase
		}
		out[i].TVLUSD = pool.TVLUSD
	}
	for _, pool := range vault {
		add(pool, "vault")
	}
	return out
}

// canonicalMint folds EVM address casing so lowercase index addresses and
// checksummed on-chain addresses join on the same key. Base58 mints are
// case-sensitive and pass through untouched.
func canonicalMint(mint string) string {
	if len(mint) == 42 && strings.HasPrefix(mint, "0x") && isHex(mint[2:]) {
		return strings.ToLower(mint)
	}
	return mint
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func filterPools(pools []model.YieldPool, q Query) []model.YieldPool {
	token := strings.ToUpper(strings.TrimSpace(q.TokenSymbol))
	protocol := strings.ToLower(strings.TrimSpace(q.Protocol))

	kept := make([]model.YieldPool, 0, len(pools))
	for _, pool := range pools {
		if pool.Yield <= 0 {
			continue
		}
		if strings.ContainsAny(pool.Symbol, "-/") {
			continue
		}
		if !registry.IsAllowedProtocol(pool.Project) {
			continue
		}
		if q.Kind == KindLending {
			if len(pool.UnderlyingTokens) == 0 {
				continue
			}
			if !registry.IsAllowedStablecoin(pool.Symbol) {
				continue
			}
		}
		if q.StablecoinOnly && !registry.IsAllowedStablecoin(pool.Symbol) {
			continue
		}
		if token != "" && strings.ToUpper(pool.Symbol) != token {
			continue
		}
		if protocol != "" && strings.ToLower(pool.Project) != protocol {
			continue
		}
		kept = append(kept, pool)
	}
	return kept
}

// rankPools sorts by raw yield descending, or by the preference-weighted
// score when a risk or horizon preference is supplied. Sorting is stable:
// equal pools keep their merge order.
func rankPools(pools []model.YieldPool, q Query) []model.YieldPool {
	ranked := make([]model.YieldPool, len(pools))
	copy(ranked, pools)

	if q.Risk != "" || q.TimeHorizon != "" {
		apyWeight, tvlWeight := scoreWeights(q.Risk, q.TimeHorizon)
		sort.SliceStable(ranked, func(i, j int) bool {
			return poolScore(ranked[i], apyWeight, tvlWeight) > poolScore(ranked[j], apyWeight, tvlWeight)
		})
		return ranked
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Yield > ranked[j].Yield
	})
	return ranked
}

func scoreWeights(risk, horizon string) (apyWeight, tvlWeight float64) {
	switch strings.ToLower(strings.TrimSpace(risk)) {
	case "high":
		apyWeight, tvlWeight = 1.6, 0.1
	case "medium":
		apyWeight, tvlWeight = 1.2, 0.25
	default:
		apyWeight, tvlWeight = 0.8, 0.7
	}
	switch strings.ToLower(strings.TrimSpace(horizon)) {
	case "short":
		apyWeight += 0.4
	case "long":
		tvlWeight += 0.25
	}
	return apyWeight, tvlWeight
}

func poolScore(pool model.YieldPool, apyWeight, tvlWeight float64) float64 {
	return apyWeight*pool.Yield + tvlWeight*math.Log10(math.Max(1, pool.TVLUSD+1))
}

// selectTop takes the leading pools, splices in the sentinel provider when
// it qualified anywhere in the ranked list but missed a three-slot cut, and
// applies the center-highest display order to three-slot results.
func (a *Aggregator) selectTop(ranked []model.YieldPool, limit int) []model.YieldPool {
	if limit > len(ranked) {
		limit = len(ranked)
	}
	top := make([]model.YieldPool, limit)
	copy(top, ranked[:limit])

	if limit != defaultLimit {
		return top
	}

	if a.sentinel != nil && !containsSentinel(top, a.sentinel) {
		for _, pool := range ranked[limit:] {
			if a.sentinel.Qualifies(pool) {
				top[limit-1] = pool
				sort.SliceStable(top, func(i, j int) bool {
					return top[i].Yield > top[j].Yield
				})
				break
			}
		}
	}

	return CenterHighest(top)
}

func containsSentinel(pools []model.YieldPool, policy SentinelPolicy) bool {
	for _, pool := range pools {
		if policy.Qualifies(pool) {
			return true
		}
	}
	return false
}

// CenterHighest reorders a sorted three-item list so the best entry sits in
// the middle slot: [20,15,10] renders as [15,20,10]. Shorter or longer
// lists pass through unchanged.
func CenterHighest(pools []model.YieldPool) []model.YieldPool {
	if len(pools) != 3 {
		return pools
	}
	return []model.YieldPool{pools[1], pools[0], pools[2]}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

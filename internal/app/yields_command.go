package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/defipilot/defipilot/internal/cache"
	"github.com/defipilot/defipilot/internal/model"
	"github.com/defipilot/defipilot/internal/yield"
)

type yieldsResult struct {
	Result   model.YieldResult
	Statuses []model.SourceStatus
}

func (s *runtimeState) newYieldsCommand() *cobra.Command {
	var (
		token      string
		protocol   string
		limit      int
		risk       string
		horizon    string
		staking    bool
		stableOnly bool
	)
	cmd := &cobra.Command{
		Use:   "yields",
		Short: "Aggregate and rank yield opportunities across sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := yield.Query{
				Kind:           yield.KindLending,
				TokenSymbol:    token,
				Protocol:       protocol,
				Limit:          limit,
				Risk:           risk,
				TimeHorizon:    horizon,
				StablecoinOnly: stableOnly,
			}
			if staking {
				query.Kind = yield.KindStaking
			}

			key := fmt.Sprintf("yields|%s|%s|%s|%d|%s|%s|%t", query.Kind, token, protocol, limit, risk, horizon, stableOnly)
			var (
				fetched      bool
				totalFailure error
				uncached     yieldsResult
			)
			aggregated, err := cache.GetOrFetch(cmd.Context(), s.cacheSvc, key, s.settings.YieldTTL, 64,
				func(ctx context.Context) (yieldsResult, error) {
					fetched = true
					result, statuses, aggErr := s.aggregator.Aggregate(ctx, query)
					out := yieldsResult{Result: result, Statuses: statuses}
					if aggErr != nil {
						// Every source failed. Render NoneFound but keep it
						// out of the cache so a transient outage does not pin
						// the answer for a whole TTL.
						totalFailure = aggErr
						uncached = out
						return yieldsResult{}, aggErr
					}
					return out, nil
				})
			if err != nil {
				if totalFailure == nil {
					return err
				}
				aggregated = uncached
			}

			cacheStatus := model.CacheStatus{Status: "hit"}
			if fetched {
				cacheStatus.Status = "miss"
			}
			if totalFailure != nil {
				cacheStatus = cacheMetaBypass()
			}
			return s.emitSuccess(
				trimRootPath(cmd.CommandPath()),
				aggregated.Result,
				nil,
				cacheStatus,
				aggregated.Statuses,
				anyFailed(aggregated.Statuses),
			)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Filter by token symbol")
	cmd.Flags().StringVar(&protocol, "protocol", "", "Filter by protocol slug")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of pools to return (default 3)")
	cmd.Flags().StringVar(&risk, "risk", "", "Risk preference (low|medium|high)")
	cmd.Flags().StringVar(&horizon, "horizon", "", "Time horizon preference (short|medium|long)")
	cmd.Flags().BoolVar(&staking, "staking", false, "Aggregate staking pools instead of lending")
	cmd.Flags().BoolVar(&stableOnly, "stablecoin-only", false, "Keep only allow-listed stablecoins")
	return cmd
}

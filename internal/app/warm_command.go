package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/defipilot/defipilot/internal/cache"
	"github.com/defipilot/defipilot/internal/model"
	"github.com/defipilot/defipilot/internal/warmer"
	"github.com/defipilot/defipilot/internal/yield"
)

func (s *runtimeState) newWarmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Run the cache warming loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			lending := cache.NewSWR("lending-yields", s.settings.YieldTTL, s.settings.MaxStale,
				func(ctx context.Context) (model.YieldResult, error) {
					result, _, err := s.aggregator.Aggregate(ctx, yield.Query{Kind: yield.KindLending})
					return result, err
				},
				cache.WithSWRLogger[model.YieldResult](s.log))
			staking := cache.NewSWR("staking-yields", s.settings.YieldTTL, s.settings.MaxStale,
				func(ctx context.Context) (model.YieldResult, error) {
					result, _, err := s.aggregator.Aggregate(ctx, yield.Query{Kind: yield.KindStaking})
					return result, err
				},
				cache.WithSWRLogger[model.YieldResult](s.log))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := warmer.New(
				s.settings.WarmInterval,
				s.settings.WarmBackoff,
				[]warmer.Refreshable{lending, staking},
				warmer.WithLogger(s.log),
			)
			s.log.Infow("cache warmer started",
				"interval", s.settings.WarmInterval,
				"backoff", s.settings.WarmBackoff,
			)
			w.Start(ctx)
			<-w.Done()

			return s.emitSuccess(
				trimRootPath(cmd.CommandPath()),
				map[string]any{"warmed": []string{lending.Name(), staking.Name()}},
				nil,
				cacheMetaBypass(),
				nil,
				false,
			)
		},
	}
	return cmd
}

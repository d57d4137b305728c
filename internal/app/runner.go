// Package app wires configuration, logging, the source adapters, the
// aggregator, and the routing pipeline into the cobra command tree.
package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/defipilot/defipilot/internal/cache"
	"github.com/defipilot/defipilot/internal/config"
	pilerr "github.com/defipilot/defipilot/internal/errors"
	"github.com/defipilot/defipilot/internal/httpx"
	"github.com/defipilot/defipilot/internal/logging"
	"github.com/defipilot/defipilot/internal/model"
	"github.com/defipilot/defipilot/internal/out"
	"github.com/defipilot/defipilot/internal/registry"
	"github.com/defipilot/defipilot/internal/sources"
	"github.com/defipilot/defipilot/internal/sources/llamafi"
	"github.com/defipilot/defipilot/internal/sources/onchain"
	"github.com/defipilot/defipilot/internal/sources/vault"
	"github.com/defipilot/defipilot/internal/version"
	"github.com/defipilot/defipilot/internal/yield"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	log         *zap.SugaredLogger
	httpClient  *httpx.Client
	aggregator  *yield.Aggregator
	sourceInfos []model.SourceInfo
	cacheSvc    *cache.Service
	root        *cobra.Command
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return pilerr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Conversational DeFi routing and yield aggregation CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return pilerr.Wrap(pilerr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			if s.log == nil {
				log, err := logging.New(settings.LogLevel)
				if err != nil {
					return pilerr.Wrap(pilerr.CodeInternal, "build logger", err)
				}
				s.log = log
			}

			if s.aggregator == nil {
				s.httpClient = httpx.New(settings.Timeout, settings.Retries)
				index := llamafi.New(s.httpClient, settings.LlamaBaseURL)
				vaultClient := vault.New(s.httpClient, settings.VaultBaseURL)

				chainID := settings.ChainID
				if chainID == 0 {
					chainID = registry.DefaultChainID
				}
				var reader sources.Adapter
				if r, err := onchain.New(settings.RPCURL, chainID); err != nil {
					s.log.Warnw("on-chain reader disabled", "chain_id", chainID, "error", err)
				} else {
					reader = r
				}

				s.aggregator = yield.New(index, reader, vaultClient, yield.WithLogger(s.log))
				s.sourceInfos = []model.SourceInfo{index.Info(), vaultClient.Info()}
				if reader != nil {
					s.sourceInfos = append(s.sourceInfos, reader.Info())
				}
				s.cacheSvc = cache.NewService()
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return pilerr.Wrap(pilerr.CodeUsage, "parse flags", err)
	})
	// Accept underscore spellings of multi-word flags.
	cmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Upstream request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per upstream request")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "EVM RPC endpoint for the on-chain reader")
	cmd.PersistentFlags().Int64Var(&s.flags.ChainID, "chain-id", 0, "Chain id for the on-chain reader")
	cmd.PersistentFlags().StringVar(&s.flags.YieldTTL, "yield-ttl", "", "Freshness window for cached yield results")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum age before cached yields must be refetched")
	cmd.PersistentFlags().StringVar(&s.flags.WarmInterval, "warm-interval", "", "Cache warmer refresh interval")
	cmd.PersistentFlags().StringVar(&s.flags.Model, "model", "", "Language model for routing proposals")
	cmd.PersistentFlags().StringVar(&s.flags.SessionID, "session", "", "Session id for cross-turn memory")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newRouteCommand())
	cmd.AddCommand(s.newYieldsCommand())
	cmd.AddCommand(s.newWarmCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List yield data sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.sourceInfos, nil, cacheMetaBypass(), nil, false)
		},
	}
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, statuses []model.SourceStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Sources:   statuses,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := pilerr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := pilerr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		switch cErr.Code {
		case pilerr.CodeUsage:
			typ = "usage_error"
		case pilerr.CodeAuth:
			typ = "auth_error"
		case pilerr.CodeRateLimited:
			typ = "rate_limited"
		case pilerr.CodeUnavailable:
			typ = "upstream_unavailable"
		case pilerr.CodeUnsupported:
			typ = "unsupported"
		case pilerr.CodeNotFound:
			typ = "not_found"
		case pilerr.CodeProposal:
			typ = "invalid_proposal"
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: uuid.NewString(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func trimRootPath(commandPath string) string {
	trimmed := strings.TrimSpace(commandPath)
	root := version.CLIName + " "
	if strings.HasPrefix(trimmed, root) {
		return strings.TrimPrefix(trimmed, root)
	}
	return trimmed
}

func anyFailed(statuses []model.SourceStatus) bool {
	for _, status := range statuses {
		if status.Status != "ok" {
			return true
		}
	}
	return false
}

package app

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	pilerr "github.com/defipilot/defipilot/internal/errors"
	"github.com/defipilot/defipilot/internal/llm"
	"github.com/defipilot/defipilot/internal/router"
	"github.com/defipilot/defipilot/internal/session"
)

func (s *runtimeState) newRouteCommand() *cobra.Command {
	var (
		wallet      string
		historyPath string
		noSession   bool
	)
	cmd := &cobra.Command{
		Use:   "route [message...]",
		Short: "Route a conversational message to an executable plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := loadHistory(historyPath)
			if err != nil {
				return err
			}
			if text := strings.TrimSpace(strings.Join(args, " ")); text != "" {
				messages = append(messages, router.Message{Role: "user", Content: text})
			}
			if len(messages) == 0 {
				return pilerr.New(pilerr.CodeUsage, "provide a message or --history")
			}

			var warnings []string
			var proposer router.Proposer
			if client, err := llm.New(llm.Config{
				APIKey:  s.settings.OpenAIKey,
				BaseURL: s.settings.OpenAIBaseURL,
				Model:   s.settings.OpenAIModel,
			}); err != nil {
				s.log.Warnw("model client unavailable, routing falls back", "error", err)
				warnings = append(warnings, "model unavailable; fallback routing in effect")
			} else {
				proposer = client
			}

			opts := router.ContextOptions{WalletAddress: wallet}

			var store *session.Store
			if !noSession {
				store, err = session.Open(s.settings.SessionPath, s.settings.SessionLockPath)
				if err != nil {
					return pilerr.Wrap(pilerr.CodeInternal, "open session store", err)
				}
				defer func() { _ = store.Close() }()

				mem, ok, err := store.Load(s.settings.SessionID)
				if err != nil {
					return pilerr.Wrap(pilerr.CodeInternal, "load session memory", err)
				}
				if ok {
					opts.LastSelection = mem.LastSelection
					opts.UserPrefs = mem.Prefs
				}
			}

			result := router.New(proposer, router.WithLogger(s.log)).RouteTurn(cmd.Context(), messages, opts)

			if store != nil {
				mem := session.Memory{
					LastSelection: result.Context.LastSelection,
					Prefs:         rememberPrefs(result.Context.UserPrefs, result.Intent.Constraints),
				}
				if err := store.Save(s.settings.SessionID, mem); err != nil {
					s.log.Warnw("session save failed", "session", s.settings.SessionID, "error", err)
					warnings = append(warnings, "session memory not saved")
				}
			}

			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, warnings, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "Wallet address for this session")
	cmd.Flags().StringVar(&historyPath, "history", "", "Path to a JSON conversation history file")
	cmd.Flags().BoolVar(&noSession, "no-session", false, "Skip cross-turn session memory")
	return cmd
}

func loadHistory(path string) ([]router.Message, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pilerr.Wrap(pilerr.CodeUsage, "read history file", err)
	}
	var messages []router.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, pilerr.Wrap(pilerr.CodeUsage, "decode history file", err)
	}
	return messages, nil
}

// rememberPrefs folds preferences the user expressed this turn into the
// remembered set. New values overwrite; unset fields keep what was stored.
func rememberPrefs(prev *router.Preferences, cons *router.Constraints) *router.Preferences {
	if cons == nil {
		return prev
	}
	out := router.Preferences{}
	if prev != nil {
		out = *prev
	}
	if cons.Risk != "" {
		out.Risk = cons.Risk
	}
	if cons.TimeHorizon != "" {
		out.TimeHorizon = cons.TimeHorizon
	}
	if cons.StablecoinOnly != nil {
		out.StablecoinOnly = cons.StablecoinOnly
	}
	if out == (router.Preferences{}) {
		return prev
	}
	return &out
}

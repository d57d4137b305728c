// Package config layers settings from a yaml file, DEFIPILOT_* environment
// variables, and CLI flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath   string
	JSON         bool
	Plain        bool
	Select       string
	Timeout      string
	Retries      int
	LogLevel     string
	RPCURL       string
	ChainID      int64
	YieldTTL     string
	MaxStale     string
	WarmInterval string
	Model        string
	SessionID    string
}

type Settings struct {
	OutputMode      string
	SelectFields    []string
	Timeout         time.Duration
	Retries         int
	LogLevel        string
	YieldTTL        time.Duration
	MaxStale        time.Duration
	WarmInterval    time.Duration
	WarmBackoff     time.Duration
	RPCURL          string
	ChainID         int64
	LlamaBaseURL    string
	VaultBaseURL    string
	OpenAIKey       string
	OpenAIBaseURL   string
	OpenAIModel     string
	SessionPath     string
	SessionLockPath string
	SessionID       string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	Cache    struct {
		YieldTTL     string `yaml:"yield_ttl"`
		MaxStale     string `yaml:"max_stale"`
		WarmInterval string `yaml:"warm_interval"`
		WarmBackoff  string `yaml:"warm_backoff"`
	} `yaml:"cache"`
	Chain struct {
		RPCURL  string `yaml:"rpc_url"`
		ChainID *int64 `yaml:"chain_id"`
	} `yaml:"chain"`
	Sources struct {
		LlamaBaseURL string `yaml:"llama_base_url"`
		VaultBaseURL string `yaml:"vault_base_url"`
	} `yaml:"sources"`
	OpenAI struct {
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
	} `yaml:"openai"`
	Session struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"session"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.YieldTTL <= 0 {
		settings.YieldTTL = time.Minute
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.WarmInterval <= 0 {
		settings.WarmInterval = time.Minute
	}
	if settings.WarmBackoff <= 0 {
		settings.WarmBackoff = 5 * time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	sessionPath, lockPath, err := defaultSessionPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         10 * time.Second,
		Retries:         2,
		LogLevel:        "warn",
		YieldTTL:        time.Minute,
		MaxStale:        5 * time.Minute,
		WarmInterval:    time.Minute,
		WarmBackoff:     5 * time.Minute,
		SessionPath:     sessionPath,
		SessionLockPath: lockPath,
		SessionID:       "default",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defipilot", "config.yaml"), nil
}

func defaultSessionPaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "defipilot")
	return filepath.Join(dir, "sessions.db"), filepath.Join(dir, "sessions.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	for _, item := range []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Cache.YieldTTL, "cache.yield_ttl", &settings.YieldTTL},
		{cfg.Cache.MaxStale, "cache.max_stale", &settings.MaxStale},
		{cfg.Cache.WarmInterval, "cache.warm_interval", &settings.WarmInterval},
		{cfg.Cache.WarmBackoff, "cache.warm_backoff", &settings.WarmBackoff},
	} {
		if item.raw == "" {
			continue
		}
		d, err := time.ParseDuration(item.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", item.name, err)
		}
		*item.dst = d
	}
	if cfg.Chain.RPCURL != "" {
		settings.RPCURL = cfg.Chain.RPCURL
	}
	if cfg.Chain.ChainID != nil {
		settings.ChainID = *cfg.Chain.ChainID
	}
	if cfg.Sources.LlamaBaseURL != "" {
		settings.LlamaBaseURL = cfg.Sources.LlamaBaseURL
	}
	if cfg.Sources.VaultBaseURL != "" {
		settings.VaultBaseURL = cfg.Sources.VaultBaseURL
	}
	if cfg.OpenAI.APIKey != "" {
		settings.OpenAIKey = cfg.OpenAI.APIKey
	}
	if cfg.OpenAI.APIKeyEnv != "" {
		settings.OpenAIKey = os.Getenv(cfg.OpenAI.APIKeyEnv)
	}
	if cfg.OpenAI.BaseURL != "" {
		settings.OpenAIBaseURL = cfg.OpenAI.BaseURL
	}
	if cfg.OpenAI.Model != "" {
		settings.OpenAIModel = cfg.OpenAI.Model
	}
	if cfg.Session.Path != "" {
		settings.SessionPath = cfg.Session.Path
	}
	if cfg.Session.LockPath != "" {
		settings.SessionLockPath = cfg.Session.LockPath
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("DEFIPILOT_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("DEFIPILOT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("DEFIPILOT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("DEFIPILOT_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("DEFIPILOT_YIELD_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.YieldTTL = d
		}
	}
	if v := os.Getenv("DEFIPILOT_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("DEFIPILOT_WARM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.WarmInterval = d
		}
	}
	if v := os.Getenv("DEFIPILOT_WARM_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.WarmBackoff = d
		}
	}
	if v := os.Getenv("DEFIPILOT_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("DEFIPILOT_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("DEFIPILOT_LLAMA_BASE_URL"); v != "" {
		settings.LlamaBaseURL = v
	}
	if v := os.Getenv("DEFIPILOT_VAULT_BASE_URL"); v != "" {
		settings.VaultBaseURL = v
	}
	if v := os.Getenv("DEFIPILOT_OPENAI_API_KEY"); v != "" {
		settings.OpenAIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && settings.OpenAIKey == "" {
		settings.OpenAIKey = v
	}
	if v := os.Getenv("DEFIPILOT_OPENAI_BASE_URL"); v != "" {
		settings.OpenAIBaseURL = v
	}
	if v := os.Getenv("DEFIPILOT_OPENAI_MODEL"); v != "" {
		settings.OpenAIModel = v
	}
	if v := os.Getenv("DEFIPILOT_SESSION_PATH"); v != "" {
		settings.SessionPath = v
	}
	if v := os.Getenv("DEFIPILOT_SESSION_LOCK_PATH"); v != "" {
		settings.SessionLockPath = v
	}
	if v := os.Getenv("DEFIPILOT_SESSION_ID"); v != "" {
		settings.SessionID = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.RPCURL != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if flags.YieldTTL != "" {
		d, err := time.ParseDuration(flags.YieldTTL)
		if err != nil {
			return fmt.Errorf("parse --yield-ttl: %w", err)
		}
		settings.YieldTTL = d
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.WarmInterval != "" {
		d, err := time.ParseDuration(flags.WarmInterval)
		if err != nil {
			return fmt.Errorf("parse --warm-interval: %w", err)
		}
		settings.WarmInterval = d
	}
	if flags.Model != "" {
		settings.OpenAIModel = flags.Model
	}
	if flags.SessionID != "" {
		settings.SessionID = flags.SessionID
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

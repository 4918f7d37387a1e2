package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns a fully resolved and validated configuration.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("config loaded", slog.String("path", cfgPath))

	// 3. Apply env overrides
	if env.User != "" {
		cfg.User = env.User
	}

	if env.ClientSecretFile != "" {
		cfg.ClientSecretFile = env.ClientSecretFile
	}

	// 4. Apply CLI overrides
	applyCLIOverrides(cfg, &cli)

	// 5. Re-validate: env and CLI values bypass Load's validation.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved := buildResolved(cfg, cfgPath)

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

func applyCLIOverrides(cfg *Config, cli *CLIOverrides) {
	if cli.User != "" {
		cfg.User = cli.User
	}

	if cli.ClientSecretFile != "" {
		cfg.ClientSecretFile = cli.ClientSecretFile
	}

	if cli.Grant != "" {
		cfg.Grant = cli.Grant
	}

	if cli.TokenStore != "" {
		cfg.TokenStore = cli.TokenStore
	}

	if cli.NestedWorkers != nil {
		cfg.NestedWorkers = *cli.NestedWorkers
	}
}

// buildResolved fills path defaults, expands tildes and parses durations.
// cfg must already have passed Validate.
func buildResolved(cfg *Config, cfgPath string) *Resolved {
	r := &Resolved{
		ConfigPath:       cfgPath,
		ClientSecretFile: expandTilde(orDefault(cfg.ClientSecretFile, DefaultClientSecretPath())),
		User:             cfg.User,
		Scopes:           append([]string(nil), cfg.Scopes...),
		Grant:            cfg.Grant,
		RevokeURL:        cfg.RevokeURL,
		APIBaseURL:       cfg.APIBaseURL,
		NestedWorkers:    cfg.NestedWorkers,
		TokenStore:       cfg.TokenStore,
		TokenDir:         expandTilde(orDefault(cfg.TokenDir, DefaultTokenDir())),
		TokenDB:          expandTilde(orDefault(cfg.TokenDB, DefaultTokenDB())),
		LogLevel:         cfg.LogLevel,
		LogFormat:        cfg.LogFormat,
		UserAgent:        cfg.UserAgent,
	}

	// Validate has already rejected unparsable durations.
	r.ConnectTimeout, _ = time.ParseDuration(cfg.ConnectTimeout)
	r.DataTimeout, _ = time.ParseDuration(cfg.DataTimeout)

	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "BOOKS_GO_CONFIG"
	EnvUser         = "BOOKS_GO_USER"
	EnvClientSecret = "BOOKS_GO_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath       string // BOOKS_GO_CONFIG: override config file path
	User             string // BOOKS_GO_USER: credential subject
	ClientSecretFile string // BOOKS_GO_CLIENT_SECRET: client secret JSON path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	o := EnvOverrides{
		ConfigPath:       os.Getenv(EnvConfig),
		User:             os.Getenv(EnvUser),
		ClientSecretFile: os.Getenv(EnvClientSecret),
	}

	if logger != nil {
		logger.Debug("environment overrides",
			slog.String(EnvConfig, o.ConfigPath),
			slog.String(EnvUser, o.User),
			slog.String(EnvClientSecret, o.ClientSecretFile),
		)
	}

	return o
}

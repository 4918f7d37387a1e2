package config

import (
	"github.com/tonimelisma/books-go/internal/auth"
	"github.com/tonimelisma/books-go/internal/books"
)

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultUser           = "user"
	defaultGrant          = GrantAuto
	defaultNestedWorkers  = 1
	defaultTokenStore     = StoreFile
	defaultLogLevel       = "warn"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultDataTimeout    = "60s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// Path defaults (client secret, token locations) stay empty here and are
// filled in by Resolve from the platform directories.
func DefaultConfig() *Config {
	return &Config{
		AuthConfig:    defaultAuthConfig(),
		APIConfig:     defaultAPIConfig(),
		StorageConfig: defaultStorageConfig(),
		LoggingConfig: defaultLoggingConfig(),
		NetworkConfig: defaultNetworkConfig(),
	}
}

func defaultAuthConfig() AuthConfig {
	return AuthConfig{
		User:      defaultUser,
		Scopes:    []string{auth.BooksScope},
		Grant:     defaultGrant,
		RevokeURL: auth.DefaultRevokeURL,
	}
}

func defaultAPIConfig() APIConfig {
	return APIConfig{
		APIBaseURL:    books.DefaultBaseURL,
		NestedWorkers: defaultNestedWorkers,
	}
}

func defaultStorageConfig() StorageConfig {
	return StorageConfig{
		TokenStore: defaultTokenStore,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}

// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for books-go. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// All keys are flat top-level keys; the Go structs group them by concern.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// The embedded sections are flattened by the TOML decoder, so the file
// contains e.g. `user = "alice"` rather than `[auth] user = "alice"`.
type Config struct {
	AuthConfig
	APIConfig
	StorageConfig
	LoggingConfig
	NetworkConfig
}

// AuthConfig controls how credentials are obtained.
type AuthConfig struct {
	ClientSecretFile string   `toml:"client_secret_file"`
	User             string   `toml:"user"`
	Scopes           []string `toml:"scopes"`
	Grant            string   `toml:"grant"`
	RevokeURL        string   `toml:"revoke_url"`
}

// APIConfig controls the Books API client and the listing traversal.
type APIConfig struct {
	APIBaseURL    string `toml:"api_base_url"`
	NestedWorkers int    `toml:"nested_workers"`
}

// StorageConfig selects the credential store backend and its location.
// Empty paths resolve to the platform data directory.
type StorageConfig struct {
	TokenStore string `toml:"token_store"`
	TokenDir   string `toml:"token_dir"`
	TokenDB    string `toml:"token_db"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Grant kinds accepted by the grant key.
const (
	GrantAuto    = "auto"
	GrantBrowser = "browser"
	GrantDevice  = "device"
)

// Token store backends accepted by the token_store key.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath       string // --config flag (empty = use default)
	User             string // --user flag
	ClientSecretFile string // --client-secret flag
	Grant            string // --grant flag
	TokenStore       string // --token-store flag
	NestedWorkers    *int   // --workers flag
}

// Resolved is the effective configuration after all override layers, with
// paths expanded and durations parsed.
type Resolved struct {
	ConfigPath string

	ClientSecretFile string
	User             string
	Scopes           []string
	Grant            string
	RevokeURL        string

	APIBaseURL    string
	NestedWorkers int

	TokenStore string
	TokenDir   string
	TokenDB    string

	LogLevel  string
	LogFormat string

	ConnectTimeout time.Duration
	DataTimeout    time.Duration
	UserAgent      string
}

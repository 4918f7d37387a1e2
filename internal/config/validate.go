package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minNestedWorkers  = 1
	maxNestedWorkers  = 16
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.AuthConfig)...)
	errs = append(errs, validateAPI(&cfg.APIConfig)...)
	errs = append(errs, validateStorage(&cfg.StorageConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only hold after path defaults
// and tilde expansion have been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	for field, p := range map[string]string{
		"client_secret_file": r.ClientSecretFile,
		"token_dir":          r.TokenDir,
		"token_db":           r.TokenDB,
	} {
		if p == "" {
			errs = append(errs, fmt.Errorf("%s: no default location available, set it explicitly", field))
			continue
		}

		if !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("%s: must be absolute after expansion, got %q", field, p))
		}
	}

	return errors.Join(errs...)
}

var validGrants = map[string]bool{
	GrantAuto:    true,
	GrantBrowser: true,
	GrantDevice:  true,
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if strings.TrimSpace(a.User) == "" {
		errs = append(errs, errors.New("user: must not be empty"))
	}

	nonBlank := 0

	for _, s := range a.Scopes {
		if strings.TrimSpace(s) != "" {
			nonBlank++
		}
	}

	if nonBlank == 0 {
		errs = append(errs, errors.New("scopes: at least one scope is required"))
	}

	if !validGrants[a.Grant] {
		errs = append(errs, fmt.Errorf("grant: must be one of auto, browser, device; got %q", a.Grant))
	}

	errs = append(errs, validateURL("revoke_url", a.RevokeURL)...)

	return errs
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	errs = append(errs, validateURL("api_base_url", a.APIBaseURL)...)

	if a.NestedWorkers < minNestedWorkers || a.NestedWorkers > maxNestedWorkers {
		errs = append(errs, fmt.Errorf("nested_workers: must be between %d and %d, got %d",
			minNestedWorkers, maxNestedWorkers, a.NestedWorkers))
	}

	return errs
}

var validTokenStores = map[string]bool{
	StoreFile:   true,
	StoreSQLite: true,
}

func validateStorage(s *StorageConfig) []error {
	if !validTokenStores[s.TokenStore] {
		return []error{fmt.Errorf("token_store: must be one of file, sqlite; got %q", s.TokenStore)}
	}

	return nil
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "books-go"

// File names inside the platform directories.
const (
	configFileName       = "config.toml"
	clientSecretFileName = "client_secret.json"
	tokenDirName         = "tokens"
	tokenDBFileName      = "credentials.db"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/books-go).
// On macOS, uses ~/Library/Application Support/books-go per Apple guidelines.
// Other platforms fall back to ~/.config/books-go.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application data
// (credential files and database).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/books-go).
// On macOS, config and data share ~/Library/Application Support/books-go.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither BOOKS_GO_CONFIG nor --config
// is specified.
func DefaultConfigPath() string {
	return joinIfDir(DefaultConfigDir(), configFileName)
}

// DefaultClientSecretPath is where client_secret.json is looked up when the
// client_secret_file key is unset: next to the config file.
func DefaultClientSecretPath() string {
	return joinIfDir(DefaultConfigDir(), clientSecretFileName)
}

// DefaultTokenDir is the FileStore directory when token_dir is unset.
func DefaultTokenDir() string {
	return joinIfDir(DefaultDataDir(), tokenDirName)
}

// DefaultTokenDB is the SQLiteStore path when token_db is unset.
func DefaultTokenDB() string {
	return joinIfDir(DefaultDataDir(), tokenDBFileName)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// expandTilde replaces a leading "~/" with the user's home directory.
// If os.UserHomeDir() fails, the path is returned unexpanded; validation
// of the resolved config reports it as not absolute.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}

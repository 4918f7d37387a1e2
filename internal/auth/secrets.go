package auth

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// BooksScope grants read/write access to the user's Books library.
const BooksScope = "https://www.googleapis.com/auth/books"

// DefaultRevokeURL is Google's token revocation endpoint (RFC 7009).
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// LoadClientSecrets reads a client secret bundle as downloaded from the
// Google Cloud console ({"installed": {...}} or {"web": {...}}) and returns
// an oauth2.Config for scopes. The redirect URL from the file is ignored by
// the browser grant, which always binds its own loopback port.
func LoadClientSecrets(path string, scopes ...string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: reading client secrets %s: %w", path, err)
	}

	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing client secrets %s: %w", path, err)
	}

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("auth: client secrets %s: missing client_id", path)
	}

	// ConfigFromJSON does not know the device endpoint.
	if cfg.Endpoint.DeviceAuthURL == "" {
		cfg.Endpoint.DeviceAuthURL = google.Endpoint.DeviceAuthURL
	}

	return cfg, nil
}

// Package credstore persists OAuth2 credentials keyed by the subject they
// belong to and the exact scope set they were granted for. It is a leaf
// package: auth/ and the CLI import it, it imports neither.
package credstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrStorageUnavailable wraps every I/O failure of a Store. Read paths treat
// it as "no cached credential"; write paths must fail the operation.
var ErrStorageUnavailable = errors.New("credstore: storage unavailable")

// expiryDelta is how long before the recorded expiry an access token is
// already treated as expired, so a token never expires in flight.
const expiryDelta = 10 * time.Second

// Key identifies a cached credential. A credential granted for a narrower
// scope set never satisfies a broader request, so scopes are part of the key.
type Key struct {
	Subject string
	Scopes  []string
}

// NewKey builds a Key with the scope set in canonical form.
func NewKey(subject string, scopes []string) Key {
	return Key{Subject: subject, Scopes: CanonicalScopes(scopes)}
}

// CanonicalScopes returns the scopes sorted and de-duplicated, with blanks
// dropped. The input slice is not modified.
func CanonicalScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))

	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	slices.Sort(out)

	return slices.Compact(out)
}

// ScopeString is the space-separated canonical scope set, the same encoding
// OAuth2 uses on the wire.
func (k Key) ScopeString() string {
	return strings.Join(CanonicalScopes(k.Scopes), " ")
}

// String renders the key for logs. It never contains token material.
func (k Key) String() string {
	return k.Subject + " [" + k.ScopeString() + "]"
}

// digest is a short stable hash of the raw subject and canonical scope set,
// used where the key itself is unsuitable (file names). The NUL separator
// keeps ("a b", "c") and ("a", "b c") apart.
func (k Key) digest() string {
	sum := sha256.Sum256([]byte(k.Subject + "\x00" + k.ScopeString()))
	return hex.EncodeToString(sum[:12])
}

// Credential is an OAuth2 token set plus the metadata identifying who it
// belongs to and where it can be refreshed.
type Credential struct {
	Subject   string        `json:"subject"`
	Scopes    []string      `json:"scopes"`
	Token     *oauth2.Token `json:"token"`
	ClientID  string        `json:"client_id,omitempty"`
	TokenURL  string        `json:"token_url,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Key returns the store key this credential is filed under.
func (c *Credential) Key() Key {
	return NewKey(c.Subject, c.Scopes)
}

// Expired reports whether the access token is missing or past its expiry at
// now. A zero expiry means the token never expires.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil || c.Token == nil || c.Token.AccessToken == "" {
		return true
	}

	if c.Token.Expiry.IsZero() {
		return false
	}

	return !now.Add(expiryDelta).Before(c.Token.Expiry)
}

// Refreshable reports whether a refresh token is available.
func (c *Credential) Refreshable() bool {
	return c != nil && c.Token != nil && c.Token.RefreshToken != ""
}

// Usable reports whether the credential can authorize a request at now,
// either directly or after a refresh.
func (c *Credential) Usable(now time.Time) bool {
	return !c.Expired(now) || c.Refreshable()
}

// Clone returns a deep copy so callers can mutate the token without racing
// other holders of the original.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}

	out := *c
	out.Scopes = slices.Clone(c.Scopes)

	if c.Token != nil {
		tok := *c.Token
		out.Token = &tok
	}

	return &out
}

// Store persists credentials durably across process restarts.
type Store interface {
	// Get returns (nil, nil) when no credential is cached for key.
	Get(ctx context.Context, key Key) (*Credential, error)
	Put(ctx context.Context, key Key, cred *Credential) error
	// Delete succeeds when no credential is cached for key.
	Delete(ctx context.Context, key Key) error
}

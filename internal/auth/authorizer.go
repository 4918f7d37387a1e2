package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/books-go/internal/credstore"
)

// revokeBodyLimit caps how much of a failed revocation response is kept.
const revokeBodyLimit = 4096

// Authorizer obtains credentials from the store or an interactive grant,
// and refreshes and revokes them.
type Authorizer struct {
	cfg        *oauth2.Config
	store      credstore.Store
	grant      Grant
	revokeURL  string
	httpClient *http.Client
	logger     *slog.Logger

	// nowFunc is injectable for deterministic expiry checks in tests.
	nowFunc func() time.Time
}

// Option customizes an Authorizer.
type Option func(*Authorizer)

// WithRevokeURL overrides DefaultRevokeURL.
func WithRevokeURL(u string) Option {
	return func(a *Authorizer) { a.revokeURL = u }
}

// WithHTTPClient sets the client used for token exchange, refresh and
// revocation. Defaults to http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authorizer) { a.httpClient = c }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.nowFunc = now }
}

// NewAuthorizer builds an Authorizer. cfg supplies client id/secret and
// endpoints; its Scopes are replaced per request.
func NewAuthorizer(cfg *oauth2.Config, store credstore.Store, grant Grant, logger *slog.Logger, opts ...Option) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Authorizer{
		cfg:        cfg,
		store:      store,
		grant:      grant,
		revokeURL:  DefaultRevokeURL,
		httpClient: http.DefaultClient,
		logger:     logger,
		nowFunc:    time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Authorize returns a credential for subject+scopes. A cached credential for
// the exact key is reused when its access token is still valid or it can be
// refreshed; otherwise an interactive grant runs and its result is stored.
// Store read failures degrade to "nothing cached"; store write failures fail
// the call.
func (a *Authorizer) Authorize(ctx context.Context, subject string, scopes []string) (*credstore.Credential, error) {
	key := credstore.NewKey(subject, scopes)

	cached, err := a.store.Get(ctx, key)
	if err != nil {
		a.logger.Warn("credential store unreadable, treating as not cached",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)

		cached = nil
	}

	if cached != nil && cached.Usable(a.nowFunc()) {
		a.logger.Info("using cached credential",
			slog.String("key", key.String()),
			slog.Time("expiry", cached.Token.Expiry),
			slog.Bool("expired", cached.Expired(a.nowFunc())),
		)

		return cached, nil
	}

	if cached != nil {
		a.logger.Info("cached credential expired and not refreshable",
			slog.String("key", key.String()),
		)
	}

	return a.interactive(ctx, key)
}

// Reauthorize always runs a fresh interactive grant for cred's subject and
// scopes and overwrites the stored entry. Used when the server has
// invalidated a credential the local cache still holds.
func (a *Authorizer) Reauthorize(ctx context.Context, cred *credstore.Credential) (*credstore.Credential, error) {
	if cred == nil {
		return nil, errors.New("auth: reauthorize: nil credential")
	}

	a.logger.Info("forcing reauthorization", slog.String("key", cred.Key().String()))

	return a.interactive(ctx, cred.Key())
}

func (a *Authorizer) interactive(ctx context.Context, key credstore.Key) (*credstore.Credential, error) {
	if a.grant == nil {
		return nil, errors.New("auth: interactive authorization is unavailable")
	}

	tok, err := a.grant.Obtain(a.withClient(ctx), a.scopedConfig(key.Scopes))
	if err != nil {
		return nil, classify(ctx, "interactive grant", err)
	}

	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("auth: interactive grant returned no access token")
	}

	cred := &credstore.Credential{
		Subject:   key.Subject,
		Scopes:    credstore.CanonicalScopes(key.Scopes),
		Token:     tok,
		ClientID:  a.cfg.ClientID,
		TokenURL:  a.cfg.Endpoint.TokenURL,
		UpdatedAt: a.nowFunc(),
	}

	if err := a.store.Put(ctx, key, cred); err != nil {
		return nil, fmt.Errorf("auth: saving credential for %s: %w", key, err)
	}

	a.logger.Info("authorization successful",
		slog.String("key", key.String()),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("refreshable", tok.RefreshToken != ""),
	)

	return cred, nil
}

// Refresh exchanges cred's refresh token for a new access token, persists
// the result and returns it. cred itself is not modified.
func (a *Authorizer) Refresh(ctx context.Context, cred *credstore.Credential) (*credstore.Credential, error) {
	if !cred.Refreshable() {
		return nil, fmt.Errorf("%w: no refresh token for %s", ErrInvalidGrant, cred.Key())
	}

	a.logger.Info("refreshing access token", slog.String("key", cred.Key().String()))

	// Force the library to refresh: it only does so for an invalid token.
	stale := &oauth2.Token{RefreshToken: cred.Token.RefreshToken}

	tok, err := a.scopedConfig(cred.Scopes).TokenSource(a.withClient(ctx), stale).Token()
	if err != nil {
		return nil, classify(ctx, "token refresh", err)
	}

	out := cred.Clone()
	out.Token = tok
	out.UpdatedAt = a.nowFunc()

	if out.Token.RefreshToken == "" {
		out.Token.RefreshToken = cred.Token.RefreshToken
	}

	if err := a.store.Put(ctx, out.Key(), out); err != nil {
		return nil, fmt.Errorf("auth: persisting refreshed credential for %s: %w", out.Key(), err)
	}

	a.logger.Info("token refreshed",
		slog.String("key", out.Key().String()),
		slog.Time("new_expiry", tok.Expiry),
	)

	return out, nil
}

// Revoke invalidates cred at the authorization server and then deletes the
// local cache entry. If the remote call fails the cache is left untouched.
func (a *Authorizer) Revoke(ctx context.Context, cred *credstore.Credential) error {
	if cred == nil || cred.Token == nil {
		return errors.New("auth: revoke: credential has no token")
	}

	// Revoking the refresh token also invalidates access tokens minted from it.
	token := cred.Token.RefreshToken
	if token == "" {
		token = cred.Token.AccessToken
	}

	a.logger.Info("revoking credential", slog.String("key", cred.Key().String()))

	if err := a.postRevocation(ctx, token); err != nil {
		return err
	}

	if err := a.store.Delete(ctx, cred.Key()); err != nil {
		return fmt.Errorf("auth: removing revoked credential for %s: %w", cred.Key(), err)
	}

	a.logger.Info("credential revoked", slog.String("key", cred.Key().String()))

	return nil
}

func (a *Authorizer) postRevocation(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("auth: building revocation request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return classify(ctx, "revocation request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, revokeBodyLimit))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: revocation: HTTP %d: %s", ErrNetwork, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return fmt.Errorf("auth: revocation rejected: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// scopedConfig copies the base config with scopes replaced.
func (a *Authorizer) scopedConfig(scopes []string) *oauth2.Config {
	conf := *a.cfg
	conf.Scopes = credstore.CanonicalScopes(scopes)

	return &conf
}

// withClient attaches the configured HTTP client for the oauth2 library.
func (a *Authorizer) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// Now returns the authorizer's clock reading.
func (a *Authorizer) Now() time.Time {
	return a.nowFunc()
}

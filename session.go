package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/tonimelisma/books-go/internal/auth"
	"github.com/tonimelisma/books-go/internal/books"
	"github.com/tonimelisma/books-go/internal/config"
	"github.com/tonimelisma/books-go/internal/credstore"
)

// Transport tuning for the shared HTTP client. Connect and overall request
// timeouts come from config.
const (
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second
	maxIdleConnsPerHost = 8
)

// grantFactory builds the interactive grant for the configured mode.
// Tests replace it to avoid real browsers and device codes.
var grantFactory = newGrant

// Backend is the wiring shared by every command that talks to Google: the
// credential store, the HTTP client and the Authorizer built on top of them.
// Commands that only inspect or remove credentials stop here; commands that
// call the API go on to a BooksSession.
type Backend struct {
	Store      credstore.Store
	Authorizer *auth.Authorizer
	HTTPClient *http.Client
	Key        credstore.Key

	cfg    *config.Resolved
	logger *slog.Logger
	close  func() error
}

// NewBackend opens the configured credential store, loads the client
// secrets and builds the Authorizer.
func NewBackend(ctx context.Context, cc *CLIContext) (*Backend, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	oauthCfg, err := auth.LoadClientSecrets(cfg.ClientSecretFile, cfg.Scopes...)
	if err != nil {
		_ = closeStore()

		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: download an OAuth client (type Desktop app) from the Google Cloud console "+
				"and save it there, or set client_secret_file", err)
		}

		return nil, err
	}

	httpClient := newHTTPClient(cfg)

	authorizer := auth.NewAuthorizer(oauthCfg, store, grantFactory(cc), logger,
		auth.WithRevokeURL(cfg.RevokeURL),
		auth.WithHTTPClient(httpClient),
	)

	return &Backend{
		Store:      store,
		Authorizer: authorizer,
		HTTPClient: httpClient,
		Key:        credstore.NewKey(cfg.User, cfg.Scopes),
		cfg:        cfg,
		logger:     logger,
		close:      closeStore,
	}, nil
}

// Close releases the credential store.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}

	return b.close()
}

// Cached returns the stored credential for the configured key, or nil.
func (b *Backend) Cached(ctx context.Context) (*credstore.Credential, error) {
	return b.Store.Get(ctx, b.Key)
}

// BooksSession holds an authorized session and the API client that draws
// tokens from it.
type BooksSession struct {
	*Backend

	Auth   *auth.Session
	Client *books.Client
}

// NewBooksSession authorizes the configured user (reusing a cached
// credential when possible) and builds the API client.
func NewBooksSession(ctx context.Context, b *Backend) (*BooksSession, error) {
	cred, err := b.Authorizer.Authorize(ctx, b.cfg.User, b.cfg.Scopes)
	if err != nil {
		return nil, fmt.Errorf("authorizing %s: %w", b.Key, err)
	}

	b.logger.Debug("authorized", slog.String("key", b.Key.String()), slog.Time("expiry", cred.Token.Expiry))

	sess := auth.NewSession(b.Authorizer, cred)
	client := books.NewClient(b.cfg.APIBaseURL, b.HTTPClient, sess, b.logger, b.cfg.UserAgent)

	return &BooksSession{
		Backend: b,
		Auth:    sess,
		Client:  client,
	}, nil
}

// WatchStore follows external changes to the session's credential file
// until ctx is canceled. Only the file backend can be watched; for SQLite
// this is a no-op.
func (s *BooksSession) WatchStore(ctx context.Context) {
	fs, ok := s.Store.(*credstore.FileStore)
	if !ok {
		return
	}

	w := credstore.NewWatcher(fs, s.Key, s.Auth.OnStoreChange, s.logger)

	go func() {
		if err := w.Run(ctx); err != nil {
			s.logger.Warn("credential watcher stopped", slog.String("error", err.Error()))
		}
	}()
}

// openStore builds the configured credential store backend. The returned
// close function is always non-nil.
func openStore(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (credstore.Store, func() error, error) {
	switch cfg.TokenStore {
	case config.StoreSQLite:
		s, err := credstore.OpenSQLiteStore(ctx, cfg.TokenDB, logger)
		if err != nil {
			return nil, nil, err
		}

		return s, s.Close, nil
	default:
		return credstore.NewFileStore(cfg.TokenDir, logger), func() error { return nil }, nil
	}
}

// newHTTPClient builds the client shared by token exchange, revocation and
// API calls.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{Transport: transport, Timeout: cfg.DataTimeout}
}

// newGrant picks the interactive grant. "auto" uses the browser flow when
// stdin is a terminal and the device flow otherwise.
func newGrant(cc *CLIContext) auth.Grant {
	mode := cc.Cfg.Grant
	if mode == config.GrantAuto {
		mode = config.GrantDevice
		if isTerminal(os.Stdin) {
			mode = config.GrantBrowser
		}
	}

	if mode == config.GrantDevice {
		return &auth.DeviceGrant{
			// Device code prompts must always be visible, not suppressed by --quiet.
			Display: func(da auth.DeviceAuth) {
				fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
				fmt.Fprintf(os.Stderr, "Enter code: %s\n", da.UserCode)
			},
			Logger: cc.Logger,
		}
	}

	return &auth.BrowserGrant{
		OpenURL: openBrowser,
		Prompt:  os.Stderr,
		Logger:  cc.Logger,
	}
}

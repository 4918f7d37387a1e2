package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/books-go/internal/credstore"
)

var testScopes = []string{BooksScope}

// testNow is the fixed clock for expiry decisions in tests.
var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// testLogger returns a debug-level logger so auth flow logs show up in
// verbose test output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockOAuth is an in-process authorization server: token endpoint (code
// exchange and refresh), device endpoint and revocation endpoint.
type mockOAuth struct {
	srv *httptest.Server

	refreshes   atomic.Int32
	exchanges   atomic.Int32
	revocations atomic.Int32

	mu sync.Mutex
	// refreshHandler overrides the refresh_token grant response.
	refreshHandler http.HandlerFunc
	// revokeStatus is the status the revocation endpoint answers with.
	revokeStatus int
	// revokedTokens records every token posted to /revoke.
	revokedTokens []string
	// refreshDelay slows refresh responses so concurrent callers overlap.
	refreshDelay time.Duration
	// deviceDenied makes device-code polling answer access_denied.
	deviceDenied bool
}

func newMockOAuth(t *testing.T) *mockOAuth {
	t.Helper()

	m := &mockOAuth{revokeStatus: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /token", m.handleToken)
	mux.HandleFunc("POST /revoke", m.handleRevoke)
	mux.HandleFunc("POST /devicecode", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"device_code": "test-device-code",
			"user_code": "ABCD-1234",
			"verification_uri": "https://www.google.com/device",
			"expires_in": 900,
			"interval": 1
		}`)
	})

	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)

	return m
}

func (m *mockOAuth) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		n := m.refreshes.Add(1)

		m.mu.Lock()
		handler := m.refreshHandler
		delay := m.refreshDelay
		m.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		if handler != nil {
			handler(w, r)
			return
		}

		writeToken(w, fmt.Sprintf("refreshed-access-%d", n), "")
	case "authorization_code":
		m.exchanges.Add(1)

		if r.PostForm.Get("code_verifier") == "" {
			writeOAuthError(w, "invalid_request", "missing code_verifier")
			return
		}

		writeToken(w, "exchanged-access-"+r.PostForm.Get("code"), "exchanged-refresh")
	case "urn:ietf:params:oauth:grant-type:device_code":
		m.mu.Lock()
		denied := m.deviceDenied
		m.mu.Unlock()

		if denied {
			writeOAuthError(w, "access_denied", "user declined")
			return
		}

		writeToken(w, "device-access", "device-refresh")
	default:
		writeOAuthError(w, "unsupported_grant_type", r.PostForm.Get("grant_type"))
	}
}

func (m *mockOAuth) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.revocations.Add(1)

	m.mu.Lock()
	status := m.revokeStatus
	if status < http.StatusMultipleChoices {
		m.revokedTokens = append(m.revokedTokens, r.PostForm.Get("token"))
	}
	m.mu.Unlock()

	w.WriteHeader(status)

	if status >= http.StatusBadRequest {
		fmt.Fprint(w, `{"error":"invalid_token"}`)
	}
}

func (m *mockOAuth) revoked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.revokedTokens...)
}

func (m *mockOAuth) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-abc",
		ClientSecret: "secret-xyz",
		Endpoint: oauth2.Endpoint{
			AuthURL:       m.srv.URL + "/auth",
			TokenURL:      m.srv.URL + "/token",
			DeviceAuthURL: m.srv.URL + "/devicecode",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

func (m *mockOAuth) revokeURL() string {
	return m.srv.URL + "/revoke"
}

func writeToken(w http.ResponseWriter, access, refresh string) {
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}

// fakeGrant stands in for the interactive flow and counts invocations.
type fakeGrant struct {
	calls  atomic.Int32
	err    error
	expiry time.Time
}

func (g *fakeGrant) Obtain(_ context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	n := g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}

	expiry := g.expiry
	if expiry.IsZero() {
		expiry = testNow.Add(time.Hour)
	}

	return &oauth2.Token{
		AccessToken:  fmt.Sprintf("granted-access-%d-%d", n, len(cfg.Scopes)),
		RefreshToken: fmt.Sprintf("granted-refresh-%d", n),
		TokenType:    "Bearer",
		Expiry:       expiry,
	}, nil
}

// failingStore wraps a real store and injects storage failures.
type failingStore struct {
	credstore.Store
	failGet bool
	failPut bool
	failDel bool
}

var errDiskGone = errors.New("disk gone")

func (s *failingStore) Get(ctx context.Context, key credstore.Key) (*credstore.Credential, error) {
	if s.failGet {
		return nil, fmt.Errorf("%w: %w", credstore.ErrStorageUnavailable, errDiskGone)
	}

	return s.Store.Get(ctx, key)
}

func (s *failingStore) Put(ctx context.Context, key credstore.Key, cred *credstore.Credential) error {
	if s.failPut {
		return fmt.Errorf("%w: %w", credstore.ErrStorageUnavailable, errDiskGone)
	}

	return s.Store.Put(ctx, key, cred)
}

func (s *failingStore) Delete(ctx context.Context, key credstore.Key) error {
	if s.failDel {
		return fmt.Errorf("%w: %w", credstore.ErrStorageUnavailable, errDiskGone)
	}

	return s.Store.Delete(ctx, key)
}

func newTestAuthorizer(t *testing.T, m *mockOAuth, store credstore.Store, grant Grant) *Authorizer {
	t.Helper()

	return NewAuthorizer(m.config(), store, grant, testLogger(t),
		WithRevokeURL(m.revokeURL()),
		WithClock(func() time.Time { return testNow }),
	)
}

// newLiveAuthorizer uses the wall clock, for tests whose tokens come back
// from the mock server with expiry relative to time.Now.
func newLiveAuthorizer(t *testing.T, m *mockOAuth, store credstore.Store, grant Grant) *Authorizer {
	t.Helper()

	return NewAuthorizer(m.config(), store, grant, testLogger(t), WithRevokeURL(m.revokeURL()))
}

func seedCredential(t *testing.T, store credstore.Store, tok *oauth2.Token) *credstore.Credential {
	t.Helper()

	cred := &credstore.Credential{
		Subject: "user",
		Scopes:  credstore.CanonicalScopes(testScopes),
		Token:   tok,
	}
	require.NoError(t, store.Put(context.Background(), cred.Key(), cred))

	return cred
}

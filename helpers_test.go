package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/books-go/internal/auth"
	"github.com/tonimelisma/books-go/internal/config"
)

// fakeLibrary is an httptest server playing both Google's OAuth endpoints
// and the Books API. Access tokens are valid until revoked.
type fakeLibrary struct {
	srv *httptest.Server

	mu      sync.Mutex
	valid   map[string]bool   // access token -> usable
	pairs   map[string]string // refresh token -> access token
	issued  int
	revokes int
	grants  int

	// withBroken adds a shelf whose volume listing is forbidden.
	withBroken bool
}

// withBrokenShelf makes the fake serve a shelf whose volumes are forbidden.
func withBrokenShelf(f *fakeLibrary) { f.withBroken = true }

func newFakeLibrary(t *testing.T, opts ...func(*fakeLibrary)) *fakeLibrary {
	t.Helper()

	f := &fakeLibrary{
		valid: make(map[string]bool),
		pairs: make(map[string]string),
	}

	for _, opt := range opts {
		opt(f)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	mux.HandleFunc("POST /revoke", f.handleRevoke)
	mux.HandleFunc("GET /books/v1/mylibrary/bookshelves", f.authorized(func(w http.ResponseWriter, _ *http.Request) {
		items := []map[string]any{
			{"id": 0, "title": "Favorites", "volumeCount": 2},
			{"id": 3, "title": "Reading now", "volumeCount": 0},
		}

		if f.withBroken {
			items = append(items, map[string]any{"id": 7, "title": "Broken", "volumeCount": 1})
		}

		items = append(items, map[string]any{"id": 4, "title": "Have read"})

		writeJSON(w, map[string]any{"items": items})
	}))
	mux.HandleFunc("GET /books/v1/mylibrary/bookshelves/{id}/volumes", f.authorized(func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "0":
			writeJSON(w, map[string]any{"totalItems": 2, "items": []map[string]any{
				{"id": "v1", "volumeInfo": map[string]any{"title": "Dune", "description": "Spice", "authors": []string{"Frank Herbert"}}},
				{"id": "v2", "volumeInfo": map[string]any{"title": "Emma"}},
			}})
		default:
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"message":"shelf is private"}}`)
		}
	}))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeLibrary) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := r.Header.Get("Authorization")

		f.mu.Lock()
		ok := len(tok) > len("Bearer ") && f.valid[tok[len("Bearer "):]]
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Invalid Credentials"}}`)

			return
		}

		next(w, r)
	}
}

func (f *fakeLibrary) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	tok := r.PostForm.Get("token")

	f.mu.Lock()
	defer f.mu.Unlock()

	f.revokes++

	if access, ok := f.pairs[tok]; ok {
		delete(f.valid, access)
		delete(f.pairs, tok)
	}

	delete(f.valid, tok)
}

// issue mints a new token pair the API accepts.
func (f *fakeLibrary) issue() *oauth2.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.issued++
	access := fmt.Sprintf("access-%d", f.issued)
	refresh := fmt.Sprintf("refresh-%d", f.issued)
	f.valid[access] = true
	f.pairs[refresh] = access

	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func (f *fakeLibrary) counts() (grants, revokes int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.grants, f.revokes
}

// Obtain implements auth.Grant by minting a token directly, standing in for
// the browser round trip.
func (f *fakeLibrary) Obtain(ctx context.Context, _ *oauth2.Config) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.grants++
	f.mu.Unlock()

	return f.issue(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// useGrant swaps grantFactory for the duration of the test.
func useGrant(t *testing.T, g auth.Grant) {
	t.Helper()

	old := grantFactory
	grantFactory = func(*CLIContext) auth.Grant { return g }

	t.Cleanup(func() { grantFactory = old })
}

// writeClientSecret writes an "installed" client secret bundle pointing at
// the fake server and returns its path.
func writeClientSecret(t *testing.T, dir, serverURL string) string {
	t.Helper()

	body := fmt.Sprintf(`{"installed":{
		"client_id":"test-client.apps.googleusercontent.com",
		"client_secret":"test-secret",
		"auth_uri":"%[1]s/auth",
		"token_uri":"%[1]s/token",
		"redirect_uris":["http://localhost"]
	}}`, serverURL)

	path := filepath.Join(dir, "client_secret.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

// testCLIContext builds a CLIContext wired to f with a file store in a temp
// dir, as PersistentPreRunE would after resolving config.
func testCLIContext(t *testing.T, f *fakeLibrary) *CLIContext {
	t.Helper()

	dir := t.TempDir()

	return &CLIContext{
		Flags: CLIFlags{Quiet: true},
		Cfg: &config.Resolved{
			ClientSecretFile: writeClientSecret(t, dir, f.srv.URL),
			User:             "user",
			Scopes:           []string{auth.BooksScope},
			Grant:            config.GrantBrowser,
			RevokeURL:        f.srv.URL + "/revoke",
			APIBaseURL:       f.srv.URL + "/books/v1",
			NestedWorkers:    1,
			TokenStore:       config.StoreFile,
			TokenDir:         filepath.Join(dir, "tokens"),
			TokenDB:          filepath.Join(dir, "credentials.db"),
			LogLevel:         "debug",
			LogFormat:        "text",
			ConnectTimeout:   5 * time.Second,
			DataTimeout:      10 * time.Second,
		},
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// testBackend builds a Backend for cc and closes it with the test.
func testBackend(t *testing.T, cc *CLIContext) *Backend {
	t.Helper()

	b, err := NewBackend(context.Background(), cc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return b
}

// testContext is canceled when the test ends, stopping any watcher
// goroutines a command started.
func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return ctx
}

// writeCLIConfig writes a config file wired to f and returns its path and
// the token directory it names.
func writeCLIConfig(t *testing.T, f *fakeLibrary) (cfgPath, tokenDir string) {
	t.Helper()

	dir := t.TempDir()
	tokenDir = filepath.Join(dir, "tokens")

	content := fmt.Sprintf(`
client_secret_file = %q
grant = "browser"
revoke_url = "%s/revoke"
api_base_url = "%s/books/v1"
token_dir = %q
token_db = %q
log_level = "error"
`, writeClientSecret(t, dir, f.srv.URL), f.srv.URL, f.srv.URL, tokenDir, filepath.Join(dir, "credentials.db"))

	cfgPath = filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	return cfgPath, tokenDir
}

// executeCLI runs the root command with args, isolated from the user's
// environment.
func executeCLI(t *testing.T, args ...string) error {
	t.Helper()

	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvUser, "")
	t.Setenv(config.EnvClientSecret, "")

	cmd := newRootCmd()
	cmd.SetArgs(args)

	return cmd.ExecuteContext(testContext(t))
}

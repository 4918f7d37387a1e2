package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
)

// Grant runs one interactive OAuth2 grant and returns the resulting token.
// cfg carries the scopes of the request and must not be retained.
type Grant interface {
	Obtain(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// BrowserGrant performs the authorization code + PKCE flow with a loopback
// redirect:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to the authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using the PKCE verifier
type BrowserGrant struct {
	// OpenURL launches the authorization URL. If nil or failing, the URL is
	// printed to Prompt so the user can open it manually.
	OpenURL func(string) error
	// Prompt receives user-facing instructions. Defaults to os.Stderr.
	Prompt io.Writer
	Logger *slog.Logger
}

// Obtain implements Grant.
func (g *BrowserGrant) Obtain(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting browser auth flow (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	conf := *cfg
	conf.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("auth: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	g.launchBrowser(authURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	logger.Info("received authorization code, exchanging for token")

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classify(ctx, "token exchange", err)
	}

	logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// startCallbackServer binds to 127.0.0.1:0 and starts an HTTP server with the
// given mux. Returns the server, the port, and any error.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("auth: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("auth: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			sendResult(resultCh, callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)})
		}
	}()

	return srv, port, nil
}

// registerCallbackHandler adds the callback route to the mux.
// Must be called before the browser redirects back.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	// Validate state to prevent CSRF.
	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		sendResult(resultCh, callbackResult{err: errors.New("auth: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)

		err := fmt.Errorf("auth: authorization failed: %s: %s", errParam, desc)
		if errParam == codeAccessDenied {
			err = fmt.Errorf("%w: %s", ErrUserDeniedConsent, desc)
		}

		sendResult(resultCh, callbackResult{err: err})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		sendResult(resultCh, callbackResult{err: errors.New("auth: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	sendResult(resultCh, callbackResult{code: code})
}

// sendResult delivers the first result only; later callbacks (browser
// retries, favicon-less reloads) are dropped instead of blocking the handler.
func sendResult(resultCh chan<- callbackResult, res callbackResult) {
	select {
	case resultCh <- res:
	default:
	}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL. If that is not possible it
// prints the URL so the user can copy-paste it.
func (g *BrowserGrant) launchBrowser(authURL string, logger *slog.Logger) {
	prompt := g.Prompt
	if prompt == nil {
		prompt = os.Stderr
	}

	if g.OpenURL == nil {
		fmt.Fprintf(prompt, "Open this URL in your browser:\n%s\n", authURL)
		return
	}

	logger.Info("opening browser for authorization")

	if openErr := g.OpenURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(prompt, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: browser auth: %w", ErrCancelled, ctx.Err())
	}
}

// generateState produces a cryptographically random hex string for the OAuth2
// state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// DeviceAuth holds the device code response fields shown to the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// DeviceGrant performs the device authorization flow for hosts without a
// browser: request a code, show it, poll until the user approves.
type DeviceGrant struct {
	Display func(DeviceAuth)
	Logger  *slog.Logger
}

// Obtain implements Grant.
func (g *DeviceGrant) Obtain(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting device code auth flow")

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, classify(ctx, "device auth request", err)
	}

	logger.Info("device code received, waiting for user authorization")

	if g.Display != nil {
		g.Display(DeviceAuth{
			UserCode:        da.UserCode,
			VerificationURI: da.VerificationURI,
		})
	}

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, classify(ctx, "device code authorization", err)
	}

	logger.Info("user authorized", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

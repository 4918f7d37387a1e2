package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/books-go/internal/config"
	"github.com/tonimelisma/books-go/internal/credstore"
)

// Token state constants for status reporting.
const (
	tokenStateMissing     = "missing"
	tokenStateValid       = "valid"
	tokenStateRefreshable = "expired, refreshable"
	tokenStateExpired     = "expired"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize access to your Google Books library",
		Long: `Authorize this client for the configured user and scopes.

A cached credential that is still valid or refreshable is reused; otherwise
the browser (or device code) flow runs and the result is stored.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the cached credential and remove it",
		RunE:  runLogout,
	}

	cmd.Flags().Bool("local", false, "only delete the cached credential, do not revoke it at Google")

	return cmd
}

func newReauthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reauth",
		Short: "Run a fresh authorization, replacing the cached credential",
		RunE:  runReauth,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached credential for the configured user",
		RunE:  runStatus,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	b, err := NewBackend(ctx, cc)
	if err != nil {
		return err
	}
	defer b.Close()

	cc.Logger.Info("login started", "key", b.Key.String())

	sess, err := NewBooksSession(ctx, b)
	if err != nil {
		return err
	}

	cred := sess.Auth.Credential()

	cc.Logger.Info("login successful", "key", b.Key.String())
	cc.Statusf("Logged in as %s (access token valid until %s).\n", cred.Subject, formatTime(cred.Token.Expiry))

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	localOnly, err := cmd.Flags().GetBool("local")
	if err != nil {
		return err
	}

	b, err := NewBackend(ctx, cc)
	if err != nil {
		return err
	}
	defer b.Close()

	cred, err := b.Cached(ctx)
	if err != nil {
		return err
	}

	if cred == nil {
		cc.Statusf("Not logged in as %s.\n", b.Key.Subject)
		return nil
	}

	cc.Logger.Info("logout started", "key", b.Key.String(), "local", localOnly)

	if localOnly {
		if err := b.Store.Delete(ctx, b.Key); err != nil {
			return err
		}

		cc.Statusf("Removed cached credential for %s.\n", b.Key.Subject)

		return nil
	}

	if err := b.Authorizer.Revoke(ctx, cred); err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}

	cc.Logger.Info("logout successful", "key", b.Key.String())
	cc.Statusf("Logged out.\n")

	return nil
}

func runReauth(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	b, err := NewBackend(ctx, cc)
	if err != nil {
		return err
	}
	defer b.Close()

	// A read failure means nothing usable is cached; reauthorize from scratch.
	cred, err := b.Cached(ctx)
	if err != nil || cred == nil {
		cred = &credstore.Credential{Subject: b.Key.Subject, Scopes: b.Key.Scopes}
	}

	fresh, err := b.Authorizer.Reauthorize(ctx, cred)
	if err != nil {
		return fmt.Errorf("reauthorizing %s: %w", b.Key, err)
	}

	cc.Statusf("Reauthorized %s (access token valid until %s).\n", fresh.Subject, formatTime(fresh.Token.Expiry))

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	User         string     `json:"user"`
	Scopes       []string   `json:"scopes"`
	TokenStore   string     `json:"token_store"`
	Location     string     `json:"location"`
	TokenState   string     `json:"token_state"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	HasRefresh   bool       `json:"has_refresh_token"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
	StorageError string     `json:"storage_error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	// Status needs the store only, not client secrets.
	store, closeStore, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer closeStore()

	key := credstore.NewKey(cc.Cfg.User, cc.Cfg.Scopes)

	out := statusOutput{
		User:       key.Subject,
		Scopes:     key.Scopes,
		TokenStore: cc.Cfg.TokenStore,
		Location:   storeLocation(cc.Cfg),
		TokenState: tokenStateMissing,
	}

	cred, err := store.Get(ctx, key)
	if err != nil {
		out.StorageError = err.Error()
	}

	fillTokenState(&out, cred, time.Now())

	if cc.Flags.JSON {
		return printStatusJSON(os.Stdout, &out)
	}

	printStatusText(os.Stdout, &out)

	return nil
}

func storeLocation(cfg *config.Resolved) string {
	if cfg.TokenStore == config.StoreSQLite {
		return cfg.TokenDB
	}

	return cfg.TokenDir
}

func fillTokenState(out *statusOutput, cred *credstore.Credential, now time.Time) {
	if cred == nil || cred.Token == nil {
		out.TokenState = tokenStateMissing
		return
	}

	out.HasRefresh = cred.Refreshable()

	switch {
	case !cred.Expired(now):
		out.TokenState = tokenStateValid
	case cred.Refreshable():
		out.TokenState = tokenStateRefreshable
	default:
		out.TokenState = tokenStateExpired
	}

	if !cred.Token.Expiry.IsZero() {
		expiry := cred.Token.Expiry
		out.Expiry = &expiry
	}

	if !cred.UpdatedAt.IsZero() {
		updated := cred.UpdatedAt
		out.LastUpdated = &updated
	}
}

func printStatusJSON(w io.Writer, out *statusOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, out *statusOutput) {
	rows := [][]string{
		{"User", out.User},
		{"Scopes", fmt.Sprint(out.Scopes)},
		{"Store", out.TokenStore + " (" + out.Location + ")"},
		{"Token", out.TokenState},
	}

	if out.Expiry != nil {
		rows = append(rows, []string{"Expires", formatTime(*out.Expiry)})
	}

	if out.LastUpdated != nil {
		rows = append(rows, []string{"Updated", formatTime(*out.LastUpdated)})
	}

	if out.StorageError != "" {
		rows = append(rows, []string{"Warning", out.StorageError})
	}

	printTable(w, []string{"FIELD", "VALUE"}, rows)
}

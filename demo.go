package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/books-go/internal/auth"
)

// errRevokedListingSucceeded means the API accepted a token after it was
// revoked. The demo treats that as a failure of the revocation step.
var errRevokedListingSucceeded = errors.New("listing after revocation succeeded, expected an invalid grant")

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "List, revoke, fail, reauthorize and list again",
		Long: `Run the full credential lifecycle against your library:

  1. authorize (reusing a cached credential when possible) and list
  2. revoke the credential
  3. list again, which must fail with an invalid grant
  4. reauthorize interactively and list once more`,
		RunE: runDemo,
	}
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	b, err := NewBackend(ctx, cc)
	if err != nil {
		return err
	}
	defer b.Close()

	return demo(ctx, cc, b, os.Stdout)
}

func demo(ctx context.Context, cc *CLIContext, b *Backend, w io.Writer) error {
	fmt.Fprintln(w, "Books API Sample: List MyLibrary")
	fmt.Fprintln(w, "================================")

	sess, err := NewBooksSession(ctx, b)
	if err != nil {
		return err
	}

	sess.WatchStore(ctx)

	if err := demoList(ctx, cc, sess, w); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n!!!REVOKE ACCESS TOKEN!!!\n\n")

	if err := sess.Auth.Revoke(ctx); err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}

	err = demoList(ctx, cc, sess, w)

	switch {
	case err == nil:
		return errRevokedListingSucceeded
	case errors.Is(err, auth.ErrInvalidGrant):
		fmt.Fprintf(w, "Listing failed as expected: %v\n", err)
	default:
		return err
	}

	cc.Logger.Info("reauthorizing after revocation", "key", b.Key.String())

	if _, err := sess.Auth.Reauthorize(ctx); err != nil {
		return fmt.Errorf("reauthorizing %s: %w", b.Key, err)
	}

	return demoList(ctx, cc, sess, w)
}

func demoList(ctx context.Context, cc *CLIContext, sess *BooksSession, w io.Writer) error {
	fmt.Fprintf(w, "\nListing Bookshelves...\n")
	fmt.Fprintln(w, "======================")

	return listLibrary(ctx, cc, sess.Client, w, false)
}

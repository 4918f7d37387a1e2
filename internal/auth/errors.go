// Package auth obtains, refreshes and revokes OAuth2 credentials for the
// Books API and hands out bearer tokens to the HTTP client through Session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/oauth2"
)

// Error taxonomy shared by the authorization flow and the authorized
// transport. Use errors.Is(err, auth.ErrInvalidGrant) to check.
var (
	// ErrUserDeniedConsent is terminal: the user refused the grant.
	ErrUserDeniedConsent = errors.New("auth: user denied consent")
	// ErrInvalidGrant means the credential is permanently unusable and a
	// fresh Authorize or Reauthorize is required. Never retry with the same
	// token.
	ErrInvalidGrant = errors.New("auth: invalid grant")
	// ErrNetwork is transient; callers may retry with backoff.
	ErrNetwork = errors.New("auth: network error")
	// ErrCancelled means the caller's context ended the operation.
	ErrCancelled = errors.New("auth: cancelled")
)

// OAuth2 error codes (RFC 6749 §5.2, RFC 8628 §3.5).
const (
	codeAccessDenied  = "access_denied"
	codeInvalidGrant  = "invalid_grant"
	codeExpiredToken  = "expired_token"
	codeInvalidToken  = "invalid_token"
	codeUnauthorized  = "unauthorized_client"
	codeInvalidClient = "invalid_client"
)

// classify maps an error from the oauth2 library, the network or the context
// onto the taxonomy, keeping the original error in the chain. Errors already
// classified are returned unchanged.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	for _, known := range []error{ErrUserDeniedConsent, ErrInvalidGrant, ErrNetwork, ErrCancelled} {
		if errors.Is(err, known) {
			return err
		}
	}

	// Only the caller's own context makes an error a cancellation. Client
	// timeouts and the detached refresh deadline are network failures.
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %w", ErrCancelled, op, err)
	}

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: timed out: %w", ErrNetwork, op, err)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case codeAccessDenied:
			return fmt.Errorf("%w: %s: %w", ErrUserDeniedConsent, op, err)
		case codeInvalidGrant, codeExpiredToken, codeInvalidToken, codeUnauthorized, codeInvalidClient:
			return fmt.Errorf("%w: %s: %w", ErrInvalidGrant, op, err)
		}

		if re.Response != nil && re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
		}

		return fmt.Errorf("auth: %s: %w", op, err)
	}

	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
	}

	return fmt.Errorf("auth: %s: %w", op, err)
}

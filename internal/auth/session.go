package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/books-go/internal/credstore"
)

// refreshTimeout bounds a shared refresh exchange, which runs detached from
// any single caller's context.
const refreshTimeout = 30 * time.Second

// Session hands out bearer tokens for one credential. It refreshes expired
// access tokens with at most one exchange in flight; concurrent callers wait
// for that exchange instead of starting their own, so a rotating refresh
// token is never spent twice.
type Session struct {
	auth   *Authorizer
	store  credstore.Store
	logger *slog.Logger

	mu      sync.Mutex
	cred    *credstore.Credential
	revoked bool
	stale   bool

	refresh        singleflight.Group
	refreshTimeout time.Duration
}

// NewSession wraps cred, as returned by Authorize or Reauthorize.
func NewSession(a *Authorizer, cred *credstore.Credential) *Session {
	return &Session{
		auth:   a,
		store:  a.store,
		logger: a.logger,
		cred:   cred.Clone(),

		refreshTimeout: refreshTimeout,
	}
}

// Credential returns a copy of the current credential.
func (s *Session) Credential() *credstore.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cred.Clone()
}

// Token returns a valid access token. An expired token is refreshed first;
// a credential that cannot be refreshed, or whose refresh is rejected, or
// that was revoked, yields ErrInvalidGrant without any request being sent.
func (s *Session) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	cred, err := s.current(ctx)
	if err != nil {
		return "", err
	}

	if !cred.Expired(s.auth.nowFunc()) {
		return cred.Token.AccessToken, nil
	}

	if !cred.Refreshable() {
		return "", fmt.Errorf("%w: access token for %s expired and no refresh token is available",
			ErrInvalidGrant, cred.Key())
	}

	ch := s.refresh.DoChan(cred.Key().String(), func() (any, error) {
		return s.doRefresh(cred)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		refreshed, _ := res.Val.(*credstore.Credential)

		return refreshed.Token.AccessToken, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for token refresh: %w", ErrCancelled, ctx.Err())
	}
}

// current returns the credential to use, re-reading the store first if an
// external change was signalled.
func (s *Session) current(ctx context.Context) (*credstore.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revoked {
		return nil, fmt.Errorf("%w: credential for %s has been revoked", ErrInvalidGrant, s.cred.Key())
	}

	if s.stale {
		s.stale = false

		fresh, err := s.store.Get(ctx, s.cred.Key())

		switch {
		case err != nil:
			s.logger.Warn("could not reload credential, keeping in-memory copy",
				slog.String("error", err.Error()),
			)
		case fresh == nil:
			s.logger.Info("credential removed from store, session invalidated",
				slog.String("key", s.cred.Key().String()),
			)

			s.revoked = true

			return nil, fmt.Errorf("%w: credential for %s was removed", ErrInvalidGrant, s.cred.Key())
		default:
			s.cred = fresh
		}
	}

	return s.cred.Clone(), nil
}

// doRefresh runs inside the singleflight group. The exchange is detached
// from every caller's context; a cancelled caller only stops waiting.
func (s *Session) doRefresh(cred *credstore.Credential) (*credstore.Credential, error) {
	s.mu.Lock()
	// Another flight may have completed between the caller's check and now.
	if !s.revoked && s.cred.Token.AccessToken != cred.Token.AccessToken && !s.cred.Expired(s.auth.nowFunc()) {
		done := s.cred.Clone()
		s.mu.Unlock()

		return done, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()

	refreshed, err := s.auth.Refresh(ctx, cred)
	if err != nil && ctx.Err() != nil {
		// No caller cancelled this exchange; it ran out of time.
		err = fmt.Errorf("%w: token refresh did not finish within %s: %v", ErrNetwork, s.refreshTimeout, err)
	}

	if err != nil {
		s.logger.Warn("token refresh failed",
			slog.String("key", cred.Key().String()),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revoked {
		return nil, fmt.Errorf("%w: credential for %s was revoked during refresh", ErrInvalidGrant, cred.Key())
	}

	s.cred = refreshed

	return refreshed.Clone(), nil
}

// Revoke revokes the session's credential remotely and locally. After a
// successful call every Token call fails with ErrInvalidGrant until Replace.
func (s *Session) Revoke(ctx context.Context) error {
	cred := s.Credential()

	if err := s.auth.Revoke(ctx, cred); err != nil {
		return err
	}

	s.mu.Lock()
	s.revoked = true
	s.mu.Unlock()

	return nil
}

// Reauthorize runs a fresh interactive grant for the session's key and
// installs the result.
func (s *Session) Reauthorize(ctx context.Context) (*credstore.Credential, error) {
	cred, err := s.auth.Reauthorize(ctx, s.Credential())
	if err != nil {
		return nil, err
	}

	s.Replace(cred)

	return cred.Clone(), nil
}

// Replace installs a new credential and clears any revoked state.
func (s *Session) Replace(cred *credstore.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = cred.Clone()
	s.revoked = false
	s.stale = false
}

// Invalidate marks the in-memory copy stale so the next Token call re-reads
// the store. Wired to credstore.Watcher for changes by other processes.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stale = true
}

// OnStoreChange adapts Invalidate to credstore.Watcher's callback.
func (s *Session) OnStoreChange(kind credstore.ChangeKind) {
	s.logger.Debug("credential store changed", slog.String("change", kind.String()))
	s.Invalidate()
}

package auth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/books-go/internal/credstore"
)

func newTestSession(t *testing.T, m *mockOAuth, store credstore.Store, tok *oauth2.Token) *Session {
	t.Helper()

	cred := seedCredential(t, store, tok)

	return NewSession(newLiveAuthorizer(t, m, store, &fakeGrant{expiry: time.Now().Add(time.Hour)}), cred)
}

func TestSession_ValidTokenNoRefresh(t *testing.T) {
	m := newMockOAuth(t)
	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken:  "live",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	})

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", tok)
	assert.Equal(t, int32(0), m.refreshes.Load())
}

func TestSession_ExpiredTokenRefreshesAndPersists(t *testing.T) {
	m := newMockOAuth(t)
	store := credstore.NewFileStore(t.TempDir(), nil)
	s := newTestSession(t, m, store, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "r",
		Expiry:       time.Now().Add(-time.Minute),
	})

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", tok)

	// Second call uses the refreshed token.
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", tok)
	assert.Equal(t, int32(1), m.refreshes.Load())

	stored, err := store.Get(context.Background(), s.Credential().Key())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", stored.Token.AccessToken)
	assert.Equal(t, "r", stored.Token.RefreshToken)
}

func TestSession_ConcurrentCallersShareOneRefresh(t *testing.T) {
	m := newMockOAuth(t)
	m.refreshDelay = 100 * time.Millisecond

	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "r",
		Expiry:       time.Now().Add(-time.Minute),
	})

	const callers = 16

	var wg sync.WaitGroup

	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			tokens[i], errs[i] = s.Token(context.Background())
		}()
	}

	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-access-1", tokens[i])
	}

	assert.Equal(t, int32(1), m.refreshes.Load(), "exactly one refresh exchange")
}

func TestSession_ExpiredWithoutRefreshTokenIsInvalidGrant(t *testing.T) {
	m := newMockOAuth(t)
	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	})

	_, err := s.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Equal(t, int32(0), m.refreshes.Load())
}

func TestSession_RejectedRefreshIsInvalidGrant(t *testing.T) {
	m := newMockOAuth(t)
	m.refreshHandler = func(w http.ResponseWriter, _ *http.Request) {
		writeOAuthError(w, "invalid_grant", "Token has been expired or revoked.")
	}

	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "dead",
		Expiry:       time.Now().Add(-time.Minute),
	})

	_, err := s.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestSession_RevokeThenReauthorize(t *testing.T) {
	m := newMockOAuth(t)
	store := credstore.NewFileStore(t.TempDir(), nil)
	s := newTestSession(t, m, store, &oauth2.Token{
		AccessToken:  "live",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	})

	require.NoError(t, s.Revoke(context.Background()))

	_, err := s.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	stored, err := store.Get(context.Background(), s.Credential().Key())
	require.NoError(t, err)
	assert.Nil(t, stored)

	cred, err := s.Reauthorize(context.Background())
	require.NoError(t, err)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cred.Token.AccessToken, tok)
	assert.Equal(t, int32(0), m.refreshes.Load())
}

func TestSession_RevokeFailureKeepsSessionUsable(t *testing.T) {
	m := newMockOAuth(t)
	m.revokeStatus = http.StatusBadGateway

	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken: "live",
		Expiry:      time.Now().Add(time.Hour),
	})

	err := s.Revoke(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", tok)
}

func TestSession_InvalidateAfterExternalRemoval(t *testing.T) {
	m := newMockOAuth(t)
	store := credstore.NewFileStore(t.TempDir(), nil)
	s := newTestSession(t, m, store, &oauth2.Token{
		AccessToken: "live",
		Expiry:      time.Now().Add(time.Hour),
	})

	require.NoError(t, store.Delete(context.Background(), s.Credential().Key()))
	s.OnStoreChange(credstore.ChangeRemoved)

	_, err := s.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestSession_InvalidatePicksUpExternalWrite(t *testing.T) {
	m := newMockOAuth(t)
	store := credstore.NewFileStore(t.TempDir(), nil)
	s := newTestSession(t, m, store, &oauth2.Token{
		AccessToken: "live",
		Expiry:      time.Now().Add(time.Hour),
	})

	updated := s.Credential()
	updated.Token.AccessToken = "from-other-process"
	require.NoError(t, store.Put(context.Background(), updated.Key(), updated))

	s.Invalidate()

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-other-process", tok)
}

func TestSession_InvalidateWithUnreadableStoreKeepsMemory(t *testing.T) {
	m := newMockOAuth(t)
	store := &failingStore{Store: credstore.NewFileStore(t.TempDir(), nil)}
	s := newTestSession(t, m, store, &oauth2.Token{
		AccessToken: "live",
		Expiry:      time.Now().Add(time.Hour),
	})

	store.failGet = true
	s.Invalidate()

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", tok)
}

func TestSession_ReplaceClearsRevoked(t *testing.T) {
	m := newMockOAuth(t)
	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken: "live",
		Expiry:      time.Now().Add(time.Hour),
	})

	require.NoError(t, s.Revoke(context.Background()))

	next := s.Credential()
	next.Token = &oauth2.Token{AccessToken: "replacement", Expiry: time.Now().Add(time.Hour)}
	s.Replace(next)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "replacement", tok)
}

func TestSession_CancelledContext(t *testing.T) {
	m := newMockOAuth(t)
	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken: "live",
		Expiry:      time.Now().Add(time.Hour),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Token(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestSession_CancelledWaiterDoesNotAbortRefresh(t *testing.T) {
	m := newMockOAuth(t)
	m.refreshDelay = 300 * time.Millisecond

	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "r",
		Expiry:       time.Now().Add(-time.Minute),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Token(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access-1", tok)
	assert.Equal(t, int32(1), m.refreshes.Load())
}

func TestSession_SharedRefreshDeadlineIsNetworkError(t *testing.T) {
	m := newMockOAuth(t)
	m.refreshDelay = 500 * time.Millisecond

	s := newTestSession(t, m, credstore.NewFileStore(t.TempDir(), nil), &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "r",
		Expiry:       time.Now().Add(-time.Hour),
	})
	s.refreshTimeout = 50 * time.Millisecond

	_, err := s.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrCancelled)
}

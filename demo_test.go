package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/books-go/internal/credstore"
)

func TestDemo_FullLifecycle(t *testing.T) {
	f := newFakeLibrary(t)
	useGrant(t, f)

	cc := testCLIContext(t, f)
	b := testBackend(t, cc)

	var buf bytes.Buffer
	require.NoError(t, demo(testContext(t), cc, b, &buf))

	out := buf.String()

	// Listed twice successfully, with the failed listing in between.
	assert.Equal(t, 2, strings.Count(out, "-- Dune\tSpice"))
	assert.Equal(t, 3, strings.Count(out, "Listing Bookshelves..."))
	assert.Contains(t, out, "!!!REVOKE ACCESS TOKEN!!!")
	assert.Contains(t, out, "Listing failed as expected:")

	revokeAt := strings.Index(out, "!!!REVOKE")
	failAt := strings.Index(out, "failed as expected")
	assert.Less(t, revokeAt, failAt)

	grants, revokes := f.counts()
	assert.Equal(t, 2, grants, "initial authorize and reauthorize")
	assert.Equal(t, 1, revokes)

	// The reauthorized credential replaced the revoked one in the store.
	cred, err := b.Store.Get(context.Background(), b.Key)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "access-2", cred.Token.AccessToken)
}

func TestDemo_ReusesCachedCredential(t *testing.T) {
	f := newFakeLibrary(t)
	useGrant(t, f)

	cc := testCLIContext(t, f)
	b := testBackend(t, cc)

	// Seed the cache as a previous login would.
	tok := f.issue()
	require.NoError(t, b.Store.Put(context.Background(), b.Key, &credstore.Credential{
		Subject: b.Key.Subject,
		Scopes:  b.Key.Scopes,
		Token:   tok,
	}))

	var buf bytes.Buffer
	require.NoError(t, demo(testContext(t), cc, b, &buf))

	grants, _ := f.counts()
	assert.Equal(t, 1, grants, "only the reauthorization is interactive")
}

func TestDemo_CancelledContext(t *testing.T) {
	f := newFakeLibrary(t)
	useGrant(t, f)

	cc := testCLIContext(t, f)
	b := testBackend(t, cc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := demo(ctx, cc, b, &buf)
	require.Error(t, err)
}

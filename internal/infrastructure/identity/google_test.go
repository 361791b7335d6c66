package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGoogleTest(t *testing.T, handler http.HandlerFunc) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewGoogleProvider(srv.URL, time.Second, time.Minute, zap.NewNop().Sugar())
	t.Cleanup(p.Stop)
	return p
}

func TestGoogleProvider_ResolvesVerifiedEmail(t *testing.T) {
	p := newGoogleTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		w.Write([]byte(`{"email":"Alice@Co.com","email_verified":true}`))
	})

	identity, err := p.ResolveIdentity(context.Background(), "tok123")
	require.NoError(t, err)
	assert.Equal(t, "alice@co.com", identity)

	ok, err := p.VerifyEmail(context.Background(), "tok123", "alice@co.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGoogleProvider_UnverifiedEmailIsAnonymous(t *testing.T) {
	p := newGoogleTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"email":"alice@co.com","email_verified":false}`))
	})

	// An unverified claim proves nothing, so the token is treated as an
	// anonymous board token and resolves to itself.
	identity, err := p.ResolveIdentity(context.Background(), "tok123")
	require.NoError(t, err)
	assert.Equal(t, "tok123", identity)

	ok, err := p.VerifyEmail(context.Background(), "tok123", "alice@co.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGoogleProvider_UnknownTokenResolvesToItself(t *testing.T) {
	p := newGoogleTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	// Anonymous board tokens are not provider credentials; the provider
	// refusing them must not lock anonymous users out.
	identity, err := p.ResolveIdentity(context.Background(), "boardtok")
	require.NoError(t, err)
	assert.Equal(t, "boardtok", identity)
}

func TestGoogleProvider_PassthroughNeverProvesEmail(t *testing.T) {
	p := newGoogleTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	// A token that happens to equal the claimed email still resolves to
	// itself, but must not count as proof of the address.
	identity, err := p.ResolveIdentity(context.Background(), "eve@co.com")
	require.NoError(t, err)
	assert.Equal(t, "eve@co.com", identity)

	ok, err := p.VerifyEmail(context.Background(), "eve@co.com", "eve@co.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGoogleProvider_CachesLookups(t *testing.T) {
	var calls atomic.Int64
	p := newGoogleTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"email":"alice@co.com","email_verified":true}`))
	})

	for i := 0; i < 5; i++ {
		_, err := p.ResolveIdentity(context.Background(), "tok123")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestGoogleProvider_UpstreamFailure(t *testing.T) {
	p := newGoogleTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := p.ResolveIdentity(context.Background(), "tok123")
	assert.Error(t, err)
}

package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenward/internal/testing/mock"
	"tokenward/internal/tokenstore"
	"tokenward/pkg/oauth"
)

func newServiceAccount(t *testing.T, cfg mock.OAuthServerConfig) (*ServiceAccount, *mock.OAuthServer, *tokenstore.MemoryStore, *mock.Clock) {
	t.Helper()

	idp := mock.NewOAuthServer(t, cfg)
	clock := mock.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := tokenstore.NewMemoryStore()
	ex := oauth.NewExchanger(oauth.NewDiscoveryCache(idp.DiscoveryURL()), "svc-client", "s3cret", oauth.WithClock(clock.Now))

	return NewServiceAccount(ex, store, "svc-client", "tracker", 0, clock.Now), idp, store, clock
}

// A client-credentials token lives only under the service
// principal.
func TestServiceAccount_StoresUnderServicePrincipal(t *testing.T) {
	sa, idp, store, _ := newServiceAccount(t, mock.OAuthServerConfig{ClientID: "svc-client", ClientSecret: "s3cret", ExpiresIn: 3600})
	ctx := context.Background()

	assert.Equal(t, oauth.Principal("service:svc-client"), sa.Principal())

	token, err := sa.ValidToken(ctx, sa.Principal())
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	principals, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []oauth.Principal{"service:svc-client"}, principals)

	set, err := store.Load(ctx, sa.Principal())
	require.NoError(t, err)
	assert.Equal(t, token, set.AccessToken)
	assert.Empty(t, set.RefreshToken)

	again, err := sa.ValidToken(ctx, sa.Principal())
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Equal(t, 1, idp.TokenCalls(oauth.GrantClientCredentials))
}

func TestServiceAccount_RefusesUserPrincipal(t *testing.T) {
	sa, idp, _, _ := newServiceAccount(t, mock.OAuthServerConfig{ClientID: "svc-client"})

	_, err := sa.ValidToken(context.Background(), oauth.UserPrincipal("1000001"))
	assert.Error(t, err)
	assert.Zero(t, idp.TokenCalls(oauth.GrantClientCredentials))
}

func TestServiceAccount_RequestsAgainAfterExpiry(t *testing.T) {
	sa, idp, _, clock := newServiceAccount(t, mock.OAuthServerConfig{ClientID: "svc-client", ExpiresIn: 300})
	ctx := context.Background()

	first, err := sa.ValidToken(ctx, sa.Principal())
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)

	second, err := sa.ValidToken(ctx, sa.Principal())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, idp.TokenCalls(oauth.GrantClientCredentials))
	assert.Zero(t, idp.TokenCalls(oauth.GrantRefreshToken))
}

func TestServiceAccount_ForceRefresh(t *testing.T) {
	sa, idp, _, _ := newServiceAccount(t, mock.OAuthServerConfig{ClientID: "svc-client"})
	ctx := context.Background()

	first, err := sa.ValidToken(ctx, sa.Principal())
	require.NoError(t, err)

	second, err := sa.ForceRefresh(ctx, sa.Principal(), first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	third, err := sa.ForceRefresh(ctx, sa.Principal(), first)
	require.NoError(t, err)
	assert.Equal(t, second, third)
	assert.Equal(t, 2, idp.TokenCalls(oauth.GrantClientCredentials))
}

func TestServiceAccount_ExchangeFailure(t *testing.T) {
	sa, idp, store, _ := newServiceAccount(t, mock.OAuthServerConfig{ClientID: "svc-client"})
	ctx := context.Background()

	idp.QueueTokenResponse(http.StatusServiceUnavailable, `{"error":"temporarily_unavailable"}`)

	_, err := sa.ValidToken(ctx, sa.Principal())
	assert.True(t, oauth.IsReason(err, oauth.ReasonNetwork), "got %v", err)

	_, err = store.Load(ctx, sa.Principal())
	assert.True(t, errors.Is(err, tokenstore.ErrNotFound))
}

func TestServiceAccount_Logout(t *testing.T) {
	sa, idp, store, _ := newServiceAccount(t, mock.OAuthServerConfig{ClientID: "svc-client"})
	ctx := context.Background()

	token, err := sa.ValidToken(ctx, sa.Principal())
	require.NoError(t, err)

	require.NoError(t, sa.Logout(ctx, sa.Principal()))

	_, err = store.Load(ctx, sa.Principal())
	assert.True(t, errors.Is(err, tokenstore.ErrNotFound))
	require.Len(t, idp.Revocations(), 1)
	assert.Equal(t, token, idp.Revocations()[0].Token)
}

func TestServiceAccount_CallerCancellationDoesNotFailJoiners(t *testing.T) {
	sa, idp, store, _ := newServiceAccount(t, mock.OAuthServerConfig{ClientID: "svc-client", TokenDelay: 200 * time.Millisecond})
	ctx := context.Background()

	impatient, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	var (
		wg           sync.WaitGroup
		errImpatient error
		errPatient   error
		token        string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errImpatient = sa.ValidToken(impatient, sa.Principal())
	}()
	go func() {
		defer wg.Done()
		token, errPatient = sa.ValidToken(ctx, sa.Principal())
	}()
	wg.Wait()

	assert.ErrorIs(t, errImpatient, context.DeadlineExceeded)
	require.NoError(t, errPatient)

	set, err := store.Load(ctx, sa.Principal())
	require.NoError(t, err)
	assert.Equal(t, token, set.AccessToken)
	assert.Equal(t, 1, idp.TokenCalls(oauth.GrantClientCredentials))
}

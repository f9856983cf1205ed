package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenward/internal/session"
	"tokenward/internal/testing/mock"
	"tokenward/internal/tokenstore"
	"tokenward/pkg/oauth"
)

// fakeTokens hands out numbered tokens and records calls.
type fakeTokens struct {
	mu        sync.Mutex
	current   string
	refreshes int
	logouts   int
	refreshFn func() (string, error)
}

func (f *fakeTokens) ValidToken(context.Context, oauth.Principal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeTokens) ForceRefresh(_ context.Context, _ oauth.Principal, rejected string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshFn != nil {
		return f.refreshFn()
	}
	f.current = rejected + "-refreshed"
	return f.current, nil
}

func (f *fakeTokens) Logout(context.Context, oauth.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

type retryRecorder struct {
	accepted, rejected int
}

func (r *retryRecorder) Retried(succeeded bool) {
	if succeeded {
		r.accepted++
	} else {
		r.rejected++
	}
}

func TestDo_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokens := &fakeTokens{current: "tok"}
	c := New(srv.URL, tokens)

	resp, err := c.Get(context.Background(), "user:1", "/thing")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Zero(t, tokens.refreshes)
}

func TestDo_OnlyUnauthorizedIsRetried(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusInternalServerError, http.StatusNotFound} {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(status)
		}))

		tokens := &fakeTokens{current: "tok"}
		resp, err := New(srv.URL, tokens).Get(context.Background(), "user:1", "x")
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, 1, calls)
		assert.Zero(t, tokens.refreshes)
		srv.Close()
	}
}

func TestDo_RetryReplaysBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if r.Header.Get("Authorization") == "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tokens := &fakeTokens{current: "tok"}
	recorder := &retryRecorder{}
	c := New(srv.URL, tokens, WithObserver(recorder))

	// A body without GetBody is buffered before the first attempt.
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/items", io.NopCloser(strings.NewReader(`{"a":1}`)))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), "user:1", req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, 1, recorder.accepted)
}

func TestDo_RefreshFailureIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	expired := &oauth.SessionExpiredError{Principal: "user:1"}
	tokens := &fakeTokens{current: "tok", refreshFn: func() (string, error) { return "", expired }}

	_, err := New(srv.URL, tokens).Get(context.Background(), "user:1", "x")
	assert.True(t, errors.Is(err, expired))
	assert.Zero(t, tokens.logouts)
}

func TestGetJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	var out map[string]any
	err := New(srv.URL, &fakeTokens{current: "tok"}).GetJSON(context.Background(), "user:1", "x", &out)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, "nope", statusErr.Body)
}

func TestResolve(t *testing.T) {
	c := New("https://api.example.com/v1/", &fakeTokens{})
	assert.Equal(t, "https://api.example.com/v1/users/me", c.resolve("/users/me"))
	assert.Equal(t, "https://api.example.com/v1/users/me", c.resolve("users/me"))
	assert.Equal(t, "https://other.example.com/x", c.resolve("https://other.example.com/x"))
}

// loggedIn runs a real login against the mock provider and returns a client
// for its protected resource.
func loggedIn(t *testing.T, idp *mock.OAuthServer) (*Client, *session.Manager, tokenstore.Store, oauth.Principal, *retryRecorder) {
	t.Helper()
	ctx := context.Background()

	store := tokenstore.NewMemoryStore()
	ex := oauth.NewExchanger(oauth.NewDiscoveryCache(idp.DiscoveryURL()), "test-client", "")
	m := session.NewManager(session.Config{
		ClientID:           "test-client",
		DefaultRedirectURI: "http://127.0.0.1/callback",
		Scopes:             []string{"openid"},
	}, ex.Discovery(), ex, store)
	t.Cleanup(m.Close)

	login, err := m.StartLogin(ctx, session.LoginOptions{})
	require.NoError(t, err)

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := noFollow.Get(login.URL)
	require.NoError(t, err)
	resp.Body.Close()
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	principal, _, err := m.HandleCallback(ctx, loc.Query().Get("code"), loc.Query().Get("state"))
	require.NoError(t, err)

	recorder := &retryRecorder{}
	return New(idp.APIBaseURL(), m, WithObserver(recorder)), m, store, principal, recorder
}

// The provider invalidated the token early and expiry is
// unknown locally; the first call is rejected, refreshed and retried.
func TestClient_ServerSideExpiry(t *testing.T) {
	idp := mock.NewOAuthServer(t, mock.OAuthServerConfig{})
	client, _, _, principal, recorder := loggedIn(t, idp)

	idp.ExpireAccessTokens()

	var out map[string]any
	require.NoError(t, client.GetJSON(context.Background(), principal, "/users/me", &out))

	assert.Equal(t, "1000001", out["subject"])
	assert.Equal(t, "/users/me", out["path"])
	assert.Equal(t, 2, idp.APICalls())
	assert.Equal(t, 1, idp.TokenCalls(oauth.GrantRefreshToken))
	assert.Equal(t, 1, recorder.accepted)
}

func TestClient_RetryIsBounded(t *testing.T) {
	idp := mock.NewOAuthServer(t, mock.OAuthServerConfig{})
	client, m, store, principal, recorder := loggedIn(t, idp)
	ctx := context.Background()

	idp.RejectAPICalls(5)

	var out map[string]any
	err := client.GetJSON(ctx, principal, "/users/me", &out)

	var unauthorized *oauth.UnauthorizedError
	require.True(t, errors.As(err, &unauthorized), "got %v", err)
	assert.Equal(t, principal, unauthorized.Principal)
	assert.Equal(t, 2, idp.APICalls(), "exactly one retry")
	assert.Equal(t, 1, idp.TokenCalls(oauth.GrantRefreshToken))
	assert.Equal(t, 1, recorder.rejected)

	_, err = store.Load(ctx, principal)
	assert.True(t, errors.Is(err, tokenstore.ErrNotFound))
	assert.Equal(t, session.StateLoggedOut, m.State(ctx, principal))
}

func TestClient_ServiceAccountCall(t *testing.T) {
	idp := mock.NewOAuthServer(t, mock.OAuthServerConfig{ExpiresIn: 3600})
	ex := oauth.NewExchanger(oauth.NewDiscoveryCache(idp.DiscoveryURL()), "test-client", "")
	sa := session.NewServiceAccount(ex, tokenstore.NewMemoryStore(), "test-client", "tracker", 0, nil)

	var out map[string]any
	require.NoError(t, New(idp.APIBaseURL(), sa).GetJSON(context.Background(), sa.Principal(), "status", &out))
	assert.Equal(t, "client:test-client", out["subject"])
}

package mock

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewClock(start)
	assert.True(t, clock.Now().Equal(start))

	clock.Advance(time.Hour)
	assert.True(t, clock.Now().Equal(start.Add(time.Hour)))

	clock.Set(start)
	assert.True(t, clock.Now().Equal(start))

	assert.False(t, NewClock(time.Time{}).Now().IsZero())
}

func postToken(t *testing.T, s *OAuthServer, form url.Values) (int, map[string]any) {
	t.Helper()
	resp, err := s.Client().PostForm(s.Issuer()+"/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestOAuthServer_CodeIsSingleUse(t *testing.T) {
	s := NewOAuthServer(t, OAuthServerConfig{ExpiresIn: 60})
	code := s.IssueCode("42", "http://localhost/cb")

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"http://localhost/cb"},
		"client_id":    {"test-client"},
	}

	status, body := postToken(t, s, form)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.EqualValues(t, 60, body["expires_in"])

	status, body = postToken(t, s, form)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
	assert.Equal(t, 2, s.TokenCalls("authorization_code"))
}

func TestOAuthServer_RejectRefreshWithOK(t *testing.T) {
	s := NewOAuthServer(t, OAuthServerConfig{RejectRefreshWithOK: true})

	status, body := postToken(t, s, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"unknown"},
		"client_id":     {"test-client"},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, RevokedDescription, body["description"])
}

func TestOAuthServer_APIRequiresIssuedToken(t *testing.T) {
	s := NewOAuthServer(t, OAuthServerConfig{})
	access, _ := s.IssueTokens("7")

	req, err := http.NewRequest(http.MethodGet, s.APIBaseURL()+"/flights", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.ExpireAccessTokens()
	resp, err = s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, strings.Contains(resp.Header.Get("WWW-Authenticate"), "invalid_token"))
	assert.Equal(t, 2, s.APICalls())
}

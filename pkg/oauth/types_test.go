package oauth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSet_ExpiredAt(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		margin    time.Duration
		want      bool
	}{
		{"unknown expiry is never expired", time.Time{}, time.Hour, false},
		{"far future", now.Add(time.Hour), DefaultExpiryMargin, false},
		{"within margin", now.Add(10 * time.Second), DefaultExpiryMargin, true},
		{"in the past", now.Add(-time.Minute), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := &TokenSet{AccessToken: "a", ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, set.ExpiredAt(now, tt.margin))
		})
	}
}

func TestTokenSet_Helpers(t *testing.T) {
	set := &TokenSet{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Scope:        "openid profile email",
		IDToken:      "id",
		ExpiresAt:    time.Unix(1700000000, 0),
	}

	assert.True(t, set.CanRefresh())
	assert.True(t, set.HasExpiry())
	assert.Equal(t, []string{"openid", "profile", "email"}, set.Scopes())

	clone := set.Clone()
	clone.AccessToken = "changed"
	assert.Equal(t, "access", set.AccessToken)

	var nilSet *TokenSet
	assert.Nil(t, nilSet.Clone())

	tok := set.ToOAuth2Token()
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.Equal(t, set.ExpiresAt, tok.Expiry)
	assert.Equal(t, "id", tok.Extra("id_token"))
}

func TestPrincipal(t *testing.T) {
	u := UserPrincipal("42")
	assert.Equal(t, "user:42", u.String())
	assert.True(t, u.IsUser())
	assert.False(t, u.IsService())
	assert.Equal(t, "42", u.ID())

	s := ServicePrincipal("tracker-client")
	assert.Equal(t, "service:tracker-client", s.String())
	assert.True(t, s.IsService())
	assert.Equal(t, "tracker-client", s.ID())

	p, err := ParsePrincipal(" user:7 ")
	require.NoError(t, err)
	assert.Equal(t, UserPrincipal("7"), p)

	for _, bad := range []string{"", "7", "user:", "admin:1"} {
		_, err := ParsePrincipal(bad)
		assert.Error(t, err, bad)
	}
}

func TestProviderMetadata_MissingEndpoints(t *testing.T) {
	m := &ProviderMetadata{AuthorizationEndpoint: "a", TokenEndpoint: "t"}
	assert.Equal(t, []string{"userinfo_endpoint", "revocation_endpoint"}, m.missingEndpoints())

	m.UserinfoEndpoint = "u"
	m.RevocationEndpoint = "r"
	assert.Empty(t, m.missingEndpoints())
}

func TestProviderMetadata_SupportsPKCE(t *testing.T) {
	assert.True(t, (&ProviderMetadata{}).SupportsPKCE())
	assert.True(t, (&ProviderMetadata{CodeChallengeMethodsSupported: []string{"plain", "S256"}}).SupportsPKCE())
	assert.False(t, (&ProviderMetadata{CodeChallengeMethodsSupported: []string{"plain"}}).SupportsPKCE())
}

func TestAuthorizationRequest_Expired(t *testing.T) {
	created := time.Now()
	req := &AuthorizationRequest{State: "s", CreatedAt: created}

	assert.False(t, req.Expired(created.Add(time.Minute), DefaultStateTTL))
	assert.True(t, req.Expired(created.Add(DefaultStateTTL+time.Second), DefaultStateTTL))
}

func TestRedactedToken(t *testing.T) {
	tok := NewRedactedToken("secret")

	assert.Equal(t, "secret", tok.Value())
	assert.Equal(t, "[REDACTED]", tok.String())
	assert.NotContains(t, tok.GoString(), "secret")
	assert.False(t, tok.IsEmpty())

	b, err := tok.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
}

func TestTokenSet_StringRedactsCredentials(t *testing.T) {
	set := &TokenSet{
		AccessToken:  "access-secret",
		TokenType:    "Bearer",
		RefreshToken: "refresh-secret",
		Scope:        "openid profile",
		ExpiresAt:    time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
	}

	for _, out := range []string{set.String(), fmt.Sprintf("%v", set), fmt.Sprintf("%+v", set)} {
		assert.NotContains(t, out, "secret")
		assert.Contains(t, out, "access_token=[REDACTED]")
		assert.Contains(t, out, "refresh_token=[REDACTED]")
		assert.Contains(t, out, "id_token=none")
		assert.Contains(t, out, "expires=2025-06-01T13:00:00Z")
	}

	assert.Contains(t, (&TokenSet{AccessToken: "a"}).String(), "expires=unknown")
}

func TestBuildAuthorizationURL(t *testing.T) {
	pkce := &PKCEChallenge{CodeChallenge: "chal", CodeChallengeMethod: "S256"}

	got, err := BuildAuthorizationURL("https://idp.example.com/authorize?prompt=login", "client", "http://localhost/callback",
		"st", []string{"openid", "profile"}, pkce)
	require.NoError(t, err)

	assert.Contains(t, got, "response_type=code")
	assert.Contains(t, got, "client_id=client")
	assert.Contains(t, got, "state=st")
	assert.Contains(t, got, "scope=openid+profile")
	assert.Contains(t, got, "redirect_uri=http%3A%2F%2Flocalhost%2Fcallback")
	assert.Contains(t, got, "code_challenge=chal")
	assert.Contains(t, got, "prompt=login")

	_, err = BuildAuthorizationURL("://bad", "client", "r", "s", nil, nil)
	assert.Error(t, err)
}

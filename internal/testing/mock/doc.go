// Package mock provides an in-process OpenID provider and a controllable
// clock for tokenward's tests.
//
// OAuthServer serves a discovery document, an auto-approving /authorize
// endpoint, /token (authorization_code, refresh_token, client_credentials),
// /userinfo, a JSON /revoke endpoint and a bearer-protected resource under
// /api/. Tests steer it with helpers such as ExpireAccessTokens,
// RevokeRefreshTokens, QueueTokenResponse and RejectAPICalls, and inspect it
// through call counters.
//
//	idp := mock.NewOAuthServer(t, mock.OAuthServerConfig{ExpiresIn: 3600})
//	code := idp.IssueCode("42", "http://localhost/callback")
//
// The package must not import tokenward's own packages so that their
// internal tests can use it.
package mock

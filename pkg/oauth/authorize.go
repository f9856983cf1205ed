package oauth

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildAuthorizationURL constructs the URL the user agent is redirected to.
// pkce may be nil for providers that do not support it.
func BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state string, scopes []string, pkce *PKCEChallenge) (string, error) {
	authURL, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)

	if len(scopes) > 0 {
		query.Set("scope", strings.Join(scopes, " "))
	}

	if pkce != nil {
		query.Set("code_challenge", pkce.CodeChallenge)
		query.Set("code_challenge_method", pkce.CodeChallengeMethod)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

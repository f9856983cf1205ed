package oauth

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is the default margin when checking token expiry.
// This accounts for clock skew and network latency.
const DefaultExpiryMargin = 30 * time.Second

// DefaultStateTTL bounds how long an authorization request waits for its callback.
const DefaultStateTTL = 10 * time.Minute

// Grant types understood by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// Principal identifies the owner of a TokenSet.
//
// End users are "user:<id>", machine clients are "service:<client_id>".
type Principal string

const (
	userPrefix    = "user:"
	servicePrefix = "service:"
)

// UserPrincipal returns the principal for an end user.
func UserPrincipal(id string) Principal {
	return Principal(userPrefix + id)
}

// ServicePrincipal returns the principal for a client-credentials client.
func ServicePrincipal(clientID string) Principal {
	return Principal(servicePrefix + clientID)
}

// ParsePrincipal validates a principal string such as "user:42".
func ParsePrincipal(s string) (Principal, error) {
	p := Principal(strings.TrimSpace(s))
	if !p.IsUser() && !p.IsService() {
		return "", fmt.Errorf("invalid principal %q: must start with %q or %q", s, userPrefix, servicePrefix)
	}
	if p.ID() == "" {
		return "", fmt.Errorf("invalid principal %q: empty id", s)
	}
	return p, nil
}

// IsUser reports whether the principal belongs to an end user.
func (p Principal) IsUser() bool {
	return strings.HasPrefix(string(p), userPrefix)
}

// IsService reports whether the principal belongs to a client-credentials client.
func (p Principal) IsService() bool {
	return strings.HasPrefix(string(p), servicePrefix)
}

// ID returns the principal without its kind prefix.
func (p Principal) ID() string {
	s := string(p)
	s = strings.TrimPrefix(s, userPrefix)
	return strings.TrimPrefix(s, servicePrefix)
}

func (p Principal) String() string {
	return string(p)
}

// TokenSet is the set of credentials issued to one principal.
type TokenSet struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`

	// IDToken is the OIDC ID token (if available).
	IDToken string `json:"id_token,omitempty"`

	// ExpiresAt is zero when the provider did not report a lifetime.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// ObtainedAt records when the token endpoint issued this set.
	ObtainedAt time.Time `json:"obtained_at"`
}

// HasExpiry reports whether the expiry time is known.
func (t *TokenSet) HasExpiry() bool {
	return !t.ExpiresAt.IsZero()
}

// ExpiredAt reports whether, at now, the token has expired or will expire
// within margin. Tokens with unknown expiry are never considered expired.
func (t *TokenSet) ExpiredAt(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(margin).After(t.ExpiresAt)
}

// CanRefresh reports whether a refresh token is available.
func (t *TokenSet) CanRefresh() bool {
	return t.RefreshToken != ""
}

// String describes the set for logs. Credentials are always redacted.
func (t *TokenSet) String() string {
	return fmt.Sprintf("{type=%s scope=%q access_token=%v refresh_token=%v id_token=%v expires=%s}",
		t.TokenType, t.Scope, redactedField(t.AccessToken), redactedField(t.RefreshToken),
		redactedField(t.IDToken), formatExpiry(t.ExpiresAt))
}

func redactedField(value string) any {
	tok := NewRedactedToken(value)
	if tok.IsEmpty() {
		return "none"
	}
	return tok
}

// Scopes returns the scope as a slice of individual scopes.
func (t *TokenSet) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// Clone returns a copy that shares no state with t.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ToOAuth2Token converts the TokenSet for use with golang.org/x/oauth2.
func (t *TokenSet) ToOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}

	if t.IDToken != "" {
		token = token.WithExtra(map[string]interface{}{
			"id_token": t.IDToken,
		})
	}

	return token
}

// ProviderMetadata holds the endpoints advertised by the provider's
// OpenID configuration document.
type ProviderMetadata struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`

	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// missingEndpoints lists the required endpoint fields that are empty.
func (m *ProviderMetadata) missingEndpoints() []string {
	var missing []string
	if m.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if m.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if m.UserinfoEndpoint == "" {
		missing = append(missing, "userinfo_endpoint")
	}
	if m.RevocationEndpoint == "" {
		missing = append(missing, "revocation_endpoint")
	}
	return missing
}

// SupportsPKCE returns true if the provider accepts S256 code challenges.
// Providers that do not advertise methods are assumed to accept it.
func (m *ProviderMetadata) SupportsPKCE() bool {
	for _, method := range m.CodeChallengeMethodsSupported {
		if method == "S256" {
			return true
		}
	}
	return len(m.CodeChallengeMethodsSupported) == 0
}

// AuthorizationRequest is the pending half of an authorization-code flow,
// kept between the redirect to the provider and the callback.
type AuthorizationRequest struct {
	State        string
	RedirectURI  string
	Scopes       []string
	CodeVerifier string
	CreatedAt    time.Time

	// Principal is set when a known principal re-authenticates.
	Principal Principal
}

// Expired reports whether the request is older than ttl.
func (r *AuthorizationRequest) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) > ttl
}

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is kept secret and sent only with the code exchange.
	CodeVerifier string

	// CodeChallenge is the SHA256 hash of the verifier (base64url-encoded).
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

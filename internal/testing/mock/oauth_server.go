package mock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RevokedDescription is the body some providers send, with a 200 status,
// when a refresh token is no longer valid.
const RevokedDescription = "This auth token has been revoked or expired"

// OAuthServerConfig configures the mock provider's behavior.
type OAuthServerConfig struct {
	// ClientID is the expected OAuth client ID.
	ClientID string

	// ClientSecret is the expected client secret. Empty disables the check.
	ClientSecret string

	// ExpiresIn is the advertised token lifetime in seconds. Zero omits
	// expires_in from responses.
	ExpiresIn int

	// RotateRefreshTokens issues a new refresh token on every refresh and
	// invalidates the old one.
	RotateRefreshTokens bool

	// RejectRefreshWithOK reports an unknown refresh token as a 200 response
	// carrying RevokedDescription instead of a 400 invalid_grant.
	RejectRefreshWithOK bool

	// IssueIDTokens includes an id_token carrying the subject.
	IssueIDTokens bool

	// TokenDelay slows every token endpoint response.
	TokenDelay time.Duration

	// OmitDiscoveryFields removes fields from the discovery document.
	OmitDiscoveryFields []string

	// Subject is the user the /authorize endpoint logs in without prompting.
	Subject string
}

// Revocation is one recorded call to the revocation endpoint.
type Revocation struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint"`
	ClientID      string `json:"client_id"`
}

type scriptedResponse struct {
	status int
	body   string
}

type authCode struct {
	subject       string
	redirectURI   string
	codeChallenge string
}

// OAuthServer is an in-process OpenID provider with a protected resource
// under /api/. It is backed by httptest and safe for concurrent use.
type OAuthServer struct {
	config OAuthServerConfig
	server *httptest.Server

	mu             sync.Mutex
	codes          map[string]authCode
	accessTokens   map[string]string
	refreshTokens  map[string]string
	scripted       []scriptedResponse
	apiRejections  int
	revokeStatus   int
	userInfoStatus int

	discoveryHits int
	tokenCalls    map[string]int
	userInfoCalls int
	apiCalls      int
	revocations   []Revocation
}

// NewOAuthServer starts a mock provider that is closed when t finishes.
func NewOAuthServer(t testing.TB, config OAuthServerConfig) *OAuthServer {
	t.Helper()

	if config.ClientID == "" {
		config.ClientID = "test-client"
	}
	if config.Subject == "" {
		config.Subject = "1000001"
	}

	s := &OAuthServer{
		config:        config,
		codes:         make(map[string]authCode),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		tokenCalls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", s.handleDiscovery)
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	mux.HandleFunc("/revoke", s.handleRevoke)
	mux.HandleFunc("/api/", s.handleAPI)

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)

	return s
}

// Issuer returns the provider's base URL.
func (s *OAuthServer) Issuer() string {
	return s.server.URL
}

// DiscoveryURL returns the configuration document URL.
func (s *OAuthServer) DiscoveryURL() string {
	return s.server.URL + "/.well-known/openid-configuration"
}

// APIBaseURL returns the base URL of the protected resource.
func (s *OAuthServer) APIBaseURL() string {
	return s.server.URL + "/api"
}

// Client returns an HTTP client for the server.
func (s *OAuthServer) Client() *http.Client {
	return s.server.Client()
}

// IssueCode creates an authorization code for subject, as if the user had
// completed the provider's login page.
func (s *OAuthServer) IssueCode(subject, redirectURI string) string {
	code := randomString()
	s.mu.Lock()
	s.codes[code] = authCode{subject: subject, redirectURI: redirectURI}
	s.mu.Unlock()
	return code
}

// IssueTokens mints a token pair for subject without going through a grant.
func (s *OAuthServer) IssueTokens(subject string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access, refresh = randomString(), randomString()
	s.accessTokens[access] = subject
	s.refreshTokens[refresh] = subject
	return access, refresh
}

// ExpireAccessTokens makes every issued access token unacceptable to the
// userinfo endpoint and the resource, while refresh tokens stay valid.
func (s *OAuthServer) ExpireAccessTokens() {
	s.mu.Lock()
	s.accessTokens = make(map[string]string)
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (s *OAuthServer) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refreshTokens = make(map[string]string)
	s.mu.Unlock()
}

// QueueTokenResponse makes the next token endpoint call return status and body verbatim.
func (s *OAuthServer) QueueTokenResponse(status int, body string) {
	s.mu.Lock()
	s.scripted = append(s.scripted, scriptedResponse{status: status, body: body})
	s.mu.Unlock()
}

// RejectAPICalls makes the next n resource calls return 401 regardless of the token.
func (s *OAuthServer) RejectAPICalls(n int) {
	s.mu.Lock()
	s.apiRejections = n
	s.mu.Unlock()
}

// SetRevocationStatus makes the revocation endpoint answer with status.
func (s *OAuthServer) SetRevocationStatus(status int) {
	s.mu.Lock()
	s.revokeStatus = status
	s.mu.Unlock()
}

// SetUserInfoStatus makes the userinfo endpoint answer with status.
func (s *OAuthServer) SetUserInfoStatus(status int) {
	s.mu.Lock()
	s.userInfoStatus = status
	s.mu.Unlock()
}

// DiscoveryHits returns how often the discovery document was fetched.
func (s *OAuthServer) DiscoveryHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discoveryHits
}

// TokenCalls returns how often the token endpoint was called with grant.
func (s *OAuthServer) TokenCalls(grant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenCalls[grant]
}

// UserInfoCalls returns how often the userinfo endpoint was called.
func (s *OAuthServer) UserInfoCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userInfoCalls
}

// APICalls returns how often the protected resource was called.
func (s *OAuthServer) APICalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiCalls
}

// Revocations returns the recorded revocation requests.
func (s *OAuthServer) Revocations() []Revocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Revocation, len(s.revocations))
	copy(out, s.revocations)
	return out
}

func (s *OAuthServer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.discoveryHits++
	s.mu.Unlock()

	doc := map[string]any{
		"issuer":                           s.server.URL,
		"authorization_endpoint":           s.server.URL + "/authorize",
		"token_endpoint":                   s.server.URL + "/token",
		"userinfo_endpoint":                s.server.URL + "/userinfo",
		"revocation_endpoint":              s.server.URL + "/revoke",
		"scopes_supported":                 []string{"openid", "profile", "email", "configuration", "tracker"},
		"code_challenge_methods_supported": []string{"S256"},
	}
	for _, field := range s.config.OmitDiscoveryFields {
		delete(doc, field)
	}

	writeJSON(w, http.StatusOK, doc)
}

// handleAuthorize auto-approves the configured subject and redirects back
// with a code, echoing state.
func (s *OAuthServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != s.config.ClientID || q.Get("response_type") != "code" {
		http.Error(w, "invalid authorization request", http.StatusBadRequest)
		return
	}

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := randomString()
	s.mu.Lock()
	s.codes[code] = authCode{
		subject:       s.config.Subject,
		redirectURI:   q.Get("redirect_uri"),
		codeChallenge: q.Get("code_challenge"),
	}
	s.mu.Unlock()

	params := redirect.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *OAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.config.TokenDelay > 0 {
		time.Sleep(s.config.TokenDelay)
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	grant := r.PostForm.Get("grant_type")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokenCalls[grant]++

	if len(s.scripted) > 0 {
		next := s.scripted[0]
		s.scripted = s.scripted[1:]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(next.status)
		_, _ = w.Write([]byte(next.body))
		return
	}

	if r.PostForm.Get("client_id") != s.config.ClientID ||
		(s.config.ClientSecret != "" && r.PostForm.Get("client_secret") != s.config.ClientSecret) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch grant {
	case "authorization_code":
		code := r.PostForm.Get("code")
		entry, ok := s.codes[code]
		delete(s.codes, code)
		if !ok || entry.redirectURI != r.PostForm.Get("redirect_uri") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		if entry.codeChallenge != "" && s256(r.PostForm.Get("code_verifier")) != entry.codeChallenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "PKCE verification failed"})
			return
		}
		s.writeTokens(w, entry.subject, true)

	case "refresh_token":
		old := r.PostForm.Get("refresh_token")
		subject, ok := s.refreshTokens[old]
		if !ok {
			if s.config.RejectRefreshWithOK {
				writeJSON(w, http.StatusOK, map[string]string{"description": RevokedDescription})
			} else {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			}
			return
		}
		if s.config.RotateRefreshTokens {
			delete(s.refreshTokens, old)
			s.writeTokens(w, subject, true)
		} else {
			s.writeTokens(w, subject, false)
		}

	case "client_credentials":
		s.writeTokens(w, "client:"+s.config.ClientID, false)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

// writeTokens must be called with s.mu held.
func (s *OAuthServer) writeTokens(w http.ResponseWriter, subject string, withRefresh bool) {
	access := randomString()
	s.accessTokens[access] = subject

	resp := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"scope":        "openid profile email",
	}
	if s.config.ExpiresIn > 0 {
		resp["expires_in"] = s.config.ExpiresIn
	}
	if withRefresh {
		refresh := randomString()
		s.refreshTokens[refresh] = subject
		resp["refresh_token"] = refresh
	}
	if s.config.IssueIDTokens {
		idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": s.server.URL,
			"sub": subject,
			"aud": s.config.ClientID,
			"iat": time.Now().Unix(),
		}).SignedString([]byte("mock-signing-key"))
		if err == nil {
			resp["id_token"] = idToken
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *OAuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.userInfoCalls++
	subject, ok := s.accessTokens[bearer(r)]
	status := s.userInfoStatus
	s.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "not_found"})
		return
	}
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sub":       subject,
		"id":        subject,
		"firstName": "Test",
		"lastName":  "User",
	})
}

func (s *OAuthServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var rev Revocation
	if err := json.NewDecoder(r.Body).Decode(&rev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	s.revocations = append(s.revocations, rev)
	status := s.revokeStatus
	if status == 0 {
		delete(s.accessTokens, rev.Token)
		delete(s.refreshTokens, rev.Token)
	}
	s.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "revoked"})
}

func (s *OAuthServer) handleAPI(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.apiCalls++
	subject, ok := s.accessTokens[bearer(r)]
	if s.apiRejections > 0 {
		s.apiRejections--
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subject": subject,
		"method":  r.Method,
		"path":    strings.TrimPrefix(r.URL.Path, "/api"),
	})
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomString() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("mock: failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

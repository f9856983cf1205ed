package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tokenward/pkg/logging"
)

// Exchanger performs the token endpoint grants against the discovered
// provider, and the revocation and userinfo calls that go with them.
type Exchanger struct {
	discovery    *DiscoveryCache
	clientID     string
	clientSecret string
	httpClient   *http.Client
	observer     Observer
	now          func() time.Time
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ExchangerOption {
	return func(e *Exchanger) {
		e.httpClient = httpClient
	}
}

// WithObserver reports each exchange to o.
func WithObserver(o Observer) ExchangerOption {
	return func(e *Exchanger) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock overrides the time source used to stamp issued tokens.
func WithClock(now func() time.Time) ExchangerOption {
	return func(e *Exchanger) {
		e.now = now
	}
}

// NewExchanger creates an Exchanger for one client registration.
func NewExchanger(discovery *DiscoveryCache, clientID, clientSecret string, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		discovery:    discovery,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: DefaultHTTPTimeout},
		observer:     nopObserver{},
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ClientID returns the client identifier sent with every request.
func (e *Exchanger) ClientID() string {
	return e.clientID
}

// Discovery returns the metadata source used by the exchanger.
func (e *Exchanger) Discovery() *DiscoveryCache {
	return e.discovery
}

// ExchangeAuthorizationCode redeems an authorization code.
// codeVerifier is omitted from the request when empty.
func (e *Exchanger) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":   {GrantAuthorizationCode},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	return e.doTokenRequest(ctx, GrantAuthorizationCode, data)
}

// Refresh obtains a new token set with a refresh token. If the provider does
// not rotate the refresh token, the one passed in is carried over.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {GrantRefreshToken},
		"refresh_token": {refreshToken},
	}

	set, err := e.doTokenRequest(ctx, GrantRefreshToken, data)
	if err != nil {
		return nil, err
	}

	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}

	return set, nil
}

// ExchangeClientCredentials obtains a token for the client itself.
func (e *Exchanger) ExchangeClientCredentials(ctx context.Context, scope string) (*TokenSet, error) {
	data := url.Values{
		"grant_type": {GrantClientCredentials},
	}
	if scope != "" {
		data.Set("scope", scope)
	}

	return e.doTokenRequest(ctx, GrantClientCredentials, data)
}

// tokenResponse covers both the success and the error shapes a provider may
// return, including error payloads sent with a 2xx status.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    expiresIn `json:"expires_in"`
	Scope        string    `json:"scope"`
	IDToken      string    `json:"id_token"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Description      string `json:"description"`
}

func (r *tokenResponse) errorMarker() (code, description string, ok bool) {
	description = r.ErrorDescription
	if description == "" {
		description = r.Description
	}
	return r.Error, description, r.Error != "" || description != ""
}

// maxExpiresIn caps the lifetime a provider may advertise, in seconds.
const maxExpiresIn = 10 * 365 * 24 * 60 * 60

// expiresIn accepts both numeric and quoted lifetimes. Negative values are
// rejected and values above maxExpiresIn are clamped.
type expiresIn int64

func (e *expiresIn) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*e = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid expires_in %q: %w", s, err)
	}
	switch {
	case math.IsNaN(n) || n < 0:
		return fmt.Errorf("invalid expires_in %q: must be a non-negative number", s)
	case n > maxExpiresIn:
		*e = maxExpiresIn
	default:
		*e = expiresIn(n)
	}
	return nil
}

func (e *Exchanger) doTokenRequest(ctx context.Context, grant string, data url.Values) (*TokenSet, error) {
	md, err := e.discovery.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	data.Set("client_id", e.clientID)
	if e.clientSecret != "" {
		data.Set("client_secret", e.clientSecret)
	}

	set, err := e.postToken(ctx, md.TokenEndpoint, grant, data)
	e.observer.TokenExchanged(grant, outcomeOf(err))
	if err != nil {
		logging.Debug("Exchanger", "%s exchange failed: %v", grant, err)
		return nil, err
	}

	logging.Debug("Exchanger", "%s exchange succeeded: %v", grant, set)
	return set, nil
}

func (e *Exchanger) postToken(ctx context.Context, endpoint, grant string, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonNetwork, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	var parsed tokenResponse
	parseErr := json.Unmarshal(body, &parsed)
	code, description, hasMarker := parsed.errorMarker()

	switch {
	case e.endpointGone(resp.StatusCode):
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonNetwork, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonNetwork, StatusCode: resp.StatusCode,
			ErrorCode: code, Description: description}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonInvalidGrant, StatusCode: resp.StatusCode,
			ErrorCode: code, Description: description}
	case parseErr != nil:
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonMalformedResponse, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to parse token response: %w", parseErr)}
	case hasMarker:
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonInvalidGrant, StatusCode: resp.StatusCode,
			ErrorCode: code, Description: description}
	case parsed.AccessToken == "":
		return nil, &TokenExchangeError{Grant: grant, Reason: ReasonMalformedResponse, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("response has no access_token")}
	}

	now := e.now()
	set := &TokenSet{
		AccessToken:  parsed.AccessToken,
		TokenType:    parsed.TokenType,
		RefreshToken: parsed.RefreshToken,
		Scope:        parsed.Scope,
		IDToken:      parsed.IDToken,
		ObtainedAt:   now,
	}
	if set.TokenType == "" {
		set.TokenType = "Bearer"
	}
	if parsed.ExpiresIn > 0 {
		set.ExpiresAt = now.Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}

	return set, nil
}

// revocationRequest is the JSON body accepted by the revocation endpoint.
type revocationRequest struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint"`
	ClientID      string `json:"client_id"`
}

// Revoke asks the provider to invalidate token. hint is "access_token" or
// "refresh_token".
func (e *Exchanger) Revoke(ctx context.Context, token, hint string) error {
	md, err := e.discovery.Metadata(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(revocationRequest{Token: token, TokenTypeHint: hint, ClientID: e.clientID})
	if err != nil {
		return fmt.Errorf("failed to encode revocation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.RevocationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.endpointGone(resp.StatusCode)
		return fmt.Errorf("revocation of %s failed with status %d", hint, resp.StatusCode)
	}

	return nil
}

// endpointGone drops the cached metadata when status says the advertised
// endpoint no longer exists, and reports whether it did.
func (e *Exchanger) endpointGone(status int) bool {
	if status != http.StatusNotFound && status != http.StatusGone {
		return false
	}
	e.discovery.Invalidate()
	return true
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tokenward/internal/tokenstore"
	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

// MetadataSource provides the provider's endpoints.
type MetadataSource interface {
	Metadata(ctx context.Context) (*oauth.ProviderMetadata, error)
}

// Exchanger performs the provider calls the manager depends on.
// *oauth.Exchanger implements it.
type Exchanger interface {
	ExchangeAuthorizationCode(ctx context.Context, code, redirectURI, codeVerifier string) (*oauth.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenSet, error)
	ExchangeClientCredentials(ctx context.Context, scope string) (*oauth.TokenSet, error)
	Revoke(ctx context.Context, token, hint string) error
	UserInfo(ctx context.Context, accessToken string, out any) error
}

// ErrRedirectNotAllowed is returned by StartLogin for a redirect URI outside
// the configured allow-list.
var ErrRedirectNotAllowed = errors.New("redirect URI is not allowed")

// Config configures a Manager.
type Config struct {
	ClientID string

	// DefaultRedirectURI is used when StartLogin is given none.
	DefaultRedirectURI string

	// AllowedRedirectURIs restricts StartLogin. The default redirect is always allowed.
	AllowedRedirectURIs []string

	// Scopes requested when StartLogin is given none.
	Scopes []string

	StateTTL     time.Duration
	ExpiryMargin time.Duration

	// RefreshTimeout bounds a refresh exchange independently of the
	// callers waiting on it.
	RefreshTimeout time.Duration

	// DisableRevocation skips the revocation calls on logout.
	DisableRevocation bool

	Observer Observer
	Now      func() time.Time
}

// Manager drives the end-user token lifecycle: login, callback, proactive
// and reactive refresh, and logout. It is safe for concurrent use; refreshes
// for the same principal are collapsed into one exchange.
type Manager struct {
	cfg       Config
	discovery MetadataSource
	exchanger Exchanger
	store     tokenstore.Store
	pending   *pendingRequests

	mu     sync.Mutex
	states map[oauth.Principal]State

	refreshGroup singleflight.Group
}

// NewManager creates a Manager. Call Close to stop its background cleanup.
func NewManager(cfg Config, discovery MetadataSource, exchanger Exchanger, store tokenstore.Store) *Manager {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = oauth.DefaultStateTTL
	}
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = oauth.DefaultExpiryMargin
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = oauth.DefaultHTTPTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		cfg:       cfg,
		discovery: discovery,
		exchanger: exchanger,
		store:     store,
		pending:   newPendingRequests(cfg.StateTTL, cfg.Now),
		states:    make(map[oauth.Principal]State),
	}
}

// Close stops background cleanup of expired authorization requests.
func (m *Manager) Close() {
	m.pending.stop()
}

// LoginOptions parameterize StartLogin.
type LoginOptions struct {
	RedirectURI string

	// Principal, when set, marks this as a re-login of a known principal.
	// Its stored token set is discarded immediately.
	Principal oauth.Principal

	Scopes []string
}

// LoginRequest is where to send the user agent.
type LoginRequest struct {
	URL         string
	State       string
	RedirectURI string
}

// StartLogin begins an authorization-code flow.
func (m *Manager) StartLogin(ctx context.Context, opts LoginOptions) (*LoginRequest, error) {
	redirect := opts.RedirectURI
	if redirect == "" {
		redirect = m.cfg.DefaultRedirectURI
	}
	if redirect == "" {
		return nil, fmt.Errorf("no redirect URI configured")
	}
	if !m.redirectAllowed(redirect) {
		return nil, fmt.Errorf("%w: %s", ErrRedirectNotAllowed, redirect)
	}
	if opts.Principal != "" && !opts.Principal.IsUser() {
		return nil, fmt.Errorf("cannot start an interactive login for %s", opts.Principal)
	}

	md, err := m.discovery.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}

	var pkce *oauth.PKCEChallenge
	if md.SupportsPKCE() {
		if pkce, err = oauth.GeneratePKCE(); err != nil {
			return nil, err
		}
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = m.cfg.Scopes
	}

	authURL, err := oauth.BuildAuthorizationURL(md.AuthorizationEndpoint, m.cfg.ClientID, redirect, state, scopes, pkce)
	if err != nil {
		return nil, err
	}

	req := &oauth.AuthorizationRequest{
		State:       state,
		RedirectURI: redirect,
		Scopes:      scopes,
		CreatedAt:   m.cfg.Now(),
		Principal:   opts.Principal,
	}
	if pkce != nil {
		req.CodeVerifier = pkce.CodeVerifier
	}

	if opts.Principal != "" {
		m.pending.discardFor(opts.Principal)
		if err := m.store.Clear(ctx, opts.Principal); err != nil {
			return nil, fmt.Errorf("failed to discard previous token set: %w", err)
		}
		m.setState(opts.Principal, StateAwaitingCallback)
	}

	m.pending.add(req)

	logging.Debug("Session", "Started login with state %s (redirect %s)", logging.TruncateID(state), redirect)
	return &LoginRequest{URL: authURL, State: state, RedirectURI: redirect}, nil
}

func (m *Manager) redirectAllowed(redirect string) bool {
	if len(m.cfg.AllowedRedirectURIs) == 0 || redirect == m.cfg.DefaultRedirectURI {
		return true
	}
	for _, allowed := range m.cfg.AllowedRedirectURIs {
		if redirect == allowed {
			return true
		}
	}
	return false
}

// DiscardLogin consumes the pending login for state without completing it,
// for callbacks rejected before they reach HandleCallback.
func (m *Manager) DiscardLogin(state string) {
	if state != "" && m.pending.discard(state) {
		logging.Debug("Session", "Discarded pending login %s", logging.TruncateID(state))
	}
}

// HandleCallback completes the flow started by StartLogin. The state is
// consumed whether or not the exchange succeeds.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (oauth.Principal, *oauth.TokenSet, error) {
	req, err := m.pending.take(state)
	if err != nil {
		return "", nil, err
	}

	if code == "" {
		m.resetPending(req)
		return "", nil, &oauth.TokenExchangeError{
			Grant:       oauth.GrantAuthorizationCode,
			Reason:      oauth.ReasonInvalidGrant,
			Description: "callback carried no authorization code",
		}
	}

	set, err := m.exchanger.ExchangeAuthorizationCode(ctx, code, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		m.resetPending(req)
		logging.Error("Session", err, "Authorization code exchange failed")
		return "", nil, err
	}

	principal, err := m.resolvePrincipal(ctx, req, set)
	if err != nil {
		m.resetPending(req)
		return "", nil, err
	}

	if err := m.store.Save(ctx, principal, set); err != nil {
		return "", nil, fmt.Errorf("failed to store token set: %w", err)
	}
	m.setState(principal, StateAuthenticated)

	logging.Info("Session", "Principal %s authenticated (refresh token: %t)",
		logging.TruncateID(principal.String()), set.CanRefresh())
	return principal, set.Clone(), nil
}

func (m *Manager) resetPending(req *oauth.AuthorizationRequest) {
	if req.Principal != "" {
		m.setState(req.Principal, StateAnonymous)
	}
}

// resolvePrincipal prefers the re-login hint, then the id_token subject,
// then the userinfo document.
func (m *Manager) resolvePrincipal(ctx context.Context, req *oauth.AuthorizationRequest, set *oauth.TokenSet) (oauth.Principal, error) {
	if req.Principal != "" {
		return req.Principal, nil
	}

	if set.IDToken != "" {
		sub, err := oauth.SubjectFromIDToken(set.IDToken)
		if err == nil {
			return oauth.UserPrincipal(sub), nil
		}
		logging.Debug("Session", "Falling back to userinfo: %v", err)
	}

	var doc map[string]any
	if err := m.exchanger.UserInfo(ctx, set.AccessToken, &doc); err != nil {
		return "", fmt.Errorf("failed to resolve user identity: %w", err)
	}
	sub := oauth.SubjectFromUserInfo(doc)
	if sub == "" {
		return "", fmt.Errorf("userinfo document carries no user identifier")
	}
	return oauth.UserPrincipal(sub), nil
}

// ValidToken returns an access token for principal, refreshing it first when
// its known expiry has passed. A token with unknown expiry is returned as is.
func (m *Manager) ValidToken(ctx context.Context, principal oauth.Principal) (string, error) {
	set, err := m.load(ctx, principal)
	if err != nil {
		return "", err
	}

	if !m.expired(set) {
		return set.AccessToken, nil
	}

	logging.Debug("Session", "Access token for %s expired at %s, refreshing",
		logging.TruncateID(principal.String()), set.ExpiresAt.Format(time.RFC3339))
	return m.refresh(ctx, principal, set.AccessToken)
}

// ForceRefresh refreshes regardless of expiry, after a resource rejected
// the rejected token. If the stored token already differs from rejected, it
// was refreshed concurrently and is returned without a new exchange.
func (m *Manager) ForceRefresh(ctx context.Context, principal oauth.Principal, rejected string) (string, error) {
	return m.refresh(ctx, principal, rejected)
}

// refresh joins or starts the principal's refresh flight. The flight runs
// detached from ctx, bounded by RefreshTimeout; ctx only limits how long
// this caller waits for it.
func (m *Manager) refresh(ctx context.Context, principal oauth.Principal, stale string) (string, error) {
	ch := m.refreshGroup.DoChan(string(principal), func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()
		return m.doRefresh(flightCtx, principal, stale)
	})

	select {
	case <-ctx.Done():
		logging.Debug("Session", "Stopped waiting for refresh of %s: %v", logging.TruncateID(principal.String()), ctx.Err())
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			logging.Debug("Session", "Joined in-flight refresh for %s", logging.TruncateID(principal.String()))
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context, principal oauth.Principal, stale string) (string, error) {
	set, err := m.load(ctx, principal)
	if err != nil {
		return "", err
	}

	if set.AccessToken != stale && !m.expired(set) {
		return set.AccessToken, nil
	}

	if !set.CanRefresh() {
		return "", m.expire(ctx, principal, errors.New("no refresh token"))
	}

	m.setState(principal, StateRefreshing)

	next, err := m.exchanger.Refresh(ctx, set.RefreshToken)
	if err != nil {
		var exErr *oauth.TokenExchangeError
		if !errors.As(err, &exErr) || isContextError(ctx, err) {
			// Discovery or context failure: the session itself is intact.
			m.setState(principal, StateAuthenticated)
			return "", err
		}

		// Another process may have rotated the refresh token under us.
		if current, lerr := m.store.Load(ctx, principal); lerr == nil &&
			current.RefreshToken != set.RefreshToken && !m.expired(current) {
			logging.Info("Session", "Refresh for %s lost a race, reusing the winner's token set",
				logging.TruncateID(principal.String()))
			m.setState(principal, StateAuthenticated)
			return current.AccessToken, nil
		}

		return "", m.expire(ctx, principal, err)
	}

	if next.IDToken == "" {
		next.IDToken = set.IDToken
	}

	if err := m.store.Save(ctx, principal, next); err != nil {
		m.setState(principal, StateAuthenticated)
		return "", fmt.Errorf("failed to store refreshed token set: %w", err)
	}
	m.setState(principal, StateAuthenticated)

	logging.Debug("Session", "Refreshed token set for %s: %v", logging.TruncateID(principal.String()), next)
	return next.AccessToken, nil
}

// expire ends the session after an unrecoverable refresh failure.
func (m *Manager) expire(ctx context.Context, principal oauth.Principal, cause error) error {
	if err := m.store.Clear(ctx, principal); err != nil {
		logging.Error("Session", err, "Failed to clear token set for %s", logging.TruncateID(principal.String()))
	}
	m.setState(principal, StateLoggedOut)

	logging.Info("Session", "Session for %s expired: %v", logging.TruncateID(principal.String()), cause)
	return &oauth.SessionExpiredError{Principal: principal, Err: cause}
}

// Logout revokes the principal's tokens (best effort) and discards them.
func (m *Manager) Logout(ctx context.Context, principal oauth.Principal) error {
	set, err := m.store.Load(ctx, principal)
	switch {
	case err == nil:
		if !m.cfg.DisableRevocation {
			m.revoke(ctx, principal, set)
		}
	case !errors.Is(err, tokenstore.ErrNotFound):
		logging.Warn("Session", "Could not load token set for %s before logout: %v", logging.TruncateID(principal.String()), err)
	}

	m.pending.discardFor(principal)

	if err := m.store.Clear(ctx, principal); err != nil {
		return fmt.Errorf("failed to clear token set: %w", err)
	}
	m.setState(principal, StateLoggedOut)

	logging.Info("Session", "Principal %s logged out", logging.TruncateID(principal.String()))
	return nil
}

func (m *Manager) revoke(ctx context.Context, principal oauth.Principal, set *oauth.TokenSet) {
	if err := m.exchanger.Revoke(ctx, set.AccessToken, "access_token"); err != nil {
		logging.Warn("Session", "Access token revocation for %s failed: %v", logging.TruncateID(principal.String()), err)
	}
	if set.RefreshToken != "" {
		if err := m.exchanger.Revoke(ctx, set.RefreshToken, "refresh_token"); err != nil {
			logging.Warn("Session", "Refresh token revocation for %s failed: %v", logging.TruncateID(principal.String()), err)
		}
	}
}

// UserInfo fetches the userinfo document for principal. A 401 triggers one
// refresh and retry; a second 401 logs the principal out.
func (m *Manager) UserInfo(ctx context.Context, principal oauth.Principal, out any) error {
	token, err := m.ValidToken(ctx, principal)
	if err != nil {
		return err
	}

	err = m.exchanger.UserInfo(ctx, token, out)
	if !oauth.IsUnauthorized(err) {
		return err
	}

	token, err = m.ForceRefresh(ctx, principal, token)
	if err != nil {
		return err
	}

	err = m.exchanger.UserInfo(ctx, token, out)
	if oauth.IsUnauthorized(err) {
		if lerr := m.Logout(ctx, principal); lerr != nil {
			logging.Warn("Session", "Logout after rejected userinfo call failed: %v", lerr)
		}
		return &oauth.UnauthorizedError{Principal: principal}
	}
	return err
}

// TokenSet returns a copy of the stored token set.
func (m *Manager) TokenSet(ctx context.Context, principal oauth.Principal) (*oauth.TokenSet, error) {
	return m.load(ctx, principal)
}

// State reports the lifecycle position of principal. Principals this
// process has not seen are derived from the store.
func (m *Manager) State(ctx context.Context, principal oauth.Principal) State {
	m.mu.Lock()
	s, ok := m.states[principal]
	m.mu.Unlock()
	if ok {
		return s
	}

	if _, err := m.store.Load(ctx, principal); err == nil {
		return StateAuthenticated
	}
	return StateAnonymous
}

// PendingLogins returns the number of logins awaiting their callback.
func (m *Manager) PendingLogins() int {
	return m.pending.count()
}

func (m *Manager) load(ctx context.Context, principal oauth.Principal) (*oauth.TokenSet, error) {
	set, err := m.store.Load(ctx, principal)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, &oauth.SessionExpiredError{Principal: principal}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token set: %w", err)
	}
	return set, nil
}

// isContextError reports whether err was caused by ctx ending rather than
// by the provider rejecting the grant.
func isContextError(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) expired(set *oauth.TokenSet) bool {
	return set.ExpiredAt(m.cfg.Now(), m.cfg.ExpiryMargin)
}

func (m *Manager) setState(principal oauth.Principal, to State) {
	m.mu.Lock()
	from, known := m.states[principal]
	if !known {
		from = StateAnonymous
	}
	m.states[principal] = to
	m.mu.Unlock()

	if from == to {
		return
	}
	logging.Debug("Session", "%s: %s -> %s", logging.TruncateID(principal.String()), from, to)
	if m.cfg.Observer != nil {
		m.cfg.Observer.Transition(from, to)
	}
}

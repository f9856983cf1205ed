package app

import (
	"fmt"
	"net/http"

	"tokenward/internal/apiclient"
	"tokenward/internal/config"
	"tokenward/internal/metrics"
	"tokenward/internal/session"
	"tokenward/internal/tokenstore"
	"tokenward/pkg/oauth"
)

// Services holds the wired components of a running tokenward process.
// Every command builds exactly one.
type Services struct {
	Config config.Config

	HTTPClient     *http.Client
	Discovery      *oauth.DiscoveryCache
	Exchanger      *oauth.Exchanger
	Store          tokenstore.Store
	Manager        *session.Manager
	ServiceAccount *session.ServiceAccount
	Metrics        *metrics.Recorder

	// API is nil when no resource base URL is configured.
	API *apiclient.Client

	closeStore func()
}

// InitializeServices creates the components in dependency order: store,
// discovery cache, exchanger, then the session manager and service account
// on top of them, and finally the resource client.
func InitializeServices(cfg *Config) (*Services, error) {
	tc := *cfg.Tokenward

	storeOpts, err := tc.Store.StoreOptions(cfg.StoreFallback)
	if err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	store, closeStore, err := tokenstore.Open(storeOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	recorder := metrics.New()
	httpClient := &http.Client{Timeout: tc.HTTP.Timeout}

	discovery := oauth.NewDiscoveryCache(tc.Provider.ResolvedDiscoveryURL(),
		oauth.WithDiscoveryHTTPClient(httpClient),
		oauth.WithDiscoveryObserver(recorder))

	exchanger := oauth.NewExchanger(discovery, tc.Provider.ClientID, tc.Provider.ClientSecret,
		oauth.WithHTTPClient(httpClient),
		oauth.WithObserver(recorder))

	redirect := tc.Provider.RedirectURI
	if cfg.RedirectURI != "" {
		redirect = cfg.RedirectURI
	}

	manager := session.NewManager(session.Config{
		ClientID:            tc.Provider.ClientID,
		DefaultRedirectURI:  redirect,
		AllowedRedirectURIs: tc.Provider.AllowedRedirectURIs,
		Scopes:              tc.Provider.Scopes,
		StateTTL:            tc.Session.StateTTL,
		ExpiryMargin:        tc.Session.ExpiryMargin,
		RefreshTimeout:      tc.HTTP.Timeout,
		DisableRevocation:   tc.Session.DisableRevocation,
		Observer:            recorder,
	}, discovery, exchanger, store)

	serviceAccount := session.NewServiceAccount(exchanger, store, tc.Provider.ClientID,
		tc.Provider.ServiceScope, tc.Session.ExpiryMargin, nil)

	s := &Services{
		Config:         tc,
		HTTPClient:     httpClient,
		Discovery:      discovery,
		Exchanger:      exchanger,
		Store:          store,
		Manager:        manager,
		ServiceAccount: serviceAccount,
		Metrics:        recorder,
		closeStore:     closeStore,
	}

	if tc.API.BaseURL != "" {
		s.API = s.APIClientFor(tc.API.BaseURL, manager)
	}
	return s, nil
}

// APIClientFor creates a resource client over tokens sharing the process's
// HTTP client and metrics.
func (s *Services) APIClientFor(baseURL string, tokens apiclient.TokenSource) *apiclient.Client {
	return apiclient.New(baseURL, tokens,
		apiclient.WithHTTPClient(s.HTTPClient),
		apiclient.WithObserver(s.Metrics))
}

// TokenSourceFor picks the service account for the client's own service
// principal and the session manager for everything else.
func (s *Services) TokenSourceFor(principal oauth.Principal) apiclient.TokenSource {
	if principal == s.ServiceAccount.Principal() {
		return s.ServiceAccount
	}
	return s.Manager
}

// Close releases the session manager and the store.
func (s *Services) Close() {
	s.Manager.Close()
	if s.closeStore != nil {
		s.closeStore()
	}
}

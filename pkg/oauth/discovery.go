package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tokenward/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for requests to the provider.
const DefaultHTTPTimeout = 30 * time.Second

const wellKnownPath = "/.well-known/openid-configuration"

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 1 << 20

// DiscoveryCache fetches the provider's OpenID configuration once and serves
// it from memory for the life of the process, until Invalidate is called.
type DiscoveryCache struct {
	url        string
	httpClient *http.Client
	observer   Observer

	mu       sync.RWMutex
	metadata *ProviderMetadata

	group singleflight.Group
}

// DiscoveryOption configures a DiscoveryCache.
type DiscoveryOption func(*DiscoveryCache)

// WithDiscoveryHTTPClient sets a custom HTTP client.
func WithDiscoveryHTTPClient(httpClient *http.Client) DiscoveryOption {
	return func(d *DiscoveryCache) {
		d.httpClient = httpClient
	}
}

// WithDiscoveryObserver reports each fetch to o.
func WithDiscoveryObserver(o Observer) DiscoveryOption {
	return func(d *DiscoveryCache) {
		if o != nil {
			d.observer = o
		}
	}
}

// DiscoveryURL returns the well-known configuration URL for an issuer.
func DiscoveryURL(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + wellKnownPath
}

// NewDiscoveryCache creates a cache for the document at documentURL.
// Use DiscoveryURL to derive it from an issuer.
func NewDiscoveryCache(documentURL string, opts ...DiscoveryOption) *DiscoveryCache {
	d := &DiscoveryCache{
		url:        documentURL,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		observer:   nopObserver{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Metadata returns the provider metadata, fetching it on first use.
// Concurrent callers on a cold cache share a single request.
func (d *DiscoveryCache) Metadata(ctx context.Context) (*ProviderMetadata, error) {
	if m := d.cached(); m != nil {
		return m, nil
	}

	// The fetch outlives any single caller's ctx; joiners share its result.
	ch := d.group.DoChan(d.url, func() (interface{}, error) {
		// Double-check after winning the flight.
		if m := d.cached(); m != nil {
			return m, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultHTTPTimeout)
		defer cancel()

		m, err := d.fetch(fetchCtx)
		d.observer.DiscoveryFetched(outcomeOf(err))
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.metadata = m
		d.mu.Unlock()

		logging.Debug("Discovery", "Cached provider metadata from %s (token endpoint %s)", d.url, m.TokenEndpoint)
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, &DiscoveryError{URL: d.url, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ProviderMetadata), nil
	}
}

// Invalidate drops the cached document so the next call refetches it.
func (d *DiscoveryCache) Invalidate() {
	d.mu.Lock()
	d.metadata = nil
	d.mu.Unlock()

	logging.Info("Discovery", "Provider metadata invalidated for %s", d.url)
}

func (d *DiscoveryCache) cached() *ProviderMetadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metadata
}

func (d *DiscoveryCache) fetch(ctx context.Context) (*ProviderMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, &DiscoveryError{URL: d.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &DiscoveryError{URL: d.url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &DiscoveryError{URL: d.url, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &DiscoveryError{URL: d.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var m ProviderMetadata
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, &DiscoveryError{URL: d.url, Err: fmt.Errorf("failed to parse document: %w", err)}
	}

	if missing := m.missingEndpoints(); len(missing) > 0 {
		return nil, &DiscoveryError{URL: d.url, Missing: missing}
	}

	return &m, nil
}

// IsDiscoveryError reports whether err came from the discovery cache.
func IsDiscoveryError(err error) bool {
	var discErr *DiscoveryError
	return errors.As(err, &discErr)
}
